package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"helmsman/internal/domain"
)

// DefaultMaxRefinementLoops bounds the refine-and-retry loop.
const DefaultMaxRefinementLoops = 2

// ErrCycleInProgress is returned when a trigger arrives while a cycle is
// already running. The trigger is dropped, not queued.
var ErrCycleInProgress = errors.New("pipeline cycle already in progress")

// TradeExecutor executes approved plans.
type TradeExecutor interface {
	ExecuteTrades(ctx context.Context, plan *domain.TradingPlan) ([]domain.ExecutionResult, error)
	PortfolioValue(ctx context.Context) (decimal.Decimal, error)
}

// Store persists completed cycle outcomes.
type Store interface {
	Save(event domain.CycleEvent) error
}

// CycleResult is the caller-visible outcome of one RunCycle call.
type CycleResult struct {
	ID          string
	State       State
	Plan        *domain.TradingPlan
	Approved    bool
	Reason      string
	Refinements int
	Outcomes    []Outcome
	Results     []domain.ExecutionResult
}

// Orchestrator drives one trading cycle at a time through its stages with
// per-stage fallback, bounded refinement and a circuit breaker.
type Orchestrator struct {
	stages    []Stage
	validator *Validator
	executor  TradeExecutor
	store     Store
	maxLoops  int
	logger    *zap.Logger

	running atomic.Bool
}

// NewOrchestrator wires the pipeline. maxRefinementLoops <= 0 selects the
// default bound.
func NewOrchestrator(stages []Stage, validator *Validator, executor TradeExecutor, store Store, maxRefinementLoops int, logger *zap.Logger) *Orchestrator {
	if maxRefinementLoops <= 0 {
		maxRefinementLoops = DefaultMaxRefinementLoops
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		stages:    stages,
		validator: validator,
		executor:  executor,
		store:     store,
		maxLoops:  maxRefinementLoops,
		logger:    logger,
	}
}

// Running reports whether a cycle is currently in flight.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// RunCycle executes one full decision cycle. Only one cycle may run per
// process; a concurrent trigger gets ErrCycleInProgress.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !o.running.CompareAndSwap(false, true) {
		o.logger.Warn("cycle trigger dropped, another cycle is running")
		return nil, ErrCycleInProgress
	}
	defer o.running.Store(false)

	started := time.Now().UTC()
	cycle := &Cycle{ID: uuid.NewString()}
	result := &CycleResult{ID: cycle.ID}
	state := Next(StateIdle, EventCycleStarted)

	o.logger.Info("cycle started", zap.String("cycle", cycle.ID))

	fail := func(err error) (*CycleResult, error) {
		state = Next(state, EventFatalError)
		result.State = state
		result.Plan = cycle.Plan
		o.record(started, cycle, result, err)
		o.logger.Error("cycle failed", zap.String("cycle", cycle.ID), zap.Error(err))
		return result, err
	}

	if portfolio, err := o.executor.PortfolioValue(ctx); err == nil {
		cycle.Portfolio = portfolio
	} else {
		o.logger.Warn("portfolio valuation unavailable for stages", zap.Error(err))
	}

	if err := o.runStages(ctx, cycle, result, false); err != nil {
		return fail(err)
	}
	if cycle.Plan == nil {
		return fail(errors.New("stages produced no trading plan"))
	}

	var decision ApprovalDecision
	for {
		state = Next(state, EventPlanReady)

		portfolio, err := o.executor.PortfolioValue(ctx)
		if err != nil {
			return fail(errors.Wrap(err, "portfolio valuation for review"))
		}
		cycle.Portfolio = portfolio

		validation := o.validator.ValidatePlan(ctx, cycle.Plan, portfolio)
		decision = DecideApproval(validation, cycle.Plan)
		if decision.Approved {
			break
		}

		if ShouldRefine(decision, validation) && result.Refinements < o.maxLoops {
			result.Refinements++
			state = Next(state, EventPlanRejected)

			directive := RefinementDirective(validation, decision)
			cycle.Directives = append(cycle.Directives, directive)
			o.logger.Info("refining rejected plan",
				zap.String("cycle", cycle.ID),
				zap.Int("attempt", result.Refinements),
				zap.String("directive", directive),
			)

			state = Next(state, EventRefinementIssued)
			if err := o.runStages(ctx, cycle, result, true); err != nil {
				return fail(err)
			}
			if cycle.Plan == nil {
				return fail(errors.New("refinement produced no trading plan"))
			}
			continue
		}

		// refinement budget exhausted or unrecoverable rejection: degrade to
		// a zero-trade plan so the cycle still completes and preserves capital
		o.logger.Warn("falling back to defensive hold",
			zap.String("cycle", cycle.ID),
			zap.String("reason", decision.Reason),
		)
		cycle.Plan = domain.DefensiveHoldPlan("no executable plan within the refinement budget: " + decision.Reason)
		decision = ApprovalDecision{Approved: true, Reason: "defensive hold after exhausted refinement"}
		break
	}

	result.Approved = decision.Approved
	result.Reason = decision.Reason
	result.Plan = cycle.Plan

	if cycle.Plan.IsHold() {
		state = Next(state, EventHoldApproved)
		result.State = state
		o.record(started, cycle, result, nil)
		o.logger.Info("cycle completed with hold", zap.String("cycle", cycle.ID), zap.String("reason", decision.Reason))
		return result, nil
	}

	state = Next(state, EventPlanApproved)
	outcomes, err := o.executor.ExecuteTrades(ctx, cycle.Plan)
	if err != nil {
		return fail(errors.Wrap(err, "execute trades"))
	}
	result.Results = outcomes

	state = Next(state, EventTradesExecuted)
	result.State = state
	o.record(started, cycle, result, nil)

	o.logger.Info("cycle completed",
		zap.String("cycle", cycle.ID),
		zap.Int("trades", len(outcomes)),
		zap.Int("refinements", result.Refinements),
	)
	return result, nil
}

// runStages drives the upstream stages through the fallback wrapper. On a
// refinement pass, stages whose first-pass output is still valid are
// skipped.
func (o *Orchestrator) runStages(ctx context.Context, cycle *Cycle, result *CycleResult, refining bool) error {
	for _, stage := range o.stages {
		if refining && stage.SkipOnRefine {
			continue
		}

		outcome, err := o.runStage(ctx, stage, cycle)
		if err != nil {
			return err
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}
	return nil
}

// runStage applies the fallback wrapper: fatal errors circuit-break the
// cycle, anything else degrades to the stage's fallback result.
func (o *Orchestrator) runStage(ctx context.Context, stage Stage, cycle *Cycle) (Outcome, error) {
	err := stage.Run(ctx, cycle)
	if err == nil {
		return Outcome{Stage: stage.Name}, nil
	}

	if isFatalStageError(err) || stage.Fallback == nil {
		return Outcome{}, errors.Wrapf(err, "stage %s", stage.Name)
	}

	o.logger.Warn("stage degraded to fallback",
		zap.String("cycle", cycle.ID),
		zap.String("stage", stage.Name),
		zap.Error(err),
	)
	stage.Fallback(cycle)

	return Outcome{Stage: stage.Name, Degraded: true, Reason: err.Error()}, nil
}

func (o *Orchestrator) record(started time.Time, cycle *Cycle, result *CycleResult, cycleErr error) {
	if o.store == nil {
		return
	}

	event := domain.CycleEvent{
		ID:             cycle.ID,
		StartedAt:      started,
		FinishedAt:     time.Now().UTC(),
		State:          result.State.String(),
		Approved:       result.Approved,
		ApprovalReason: result.Reason,
		Refinements:    result.Refinements,
		Plan:           result.Plan,
		Results:        result.Results,
	}
	for _, outcome := range result.Outcomes {
		if outcome.Degraded {
			event.Degradations = append(event.Degradations, outcome.Stage+": "+outcome.Reason)
		}
	}
	if cycleErr != nil {
		event.Error = cycleErr.Error()
	}

	if err := o.store.Save(event); err != nil {
		o.logger.Error("failed to persist cycle event", zap.String("cycle", cycle.ID), zap.Error(err))
	}
}
