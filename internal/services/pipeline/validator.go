package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"helmsman/internal/domain"
)

// IssueKind classifies one plan validation problem. The refine/no-refine
// decision keys on these kinds, not on error text.
type IssueKind int

const (
	IssueMissingField IssueKind = iota
	IssueAllocationBounds
	IssueConfidenceBounds
	IssueVolumeBelowMinimum
)

// String returns the kind's label.
func (k IssueKind) String() string {
	switch k {
	case IssueMissingField:
		return "missing_field"
	case IssueAllocationBounds:
		return "allocation_out_of_bounds"
	case IssueConfidenceBounds:
		return "confidence_out_of_bounds"
	case IssueVolumeBelowMinimum:
		return "volume_below_minimum"
	default:
		return "unknown"
	}
}

// Issue is one hard validation problem with a plan.
type Issue struct {
	Kind    IssueKind
	Pair    string
	Message string
}

// ValidationResult is the outcome of reviewing one plan.
type ValidationResult struct {
	Passed       bool
	Issues       []Issue
	Warnings     []string
	QualityScore float64
	RiskLevel    string
}

// ApprovalDecision says whether the reviewed plan may execute.
type ApprovalDecision struct {
	Approved bool
	Reason   string
}

// Risk levels assigned during review.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Approval thresholds: plans scoring below qualityFloor are rejected, and
// high-risk plans must clear the stricter highRiskQualityFloor.
const (
	qualityFloor         = 0.3
	highRiskQualityFloor = 0.8
)

// TradeChecker runs the pre-execution dry volume check for one trade.
type TradeChecker interface {
	CheckTrade(ctx context.Context, trade domain.Trade, portfolio decimal.Decimal) domain.ValidationOutcome
}

// Validator reviews trading plans before execution. Allocation caps depend
// on portfolio size: small accounts may concentrate, larger ones may not.
type Validator struct {
	checker                 TradeChecker
	smallPortfolioThreshold decimal.Decimal
	smallPortfolioCap       decimal.Decimal
	largePortfolioCap       decimal.Decimal
	logger                  *zap.Logger
}

// NewValidator builds a validator with the given allocation policy.
func NewValidator(checker TradeChecker, smallPortfolioThreshold, smallPortfolioCap, largePortfolioCap decimal.Decimal, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		checker:                 checker,
		smallPortfolioThreshold: smallPortfolioThreshold,
		smallPortfolioCap:       smallPortfolioCap,
		largePortfolioCap:       largePortfolioCap,
		logger:                  logger,
	}
}

// ValidatePlan reviews the plan against structural rules, allocation and
// confidence bounds, and the exchange's minimum-size rules.
func (v *Validator) ValidatePlan(ctx context.Context, plan *domain.TradingPlan, portfolio decimal.Decimal) ValidationResult {
	result := ValidationResult{RiskLevel: RiskLow}

	if plan == nil {
		result.Issues = append(result.Issues, Issue{Kind: IssueMissingField, Message: "plan is missing"})
		result.QualityScore = 0
		return result
	}

	if strings.TrimSpace(plan.Thesis) == "" {
		result.Issues = append(result.Issues, Issue{Kind: IssueMissingField, Message: "plan thesis is empty"})
	}

	allocationCap := v.largePortfolioCap
	if portfolio.LessThan(v.smallPortfolioThreshold) {
		allocationCap = v.smallPortfolioCap
	}

	maxAllocation := decimal.Zero
	for i := range plan.Trades {
		trade := &plan.Trades[i]

		if err := trade.Validate(); err != nil {
			result.Issues = append(result.Issues, Issue{
				Kind:    issueKindFromFormatError(trade),
				Pair:    trade.Pair,
				Message: err.Error(),
			})
			continue
		}

		if trade.Kind == domain.TradePercentage {
			if trade.Allocation.GreaterThan(maxAllocation) {
				maxAllocation = trade.Allocation
			}
			if trade.Allocation.GreaterThan(allocationCap) {
				result.Issues = append(result.Issues, Issue{
					Kind: IssueAllocationBounds,
					Pair: trade.Pair,
					Message: fmt.Sprintf("allocation %s exceeds cap %s for portfolio %s",
						trade.Allocation.String(), allocationCap.String(), portfolio.StringFixed(2)),
				})
			}
		}

		outcome := v.checker.CheckTrade(ctx, *trade, portfolio)
		switch outcome.Kind {
		case domain.ValidationValid:
		case domain.ValidationVolumeTooSmall:
			result.Issues = append(result.Issues, Issue{
				Kind:    IssueVolumeBelowMinimum,
				Pair:    trade.Pair,
				Message: outcome.Reason,
			})
		case domain.ValidationInvalidFormat:
			result.Issues = append(result.Issues, Issue{
				Kind:    IssueMissingField,
				Pair:    trade.Pair,
				Message: outcome.Reason,
			})
		default:
			// the dry check could not reach a verdict; execution will recheck
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %s", trade.Pair, outcome.Reason))
		}
	}

	result.RiskLevel = riskLevel(maxAllocation)
	result.QualityScore = qualityScore(len(result.Issues), len(result.Warnings))
	result.Passed = len(result.Issues) == 0

	v.logger.Debug("plan reviewed",
		zap.Bool("passed", result.Passed),
		zap.Int("issues", len(result.Issues)),
		zap.Int("warnings", len(result.Warnings)),
		zap.Float64("quality", result.QualityScore),
		zap.String("risk", result.RiskLevel),
	)

	return result
}

// issueKindFromFormatError narrows a trade format error to the closest
// structured kind.
func issueKindFromFormatError(trade *domain.Trade) IssueKind {
	if trade.Kind == domain.TradePercentage {
		one := decimal.NewFromInt(1)
		if trade.Allocation.LessThanOrEqual(decimal.Zero) || trade.Allocation.GreaterThan(one) {
			return IssueAllocationBounds
		}
		if trade.Confidence < 0.1 || trade.Confidence > 1.0 {
			return IssueConfidenceBounds
		}
	}
	return IssueMissingField
}

func riskLevel(maxAllocation decimal.Decimal) string {
	switch {
	case maxAllocation.GreaterThan(decimal.NewFromFloat(0.7)):
		return RiskHigh
	case maxAllocation.GreaterThan(decimal.NewFromFloat(0.4)):
		return RiskMedium
	default:
		return RiskLow
	}
}

// qualityScore is a deterministic penalty score: hard issues cost far more
// than warnings.
func qualityScore(issues, warnings int) float64 {
	score := 1.0 - 0.25*float64(issues) - 0.05*float64(warnings)
	if score < 0 {
		return 0
	}
	return score
}

// DecideApproval applies the approval policy to a reviewed plan. A hold
// plan is approved as-is; it never reaches the executor.
func DecideApproval(validation ValidationResult, plan *domain.TradingPlan) ApprovalDecision {
	if plan != nil && plan.IsHold() {
		return ApprovalDecision{Approved: true, Reason: "hold plan, nothing to execute"}
	}

	if !validation.Passed {
		reasons := make([]string, 0, len(validation.Issues))
		for _, issue := range validation.Issues {
			reasons = append(reasons, issue.Message)
		}
		return ApprovalDecision{Approved: false, Reason: strings.Join(reasons, "; ")}
	}

	if validation.QualityScore < qualityFloor {
		return ApprovalDecision{
			Approved: false,
			Reason:   fmt.Sprintf("quality score %.2f below %.2f", validation.QualityScore, qualityFloor),
		}
	}

	if validation.RiskLevel == RiskHigh && validation.QualityScore < highRiskQualityFloor {
		return ApprovalDecision{
			Approved: false,
			Reason:   fmt.Sprintf("high risk plan needs quality %.2f, got %.2f", highRiskQualityFloor, validation.QualityScore),
		}
	}

	return ApprovalDecision{Approved: true, Reason: "plan passed review"}
}

// ShouldRefine says whether a rejection is worth a refinement attempt.
// Structurally invalid plans (missing fields) are never refined: the input
// is unfixable and looping on it cannot terminate usefully. Size problems
// and quality/risk rejections are recoverable: the model can pick a
// different asset or allocation.
func ShouldRefine(decision ApprovalDecision, validation ValidationResult) bool {
	if decision.Approved {
		return false
	}

	recoverable := false
	for _, issue := range validation.Issues {
		switch issue.Kind {
		case IssueMissingField:
			return false
		case IssueVolumeBelowMinimum, IssueAllocationBounds, IssueConfidenceBounds:
			recoverable = true
		}
	}

	// no hard issues means the rejection was quality- or risk-based
	return recoverable || len(validation.Issues) == 0
}

// RefinementDirective builds the targeted feedback handed back to the
// decision stage for the next attempt.
func RefinementDirective(validation ValidationResult, decision ApprovalDecision) string {
	for _, issue := range validation.Issues {
		switch issue.Kind {
		case IssueVolumeBelowMinimum:
			return fmt.Sprintf("previous plan rejected: trade for %s was below the exchange minimum (%s); propose a different asset or a larger allocation", issue.Pair, issue.Message)
		case IssueAllocationBounds:
			return fmt.Sprintf("previous plan rejected: %s; reduce the allocation for %s", issue.Message, issue.Pair)
		case IssueConfidenceBounds:
			return fmt.Sprintf("previous plan rejected: %s; report confidence between 0.1 and 1.0", issue.Message)
		}
	}
	return "previous plan rejected: " + decision.Reason + "; propose a safer, higher-conviction plan"
}
