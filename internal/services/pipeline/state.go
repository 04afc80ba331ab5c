// Package pipeline drives one trading decision cycle as an explicit state
// machine: upstream stages with fallback, plan review, a bounded
// refine-and-retry loop, and execution of the approved plan.
package pipeline

import "fmt"

// State is the pipeline's position within one cycle.
type State int

const (
	StateIdle State = iota
	StateRunningStages
	StateReviewing
	StateRefining
	StateExecuting
	StateCompleted
	StateFailed
)

// String returns the state's label.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunningStages:
		return "running_stages"
	case StateReviewing:
		return "reviewing"
	case StateRefining:
		return "refining"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is a pipeline occurrence that moves the cycle between states.
type Event int

const (
	EventCycleStarted Event = iota
	EventPlanReady
	EventPlanApproved
	EventHoldApproved
	EventPlanRejected
	EventRefinementIssued
	EventTradesExecuted
	EventFatalError
)

// String returns the event's label.
func (e Event) String() string {
	switch e {
	case EventCycleStarted:
		return "cycle_started"
	case EventPlanReady:
		return "plan_ready"
	case EventPlanApproved:
		return "plan_approved"
	case EventHoldApproved:
		return "hold_approved"
	case EventPlanRejected:
		return "plan_rejected"
	case EventRefinementIssued:
		return "refinement_issued"
	case EventTradesExecuted:
		return "trades_executed"
	case EventFatalError:
		return "fatal_error"
	default:
		return "unknown"
	}
}

type transition struct {
	state State
	event Event
}

// transitions is the legal transition table. Refining is reachable only
// from Reviewing and always returns to the stage-running phase.
var transitions = map[transition]State{
	{StateIdle, EventCycleStarted}:         StateRunningStages,
	{StateRunningStages, EventPlanReady}:   StateReviewing,
	{StateReviewing, EventPlanApproved}:    StateExecuting,
	{StateReviewing, EventHoldApproved}:    StateCompleted,
	{StateReviewing, EventPlanRejected}:    StateRefining,
	{StateRefining, EventRefinementIssued}: StateRunningStages,
	{StateExecuting, EventTradesExecuted}:  StateCompleted,
	{StateRunningStages, EventFatalError}:  StateFailed,
	{StateReviewing, EventFatalError}:      StateFailed,
	{StateRefining, EventFatalError}:       StateFailed,
	{StateExecuting, EventFatalError}:      StateFailed,
}

// Next advances the state machine. An illegal transition is a programming
// error, not an input condition, and panics.
func Next(state State, event Event) State {
	next, ok := transitions[transition{state, event}]
	if !ok {
		panic(fmt.Sprintf("illegal pipeline transition: %s on %s", event, state))
	}
	return next
}
