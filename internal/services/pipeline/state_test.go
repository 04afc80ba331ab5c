package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNext_LegalTransitions(t *testing.T) {
	tests := []struct {
		name  string
		state State
		event Event
		want  State
	}{
		{"cycle start", StateIdle, EventCycleStarted, StateRunningStages},
		{"stages produced a plan", StateRunningStages, EventPlanReady, StateReviewing},
		{"plan approved", StateReviewing, EventPlanApproved, StateExecuting},
		{"hold approved", StateReviewing, EventHoldApproved, StateCompleted},
		{"plan rejected", StateReviewing, EventPlanRejected, StateRefining},
		{"refinement loops back", StateRefining, EventRefinementIssued, StateRunningStages},
		{"trades executed", StateExecuting, EventTradesExecuted, StateCompleted},
		{"fatal during stages", StateRunningStages, EventFatalError, StateFailed},
		{"fatal during review", StateReviewing, EventFatalError, StateFailed},
		{"fatal during execution", StateExecuting, EventFatalError, StateFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Next(tt.state, tt.event))
		})
	}
}

func TestNext_IllegalTransitionPanics(t *testing.T) {
	tests := []struct {
		name  string
		state State
		event Event
	}{
		{"execute from idle", StateIdle, EventPlanApproved},
		{"completed is terminal", StateCompleted, EventCycleStarted},
		{"failed is terminal", StateFailed, EventCycleStarted},
		{"approve while executing", StateExecuting, EventPlanApproved},
		{"reject outside review", StateRunningStages, EventPlanRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Panics(t, func() { Next(tt.state, tt.event) })
		})
	}
}
