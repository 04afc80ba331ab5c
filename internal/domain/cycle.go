package domain

import (
	"time"
)

// CycleEvent is the persisted outcome of one pipeline cycle.
type CycleEvent struct {
	ID             string            `json:"id"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
	State          string            `json:"state"`
	Approved       bool              `json:"approved"`
	ApprovalReason string            `json:"approval_reason,omitempty"`
	Refinements    int               `json:"refinements"`
	Degradations   []string          `json:"degradations,omitempty"`
	Plan           *TradingPlan      `json:"plan,omitempty"`
	Results        []ExecutionResult `json:"results,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// CycleEventRecord bundles a cycle event with its WAL index.
type CycleEventRecord struct {
	Index uint64
	Event CycleEvent
}
