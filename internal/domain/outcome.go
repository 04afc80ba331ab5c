package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationKind classifies the result of pre-execution trade validation.
type ValidationKind int

const (
	ValidationValid ValidationKind = iota
	ValidationInvalidFormat
	ValidationInsufficientBalance
	ValidationVolumeTooSmall
	ValidationRejectedByExchange
)

// String returns the kind's wire label.
func (k ValidationKind) String() string {
	switch k {
	case ValidationValid:
		return "valid"
	case ValidationInvalidFormat:
		return "invalid_format"
	case ValidationInsufficientBalance:
		return "insufficient_balance"
	case ValidationVolumeTooSmall:
		return "volume_too_small"
	case ValidationRejectedByExchange:
		return "rejected_by_exchange"
	default:
		return "unknown"
	}
}

// ValidationOutcome is the per-trade result of the validation phase, carrying
// the canonical pair name and the resolved volume when validation succeeded.
type ValidationOutcome struct {
	Kind   ValidationKind
	Pair   string
	Volume decimal.Decimal
	Reason string
}

// OK reports whether the trade may proceed to execution.
func (o ValidationOutcome) OK() bool {
	return o.Kind == ValidationValid
}

// ExecutionStatus classifies the per-trade result of live execution.
type ExecutionStatus int

const (
	ExecutionSuccess ExecutionStatus = iota
	ExecutionFailed
	ExecutionSkipped
)

// String returns the status's wire label.
func (s ExecutionStatus) String() string {
	switch s {
	case ExecutionSuccess:
		return "success"
	case ExecutionFailed:
		return "failed"
	case ExecutionSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ExecutionResult is the per-trade outcome of one execution batch. Failures
// are collected here rather than raised so a mixed batch is fully reported.
type ExecutionResult struct {
	Status ExecutionStatus `json:"status"`
	Pair   string          `json:"pair"`
	Action Action          `json:"action"`
	Volume decimal.Decimal `json:"volume"`
	TxID   string          `json:"txid,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// String returns a human-readable representation.
func (r ExecutionResult) String() string {
	switch r.Status {
	case ExecutionSuccess:
		return fmt.Sprintf("%s %s %s: %s", r.Action, r.Volume.String(), r.Pair, r.TxID)
	default:
		return fmt.Sprintf("%s %s: %s (%s)", r.Action, r.Pair, r.Status, r.Reason)
	}
}
