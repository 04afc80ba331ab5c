package pipeline

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"helmsman/internal/domain"
)

// Cycle accumulates the state one decision cycle builds up across stages.
type Cycle struct {
	ID string

	// Market holds the research context produced by upstream stages.
	Market string

	// Plan is the decision stage's output.
	Plan *domain.TradingPlan

	// Directives carries targeted refinement feedback for rerun stages.
	Directives []string

	// Portfolio is the valuation snapshot used during plan review.
	Portfolio decimal.Decimal
}

// Stage is one upstream step of the decision cycle. Run mutates the cycle;
// Fallback produces a degraded-but-valid cycle state when Run fails with a
// recoverable error.
type Stage struct {
	Name string

	// SkipOnRefine stages are not rerun during refinement loops; their
	// output from the first pass is still valid.
	SkipOnRefine bool

	Run      func(ctx context.Context, cycle *Cycle) error
	Fallback func(cycle *Cycle)
}

// Outcome records how one stage completed.
type Outcome struct {
	Stage    string
	Degraded bool
	Reason   string
}

// fatalStageMarkers are error-text fragments that identify unrecoverable
// stage failures: retrying or degrading cannot help, the cycle must stop.
var fatalStageMarkers = []string{
	"context too large",
	"invalid request",
}

func isFatalStageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range fatalStageMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
