package domain

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// StrategyDefensiveHold labels the zero-trade fallback plan synthesized when
// no valid plan could be produced within the refinement budget.
const StrategyDefensiveHold = "defensive-hold"

// TradingPlan is the upstream decision stage's output: an ordered set of
// proposed trades plus the thesis behind them. An empty trade list is a
// valid "hold" plan.
type TradingPlan struct {
	Trades   []Trade `json:"trades"`
	Thesis   string  `json:"thesis"`
	Strategy string  `json:"strategy,omitempty"`
}

// NewTradingPlan parses a plan from raw model output, tolerating fenced
// code blocks around the JSON body.
func NewTradingPlan(raw string) (*TradingPlan, error) {
	response := sanitizePlanPayload(raw)

	if !json.Valid([]byte(response)) {
		return nil, errors.New("plan is not valid JSON")
	}

	var plan TradingPlan
	if err := json.Unmarshal([]byte(response), &plan); err != nil {
		return nil, errors.Wrap(err, "unmarshal trading plan")
	}

	if strings.TrimSpace(plan.Thesis) == "" {
		return nil, errors.New("plan thesis is required")
	}

	return &plan, nil
}

func sanitizePlanPayload(raw string) string {
	response := strings.TrimSpace(raw)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	return strings.TrimSpace(response)
}

// IsHold reports whether the plan proposes no trades.
func (p *TradingPlan) IsHold() bool {
	return len(p.Trades) == 0
}

// DefensiveHoldPlan builds the safe zero-trade fallback plan.
func DefensiveHoldPlan(thesis string) *TradingPlan {
	return &TradingPlan{
		Trades:   nil,
		Thesis:   thesis,
		Strategy: StrategyDefensiveHold,
	}
}
