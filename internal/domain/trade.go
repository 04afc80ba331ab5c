// Package domain defines core data structures used throughout the trading agent.
package domain

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Action buy or sell side of a trade.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// Valid reports whether the action is one of the known sides.
func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell
}

// TradeKind discriminates the two trade variants.
type TradeKind int

const (
	// TradePercentage sizes the order as a fraction of total portfolio value.
	TradePercentage TradeKind = iota + 1
	// TradeVolume carries an explicit base-asset volume.
	TradeVolume
)

const (
	minConfidence = 0.1
	maxConfidence = 1.0
)

// Trade is a single proposed order. Exactly one variant is populated,
// decided when the trade is parsed.
type Trade struct {
	Kind   TradeKind
	Pair   string
	Action Action

	// percentage variant
	Allocation decimal.Decimal
	Confidence float64
	Reasoning  string

	// volume variant
	Volume decimal.Decimal
}

// tradePayload mirrors the wire shape with both optional key sets present.
type tradePayload struct {
	Pair       string   `json:"pair"`
	Action     string   `json:"action"`
	Allocation *float64 `json:"allocation_fraction,omitempty"`
	Confidence *float64 `json:"confidence_score,omitempty"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Volume     *float64 `json:"volume,omitempty"`
}

// UnmarshalJSON decides the trade variant from the present keys and rejects
// payloads that mix both shapes or carry neither.
func (t *Trade) UnmarshalJSON(data []byte) error {
	var raw tradePayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "unmarshal trade")
	}

	parsed, err := tradeFromPayload(raw)
	if err != nil {
		return err
	}

	*t = parsed
	return nil
}

// MarshalJSON emits only the populated variant's keys.
func (t Trade) MarshalJSON() ([]byte, error) {
	raw := tradePayload{
		Pair:   t.Pair,
		Action: string(t.Action),
	}

	switch t.Kind {
	case TradePercentage:
		alloc, _ := t.Allocation.Float64()
		raw.Allocation = &alloc
		raw.Confidence = &t.Confidence
		raw.Reasoning = t.Reasoning
	case TradeVolume:
		vol, _ := t.Volume.Float64()
		raw.Volume = &vol
	default:
		return nil, fmt.Errorf("trade for %s has no variant set", t.Pair)
	}

	return json.Marshal(raw)
}

func tradeFromPayload(raw tradePayload) (Trade, error) {
	trade := Trade{
		Pair:   raw.Pair,
		Action: Action(raw.Action),
	}

	percentageShape := raw.Allocation != nil || raw.Confidence != nil
	volumeShape := raw.Volume != nil

	switch {
	case percentageShape && volumeShape:
		return Trade{}, fmt.Errorf("trade for %s mixes percentage and volume fields", raw.Pair)
	case percentageShape:
		if raw.Allocation == nil || raw.Confidence == nil {
			return Trade{}, fmt.Errorf("percentage trade for %s needs both allocation_fraction and confidence_score", raw.Pair)
		}
		trade.Kind = TradePercentage
		trade.Allocation = decimal.NewFromFloat(*raw.Allocation)
		trade.Confidence = *raw.Confidence
		trade.Reasoning = raw.Reasoning
	case volumeShape:
		trade.Kind = TradeVolume
		trade.Volume = decimal.NewFromFloat(*raw.Volume)
	default:
		return Trade{}, fmt.Errorf("trade for %s carries neither percentage nor volume fields", raw.Pair)
	}

	if err := trade.Validate(); err != nil {
		return Trade{}, err
	}

	return trade, nil
}

// Validate checks the populated variant's bounds.
func (t *Trade) Validate() error {
	if t.Pair == "" {
		return errors.New("trade pair is required")
	}
	if !t.Action.Valid() {
		return fmt.Errorf("unknown trade action %q", t.Action)
	}

	switch t.Kind {
	case TradePercentage:
		if t.Allocation.LessThanOrEqual(decimal.Zero) || t.Allocation.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("allocation fraction %s out of (0,1]", t.Allocation.String())
		}
		if t.Confidence < minConfidence || t.Confidence > maxConfidence {
			return fmt.Errorf("confidence score %.2f out of [%.1f,%.1f]", t.Confidence, minConfidence, maxConfidence)
		}
	case TradeVolume:
		if t.Volume.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("trade volume %s must be positive", t.Volume.String())
		}
	default:
		return fmt.Errorf("trade for %s has no variant set", t.Pair)
	}

	return nil
}

// String returns a human-readable representation.
func (t *Trade) String() string {
	switch t.Kind {
	case TradePercentage:
		return fmt.Sprintf("%s %s %s%% of portfolio", t.Action, t.Pair, t.Allocation.Mul(decimal.NewFromInt(100)).StringFixed(1))
	case TradeVolume:
		return fmt.Sprintf("%s %s volume %s", t.Action, t.Pair, t.Volume.String())
	default:
		return fmt.Sprintf("%s %s (unset variant)", t.Action, t.Pair)
	}
}
