package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrade_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantKind TradeKind
		wantErr  string
	}{
		{
			name:     "percentage trade",
			payload:  `{"pair":"ETH/USD","action":"sell","allocation_fraction":1.0,"confidence_score":0.9,"reasoning":"rebalance"}`,
			wantKind: TradePercentage,
		},
		{
			name:     "volume trade",
			payload:  `{"pair":"XBT/USD","action":"buy","volume":0.5}`,
			wantKind: TradeVolume,
		},
		{
			name:    "both variants populated",
			payload: `{"pair":"ETH/USD","action":"buy","allocation_fraction":0.2,"confidence_score":0.5,"volume":1.0}`,
			wantErr: "mixes percentage and volume fields",
		},
		{
			name:    "neither variant populated",
			payload: `{"pair":"ETH/USD","action":"buy"}`,
			wantErr: "neither percentage nor volume fields",
		},
		{
			name:    "allocation without confidence",
			payload: `{"pair":"ETH/USD","action":"buy","allocation_fraction":0.2}`,
			wantErr: "needs both allocation_fraction and confidence_score",
		},
		{
			name:    "allocation above one",
			payload: `{"pair":"ETH/USD","action":"buy","allocation_fraction":1.5,"confidence_score":0.5}`,
			wantErr: "allocation fraction",
		},
		{
			name:    "allocation zero",
			payload: `{"pair":"ETH/USD","action":"buy","allocation_fraction":0,"confidence_score":0.5}`,
			wantErr: "allocation fraction",
		},
		{
			name:    "confidence below floor",
			payload: `{"pair":"ETH/USD","action":"buy","allocation_fraction":0.2,"confidence_score":0.05}`,
			wantErr: "confidence score",
		},
		{
			name:    "negative volume",
			payload: `{"pair":"ETH/USD","action":"sell","volume":-1}`,
			wantErr: "must be positive",
		},
		{
			name:    "unknown action",
			payload: `{"pair":"ETH/USD","action":"short","volume":1}`,
			wantErr: "unknown trade action",
		},
		{
			name:    "missing pair",
			payload: `{"action":"buy","volume":1}`,
			wantErr: "pair is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var trade Trade
			err := json.Unmarshal([]byte(tt.payload), &trade)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, trade.Kind)
		})
	}
}

func TestTrade_MissingPair(t *testing.T) {
	var trade Trade
	err := json.Unmarshal([]byte(`{"pair":"","action":"buy","volume":1}`), &trade)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pair is required")
}

func TestTrade_MarshalRoundTrip(t *testing.T) {
	original := Trade{
		Kind:       TradePercentage,
		Pair:       "ETH/USD",
		Action:     ActionBuy,
		Allocation: decimal.NewFromFloat(0.25),
		Confidence: 0.8,
		Reasoning:  "momentum",
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "volume")

	var parsed Trade
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, TradePercentage, parsed.Kind)
	assert.True(t, parsed.Allocation.Equal(original.Allocation))
	assert.Equal(t, original.Confidence, parsed.Confidence)
}
