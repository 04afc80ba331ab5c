package analyst

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"helmsman/internal/exchange"
	"helmsman/internal/services/pipeline"
)

type stubPricer struct {
	prices map[string]decimal.Decimal
	err    error
}

func (s *stubPricer) ResolvePair(_ context.Context, pair string) (exchange.PairInfo, error) {
	if s.err != nil {
		return exchange.PairInfo{}, s.err
	}
	return exchange.PairInfo{
		Name:     pair,
		OrderMin: decimal.RequireFromString("0.002"),
	}, nil
}

func (s *stubPricer) Price(_ context.Context, pair string) (decimal.Decimal, error) {
	if s.err != nil {
		return decimal.Zero, s.err
	}
	price, ok := s.prices[pair]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for pair %s", pair)
	}
	return price, nil
}

type stubLLM struct {
	response string
	err      error
	prompts  []string
}

func (s *stubLLM) Chat(_ context.Context, _, userPrompt string) (string, error) {
	s.prompts = append(s.prompts, userPrompt)
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func TestMarketStage(t *testing.T) {
	pricer := &stubPricer{prices: map[string]decimal.Decimal{
		"BTC/USD": decimal.NewFromInt(100000),
		"ETH/USD": decimal.NewFromInt(4000),
	}}
	stage := MarketStage(pricer, []string{"BTC/USD", "ETH/USD"}, zap.NewNop())

	assert.True(t, stage.SkipOnRefine, "market context survives refinement loops")

	cycle := &pipeline.Cycle{}
	require.NoError(t, stage.Run(context.Background(), cycle))
	assert.Contains(t, cycle.Market, "BTC/USD: 100000")
	assert.Contains(t, cycle.Market, "ETH/USD: 4000")
	assert.Contains(t, cycle.Market, "min order 0.002")
}

func TestMarketStage_ErrorAndFallback(t *testing.T) {
	pricer := &stubPricer{err: fmt.Errorf("ticker unavailable")}
	stage := MarketStage(pricer, []string{"BTC/USD"}, zap.NewNop())

	cycle := &pipeline.Cycle{}
	require.Error(t, stage.Run(context.Background(), cycle))

	stage.Fallback(cycle)
	assert.Contains(t, cycle.Market, "unavailable")
}

func TestPlanStage(t *testing.T) {
	llm := &stubLLM{response: `{"trades":[{"pair":"ETH/USD","action":"buy","allocation_fraction":0.2,"confidence_score":0.7,"reasoning":"dip"}],"thesis":"accumulate"}`}
	stage := PlanStage(llm, zap.NewNop())

	cycle := &pipeline.Cycle{
		Market:    "Current market prices:\n- ETH/USD: 4000\n",
		Portfolio: decimal.NewFromInt(1000),
	}
	require.NoError(t, stage.Run(context.Background(), cycle))

	require.NotNil(t, cycle.Plan)
	require.Len(t, cycle.Plan.Trades, 1)
	assert.Equal(t, "accumulate", cycle.Plan.Thesis)

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "ETH/USD: 4000")
	assert.Contains(t, llm.prompts[0], "1000.00 USD")
}

func TestPlanStage_DirectivesReachThePrompt(t *testing.T) {
	llm := &stubLLM{response: `{"trades":[],"thesis":"hold after feedback"}`}
	stage := PlanStage(llm, zap.NewNop())

	cycle := &pipeline.Cycle{
		Directives: []string{"previous plan rejected: allocation too large"},
	}
	require.NoError(t, stage.Run(context.Background(), cycle))

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "allocation too large")
}

func TestPlanStage_UnparseableResponse(t *testing.T) {
	llm := &stubLLM{response: "I think you should buy ETH."}
	stage := PlanStage(llm, zap.NewNop())

	cycle := &pipeline.Cycle{}
	require.Error(t, stage.Run(context.Background(), cycle))
	assert.Nil(t, cycle.Plan)
}

func TestPlanStage_FallbackHolds(t *testing.T) {
	stage := PlanStage(&stubLLM{err: fmt.Errorf("model down")}, zap.NewNop())

	cycle := &pipeline.Cycle{}
	require.Error(t, stage.Run(context.Background(), cycle))

	stage.Fallback(cycle)
	require.NotNil(t, cycle.Plan)
	assert.True(t, cycle.Plan.IsHold())
}
