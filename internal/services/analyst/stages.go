package analyst

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"helmsman/internal/domain"
	"helmsman/internal/exchange"
	"helmsman/internal/services/pipeline"
)

// Pricer is the public market-data surface the research stage needs.
type Pricer interface {
	ResolvePair(ctx context.Context, pair string) (exchange.PairInfo, error)
	Price(ctx context.Context, pair string) (decimal.Decimal, error)
}

const systemPrompt = `You are a cryptocurrency portfolio manager for a spot account.
Reply with a single JSON object and nothing else:
{"trades":[{"pair":"ETH/USD","action":"buy","allocation_fraction":0.2,"confidence_score":0.7,"reasoning":"..."}],"thesis":"..."}
Rules: action is "buy" or "sell"; allocation_fraction is the fraction of total
portfolio value in (0,1]; confidence_score is in [0.1,1.0]; an empty trades
list with a thesis means hold. Do not propose leverage or limit orders.`

// MarketStage builds the research context from public ticker data for the
// configured watchlist. Its first-pass output stays valid across refinement
// loops, so reruns skip it.
func MarketStage(pricer Pricer, watchlist []string, logger *zap.Logger) pipeline.Stage {
	if logger == nil {
		logger = zap.NewNop()
	}

	return pipeline.Stage{
		Name:         "market-context",
		SkipOnRefine: true,
		Run: func(ctx context.Context, cycle *pipeline.Cycle) error {
			var b strings.Builder
			b.WriteString("Current market prices:\n")

			for _, pair := range watchlist {
				info, err := pricer.ResolvePair(ctx, pair)
				if err != nil {
					return errors.Wrapf(err, "resolve %s", pair)
				}
				price, err := pricer.Price(ctx, info.Name)
				if err != nil {
					return errors.Wrapf(err, "price %s", pair)
				}
				fmt.Fprintf(&b, "- %s: %s (min order %s)\n", pair, price.String(), info.OrderMin.String())
			}

			cycle.Market = b.String()
			return nil
		},
		Fallback: func(cycle *pipeline.Cycle) {
			cycle.Market = "Market data is unavailable this cycle; be conservative."
		},
	}
}

// PlanStage asks the model for a trading plan, feeding back any refinement
// directives from rejected attempts. Its fallback is a hold plan: a failed
// decision stage must never invent trades.
func PlanStage(llm LLMClient, logger *zap.Logger) pipeline.Stage {
	if logger == nil {
		logger = zap.NewNop()
	}

	return pipeline.Stage{
		Name: "plan",
		Run: func(ctx context.Context, cycle *pipeline.Cycle) error {
			prompt := buildUserPrompt(cycle)

			response, err := llm.Chat(ctx, systemPrompt, prompt)
			if err != nil {
				return errors.Wrap(err, "model request")
			}

			plan, err := domain.NewTradingPlan(response)
			if err != nil {
				return errors.Wrap(err, "parse trading plan")
			}

			logger.Info("plan produced",
				zap.Int("trades", len(plan.Trades)),
				zap.String("thesis", plan.Thesis),
			)
			cycle.Plan = plan
			return nil
		},
		Fallback: func(cycle *pipeline.Cycle) {
			cycle.Plan = domain.DefensiveHoldPlan("decision stage unavailable, holding current positions")
		},
	}
}

func buildUserPrompt(cycle *pipeline.Cycle) string {
	var b strings.Builder

	b.WriteString(cycle.Market)
	fmt.Fprintf(&b, "\nTotal portfolio value: %s USD\n", cycle.Portfolio.StringFixed(2))

	if len(cycle.Directives) > 0 {
		b.WriteString("\nFeedback on your previous attempts:\n")
		for _, directive := range cycle.Directives {
			b.WriteString("- " + directive + "\n")
		}
	}

	b.WriteString("\nProduce the trading plan JSON now.")
	return b.String()
}
