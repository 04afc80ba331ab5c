// Package executor converts an approved trading plan into exchange orders
// with a validate-then-commit discipline: every trade in a phase is dry-run
// checked before any trade in that phase goes live.
package executor

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"helmsman/internal/domain"
	"helmsman/internal/exchange"
)

// Exchange is the client surface the executor needs.
type Exchange interface {
	ResolvePair(ctx context.Context, pair string) (exchange.PairInfo, error)
	Balances(ctx context.Context) (map[string]decimal.Decimal, error)
	PortfolioValue(ctx context.Context, quoteAsset string) (decimal.Decimal, error)
	Price(ctx context.Context, pair string) (decimal.Decimal, error)
	AddOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderReceipt, error)
	WaitForOrder(ctx context.Context, txid string) (string, error)
}

// Executor turns approved plans into live orders. Partial execution of a
// batch is an accepted outcome: per-trade failures are collected, never
// raised, so the caller always sees the whole picture.
type Executor struct {
	exchange   Exchange
	quoteAsset string
	tolerance  decimal.Decimal
	logger     *zap.Logger
}

// New builds an executor. tolerance is the relative sell-balance
// reconciliation bound (e.g. 0.01 for 1%).
func New(ex Exchange, quoteAsset string, tolerance decimal.Decimal, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		exchange:   ex,
		quoteAsset: quoteAsset,
		tolerance:  tolerance,
		logger:     logger,
	}
}

// snapshot pins one portfolio valuation and one balance read for a whole
// validation pass, so freed capital from pending sells is never counted
// twice. Prices are cached per pair within the pass.
type snapshot struct {
	portfolio decimal.Decimal
	balances  map[string]decimal.Decimal
	prices    map[string]decimal.Decimal
}

// ExecuteTrades runs the plan's trades through validation and execution.
// All sells are processed before any buy, since sells free the capital buys
// may depend on. The returned error covers only snapshot-level failures;
// per-trade outcomes are in the result list.
func (e *Executor) ExecuteTrades(ctx context.Context, plan *domain.TradingPlan) ([]domain.ExecutionResult, error) {
	if plan == nil || plan.IsHold() {
		return nil, nil
	}

	portfolio, err := e.exchange.PortfolioValue(ctx, e.quoteAsset)
	if err != nil {
		return nil, err
	}
	balances, err := e.exchange.Balances(ctx)
	if err != nil {
		return nil, err
	}

	snap := &snapshot{
		portfolio: portfolio,
		balances:  balances,
		prices:    make(map[string]decimal.Decimal),
	}

	var sells, buys []domain.Trade
	for _, trade := range plan.Trades {
		if trade.Action == domain.ActionSell {
			sells = append(sells, trade)
		} else {
			buys = append(buys, trade)
		}
	}

	results := e.executePhase(ctx, sells, snap)
	results = append(results, e.executePhase(ctx, buys, snap)...)
	return results, nil
}

type candidate struct {
	trade   domain.Trade
	outcome domain.ValidationOutcome
}

// executePhase dry-run-validates every trade in the phase, then submits the
// live orders for the ones that passed. A rejected or failed trade never
// blocks its siblings.
func (e *Executor) executePhase(ctx context.Context, trades []domain.Trade, snap *snapshot) []domain.ExecutionResult {
	if len(trades) == 0 {
		return nil
	}

	candidates := make([]candidate, 0, len(trades))
	for _, trade := range trades {
		candidates = append(candidates, candidate{
			trade:   trade,
			outcome: e.resolveTrade(ctx, trade, snap),
		})
	}

	// phase one: validate-only orders for everything that passed local checks
	for i := range candidates {
		cand := &candidates[i]
		if !cand.outcome.OK() {
			continue
		}

		_, err := e.exchange.AddOrder(ctx, exchange.OrderRequest{
			Pair:     cand.outcome.Pair,
			Side:     string(cand.trade.Action),
			Volume:   cand.outcome.Volume,
			Validate: true,
		})
		if err != nil {
			cand.outcome = domain.ValidationOutcome{
				Kind:   domain.ValidationRejectedByExchange,
				Pair:   cand.outcome.Pair,
				Volume: cand.outcome.Volume,
				Reason: err.Error(),
			}
			e.logger.Warn("dry run rejected",
				zap.String("pair", cand.outcome.Pair),
				zap.String("action", string(cand.trade.Action)),
				zap.Error(err),
			)
		}
	}

	// phase two: live orders for the validated remainder
	results := make([]domain.ExecutionResult, 0, len(candidates))
	for _, cand := range candidates {
		if !cand.outcome.OK() {
			results = append(results, domain.ExecutionResult{
				Status: domain.ExecutionSkipped,
				Pair:   firstNonEmpty(cand.outcome.Pair, cand.trade.Pair),
				Action: cand.trade.Action,
				Volume: cand.outcome.Volume,
				Reason: fmt.Sprintf("%s: %s", cand.outcome.Kind, cand.outcome.Reason),
			})
			continue
		}

		results = append(results, e.submit(ctx, cand))
	}
	return results
}

func (e *Executor) submit(ctx context.Context, cand candidate) domain.ExecutionResult {
	receipt, err := e.exchange.AddOrder(ctx, exchange.OrderRequest{
		Pair:   cand.outcome.Pair,
		Side:   string(cand.trade.Action),
		Volume: cand.outcome.Volume,
	})
	if err != nil {
		e.logger.Error("order execution failed",
			zap.String("pair", cand.outcome.Pair),
			zap.String("action", string(cand.trade.Action)),
			zap.Error(err),
		)
		return domain.ExecutionResult{
			Status: domain.ExecutionFailed,
			Pair:   cand.outcome.Pair,
			Action: cand.trade.Action,
			Volume: cand.outcome.Volume,
			Reason: err.Error(),
		}
	}

	txid := ""
	if len(receipt.TxIDs) > 0 {
		txid = receipt.TxIDs[0]

		status, waitErr := e.exchange.WaitForOrder(ctx, txid)
		if waitErr != nil {
			e.logger.Warn("order status wait failed", zap.String("txid", txid), zap.Error(waitErr))
		}
		e.logger.Info("order submitted",
			zap.String("pair", cand.outcome.Pair),
			zap.String("action", string(cand.trade.Action)),
			zap.String("volume", cand.outcome.Volume.String()),
			zap.String("txid", txid),
			zap.String("status", status),
		)
	}

	return domain.ExecutionResult{
		Status: domain.ExecutionSuccess,
		Pair:   cand.outcome.Pair,
		Action: cand.trade.Action,
		Volume: cand.outcome.Volume,
		TxID:   txid,
	}
}

// resolveTrade runs every pre-exchange check for one trade: format, pair
// normalization, allocation-to-volume conversion, sell-balance
// reconciliation and minimum-size rules. Balance reconciliation happens
// before the size bounds so a clamped sell volume is still held to the
// exchange minimums.
func (e *Executor) resolveTrade(ctx context.Context, trade domain.Trade, snap *snapshot) domain.ValidationOutcome {
	if err := trade.Validate(); err != nil {
		return domain.ValidationOutcome{Kind: domain.ValidationInvalidFormat, Reason: err.Error()}
	}

	info, err := e.exchange.ResolvePair(ctx, trade.Pair)
	if err != nil {
		return domain.ValidationOutcome{Kind: domain.ValidationInvalidFormat, Reason: err.Error()}
	}

	price, err := e.pairPrice(ctx, info.Name, snap)
	if err != nil {
		return domain.ValidationOutcome{
			Kind:   domain.ValidationRejectedByExchange,
			Pair:   info.Name,
			Reason: fmt.Sprintf("price unavailable: %v", err),
		}
	}

	volume := resolveVolume(trade, snap.portfolio, price)

	if trade.Action == domain.ActionSell {
		held := exchange.BalanceFor(snap.balances, info.Base)
		if volume.GreaterThan(held) {
			delta := volume.Sub(held)
			relative := delta.Div(volume)
			if relative.GreaterThan(e.tolerance) {
				return domain.ValidationOutcome{
					Kind:   domain.ValidationInsufficientBalance,
					Pair:   info.Name,
					Volume: volume,
					Reason: fmt.Sprintf("requested %s but hold %s %s", volume.String(), held.String(), info.Base),
				}
			}

			// precision drift within tolerance: clamp down to the held balance
			e.logger.Debug("clamping sell volume to held balance",
				zap.String("pair", info.Name),
				zap.String("requested", volume.String()),
				zap.String("held", held.String()),
			)
			volume = held
		}
	}

	return sizeBounds(info, volume, price)
}

// CheckViability validates a trade against the exchange's size rules without
// touching balances: pair resolution, volume resolution and the
// minimum-volume / minimum-notional bounds. The pipeline reuses it as the
// pre-execution dry volume check.
func (e *Executor) CheckViability(ctx context.Context, trade domain.Trade, snap *snapshot) domain.ValidationOutcome {
	if err := trade.Validate(); err != nil {
		return domain.ValidationOutcome{Kind: domain.ValidationInvalidFormat, Reason: err.Error()}
	}

	info, err := e.exchange.ResolvePair(ctx, trade.Pair)
	if err != nil {
		return domain.ValidationOutcome{Kind: domain.ValidationInvalidFormat, Reason: err.Error()}
	}

	price, err := e.pairPrice(ctx, info.Name, snap)
	if err != nil {
		return domain.ValidationOutcome{
			Kind:   domain.ValidationRejectedByExchange,
			Pair:   info.Name,
			Reason: fmt.Sprintf("price unavailable: %v", err),
		}
	}

	return sizeBounds(info, resolveVolume(trade, snap.portfolio, price), price)
}

func resolveVolume(trade domain.Trade, portfolio, price decimal.Decimal) decimal.Decimal {
	if trade.Kind == domain.TradePercentage {
		return portfolio.Mul(trade.Allocation).Div(price)
	}
	return trade.Volume
}

// sizeBounds checks the resolved volume against the pair's minimum-volume
// and minimum-notional rules.
func sizeBounds(info exchange.PairInfo, volume, price decimal.Decimal) domain.ValidationOutcome {
	if volume.LessThan(info.OrderMin) {
		return domain.ValidationOutcome{
			Kind:   domain.ValidationVolumeTooSmall,
			Pair:   info.Name,
			Volume: volume,
			Reason: fmt.Sprintf("volume %s below minimum %s", volume.String(), info.OrderMin.String()),
		}
	}

	notional := volume.Mul(price)
	minNotional := decimal.Max(info.CostMin, info.OrderMin.Mul(price))
	if notional.LessThan(minNotional) {
		return domain.ValidationOutcome{
			Kind:   domain.ValidationVolumeTooSmall,
			Pair:   info.Name,
			Volume: volume,
			Reason: fmt.Sprintf("notional %s below minimum %s", notional.StringFixed(2), minNotional.StringFixed(2)),
		}
	}

	return domain.ValidationOutcome{
		Kind:   domain.ValidationValid,
		Pair:   info.Name,
		Volume: volume,
	}
}

// CheckTrade is CheckViability against a fresh snapshot, for callers outside
// an execution pass.
func (e *Executor) CheckTrade(ctx context.Context, trade domain.Trade, portfolio decimal.Decimal) domain.ValidationOutcome {
	return e.CheckViability(ctx, trade, &snapshot{
		portfolio: portfolio,
		prices:    make(map[string]decimal.Decimal),
	})
}

// PortfolioValue exposes the snapshot valuation for plan review.
func (e *Executor) PortfolioValue(ctx context.Context) (decimal.Decimal, error) {
	return e.exchange.PortfolioValue(ctx, e.quoteAsset)
}

func (e *Executor) pairPrice(ctx context.Context, pair string, snap *snapshot) (decimal.Decimal, error) {
	if price, ok := snap.prices[pair]; ok {
		return price, nil
	}
	price, err := e.exchange.Price(ctx, pair)
	if err != nil {
		return decimal.Zero, err
	}
	snap.prices[pair] = price
	return price, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
