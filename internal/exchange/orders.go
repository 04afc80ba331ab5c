package exchange

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	orderWaitTimeout  = 45 * time.Second
	orderPollInterval = 2 * time.Second

	volumePrecision = 8
)

// Terminal order statuses as reported by the exchange. StatusUnknown is the
// local fallback when the account cannot observe the order at all.
const (
	StatusOpen     = "open"
	StatusClosed   = "closed"
	StatusCanceled = "canceled"
	StatusExpired  = "expired"
	StatusUnknown  = "unknown"
)

// OrderRequest describes one market order. Validate submits a dry run that
// the exchange checks but never books.
type OrderRequest struct {
	Pair     string
	Side     string
	Volume   decimal.Decimal
	Validate bool
}

// OrderReceipt is the exchange's acknowledgement of a submitted order.
// Dry runs carry only the description.
type OrderReceipt struct {
	Description string
	TxIDs       []string
}

// AddOrder submits a market order, or validates it when req.Validate is set.
func (c *Client) AddOrder(ctx context.Context, req OrderRequest) (OrderReceipt, error) {
	form := url.Values{}
	form.Set("pair", req.Pair)
	form.Set("type", req.Side)
	form.Set("ordertype", "market")
	// truncate: rounding half-up could push a balance-clamped sell back
	// above the held amount
	form.Set("volume", req.Volume.RoundDown(volumePrecision).String())
	if req.Validate {
		form.Set("validate", "true")
	}

	raw, err := c.Private(ctx, "/0/private/AddOrder", form)
	if err != nil {
		return OrderReceipt{}, err
	}

	var payload struct {
		Descr struct {
			Order string `json:"order"`
		} `json:"descr"`
		TxID []string `json:"txid"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return OrderReceipt{}, errors.Wrap(err, "decode order receipt")
	}

	return OrderReceipt{
		Description: payload.Descr.Order,
		TxIDs:       payload.TxID,
	}, nil
}

// WaitForOrder polls until the order reaches a terminal status or the wait
// budget runs out, returning the best-known status rather than blocking.
// Accounts without order-query permission fall back to the coarser
// open-orders check; when even that fails the status is unknown, since the
// order may still have gone through.
func (c *Client) WaitForOrder(ctx context.Context, txid string) (string, error) {
	deadline := time.Now().Add(orderWaitTimeout)
	last := StatusUnknown

	for {
		status, err := c.queryOrderStatus(ctx, txid)
		switch {
		case err == nil:
			last = status
			if terminalStatus(status) {
				return status, nil
			}
		case IsPermissionDenied(err):
			fallback, fbErr := c.openOrderStatus(ctx, txid)
			if fbErr != nil {
				c.logger.Warn("order status unobservable",
					zap.String("txid", txid),
					zap.Error(fbErr),
				)
				return StatusUnknown, nil
			}
			last = fallback
			if fallback != StatusOpen {
				return fallback, nil
			}
		case IsFatal(err):
			return last, err
		default:
			c.logger.Warn("order status poll failed", zap.String("txid", txid), zap.Error(err))
		}

		if time.Now().After(deadline) {
			return last, nil
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(orderPollInterval):
		}
	}
}

func terminalStatus(status string) bool {
	switch status {
	case StatusClosed, StatusCanceled, StatusExpired:
		return true
	}
	return false
}

func (c *Client) queryOrderStatus(ctx context.Context, txid string) (string, error) {
	form := url.Values{}
	form.Set("txid", txid)

	raw, err := c.Private(ctx, "/0/private/QueryOrders", form)
	if err != nil {
		return "", err
	}

	var payload map[string]struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", errors.Wrap(err, "decode order status")
	}

	order, ok := payload[txid]
	if !ok {
		return StatusUnknown, nil
	}
	return order.Status, nil
}

// openOrderStatus approximates an order's state from the open-orders list:
// an order no longer open is assumed closed.
func (c *Client) openOrderStatus(ctx context.Context, txid string) (string, error) {
	raw, err := c.Private(ctx, "/0/private/OpenOrders", nil)
	if err != nil {
		return "", err
	}

	var payload struct {
		Open map[string]json.RawMessage `json:"open"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", errors.Wrap(err, "decode open orders")
	}

	if _, ok := payload.Open[txid]; ok {
		return StatusOpen, nil
	}
	return StatusClosed, nil
}
