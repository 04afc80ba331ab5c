package exchange

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"helmsman/pkg/retrier"
)

const (
	defaultBaseURL     = "https://api.kraken.com"
	defaultHTTPTimeout = 30 * time.Second

	retryAttempts  = 3
	retryBaseDelay = 1 * time.Second
)

// Client issues authenticated and public calls against the exchange REST
// API. Private calls consume one nonce each and are serialized through the
// session; all calls share the same bounded retry policy.
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    *Session
	retrier    *retrier.Retrier
	logger     *zap.Logger

	pairsMu     sync.Mutex
	pairsLoaded bool
	pairs       map[string]PairInfo
	pairIndex   map[string]string
}

// NewClient builds a client around the given session. baseURL may be empty
// to use the production endpoint.
func NewClient(baseURL string, session *Session, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
		session: session,
		retrier: retrier.New(
			retrier.WithMaxAttempts(retryAttempts),
			retrier.WithInitialInterval(retryBaseDelay),
			retrier.WithRetryIf(IsTransient),
		),
		logger: logger,
	}
}

// envelope is the exchange's response wrapper. A non-empty error list means
// failure regardless of HTTP status.
type envelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// Public issues an unauthenticated call and returns the unwrapped result.
func (c *Client) Public(ctx context.Context, path string, form url.Values) (json.RawMessage, error) {
	return retrier.DoWithData(c.retrier, ctx, func(ctx context.Context) (json.RawMessage, error) {
		body := ""
		if form != nil {
			body = form.Encode()
		}
		return c.post(ctx, path, body, nil)
	})
}

// Private issues a signed call. Each retry attempt signs with a fresh nonce;
// the session mutex is held across sign-and-send of one attempt only, so
// backoff sleeps never block sibling callers.
func (c *Client) Private(ctx context.Context, path string, form url.Values) (json.RawMessage, error) {
	if c.session == nil {
		return nil, errors.New("private call without credentials")
	}

	return retrier.DoWithData(c.retrier, ctx, func(ctx context.Context) (json.RawMessage, error) {
		var result json.RawMessage
		err := c.session.WithSignedForm(path, cloneForm(form), func(signed SignedForm) error {
			res, postErr := c.post(ctx, path, signed.Body, map[string]string{
				"API-Key":  signed.Key,
				"API-Sign": signed.Signature,
			})
			if postErr != nil {
				return postErr
			}
			result = res
			return nil
		})
		return result, err
	})
}

func (c *Client) post(ctx context.Context, path, body string, headers map[string]string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return nil, &APIError{Kind: KindFatal, Op: path, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// connection failures and client timeouts are retryable
		return nil, &APIError{Kind: KindTransient, Op: path, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Kind: KindTransient, Op: path, HTTPStatus: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &APIError{Kind: KindTransient, Op: path, HTTPStatus: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Kind: KindFatal, Op: path, HTTPStatus: resp.StatusCode}
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, &APIError{Kind: KindTransient, Op: path, HTTPStatus: resp.StatusCode, Err: errors.Wrap(err, "decode response")}
	}

	if len(env.Error) > 0 {
		apiErr := &APIError{
			Kind:       classifyMessages(env.Error),
			Op:         path,
			HTTPStatus: resp.StatusCode,
			Messages:   env.Error,
		}
		c.logger.Warn("exchange reported error",
			zap.String("path", path),
			zap.Strings("errors", env.Error),
			zap.String("kind", apiErr.Kind.String()),
			zap.Duration("latency", time.Since(start)),
		)
		return nil, apiErr
	}

	return env.Result, nil
}

func cloneForm(form url.Values) url.Values {
	cloned := url.Values{}
	for k, vs := range form {
		for _, v := range vs {
			cloned.Add(k, v)
		}
	}
	return cloned
}
