package solanarpc

// Package solanarpc is the resilient account-data client. A logical request
// (one page of token accounts) survives transport errors and rate limiting by
// retrying the current endpoint with a growing delay, and rotates to the next
// configured endpoint once the endpoint's circuit breaker opens. Only when
// every endpoint is spent or circuit-open does the request fail, with
// ErrEndpointsExhausted.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/config"
	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/infra/log"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrEndpointsExhausted is returned when a logical request has spent its
// retry budget on every configured endpoint. Callers treat it as a skipped
// cycle, never as a reason to terminate.
var ErrEndpointsExhausted = errors.New("all RPC endpoints exhausted or circuit-open")

// transientError marks a failure the retry loop is allowed to recover from:
// transport errors, HTTP 429/5xx, and rate-limit RPC codes.
type transientError struct {
	cause error
}

func (e *transientError) Error() string { return e.cause.Error() }
func (e *transientError) Unwrap() error { return e.cause }

func transient(err error) error { return &transientError{cause: err} }

func isTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// RetryState is the per-endpoint retry bookkeeping. It is owned by the client
// and reset to zero failures at base delay on every success.
type RetryState struct {
	ConsecutiveFailures int
	CurrentDelay        time.Duration
}

// endpointState couples one endpoint URL with its independent retry state and
// circuit breaker.
type endpointState struct {
	url     string
	breaker *gobreaker.CircuitBreaker
	retry   RetryState
}

func (e *endpointState) circuitOpen() bool {
	return e.breaker.State() == gobreaker.StateOpen
}

// Client fetches token-account balances over JSON-RPC with retry, backoff,
// rate limiting and endpoint rotation. It is not safe for concurrent use; the
// monitor runs at most one fetch at a time.
type Client struct {
	endpoints  []*endpointState
	current    int // rotation cursor, survives across logical requests
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	pageLimit  int
	requestID  atomic.Uint64

	// sleep is replaceable in tests so backoff does not wall-clock wait.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a client over the configured endpoint list, primary first.
func NewClient(cfg config.RPCConfig) *Client {
	baseDelay := time.Duration(cfg.BaseRetryDelayMs) * time.Millisecond
	maxDelay := time.Duration(cfg.MaxRetryDelayMs) * time.Millisecond
	cooldown := time.Duration(cfg.CircuitCooldown) * time.Second
	threshold := uint32(cfg.FailureThreshold)

	endpoints := make([]*endpointState, 0, len(cfg.Endpoints))
	for _, url := range cfg.Endpoints {
		endpoints = append(endpoints, &endpointState{
			url: url,
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:        url,
				MaxRequests: 1,
				Timeout:     cooldown,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= threshold
				},
			}),
			retry: RetryState{CurrentDelay: baseDelay},
		})
	}

	return &Client{
		endpoints: endpoints,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeout) * time.Second,
			Transport: &http.Transport{
				DisableKeepAlives: false,
				MaxIdleConns:      10,
				IdleConnTimeout:   90 * time.Second,
			},
		},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), int(math.Max(1, cfg.RateLimit*2))),
		maxRetries: cfg.MaxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		pageLimit:  cfg.PageLimit,
		sleep:      ctxSleep,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoffDelay grows super-exponentially with the attempt number
// (base × attempt^attempt) up to the configured ceiling. Public free-tier
// nodes punish polite exponential backoff with more 429s; this curve clears
// their windows faster.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := math.Pow(float64(attempt), float64(attempt))
	delay := time.Duration(float64(base) * factor)
	if delay > max || delay < 0 {
		return max
	}
	return delay
}

// FetchAllHolders pages through every token account of the mint and returns
// the raw per-account records. Each page is one logical request with the full
// retry policy applied.
func (c *Client) FetchAllHolders(ctx context.Context, mint string) ([]HolderRecord, error) {
	var records []HolderRecord

	for page := 1; ; page++ {
		result, err := c.getTokenAccounts(ctx, mint, page)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch token accounts page %d: %w", page, err)
		}

		for _, account := range result.TokenAccounts {
			records = append(records, HolderRecord{
				Address: account.Owner,
				Balance: account.Amount,
			})
		}

		log.LogInfo("Loaded token accounts page",
			zap.Int("page", page),
			zap.Int("count", len(result.TokenAccounts)),
			zap.Int("totalSoFar", len(records)))

		if len(result.TokenAccounts) == 0 || len(result.TokenAccounts) < c.pageLimit {
			break
		}
	}

	log.LogInfo("Finished fetching all token accounts",
		zap.String("mint", mint),
		zap.Int("totalFetched", len(records)))

	return records, nil
}

func (c *Client) getTokenAccounts(ctx context.Context, mint string, page int) (*tokenAccountsResult, error) {
	params := []interface{}{
		map[string]interface{}{
			"mint":  mint,
			"page":  page,
			"limit": c.pageLimit,
		},
	}

	var result tokenAccountsResult
	if err := c.request(ctx, "getTokenAccounts", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// request performs one logical request: retry the current endpoint up to
// maxRetries times, rotate to the next endpoint when its circuit opens or its
// retry budget is spent, and fail with ErrEndpointsExhausted once every
// endpoint has been tried.
func (c *Client) request(ctx context.Context, method string, params []interface{}, result interface{}) error {
	var lastErr error

	for tried := 0; tried < len(c.endpoints); tried++ {
		ep := c.endpoints[c.current]

		err := c.attemptEndpoint(ctx, ep, method, params, result)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isTransient(err) && !circuitRejected(err) {
			return err
		}

		lastErr = err
		c.current = (c.current + 1) % len(c.endpoints)
		log.LogWarn("Rotating to next RPC endpoint",
			zap.String("failed_endpoint", ep.url),
			zap.String("next_endpoint", c.endpoints[c.current].url),
			zap.Bool("circuit_open", ep.circuitOpen()),
			zap.Error(err))
	}

	return fmt.Errorf("%w: %v", ErrEndpointsExhausted, lastErr)
}

func circuitRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// attemptEndpoint runs the per-endpoint retry loop. The endpoint's RetryState
// tracks consecutive failures and the current delay; its circuit breaker
// counts the same failures and opens at the configured threshold.
func (c *Client) attemptEndpoint(ctx context.Context, ep *endpointState, method string, params []interface{}, result interface{}) error {
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		_, err := ep.breaker.Execute(func() (interface{}, error) {
			return nil, c.call(ctx, ep.url, method, params, result)
		})
		if err == nil {
			ep.retry = RetryState{CurrentDelay: c.baseDelay}
			return nil
		}
		if circuitRejected(err) {
			return err
		}
		if !isTransient(err) {
			return err
		}

		ep.retry.ConsecutiveFailures++
		ep.retry.CurrentDelay = backoffDelay(c.baseDelay, c.maxDelay, attempt)
		lastErr = err

		log.LogWarn("RPC attempt failed",
			zap.String("endpoint", ep.url),
			zap.String("method", method),
			zap.Int("attempt", attempt),
			zap.Int("consecutive_failures", ep.retry.ConsecutiveFailures),
			zap.Duration("next_delay", ep.retry.CurrentDelay),
			zap.Error(err))

		if ep.circuitOpen() {
			return fmt.Errorf("endpoint circuit opened: %w", err)
		}

		if attempt < c.maxRetries {
			if err := c.sleep(ctx, ep.retry.CurrentDelay); err != nil {
				return err
			}
		}
	}

	return lastErr
}

// call performs a single physical JSON-RPC request against one endpoint.
func (c *Client) call(ctx context.Context, endpoint, method string, params []interface{}, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	requestID := log.GenerateRequestID()
	startTime := time.Now()

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	log.LogRequest(requestID, http.MethodPost, endpoint, zap.String("rpc_method", method))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.LogResponse(requestID, 0, time.Since(startTime).Milliseconds(), zap.String("endpoint", endpoint), zap.Error(err))
		return transient(fmt.Errorf("failed to perform request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	duration := time.Since(startTime).Milliseconds()
	if err != nil {
		log.LogResponse(requestID, resp.StatusCode, duration, zap.String("endpoint", endpoint), zap.Error(err))
		return transient(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		log.LogResponse(requestID, resp.StatusCode, duration, zap.String("endpoint", endpoint))
		return transient(fmt.Errorf("rate limited (429)"))
	}
	if resp.StatusCode >= 500 {
		log.LogResponse(requestID, resp.StatusCode, duration, zap.String("endpoint", endpoint))
		return transient(fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody)))
	}
	if resp.StatusCode != http.StatusOK {
		log.LogResponse(requestID, resp.StatusCode, duration, zap.String("endpoint", endpoint))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return transient(fmt.Errorf("failed to unmarshal response: %w", err))
	}

	if rpcResp.Error != nil {
		log.LogResponse(requestID, resp.StatusCode, duration, zap.String("endpoint", endpoint), zap.Int("rpc_code", rpcResp.Error.Code))
		if rpcResp.Error.rateLimited() {
			return transient(rpcResp.Error)
		}
		// Other RPC application errors will not improve with a retry.
		return rpcResp.Error
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}

	log.LogResponse(requestID, resp.StatusCode, duration, zap.String("endpoint", endpoint))
	return nil
}
