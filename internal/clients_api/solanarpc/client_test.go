package solanarpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/config"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMint = "So11111111111111111111111111111111111111112"

func testConfig(endpoints ...string) config.RPCConfig {
	return config.RPCConfig{
		Endpoints:        endpoints,
		RequestTimeout:   5,
		MaxRetries:       3,
		BaseRetryDelayMs: 1,
		MaxRetryDelayMs:  50,
		FailureThreshold: 3,
		CircuitCooldown:  60,
		RateLimit:        1000,
		PageLimit:        100,
	}
}

// newTestClient disables real backoff sleeps and records requested delays.
func newTestClient(t *testing.T, cfg config.RPCConfig) (*Client, *[]time.Duration) {
	t.Helper()
	client := NewClient(cfg)
	var slept []time.Duration
	client.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return client, &slept
}

func writeAccountsPage(t *testing.T, w http.ResponseWriter, id uint64, accounts []map[string]interface{}) {
	t.Helper()
	resp := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result": map[string]interface{}{
			"total":          len(accounts),
			"limit":          len(accounts),
			"page":           1,
			"token_accounts": accounts,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func account(owner string, amount uint64) map[string]interface{} {
	return map[string]interface{}{
		"address": owner + "-token-account",
		"mint":    testMint,
		"owner":   owner,
		"amount":  amount,
	}
}

func TestBackoffDelay_StrictlyIncreasingAndBounded(t *testing.T) {
	base := 2 * time.Second
	max := time.Minute

	previous := time.Duration(0)
	for attempt := 1; attempt <= 3; attempt++ {
		delay := backoffDelay(base, max, attempt)
		require.Greater(t, delay, previous, "attempt %d", attempt)
		require.LessOrEqual(t, delay, max)
		previous = delay
	}

	// attempt^attempt overflows quickly; the ceiling must always hold.
	assert.Equal(t, max, backoffDelay(base, max, 10))
	assert.Equal(t, max, backoffDelay(base, max, 100))
}

func TestFetchAllHolders_RetriesSameEndpointThenSucceeds(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		if n <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeAccountsPage(t, w, 1, []map[string]interface{}{account("owner1", 100)})
	}))
	defer server.Close()

	client, slept := newTestClient(t, testConfig(server.URL))

	records, err := client.FetchAllHolders(context.Background(), testMint)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, HolderRecord{Address: "owner1", Balance: 100}, records[0])

	// Two failures, two backoff waits, no rotation, state reset on success.
	assert.Equal(t, int64(3), requests.Load())
	assert.Len(t, *slept, 2)
	assert.Equal(t, 0, client.current)
	assert.Equal(t, 0, client.endpoints[0].retry.ConsecutiveFailures)
	assert.Equal(t, client.baseDelay, client.endpoints[0].retry.CurrentDelay)
}

func TestFetchAllHolders_RotatesAfterCircuitOpens(t *testing.T) {
	var primaryRequests atomic.Int64
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryRequests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer primary.Close()

	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAccountsPage(t, w, 1, []map[string]interface{}{account("owner2", 7)})
	}))
	defer fallback.Close()

	client, _ := newTestClient(t, testConfig(primary.URL, fallback.URL))

	records, err := client.FetchAllHolders(context.Background(), testMint)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "owner2", records[0].Address)

	// Full retry budget spent on the primary, circuit left open, cursor on
	// the fallback.
	assert.Equal(t, int64(3), primaryRequests.Load())
	assert.Equal(t, gobreaker.StateOpen, client.endpoints[0].breaker.State())
	assert.Equal(t, 1, client.current)

	// While the circuit is open the primary must not receive traffic even if
	// the cursor points back at it.
	client.current = 0
	records, err = client.FetchAllHolders(context.Background(), testMint)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(3), primaryRequests.Load())
}

func TestFetchAllHolders_AllEndpointsExhausted(t *testing.T) {
	var requests atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	first := httptest.NewServer(handler)
	defer first.Close()
	second := httptest.NewServer(handler)
	defer second.Close()

	client, _ := newTestClient(t, testConfig(first.URL, second.URL))

	_, err := client.FetchAllHolders(context.Background(), testMint)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEndpointsExhausted)
	assert.Equal(t, int64(6), requests.Load())
}

func TestFetchAllHolders_PermanentRPCErrorNotRetried(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]interface{}{"code": -32602, "message": "invalid params"},
		})
	}))
	defer server.Close()

	client, _ := newTestClient(t, testConfig(server.URL))

	_, err := client.FetchAllHolders(context.Background(), testMint)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEndpointsExhausted)
	assert.Equal(t, int64(1), requests.Load())
}

func TestFetchAllHolders_RateLimitRPCCodeIsTransient(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		if n == 1 {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      1,
				"error":   map[string]interface{}{"code": -32005, "message": "node is behind"},
			})
			return
		}
		writeAccountsPage(t, w, 1, []map[string]interface{}{account("owner3", 11)})
	}))
	defer server.Close()

	client, _ := newTestClient(t, testConfig(server.URL))

	records, err := client.FetchAllHolders(context.Background(), testMint)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(2), requests.Load())
}

func TestFetchAllHolders_PagesUntilExhausted(t *testing.T) {
	cfg := testConfig("")
	cfg.PageLimit = 2

	var pages []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "getTokenAccounts", req.Method)

		params := req.Params[0].(map[string]interface{})
		page := int(params["page"].(float64))
		pages = append(pages, page)

		var accounts []map[string]interface{}
		switch page {
		case 1:
			accounts = []map[string]interface{}{account("owner1", 1), account("owner2", 2)}
		case 2:
			accounts = []map[string]interface{}{account("owner3", 3)}
		}
		writeAccountsPage(t, w, req.ID, accounts)
	}))
	defer server.Close()

	cfg.Endpoints = []string{server.URL}
	client, _ := newTestClient(t, cfg)

	records, err := client.FetchAllHolders(context.Background(), testMint)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []int{1, 2}, pages)
	assert.Equal(t, "owner1", records[0].Address)
	assert.Equal(t, "owner3", records[2].Address)
}

func TestFetchAllHolders_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, _ := newTestClient(t, testConfig(server.URL))

	ctx, cancel := context.WithCancel(context.Background())
	client.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := client.FetchAllHolders(ctx, testMint)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
