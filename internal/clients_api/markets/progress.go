package markets

// Package markets is the progress source: it asks the bonding/market
// aggregator where the token stands relative to the target market cap and
// turns the answer into the single scheduler metric.

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/config"
	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/infra/log"
	"github.com/nobodyspecial333/MintRewardsSnapshotTool/internal/infra/retry"

	"go.uber.org/zap"
)

const lamportsPerSOL = 1_000_000_000

// ProgressReading is one observation of the token's progress toward the
// target. Metric is mode-dependent: percentage complete in percentage mode,
// SOL remaining to target in proximity mode. Immutable once produced.
type ProgressReading struct {
	Metric       float64
	MarketCapSOL float64
	SolVolume    float64 // SOL collected by the bonding curve
	ObservedAt   time.Time
}

// coinInfo is the aggregator's per-coin response. Reserve figures are in
// lamports.
type coinInfo struct {
	Mint               string  `json:"mint"`
	MarketCap          float64 `json:"market_cap"` // SOL
	UsdMarketCap       float64 `json:"usd_market_cap"`
	VirtualSolReserves uint64  `json:"virtual_sol_reserves"`
	RealSolReserves    uint64  `json:"real_sol_reserves"`
	Complete           bool    `json:"complete"`
}

// Client queries the aggregator for one mint. Mode and target are fixed at
// configuration time, so every reading already carries the scheduler metric.
type Client struct {
	baseURL    string
	httpClient *http.Client
	mint       string
	mode       string
	targetSOL  float64
	retryOpts  retry.Options
}

func NewClient(cfg config.MarketConfig, mint, mode string, targetSOL float64) *Client {
	return &Client{
		baseURL: cfg.APIBaseURL,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeout) * time.Second,
		},
		mint:      mint,
		mode:      mode,
		targetSOL: targetSOL,
		retryOpts: retry.Options{
			MaxRetries: 2,
			BaseDelay:  time.Second,
			MaxDelay:   15 * time.Second,
		},
	}
}

// Current fetches the latest market state and converts it into a reading.
func (c *Client) Current(ctx context.Context) (ProgressReading, error) {
	info, err := c.fetchCoin(ctx)
	if err != nil {
		return ProgressReading{}, err
	}

	reading := ProgressReading{
		MarketCapSOL: info.MarketCap,
		SolVolume:    float64(info.RealSolReserves) / lamportsPerSOL,
		ObservedAt:   time.Now().UTC(),
	}

	switch c.mode {
	case config.ModePercentage:
		reading.Metric = info.MarketCap / c.targetSOL * 100
		if reading.Metric > 100 || info.Complete {
			reading.Metric = 100
		}
	default: // proximity
		reading.Metric = c.targetSOL - info.MarketCap
		if info.Complete && reading.Metric > 0 {
			reading.Metric = 0
		}
	}

	log.LogDebug("Progress reading",
		zap.String("mint", c.mint),
		zap.String("mode", c.mode),
		zap.Float64("metric", reading.Metric),
		zap.Float64("market_cap_sol", reading.MarketCapSOL),
		zap.Float64("sol_volume", reading.SolVolume))

	return reading, nil
}

func (c *Client) fetchCoin(ctx context.Context) (*coinInfo, error) {
	var info coinInfo

	err := retry.Do(ctx, c.retryOpts, func() error {
		return c.fetchCoinOnce(ctx, &info)
	})
	if err != nil {
		return nil, err
	}

	return &info, nil
}

func (c *Client) fetchCoinOnce(ctx context.Context, info *coinInfo) error {
	url := fmt.Sprintf("%s/coins/%s", c.baseURL, c.mint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch from market API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("market API returned status %d: %w", resp.StatusCode, &retry.HTTPError{
			StatusCode: resp.StatusCode,
			RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After")),
		})
	}

	if err := json.NewDecoder(resp.Body).Decode(info); err != nil {
		return fmt.Errorf("failed to decode market API response: %w", err)
	}

	return nil
}
