package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/polysnap/internal/domain"
)

const (
	defaultPageSize       = 500
	defaultRetryBaseDelay = 500 * time.Millisecond
	maxRetryDelay         = 30 * time.Second
	// maxPages bounds pagination against a misbehaving upstream.
	maxPages = 200

	rateLimitKey = "polymarket:data"
)

// DataClientConfig configures a DataClient.
type DataClientConfig struct {
	// BaseURL is the data API root, e.g. "https://data-api.polymarket.com".
	BaseURL        string
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	PageSize       int
}

// DataClient is the REST client for the Polymarket data API. It implements
// domain.PositionProvider.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	pageSize   int
	logger     *slog.Logger
	now        func() time.Time

	limiter     domain.RateLimiter
	limitPerWin int
	limitWindow time.Duration
}

// NewDataClient creates a data API client.
func NewDataClient(cfg DataClientConfig, logger *slog.Logger) *DataClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	delay := cfg.RetryBaseDelay
	if delay <= 0 {
		delay = defaultRetryBaseDelay
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DataClient{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: max(cfg.MaxRetries, 0),
		baseDelay:  delay,
		pageSize:   pageSize,
		logger:     logger.With(slog.String("component", "polymarket_data")),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithRateLimiter throttles outbound requests to limit per window, shared
// across every process using the same limiter backend.
func (c *DataClient) WithRateLimiter(l domain.RateLimiter, limit int, window time.Duration) *DataClient {
	c.limiter = l
	c.limitPerWin = limit
	c.limitWindow = window
	return c
}

// GetWalletPositions implements domain.PositionProvider. It pages through
// the wallet's token holdings and folds them into one position per market.
func (c *DataClient) GetWalletPositions(ctx context.Context, wallet string) (domain.Snapshot, error) {
	var rows []APIPosition
	for page := 0; page < maxPages; page++ {
		batch, err := c.positionsPage(ctx, wallet, page*c.pageSize)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("polymarket/data: get positions %s: %w", wallet, err)
		}
		rows = append(rows, batch...)
		if len(batch) < c.pageSize {
			break
		}
	}

	markets, err := groupByMarket(rows)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("polymarket/data: %w", err)
	}

	positions := make([]domain.Position, 0, len(markets))
	for _, m := range markets {
		pos, err := m.ToDomainPosition()
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("polymarket/data: %w", err)
		}
		positions = append(positions, pos)
	}

	return domain.Snapshot{
		Wallet:    wallet,
		Timestamp: c.now(),
		Positions: positions,
	}, nil
}

func (c *DataClient) positionsPage(ctx context.Context, wallet string, offset int) ([]APIPosition, error) {
	params := url.Values{}
	params.Set("user", wallet)
	params.Set("sizeThreshold", "0")
	params.Set("limit", strconv.Itoa(c.pageSize))
	params.Set("offset", strconv.Itoa(offset))

	body, err := c.getWithRetry(ctx, "/positions?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var rows []APIPosition
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	return rows, nil
}

// getWithRetry retries transient failures with exponential backoff.
func (c *DataClient) getWithRetry(ctx context.Context, path string) ([]byte, error) {
	delay := c.baseDelay
	for attempt := 0; ; attempt++ {
		body, err := c.doGet(ctx, path)
		if err == nil {
			return body, nil
		}
		if attempt >= c.maxRetries || !retryable(ctx, err) {
			return nil, err
		}

		c.logger.WarnContext(ctx, "data api request failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if domain.IsTransient(err) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// doGet sends a GET request to the data API.
func (c *DataClient) doGet(ctx context.Context, path string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rateLimitKey, c.limitPerWin, c.limitWindow); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrUpstream, statusCode, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

var _ domain.PositionProvider = (*DataClient)(nil)
