package polymarket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysnap/internal/domain"
)

const testWallet = "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"

func newTestClient(t *testing.T, h http.Handler, retries int) *DataClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewDataClient(DataClientConfig{
		BaseURL:        srv.URL,
		Timeout:        5 * time.Second,
		MaxRetries:     retries,
		RetryBaseDelay: time.Millisecond,
	}, nil)
	c.now = func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestGetWalletPositionsGroupsTokens(t *testing.T) {
	rows := []APIPosition{
		{ConditionID: "c1", Title: "Will it rain?", Outcome: "Yes", OutcomeIndex: 0, Size: 100, AvgPrice: 0.4, CurPrice: 0.6},
		{ConditionID: "c2", Title: "Fed cut?", Outcome: "No", OutcomeIndex: 1, Size: 50, AvgPrice: 0.7, CurPrice: 0.65},
		{ConditionID: "c1", Title: "Will it rain?", Outcome: "No", OutcomeIndex: 1, Size: 20, AvgPrice: 0.55, CurPrice: 0.4},
	}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/positions", r.URL.Path)
		assert.Equal(t, testWallet, r.URL.Query().Get("user"))
		assert.Equal(t, "0", r.URL.Query().Get("sizeThreshold"))
		writeJSON(t, w, rows)
	}), 0)

	snap, err := c.GetWalletPositions(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Equal(t, testWallet, snap.Wallet)
	assert.False(t, snap.Timestamp.IsZero())
	require.Len(t, snap.Positions, 2)

	c1 := snap.Positions[0]
	assert.Equal(t, "c1", c1.MarketID)
	assert.Equal(t, "Will it rain?", c1.MarketTitle)
	assert.Equal(t, 100.0, c1.YesShares)
	assert.Equal(t, 20.0, c1.NoShares)
	require.NotNil(t, c1.YesAvgPrice)
	assert.Equal(t, 0.4, *c1.YesAvgPrice)
	require.NotNil(t, c1.NoAvgPrice)
	assert.Equal(t, 0.55, *c1.NoAvgPrice)
	assert.Equal(t, domain.OutcomeUnresolved, c1.ResolvedOutcome)

	c2 := snap.Positions[1]
	assert.Equal(t, 0.0, c2.YesShares)
	assert.Nil(t, c2.YesAvgPrice)
	assert.Equal(t, 50.0, c2.NoShares)
}

func TestGetWalletPositionsResolution(t *testing.T) {
	tests := []struct {
		name string
		row  APIPosition
		want domain.Outcome
	}{
		{"yes token paid out", APIPosition{Outcome: "Yes", CurPrice: 1, Redeemable: true}, domain.OutcomeYes},
		{"yes token worthless", APIPosition{Outcome: "Yes", CurPrice: 0, Redeemable: true}, domain.OutcomeNo},
		{"no token paid out", APIPosition{Outcome: "No", OutcomeIndex: 1, CurPrice: 1, Redeemable: true}, domain.OutcomeNo},
		{"no token worthless", APIPosition{Outcome: "No", OutcomeIndex: 1, CurPrice: 0, Redeemable: true}, domain.OutcomeYes},
		{"split", APIPosition{Outcome: "Yes", CurPrice: 0.5, Redeemable: true}, domain.OutcomeInvalid},
		{"not redeemable", APIPosition{Outcome: "Yes", CurPrice: 1}, domain.OutcomeUnresolved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := tt.row
			row.ConditionID = "c1"
			row.Title = "Market"
			row.Size = 10
			row.AvgPrice = 0.5
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(t, w, []APIPosition{row})
			}), 0)

			snap, err := c.GetWalletPositions(context.Background(), testWallet)
			require.NoError(t, err)
			require.Len(t, snap.Positions, 1)
			assert.Equal(t, tt.want, snap.Positions[0].ResolvedOutcome)
		})
	}
}

func TestGetWalletPositionsPaginates(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		assert.Equal(t, 2, limit)
		var rows []APIPosition
		if offset == 0 {
			rows = []APIPosition{
				{ConditionID: "a", Title: "A", Outcome: "Yes", Size: 1, AvgPrice: 0.1},
				{ConditionID: "b", Title: "B", Outcome: "Yes", Size: 2, AvgPrice: 0.2},
			}
		} else {
			rows = []APIPosition{{ConditionID: "c", Title: "C", Outcome: "Yes", Size: 3, AvgPrice: 0.3}}
		}
		writeJSON(t, w, rows)
	}), 0)
	c.pageSize = 2

	snap, err := c.GetWalletPositions(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Len(t, snap.Positions, 3)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetWalletPositionsRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			http.Error(w, "slow down", http.StatusTooManyRequests)
		case 2:
			http.Error(w, "boom", http.StatusBadGateway)
		default:
			writeJSON(t, w, []APIPosition{})
		}
	}), 3)

	snap, err := c.GetWalletPositions(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Empty(t, snap.Positions)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetWalletPositionsGivesUp(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}), 2)

	_, err := c.GetWalletPositions(context.Background(), testWallet)
	require.ErrorIs(t, err, domain.ErrUpstream)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetWalletPositionsDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusUnauthorized)
	}), 5)

	_, err := c.GetWalletPositions(context.Background(), testWallet)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetWalletPositionsRejectsInvalidData(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []APIPosition{{ConditionID: "c1", Title: "Bad", Outcome: "Yes", Size: -1, AvgPrice: 0.5}})
	}), 0)

	_, err := c.GetWalletPositions(context.Background(), testWallet)
	require.ErrorIs(t, err, domain.ErrInvalidPosition)
}

type countingLimiter struct{ waits atomic.Int32 }

func (l *countingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}

func (l *countingLimiter) Wait(context.Context, string, int, time.Duration) error {
	l.waits.Add(1)
	return nil
}

func TestGetWalletPositionsUsesRateLimiter(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []APIPosition{})
	}), 0)
	limiter := &countingLimiter{}
	c.WithRateLimiter(limiter, 5, time.Second)

	_, err := c.GetWalletPositions(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Equal(t, int32(1), limiter.waits.Load())
}

func TestCheckHTTPStatus(t *testing.T) {
	assert.NoError(t, checkHTTPStatus(http.StatusOK, nil))
	assert.ErrorIs(t, checkHTTPStatus(http.StatusNotFound, nil), domain.ErrNotFound)
	assert.ErrorIs(t, checkHTTPStatus(http.StatusForbidden, nil), domain.ErrUnauthorized)
	assert.ErrorIs(t, checkHTTPStatus(http.StatusTooManyRequests, nil), domain.ErrRateLimited)
	assert.ErrorIs(t, checkHTTPStatus(http.StatusInternalServerError, nil), domain.ErrUpstream)
	assert.Error(t, checkHTTPStatus(http.StatusBadRequest, nil))
}
