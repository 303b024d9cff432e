package exchange

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"trades-switch/internal/config"
)

func newTestClient(t *testing.T, attempts int) *Client {
	t.Helper()
	return &Client{
		cfg: config.ExchangeConfig{
			Name:            "binanceusdm",
			QuoteCurrencies: []string{"USDT"},
			Retry: config.RetryConfig{
				MaxAttempts: attempts,
				MinDelay:    time.Millisecond,
				MaxDelay:    2 * time.Millisecond,
			},
		},
		logger: zaptest.NewLogger(t),
	}
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(config.ExchangeConfig{Name: "binanceusdm"}, nil)
	require.Error(t, err)
}

func TestCallWithRetry_RetriesTransientErrors(t *testing.T) {
	c := newTestClient(t, 3)

	calls := 0
	err := c.callWithRetry(context.Background(), "fetch_positions", func() error {
		calls++
		if calls < 3 {
			return &ccxt.Error{Type: ccxt.NetworkErrorErrType, Message: "reset by peer"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestCallWithRetry_StopsOnPermanentError(t *testing.T) {
	c := newTestClient(t, 5)

	calls := 0
	err := c.callWithRetry(context.Background(), "fetch_order", func() error {
		calls++
		return &ccxt.Error{Type: ccxt.InvalidOrderErrType, Message: "bad order"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestCallWithRetry_MaintenanceIsSurfaced(t *testing.T) {
	c := newTestClient(t, 5)

	err := c.callWithRetry(context.Background(), "load_markets", func() error {
		return &ccxt.Error{Type: ccxt.OnMaintenanceErrType}
	})
	require.ErrorIs(t, err, ErrMaintenance)
}

func TestCallWithRetry_HonoursContext(t *testing.T) {
	c := newTestClient(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := c.callWithRetry(ctx, "fetch_positions", func() error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", &ccxt.Error{Type: ccxt.RateLimitExceededErrType})))
	assert.False(t, IsRetryable(&ccxt.Error{Type: ccxt.InsufficientFundsErrType}))
}

func TestSignedPosition(t *testing.T) {
	symbol := "ETH/USDT:USDT"
	other := "BTC/USDT:USDT"
	long, short := "long", "short"
	two, one, zero := 2.0, 1.5, 0.0

	raw := []ccxt.Position{
		{Symbol: &other, Contracts: &two, Side: &long},
		{Symbol: &symbol, Contracts: &zero, Side: &long},
		{Symbol: &symbol, Contracts: &one, Side: &short},
	}
	assert.Equal(t, -1.5, signedPosition(raw, symbol))
	assert.Equal(t, 2.0, signedPosition(raw, other))
	assert.Equal(t, 0.0, signedPosition(nil, symbol))
}
