package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"trades-switch/internal/config"
	"trades-switch/internal/exchange"
	"trades-switch/internal/execution"
)

func testConfig() *config.Config {
	return &config.Config{
		App:      config.AppConfig{Environment: "test", Timezone: "Asia/Seoul"},
		Exchange: config.ExchangeConfig{Name: "binanceusdm", Simulation: true, QuoteCurrencies: []string{"USDT"}},
		Trading:  config.TradingConfig{BuyPct: 0.98, Leverage: 5, FeeRate: 0.0004, DefaultCapital: 100},
		Reconcile: config.ReconcileConfig{
			PollInterval: 5 * time.Millisecond,
			MaxWait:      50 * time.Millisecond,
		},
		Profiles: []config.ProfileConfig{
			{Name: "webhook1", WebhookPath: "/webhook", ReportPath: "/report", Leverage: 5},
			{Name: "webhook2", WebhookPath: "/webhook2", ReportPath: "/report2", Leverage: 2, UseInitialCapital: true},
		},
		Server: config.ServerConfig{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second},
		Report: config.ReportConfig{Enabled: true, Hour: 9},
	}
}

func TestNew_SimulationUsesSimulator(t *testing.T) {
	a, err := New(testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	sim, ok := a.Simulator()
	require.True(t, ok)
	assert.NotNil(t, sim)
}

func TestNew_DryRunWithoutCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.Exchange.Simulation = false
	cfg.Trading.DryRun = true

	a, err := New(cfg, nil)
	require.NoError(t, err)

	result, err := a.Trader().Switch(context.Background(), execution.Request{Symbol: "ETHUSDT", Action: "BUY", Profile: "webhook1"})
	require.NoError(t, err)
	assert.Equal(t, execution.ReasonDryRun, result.Skipped)
}

func TestNew_LiveRequiresCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.Exchange.Simulation = false

	_, err := New(cfg, nil)
	require.Error(t, err)
}

func TestApp_EndToEndThroughHTTP(t *testing.T) {
	sim := exchange.NewSimulator()
	sim.SetMarkPrice("ETHUSDT", 100)
	a := NewWithVenue(testConfig(), sim, zaptest.NewLogger(t))
	handler := a.server.Handler()

	post := func(path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
		return rec
	}

	rec := post("/webhook", `{"symbol":"ETH/USDT","action":"BUY"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sim.SetMarkPrice("ETHUSDT", 105)
	rec = post("/webhook", `{"symbol":"ETH/USDT","action":"BUY_STOP"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"done":"buy_stop"`)

	rep, err := a.Reports().Find("webhook1", "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 124.6, rep.Capital)
	assert.Equal(t, 24.6, rep.CumulativeReturnPct)
	assert.Equal(t, 1, rep.TotalTrades)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "trades_capital_usd")
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	a := NewWithVenue(testConfig(), exchange.NewSimulator(), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("app did not stop")
	}
}
