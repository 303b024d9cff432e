package sizing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"trades-switch/internal/config"
	"trades-switch/internal/exchange"
	"trades-switch/internal/fill"
	"trades-switch/internal/metrics"
	"trades-switch/internal/state"
)

type fixture struct {
	sim    *exchange.Simulator
	store  *state.Store
	engine *Engine
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	sim := exchange.NewSimulator()
	sim.SetMarkPrice("ETHUSDT", 2000)
	store := state.NewStore(100, logger)
	engine := NewEngine(
		sim,
		exchange.NewQuoteService(sim, logger),
		fill.NewResolver(sim, logger),
		store,
		config.TradingConfig{BuyPct: 0.98, Leverage: 5, FeeRate: 0.0004},
		metrics.New(),
		logger,
	)
	return fixture{sim: sim, store: store, engine: engine}
}

func TestOpen_LongUsesDefaultLeverage(t *testing.T) {
	f := newFixture(t)
	key := state.Key{Profile: "webhook1", Symbol: "ETHUSDT"}

	result, err := f.engine.Open(context.Background(), OpenRequest{Key: key, Side: exchange.SideBuy})
	require.NoError(t, err)

	// 100 * 0.98 * 5 / 2000 = 0.245
	assert.InDelta(t, 0.245, result.Quantity, 1e-12)
	assert.Equal(t, 2000.0, result.EntryPrice)
	assert.Equal(t, 5, result.Leverage)
	assert.Equal(t, 5, f.sim.Leverage("ETHUSDT"))

	orders := f.sim.Orders()
	require.Len(t, orders, 1)
	assert.False(t, orders[0].ReduceOnly)
	assert.True(t, strings.HasPrefix(orders[0].Ref.ClientID, clientOrderPrefix))

	rec := f.store.Get(key)
	assert.InDelta(t, 0.245, rec.PositionQty, 1e-12)
	assert.Equal(t, 2000.0, rec.EntryPrice)
	assert.Equal(t, 5, rec.Leverage)
	assert.Equal(t, 1, rec.TradeCount)
	assert.Equal(t, 1, rec.LongCount)
	assert.Zero(t, rec.ShortCount)
	assert.NotEmpty(t, rec.EntryTime)
}

func TestOpen_ShortWithOverrideAndFixedBase(t *testing.T) {
	f := newFixture(t)
	key := state.Key{Profile: "webhook2", Symbol: "ETHUSDT"}
	f.store.Update(key, func(r *state.Record) { r.Capital = 500 })

	result, err := f.engine.Open(context.Background(), OpenRequest{
		Key:       key,
		Side:      exchange.SideSell,
		Leverage:  2,
		FixedBase: true,
	})
	require.NoError(t, err)

	// 100 * 0.98 * 2 / 2000 = 0.098
	assert.InDelta(t, 0.098, result.Quantity, 1e-12)
	assert.Equal(t, 2, f.sim.Leverage("ETHUSDT"))

	rec := f.store.Get(key)
	assert.InDelta(t, -0.098, rec.PositionQty, 1e-12)
	assert.Equal(t, state.SideShort, rec.Side())
	assert.Equal(t, 1, rec.ShortCount)
	assert.Equal(t, 500.0, rec.Capital)
}

func TestOpen_BelowMinimumPlacesNothing(t *testing.T) {
	f := newFixture(t)
	f.sim.SetLot("ETHUSDT", exchange.LotConstraints{Step: 1, MinQty: 1})
	key := state.Key{Profile: "webhook1", Symbol: "ETHUSDT"}
	before := f.store.Get(key)

	_, err := f.engine.Open(context.Background(), OpenRequest{Key: key, Side: exchange.SideBuy})
	require.ErrorIs(t, err, ErrBelowMinimum)
	assert.Empty(t, f.sim.Orders())
	assert.Equal(t, before, f.store.Get(key))
}

func TestOpen_LeverageFailureStops(t *testing.T) {
	f := newFixture(t)
	f.sim.Fail(exchange.OpSetLeverage, errors.New("leverage rejected"))

	_, err := f.engine.Open(context.Background(), OpenRequest{
		Key:  state.Key{Profile: "webhook1", Symbol: "ETHUSDT"},
		Side: exchange.SideBuy,
	})
	require.Error(t, err)
	assert.Empty(t, f.sim.Orders())
}

func TestOpen_EntryFallsBackToMark(t *testing.T) {
	f := newFixture(t)
	f.sim.Fail(exchange.OpFillPrice, errors.New("order not found"))
	key := state.Key{Profile: "webhook1", Symbol: "ETHUSDT"}

	result, err := f.engine.Open(context.Background(), OpenRequest{Key: key, Side: exchange.SideBuy})
	require.NoError(t, err)
	assert.Equal(t, 2000.0, result.EntryPrice)
	assert.Equal(t, 2000.0, f.store.Get(key).EntryPrice)
}
