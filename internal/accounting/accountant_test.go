package accounting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"trades-switch/internal/metrics"
	"trades-switch/internal/state"
)

const feeRate = 0.0004

func openPosition(store *state.Store, key state.Key, entry, qty float64, leverage int) {
	store.Update(key, func(r *state.Record) {
		r.EntryPrice = entry
		r.PositionQty = qty
		r.Leverage = leverage
		r.EntryTime = "2024-03-01 09:00:00"
	})
}

func TestCompute_LongExample(t *testing.T) {
	pnl, err := Compute(100, 105, 5, feeRate, true)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, pnl.Raw, 1e-12)
	assert.InDelta(t, 0.004, pnl.Fee, 1e-12)
	assert.InDelta(t, 0.246, pnl.Net, 1e-12)
}

func TestCompute_ShortExit(t *testing.T) {
	pnl, err := Compute(105, 100, 1, feeRate, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, pnl.PriceChange, 1e-12)
	assert.InDelta(t, 0.05-0.0008, pnl.Net, 1e-12)
}

func TestCompute_Errors(t *testing.T) {
	_, err := Compute(100, 0, 5, feeRate, true)
	require.ErrorIs(t, err, ErrInvalidPrice)

	_, err = Compute(-1, 100, 5, feeRate, true)
	require.ErrorIs(t, err, ErrInvalidPrice)

	_, err = Compute(100, 105, 0, feeRate, true)
	require.Error(t, err)
}

func TestSettle_Compounding(t *testing.T) {
	store := state.NewStore(100, nil)
	recorder := metrics.New()
	acct := NewAccountant(store, feeRate, recorder, zaptest.NewLogger(t))
	key := state.Key{Profile: "webhook1", Symbol: "ETHUSDT"}
	openPosition(store, key, 100, 2.5, 5)

	settlement, err := acct.Settle(key, true, 105, false)
	require.NoError(t, err)
	assert.InDelta(t, 24.6, settlement.PnLPercent(), 1e-9)
	assert.InDelta(t, 100.0, settlement.CapitalBefore, 1e-12)
	assert.InDelta(t, 100*(1+0.246), settlement.CapitalAfter, 1e-9)
	assert.Equal(t, 2.5, settlement.Quantity)

	rec := store.Get(key)
	assert.InDelta(t, settlement.CapitalBefore*(1+settlement.PnL.Net), rec.Capital, 1e-9)
	assert.InDelta(t, 24.6, rec.DailyPnL, 1e-9)
	assert.Equal(t, state.SideNone, rec.Side())
	assert.Zero(t, rec.EntryPrice)
	assert.Zero(t, rec.PositionQty)
	assert.Equal(t, 100.0, rec.InitialCapital)
}

func TestSettle_FixedBase(t *testing.T) {
	store := state.NewStore(100, nil)
	acct := NewAccountant(store, feeRate, nil, nil)
	key := state.Key{Profile: "webhook2", Symbol: "ETHUSDT"}
	openPosition(store, key, 2000, -0.1, 2)
	store.Update(key, func(r *state.Record) { r.DailyPnL = 1.5 })

	settlement, err := acct.Settle(key, false, 2100, true)
	require.NoError(t, err)
	assert.Less(t, settlement.PnLPercent(), 0.0)

	rec := store.Get(key)
	assert.Equal(t, 100.0, rec.Capital)
	assert.InDelta(t, 1.5+settlement.PnLPercent(), rec.DailyPnL, 1e-9)
	assert.True(t, rec.Flat())
}

func TestSettle_NoPosition(t *testing.T) {
	store := state.NewStore(100, nil)
	acct := NewAccountant(store, feeRate, nil, zaptest.NewLogger(t))
	key := state.Key{Profile: "webhook1", Symbol: "ETHUSDT"}
	store.Update(key, func(r *state.Record) { r.PositionQty = 1 })
	before := store.Get(key)

	settlement, err := acct.Settle(key, true, 105, false)
	require.ErrorIs(t, err, ErrNoPosition)
	assert.Zero(t, settlement.PnLPercent())
	assert.Equal(t, before, store.Get(key))
}

func TestSettle_ComputationErrorPropagates(t *testing.T) {
	store := state.NewStore(100, nil)
	acct := NewAccountant(store, feeRate, nil, nil)
	key := state.Key{Profile: "webhook1", Symbol: "ETHUSDT"}
	openPosition(store, key, 100, 1, 5)
	before := store.Get(key)

	_, err := acct.Settle(key, true, 0, false)
	require.ErrorIs(t, err, ErrInvalidPrice)
	assert.NotErrorIs(t, err, ErrNoPosition)
	assert.Equal(t, before, store.Get(key))
}
