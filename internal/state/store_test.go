package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fixedClock() func() time.Time {
	ts := time.Date(2024, 3, 1, 0, 30, 0, 0, time.UTC)
	return func() time.Time { return ts }
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	return NewStore(100, zaptest.NewLogger(t), WithClock(fixedClock()), WithLocation(seoul))
}

func TestStore_GetCreatesDefaults(t *testing.T) {
	s := newTestStore(t)
	key := Key{Profile: "webhook1", Symbol: "ETHUSDT"}

	rec := s.Get(key)
	assert.Equal(t, "webhook1", rec.Profile)
	assert.Equal(t, "ETHUSDT", rec.Symbol)
	assert.Equal(t, 100.0, rec.Capital)
	assert.Equal(t, 100.0, rec.InitialCapital)
	assert.Equal(t, 1, rec.Leverage)
	assert.Zero(t, rec.TradeCount)
	assert.Equal(t, SideNone, rec.Side())
	assert.Equal(t, "2024-03-01 09:30:00", rec.LastReset)
}

func TestStore_UpdateMergesInPlace(t *testing.T) {
	s := newTestStore(t)
	key := Key{Profile: "webhook1", Symbol: "ETHUSDT"}

	s.Update(key, func(r *Record) {
		r.EntryPrice = 2000
		r.PositionQty = -0.5
	})
	rec := s.Update(key, func(r *Record) {
		r.ShortCount++
		r.Profile = "other"
	})

	assert.Equal(t, 2000.0, rec.EntryPrice)
	assert.Equal(t, -0.5, rec.PositionQty)
	assert.Equal(t, 1, rec.ShortCount)
	assert.Equal(t, SideShort, rec.Side())
	assert.Equal(t, "webhook1", rec.Profile)
	assert.Equal(t, rec, s.Get(key))
}

func TestStore_ModifyErrorLeavesRecord(t *testing.T) {
	s := newTestStore(t)
	key := Key{Profile: "webhook1", Symbol: "ETHUSDT"}
	before := s.Get(key)

	_, err := s.Modify(key, func(r *Record) error {
		r.Capital = 0
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, before, s.Get(key))
}

func TestStore_Reset(t *testing.T) {
	s := newTestStore(t)
	key := Key{Profile: "webhook2", Symbol: "BTCUSDT"}
	s.Update(key, func(r *Record) {
		r.Capital = 124.6
		r.TradeCount = 3
		r.LongCount = 2
		r.ShortCount = 1
		r.DailyPnL = 24.6
		r.EntryPrice = 60000
		r.PositionQty = 0.01
		r.EntryTime = "2024-03-01 08:00:00"
	})

	rec := s.Reset(key, "2024-02-29")
	assert.Equal(t, 124.6, rec.Capital)
	assert.Equal(t, 124.6, rec.InitialCapital)
	assert.Zero(t, rec.TradeCount)
	assert.Zero(t, rec.LongCount)
	assert.Zero(t, rec.ShortCount)
	assert.Zero(t, rec.DailyPnL)
	assert.Zero(t, rec.PositionQty)
	assert.Zero(t, rec.EntryPrice)
	assert.Equal(t, SideNone, rec.Side())
	assert.Equal(t, "2024-02-29", rec.LastReset)

	again := s.Reset(key, "2024-02-29")
	assert.Equal(t, rec, again)
}

func TestStore_ListSymbolsAndLookup(t *testing.T) {
	s := newTestStore(t)
	s.Get(Key{Profile: "webhook1", Symbol: "SOLUSDT"})
	s.Get(Key{Profile: "webhook1", Symbol: "BTCUSDT"})
	s.Get(Key{Profile: "webhook2", Symbol: "ETHUSDT"})

	assert.Equal(t, []string{"BTCUSDT", "SOLUSDT"}, s.ListSymbols("webhook1"))
	assert.Empty(t, s.ListSymbols("webhook3"))

	_, ok := s.Lookup(Key{Profile: "webhook3", Symbol: "ETHUSDT"})
	assert.False(t, ok)
	assert.Empty(t, s.ListSymbols("webhook3"))
}

func TestStore_AcquireSerializesKey(t *testing.T) {
	s := newTestStore(t)
	key := Key{Profile: "webhook1", Symbol: "ETHUSDT"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := s.Acquire(context.Background(), key)
			if err != nil {
				return
			}
			defer release()
			rec := s.Get(key)
			s.Update(key, func(r *Record) { r.TradeCount = rec.TradeCount + 1 })
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, s.Get(key).TradeCount)
}

func TestStore_AcquireHonoursContext(t *testing.T) {
	s := newTestStore(t)
	key := Key{Profile: "webhook1", Symbol: "ETHUSDT"}

	release, err := s.Acquire(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx, key)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()

	other, err := s.Acquire(context.Background(), key)
	require.NoError(t, err)
	other()
}

func TestStore_DefaultCapitalFallback(t *testing.T) {
	s := NewStore(0, nil)
	assert.Equal(t, 100.0, s.Get(Key{Profile: "p", Symbol: "s"}).Capital)
}
