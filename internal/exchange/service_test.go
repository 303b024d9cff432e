package exchange

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestQuoteService_GetQuote(t *testing.T) {
	sim := NewSimulator()
	sim.SetMarkPrice("ETHUSDT", 2500)
	sim.SetLot("ETHUSDT", LotConstraints{Step: 0.01, MinQty: 0.02})

	quote, err := NewQuoteService(sim, zaptest.NewLogger(t)).GetQuote(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", quote.Symbol)
	assert.Equal(t, 2500.0, quote.MarkPrice)
	assert.Equal(t, 0.01, quote.Lot.Step)
	assert.Equal(t, 0.02, quote.Lot.MinQty)
	assert.False(t, quote.RetrievedAt.IsZero())
}

func TestQuoteService_PropagatesFailures(t *testing.T) {
	sim := NewSimulator()
	sim.SetMarkPrice("ETHUSDT", 2500)
	boom := errors.New("lot unavailable")
	sim.Fail(OpLot, boom)

	_, err := NewQuoteService(sim, nil).GetQuote(context.Background(), "ETHUSDT")
	require.ErrorIs(t, err, boom)
}

func TestQuoteService_MissingMark(t *testing.T) {
	_, err := NewQuoteService(NewSimulator(), nil).GetQuote(context.Background(), "ETHUSDT")
	require.Error(t, err)
}

func TestQuoteService_RejectsNonFiniteMark(t *testing.T) {
	for _, mark := range []float64{math.NaN(), math.Inf(1)} {
		sim := NewSimulator()
		sim.SetMarkPrice("ETHUSDT", mark)

		_, err := NewQuoteService(sim, nil).GetQuote(context.Background(), "ETHUSDT")
		require.Error(t, err, "mark=%v", mark)
	}
}
