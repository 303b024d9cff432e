package sizing

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"trades-switch/internal/config"
	"trades-switch/internal/exchange"
	"trades-switch/internal/id"
	"trades-switch/internal/metrics"
	"trades-switch/internal/state"
)

const clientOrderPrefix = "sw-"

type orderVenue interface {
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceMarketOrder(ctx context.Context, order exchange.MarketOrder) (exchange.OrderRef, error)
}

type quoter interface {
	GetQuote(ctx context.Context, symbol string) (exchange.Quote, error)
}

type entryResolver interface {
	EntryPrice(ctx context.Context, ref exchange.OrderRef, mark float64) float64
}

// OpenRequest 描述一次开仓。
type OpenRequest struct {
	Key       state.Key
	Side      exchange.Side
	Leverage  int
	FixedBase bool
}

// Fill 为开仓结果。
type Fill struct {
	Order      exchange.OrderRef `json:"-"`
	Side       exchange.Side     `json:"-"`
	Quantity   float64           `json:"filled"`
	EntryPrice float64           `json:"entry"`
	Leverage   int               `json:"-"`
	Allocation float64           `json:"-"`
}

// Engine 根据资金基数、杠杆与数量规则计算并提交开仓单。
type Engine struct {
	venue    orderVenue
	quotes   quoter
	resolver entryResolver
	store    *state.Store
	cfg      config.TradingConfig
	metrics  *metrics.Recorder
	logger   *zap.Logger
}

// NewEngine 创建开仓引擎。
func NewEngine(
	venue orderVenue,
	quotes quoter,
	resolver entryResolver,
	store *state.Store,
	cfg config.TradingConfig,
	recorder *metrics.Recorder,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		venue:    venue,
		quotes:   quotes,
		resolver: resolver,
		store:    store,
		cfg:      cfg,
		metrics:  recorder,
		logger:   logger,
	}
}

// Open 设置杠杆、计算数量并提交市价开仓单，成交后写回账本。
func (e *Engine) Open(ctx context.Context, req OpenRequest) (Fill, error) {
	symbol := req.Key.Symbol
	leverage := req.Leverage
	if leverage <= 0 {
		leverage = e.cfg.Leverage
	}
	if leverage <= 0 {
		return Fill{}, fmt.Errorf("sizing: 杠杆无效 %d", leverage)
	}

	if err := e.venue.SetLeverage(ctx, symbol, leverage); err != nil {
		return Fill{}, fmt.Errorf("sizing: 设置 %s 杠杆失败: %w", symbol, err)
	}

	quote, err := e.quotes.GetQuote(ctx, symbol)
	if err != nil {
		return Fill{}, fmt.Errorf("sizing: 获取 %s 报价失败: %w", symbol, err)
	}

	rec := e.store.Get(req.Key)
	base := rec.Capital
	if req.FixedBase {
		base = rec.InitialCapital
	}

	allocation := base * e.cfg.BuyPct * float64(leverage)
	raw := allocation / quote.MarkPrice

	qty, err := Quantize(raw, quote.Lot)
	if err != nil {
		if errors.Is(err, ErrBelowMinimum) {
			e.metrics.ObserveSizingRejection(req.Key.Profile)
			e.logger.Warn("开仓数量低于最小下单量，拒绝下单",
				zap.String("profile", req.Key.Profile),
				zap.String("symbol", symbol),
				zap.Float64("base_capital", base),
				zap.Float64("allocation", allocation),
				zap.Float64("mark_price", quote.MarkPrice),
				zap.Float64("raw_qty", raw),
				zap.Float64("step", quote.Lot.Step),
				zap.Float64("min_qty", quote.Lot.MinQty),
			)
		}
		return Fill{}, err
	}
	quantity := qty.InexactFloat64()

	ref, err := e.venue.PlaceMarketOrder(ctx, exchange.MarketOrder{
		Symbol:   symbol,
		Side:     req.Side,
		Quantity: quantity,
		ClientID: id.ClientOrderID(clientOrderPrefix),
	})
	if err != nil {
		return Fill{}, fmt.Errorf("sizing: %s 开仓下单失败: %w", symbol, err)
	}
	e.metrics.ObserveOrder(string(req.Side), false)

	entry := e.resolver.EntryPrice(ctx, ref, quote.MarkPrice)

	signed := quantity
	if req.Side == exchange.SideSell {
		signed = -quantity
	}
	now := e.store.Now().Format(state.TimestampLayout)
	updated := e.store.Update(req.Key, func(r *state.Record) {
		r.EntryPrice = entry
		r.PositionQty = signed
		r.Leverage = leverage
		r.EntryTime = now
		r.TradeCount++
		if req.Side == exchange.SideBuy {
			r.LongCount++
		} else {
			r.ShortCount++
		}
	})
	e.metrics.SetLedger(req.Key.Profile, symbol, updated.Capital, updated.DailyPnL)

	e.logger.Info("开仓完成",
		zap.String("profile", req.Key.Profile),
		zap.String("symbol", symbol),
		zap.String("side", string(req.Side)),
		zap.String("order_id", ref.ID),
		zap.String("client_order_id", ref.ClientID),
		zap.String("quantity", qty.StringFixed(Precision(quote.Lot.Step))),
		zap.Float64("entry_price", entry),
		zap.Int("leverage", leverage),
		zap.Float64("allocation", allocation),
		zap.Bool("fixed_base", req.FixedBase),
	)

	return Fill{
		Order:      ref,
		Side:       req.Side,
		Quantity:   quantity,
		EntryPrice: entry,
		Leverage:   leverage,
		Allocation: allocation,
	}, nil
}
