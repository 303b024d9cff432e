package exchange

import (
	"context"
	"time"
)

// Side 表示下单方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite 返回反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// MarketOrder 描述一笔市价委托。
type MarketOrder struct {
	Symbol     string
	Side       Side
	Quantity   float64
	ReduceOnly bool
	ClientID   string
}

// OrderRef 是已提交订单的句柄，后续查询成交价或撤单时使用。
type OrderRef struct {
	Symbol   string
	ID       string
	ClientID string
}

// LotConstraints 为交易所的数量精度与最小下单量。
type LotConstraints struct {
	Step   float64
	MinQty float64
}

// Quote 聚合开仓定量所需的标记价格与数量规则。
type Quote struct {
	Symbol      string
	MarkPrice   float64
	Lot         LotConstraints
	RetrievedAt time.Time
}

// Futures 抽象永续合约交易能力，真实交易所与模拟撮合均实现该接口。
// symbol 一律使用交易所原生格式，例如 ETHUSDT。
type Futures interface {
	// Position 返回带方向的持仓数量，>0 多头，<0 空头，0 无仓位。
	Position(ctx context.Context, symbol string) (float64, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceMarketOrder(ctx context.Context, order MarketOrder) (OrderRef, error)
	// FillPrice 返回订单的平均成交价，尚无成交价时返回 ErrFillNotFound。
	FillPrice(ctx context.Context, ref OrderRef) (float64, error)
	MarkPrice(ctx context.Context, symbol string) (float64, error)
	LotConstraints(ctx context.Context, symbol string) (LotConstraints, error)
	CancelOrder(ctx context.Context, ref OrderRef) error
	OpenReduceOnlyOrders(ctx context.Context, symbol string) ([]OrderRef, error)
}
