package fill

import (
	"context"

	"go.uber.org/zap"

	"trades-switch/internal/exchange"
)

type priceSource interface {
	FillPrice(ctx context.Context, ref exchange.OrderRef) (float64, error)
	MarkPrice(ctx context.Context, symbol string) (float64, error)
}

// Resolver 解析刚成交订单的实际均价，查询失败时降级为标记价格。
type Resolver struct {
	venue  priceSource
	logger *zap.Logger
}

// NewResolver 创建成交价解析器。
func NewResolver(venue priceSource, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		venue:  venue,
		logger: logger,
	}
}

// ExitPrice 返回平仓单成交均价，依次降级为标记价格和 lastKnown，不返回错误。
func (r *Resolver) ExitPrice(ctx context.Context, ref exchange.OrderRef, lastKnown float64) float64 {
	if price, ok := r.fillPrice(ctx, ref); ok {
		return price
	}

	mark, err := r.venue.MarkPrice(ctx, ref.Symbol)
	if err == nil && mark > 0 {
		r.logger.Warn("成交均价不可用，使用标记价格",
			zap.String("symbol", ref.Symbol),
			zap.String("order_id", ref.ID),
			zap.Float64("mark_price", mark),
		)
		return mark
	}

	r.logger.Error("标记价格不可用，使用最近已知价格",
		zap.String("symbol", ref.Symbol),
		zap.String("order_id", ref.ID),
		zap.Float64("last_known", lastKnown),
		zap.Error(err),
	)
	return lastKnown
}

// EntryPrice 返回开仓单成交均价，不可用时使用定量时的标记价格。
func (r *Resolver) EntryPrice(ctx context.Context, ref exchange.OrderRef, mark float64) float64 {
	if price, ok := r.fillPrice(ctx, ref); ok {
		return price
	}
	r.logger.Warn("开仓成交均价不可用，使用标记价格",
		zap.String("symbol", ref.Symbol),
		zap.String("order_id", ref.ID),
		zap.Float64("mark_price", mark),
	)
	return mark
}

func (r *Resolver) fillPrice(ctx context.Context, ref exchange.OrderRef) (float64, bool) {
	price, err := r.venue.FillPrice(ctx, ref)
	if err != nil {
		r.logger.Warn("查询成交均价失败",
			zap.String("symbol", ref.Symbol),
			zap.String("order_id", ref.ID),
			zap.Error(err),
		)
		return 0, false
	}
	if price <= 0 {
		return 0, false
	}
	return price, true
}
