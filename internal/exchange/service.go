package exchange

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// QuoteService 并发拉取开仓定量所需的标记价格与数量规则。
type QuoteService struct {
	venue  Futures
	logger *zap.Logger
}

// NewQuoteService 创建报价服务。
func NewQuoteService(venue Futures, logger *zap.Logger) *QuoteService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuoteService{
		venue:  venue,
		logger: logger,
	}
}

// GetQuote 获取 symbol 的标记价格及 LOT_SIZE 规则，任一失败即返回错误。
func (s *QuoteService) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	var (
		mark float64
		lot  LotConstraints
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		price, err := s.venue.MarkPrice(groupCtx, symbol)
		if err != nil {
			return err
		}
		mark = price
		return nil
	})

	group.Go(func() error {
		constraints, err := s.venue.LotConstraints(groupCtx, symbol)
		if err != nil {
			return err
		}
		lot = constraints
		return nil
	})

	if err := group.Wait(); err != nil {
		return Quote{}, err
	}

	if !(mark > 0) || math.IsInf(mark, 0) {
		return Quote{}, fmt.Errorf("exchange: %s 标记价格无效 %f", symbol, mark)
	}

	quote := Quote{
		Symbol:      symbol,
		MarkPrice:   mark,
		Lot:         lot,
		RetrievedAt: time.Now().UTC(),
	}

	s.logger.Debug("开仓报价获取完成",
		zap.String("symbol", quote.Symbol),
		zap.Float64("mark_price", quote.MarkPrice),
		zap.Float64("step", quote.Lot.Step),
		zap.Float64("min_qty", quote.Lot.MinQty),
	)

	return quote, nil
}
