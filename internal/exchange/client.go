package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"trades-switch/internal/config"
)

// Client 通过 ccxt 对接 Binance USDⓈ-M 永续合约，查询类调用带重试。
type Client struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	exchange *ccxt.Binanceusdm

	marketsMu     sync.Mutex
	marketsLoaded bool
}

var _ Futures = (*Client)(nil)

// NewClient 构造 Binance USDⓈ-M 客户端。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("exchange: 缺少 API Key/Secret，无法初始化实盘客户端")
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"apiKey":          cfg.APIKey,
		"secret":          cfg.APISecret,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
	}, nil
}

// Position 返回带方向的持仓数量。
func (c *Client) Position(ctx context.Context, symbol string) (float64, error) {
	unified := c.unified(symbol)

	var raw []ccxt.Position
	err := c.callWithRetry(ctx, "fetch_positions", func() error {
		positions, err := c.exchange.FetchPositions()
		if err != nil {
			return err
		}
		raw = positions
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("exchange: 查询持仓失败: %w", err)
	}

	return signedPosition(raw, unified), nil
}

// SetLeverage 设置合约杠杆。
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage <= 0 {
		return fmt.Errorf("exchange: 无效杠杆 %d", leverage)
	}
	unified := c.unified(symbol)

	err := c.callWithRetry(ctx, "set_leverage", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		_, err := c.exchange.SetLeverage(int64(leverage), ccxt.WithSetLeverageSymbol(unified))
		return err
	})
	if err != nil {
		return fmt.Errorf("exchange: 设置杠杆失败: %w", err)
	}
	return nil
}

// PlaceMarketOrder 提交市价单。下单不做自动重试，避免重复成交。
func (c *Client) PlaceMarketOrder(ctx context.Context, order MarketOrder) (OrderRef, error) {
	if order.Quantity <= 0 {
		return OrderRef{}, fmt.Errorf("exchange: 无效下单数量 %f", order.Quantity)
	}
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return OrderRef{}, err
	}
	if err := ctx.Err(); err != nil {
		return OrderRef{}, err
	}

	unified := c.unified(order.Symbol)
	params := map[string]interface{}{
		"reduceOnly": order.ReduceOnly,
	}
	if order.ClientID != "" {
		params["newClientOrderId"] = order.ClientID
	}

	start := time.Now()
	placed, err := c.exchange.CreateMarketOrder(
		unified,
		string(order.Side),
		order.Quantity,
		ccxt.WithCreateMarketOrderParams(params),
	)
	if err != nil {
		normalized, _ := c.classifyError(err)
		c.logger.Error("提交市价单失败",
			zap.String("symbol", order.Symbol),
			zap.String("side", string(order.Side)),
			zap.Float64("quantity", order.Quantity),
			zap.Bool("reduce_only", order.ReduceOnly),
			zap.Duration("latency", time.Since(start)),
			zap.Error(normalized),
		)
		return OrderRef{}, fmt.Errorf("exchange: 提交市价单失败: %w", normalized)
	}

	ref := OrderRef{
		Symbol:   order.Symbol,
		ID:       derefString(placed.Id),
		ClientID: order.ClientID,
	}
	c.logger.Info("市价单已提交",
		zap.String("symbol", order.Symbol),
		zap.String("order_id", ref.ID),
		zap.String("client_order_id", ref.ClientID),
		zap.String("side", string(order.Side)),
		zap.Float64("quantity", order.Quantity),
		zap.Bool("reduce_only", order.ReduceOnly),
		zap.Duration("latency", time.Since(start)),
	)
	return ref, nil
}

// FillPrice 查询订单平均成交价。
func (c *Client) FillPrice(ctx context.Context, ref OrderRef) (float64, error) {
	if ref.ID == "" {
		return 0, ErrFillNotFound
	}
	unified := c.unified(ref.Symbol)

	var raw ccxt.Order
	err := c.callWithRetry(ctx, "fetch_order", func() error {
		order, err := c.exchange.FetchOrder(ref.ID, ccxt.WithFetchOrderSymbol(unified))
		if err != nil {
			return err
		}
		raw = order
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("exchange: 查询订单失败: %w", err)
	}

	if avg := derefFloat(raw.Average); avg > 0 {
		return avg, nil
	}
	if raw.Info != nil {
		if avg := parseNumeric(raw.Info["avgPrice"]); avg > 0 {
			return avg, nil
		}
	}
	return 0, ErrFillNotFound
}

// MarkPrice 通过资金费率接口读取标记价格。
func (c *Client) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	unified := c.unified(symbol)

	var raw ccxt.FundingRate
	err := c.callWithRetry(ctx, "fetch_mark_price", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		rate, err := c.exchange.FetchFundingRate(unified)
		if err != nil {
			return err
		}
		raw = rate
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("exchange: 查询标记价格失败: %w", err)
	}

	mark := derefFloat(raw.MarkPrice)
	if mark <= 0 && raw.Info != nil {
		mark = parseNumeric(raw.Info["markPrice"])
	}
	if mark <= 0 {
		return 0, fmt.Errorf("exchange: %s 标记价格无效", symbol)
	}
	return mark, nil
}

// LotConstraints 从市场元数据中读取 LOT_SIZE 规则。
func (c *Client) LotConstraints(ctx context.Context, symbol string) (LotConstraints, error) {
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return LotConstraints{}, err
	}

	unified := c.unified(symbol)
	market, err := c.market(unified)
	if err != nil {
		return LotConstraints{}, err
	}

	lot, err := lotFromMarket(market)
	if err != nil {
		return LotConstraints{}, fmt.Errorf("exchange: %s: %w", symbol, err)
	}
	return lot, nil
}

// CancelOrder 撤销订单。
func (c *Client) CancelOrder(ctx context.Context, ref OrderRef) error {
	unified := c.unified(ref.Symbol)
	err := c.callWithRetry(ctx, "cancel_order", func() error {
		_, err := c.exchange.CancelOrder(ref.ID, ccxt.WithCancelOrderSymbol(unified))
		return err
	})
	if err != nil {
		return fmt.Errorf("exchange: 撤单失败 %s: %w", ref.ID, err)
	}
	return nil
}

// OpenReduceOnlyOrders 列出仍挂着的只减仓委托（止损/止盈单）。
func (c *Client) OpenReduceOnlyOrders(ctx context.Context, symbol string) ([]OrderRef, error) {
	unified := c.unified(symbol)

	var raw []ccxt.Order
	err := c.callWithRetry(ctx, "fetch_open_orders", func() error {
		orders, err := c.exchange.FetchOpenOrders(ccxt.WithFetchOpenOrdersSymbol(unified))
		if err != nil {
			return err
		}
		raw = orders
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("exchange: 查询挂单失败: %w", err)
	}

	refs := make([]OrderRef, 0, len(raw))
	for _, order := range raw {
		if !isReduceOnly(order) {
			continue
		}
		refs = append(refs, OrderRef{
			Symbol:   symbol,
			ID:       derefString(order.Id),
			ClientID: derefString(order.ClientOrderId),
		})
	}
	return refs, nil
}

func (c *Client) unified(symbol string) string {
	return UnifiedSymbol(symbol, c.cfg.QuoteCurrencies)
}

func (c *Client) market(unified string) (market interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s (%v)", ErrUnknownSymbol, unified, r)
		}
	}()
	market = c.exchange.Market(unified)
	if market == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, unified)
	}
	return market, nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	loadErr := c.callWithRetry(ctx, "load_markets", func() error {
		_, err := c.exchange.LoadMarkets()
		return err
	})
	if loadErr != nil {
		return loadErr
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.String("exchange", c.cfg.Name))
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := c.classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= maxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (c *Client) classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		if ccxtErr.Type == ccxt.OnMaintenanceErrType {
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		}
		return err, IsRetryable(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}

	return err, false
}

func isReduceOnly(order ccxt.Order) bool {
	if order.ReduceOnly != nil {
		return *order.ReduceOnly
	}
	if order.Info == nil {
		return false
	}
	switch v := order.Info["reduceOnly"].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	return false
}

func signedPosition(raw []ccxt.Position, unified string) float64 {
	var total float64
	for _, pos := range raw {
		if !strings.EqualFold(derefString(pos.Symbol), unified) {
			continue
		}
		size := derefFloat(pos.Contracts)
		if size == 0 {
			continue
		}
		if size < 0 {
			total += size
			continue
		}
		if strings.EqualFold(strings.TrimSpace(derefString(pos.Side)), "short") {
			total -= size
		} else {
			total += size
		}
	}
	return total
}
