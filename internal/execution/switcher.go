package execution

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"trades-switch/internal/accounting"
	"trades-switch/internal/exchange"
	"trades-switch/internal/id"
	"trades-switch/internal/metrics"
	"trades-switch/internal/position"
	"trades-switch/internal/sizing"
	"trades-switch/internal/state"
)

const closeOrderPrefix = "sw-close-"

type venue interface {
	Position(ctx context.Context, symbol string) (float64, error)
	PlaceMarketOrder(ctx context.Context, order exchange.MarketOrder) (exchange.OrderRef, error)
	CancelOrder(ctx context.Context, ref exchange.OrderRef) error
	OpenReduceOnlyOrders(ctx context.Context, symbol string) ([]exchange.OrderRef, error)
}

type reconciler interface {
	WaitFor(ctx context.Context, symbol string, target float64) (position.Outcome, error)
}

type exitResolver interface {
	ExitPrice(ctx context.Context, ref exchange.OrderRef, lastKnown float64) float64
}

type settler interface {
	Settle(key state.Key, longExit bool, exitPrice float64, fixedBase bool) (accounting.Settlement, error)
}

type opener interface {
	Open(ctx context.Context, req sizing.OpenRequest) (sizing.Fill, error)
}

// Options 控制切换器行为。
type Options struct {
	DryRun bool
	// StrictReconcile 为 true 时平仓同步超时直接返回 ErrReconcileTimeout。
	StrictReconcile bool
}

// Deps 聚合切换器依赖的组件。
type Deps struct {
	Venue      venue
	Store      *state.Store
	Reconciler reconciler
	Resolver   exitResolver
	Accountant settler
	Opener     opener
	Metrics    *metrics.Recorder
}

// Switcher 根据交易所实际仓位与信号动作决定跳过、平仓、反手或开仓。
type Switcher struct {
	venue      venue
	store      *state.Store
	reconciler reconciler
	resolver   exitResolver
	accountant settler
	opener     opener
	metrics    *metrics.Recorder
	opts       Options
	logger     *zap.Logger
}

// NewSwitcher 创建仓位切换器。
func NewSwitcher(deps Deps, opts Options, logger *zap.Logger) *Switcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Switcher{
		venue:      deps.Venue,
		store:      deps.Store,
		reconciler: deps.Reconciler,
		resolver:   deps.Resolver,
		accountant: deps.Accountant,
		opener:     deps.Opener,
		metrics:    deps.Metrics,
		opts:       opts,
		logger:     logger,
	}
}

// Switch 处理一次信号。同一 profile/symbol 的请求串行执行。
func (s *Switcher) Switch(ctx context.Context, req Request) (result Result, err error) {
	symbol := exchange.NormalizeSymbol(req.Symbol)
	action, known := ParseAction(req.Action)
	if req.RequestID == "" {
		req.RequestID = id.New()
	}

	logger := s.logger.With(
		zap.String("request_id", req.RequestID),
		zap.String("profile", req.Profile),
		zap.String("symbol", symbol),
		zap.String("action", string(action)),
	)

	label := string(action)
	if !known {
		label = unknownActionLabel
	}
	defer func() {
		outcome := result.Outcome()
		if err != nil {
			outcome = "error"
		}
		s.metrics.ObserveSwitch(req.Profile, label, outcome)
	}()

	if symbol == "" || req.Profile == "" {
		return Result{}, fmt.Errorf("%w: symbol=%q profile=%q", ErrInvalidRequest, req.Symbol, req.Profile)
	}

	if s.opts.DryRun {
		logger.Info("模拟模式，跳过交易所交互")
		return skipped(ReasonDryRun), nil
	}
	if !known {
		logger.Warn("未知动作，忽略请求")
		return skipped(ReasonUnknownAction), nil
	}

	key := state.Key{Profile: req.Profile, Symbol: symbol}
	release, err := s.store.Acquire(ctx, key)
	if err != nil {
		return Result{}, err
	}
	defer release()

	current, err := s.venue.Position(ctx, symbol)
	if err != nil {
		return Result{}, fmt.Errorf("execution: 查询 %s 仓位失败: %w", symbol, err)
	}
	logger = logger.With(zap.Float64("current_position", current))

	switch action {
	case ActionBuy:
		if current > 0 {
			logger.Info("已持有多仓，跳过")
			return skipped(ReasonAlreadyLong), nil
		}
		return s.enter(ctx, logger, key, req, exchange.SideBuy, current)
	case ActionSell:
		if current < 0 {
			logger.Info("已持有空仓，跳过")
			return skipped(ReasonAlreadyShort), nil
		}
		return s.enter(ctx, logger, key, req, exchange.SideSell, current)
	case ActionBuyStop:
		if current <= 0 {
			logger.Info("无可平多仓，跳过")
			return skipped(ReasonNoMatchingPosition), nil
		}
		return s.exit(ctx, logger, key, req, current, "buy_stop")
	case ActionSellStop:
		if current >= 0 {
			logger.Info("无可平空仓，跳过")
			return skipped(ReasonNoMatchingPosition), nil
		}
		return s.exit(ctx, logger, key, req, current, "sell_stop")
	}
	return skipped(ReasonUnknownAction), nil
}

// enter 开仓，若持有反向仓位先平仓结算。
func (s *Switcher) enter(ctx context.Context, logger *zap.Logger, key state.Key, req Request, side exchange.Side, current float64) (Result, error) {
	s.cancelProtective(ctx, logger, key.Symbol)

	var closed *Closed
	if current != 0 {
		c, err := s.closePosition(ctx, logger, key, req, current)
		if err != nil {
			return Result{Closed: c}, err
		}
		closed = c
	}

	fill, err := s.opener.Open(ctx, sizing.OpenRequest{
		Key:       key,
		Side:      side,
		Leverage:  req.Leverage,
		FixedBase: req.FixedBase,
	})
	if err != nil {
		return Result{}, err
	}

	result := Result{Closed: closed}
	if side == exchange.SideBuy {
		result.Buy = &fill
	} else {
		result.Sell = &fill
	}
	return result, nil
}

// exit 平仓并返回出场价与收益。
func (s *Switcher) exit(ctx context.Context, logger *zap.Logger, key state.Key, req Request, current float64, done string) (Result, error) {
	s.cancelProtective(ctx, logger, key.Symbol)

	closed, err := s.closePosition(ctx, logger, key, req, current)
	if closed == nil {
		return Result{}, err
	}
	return Result{
		Done:      done,
		ExitPrice: &closed.ExitPrice,
		PnL:       &closed.PnL,
	}, err
}

// closePosition 提交只减仓平仓单并结算。返回非 nil 的 Closed 表示账本已结算，
// 此时 error 仍可能携带等待阶段的 ctx 取消错误。
func (s *Switcher) closePosition(ctx context.Context, logger *zap.Logger, key state.Key, req Request, current float64) (*Closed, error) {
	longExit := current > 0
	side := exchange.SideBuy
	if longExit {
		side = exchange.SideSell
	}

	ref, err := s.venue.PlaceMarketOrder(ctx, exchange.MarketOrder{
		Symbol:     key.Symbol,
		Side:       side,
		Quantity:   math.Abs(current),
		ReduceOnly: true,
		ClientID:   id.ClientOrderID(closeOrderPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("execution: %s 平仓下单失败: %w", key.Symbol, err)
	}
	s.metrics.ObserveOrder(string(side), true)
	logger.Info("已提交平仓单",
		zap.String("order_id", ref.ID),
		zap.String("client_order_id", ref.ClientID),
		zap.Float64("quantity", math.Abs(current)),
	)

	var waitErr error
	outcome, err := s.reconciler.WaitFor(ctx, key.Symbol, 0)
	switch {
	case err != nil:
		// 平仓单已提交，后续结算脱离请求的取消信号
		logger.Warn("等待平仓同步被中断，继续结算", zap.String("order_id", ref.ID), zap.Error(err))
		waitErr = fmt.Errorf("execution: 等待 %s 平仓同步中断: %w", key.Symbol, err)
		ctx = context.WithoutCancel(ctx)
	case outcome == position.OutcomeTimedOut && s.opts.StrictReconcile:
		logger.Error("平仓同步超时，严格模式终止后续操作", zap.String("order_id", ref.ID))
		return nil, fmt.Errorf("%w: %s", ErrReconcileTimeout, key.Symbol)
	case outcome == position.OutcomeTimedOut:
		logger.Warn("平仓同步超时，继续执行", zap.String("order_id", ref.ID))
	}

	s.cancelProtective(ctx, logger, key.Symbol)

	rec := s.store.Get(key)
	exitPrice := s.resolver.ExitPrice(ctx, ref, rec.EntryPrice)

	settlement, err := s.accountant.Settle(key, longExit, exitPrice, req.FixedBase)
	switch {
	case errors.Is(err, accounting.ErrNoPosition):
		// 交易所已平仓，账本同步为空仓
		s.store.Update(key, func(r *state.Record) {
			r.ClearPosition()
			r.EntryTime = ""
		})
		return &Closed{ExitPrice: exitPrice}, waitErr
	case err != nil:
		return nil, fmt.Errorf("execution: %s 平仓结算失败: %w", key.Symbol, err)
	}

	return &Closed{ExitPrice: exitPrice, PnL: settlement.PnLPercent()}, waitErr
}

// cancelProtective 撤销所有只减仓挂单，失败只记录日志。
func (s *Switcher) cancelProtective(ctx context.Context, logger *zap.Logger, symbol string) {
	orders, err := s.venue.OpenReduceOnlyOrders(ctx, symbol)
	if err != nil {
		logger.Warn("查询只减仓挂单失败", zap.Error(err))
		return
	}
	for _, order := range orders {
		if err := s.venue.CancelOrder(ctx, order); err != nil {
			logger.Warn("撤销只减仓挂单失败",
				zap.String("order_id", order.ID),
				zap.Error(err),
			)
			continue
		}
		logger.Info("已撤销只减仓挂单", zap.String("order_id", order.ID))
	}
}
