package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// 可注入故障的操作名称。
const (
	OpPosition    = "position"
	OpSetLeverage = "set_leverage"
	OpPlaceOrder  = "place_order"
	OpFillPrice   = "fill_price"
	OpMarkPrice   = "mark_price"
	OpLot         = "lot_constraints"
	OpCancelOrder = "cancel_order"
	OpListReduce  = "open_reduce_only_orders"
)

const defaultSimStep = 0.001

// SimulatedOrder 记录模拟撮合的一笔成交。
type SimulatedOrder struct {
	Ref        OrderRef
	Side       Side
	Quantity   float64
	Price      float64
	ReduceOnly bool
}

// Simulator 是内存中的永续合约撮合器，市价单按当前标记价格立即成交。
// 用于模拟盘运行以及各组件测试。
type Simulator struct {
	mu sync.Mutex

	positions map[string]float64
	marks     map[string]float64
	lots      map[string]LotConstraints
	leverage  map[string]int
	fills     map[string]float64
	resting   map[string][]OrderRef
	failures  map[string]error

	orders   []SimulatedOrder
	canceled []OrderRef
}

var _ Futures = (*Simulator)(nil)

// NewSimulator 创建模拟撮合器。
func NewSimulator() *Simulator {
	return &Simulator{
		positions: make(map[string]float64),
		marks:     make(map[string]float64),
		lots:      make(map[string]LotConstraints),
		leverage:  make(map[string]int),
		fills:     make(map[string]float64),
		resting:   make(map[string][]OrderRef),
		failures:  make(map[string]error),
	}
}

// SetMarkPrice 设置标记价格。
func (s *Simulator) SetMarkPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[symbol] = price
}

// SetLot 设置数量规则。
func (s *Simulator) SetLot(symbol string, lot LotConstraints) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lots[symbol] = lot
}

// SetPosition 直接设置持仓，模拟外部成交或初始状态。
func (s *Simulator) SetPosition(symbol string, qty float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[symbol] = qty
}

// Fail 让指定操作持续返回 err，err 为 nil 时恢复。
func (s *Simulator) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// AddReduceOnlyOrder 挂一笔只减仓保护单。
func (s *Simulator) AddReduceOnlyOrder(symbol string) OrderRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := OrderRef{Symbol: symbol, ID: uuid.New().String()}
	s.resting[symbol] = append(s.resting[symbol], ref)
	return ref
}

// Orders 返回所有已成交的模拟订单。
func (s *Simulator) Orders() []SimulatedOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SimulatedOrder, len(s.orders))
	copy(out, s.orders)
	return out
}

// Canceled 返回被撤销的订单。
func (s *Simulator) Canceled() []OrderRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OrderRef, len(s.canceled))
	copy(out, s.canceled)
	return out
}

// Leverage 返回最近一次设置的杠杆。
func (s *Simulator) Leverage(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leverage[symbol]
}

func (s *Simulator) Position(ctx context.Context, symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpPosition); err != nil {
		return 0, err
	}
	return s.positions[symbol], nil
}

func (s *Simulator) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpSetLeverage); err != nil {
		return err
	}
	if leverage <= 0 {
		return fmt.Errorf("exchange: 无效杠杆 %d", leverage)
	}
	s.leverage[symbol] = leverage
	return nil
}

func (s *Simulator) PlaceMarketOrder(ctx context.Context, order MarketOrder) (OrderRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpPlaceOrder); err != nil {
		return OrderRef{}, err
	}
	if order.Quantity <= 0 {
		return OrderRef{}, fmt.Errorf("exchange: 无效下单数量 %f", order.Quantity)
	}
	price := s.marks[order.Symbol]
	if price <= 0 {
		return OrderRef{}, fmt.Errorf("exchange: %s 无可用标记价格", order.Symbol)
	}

	current := s.positions[order.Symbol]
	qty := order.Quantity
	delta := qty
	if order.Side == SideSell {
		delta = -qty
	}

	if order.ReduceOnly {
		if current == 0 || (current > 0) == (delta > 0) {
			return OrderRef{}, errors.New("exchange: ReduceOnly Order is rejected")
		}
		if qty > math.Abs(current) {
			qty = math.Abs(current)
			delta = math.Copysign(qty, delta)
		}
	}

	s.positions[order.Symbol] = current + delta

	ref := OrderRef{Symbol: order.Symbol, ID: uuid.New().String(), ClientID: order.ClientID}
	s.fills[ref.ID] = price
	s.orders = append(s.orders, SimulatedOrder{
		Ref:        ref,
		Side:       order.Side,
		Quantity:   qty,
		Price:      price,
		ReduceOnly: order.ReduceOnly,
	})
	return ref, nil
}

func (s *Simulator) FillPrice(ctx context.Context, ref OrderRef) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpFillPrice); err != nil {
		return 0, err
	}
	price, ok := s.fills[ref.ID]
	if !ok {
		return 0, ErrFillNotFound
	}
	return price, nil
}

func (s *Simulator) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpMarkPrice); err != nil {
		return 0, err
	}
	price := s.marks[symbol]
	if price <= 0 {
		return 0, fmt.Errorf("exchange: %s 无可用标记价格", symbol)
	}
	return price, nil
}

func (s *Simulator) LotConstraints(ctx context.Context, symbol string) (LotConstraints, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpLot); err != nil {
		return LotConstraints{}, err
	}
	if lot, ok := s.lots[symbol]; ok {
		return lot, nil
	}
	return LotConstraints{Step: defaultSimStep, MinQty: defaultSimStep}, nil
}

func (s *Simulator) CancelOrder(ctx context.Context, ref OrderRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpCancelOrder); err != nil {
		return err
	}
	resting := s.resting[ref.Symbol]
	for i, r := range resting {
		if r.ID == ref.ID {
			s.resting[ref.Symbol] = append(resting[:i:i], resting[i+1:]...)
			s.canceled = append(s.canceled, ref)
			return nil
		}
	}
	return fmt.Errorf("exchange: 订单 %s 不存在", ref.ID)
}

func (s *Simulator) OpenReduceOnlyOrders(ctx context.Context, symbol string) ([]OrderRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpListReduce); err != nil {
		return nil, err
	}
	out := make([]OrderRef, len(s.resting[symbol]))
	copy(out, s.resting[symbol])
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Simulator) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := s.failures[op]; ok {
		return err
	}
	return nil
}
