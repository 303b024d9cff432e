package accounting

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"trades-switch/internal/metrics"
	"trades-switch/internal/state"
)

var (
	// ErrNoPosition 表示账本中没有可结算的持仓，调用方按 0 收益处理。
	ErrNoPosition = errors.New("accounting: 无可结算持仓")
	// ErrInvalidPrice 表示入场或出场价格不可用于计算。
	ErrInvalidPrice = errors.New("accounting: 价格无效")
)

// PnL 描述一次平仓的收益拆分，均为名义价值的比例。
type PnL struct {
	PriceChange float64
	Raw         float64
	Fee         float64
	Net         float64
}

// Compute 计算杠杆放大并扣除双边手续费后的净收益。
func Compute(entry, exit float64, leverage int, feeRate float64, longExit bool) (PnL, error) {
	if !validPrice(entry) || !validPrice(exit) {
		return PnL{}, fmt.Errorf("%w: entry=%v exit=%v", ErrInvalidPrice, entry, exit)
	}
	if leverage <= 0 {
		return PnL{}, fmt.Errorf("accounting: 杠杆无效 %d", leverage)
	}
	if feeRate < 0 || math.IsNaN(feeRate) || math.IsInf(feeRate, 0) {
		return PnL{}, fmt.Errorf("accounting: 手续费率无效 %v", feeRate)
	}

	var change float64
	if longExit {
		change = exit/entry - 1
	} else {
		change = entry/exit - 1
	}

	lev := float64(leverage)
	pnl := PnL{
		PriceChange: change,
		Raw:         change * lev,
		Fee:         feeRate * lev * 2,
	}
	pnl.Net = pnl.Raw - pnl.Fee
	if math.IsNaN(pnl.Net) || math.IsInf(pnl.Net, 0) {
		return PnL{}, fmt.Errorf("accounting: 收益计算溢出 entry=%v exit=%v", entry, exit)
	}
	return pnl, nil
}

// Settlement 是一次平仓结算的结果。
type Settlement struct {
	Key           state.Key
	LongExit      bool
	FixedBase     bool
	EntryPrice    float64
	ExitPrice     float64
	Quantity      float64
	Leverage      int
	PnL           PnL
	CapitalBefore float64
	CapitalAfter  float64
}

// PnLPercent 返回净收益百分比。
func (s Settlement) PnLPercent() float64 {
	return s.PnL.Net * 100
}

// Accountant 负责平仓后的资金账本结算。
type Accountant struct {
	store   *state.Store
	feeRate float64
	metrics *metrics.Recorder
	logger  *zap.Logger
}

// NewAccountant 创建结算器，feeRate 为单边 taker 手续费率。
func NewAccountant(store *state.Store, feeRate float64, recorder *metrics.Recorder, logger *zap.Logger) *Accountant {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Accountant{
		store:   store,
		feeRate: feeRate,
		metrics: recorder,
		logger:  logger,
	}
}

// Settle 按账本中的入场价、数量与杠杆结算已平仓位。
// 复利模式下资金按净收益滚动，固定本金模式下资金不变；两种模式都会累计当日收益并清空持仓。
// 账本无持仓时返回 ErrNoPosition 且不修改任何字段，计算错误同样保持账本不变。
func (a *Accountant) Settle(key state.Key, longExit bool, exitPrice float64, fixedBase bool) (Settlement, error) {
	settlement := Settlement{
		Key:       key,
		LongExit:  longExit,
		FixedBase: fixedBase,
		ExitPrice: exitPrice,
	}

	rec, err := a.store.Modify(key, func(r *state.Record) error {
		if r.EntryPrice == 0 || r.PositionQty == 0 {
			return ErrNoPosition
		}

		pnl, err := Compute(r.EntryPrice, exitPrice, r.Leverage, a.feeRate, longExit)
		if err != nil {
			return err
		}

		settlement.EntryPrice = r.EntryPrice
		settlement.Quantity = math.Abs(r.PositionQty)
		settlement.Leverage = r.Leverage
		settlement.PnL = pnl
		settlement.CapitalBefore = r.Capital

		if !fixedBase {
			capital := r.Capital * (1 + pnl.Net)
			if math.IsNaN(capital) || math.IsInf(capital, 0) {
				return fmt.Errorf("accounting: 资金计算溢出 capital=%v net=%v", r.Capital, pnl.Net)
			}
			r.Capital = capital
		}
		r.DailyPnL += pnl.Net * 100
		r.ClearPosition()
		r.EntryTime = ""

		settlement.CapitalAfter = r.Capital
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNoPosition) {
			a.logger.Warn("账本无持仓，跳过收益结算",
				zap.String("profile", key.Profile),
				zap.String("symbol", key.Symbol),
				zap.Float64("entry_price", rec.EntryPrice),
				zap.Float64("position_qty", rec.PositionQty),
			)
		}
		return Settlement{Key: key, LongExit: longExit, FixedBase: fixedBase, ExitPrice: exitPrice}, err
	}

	a.metrics.SetLedger(key.Profile, key.Symbol, rec.Capital, rec.DailyPnL)
	a.logger.Info("平仓结算完成",
		zap.String("profile", key.Profile),
		zap.String("symbol", key.Symbol),
		zap.Bool("long_exit", longExit),
		zap.Bool("fixed_base", fixedBase),
		zap.Float64("entry_price", settlement.EntryPrice),
		zap.Float64("exit_price", exitPrice),
		zap.Int("leverage", settlement.Leverage),
		zap.Float64("raw_pnl_pct", settlement.PnL.Raw*100),
		zap.Float64("fee_pct", settlement.PnL.Fee*100),
		zap.Float64("net_pnl_pct", settlement.PnLPercent()),
		zap.Float64("capital_before", settlement.CapitalBefore),
		zap.Float64("capital_after", settlement.CapitalAfter),
	)
	return settlement, nil
}

func validPrice(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
