package sizing

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"trades-switch/internal/exchange"
)

// ErrBelowMinimum 表示按步长取整后的数量低于交易所最小下单量。
var ErrBelowMinimum = errors.New("sizing: 下单数量低于交易所最小值")

// Precision 返回步长的小数位数，直接取自十进制表示，例如 0.001 → 3，0.5 → 1，10 → 0。
func Precision(step float64) int32 {
	exp := decimal.NewFromFloat(step).Exponent()
	if exp >= 0 {
		return 0
	}
	return -exp
}

// Quantize 将 raw 向下取整到步长的整数倍，低于最小下单量时返回 ErrBelowMinimum。
func Quantize(raw float64, lot exchange.LotConstraints) (decimal.Decimal, error) {
	if !finitePositive(lot.Step) {
		return decimal.Zero, fmt.Errorf("sizing: 数量步长无效 %v", lot.Step)
	}
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return decimal.Zero, fmt.Errorf("sizing: 原始数量无效 %v", raw)
	}
	if raw <= 0 {
		return decimal.Zero, fmt.Errorf("%w: raw=%v", ErrBelowMinimum, raw)
	}

	step := decimal.NewFromFloat(lot.Step)
	qty := decimal.NewFromFloat(raw).
		Div(step).
		Floor().
		Mul(step).
		Truncate(Precision(lot.Step))

	min := decimal.NewFromFloat(lot.MinQty)
	if qty.IsZero() || qty.LessThan(min) {
		return decimal.Zero, fmt.Errorf("%w: qty=%s min=%s", ErrBelowMinimum, qty.String(), min.String())
	}
	return qty, nil
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
