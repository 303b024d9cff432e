package state

import "fmt"

// TimestampLayout 是记录中时间字段的格式。
const TimestampLayout = "2006-01-02 15:04:05"

// Key 唯一标识一个 profile 下的交易对账本。
type Key struct {
	Profile string
	Symbol  string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Profile, k.Symbol)
}

// Side 由持仓数量符号推导。
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
	SideNone  Side = "none"
)

// Record 是单个 profile/symbol 的虚拟资金账本。
type Record struct {
	Profile        string  `json:"profile"`
	Symbol         string  `json:"symbol"`
	Capital        float64 `json:"capital"`
	InitialCapital float64 `json:"initial_capital"`
	EntryPrice     float64 `json:"entry_price"`
	PositionQty    float64 `json:"position_qty"`
	Leverage       int     `json:"leverage"`
	TradeCount     int     `json:"trade_count"`
	LongCount      int     `json:"long_count"`
	ShortCount     int     `json:"short_count"`
	DailyPnL       float64 `json:"daily_pnl"`
	LastReset      string  `json:"last_reset"`
	EntryTime      string  `json:"entry_time,omitempty"`
}

// Side 返回当前持仓方向。
func (r Record) Side() Side {
	switch {
	case r.PositionQty > 0:
		return SideLong
	case r.PositionQty < 0:
		return SideShort
	default:
		return SideNone
	}
}

// Flat 表示账本中没有持仓。
func (r Record) Flat() bool {
	return r.PositionQty == 0
}

// ClearPosition 清空持仓相关字段。
func (r *Record) ClearPosition() {
	r.EntryPrice = 0
	r.PositionQty = 0
}
