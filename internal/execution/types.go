package execution

import (
	"errors"
	"strings"

	"trades-switch/internal/sizing"
)

var (
	// ErrReconcileTimeout 表示严格模式下平仓后交易所仓位未在时限内归零。
	ErrReconcileTimeout = errors.New("execution: 等待平仓同步超时")
	// ErrInvalidRequest 表示请求缺少 symbol 或 profile。
	ErrInvalidRequest = errors.New("execution: 请求参数无效")
)

// Action 为信号动作。
type Action string

const (
	ActionBuy      Action = "BUY"
	ActionSell     Action = "SELL"
	ActionBuyStop  Action = "BUY_STOP"
	ActionSellStop Action = "SELL_STOP"
)

// ParseAction 忽略大小写解析动作。
func ParseAction(raw string) (Action, bool) {
	action := Action(strings.ToUpper(strings.TrimSpace(raw)))
	switch action {
	case ActionBuy, ActionSell, ActionBuyStop, ActionSellStop:
		return action, true
	default:
		return action, false
	}
}

// unknownActionLabel 是无法识别动作在指标中的统一标签。
const unknownActionLabel = "UNKNOWN"

// 跳过原因。
const (
	ReasonDryRun             = "dry_run"
	ReasonAlreadyLong        = "already_long"
	ReasonAlreadyShort       = "already_short"
	ReasonUnknownAction      = "unknown_action"
	ReasonNoMatchingPosition = "no_matching_position"
)

// Request 是一次仓位切换请求。
type Request struct {
	Symbol    string
	Action    string
	Profile   string
	Leverage  int
	FixedBase bool
	RequestID string
}

// Closed 描述反手时先行平掉的仓位。
type Closed struct {
	ExitPrice float64 `json:"exit_price"`
	PnL       float64 `json:"pnl"`
}

// Result 对应三种结果之一：跳过、开仓（含反手）、平仓。
type Result struct {
	Skipped   string       `json:"skipped,omitempty"`
	Buy       *sizing.Fill `json:"buy,omitempty"`
	Sell      *sizing.Fill `json:"sell,omitempty"`
	Closed    *Closed      `json:"closed,omitempty"`
	Done      string       `json:"done,omitempty"`
	ExitPrice *float64     `json:"exit_price,omitempty"`
	PnL       *float64     `json:"pnl,omitempty"`
}

func skipped(reason string) Result {
	return Result{Skipped: reason}
}

// Outcome 返回用于指标与日志的结果分类。
func (r Result) Outcome() string {
	switch {
	case r.Skipped != "":
		return r.Skipped
	case r.Done != "":
		return "closed"
	case r.Closed != nil:
		return "flipped"
	case r.Buy != nil || r.Sell != nil:
		return "opened"
	default:
		return "none"
	}
}
