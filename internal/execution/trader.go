package execution

import "context"

// Trader 抽象仓位切换入口，HTTP 层与命令行共用。
type Trader interface {
	Switch(ctx context.Context, req Request) (Result, error)
}

var _ Trader = (*Switcher)(nil)
