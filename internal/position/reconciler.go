package position

import (
	"context"
	"time"

	"go.uber.org/zap"

	"trades-switch/internal/config"
	"trades-switch/internal/metrics"
)

// Outcome 是一次仓位同步等待的结果。
type Outcome int

const (
	OutcomeMatched Outcome = iota
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMatched:
		return "matched"
	case OutcomeTimedOut:
		return "timeout"
	default:
		return "unknown"
	}
}

type positionSource interface {
	Position(ctx context.Context, symbol string) (float64, error)
}

// Reconciler 轮询交易所仓位，直到与期望方向一致或超时。
type Reconciler struct {
	venue        positionSource
	pollInterval time.Duration
	maxWait      time.Duration
	metrics      *metrics.Recorder
	logger       *zap.Logger
}

// NewReconciler 创建仓位同步器。
func NewReconciler(venue positionSource, cfg config.ReconcileConfig, recorder *metrics.Recorder, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &Reconciler{
		venue:        venue,
		pollInterval: poll,
		maxWait:      cfg.MaxWait,
		metrics:      recorder,
		logger:       logger,
	}
}

// Matches 判断实际仓位是否满足目标：正数只看方向，0 要求完全平仓。
func Matches(actual, target float64) bool {
	switch {
	case target > 0:
		return actual > 0
	case target < 0:
		return actual < 0
	default:
		return actual == 0
	}
}

// WaitFor 立即检查一次，此后按固定间隔轮询，最长等待 maxWait。
// 查询失败只记录日志并继续轮询；ctx 取消时返回 ctx.Err()。
func (r *Reconciler) WaitFor(ctx context.Context, symbol string, target float64) (Outcome, error) {
	start := time.Now()
	deadline := time.NewTimer(r.maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	attempts := 0
	last := 0.0
	for {
		attempts++
		actual, err := r.venue.Position(ctx, symbol)
		switch {
		case err != nil && ctx.Err() != nil:
			r.metrics.ObserveReconcile("canceled", time.Since(start))
			return OutcomeTimedOut, ctx.Err()
		case err != nil:
			r.logger.Warn("查询仓位失败，继续等待",
				zap.String("symbol", symbol),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
		case Matches(actual, target):
			waited := time.Since(start)
			r.metrics.ObserveReconcile(OutcomeMatched.String(), waited)
			r.logger.Debug("仓位已同步",
				zap.String("symbol", symbol),
				zap.Float64("target", target),
				zap.Float64("actual", actual),
				zap.Int("attempts", attempts),
				zap.Duration("waited", waited),
			)
			return OutcomeMatched, nil
		default:
			last = actual
		}

		select {
		case <-ctx.Done():
			r.metrics.ObserveReconcile("canceled", time.Since(start))
			return OutcomeTimedOut, ctx.Err()
		case <-deadline.C:
			waited := time.Since(start)
			r.metrics.ObserveReconcile(OutcomeTimedOut.String(), waited)
			r.logger.Warn("等待仓位同步超时",
				zap.String("symbol", symbol),
				zap.Float64("target", target),
				zap.Float64("last_seen", last),
				zap.Int("attempts", attempts),
				zap.Duration("waited", waited),
			)
			return OutcomeTimedOut, nil
		case <-ticker.C:
		}
	}
}
