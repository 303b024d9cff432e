package report

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// NextRun 返回 now 之后下一次 hour 整点（loc 时区）。
func NextRun(now time.Time, hour int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Scheduler 每日定点输出所有 profile 的报告。
type Scheduler struct {
	service  *Service
	profiles []string
	hour     int
	loc      *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

// NewScheduler 创建每日报告调度器。
func NewScheduler(service *Service, profiles []string, hour int, loc *time.Location, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		service:  service,
		profiles: profiles,
		hour:     hour,
		loc:      loc,
		now:      time.Now,
		logger:   logger,
	}
}

// Run 阻塞直到 ctx 取消。
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next := NextRun(s.now(), s.hour, s.loc)
		s.logger.Info("下一次每日报告时间", zap.Time("at", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		s.Emit()
	}
}

// Emit 立即输出一次所有 profile 的报告。
func (s *Scheduler) Emit() {
	for _, profile := range s.profiles {
		reports := s.service.All(profile)
		if len(reports) == 0 {
			s.logger.Info("每日报告：无账本数据", zap.String("profile", profile))
			continue
		}
		for _, r := range reports {
			s.logger.Info("每日报告",
				zap.String("profile", r.Profile),
				zap.String("symbol", r.Symbol),
				zap.String("period", r.Period),
				zap.Int("total_trades", r.TotalTrades),
				zap.Int("long_entries", r.LongEntries),
				zap.Int("short_entries", r.ShortEntries),
				zap.Float64("capital", r.Capital),
				zap.Float64("cumulative_return_pct", r.CumulativeReturnPct),
				zap.Float64("daily_pnl_pct", r.DailyPnLPct),
				zap.String("last_reset", r.LastReset),
			)
		}
	}
}
