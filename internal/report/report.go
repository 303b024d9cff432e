package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trades-switch/internal/exchange"
	"trades-switch/internal/metrics"
	"trades-switch/internal/state"
)

// ErrNoData 表示 profile 下没有对应交易对的账本。
var ErrNoData = errors.New("report: 无账本数据")

const periodLayout = "2006-01-02"

// PeriodDate 返回报告周期日期：本地时间达到 hour 点后为当天，否则为前一天。
func PeriodDate(now time.Time, hour int, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	if local.Hour() < hour {
		local = local.AddDate(0, 0, -1)
	}
	return local.Format(periodLayout)
}

// CumulativeReturn 返回相对基准资金的累计收益率（%），保留两位小数。
func CumulativeReturn(capital, initial float64) float64 {
	if initial == 0 {
		return 0
	}
	return round2((capital/initial - 1) * 100)
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Report 为单个 profile/symbol 的资金报告。
type Report struct {
	Profile             string  `json:"profile"`
	Symbol              string  `json:"symbol"`
	Period              string  `json:"period"`
	TotalTrades         int     `json:"total_trades"`
	LongEntries         int     `json:"long_entries"`
	ShortEntries        int     `json:"short_entries"`
	Capital             float64 `json:"capital"`
	CumulativeReturnPct float64 `json:"cumulative_return_pct"`
	DailyPnLPct         float64 `json:"daily_pnl_pct"`
	InitialCapital      float64 `json:"initial_capital"`
	LastReset           string  `json:"last_reset"`
}

// ResetResult 为重置后的新基准。
type ResetResult struct {
	Status         string  `json:"status"`
	Profile        string  `json:"profile"`
	Symbol         string  `json:"symbol"`
	LastReset      string  `json:"last_reset"`
	Capital        float64 `json:"capital"`
	InitialCapital float64 `json:"initial_capital"`
}

// Service 基于账本生成报告并执行周期重置。
type Service struct {
	store   *state.Store
	hour    int
	metrics *metrics.Recorder
	logger  *zap.Logger
}

// NewService 创建报告服务，hour 为每日周期切换的整点（账本时区）。
func NewService(store *state.Store, hour int, recorder *metrics.Recorder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		hour:    hour,
		metrics: recorder,
		logger:  logger,
	}
}

// Symbols 返回 profile 下的全部交易对。
func (s *Service) Symbols(profile string) []string {
	return s.store.ListSymbols(profile)
}

// Build 生成单个账本的报告，不存在时按默认值创建。
func (s *Service) Build(profile, symbol string) Report {
	rec := s.store.Get(state.Key{Profile: profile, Symbol: symbol})
	return Report{
		Profile:             profile,
		Symbol:              symbol,
		Period:              s.period(),
		TotalTrades:         rec.TradeCount,
		LongEntries:         rec.LongCount,
		ShortEntries:        rec.ShortCount,
		Capital:             round2(rec.Capital),
		CumulativeReturnPct: CumulativeReturn(rec.Capital, rec.InitialCapital),
		DailyPnLPct:         round2(rec.DailyPnL),
		InitialCapital:      round2(rec.InitialCapital),
		LastReset:           rec.LastReset,
	}
}

// Find 查找报告。symbol 为空时取 profile 下按字母序的第一个交易对。
func (s *Service) Find(profile, symbol string) (Report, error) {
	symbols := s.store.ListSymbols(profile)
	if symbol == "" {
		if len(symbols) == 0 {
			return Report{}, fmt.Errorf("%w: %s", ErrNoData, profile)
		}
		return s.Build(profile, symbols[0]), nil
	}

	symbol = exchange.NormalizeSymbol(symbol)
	for _, candidate := range symbols {
		if candidate == symbol {
			return s.Build(profile, symbol), nil
		}
	}
	return Report{}, fmt.Errorf("%w: %s:%s", ErrNoData, profile, symbol)
}

// All 返回 profile 下全部交易对的报告。
func (s *Service) All(profile string) []Report {
	symbols := s.store.ListSymbols(profile)
	reports := make([]Report, 0, len(symbols))
	for _, symbol := range symbols {
		reports = append(reports, s.Build(profile, symbol))
	}
	return reports
}

// Reset 以当前资金为新基准重置账本，与仓位切换互斥。
func (s *Service) Reset(ctx context.Context, profile, symbol string) (ResetResult, error) {
	symbol = exchange.NormalizeSymbol(symbol)
	if symbol == "" {
		return ResetResult{}, errors.New("report: symbol 不能为空")
	}

	key := state.Key{Profile: profile, Symbol: symbol}
	release, err := s.store.Acquire(ctx, key)
	if err != nil {
		return ResetResult{}, err
	}
	defer release()

	period := s.period()
	rec := s.store.Reset(key, period)
	s.metrics.SetLedger(profile, symbol, rec.Capital, rec.DailyPnL)

	return ResetResult{
		Status:         "reset",
		Profile:        profile,
		Symbol:         symbol,
		LastReset:      period,
		Capital:        rec.Capital,
		InitialCapital: rec.InitialCapital,
	}, nil
}

func (s *Service) period() string {
	now := s.store.Now()
	return PeriodDate(now, s.hour, now.Location())
}
