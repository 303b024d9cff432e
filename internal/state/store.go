package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultCapital = 100.0

// Store 在内存中维护所有账本，按 key 串行化读写。
type Store struct {
	mu      sync.Mutex
	entries map[Key]*entry

	capital float64
	loc     *time.Location
	now     func() time.Time
	logger  *zap.Logger
}

type entry struct {
	mu  sync.Mutex
	rec Record
	// 容量为 1，持有者独占该 key 上的完整业务流程
	sem chan struct{}
}

// Option 调整 Store 行为。
type Option func(*Store)

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation 设置时间字段使用的时区。
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// NewStore 创建账本存储，capital 为新记录的初始资金，<=0 时使用 100。
func NewStore(capital float64, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capital <= 0 {
		capital = defaultCapital
	}
	s := &Store{
		entries: make(map[Key]*entry),
		capital: capital,
		loc:     time.UTC,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now 返回配置时区下的当前时间。
func (s *Store) Now() time.Time {
	return s.now().In(s.loc)
}

// Get 返回账本快照，不存在时按默认值创建。
func (s *Store) Get(key Key) Record {
	e := s.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec
}

// Update 在原记录上应用 fn 并返回更新后的快照。
func (s *Store) Update(key Key, fn func(*Record)) Record {
	rec, _ := s.Modify(key, func(r *Record) error {
		fn(r)
		return nil
	})
	return rec
}

// Modify 与 Update 相同，但 fn 返回错误时记录保持不变。
func (s *Store) Modify(key Key, fn func(*Record) error) (Record, error) {
	e := s.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	draft := e.rec
	if err := fn(&draft); err != nil {
		return e.rec, err
	}
	// 身份字段不可修改
	draft.Profile = key.Profile
	draft.Symbol = key.Symbol
	e.rec = draft
	return e.rec, nil
}

// Reset 以当前资金作为新的基准，清空计数、当日收益与持仓。
func (s *Store) Reset(key Key, period string) Record {
	rec := s.Update(key, func(r *Record) {
		r.InitialCapital = r.Capital
		r.TradeCount = 0
		r.LongCount = 0
		r.ShortCount = 0
		r.DailyPnL = 0
		r.ClearPosition()
		r.EntryTime = ""
		r.LastReset = period
	})
	s.logger.Info("账本已重置",
		zap.String("profile", key.Profile),
		zap.String("symbol", key.Symbol),
		zap.Float64("capital", rec.Capital),
		zap.String("period", period),
	)
	return rec
}

// ListSymbols 返回 profile 下已有账本的交易对，按字母排序。
func (s *Store) ListSymbols(profile string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbols := make([]string, 0)
	for key := range s.entries {
		if key.Profile == profile {
			symbols = append(symbols, key.Symbol)
		}
	}
	sort.Strings(symbols)
	return symbols
}

// Lookup 返回已存在的账本，不会创建新记录。
func (s *Store) Lookup(key Key) (Record, bool) {
	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return Record{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, true
}

// Acquire 独占 key，直到调用返回的 release。ctx 取消时放弃等待。
func (s *Store) Acquire(ctx context.Context, key Key) (func(), error) {
	e := s.entry(key)
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("state: 等待 %s 锁被取消: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-e.sem })
	}, nil
}

func (s *Store) entry(key Key) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		return e
	}
	e := &entry{
		rec: Record{
			Profile:        key.Profile,
			Symbol:         key.Symbol,
			Capital:        s.capital,
			InitialCapital: s.capital,
			Leverage:       1,
			LastReset:      s.Now().Format(TimestampLayout),
		},
		sem: make(chan struct{}, 1),
	}
	s.entries[key] = e
	s.logger.Debug("创建新账本",
		zap.String("profile", key.Profile),
		zap.String("symbol", key.Symbol),
		zap.Float64("capital", s.capital),
	)
	return e
}
