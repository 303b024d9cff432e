package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trades"

// Recorder 汇总仓位切换相关的 Prometheus 指标。
// 每个实例使用独立的 Registry，零值指针可安全调用。
type Recorder struct {
	registry *prometheus.Registry

	switches          *prometheus.CounterVec
	orders            *prometheus.CounterVec
	reconciles        *prometheus.CounterVec
	sizingRejections  *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
	capital           *prometheus.GaugeVec
	dailyPnL          *prometheus.GaugeVec
}

// New 创建指标记录器并完成注册。
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		switches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "switch_actions_total",
				Help:      "Switch requests by profile, action and outcome",
			},
			[]string{"profile", "action", "outcome"},
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_total",
				Help:      "Market orders placed",
			},
			[]string{"side", "reduce_only"},
		),
		reconciles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_total",
				Help:      "Position reconciliations by result (matched|timeout|canceled)",
			},
			[]string{"result"},
		),
		sizingRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sizing_rejections_total",
				Help:      "Open orders rejected for falling below the exchange minimum quantity",
			},
			[]string{"profile"},
		),
		reconcileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reconcile_wait_seconds",
				Help:      "Time spent waiting for the exchange to report the expected position",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30, 60},
			},
		),
		capital: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "capital_usd",
				Help:      "Virtual capital ledger per profile and symbol",
			},
			[]string{"profile", "symbol"},
		),
		dailyPnL: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "daily_pnl_pct",
				Help:      "Cumulative net PnL percentage since the last reset",
			},
			[]string{"profile", "symbol"},
		),
	}

	r.registry.MustRegister(
		r.switches,
		r.orders,
		r.reconciles,
		r.sizingRejections,
		r.reconcileDuration,
		r.capital,
		r.dailyPnL,
	)
	return r
}

// Registry 返回底层注册表。
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler 返回 /metrics 使用的 HTTP handler。
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) ObserveSwitch(profile, action, outcome string) {
	if r == nil {
		return
	}
	r.switches.WithLabelValues(profile, action, outcome).Inc()
}

func (r *Recorder) ObserveOrder(side string, reduceOnly bool) {
	if r == nil {
		return
	}
	r.orders.WithLabelValues(side, strconv.FormatBool(reduceOnly)).Inc()
}

func (r *Recorder) ObserveReconcile(result string, waited time.Duration) {
	if r == nil {
		return
	}
	r.reconciles.WithLabelValues(result).Inc()
	r.reconcileDuration.Observe(waited.Seconds())
}

func (r *Recorder) ObserveSizingRejection(profile string) {
	if r == nil {
		return
	}
	r.sizingRejections.WithLabelValues(profile).Inc()
}

// SetLedger 刷新某个 profile/symbol 的资金与当日收益。
func (r *Recorder) SetLedger(profile, symbol string, capital, dailyPnL float64) {
	if r == nil {
		return
	}
	r.capital.WithLabelValues(profile, symbol).Set(capital)
	r.dailyPnL.WithLabelValues(profile, symbol).Set(dailyPnL)
}
