package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"trades-switch/internal/config"
	"trades-switch/internal/exchange"
	"trades-switch/internal/execution"
	"trades-switch/internal/id"
	"trades-switch/internal/report"
	"trades-switch/internal/sizing"
)

const (
	requestIDHeader = "X-Request-ID"
	maxWebhookBody  = 64 << 10
)

type reporter interface {
	Find(profile, symbol string) (report.Report, error)
	All(profile string) []report.Report
	Reset(ctx context.Context, profile, symbol string) (report.ResetResult, error)
}

// Server 对外提供信号 webhook、报告、健康检查与指标接口。
type Server struct {
	cfg      config.ServerConfig
	profiles []config.ProfileConfig
	trader   execution.Trader
	reports  reporter
	metrics  http.Handler
	logger   *zap.Logger
}

// New 创建 HTTP 服务，metrics 为 nil 时不注册 /metrics。
func New(
	cfg config.ServerConfig,
	profiles []config.ProfileConfig,
	trader execution.Trader,
	reports reporter,
	metrics http.Handler,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		profiles: profiles,
		trader:   trader,
		reports:  reports,
		metrics:  metrics,
		logger:   logger,
	}
}

// Handler 返回注册了全部路由的 handler。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, p := range s.profiles {
		mux.HandleFunc("POST "+p.WebhookPath, s.handleWebhook(p))
		mux.HandleFunc("GET "+p.ReportPath, s.handleReport(p))
		mux.HandleFunc("POST "+strings.TrimSuffix(p.ReportPath, "/")+"/reset", s.handleReset(p))
	}
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// Run 启动监听，ctx 取消后优雅关闭。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP 服务已启动", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.logger.Error("HTTP 服务异常", zap.Error(err))
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("关闭 HTTP 服务失败", zap.Error(err))
		return err
	}
	s.logger.Info("HTTP 服务已关闭")
	return nil
}

type webhookPayload struct {
	Symbol string `json:"symbol"`
	Action string `json:"action"`
}

func (s *Server) handleWebhook(p config.ProfileConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload webhookPayload
		body := http.MaxBytesReader(w, r.Body, maxWebhookBody)
		if err := json.NewDecoder(body).Decode(&payload); err != nil {
			s.writeDetail(w, http.StatusUnprocessableEntity, "请求体不是合法 JSON")
			return
		}
		symbol := exchange.NormalizeSymbol(payload.Symbol)
		action := strings.ToUpper(strings.TrimSpace(payload.Action))
		if symbol == "" || action == "" {
			s.writeDetail(w, http.StatusUnprocessableEntity, "symbol 与 action 不能为空")
			return
		}

		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = id.New()
		}
		w.Header().Set(requestIDHeader, requestID)

		logger := s.logger.With(
			zap.String("request_id", requestID),
			zap.String("profile", p.Name),
			zap.String("symbol", symbol),
			zap.String("action", action),
		)

		// 客户端断开不应中断进行中的交易
		result, err := s.trader.Switch(context.WithoutCancel(r.Context()), execution.Request{
			Symbol:    symbol,
			Action:    action,
			Profile:   p.Name,
			Leverage:  p.Leverage,
			FixedBase: p.UseInitialCapital,
			RequestID: requestID,
		})
		if err != nil {
			switch {
			case errors.Is(err, sizing.ErrBelowMinimum):
				logger.Warn("开仓请求被拒绝", zap.Error(err))
				s.writeJSON(w, http.StatusBadRequest, map[string]string{"status": "rejected", "detail": err.Error()})
			case errors.Is(err, execution.ErrInvalidRequest):
				s.writeDetail(w, http.StatusUnprocessableEntity, err.Error())
			default:
				logger.Error("处理信号失败", zap.Error(err))
				s.writeDetail(w, http.StatusInternalServerError, "服务内部错误")
			}
			return
		}

		switch {
		case result.Skipped == execution.ReasonDryRun:
			logger.Info("模拟模式请求")
			s.writeJSON(w, http.StatusOK, map[string]string{"status": "dry_run"})
		case result.Skipped != "":
			logger.Info("信号已跳过", zap.String("reason", result.Skipped))
			s.writeJSON(w, http.StatusOK, map[string]string{"status": "skipped", "reason": result.Skipped})
		default:
			if result.Done != "" && result.ExitPrice != nil && result.PnL != nil {
				logger.Info("平仓完成",
					zap.Float64("exit_price", *result.ExitPrice),
					zap.Float64("pnl_pct", *result.PnL),
				)
			}
			s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "result": result})
		}
	}
}

func (s *Server) handleReport(p config.ProfileConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		all, _ := strconv.ParseBool(q.Get("all"))

		if all {
			reports := s.reports.All(p.Name)
			s.logger.Info("输出全部报告", zap.String("profile", p.Name), zap.Int("count", len(reports)))
			s.writeJSON(w, http.StatusOK, map[string]interface{}{"profile": p.Name, "reports": reports})
			return
		}

		rep, err := s.reports.Find(p.Name, q.Get("symbol"))
		if err != nil {
			if errors.Is(err, report.ErrNoData) {
				s.writeDetail(w, http.StatusNotFound, err.Error())
				return
			}
			s.logger.Error("生成报告失败", zap.String("profile", p.Name), zap.Error(err))
			s.writeDetail(w, http.StatusInternalServerError, "服务内部错误")
			return
		}
		s.writeJSON(w, http.StatusOK, rep)
	}
}

func (s *Server) handleReset(p config.ProfileConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := exchange.NormalizeSymbol(r.URL.Query().Get("symbol"))
		if symbol == "" {
			s.writeDetail(w, http.StatusUnprocessableEntity, "symbol 不能为空")
			return
		}

		result, err := s.reports.Reset(r.Context(), p.Name, symbol)
		if err != nil {
			s.logger.Error("重置账本失败",
				zap.String("profile", p.Name),
				zap.String("symbol", symbol),
				zap.Error(err),
			)
			s.writeDetail(w, http.StatusInternalServerError, "服务内部错误")
			return
		}
		s.writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) writeDetail(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("写入响应失败", zap.Error(err))
	}
}
