// Package api is the HTTP surface consumed by the dashboard and skill callers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/metrics"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/receipts"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/skill"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/state"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/trading"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/walletflow"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/pkg/config"
)

var log = logrus.WithField("component", "api")

// Loop *loop.Scheduler 满足
type Loop interface {
	Start(ctx context.Context) bool
	Stop() bool
}

// Trader *trading.Handler 满足
type Trader interface {
	CheckRisk(notional, slippageBps float64) domain.RiskChecks
	Execute(ctx context.Context, req trading.Request) (*domain.Receipt, error)
	SetChain(sel trading.ChainSelection) (state.State, error)
	Wallet(ctx context.Context, chain domain.Chain) string
}

// WalletFlow *walletflow.Service 满足
type WalletFlow interface {
	Build(ctx context.Context, req walletflow.BuildRequest) (*walletflow.BuildResult, error)
	Confirm(ctx context.Context, req walletflow.ConfirmRequest) (*domain.Receipt, error)
}

// Skills *skill.Service 满足
type Skills interface {
	Manifest() skill.Manifest
	Invoke(ctx context.Context, action string, args json.RawMessage) (interface{}, error)
}

type Config struct {
	Store    *state.Store
	Loop     Loop
	Trader   Trader
	Receipts receipts.Store
	Wallet   WalletFlow
	Skills   Skills
	Trading  func() config.TradingConfig
	Base     func() config.BaseConfig
	LLM      func() config.LLMConfig
	// StreamInterval websocket 推送间隔，默认 2s
	StreamInterval time.Duration
}

type Server struct {
	cfg Config
	// baseCtx 后台循环的生命周期与进程一致，而不是与某个请求一致
	baseCtx  context.Context
	upgrader websocket.Upgrader
}

func New(ctx context.Context, cfg Config) *Server {
	if cfg.Trading == nil {
		cfg.Trading = config.Trading
	}
	if cfg.Base == nil {
		cfg.Base = config.Base
	}
	if cfg.LLM == nil {
		cfg.LLM = config.LLM
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = 2 * time.Second
	}
	return &Server{
		cfg:     cfg,
		baseCtx: ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.wrap(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	debug := gin.WrapH(metrics.Handler())
	r.GET("/debug/vars", debug)
	r.GET("/debug/pprof/*any", debug)

	ui := r.Group("/api/ui")
	ui.GET("/state", s.wrap(s.handleState))
	ui.POST("/start", s.wrap(s.handleStart))
	ui.POST("/stop", s.wrap(s.handleStop))
	ui.GET("/config", s.wrap(s.handleConfig))
	ui.POST("/paper-mode", s.wrap(s.handlePaperMode))
	ui.POST("/set-chain", s.wrap(s.handleSetChain))
	ui.POST("/execute-now", s.wrap(s.handleExecuteNow))
	ui.GET("/receipts", s.wrap(s.handleReceipts))
	ui.POST("/build-transaction", s.wrap(s.handleBuildTransaction))
	ui.POST("/confirm-transaction", s.wrap(s.handleConfirmTransaction))
	ui.GET("/stream", s.wrap(s.handleStream))

	sk := r.Group("/api/skill")
	sk.GET("/manifest", s.wrap(s.handleSkillManifest))
	sk.POST("/invoke", s.wrap(s.handleSkillInvoke))
	return r
}

func (s *Server) wrap(h func(http.ResponseWriter, *http.Request)) gin.HandlerFunc {
	return func(c *gin.Context) {
		h(c.Writer, c.Request)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("写响应失败: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorStatus 把领域错误映射为 HTTP 状态码
func errorStatus(err error) int {
	switch {
	case errors.Is(err, receipts.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadRequest
	}
}
