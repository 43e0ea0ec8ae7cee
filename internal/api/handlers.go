package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/trading"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/walletflow"
)

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Store.Snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	started := s.cfg.Loop.Start(s.baseCtx)
	writeJSON(w, http.StatusOK, map[string]bool{"running": true, "started": started})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	stopped := s.cfg.Loop.Stop()
	writeJSON(w, http.StatusOK, map[string]bool{"running": false, "stopped": stopped})
}

type baseConfigView struct {
	Configured     bool     `json:"configured"`
	Missing        []string `json:"missing,omitempty"`
	ChainID        int64    `json:"chainId"`
	TokenAddress   string   `json:"tokenAddress"`
	USDCAddress    string   `json:"usdcAddress"`
	SwapRouter     string   `json:"swapRouter"`
	Quoter         string   `json:"quoter"`
	PoolFee        int64    `json:"poolFee"`
	KillSwitch     bool     `json:"killSwitch"`
	MaxNotionalUSD float64  `json:"maxNotionalUsd"`
	CooldownSec    int      `json:"cooldownSec"`
	ExplorerURL    string   `json:"explorerUrl"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Store.Snapshot()
	base := s.cfg.Base()
	missing := base.MissingEnv()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trading":   s.cfg.Trading(),
		"paperMode": snap.PaperMode,
		"chain":     snap.Chain,
		"pair":      snap.Pair,
		"base": baseConfigView{
			Configured:     len(missing) == 0,
			Missing:        missing,
			ChainID:        base.ChainID,
			TokenAddress:   base.TokenAddress,
			USDCAddress:    base.USDCAddress,
			SwapRouter:     base.SwapRouter,
			Quoter:         base.Quoter,
			PoolFee:        base.PoolFee,
			KillSwitch:     base.KillSwitch,
			MaxNotionalUSD: base.MaxNotionalUSD,
			CooldownSec:    base.CooldownSec,
			ExplorerURL:    base.ExplorerURL,
		},
		"llmEnabled": s.cfg.LLM().Enabled(),
		"wallets": map[string]string{
			string(domain.ChainSolana): s.cfg.Trader.Wallet(r.Context(), domain.ChainSolana),
			string(domain.ChainBase):   s.cfg.Trader.Wallet(r.Context(), domain.ChainBase),
		},
	})
}

func (s *Server) handlePaperMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"enabled\": bool}")
		return
	}
	s.cfg.Store.SetPaperMode(*req.Enabled)
	log.Infof("纸交易模式: %v", *req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"paperMode": *req.Enabled})
}

func (s *Server) handleSetChain(w http.ResponseWriter, r *http.Request) {
	var req trading.ChainSelection
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	st, err := s.cfg.Trader.SetChain(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"chain":      st.Chain,
		"pair":       st.Pair,
		"baseToken":  st.BaseToken,
		"quoteToken": st.QuoteToken,
	})
}

func (s *Server) handleExecuteNow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Side     string  `json:"side"`
		Notional float64 `json:"notional"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	side, ok := domain.ParseSide(req.Side)
	if !ok || !side.IsTrade() {
		writeError(w, http.StatusBadRequest, "side must be BUY or SELL")
		return
	}
	notional := req.Notional
	if notional <= 0 {
		notional = s.cfg.Trading().TradeNotionalUSD
	}

	snap := s.cfg.Store.Snapshot()
	checks := s.cfg.Trader.CheckRisk(notional, snap.LastMarket.SlippageBps)
	if !checks.Allowed {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "risk checks failed",
			"checks": checks,
		})
		return
	}

	receipt, err := s.cfg.Trader.Execute(r.Context(), trading.Request{
		Side:        side,
		NotionalUSD: notional,
		Confidence:  snap.LastDecision.Confidence,
		Reasons:     []string{"manual execute from dashboard"},
		Mode:        domain.ModeManual,
		Source:      domain.SourceUI,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if receipt.Status != domain.StatusSuccess {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   receipt.Notes,
			"checks":  receipt.RiskChecks,
			"receipt": receipt,
		})
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleReceipts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	list, err := s.cfg.Receipts.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []domain.Receipt{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"receipts": list})
}

func (s *Server) handleBuildTransaction(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Wallet == nil {
		writeError(w, http.StatusNotImplemented, "wallet flow is not configured")
		return
	}
	var req walletflow.BuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Chain == "" {
		req.Chain = s.cfg.Store.Snapshot().Chain
	}
	side, _ := domain.ParseSide(string(req.Side))
	req.Side = side
	out, err := s.cfg.Wallet.Build(r.Context(), req)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConfirmTransaction(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Wallet == nil {
		writeError(w, http.StatusNotImplemented, "wallet flow is not configured")
		return
	}
	var req walletflow.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Chain == "" {
		req.Chain = s.cfg.Store.Snapshot().Chain
	}
	side, _ := domain.ParseSide(string(req.Side))
	req.Side = side
	receipt, err := s.cfg.Wallet.Confirm(r.Context(), req)
	switch {
	case errors.Is(err, walletflow.ErrNotConfirmed):
		writeError(w, http.StatusAccepted, err.Error())
	case err != nil:
		writeError(w, errorStatus(err), err.Error())
	default:
		writeJSON(w, http.StatusOK, receipt)
	}
}

func (s *Server) handleSkillManifest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Skills.Manifest())
}

func (s *Server) handleSkillInvoke(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string          `json:"action"`
		Args   json.RawMessage `json:"args"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	out, err := s.cfg.Skills.Invoke(r.Context(), req.Action, req.Args)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "action": req.Action, "result": out})
}

// handleStream 每隔 StreamInterval 推送一次状态快照，直到客户端断开
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("websocket upgrade 失败: %v", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func() error {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteJSON(s.cfg.Store.Snapshot())
	}
	if err := send(); err != nil {
		return
	}
	ticker := time.NewTicker(s.cfg.StreamInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-s.baseCtx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case <-ticker.C:
			if err := send(); err != nil {
				log.Debugf("websocket 推送结束: %v", err)
				return
			}
		}
	}
}
