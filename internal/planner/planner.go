// Package planner asks a hosted chat-completion model for a BUY/SELL/HOLD
// decision. Any failure yields a HOLD decision with zero confidence.
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/metrics"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/pkg/config"
	sdkhttp "github.com/simulatedrealty/PSYOPS-Solana-Copilot/pkg/sdk/http"
)

var log = logrus.WithField("component", "planner")

// SystemPrompt 固定的系统提示
const SystemPrompt = `You are a cautious trading copilot for a single DEX pair.
Reply with a JSON object only: {"action":"BUY"|"SELL"|"HOLD","confidence":0..1,"reasons":["..."]}.
Rules:
1. BUY means spend the quote token (USDC) to receive the base token; SELL is the reverse.
2. Never trade if risk.allowed is false: answer HOLD.
3. Never BUY when the quoted slippage is above the max slippage threshold.
4. Prefer HOLD when the signal is weak or the market data is missing.
5. Keep reasons short and factual.`

// Outcome 规划结果类型
type Outcome int

const (
	// Decided 模型给出了合法的 JSON 决策
	Decided Outcome = iota
	// Fallback 网络/解析/配置错误，退回 HOLD
	Fallback
)

func (o Outcome) String() string {
	if o == Decided {
		return "decided"
	}
	return "fallback"
}

// Result 决策与其来源
type Result struct {
	Outcome  Outcome
	Decision domain.Decision
	Err      error
}

// Context 发给模型的上下文（序列化为 user 消息）
type Context struct {
	Chain          domain.Chain          `json:"chain"`
	Pair           string                `json:"pair"`
	Market         domain.MarketSnapshot `json:"market"`
	Signal         domain.SignalResult   `json:"signal"`
	Risk           domain.RiskChecks     `json:"risk"`
	Portfolio      domain.Portfolio      `json:"portfolio"`
	RecentTrades   []domain.TradeRecord  `json:"recentTrades"`
	TradeNotional  float64               `json:"tradeNotionalUsd"`
	MaxSlippageBps float64               `json:"maxSlippageBps"`
}

// Planner 决策接口
type Planner interface {
	Decide(ctx context.Context, in Context) Result
}

// FallbackResult HOLD / 0，附带原因
func FallbackResult(err error) Result {
	return Result{
		Outcome:  Fallback,
		Decision: domain.Decision{Action: domain.SideHold, Confidence: 0, Reasons: []string{"planner unavailable: " + err.Error()}},
		Err:      err,
	}
}

// ErrNoAPIKey 未配置 LLM_API_KEY
var ErrNoAPIKey = errors.New("LLM API key is not configured")

// LLM OpenAI 兼容的 chat-completion 规划器
type LLM struct {
	cfg  config.LLMConfig
	http *sdkhttp.Client
}

func NewLLM(cfg config.LLMConfig) *LLM {
	return &LLM{
		cfg: cfg,
		http: sdkhttp.NewClient(cfg.BaseURL, sdkhttp.Options{
			Timeout:    cfg.Timeout,
			RPS:        cfg.RPS,
			RetryCount: 1,
			Headers:    map[string]string{"Authorization": "Bearer " + cfg.APIKey},
		}),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Decide 调用模型；任何失败都返回 Fallback
func (l *LLM) Decide(ctx context.Context, in Context) Result {
	res := l.decide(ctx, in)
	if res.Outcome == Fallback {
		metrics.PlannerFallbacks.Add(1)
		log.Warnf("规划器退回 HOLD: %v", res.Err)
	}
	return res
}

func (l *LLM) decide(ctx context.Context, in Context) Result {
	if !l.cfg.Enabled() {
		return FallbackResult(ErrNoAPIKey)
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return FallbackResult(fmt.Errorf("encode context: %w", err))
	}

	var resp chatResponse
	_, err = l.http.DoRequest(ctx, http.MethodPost, "/chat/completions", &sdkhttp.RequestOptions{
		Data: chatRequest{
			Model: l.cfg.Model,
			Messages: []chatMessage{
				{Role: "system", Content: SystemPrompt},
				{Role: "user", Content: string(payload)},
			},
			Temperature:    0.2,
			ResponseFormat: map[string]string{"type": "json_object"},
		},
	}, &resp)
	if err != nil {
		return FallbackResult(fmt.Errorf("chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return FallbackResult(errors.New("chat completion returned no choices"))
	}

	decision, err := ParseDecision(resp.Choices[0].Message.Content)
	if err != nil {
		return FallbackResult(err)
	}
	return Result{Outcome: Decided, Decision: decision}
}

// rawDecision 模型输出的严格结构：字段类型不符即解析失败
type rawDecision struct {
	Action     *string   `json:"action"`
	Confidence *float64  `json:"confidence"`
	Reasons    *[]string `json:"reasons"`
}

// ParseDecision 严格解析模型输出。
// 类型不符、缺少 action/confidence 返回错误；未知 action 视为 HOLD，confidence 截断到 [0,1]，缺少 reasons 为空列表。
func ParseDecision(content string) (domain.Decision, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Decision{}, errors.New("empty model output")
	}
	var raw rawDecision
	dec := json.NewDecoder(bytes.NewReader([]byte(content)))
	if err := dec.Decode(&raw); err != nil {
		return domain.Decision{}, fmt.Errorf("decode model output: %w", err)
	}
	if dec.More() {
		return domain.Decision{}, errors.New("trailing data after model output")
	}
	if raw.Action == nil {
		return domain.Decision{}, errors.New("model output missing action")
	}
	if raw.Confidence == nil {
		return domain.Decision{}, errors.New("model output missing confidence")
	}

	action, ok := domain.ParseSide(*raw.Action)
	if !ok {
		action = domain.SideHold
	}
	confidence := *raw.Confidence
	if math.IsNaN(confidence) {
		confidence = 0
	}
	confidence = math.Max(0, math.Min(1, confidence))

	reasons := []string{}
	if raw.Reasons != nil {
		for _, r := range *raw.Reasons {
			if r = strings.TrimSpace(r); r != "" {
				reasons = append(reasons, r)
			}
		}
	}
	return domain.Decision{Action: action, Confidence: confidence, Reasons: reasons}, nil
}

// Static 固定决策，用于测试和没有模型时的手动模式
type Static struct {
	Decision domain.Decision
}

func (s Static) Decide(ctx context.Context, in Context) Result {
	return Result{Outcome: Decided, Decision: s.Decision}
}
