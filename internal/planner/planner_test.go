package planner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/metrics"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/pkg/config"
)

func TestParseDecision(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    domain.Decision
		wantErr bool
	}{
		{name: "ok", in: `{"action":"buy","confidence":0.7,"reasons":["breakout"]}`,
			want: domain.Decision{Action: domain.SideBuy, Confidence: 0.7, Reasons: []string{"breakout"}}},
		{name: "unknown action holds", in: `{"action":"YOLO","confidence":0.9,"reasons":[]}`,
			want: domain.Decision{Action: domain.SideHold, Confidence: 0.9, Reasons: []string{}}},
		{name: "confidence clamped high", in: `{"action":"SELL","confidence":3}`,
			want: domain.Decision{Action: domain.SideSell, Confidence: 1, Reasons: []string{}}},
		{name: "confidence clamped low", in: `{"action":"SELL","confidence":-1,"reasons":["x"]}`,
			want: domain.Decision{Action: domain.SideSell, Confidence: 0, Reasons: []string{"x"}}},
		{name: "confidence as string", in: `{"action":"BUY","confidence":"0.8"}`, wantErr: true},
		{name: "reasons wrong type", in: `{"action":"BUY","confidence":0.8,"reasons":"because"}`, wantErr: true},
		{name: "missing action", in: `{"confidence":0.8}`, wantErr: true},
		{name: "not json", in: `I think you should buy`, wantErr: true},
		{name: "empty", in: ``, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseDecision(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func chatServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "json_object", req.ResponseFormat["type"])
		require.Len(t, req.Messages, 2)
		assert.Equal(t, SystemPrompt, req.Messages[0].Content)
		assert.Contains(t, req.Messages[1].Content, `"pair":"SOL/USDC"`)

		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testCfg(url string) config.LLMConfig {
	return config.LLMConfig{APIKey: "sk-test", BaseURL: url, Model: "gpt-4o-mini", Timeout: time.Second}
}

func TestLLM_Decide(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"action":"BUY","confidence":0.65,"reasons":["breakout above range"]}`)
	res := NewLLM(testCfg(srv.URL)).Decide(context.Background(), Context{Pair: "SOL/USDC"})
	assert.Equal(t, Decided, res.Outcome)
	assert.Equal(t, domain.SideBuy, res.Decision.Action)
	assert.Equal(t, 0.65, res.Decision.Confidence)
}

func TestLLM_FailsClosed(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		srv := chatServer(t, http.StatusUnauthorized, `{}`)
		res := NewLLM(testCfg(srv.URL)).Decide(context.Background(), Context{Pair: "SOL/USDC"})
		assert.Equal(t, Fallback, res.Outcome)
		assert.Equal(t, domain.SideHold, res.Decision.Action)
		assert.Zero(t, res.Decision.Confidence)
		require.Len(t, res.Decision.Reasons, 1)
	})
	t.Run("shape mismatch", func(t *testing.T) {
		srv := chatServer(t, http.StatusOK, `{"action":["BUY"],"confidence":1}`)
		res := NewLLM(testCfg(srv.URL)).Decide(context.Background(), Context{Pair: "SOL/USDC"})
		assert.Equal(t, Fallback, res.Outcome)
		assert.Equal(t, domain.SideHold, res.Decision.Action)
	})
	t.Run("no api key", func(t *testing.T) {
		res := NewLLM(config.LLMConfig{BaseURL: "http://127.0.0.1:1"}).Decide(context.Background(), Context{})
		assert.Equal(t, Fallback, res.Outcome)
		assert.ErrorIs(t, res.Err, ErrNoAPIKey)
	})
}

func TestLLM_FallbackCountedOnce(t *testing.T) {
	before := metrics.PlannerFallbacks.Value()
	NewLLM(config.LLMConfig{BaseURL: "http://127.0.0.1:1"}).Decide(context.Background(), Context{})
	assert.Equal(t, before+1, metrics.PlannerFallbacks.Value())
}
