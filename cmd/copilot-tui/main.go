// copilot-tui 终端看板：订阅 /api/ui/stream 的状态推送，快捷键调用 /api/ui/* 控制循环与下单。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	gorillaWS "github.com/gorilla/websocket"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/state"
	sdkhttp "github.com/simulatedrealty/PSYOPS-Solana-Copilot/pkg/sdk/http"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	upStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("2")) // 绿色

	downStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")) // 红色

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

type stateMsg struct{ st state.State }

type connectedMsg struct {
	conn *gorillaWS.Conn
	err  error
}

type streamClosedMsg struct{ err error }

type actionDoneMsg struct {
	label string
	err   error
}

type model struct {
	api    *sdkhttp.Client
	wsURL  string
	conn   *gorillaWS.Conn
	st     state.State
	hasSt  bool
	status string
	err    error
}

func (m model) Init() tea.Cmd {
	return connectCmd(m.wsURL)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.conn != nil {
				_ = m.conn.Close()
			}
			return m, tea.Quit
		case "s":
			return m, postCmd(m.api, "start loop", "/api/ui/start", nil)
		case "x":
			return m, postCmd(m.api, "stop loop", "/api/ui/stop", nil)
		case "b":
			return m, postCmd(m.api, "execute BUY", "/api/ui/execute-now", map[string]string{"side": "BUY"})
		case "n":
			return m, postCmd(m.api, "execute SELL", "/api/ui/execute-now", map[string]string{"side": "SELL"})
		case "p":
			return m, postCmd(m.api, "toggle paper mode", "/api/ui/paper-mode", map[string]bool{"enabled": !m.st.PaperMode})
		case "c":
			next := domain.ChainBase
			if m.st.Chain == domain.ChainBase {
				next = domain.ChainSolana
			}
			return m, postCmd(m.api, "switch to "+string(next), "/api/ui/set-chain", map[string]string{"chain": string(next)})
		}

	case connectedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, reconnectCmd(m.wsURL)
		}
		m.conn, m.err = msg.conn, nil
		return m, readCmd(m.conn)

	case stateMsg:
		m.st, m.hasSt = msg.st, true
		return m, readCmd(m.conn)

	case streamClosedMsg:
		m.err = msg.err
		m.conn = nil
		return m, reconnectCmd(m.wsURL)

	case actionDoneMsg:
		if msg.err != nil {
			m.status = downStyle.Render(fmt.Sprintf("%s: %v", msg.label, msg.err))
		} else {
			m.status = upStyle.Render(msg.label + ": ok")
		}
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("PSYOPS Copilot") + "\n\n")

	if m.err != nil {
		b.WriteString(downStyle.Render("连接异常: "+m.err.Error()) + "\n\n")
	}
	if !m.hasSt {
		b.WriteString(dimStyle.Render("等待状态推送...") + "\n")
		return b.String()
	}
	st := m.st

	loopState := downStyle.Render("stopped")
	if st.Running {
		loopState = upStyle.Render("running")
	}
	mode := "live"
	if st.PaperMode {
		mode = "paper"
	}
	head := fmt.Sprintf("%s  %s  loop=%s  mode=%s",
		titleStyle.Render(strings.ToUpper(string(st.Chain))), st.Pair, loopState, mode)
	b.WriteString(head + "\n")

	mkt := st.LastMarket
	market := fmt.Sprintf("price %.6f  slippage %.1fbps  route %s", mkt.ImpliedPrice, mkt.SlippageBps, orDash(mkt.RouteSummary))
	sig := fmt.Sprintf("signal %s (%.2f)  %s", sideStyle(st.LastSignal.Signal), st.LastSignal.Strength, strings.Join(st.LastSignal.Reasons, "; "))
	dec := fmt.Sprintf("decision %s (%.2f)  %s", sideStyle(st.LastDecision.Action), st.LastDecision.Confidence, strings.Join(st.LastDecision.Reasons, "; "))
	riskLine := fmt.Sprintf("risk allowed=%v  notional=%v slippage=%v cooldown=%v dailyLoss=%v",
		st.LastRisk.Allowed, st.LastRisk.NotionalOK, st.LastRisk.SlippageOK, st.LastRisk.CooldownOK, st.LastRisk.DailyLossOK)
	b.WriteString(borderStyle.Render(strings.Join([]string{market, sig, dec, riskLine}, "\n")) + "\n")

	pf := st.Portfolio
	pnl := upStyle.Render(fmt.Sprintf("%.2f", pf.RealizedPnL))
	if pf.RealizedPnL < 0 {
		pnl = downStyle.Render(fmt.Sprintf("%.2f", pf.RealizedPnL))
	}
	b.WriteString(fmt.Sprintf("position %.6f  quote $%.2f  pnl %s  dailyLoss $%.2f\n",
		pf.Position, pf.QuoteBalance, pnl, st.DailyLoss))

	b.WriteString("\n" + titleStyle.Render("最近成交") + "\n")
	hist := st.History
	if len(hist) > 5 {
		hist = hist[len(hist)-5:]
	}
	if len(hist) == 0 {
		b.WriteString(dimStyle.Render("  (无)") + "\n")
	}
	for i := len(hist) - 1; i >= 0; i-- {
		t := hist[i]
		b.WriteString(fmt.Sprintf("  %s %s @ %.6f\n", t.Timestamp.Local().Format("15:04:05"), sideStyle(t.Side), t.Price))
	}

	if st.LastError != "" {
		b.WriteString("\n" + downStyle.Render("last error: "+st.LastError) + "\n")
	}
	if m.status != "" {
		b.WriteString("\n" + m.status + "\n")
	}
	b.WriteString("\n" + dimStyle.Render("s start · x stop · b buy · n sell · p paper · c chain · q quit") + "\n")
	return b.String()
}

func sideStyle(s domain.Side) string {
	switch s {
	case domain.SideBuy:
		return upStyle.Render(string(s))
	case domain.SideSell:
		return downStyle.Render(string(s))
	default:
		return dimStyle.Render(orDash(string(s)))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func connectCmd(wsURL string) tea.Cmd {
	return func() tea.Msg {
		conn, _, err := gorillaWS.DefaultDialer.Dial(wsURL, nil)
		return connectedMsg{conn: conn, err: err}
	}
}

func reconnectCmd(wsURL string) tea.Cmd {
	return tea.Tick(3*time.Second, func(time.Time) tea.Msg {
		return connectCmd(wsURL)()
	})
}

func readCmd(conn *gorillaWS.Conn) tea.Cmd {
	return func() tea.Msg {
		var st state.State
		if err := conn.ReadJSON(&st); err != nil {
			_ = conn.Close()
			return streamClosedMsg{err: err}
		}
		return stateMsg{st: st}
	}
}

func postCmd(api *sdkhttp.Client, label, path string, body interface{}) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
		defer cancel()
		var opt *sdkhttp.RequestOptions
		if body != nil {
			opt = &sdkhttp.RequestOptions{Data: body}
		}
		_, err := api.DoRequest(ctx, http.MethodPost, path, opt, nil)
		return actionDoneMsg{label: label, err: err}
	}
}

func main() {
	addr := flag.String("addr", getenv("COPILOT_URL", "http://127.0.0.1:8080"), "copilot HTTP 地址")
	flag.Parse()

	u, err := url.Parse(strings.TrimRight(*addr, "/"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid -addr:", err)
		os.Exit(1)
	}
	ws := *u
	ws.Scheme = "ws"
	if u.Scheme == "https" {
		ws.Scheme = "wss"
	}
	ws.Path = strings.TrimRight(u.Path, "/") + "/api/ui/stream"

	m := model{
		api:   sdkhttp.NewClient(u.String(), sdkhttp.Options{Timeout: 90 * time.Second}),
		wsURL: ws.String(),
	}
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
