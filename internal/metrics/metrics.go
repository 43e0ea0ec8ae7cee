package metrics

import "expvar"

var (
	LoopTicks        = expvar.NewInt("loop_ticks")
	LoopTicksSkipped = expvar.NewInt("loop_ticks_skipped")
	LoopPanics       = expvar.NewInt("loop_panics")
	QuoteErrors      = expvar.NewInt("quote_errors")
	PlannerFallbacks = expvar.NewInt("planner_fallbacks")
	TradesOK         = expvar.NewInt("trades_ok")
	TradesFailed     = expvar.NewInt("trades_failed")
	TradesBlocked    = expvar.NewInt("trades_risk_blocked")
	ReceiptsWritten  = expvar.NewInt("receipts_written")
	ReceiptErrors    = expvar.NewInt("receipt_errors")
)
