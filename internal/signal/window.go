package signal

// DefaultWindowSize 滚动价格窗口大小
const DefaultWindowSize = 30

// Window 有界滑动价格窗口：超出容量时丢弃最旧的样本。
// 没有时间戳，也没有衰减。非并发安全，由 state.Store 的锁保护。
type Window struct {
	size   int
	prices []float64
}

// NewWindow 创建窗口；size <= 0 时使用默认大小
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{size: size, prices: make([]float64, 0, size)}
}

// Push 追加一个价格
func (w *Window) Push(price float64) {
	if len(w.prices) == w.size {
		copy(w.prices, w.prices[1:])
		w.prices = w.prices[:w.size-1]
	}
	w.prices = append(w.prices, price)
}

// Reset 清空窗口（切换链/交易对时调用）
func (w *Window) Reset() {
	w.prices = w.prices[:0]
}

// Len 当前样本数
func (w *Window) Len() int {
	return len(w.prices)
}

// Size 容量
func (w *Window) Size() int {
	return w.size
}

// Prices 返回样本副本（从旧到新）
func (w *Window) Prices() []float64 {
	out := make([]float64, len(w.prices))
	copy(out, w.prices)
	return out
}

// Clone 深拷贝
func (w *Window) Clone() *Window {
	return &Window{size: w.size, prices: w.Prices()}
}
