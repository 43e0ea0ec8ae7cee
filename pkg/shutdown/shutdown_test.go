package shutdown

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdown_RunsAllCallbacksOnce(t *testing.T) {
	m := NewManager()
	var n int32
	for i := 0; i < 3; i++ {
		m.OnShutdown(func(ctx context.Context) { atomic.AddInt32(&n, 1) })
	}
	m.Shutdown(context.Background())
	m.Shutdown(context.Background())
	assert.Equal(t, int32(3), atomic.LoadInt32(&n))
}

func TestShutdown_ReturnsOnTimeout(t *testing.T) {
	m := NewManager()
	release := make(chan struct{})
	defer close(release)
	m.OnShutdown(func(ctx context.Context) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	m.Shutdown(ctx)
	assert.Less(t, time.Since(start), time.Second)
}
