package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryCache_TTL(t *testing.T) {
	c := NewInMemoryCache[string, int](time.Minute)
	defer c.Close()
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	c.Set("a", 1, 0)
	c.Set("forever", 2, -1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	v, ok = c.Get("forever")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Size())
}

func TestInMemoryCache_GetOrLoad(t *testing.T) {
	c := NewInMemoryCache[string, uint8](-1)
	defer c.Close()

	calls := 0
	load := func() (uint8, error) {
		calls++
		return 6, nil
	}
	v, err := c.GetOrLoad("mint", 0, load)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), v)
	_, _ = c.GetOrLoad("mint", 0, load)
	assert.Equal(t, 1, calls)

	_, err = c.GetOrLoad("bad", 0, func() (uint8, error) { return 0, errors.New("rpc down") })
	assert.Error(t, err)
	_, ok := c.Get("bad")
	assert.False(t, ok)
}
