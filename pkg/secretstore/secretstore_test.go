package secretstore

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMem(t *testing.T) *Store {
	t.Helper()
	s, err := Open(OpenOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetSetString(t *testing.T) {
	s := openMem(t)

	_, found, err := s.GetString("mnemonic")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetString("mnemonic", ""))
	v, found, err := s.GetString("mnemonic")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, v)

	_, _, err = s.GetString("  ")
	assert.Error(t, err)
}

func TestExportEnv_DoesNotOverrideExisting(t *testing.T) {
	s := openMem(t)
	require.NoError(t, s.SetString(EnvPrefix+"COPILOT_TEST_A", "from-store"))
	require.NoError(t, s.SetString(EnvPrefix+"COPILOT_TEST_B", "from-store"))
	require.NoError(t, s.SetString("other", "x"))

	t.Setenv("COPILOT_TEST_A", "")
	t.Setenv("COPILOT_TEST_B", "already-set")

	names, err := s.ExportEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"COPILOT_TEST_A"}, names)
	assert.Equal(t, "from-store", os.Getenv("COPILOT_TEST_A"))
	assert.Equal(t, "already-set", os.Getenv("COPILOT_TEST_B"))
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("0x" + strings.Repeat("ab", 32))
	require.NoError(t, err)
	assert.Len(t, k, 32)

	k, err = ParseKey("")
	require.NoError(t, err)
	assert.Nil(t, k)

	_, err = ParseKey("abcd")
	assert.Error(t, err)
}
