package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandstring(t *testing.T) {
	s := Randstring(16)
	require.Len(t, s, 16)
	for _, r := range s {
		assert.True(t, r >= 'a' && r <= 'z', "unexpected rune %q in %q", r, s)
	}
}

func TestNewRunURIIsValid(t *testing.T) {
	for i := 0; i < 100; i++ {
		uri := NewRunURI()
		assert.Len(t, uri, 8)
		assert.True(t, ValidRunURI(uri), "generated %q", uri)
	}
}

func TestValidRunURI(t *testing.T) {
	assert.True(t, ValidRunURI("abc123"))
	assert.True(t, ValidRunURI("ABC"))
	assert.True(t, ValidRunURI("0123456789")) // exactly the max length

	assert.False(t, ValidRunURI(""))
	assert.False(t, ValidRunURI("0123456789a")) // one over
	assert.False(t, ValidRunURI("abc-123"))
	assert.False(t, ValidRunURI("abc 123"))
	assert.False(t, ValidRunURI("abc/123"))
}

func TestTempDirIsKeyedByRunURI(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())
	a := TempDir("aaa")
	b := TempDir("bbb")
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "run_aaa")

	dir, err := EnsureTempDir("aaa")
	require.NoError(t, err)
	assert.DirExists(t, dir)

	// Idempotent.
	_, err = EnsureTempDir("aaa")
	require.NoError(t, err)
}

func TestLastNonEmptyLine(t *testing.T) {
	assert.Equal(t, "result", LastNonEmptyLine([]byte("noise\nresult\n\n")))
	assert.Equal(t, "only", LastNonEmptyLine([]byte("only")))
}
