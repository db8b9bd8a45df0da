package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLRegexp_CacheIsBounded(t *testing.T) {
	for i := range 10000 {
		ok, err := sqlRegexp(fmt.Sprintf("^v%d", i), []byte(fmt.Sprintf("v%d-suffix", i)))
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.LessOrEqual(t, regexCache.len(), regexCacheSize)

	ok, err := sqlRegexp("^v1$", []byte("v10"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = sqlRegexp("(", []byte("x"))
	assert.Error(t, err)
}

func TestRegexLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newRegexLRU(2)
	a, err := c.compile("^a")
	require.NoError(t, err)
	_, err = c.compile("^b")
	require.NoError(t, err)

	// Touch ^a so ^b is the oldest.
	again, err := c.compile("^a")
	require.NoError(t, err)
	assert.Same(t, a, again)

	_, err = c.compile("^c")
	require.NoError(t, err)
	assert.Equal(t, 2, c.len())
	assert.Contains(t, c.items, "^a")
	assert.Contains(t, c.items, "^c")
	assert.NotContains(t, c.items, "^b")
}
