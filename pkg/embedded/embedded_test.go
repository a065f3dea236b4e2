package embedded

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema(t *testing.T) {
	for _, name := range []string{"history", "portfolio"} {
		sql, ok, err := Schema(name)
		require.NoError(t, err, name)
		assert.True(t, ok, name)
		assert.Contains(t, sql, "CREATE TABLE", name)
	}

	sql, ok, err := Schema("ledger")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, sql)
}
