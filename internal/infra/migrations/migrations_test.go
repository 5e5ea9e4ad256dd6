package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseName(t *testing.T) {
	version, name, ok := ParseName("002_outbox.sql")
	require.True(t, ok)
	assert.Equal(t, 2, version)
	assert.Equal(t, "outbox", name)

	version, name, ok = ParseName("010_outbox_index.sql")
	require.True(t, ok)
	assert.Equal(t, 10, version)
	assert.Equal(t, "outbox_index", name)

	for _, bad := range []string{"readme.md", "abc_x.sql", "001.sql", "000_zero.sql", "001_.sql"} {
		_, _, ok := ParseName(bad)
		assert.False(t, ok, bad)
	}
}

func TestPendingOrdersAndSkipsApplied(t *testing.T) {
	all, err := Pending(nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(all), 2)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Version, all[i].Version)
	}
	assert.Contains(t, all[0].SQL, "CREATE TABLE IF NOT EXISTS messages")

	rest, err := Pending(map[int]bool{1: true})
	require.NoError(t, err)
	for _, m := range rest {
		assert.NotEqual(t, 1, m.Version)
	}
	assert.Len(t, rest, len(all)-1)
}
