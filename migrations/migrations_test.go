package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestDiscoverEmbedded(t *testing.T) {
	all, err := Discover()
	require.NoError(t, err)
	require.NotEmpty(t, all)
	require.Equal(t, "0001", all[0].Version)
	require.Len(t, all[0].Checksum, 64)
	for _, table := range []string{"products", "inventory_ledger", "orders", "payments", "stock_entries", "area_inventory", "audit_logs"} {
		require.Contains(t, all[0].SQL, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}

func TestDiscoverOrdersAndRejectsBadNames(t *testing.T) {
	all, err := discover(fstest.MapFS{
		"0002_more.sql": {Data: []byte("SELECT 2;")},
		"0001_init.sql": {Data: []byte("SELECT 1;")},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"0001_init.sql", "0002_more.sql"}, []string{all[0].Filename, all[1].Filename})

	_, err = discover(fstest.MapFS{"init.sql": {Data: []byte("x")}})
	require.ErrorContains(t, err, "invalid filename")

	_, err = discover(fstest.MapFS{
		"0001_a.sql": {Data: []byte("x")},
		"0001_b.sql": {Data: []byte("y")},
	})
	require.ErrorContains(t, err, "duplicate version")
}
