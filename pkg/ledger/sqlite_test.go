package ledger

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)

	ctx := context.Background()
	l, err := Open(ctx, store, testKey, Config{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, sampleEntry(i))
		require.NoError(t, err)
	}

	report, err := l.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 3, report.Entries)

	// Reopen over the same table and keep appending.
	l2, err := Open(ctx, store, testKey, Config{})
	require.NoError(t, err)
	e, err := l2.Append(ctx, sampleEntry(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), e.Sequence)
}
