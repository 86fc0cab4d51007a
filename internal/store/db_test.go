package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBConnectLifecycle(t *testing.T) {
	ctx := context.Background()
	db := NewDB(filepath.Join(t.TempDir(), "test.snap"))

	require.NoError(t, db.Connect(ctx))
	assert.ErrorIs(t, db.Connect(ctx), ErrAlreadyConnected)

	require.NoError(t, db.Disconnect())
	assert.ErrorIs(t, db.Disconnect(), ErrNotConnected)

	_, err := db.Query(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = db.Exec(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDBConnectCreatesParentDir(t *testing.T) {
	ctx := context.Background()
	db := NewDB(filepath.Join(t.TempDir(), "nested", "dir", "test.snap"))

	require.NoError(t, db.Connect(ctx))
	t.Cleanup(func() { _ = db.Disconnect() })
}

func TestDBExecAndQuery(t *testing.T) {
	ctx := context.Background()
	db := NewDB(filepath.Join(t.TempDir(), "test.snap"))
	require.NoError(t, db.Connect(ctx))
	t.Cleanup(func() { _ = db.Disconnect() })

	_, err := db.Exec(ctx, "CREATE TABLE things (id INTEGER, name TEXT)")
	require.NoError(t, err)

	n, err := db.Exec(ctx, "INSERT INTO things VALUES (?, ?), (?, ?)", 1, "one", 2, "two")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	records, err := db.Query(ctx, "SELECT * FROM things ORDER BY id")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.EqualValues(t, 1, records[0]["id"])
	assert.Equal(t, "one", records[0]["name"])
	assert.Equal(t, "two", records[1]["name"])
}

func TestDBQueryNullValues(t *testing.T) {
	ctx := context.Background()
	db := NewDB(filepath.Join(t.TempDir(), "test.snap"))
	require.NoError(t, db.Connect(ctx))
	t.Cleanup(func() { _ = db.Disconnect() })

	_, err := db.Exec(ctx, "CREATE TABLE things (id INTEGER, name TEXT)")
	require.NoError(t, err)
	_, err = db.Exec(ctx, "INSERT INTO things VALUES (1, NULL)")
	require.NoError(t, err)

	records, err := db.Query(ctx, "SELECT * FROM things")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Nil(t, records[0]["name"])
}
