package scheduler

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echofix/echofix/internal/store"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	svc := NewService(openTestDB(t), nil, "not a cron spec")
	err := svc.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron spec")
}

func TestStartAndStop(t *testing.T) {
	svc := NewService(openTestDB(t), nil, "0 */6 * * *")
	require.NoError(t, svc.Start(context.Background()))
	svc.Stop()
}
