package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Force rewrites the recorded version without running migration SQL; it
// exists to recover from a dirty state. These tests pin that it really does
// skip the SQL.
func TestMigrateForceSkipsMigrations(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "force.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.MigrateForce(1))

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Up is now a no-op, so the schema the forced version claims must really
	// be absent.
	require.NoError(t, db.MigrateUp())
	err = db.CreateJob(context.Background(), &Job{ID: uuid.New(), Source: "x.gcode", State: "idle"})
	assert.Error(t, err, "jobs table should not exist after forcing the version")
}

func TestMigrateForceClearsDirtyFlag(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "dirty.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.MigrateUp())

	// Simulate the aftermath of a migration that died mid-run.
	_, err = db.Exec(`UPDATE schema_migrations SET dirty = 1`)
	require.NoError(t, err)

	_, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	require.True(t, dirty, "test setup should leave the schema dirty")

	// A dirty schema refuses further migrations until forced.
	assert.Error(t, db.MigrateUp())

	require.NoError(t, db.MigrateForce(1))
	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Normal operation resumes.
	assert.NoError(t, db.CreateJob(context.Background(), &Job{ID: uuid.New(), Source: "y.gcode", State: "idle"}))
}

func TestMigrateVersionFreshDatabase(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)
}
