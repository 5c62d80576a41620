package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useDatabase(t *testing.T) string {
	t.Helper()
	for _, k := range []string{"USERS_DB_DRIVER", "DATABASE_URL", "USERS_DB_DSN", "USERS_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	path := filepath.Join(t.TempDir(), "users.db")
	t.Setenv("USERS_DB_PATH", path)
	return path
}

func migrateCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := run(context.Background(), args, strings.NewReader(stdin), &out, &errOut)
	return out.String(), err
}

func TestMigrate_UpDownForce(t *testing.T) {
	useDatabase(t)

	_, err := migrateCmd(t, "", "up")
	require.NoError(t, err)
	out, err := migrateCmd(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "version: 1  dirty: false  expected: 1\n", out)

	_, err = migrateCmd(t, "", "up")
	require.NoError(t, err, "up is idempotent")

	_, err = migrateCmd(t, "", "down")
	require.NoError(t, err)
	out, err = migrateCmd(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "version: 0  dirty: false  expected: 1\n", out)

	_, err = migrateCmd(t, "", "force", "1")
	require.NoError(t, err)
	out, err = migrateCmd(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "version: 1  dirty: false  expected: 1\n", out)
}

func TestMigrate_DropNeedsConfirmation(t *testing.T) {
	useDatabase(t)
	_, err := migrateCmd(t, "", "up")
	require.NoError(t, err)

	out, err := migrateCmd(t, "no\n", "drop")
	require.NoError(t, err)
	assert.Equal(t, "aborted\n", out)

	out, err = migrateCmd(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "version: 1")
}

func TestMigrate_BadArguments(t *testing.T) {
	useDatabase(t)

	_, err := migrateCmd(t, "")
	assert.ErrorIs(t, err, errUsage)

	_, err = migrateCmd(t, "", "sideways")
	assert.ErrorIs(t, err, errUsage)

	_, err = migrateCmd(t, "", "down", "zero")
	assert.ErrorContains(t, err, "invalid steps")

	_, err = migrateCmd(t, "", "force")
	assert.ErrorContains(t, err, "version argument required")
}
