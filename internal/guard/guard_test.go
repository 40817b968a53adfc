//go:build unix

package guard

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func guardPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "runs.db.lock")
}

func TestAcquire_WritesHolderIdentity(t *testing.T) {
	path := guardPath(t)

	g, err := Acquire(path)
	require.NoError(t, err)
	defer g.Release()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)

	pid, err := strconv.Atoi(lines[0])
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	host, _ := os.Hostname()
	assert.Equal(t, host, lines[1])
}

func TestAcquire_SecondAcquireFails(t *testing.T) {
	path := guardPath(t)

	g, err := Acquire(path)
	require.NoError(t, err)
	defer g.Release()

	_, err = Acquire(path)
	var held *HeldError
	require.ErrorAs(t, err, &held)
	assert.Equal(t, path, held.Path)
	assert.Equal(t, os.Getpid(), held.PID)
	assert.Contains(t, held.Error(), strconv.Itoa(os.Getpid()))
}

func TestRelease_AllowsReacquire(t *testing.T) {
	path := guardPath(t)

	g, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, g.Release())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "guard file removed on release")

	g2, err := Acquire(path)
	require.NoError(t, err)
	assert.NoError(t, g2.Release())
}

func TestRelease_Idempotent(t *testing.T) {
	g, err := Acquire(guardPath(t))
	require.NoError(t, err)

	require.NoError(t, g.Release())
	assert.NoError(t, g.Release())
	assert.NoError(t, g.Release())
}

func TestAcquire_StaleFileWithoutLockIsTaken(t *testing.T) {
	// A leftover file whose writer died holds no flock; acquisition
	// succeeds and overwrites the stale identity.
	path := guardPath(t)
	require.NoError(t, os.WriteFile(path, []byte("999999\nghost-host\n"), 0o644))

	g, err := Acquire(path)
	require.NoError(t, err)
	defer g.Release()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "ghost-host")
}
