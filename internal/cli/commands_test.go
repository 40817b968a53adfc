package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runlog/internal/guard"
)

// runCLI executes the root command with args and returns captured stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func decodeResponse(t *testing.T, out string) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	return resp
}

func TestInitCommand_CreatesDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")

	out, err := runCLI(t, "--format", "json", "--db", db, "init")
	require.NoError(t, err)
	assert.FileExists(t, db)

	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp.Status)

	data := resp.Data.(map[string]any)
	assert.Equal(t, db, data["database"])
	assert.EqualValues(t, 6, data["schema_version"])
}

func TestInitCommand_Idempotent(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")

	_, err := runCLI(t, "--db", db, "init")
	require.NoError(t, err)
	_, err = runCLI(t, "--db", db, "init")
	require.NoError(t, err)
}

func TestVerifyCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")
	_, err := runCLI(t, "--db", db, "init")
	require.NoError(t, err)

	out, err := runCLI(t, "--format", "json", "--db", db, "verify")
	require.NoError(t, err)
	assert.Equal(t, "ok", decodeResponse(t, out).Status)
}

func TestVerifyCommand_FailsOnPartialSchema(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")
	_, err := runCLI(t, "--db", db, "migrate", "--to", "2")
	require.NoError(t, err)

	_, err = runCLI(t, "--db", db, "verify")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "schema incomplete")
}

func TestMigrateCommand_ReportsVersions(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")

	out, err := runCLI(t, "--format", "json", "--db", db, "migrate")
	require.NoError(t, err)

	data := decodeResponse(t, out).Data.(map[string]any)
	assert.EqualValues(t, 0, data["from"])
	assert.EqualValues(t, 6, data["to"])
}

func TestIntegrityCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")
	_, err := runCLI(t, "--db", db, "init")
	require.NoError(t, err)

	for _, args := range [][]string{
		{"--format", "json", "--db", db, "integrity"},
		{"--format", "json", "--db", db, "integrity", "--full"},
	} {
		out, err := runCLI(t, args...)
		require.NoError(t, err)
		assert.Equal(t, "ok", decodeResponse(t, out).Status)
	}
}

func TestBackupCommand(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "runs.db")
	backups := filepath.Join(dir, "backups")
	_, err := runCLI(t, "--db", db, "init")
	require.NoError(t, err)

	out, err := runCLI(t, "--format", "json", "--db", db, "backup", "--dest", backups, "--keep", "3")
	require.NoError(t, err)
	assert.Equal(t, "ok", decodeResponse(t, out).Status)

	matches, err := filepath.Glob(filepath.Join(backups, "runlog_*.db"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestRetentionCommand_DryRun(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")
	_, err := runCLI(t, "--db", db, "init")
	require.NoError(t, err)

	out, err := runCLI(t, "--format", "json", "--db", db, "retention", "--days", "30", "--dry-run")
	require.NoError(t, err)

	data := decodeResponse(t, out).Data.(map[string]any)
	assert.Equal(t, true, data["dry_run"])
	assert.EqualValues(t, 0, data["runs_deleted"])
}

func TestReplayCommand_RequiresBufferDir(t *testing.T) {
	_, err := runCLI(t, "replay")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplayCommand_EmptyBuffer(t *testing.T) {
	out, err := runCLI(t, "replay", "--buffer-dir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to replay")
}

func TestCommands_RefuseHeldGuard(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")

	g, err := guard.Acquire(db + ".lock")
	require.NoError(t, err)
	defer g.Release()

	_, err = runCLI(t, "--db", db, "init")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
