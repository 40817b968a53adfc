package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "runlog", cmd.Use)
	assert.Contains(t, cmd.Long, "SQLite")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"serve", "init", "migrate", "verify", "integrity", "backup", "retention", "replay"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	dbFlag := cmd.PersistentFlags().Lookup("db")
	require.NotNil(t, dbFlag)
	assert.Equal(t, "", dbFlag.DefValue)
}

func TestMigrateCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	migrateCmd, _, err := cmd.Find([]string{"migrate"})
	require.NoError(t, err)

	toFlag := migrateCmd.Flags().Lookup("to")
	require.NotNil(t, toFlag)
}

func TestBackupCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	backupCmd, _, err := cmd.Find([]string{"backup"})
	require.NoError(t, err)

	destFlag := backupCmd.Flags().Lookup("dest")
	require.NotNil(t, destFlag)

	keepFlag := backupCmd.Flags().Lookup("keep")
	require.NotNil(t, keepFlag)
}

func TestRetentionCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	retentionCmd, _, err := cmd.Find([]string{"retention"})
	require.NoError(t, err)

	daysFlag := retentionCmd.Flags().Lookup("days")
	require.NotNil(t, daysFlag)

	dryRunFlag := retentionCmd.Flags().Lookup("dry-run")
	require.NotNil(t, dryRunFlag)
	assert.Equal(t, "false", dryRunFlag.DefValue)
}

func TestReplayCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	replayCmd, _, err := cmd.Find([]string{"replay"})
	require.NoError(t, err)

	serverFlag := replayCmd.Flags().Lookup("server")
	require.NotNil(t, serverFlag)

	bufferFlag := replayCmd.Flags().Lookup("buffer-dir")
	require.NotNil(t, bufferFlag)
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "verify"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, ExitFailure, GetExitCode(WrapExitError(ExitFailure, "wrapped", assert.AnError)))
}
