package store

import (
	"context"
	"fmt"
	"os"
)

// Backup produces a consistent copy of the store at targetPath using
// VACUUM INTO (online, transactional, and compacting in one pass), then
// integrity-checks the copy. A copy that fails verification is deleted so a
// bad file can never enter the backup rotation.
func (s *Store) Backup(ctx context.Context, targetPath string) error {
	if _, err := os.Stat(targetPath); err == nil {
		return fmt.Errorf("backup: target %s already exists", targetPath)
	}

	if _, err := s.writer.ExecContext(ctx, `VACUUM INTO ?`, targetPath); err != nil {
		return fmt.Errorf("backup: vacuum into %s: %w", targetPath, err)
	}

	copyStore, err := Open(targetPath, Options{ReadOnly: true, Logger: s.log})
	if err != nil {
		os.Remove(targetPath)
		return fmt.Errorf("backup: open copy: %w", err)
	}
	ok, msg, err := copyStore.IntegrityCheck(ctx, IntegrityFull)
	copyStore.Close()
	if err != nil {
		os.Remove(targetPath)
		return fmt.Errorf("backup: verify copy: %w", err)
	}
	if !ok {
		os.Remove(targetPath)
		return fmt.Errorf("backup: copy failed integrity check: %s", msg)
	}

	s.log.Info().Str("target", targetPath).Msg("backup verified")
	return nil
}
