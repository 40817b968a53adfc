package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// Replay drains the failover buffer, oldest file first. A file is deleted
// only after every line in it is accepted. The first record that is not
// accepted, whether the server is unreachable or rejects it, halts the
// replay with that record and everything after it left in place, preserving
// order for the next attempt. The accepted prefix is trimmed from the file
// before halting so it is never re-sent.
func (c *Client) Replay(ctx context.Context) error {
	if c.buffer == nil {
		return nil
	}

	c.replayMu.Lock()
	defer c.replayMu.Unlock()

	for {
		files, err := c.buffer.files()
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return nil
		}
		path := files[0]

		entries, err := c.buffer.readEntries(path)
		if err != nil {
			return err
		}

		accepted := 0
		var halt error
		for i, entry := range entries {
			if err := c.replayEntry(ctx, entry); err != nil {
				halt = fmt.Errorf("replay %s line %d: %w", path, i, err)
				break
			}
			accepted++
		}

		if halt == nil {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove replayed buffer %s: %w", path, err)
			}
			c.log.Info().Str("file", path).Int("records", len(entries)).Msg("buffer replayed")
			continue
		}

		if accepted > 0 {
			if err := c.buffer.dropPrefix(path, accepted); err != nil {
				return errors.Join(halt, err)
			}
		}
		return halt
	}
}

// Buffered reports how many records currently wait in the failover buffer.
func (c *Client) Buffered() (int, error) {
	if c.buffer == nil {
		return 0, nil
	}
	files, err := c.buffer.files()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, path := range files {
		entries, err := c.buffer.readEntries(path)
		if err != nil {
			return 0, err
		}
		total += len(entries)
	}
	return total, nil
}

func (c *Client) replayEntry(ctx context.Context, entry bufferEntry) error {
	switch entry.Kind {
	case kindRun:
		if entry.Run == nil {
			return nil
		}
		return c.submitRun(ctx, entry.Run)
	case kindPatch:
		if entry.EventID == "" || len(entry.Fields) == 0 {
			return nil
		}
		return c.patchRun(ctx, entry.EventID, entry.Fields)
	case kindEvent:
		if entry.Event == nil {
			return nil
		}
		return c.appendEvent(ctx, entry.Event)
	default:
		c.log.Warn().Str("kind", entry.Kind).Msg("skipping unknown buffer entry kind")
		return nil
	}
}

// replayAsync kicks off at most one background replay after a successful
// report.
func (c *Client) replayAsync() {
	if c.buffer == nil {
		return
	}

	c.replayMu.Lock()
	if c.replaying {
		c.replayMu.Unlock()
		return
	}
	files, err := c.buffer.files()
	if err != nil || len(files) == 0 {
		c.replayMu.Unlock()
		return
	}
	c.replaying = true
	c.replayMu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := c.Replay(ctx); err != nil {
			c.log.Debug().Err(err).Msg("background replay halted")
		}
		c.replayMu.Lock()
		c.replaying = false
		c.replayMu.Unlock()
	}()
}
