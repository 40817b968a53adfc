package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/runlog/internal/metrics"
	"github.com/roach88/runlog/internal/model"
	"github.com/roach88/runlog/internal/store"
)

// Defaults for the write gate and busy retry policy.
const (
	DefaultMaxInFlight  = 64
	DefaultBusyAttempts = 5
	DefaultBusyBackoff  = 100 * time.Millisecond
	DefaultBatchChunk   = 100
)

// ErrOverloaded is returned when the write gate is full. Callers should
// surface it as backpressure (HTTP 503), not as a client error.
var ErrOverloaded = errors.New("write gate full")

// Clock supplies the current time; swapped out in tests.
type Clock func() time.Time

// Engine owns all mutations against the store.
//
// Thread-safety model:
//   - all exported methods are safe from any goroutine
//   - the gate bounds admissions; the store's single writer connection
//     serializes the actual writes
type Engine struct {
	store *store.Store
	log   zerolog.Logger
	now   Clock

	gate         chan struct{}
	busyAttempts int
	busyBackoff  time.Duration
	batchChunk   int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxInFlight bounds concurrent write admissions.
func WithMaxInFlight(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.gate = make(chan struct{}, n)
		}
	}
}

// WithBusyRetry sets the busy retry policy: attempts tries total, backoff
// doubling from the given base between tries.
func WithBusyRetry(attempts int, backoff time.Duration) Option {
	return func(e *Engine) {
		if attempts > 0 {
			e.busyAttempts = attempts
		}
		if backoff > 0 {
			e.busyBackoff = backoff
		}
	}
}

// WithClock replaces the wall clock; tests use this to pin timestamps.
func WithClock(now Clock) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine over the store.
func New(s *store.Store, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:        s,
		log:          log,
		now:          time.Now,
		gate:         make(chan struct{}, DefaultMaxInFlight),
		busyAttempts: DefaultBusyAttempts,
		busyBackoff:  DefaultBusyBackoff,
		batchChunk:   DefaultBatchChunk,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// acquire takes a gate slot or fails fast. The gate never queues: a full
// gate means the store is already saturated and callers should back off.
func (e *Engine) acquire(ctx context.Context) (release func(), err error) {
	select {
	case e.gate <- struct{}{}:
		metrics.WriteGateInFlight.Inc()
		return func() {
			<-e.gate
			metrics.WriteGateInFlight.Dec()
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		metrics.WriteGateRejections.Inc()
		return nil, ErrOverloaded
	}
}

// withBusyRetry runs op, retrying with exponential backoff while the store
// reports a busy or locked database. Any other error returns immediately.
func (e *Engine) withBusyRetry(ctx context.Context, op func() error) error {
	backoff := e.busyBackoff
	var err error
	for attempt := 1; attempt <= e.busyAttempts; attempt++ {
		err = op()
		if err == nil || !store.IsBusy(err) {
			return err
		}
		if attempt == e.busyAttempts {
			break
		}
		metrics.BusyRetriesTotal.Inc()
		e.log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).
			Msg("database busy, retrying write")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return fmt.Errorf("write retries exhausted: %w", err)
}

// Insert records one run. The event_id is the idempotency key: the first
// write wins and later submissions with the same event_id return
// OutcomeDuplicate without touching the stored row.
func (e *Engine) Insert(ctx context.Context, r *model.Run) (Outcome, error) {
	release, err := e.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	if err := prepare(r, e.now()); err != nil {
		return "", err
	}

	start := time.Now()
	var inserted bool
	err = e.withBusyRetry(ctx, func() error {
		var opErr error
		inserted, opErr = e.store.InsertRun(ctx, r)
		return opErr
	})
	if err != nil {
		metrics.IngestTotal.WithLabelValues("insert", "error").Inc()
		return "", err
	}
	metrics.IngestDuration.WithLabelValues("insert").Observe(time.Since(start).Seconds())

	outcome := OutcomeDuplicate
	if inserted {
		outcome = OutcomeCreated
	}
	metrics.IngestTotal.WithLabelValues("insert", string(outcome)).Inc()
	e.log.Debug().Str("event_id", r.EventID).Str("outcome", string(outcome)).
		Msg("run recorded")
	return outcome, nil
}

// Batch records up to len(records) runs, committing in chunks so one huge
// request cannot hold the write lock for its whole duration. Results are
// positional: results[i] describes records[i]. Invalid records are reported
// in place and never abort the rest of the batch.
func (e *Engine) Batch(ctx context.Context, records []*model.Run) ([]BatchResult, error) {
	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	results := make([]BatchResult, len(records))
	now := e.now()

	for base := 0; base < len(records); base += e.batchChunk {
		chunk := records[base:min(base+e.batchChunk, len(records))]

		err := e.withBusyRetry(ctx, func() error {
			tx, err := e.store.BeginTx(ctx)
			if err != nil {
				return err
			}
			defer tx.Rollback()

			for i, r := range chunk {
				idx := base + i
				results[idx] = BatchResult{EventID: r.EventID}

				if err := prepare(r, now); err != nil {
					results[idx].Outcome = OutcomeInvalid
					results[idx].Error = err.Error()
					continue
				}
				results[idx].EventID = r.EventID

				inserted, err := e.store.InsertRunTx(ctx, tx, r)
				if err != nil {
					return err
				}
				if inserted {
					results[idx].Outcome = OutcomeCreated
				} else {
					results[idx].Outcome = OutcomeDuplicate
				}
			}
			return tx.Commit()
		})
		if err != nil {
			metrics.IngestTotal.WithLabelValues("batch", "error").Inc()
			return nil, fmt.Errorf("batch chunk at %d: %w", base, err)
		}
	}

	for _, res := range results {
		if res.Outcome != "" {
			metrics.IngestTotal.WithLabelValues("batch", string(res.Outcome)).Inc()
		}
	}
	return results, nil
}

// AppendEvent records one run sub-event. Events are append-only: no
// idempotency key, no patching.
func (e *Engine) AppendEvent(ctx context.Context, ev *model.RunEvent) error {
	release, err := e.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	ev.Canonicalize(e.now())
	if err := ev.Validate(); err != nil {
		return err
	}

	err = e.withBusyRetry(ctx, func() error {
		return e.store.InsertRunEvent(ctx, ev)
	})
	if err != nil {
		metrics.IngestTotal.WithLabelValues("event", "error").Inc()
		return err
	}
	metrics.IngestTotal.WithLabelValues("event", "created").Inc()
	return nil
}

// prepare canonicalizes and validates a run before it may reach the store.
func prepare(r *model.Run, now time.Time) error {
	if err := r.Canonicalize(now); err != nil {
		return &model.ValidationError{Reason: err.Error()}
	}
	return r.Validate()
}
