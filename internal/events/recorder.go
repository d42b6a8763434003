package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/idvrelay/idvrelay/internal/platform/database"
	"github.com/jackc/pgx/v5/pgconn"
)

// RecorderConfig configures the async event recorder.
type RecorderConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// AsyncRecorder is a Sink that persists events in batches from a background
// worker so the webhook response never waits on the database.
type AsyncRecorder struct {
	ch     chan Event
	store  *Store
	db     database.Querier
	cfg    RecorderConfig
	logger *slog.Logger
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewAsyncRecorder creates and starts an async recorder.
func NewAsyncRecorder(db database.Querier, store *Store, cfg RecorderConfig) *AsyncRecorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &AsyncRecorder{
		ch:     make(chan Event, cfg.BufferSize),
		store:  store,
		db:     db,
		cfg:    cfg,
		logger: logger,
		cancel: cancel,
	}

	r.wg.Add(1)
	go r.worker(ctx)

	return r
}

// Deliver enqueues an event. Never blocks; drops if the buffer is full.
func (r *AsyncRecorder) Deliver(_ context.Context, evt Event) {
	select {
	case r.ch <- evt:
	default:
		dropped.WithLabelValues("recorder").Inc()
		r.logger.Warn("event buffer full, dropping event", "session_id", evt.SessionID)
	}
}

// Close flushes remaining events and stops the worker.
func (r *AsyncRecorder) Close() error {
	r.cancel()
	r.wg.Wait()
	r.flush(r.drainAll())
	return nil
}

func (r *AsyncRecorder) worker(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	var batch []Event

	for {
		select {
		case <-ctx.Done():
			batch = append(batch, r.drainAll()...)
			r.flush(batch)
			return

		case e := <-r.ch:
			batch = append(batch, e)
			if len(batch) >= r.cfg.BatchSize {
				r.flush(batch)
				batch = nil
			}

		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = nil
			}
		}
	}
}

func (r *AsyncRecorder) flush(events []Event) {
	if len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	inserted, err := r.store.InsertBatch(ctx, r.db, events)
	if err != nil {
		var pgErr *pgconn.PgError
		if len(events) > 1 && errors.As(err, &pgErr) {
			r.logger.Warn("event batch rejected, retrying row by row", "code", pgErr.Code, "count", len(events))
			r.flushEach(ctx, events)
			return
		}
		persisted.WithLabelValues("error").Add(float64(len(events)))
		r.logger.Error("event flush failed", "error", err, "count", len(events))
		return
	}
	r.countInserted(len(events), inserted)
}

// flushEach inserts events one at a time so a row the database rejects only
// loses itself.
func (r *AsyncRecorder) flushEach(ctx context.Context, events []Event) {
	for i := range events {
		inserted, err := r.store.InsertBatch(ctx, r.db, events[i:i+1])
		if err != nil {
			persisted.WithLabelValues("error").Inc()
			r.logger.Error("event insert failed",
				"error", err,
				"session_id", events[i].SessionID,
				"event_id", events[i].ID.String(),
			)
			continue
		}
		r.countInserted(1, inserted)
	}
}

func (r *AsyncRecorder) countInserted(total, inserted int) {
	persisted.WithLabelValues("inserted").Add(float64(inserted))
	if dup := total - inserted; dup > 0 {
		persisted.WithLabelValues("duplicate").Add(float64(dup))
	}
}

func (r *AsyncRecorder) drainAll() []Event {
	var events []Event
	for {
		select {
		case e := <-r.ch:
			events = append(events, e)
		default:
			return events
		}
	}
}
