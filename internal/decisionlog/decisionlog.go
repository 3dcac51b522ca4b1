// Package decisionlog batches decision records into the store so cycle
// execution never blocks on persistence. Entries survive transient store
// failures in a bounded buffer and are flushed on recovery.
package decisionlog

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/btcintel/internal/metrics"
	"github.com/ajitpratap0/btcintel/internal/models"
	"github.com/ajitpratap0/btcintel/internal/store"
)

const (
	defaultBatchSize     = 16
	defaultFlushInterval = 5 * time.Second
	defaultBufferSize    = 1024
)

// Entry pairs a decision with its execution outcome.
type Entry struct {
	Decision models.Decision
	Result   models.ExecutionResult
}

// Config tunes the logger. Zero values select the defaults.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// Logger is the asynchronous batching decision writer.
type Logger struct {
	st  store.Store
	cfg Config
	log zerolog.Logger

	ch     chan Entry
	done   chan struct{}
	closed sync.Once

	mu      sync.Mutex
	closing bool
	pending []Entry // entries awaiting retry after a store failure
	dropped uint64
}

// New starts the logger's flush worker.
func New(st store.Store, cfg Config, log zerolog.Logger) *Logger {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}

	l := &Logger{
		st:   st,
		cfg:  cfg,
		log:  log.With().Str("component", "decisionlog").Logger(),
		ch:   make(chan Entry, cfg.BufferSize),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// Log enqueues one entry without blocking. When the buffer is full, or
// the logger is already closed, the entry is dropped and counted.
func (l *Logger) Log(d models.Decision, r models.ExecutionResult) {
	l.mu.Lock()
	if !l.closing {
		select {
		case l.ch <- Entry{Decision: d, Result: r}:
			l.mu.Unlock()
			return
		default:
		}
	}
	l.dropped++
	l.mu.Unlock()

	metrics.DecisionLogDropped.Inc()
	l.log.Warn().
		Str("decision_id", d.ID.String()).
		Str("cycle_id", d.CycleID).
		Msg("Decision log entry dropped")
}

// Dropped reports how many entries were discarded at enqueue.
func (l *Logger) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Close stops the worker after flushing everything still buffered.
func (l *Logger) Close() {
	l.closed.Do(func() {
		l.mu.Lock()
		l.closing = true
		l.mu.Unlock()
		close(l.ch)
		<-l.done
	})
}

func (l *Logger) run() {
	defer close(l.done)

	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, l.cfg.BatchSize)
	for {
		select {
		case e, ok := <-l.ch:
			if !ok {
				l.flush(batch)
				l.drainAndFlush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= l.cfg.BatchSize {
				l.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			l.flush(batch)
			batch = batch[:0]
		}
	}
}

// drainAndFlush empties whatever arrived between close and shutdown.
func (l *Logger) drainAndFlush() {
	var batch []Entry
	for e := range l.ch {
		batch = append(batch, e)
	}
	l.flush(batch)
}

// flush writes retry backlog first, then the new batch. Failed entries
// return to the backlog, bounded at the buffer size by discarding oldest.
func (l *Logger) flush(batch []Entry) {
	l.mu.Lock()
	entries := append(l.pending, batch...)
	l.pending = nil
	l.mu.Unlock()

	if len(entries) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var failed []Entry
	for _, e := range entries {
		if err := l.st.AppendDecision(ctx, e.Decision, e.Result); err != nil {
			failed = append(failed, e)
			l.log.Warn().Err(err).
				Str("decision_id", e.Decision.ID.String()).
				Msg("Failed to persist decision, will retry")
		}
	}

	if len(failed) == 0 {
		metrics.DecisionLogFlushes.WithLabelValues("success").Inc()
		return
	}
	metrics.DecisionLogFlushes.WithLabelValues("failure").Inc()

	l.mu.Lock()
	if over := len(failed) - l.cfg.BufferSize; over > 0 {
		failed = failed[over:]
		l.dropped += uint64(over)
	}
	l.pending = failed
	l.mu.Unlock()
}
