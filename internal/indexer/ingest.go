package indexer

import (
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/susamn/obsidian-web/internal/models"
)

// ingest is the bounded intake between SubmitChange and the event loop.
// It also owns the event counters: every accepted submission stays pending
// until settled as processed or dropped.
type ingest struct {
	queue  chan models.ChangeEvent
	logger *slog.Logger

	mu        sync.Mutex
	closed    bool
	submitted uint64
	processed uint64
	dropped   uint64
	pending   uint64

	dropLog rate.Sometimes
}

func newIngest(capacity int, logger *slog.Logger) *ingest {
	return &ingest{
		queue:   make(chan models.ChangeEvent, capacity),
		logger:  logger,
		dropLog: rate.Sometimes{First: 10, Every: 100},
	}
}

// offer enqueues ev without blocking. It reports false when the event was
// dropped because the service is cancelled or the queue is full.
func (in *ingest) offer(ev models.ChangeEvent, cancelled bool) bool {
	in.mu.Lock()
	in.submitted++
	reason := ""
	switch {
	case in.closed || cancelled:
		reason = "cancelled"
	default:
		select {
		case in.queue <- ev:
			in.pending++
		default:
			reason = "queue full"
		}
	}
	if reason != "" {
		in.dropped++
	}
	total := in.dropped
	in.mu.Unlock()

	if reason == "" {
		return true
	}
	in.dropLog.Do(func() {
		in.logger.Warn("indexer: event dropped",
			slog.String("path", ev.Path),
			slog.String("reason", reason),
			slog.Uint64("dropped_total", total))
	})
	return false
}

// settle moves accepted events out of pending.
func (in *ingest) settle(processed, dropped int) {
	if processed == 0 && dropped == 0 {
		return
	}
	in.mu.Lock()
	in.processed += uint64(processed)
	in.dropped += uint64(dropped)
	in.pending -= uint64(processed + dropped)
	in.mu.Unlock()
}

// close stops intake. Later offers are dropped.
func (in *ingest) close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return
	}
	in.closed = true
	close(in.queue)
}

// drain counts every event left in a closed queue as dropped.
func (in *ingest) drain() int {
	n := 0
	for range in.queue {
		n++
	}
	in.settle(0, n)
	return n
}

type counters struct {
	submitted, processed, dropped, pending uint64
}

func (in *ingest) snapshot() counters {
	in.mu.Lock()
	defer in.mu.Unlock()
	return counters{
		submitted: in.submitted,
		processed: in.processed,
		dropped:   in.dropped,
		pending:   in.pending,
	}
}
