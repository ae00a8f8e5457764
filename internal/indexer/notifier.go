package indexer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/susamn/obsidian-web/internal/index/store"
)

const (
	KindIncremental = "incremental"
	KindRebuild     = "rebuild"
)

// IndexEvent tells observers that the index changed. Index is set only for
// rebuild events, since a rebuild may replace the handle.
type IndexEvent struct {
	ID    uuid.UUID   `json:"id"`
	Kind  string      `json:"kind"`
	Index store.Index `json:"-"`
	Paths []string    `json:"paths,omitempty"`
	At    time.Time   `json:"at"`
}

// Observer receives index events. It runs on a notifier goroutine.
type Observer func(IndexEvent)

// Notifier fans index events out to registered observers.
type Notifier struct {
	logger *slog.Logger

	mu        sync.RWMutex
	next      uint64
	observers map[uint64]Observer
}

func newNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{logger: logger, observers: make(map[uint64]Observer)}
}

// Subscribe registers o and returns a function that removes it.
func (n *Notifier) Subscribe(o Observer) (unsubscribe func()) {
	n.mu.Lock()
	id := n.next
	n.next++
	n.observers[id] = o
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.observers, id)
			n.mu.Unlock()
		})
	}
}

// publish dispatches ev on a fresh goroutine and returns immediately.
func (n *Notifier) publish(kind string, idx store.Index, paths []string) {
	n.mu.RLock()
	observers := make([]Observer, 0, len(n.observers))
	for _, o := range n.observers {
		observers = append(observers, o)
	}
	n.mu.RUnlock()

	if len(observers) == 0 {
		return
	}

	ev := IndexEvent{ID: uuid.New(), Kind: kind, Index: idx, Paths: paths, At: time.Now()}
	go func() {
		for _, o := range observers {
			n.dispatch(o, ev)
		}
	}()
}

func (n *Notifier) dispatch(o Observer, ev IndexEvent) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("indexer: observer panic",
				slog.String("kind", ev.Kind),
				slog.String("error", fmt.Sprint(r)))
		}
	}()
	o(ev)
}
