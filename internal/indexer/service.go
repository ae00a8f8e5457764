// Package indexer keeps a full-text index in sync with a markdown vault:
// an initial cancellable walk, then coalesced incremental updates fed by
// change events.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/susamn/obsidian-web/internal/apperr"
	"github.com/susamn/obsidian-web/internal/index/store"
	"github.com/susamn/obsidian-web/internal/models"
	"github.com/susamn/obsidian-web/internal/storage"
)

const (
	DefaultBatchSize      = 100
	DefaultFlushThreshold = 50
	DefaultFlushInterval  = 500 * time.Millisecond
	DefaultBufferCapacity = 1000
	DefaultStatusBuffer   = 64
)

// Config configures a Service.
type Config struct {
	VaultPath      string
	IndexPath      string
	Open           store.Opener
	BatchSize      int           // documents per bootstrap batch
	FlushThreshold int           // pending paths that force a flush
	FlushInterval  time.Duration // periodic flush
	BufferCapacity int           // intake queue size
	StatusBuffer   int
	Logger         *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushThreshold <= 0 {
		c.FlushThreshold = DefaultFlushThreshold
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = DefaultBufferCapacity
	}
	if c.StatusBuffer <= 0 {
		c.StatusBuffer = DefaultStatusBuffer
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Validate checks the settings Start depends on.
func (c Config) Validate() error {
	if err := validation.ValidateStruct(&c,
		validation.Field(&c.VaultPath, validation.Required),
		validation.Field(&c.IndexPath, validation.Required),
	); err != nil {
		return err
	}
	if c.Open == nil {
		return errors.New("open: index opener is required")
	}
	return nil
}

// Service owns the bootstrap walk, the event loop, and the index handle.
type Service struct {
	cfg    Config
	logger *slog.Logger

	coal   *coalescer
	in     *ingest
	notify *Notifier

	mu       sync.RWMutex
	state    State
	err      error
	last     Status
	idx      store.Index
	vault    storage.Provider
	cancel   context.CancelFunc
	stopping atomic.Bool
	runCtx   atomic.Pointer[context.Context]

	statusMu    sync.Mutex
	updates     chan Status
	updatesShut bool
	stopOnce    sync.Once
	stopErr     error
	wg          sync.WaitGroup
}

// New creates a Service in Standby.
func New(cfg Config) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:     cfg,
		logger:  cfg.Logger,
		coal:    newCoalescer(),
		in:      newIngest(cfg.BufferCapacity, cfg.Logger),
		notify:  newNotifier(cfg.Logger),
		state:   StateStandby,
		last:    Status{State: StateStandby, At: time.Now()},
		updates: make(chan Status, cfg.StatusBuffer),
	}
}

// Start validates the configuration and launches the bootstrap walk and
// the event loop. It does not wait for either.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping.Load() || s.state == StateStopped {
		return apperr.ErrStopped
	}
	if s.state != StateStandby {
		return apperr.ErrAlreadyStarted
	}
	if err := s.cfg.Validate(); err != nil {
		return fmt.Errorf("indexer: invalid config: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.runCtx.Store(&runCtx)
	s.setStateLocked(StateInitialIndexing, nil)

	s.wg.Add(2)
	go s.bootstrap(runCtx)
	go s.run(runCtx)
	return nil
}

// SubmitChange hands ev to the pipeline without blocking. Invalid events
// are logged and discarded.
func (s *Service) SubmitChange(ev models.ChangeEvent) {
	if ev.Path == "" || !ev.Kind.Valid() {
		s.logger.Warn("indexer: invalid change event discarded",
			slog.String("path", ev.Path),
			slog.String("kind", ev.Kind.String()))
		return
	}
	if ev.ObservedAt.IsZero() {
		ev.ObservedAt = time.Now()
	}
	s.in.offer(ev, s.cancelled())
}

// cancelled does not take s.mu so intake never waits behind a writer.
func (s *Service) cancelled() bool {
	ctx := s.runCtx.Load()
	return ctx != nil && (*ctx).Err() != nil
}

// StatusUpdates returns the status stream. It is closed after the first
// terminal state.
func (s *Service) StatusUpdates() <-chan Status {
	return s.updates
}

// Subscribe registers o for index change notifications.
func (s *Service) Subscribe(o Observer) (unsubscribe func()) {
	return s.notify.Subscribe(o)
}

// State returns the current state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status returns the most recent status record.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Err returns the cause of an Error state.
func (s *Service) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Metrics returns a snapshot of the pipeline counters.
func (s *Service) Metrics() Metrics {
	c := s.in.snapshot()
	return Metrics{
		Submitted:      c.submitted,
		Processed:      c.processed,
		Dropped:        c.dropped,
		Pending:        c.pending,
		BufferCapacity: s.cfg.BufferCapacity,
		BatchThreshold: s.cfg.FlushThreshold,
		FlushInterval:  s.cfg.FlushInterval,
	}
}

// DocCount returns the number of indexed documents.
func (s *Service) DocCount() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateReady || s.idx == nil {
		return 0, apperr.ErrNotReady
	}
	return s.idx.DocCount()
}

// Search queries the index when the engine supports it.
func (s *Service) Search(query string, limit int) ([]store.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateReady || s.idx == nil {
		return nil, apperr.ErrNotReady
	}
	searcher, ok := s.idx.(store.Searcher)
	if !ok {
		return nil, fmt.Errorf("indexer: search: %w", apperr.ErrUnsupported)
	}
	return searcher.Search(query, limit)
}

// Backlinks returns the notes linking to target when the engine keeps links.
func (s *Service) Backlinks(target string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateReady || s.idx == nil {
		return nil, apperr.ErrNotReady
	}
	bl, ok := s.idx.(store.Backlinker)
	if !ok {
		return nil, fmt.Errorf("indexer: backlinks: %w", apperr.ErrUnsupported)
	}
	return bl.Backlinks(target)
}

// IndexedKeys lists the vault-relative paths held by the index.
func (s *Service) IndexedKeys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateReady || s.idx == nil {
		return nil, apperr.ErrNotReady
	}
	lister, ok := s.idx.(store.Lister)
	if !ok {
		return nil, fmt.Errorf("indexer: keys: %w", apperr.ErrUnsupported)
	}
	return lister.Keys()
}

// Stop cancels background work, flushes what is pending, and releases the
// index. Calling it more than once is a no-op.
func (s *Service) Stop() error {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)

		s.mu.RLock()
		cancel := s.cancel
		s.mu.RUnlock()
		if cancel != nil {
			cancel()
		}

		s.in.close()
		s.wg.Wait()
		if n := s.in.drain(); n > 0 {
			s.logger.Info("indexer: dropped queued events on stop", slog.Int("count", n))
		}

		s.mu.Lock()
		idx := s.idx
		s.idx = nil
		s.setStateLocked(StateStopped, nil)
		s.mu.Unlock()

		if idx != nil {
			if err := idx.Close(); err != nil {
				s.stopErr = fmt.Errorf("indexer: close index: %w", err)
			}
		}
		s.logger.Info("indexer: stopped")
	})
	return s.stopErr
}

func (s *Service) bootstrap(ctx context.Context) {
	defer s.wg.Done()

	vault, err := storage.NewFS(s.cfg.VaultPath)
	if err != nil {
		s.finishBootstrap(nil, progress{}, fmt.Errorf("indexer: open vault: %w", err))
		return
	}
	s.mu.Lock()
	s.vault = vault
	s.mu.Unlock()

	b := &bootstrapper{
		fs:        vault,
		open:      s.cfg.Open,
		location:  s.cfg.IndexPath,
		batchSize: s.cfg.BatchSize,
		logger:    s.logger,
		report: func(p progress) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.state != StateInitialIndexing {
				return
			}
			s.publishLocked(Status{
				State:     StateInitialIndexing,
				Indexed:   p.Indexed,
				Skipped:   p.Skipped,
				Remaining: p.remaining(),
				Total:     p.Total,
			})
		},
	}
	idx, p, err := b.run(ctx)
	s.finishBootstrap(idx, p, err)
}

func (s *Service) finishBootstrap(idx store.Index, p progress, err error) {
	s.mu.Lock()
	s.idx = idx
	s.last.Indexed, s.last.Skipped, s.last.Total = p.Indexed, p.Skipped, p.Total
	s.last.Remaining = p.remaining()

	switch {
	case err != nil && isCancellation(err):
		if !s.stopping.Load() {
			s.setStateLocked(StateCancelled, nil)
		}
		s.mu.Unlock()
		s.logger.Info("indexer: bootstrap cancelled", slog.Int("indexed", p.Indexed))
	case err != nil:
		s.setStateLocked(StateError, err)
		s.mu.Unlock()
		s.logger.Error("indexer: bootstrap failed", slog.String("error", err.Error()))
	default:
		s.setStateLocked(StateReady, nil)
		s.mu.Unlock()
		s.notify.publish(KindRebuild, idx, nil)
	}
}

// run is the event loop: intake, periodic flush, cancellation.
func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flush()
			s.mu.Lock()
			if s.state == StateReady && !s.stopping.Load() {
				s.setStateLocked(StateCancelled, nil)
			}
			s.mu.Unlock()
			return
		case ev, ok := <-s.in.queue:
			if !ok {
				s.flush()
				return
			}
			s.receive(ev)
		case <-ticker.C:
			s.flush()
		}
	}
}

func (s *Service) receive(ev models.ChangeEvent) {
	s.mu.RLock()
	ready := s.state == StateReady
	vault := s.vault
	s.mu.RUnlock()

	if !ready {
		s.in.settle(0, 1)
		s.logger.Debug("indexer: service not ready, event skipped", slog.String("path", ev.Path))
		return
	}

	rel, err := vault.Normalize(ev.Path)
	if err != nil {
		s.in.settle(0, 1)
		s.logger.Warn("indexer: event outside vault", slog.String("path", ev.Path), slog.String("error", err.Error()))
		return
	}
	if !vault.ShouldInclude(rel, false) {
		s.in.settle(1, 0)
		return
	}
	ev.Path = rel

	size, absorbed := s.coal.add(ev)
	if absorbed {
		s.in.settle(1, 0)
	}
	if size >= s.cfg.FlushThreshold {
		s.flush()
	}
}

// flush applies every pending event outside the coalescer lock.
func (s *Service) flush() {
	pending := s.coal.drain()
	if len(pending) == 0 {
		return
	}

	s.mu.RLock()
	idx, vault := s.idx, s.vault
	s.mu.RUnlock()

	paths := make([]string, 0, len(pending))
	for _, ev := range pending {
		if err := s.apply(idx, vault, ev); err != nil {
			s.logger.Warn("indexer: apply failed",
				slog.String("path", ev.Path),
				slog.String("kind", ev.Kind.String()),
				slog.String("error", err.Error()))
			continue
		}
		paths = append(paths, ev.Path)
	}
	s.in.settle(len(pending), 0)
	sort.Strings(paths)

	s.logger.Debug("indexer: flushed", slog.Int("events", len(pending)), slog.Int("applied", len(paths)))
	if len(paths) > 0 {
		s.notify.publish(KindIncremental, nil, paths)
	}
}

func (s *Service) apply(idx store.Index, vault storage.Provider, ev models.ChangeEvent) error {
	if idx == nil {
		return apperr.ErrNotReady
	}
	switch ev.Kind {
	case models.ChangeCreated, models.ChangeModified:
		doc, err := extractDocument(vault, ev.Path)
		if errors.Is(err, fs.ErrNotExist) {
			return idx.Delete(ev.Path)
		}
		if err != nil {
			return err
		}
		return idx.UpsertBatch([]models.Document{doc})
	case models.ChangeDeleted:
		return idx.Delete(ev.Path)
	default:
		return fmt.Errorf("unknown change kind %d", ev.Kind)
	}
}

// setStateLocked records a transition and publishes it. Terminal states are
// final except for Stopped. Callers hold s.mu.
func (s *Service) setStateLocked(to State, cause error) {
	if s.state == StateStopped || (s.state.Terminal() && to != StateStopped) {
		return
	}
	s.state = to
	st := s.last
	st.State = to
	st.Error = ""
	if cause != nil {
		s.err = cause
		st.Error = cause.Error()
	}
	s.publishLocked(st)
}

// publishLocked records st as the latest status and offers it to the
// stream, evicting the oldest record when the buffer is full.
func (s *Service) publishLocked(st Status) {
	st.At = time.Now()
	s.last = st

	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if s.updatesShut {
		return
	}
	select {
	case s.updates <- st:
	default:
		select {
		case <-s.updates:
		default:
		}
		select {
		case s.updates <- st:
		default:
		}
	}
	if st.State.Terminal() {
		s.updatesShut = true
		close(s.updates)
	}
}
