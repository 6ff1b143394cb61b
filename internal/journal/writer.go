package journal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/docrelay/internal/config"
)

// Writer queues entries and flushes them to a Store in batches.
type Writer struct {
	cfg    config.JournalConfig
	logger *slog.Logger
	store  Store
	queue  *Queue[Entry]

	flushNow chan struct{}
	flushMu  sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	recorded atomic.Int64
	dropped  atomic.Int64
	inserted atomic.Int64
	flushes  atomic.Int64
	errors   atomic.Int64
}

// NewWriter creates a Writer. Zero batch size, flush interval or buffer size
// fall back to the configuration defaults.
func NewWriter(cfg config.JournalConfig, store Store, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = config.DefaultFlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = config.DefaultBufferSize
	}

	initial := min(cfg.BatchSize*2, cfg.BufferSize)
	return &Writer{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		queue:    NewQueue[Entry](initial, cfg.BufferSize),
		flushNow: make(chan struct{}, 1),
	}
}

// Start begins the flush loop.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
		"buffer_size", w.cfg.BufferSize,
	)
	return nil
}

// Record queues an entry without blocking. Entries are dropped when the
// queue is full or the writer has stopped.
func (w *Writer) Record(e Entry) {
	if !w.queue.Push(e) {
		w.dropped.Add(1)
		return
	}
	w.recorded.Add(1)

	if w.queue.Len() >= w.cfg.BatchSize {
		select {
		case w.flushNow <- struct{}{}:
		default:
		}
	}
}

// Stop flushes what is queued and shuts down the writer.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")
	w.queue.Close()

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
		return ctx.Err()
	}

	// Final flush
	w.flushAll(ctx)
	w.logger.Info("journal writer stopped", "inserted", w.inserted.Load())
	return nil
}

// Stats returns current counters.
func (w *Writer) Stats() Stats {
	return Stats{
		Recorded: w.recorded.Load(),
		Dropped:  w.dropped.Load(),
		Inserted: w.inserted.Load(),
		Flushes:  w.flushes.Load(),
		Errors:   w.errors.Load(),
		Queue:    w.queue.Stats(),
	}
}

// flushLoop flushes on the interval and whenever a full batch is queued.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flushAll(w.ctx)
		case <-w.flushNow:
			w.flushAll(w.ctx)
		}
	}
}

// flushAll writes queued entries batch by batch until the queue is empty or
// a write fails.
func (w *Writer) flushAll(ctx context.Context) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	for {
		batch := w.queue.Drain(w.cfg.BatchSize)
		if len(batch) == 0 {
			return
		}
		if !w.flush(ctx, batch) {
			return
		}
	}
}

func (w *Writer) flush(ctx context.Context, batch []Entry) bool {
	start := time.Now()

	n, err := w.store.Insert(ctx, batch)
	w.inserted.Add(int64(n))
	if err != nil {
		w.errors.Add(1)
		w.logger.Error("journal batch insert failed", "error", err, "count", len(batch), "inserted", n)
		return false
	}

	w.flushes.Add(1)
	w.logger.Debug("flushed journal entries",
		"count", len(batch),
		"duration", time.Since(start),
	)
	return true
}
