package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"adampoller/model"
)

const (
	defaultHardCap     = 10_000
	defaultRetryBase   = 500 * time.Millisecond
	defaultRetryMax    = 30 * time.Second
	defaultMaxAttempts = 5
)

// EnqueueFilter decides whether a reading is durable-worthy. The default
// only enqueues Good-quality readings; configuration may widen it.
type EnqueueFilter func(model.Reading) bool

// DefaultEnqueueFilter enqueues only Good-quality readings.
func DefaultEnqueueFilter(r model.Reading) bool {
	return r.Quality == model.QualityGood
}

// Sink buffers readings and flushes them in batches to a Backend.
type Sink struct {
	backend      Backend
	batchSize    int
	batchTimeout time.Duration
	hardCap      int
	filter       EnqueueFilter
	logger       *slog.Logger

	flushMu sync.Mutex

	mu            sync.Mutex
	queue         []Record
	lastFlush     time.Time
	droppedCount  int64
	lastFlushErr  error

	kick chan struct{}
}

// Options configures a Sink. A zero HardCap falls back to 10,000 and a nil
// Filter to DefaultEnqueueFilter; BatchSize and BatchTimeout are used as
// given (BatchTimeout must be positive for Run).
type Options struct {
	BatchSize    int
	BatchTimeout time.Duration
	HardCap      int
	Filter       EnqueueFilter
}

// New creates a Sink backed by the given Backend.
func New(backend Backend, opts Options, logger *slog.Logger) *Sink {
	hardCap := opts.HardCap
	if hardCap <= 0 {
		hardCap = defaultHardCap
	}
	filter := opts.Filter
	if filter == nil {
		filter = DefaultEnqueueFilter
	}

	return &Sink{
		backend:      backend,
		batchSize:    opts.BatchSize,
		batchTimeout: opts.BatchTimeout,
		hardCap:      hardCap,
		filter:       filter,
		logger:       logger,
		lastFlush:    time.Now(),
		kick:         make(chan struct{}, 1),
	}
}

// Enqueue adds a reading to the pending queue if it passes the enqueue
// filter. It signals the background flush loop when the batch-size
// trigger is reached.
func (s *Sink) Enqueue(r model.Reading) {
	if !s.filter(r) {
		return
	}

	rec := FromReading(r)

	s.mu.Lock()
	if len(s.queue) >= s.hardCap {
		s.droppedCount++
		s.mu.Unlock()
		s.logger.Warn("sink queue at hard cap, dropping reading", "device", r.DeviceID, "channel", r.Channel)
		return
	}
	s.queue = append(s.queue, rec)
	trigger := len(s.queue) >= s.batchSize
	s.mu.Unlock()

	if trigger {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

// Run drives the time-based flush trigger until ctx is cancelled.
func (s *Sink) Run(ctx context.Context) {
	ticker := time.NewTicker(s.batchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flushOnce(ctx)
		case <-s.kick:
			s.flushOnce(ctx)
		}
	}
}

// flushOnce drains up to batchSize records and attempts one flush, with
// retry-with-backoff inside the attempt. At most one flush is in flight.
func (s *Sink) flushOnce(ctx context.Context) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	n := s.batchSize
	if n <= 0 || n > len(s.queue) {
		n = len(s.queue)
	}
	batch := append([]Record(nil), s.queue[:n]...)
	s.queue = s.queue[n:]
	s.mu.Unlock()

	err := s.flushWithRetry(ctx, batch)

	s.mu.Lock()
	s.lastFlush = time.Now()
	s.lastFlushErr = err
	if err != nil {
		if len(s.queue)+len(batch) > s.hardCap {
			s.droppedCount += int64(len(batch))
			s.logger.Warn("sink flush failed, queue at hard cap, dropping batch", "batch_size", len(batch), "error", err)
		} else {
			s.queue = append(batch, s.queue...)
			s.logger.Warn("sink flush failed, requeued to head", "batch_size", len(batch), "error", err)
		}
	}
	s.mu.Unlock()
}

func (s *Sink) flushWithRetry(ctx context.Context, batch []Record) error {
	var err error
	for attempt := 0; attempt < defaultMaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = s.backend.WriteBatch(batch)
		if err == nil {
			return nil
		}

		if attempt < defaultMaxAttempts-1 {
			delay := backoffDelay(defaultRetryBase, defaultRetryMax, attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}

// Flush drains the queue synchronously, up to deadline, used on shutdown.
func (s *Sink) Flush(ctx context.Context, deadline time.Time) error {
	for {
		s.mu.Lock()
		empty := len(s.queue) == 0
		s.mu.Unlock()
		if empty {
			return nil
		}
		if time.Now().After(deadline) {
			return context.DeadlineExceeded
		}

		flushCtx, cancel := context.WithDeadline(ctx, deadline)
		s.flushOnce(flushCtx)
		cancel()
	}
}

// Stats is the sink's self-reported health, kept separate from device
// health.
type Stats struct {
	QueueDepth   int
	DroppedCount int64
	LastFlushAt  time.Time
	LastFlushErr error
}

func (s *Sink) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		QueueDepth:   len(s.queue),
		DroppedCount: s.droppedCount,
		LastFlushAt:  s.lastFlush,
		LastFlushErr: s.lastFlushErr,
	}
}
