// Package worker runs the per-user stats fetch jobs of a bulk ingestion.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/teamcomp/internal/adapters/mq/queue"
	"github.com/okian/teamcomp/internal/domain/model"
	"github.com/okian/teamcomp/pkg/logger"
	"github.com/okian/teamcomp/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	defaultFetchTimeout     = 10 * time.Second
	metricsUpdateInterval   = 5 * time.Second
	poolShutdownTimeout     = 30 * time.Second
)

// Fetcher retrieves the current absolute stats of one external identity.
type Fetcher interface {
	Fetch(ctx context.Context, identity, passkey string) (model.RawStats, error)
}

// Recorder ingests a reading into the ledger.
type Recorder interface {
	Record(ctx context.Context, userID int, raw model.RawStats) (model.LedgerEntry, error)
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Worker processes fetch jobs.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue closes.
	Run(ctx context.Context)

	// Shutdown stops the worker once its current job is done.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker fetches and records stats for the jobs it dequeues.
type InMemoryWorker struct {
	queue        Queue
	fetcher      Fetcher
	recorder     Recorder
	name         string
	fetchTimeout time.Duration
	onProcessed  func()

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, fetcher Fetcher, recorder Recorder, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:        q,
		fetcher:      fetcher,
		recorder:     recorder,
		name:         "worker",
		fetchTimeout: defaultFetchTimeout,
		onProcessed:  func() {},
		shutdown:     make(chan struct{}),
		done:         make(chan struct{}),
		logger:       logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			w.process(ctx, job)
		}
	}
}

// Shutdown stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process fetches and records one user. A failure leaves the ledger entry of
// that user untouched and is reported on the job.
func (w *InMemoryWorker) process(ctx context.Context, job queue.Job) {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(time.Since(start))
		w.onProcessed()
	}()

	entry, err := w.fetchAndRecord(ctx, job)
	if err != nil {
		metrics.RecordWorkerError()
		w.logger.Warn(ctx, "stats ingestion failed",
			logger.Int("user_id", job.UserID),
			logger.String("identity", job.Identity),
			logger.Error(err),
		)
	}
	job.Reply(queue.Result{UserID: job.UserID, Entry: entry, Err: err})
}

func (w *InMemoryWorker) fetchAndRecord(ctx context.Context, job queue.Job) (model.LedgerEntry, error) {
	run := job.Context()
	if err := run.Err(); err != nil {
		metrics.RecordErrorByComponent("worker", "stale_job")
		return model.LedgerEntry{}, fmt.Errorf("skip stats of user %d: %w", job.UserID, err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, w.fetchTimeout)
	defer cancel()
	stop := context.AfterFunc(run, cancel)
	defer stop()

	raw, err := w.fetcher.Fetch(fetchCtx, job.Identity, job.Passkey)
	if err != nil {
		metrics.RecordErrorByComponent("worker", "fetch_error")
		return model.LedgerEntry{}, fmt.Errorf("fetch stats of user %d: %w", job.UserID, err)
	}

	// The submitting run may have given up while the fetch was in flight.
	if err := run.Err(); err != nil {
		metrics.RecordErrorByComponent("worker", "stale_job")
		return model.LedgerEntry{}, fmt.Errorf("discard stats of user %d: %w", job.UserID, err)
	}

	entry, err := w.recorder.Record(ctx, job.UserID, raw)
	if err != nil {
		metrics.RecordErrorByComponent("worker", "record_error")
		return model.LedgerEntry{}, fmt.Errorf("record stats of user %d: %w", job.UserID, err)
	}
	metrics.RecordStatsRecorded()
	return entry, nil
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	shutdown chan struct{}

	processedCount    atomic.Int64
	lastProcessedTime time.Time

	logger logger.Logger
}

// NewPool creates a new worker pool. Options apply to every worker.
func NewPool(workerCount int, q Queue, fetcher Fetcher, recorder Recorder, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	pool := &Pool{
		workers:           make([]*InMemoryWorker, workerCount),
		queue:             q,
		shutdown:          make(chan struct{}),
		lastProcessedTime: time.Now(),
		logger:            logger.Get().Named("worker-pool"),
	}

	for i := 0; i < workerCount; i++ {
		workerOpts := append([]Option{
			WithName("worker-" + strconv.Itoa(i)),
			withProcessedHook(pool.RecordProcessedMessage),
		}, opts...)
		pool.workers[i] = NewInMemoryWorker(q, fetcher, recorder, workerOpts...)
	}

	metrics.UpdateWorkerActiveCount(workerCount)
	metrics.UpdateWorkerMessagesPerSecond(0)
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.startMetricsUpdater(ctx)
}

func (p *Pool) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.updateMetrics()
		}
	}
}

func (p *Pool) updateMetrics() {
	now := time.Now()
	if elapsed := now.Sub(p.lastProcessedTime).Seconds(); elapsed > 0 {
		metrics.UpdateWorkerMessagesPerSecond(float64(p.processedCount.Swap(0)) / elapsed)
	}
	p.lastProcessedTime = now
}

// RecordProcessedMessage increments the processed job count.
func (p *Pool) RecordProcessedMessage() {
	p.processedCount.Add(1)
}

// Shutdown closes the queue and waits for the workers to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}
	close(p.shutdown)

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerActiveCount(0)
	return nil
}
