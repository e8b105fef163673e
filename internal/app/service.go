// Package service is the competition engine behind the HTTP API and the
// scheduler. It owns the ledger and the write gate and coordinates the
// store, the external retrievers and the ingestion worker pool.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/teamcomp/internal/adapters/mq/queue"
	"github.com/okian/teamcomp/internal/adapters/mq/worker"
	"github.com/okian/teamcomp/internal/adapters/repository"
	"github.com/okian/teamcomp/internal/domain/ledger"
	"github.com/okian/teamcomp/internal/domain/model"
	"github.com/okian/teamcomp/internal/domain/scoring"
	"github.com/okian/teamcomp/internal/domain/state"
	"github.com/okian/teamcomp/pkg/logger"
	"github.com/okian/teamcomp/pkg/metrics"
)

// StatsFetcher retrieves the absolute counters of one external identity.
type StatsFetcher interface {
	Fetch(ctx context.Context, identity, passkey string) (model.RawStats, error)
}

// PricingFetcher retrieves the current hardware performance figures.
type PricingFetcher interface {
	Fetch(ctx context.Context) ([]scoring.PricingEntry, error)
}

// MonthEndSteps toggles the individual month-end steps.
type MonthEndSteps struct {
	Result   bool
	Reset    bool
	Hardware bool
	Changes  bool
}

// AllMonthEndSteps enables every month-end step.
func AllMonthEndSteps() MonthEndSteps {
	return MonthEndSteps{Result: true, Reset: true, Hardware: true, Changes: true}
}

// Service implements the competition engine.
type Service struct {
	mu       sync.RWMutex
	changeMu sync.Mutex

	// Core components
	store   repository.Store
	ledger  *ledger.Ledger
	gate    *state.Gate
	stats   StatsFetcher
	pricing PricingFetcher
	jobs    *queue.InMemoryQueue
	pool    *worker.Pool

	// Leaderboard cache; a snapshot is valid while its generation matches.
	board      atomic.Pointer[leaderboard]
	generation atomic.Uint64

	// Configuration
	workerCount       int
	queueSize         int
	fetchTimeout      time.Duration
	validateWorkUnits bool
	monthEnd          MonthEndSteps
	parsing           state.ParsingState
	now               func() time.Time

	// State
	started bool
	cancel  context.CancelFunc
	stopped <-chan struct{}

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the persistence backend. Defaults to an in-memory store.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithStatsFetcher sets the external stats retriever.
func WithStatsFetcher(f StatsFetcher) Option {
	return func(s *Service) {
		s.stats = f
	}
}

// WithPricingFetcher sets the hardware pricing retriever.
func WithPricingFetcher(f PricingFetcher) Option {
	return func(s *Service) {
		s.pricing = f
	}
}

// WithWorkerCount sets the number of ingestion workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the ingestion job queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithFetchTimeout bounds every single stats retrieval.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// WithWorkUnitValidation rejects users and identity changes whose external
// identity has no completed work units.
func WithWorkUnitValidation(enabled bool) Option {
	return func(s *Service) {
		s.validateWorkUnits = enabled
	}
}

// WithMonthEndSteps selects which month-end steps run.
func WithMonthEndSteps(steps MonthEndSteps) Option {
	return func(s *Service) {
		s.monthEnd = steps
	}
}

// WithParsingState sets the initial parsing state.
func WithParsingState(p state.ParsingState) Option {
	return func(s *Service) {
		if p.Valid() {
			s.parsing = p
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:       runtime.NumCPU() * 2,
		queueSize:         1024,
		fetchTimeout:      10 * time.Second,
		validateWorkUnits: true,
		monthEnd:          AllMonthEndSteps(),
		parsing:           state.ParsingEnabled,
		now:               time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		s.store = repository.NewMemoryStore()
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.ledger = ledger.New(ledger.WithPersister(s.store))
	s.gate = state.NewGate(
		state.WithParsingState(s.parsing),
		state.WithListener(s.onTransition),
	)
	metrics.UpdateSystemState(string(state.Available))

	return s
}

// Start loads the ledger from the store and starts the ingestion workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting competition service...")

	entries, err := s.store.ListLedgerEntries(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	s.ledger.Load(entries)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.stopped = runCtx.Done()
	if s.stats != nil {
		s.jobs = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
		s.pool = worker.NewPool(s.workerCount, s.jobs, s.stats, s.ledger,
			worker.WithFetchTimeout(s.fetchTimeout),
		)
		s.pool.Start(runCtx)
	} else {
		s.logger.Warn(ctx, "no stats source configured, ingestion disabled")
	}

	s.started = true
	s.invalidate()
	s.refreshGauges(ctx)
	s.logger.Info(ctx, "competition service started",
		logger.Int("ledgerEntries", len(entries)),
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.String("parsing", string(s.gate.Parsing())),
	)

	return nil
}

// Stop shuts down the workers. The store is left open for the caller.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping competition service...")

	if s.pool != nil {
		if err := s.pool.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "worker pool shutdown failed", logger.Error(err))
		}
		s.pool = nil
		s.jobs = nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	s.started = false
	s.logger.Info(ctx, "competition service stopped")
}

// SystemState returns the current value of the write gate.
func (s *Service) SystemState() state.SystemState {
	return s.gate.Current()
}

// Parsing returns whether scheduled ingestion may run.
func (s *Service) Parsing() state.ParsingState {
	return s.gate.Parsing()
}

// SetParsing enables or disables scheduled ingestion.
func (s *Service) SetParsing(ctx context.Context, p state.ParsingState) error {
	if err := s.gate.SetParsing(p); err != nil {
		return err
	}
	s.logger.Info(ctx, "parsing state changed", logger.String("parsing", string(p)))
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":      s.started,
		"workerCount":  s.workerCount,
		"queueSize":    s.queueSize,
		"systemState":  string(s.gate.Current()),
		"parsingState": string(s.gate.Parsing()),
		"ledgerUsers":  s.ledger.Len(),
	}
	if s.jobs != nil {
		stats["queueLength"] = s.jobs.Len(context.Background())
	}

	return stats
}

// onTransition keeps the state gauge current and drops the leaderboard
// snapshot once a write has been executed.
func (s *Service) onTransition(_, to state.SystemState) {
	metrics.UpdateSystemState(string(to))
	if to == state.WriteExecuted {
		s.invalidate()
	}
}

// write runs fn with the gate held in UPDATING_STATS.
func (s *Service) write(ctx context.Context, op string, fn func() error) error {
	err := s.gate.Run(state.UpdatingStats, fn)
	if err != nil {
		s.conflict(ctx, op, err)
	}
	return err
}

func (s *Service) conflict(ctx context.Context, op string, err error) {
	if isConflict(err) {
		metrics.RecordStateConflict(op)
		s.logger.Warn(ctx, "write rejected by system state",
			logger.String("operation", op),
			logger.String("state", string(s.gate.Current())),
		)
	}
}

func (s *Service) refreshGauges(ctx context.Context) {
	metrics.UpdateActiveUsers(s.ledger.Len())
	if teams, err := s.store.ListTeams(ctx); err == nil {
		metrics.UpdateTeamCount(len(teams))
	}
}
