package worker

import (
	"time"

	"github.com/okian/teamcomp/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithFetchTimeout bounds each external stats retrieval.
func WithFetchTimeout(d time.Duration) Option {
	return func(w *InMemoryWorker) {
		if d > 0 {
			w.fetchTimeout = d
		}
	}
}

func withProcessedHook(fn func()) Option {
	return func(w *InMemoryWorker) {
		w.onProcessed = fn
	}
}
