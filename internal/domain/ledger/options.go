package ledger

// Option applies a configuration option to the Ledger.
type Option func(*Ledger)

// WithPersister writes every ledger mutation through p before it becomes
// visible in memory.
func WithPersister(p Persister) Option {
	return func(l *Ledger) {
		if p != nil {
			l.persister = p
		}
	}
}
