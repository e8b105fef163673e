package repository

// SQLOption applies a configuration option to the SQLStore.
type SQLOption func(*SQLStore)

// WithMaxOpenConns caps the connection pool. Values <= 0 leave the driver
// default in place.
func WithMaxOpenConns(n int) SQLOption {
	return func(s *SQLStore) {
		s.maxOpenConns = n
	}
}

// WithoutMigrate skips schema creation on open.
func WithoutMigrate() SQLOption {
	return func(s *SQLStore) {
		s.migrate = false
	}
}
