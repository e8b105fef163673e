package state

// Option applies a configuration option to the Gate.
type Option func(*Gate)

// WithParsingState sets the initial parsing state.
func WithParsingState(p ParsingState) Option {
	return func(g *Gate) {
		if p.Valid() {
			g.parsing = p
		}
	}
}

// WithListener registers fn to be told about every system state transition.
func WithListener(fn Listener) Option {
	return func(g *Gate) {
		if fn != nil {
			g.listeners = append(g.listeners, fn)
		}
	}
}
