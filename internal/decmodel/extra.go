package decmodel

// Extra carries the caller-supplied userdata passed through to listeners,
// together with the replay/live distinction DecSync needs to tell a
// first-install replay apart from an incoming update. It is a sum type by
// construction rather than by a sentinel nil value: NoExtra and WithExtra
// are the only ways to build one.
type Extra struct {
	present bool
	value   any
}

// NoExtra marks a replay call, e.g. from InitStoredEntries.
func NoExtra() Extra {
	return Extra{}
}

// WithExtra marks a live delivery call carrying caller userdata.
func WithExtra(value any) Extra {
	return Extra{present: true, value: value}
}

// Get returns the wrapped value and whether this Extra carries one.
func (e Extra) Get() (any, bool) {
	return e.value, e.present
}

// DeliverFunc is how an engine hands a batch of entries at one path back to
// the dispatcher for listener matching and invocation. It returns whether
// delivery succeeded; engines must not advance their read cursor for a
// file whose delivery failed.
type DeliverFunc func(path []string, entries []Entry, extra Extra) bool
