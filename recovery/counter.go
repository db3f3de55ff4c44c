package recovery

import "sync/atomic"

// Counter holds the number of recovery passes a participant was told to
// expect. It has no effect on completion or compensation.
type Counter struct {
	passes atomic.Int64
}

// Accept replaces the expected pass count.
func (c *Counter) Accept(passes int) {
	c.passes.Store(int64(passes))
}

// Accepted returns the last accepted pass count, 0 before any Accept.
func (c *Counter) Accepted() int {
	return int(c.passes.Load())
}

// Satisfied reports whether a transaction that needed passes recovery
// passes met the expectation.
func (c *Counter) Satisfied(passes int) bool {
	return passes >= c.Accepted()
}
