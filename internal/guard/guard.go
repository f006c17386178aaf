// Package guard holds the small concurrency primitives the lifecycle engine
// uses to keep asynchronous side effects from applying twice or out of order.
package guard

import "sync/atomic"

// RaceGuard issues monotonically increasing tokens. A result obtained under a
// token may be applied only while that token is still the latest issued.
type RaceGuard struct {
	latest atomic.Uint64
}

// Issue records a new intent to update state and returns its token.
func (g *RaceGuard) Issue() uint64 {
	return g.latest.Add(1)
}

// Valid reports whether no newer token has been issued since token.
func (g *RaceGuard) Valid(token uint64) bool {
	return g.latest.Load() == token
}

// Latest returns the most recently issued token, zero if none.
func (g *RaceGuard) Latest() uint64 {
	return g.latest.Load()
}
