package metadata

import (
	"context"
	"sync"
)

// Guard serializes work on one module. It is reentrant along a context: a
// call that already holds the guard, and passes the context Enter returned,
// enters again without blocking. Every Enter must be paired with a call to
// the returned release function.
type Guard struct {
	mu    sync.Mutex
	depth int
}

type guardKey struct {
	g *Guard
}

// Enter acquires the guard unless ctx already holds it, and returns a context
// marking the guard as held together with the matching release function.
func (g *Guard) Enter(ctx context.Context) (context.Context, func()) {
	if ctx.Value(guardKey{g}) != nil {
		g.depth++
		var once sync.Once
		return ctx, func() { once.Do(func() { g.depth-- }) }
	}
	g.mu.Lock()
	g.depth = 1
	var once sync.Once
	return context.WithValue(ctx, guardKey{g}, true), func() {
		once.Do(func() {
			g.depth = 0
			g.mu.Unlock()
		})
	}
}

// Held reports whether ctx holds the guard.
func (g *Guard) Held(ctx context.Context) bool {
	return ctx.Value(guardKey{g}) != nil
}

// Depth returns the number of nested entries of the current holder. It must
// only be called while holding the guard.
func (g *Guard) Depth() int {
	return g.depth
}
