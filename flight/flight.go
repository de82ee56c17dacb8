// Package flight deduplicates concurrent work by key.
//
// A Group keeps at most one in-flight computation per key. Callers that
// arrive while a computation is running join it and receive the same value
// or error. The computation does not belong to any caller: it keeps running
// when a waiting caller gives up, and it removes its own entry from the group
// when it finishes, whether it succeeded, failed or panicked.
package flight

import (
	"context"
	"fmt"
	"sync"
)

// Call is a single computation shared by every caller of its key.
type Call[V any] struct {
	done chan struct{}
	val  V
	err  error
}

func newCall[V any]() *Call[V] {
	return &Call[V]{done: make(chan struct{})}
}

func completed[V any](v V, err error) *Call[V] {
	c := newCall[V]()
	c.finish(v, err)
	return c
}

func (c *Call[V]) finish(v V, err error) {
	c.val, c.err = v, err
	close(c.done)
}

// Wait blocks until the computation finishes or ctx is done. Giving up does
// not cancel the computation.
func (c *Call[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Outcome tells how Launch satisfied a request.
type Outcome int

const (
	// Checked means the check function supplied the value.
	Checked Outcome = iota
	// Joined means an in-flight computation was joined.
	Joined
	// Started means a new computation was registered and started.
	Started
)

func (o Outcome) String() string {
	switch o {
	case Checked:
		return "checked"
	case Joined:
		return "joined"
	case Started:
		return "started"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Spawner starts run asynchronously. It may delay run, for example until a
// worker slot is free, but must eventually call it exactly once.
type Spawner func(run func())

// Group holds the in-flight computations. The zero value is not usable; use New.
type Group[K comparable, V any] struct {
	mu    sync.RWMutex
	calls map[K]*Call[V]
	spawn Spawner
}

// New returns a Group that starts computations with spawn. A nil spawn
// starts each computation on its own goroutine.
func New[K comparable, V any](spawn Spawner) *Group[K, V] {
	if spawn == nil {
		spawn = func(run func()) { go run() }
	}
	return &Group[K, V]{calls: make(map[K]*Call[V]), spawn: spawn}
}

// Do runs fn once per key among concurrent callers and waits for it.
// fn receives a context detached from ctx's cancellation.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func(context.Context) (V, error)) (V, error) {
	c, _ := g.Launch(ctx, key, nil, fn)
	return c.Wait(ctx)
}

// Peek runs check under the shared side of the group lock. It is the fast
// path for callers that can be answered without touching in-flight state.
func (g *Group[K, V]) Peek(check func() (V, bool, error)) (V, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return check()
}

// Launch returns the computation for key. Under the exclusive lock it first
// runs check (if not nil); a value or error from check completes the returned
// call immediately. Otherwise it joins the in-flight computation for key, or
// registers fn and hands it to the spawner.
func (g *Group[K, V]) Launch(ctx context.Context, key K, check func() (V, bool, error), fn func(context.Context) (V, error)) (*Call[V], Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if check != nil {
		if v, ok, err := check(); err != nil || ok {
			return completed(v, err), Checked
		}
	}
	if c, ok := g.calls[key]; ok {
		return c, Joined
	}

	c := newCall[V]()
	g.calls[key] = c
	runCtx := context.WithoutCancel(ctx)
	g.spawn(func() { g.run(runCtx, key, c, fn) })
	return c, Started
}

func (g *Group[K, V]) run(ctx context.Context, key K, c *Call[V], fn func(context.Context) (V, error)) {
	var (
		val V
		err error
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("flight: computation panicked: %v", r)
		}
		g.mu.Lock()
		if g.calls[key] == c {
			delete(g.calls, key)
		}
		g.mu.Unlock()
		c.finish(val, err)
	}()
	val, err = fn(ctx)
}

// Len returns the number of in-flight computations.
func (g *Group[K, V]) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.calls)
}
