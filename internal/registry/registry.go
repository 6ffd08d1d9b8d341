// Package registry implements the Model Registry (C11): a process-wide
// store of expensive-to-construct singletons (VAD models, STT clients)
// handed out by reference so handlers never own construction/teardown.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/rapidaai/mediastream/internal/logging"
)

// Closer is implemented by anything the registry owns that needs explicit
// teardown at process shutdown.
type Closer interface {
	Close() error
}

type entry struct {
	once  sync.Once
	value any
	err   error
}

// Registry is a sync.Once-guarded named singleton store. Get(name) either
// runs the entry's factory exactly once and caches the result, or returns
// the cached value/error from a prior call.
type Registry struct {
	logger logging.Logger

	mu       sync.Mutex
	entries  map[string]*entry
	closable []Closer
}

func New(logger logging.Logger) *Registry {
	return &Registry{logger: logger, entries: make(map[string]*entry)}
}

// Get lazily constructs (once) and returns the named singleton. Concurrent
// callers for the same name block on the same construction; a construction
// error is cached and returned to every subsequent caller until the
// registry itself is replaced.
func (r *Registry) Get(name string, factory func() (any, error)) (any, error) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		e = &entry{}
		r.entries[name] = e
	}
	r.mu.Unlock()

	e.once.Do(func() {
		e.value, e.err = factory()
		if e.err != nil {
			r.logger.Errorf("registry: construct %q failed: %v", name, e.err)
			return
		}
		if c, ok := e.value.(Closer); ok {
			r.mu.Lock()
			r.closable = append(r.closable, c)
			r.mu.Unlock()
		}
	})
	return e.value, e.err
}

// MustGet panics if the named singleton fails to construct. Reserved for
// startup wiring in cmd/mediaserver where a missing dependency should
// abort the process, not degrade at request time.
func (r *Registry) MustGet(name string, factory func() (any, error)) any {
	v, err := r.Get(name, factory)
	if err != nil {
		panic(fmt.Sprintf("registry: %s: %v", name, err))
	}
	return v
}

// Close tears down every constructed singleton that implements Closer, in
// reverse construction order, collecting (not stopping on) errors.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	closable := append([]Closer(nil), r.closable...)
	r.mu.Unlock()

	var firstErr error
	for i := len(closable) - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := closable[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
