package executor

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/caffeineduck/luabox/sandbox"
	"github.com/google/uuid"
)

var ErrPoolClosed = errors.New("session pool closed")

// ResolveID returns the trimmed candidate, or a new random id when the
// candidate is blank.
func ResolveID(candidate string) string {
	if id := strings.TrimSpace(candidate); id != "" {
		return id
	}
	return uuid.NewString()
}

// Pool maps session ids to engines. Each id gets exactly one engine, created
// on first use and kept until the pool is closed.
type Pool struct {
	cfg  sandbox.Config
	opts []Option

	mu      sync.Mutex
	engines map[string]*Engine
	closed  bool
}

// NewPool creates an empty pool. Every engine it creates uses cfg and opts.
func NewPool(cfg sandbox.Config, opts ...Option) *Pool {
	return &Pool{
		cfg:     cfg,
		opts:    opts,
		engines: make(map[string]*Engine),
	}
}

// GetOrCreate returns the engine for id, creating it if needed, together
// with the resolved id. A blank id always creates a new session.
func (p *Pool) GetOrCreate(id string) (*Engine, string, error) {
	id = ResolveID(id)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, id, ErrPoolClosed
	}
	if e, ok := p.engines[id]; ok {
		return e, id, nil
	}

	e, err := New(p.cfg, p.opts...)
	if err != nil {
		return nil, id, fmt.Errorf("create session %s: %w", id, err)
	}
	p.engines[id] = e
	return e, id, nil
}

// Get returns the engine for an existing session.
func (p *Pool) Get(id string) (*Engine, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.engines[strings.TrimSpace(id)]
	return e, ok
}

// Len returns the number of live sessions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.engines)
}

// IDs returns the ids of all live sessions in no particular order.
func (p *Pool) IDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.engines))
	for id := range p.engines {
		ids = append(ids, id)
	}
	return ids
}

// Close closes every engine and empties the pool. Engines wait for their
// in-flight run before closing.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for id, e := range p.engines {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session %s: %w", id, err))
		}
	}
	clear(p.engines)
	return errors.Join(errs...)
}
