package login

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultFlowTTL is how long an untouched flow is kept.
const DefaultFlowTTL = 30 * time.Minute

type entry struct {
	flow    *Flow
	touched time.Time
}

// Registry keeps the login flows in progress, keyed by a random ID.
type Registry struct {
	mu     sync.Mutex
	flows  map[string]*entry
	config func(deviceID string) Config
	ttl    time.Duration
	now    func() time.Time
}

// NewRegistry creates a registry. config builds the collaborators for a
// flow started on deviceID.
func NewRegistry(config func(deviceID string) Config) *Registry {
	return &Registry{
		flows:  make(map[string]*entry),
		config: config,
		ttl:    DefaultFlowTTL,
		now:    time.Now,
	}
}

// Start begins a flow for deviceID and returns its ID.
func (r *Registry) Start(ctx context.Context, deviceID string) (string, *Flow) {
	f := Start(ctx, r.config(deviceID))
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	r.flows[id] = &entry{flow: f, touched: r.now()}
	return id, f
}

// Get returns flow id, or nil if it is unknown or expired.
func (r *Registry) Get(id string) *Flow {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.flows[id]
	if !ok {
		return nil
	}
	if r.now().Sub(e.touched) > r.ttl {
		delete(r.flows, id)
		return nil
	}
	e.touched = r.now()
	return e.flow
}

// Finish forgets flow id.
func (r *Registry) Finish(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flows, id)
}

// Len returns the number of flows kept.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}

func (r *Registry) pruneLocked() {
	now := r.now()
	for id, e := range r.flows {
		if now.Sub(e.touched) > r.ttl {
			delete(r.flows, id)
		}
	}
}
