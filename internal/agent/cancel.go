package agent

import (
	"context"
	"sync"
)

// CancelRegistry routes stop requests to in-flight answers by thread id.
type CancelRegistry struct {
	mu      sync.Mutex
	cancels map[string]*stopEntry
}

type stopEntry struct {
	cancel context.CancelFunc
}

// NewCancelRegistry returns an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{cancels: make(map[string]*stopEntry)}
}

// Start registers an answer for threadID. The returned context is done once
// Stop is called for the thread; done unregisters it and must always be
// called. A later Start for the same thread replaces the entry.
func (r *CancelRegistry) Start(threadID string) (context.Context, func()) {
	stop, cancel := context.WithCancel(context.Background())
	entry := &stopEntry{cancel: cancel}

	r.mu.Lock()
	r.cancels[threadID] = entry
	r.mu.Unlock()

	return stop, func() {
		r.mu.Lock()
		if r.cancels[threadID] == entry {
			delete(r.cancels, threadID)
		}
		r.mu.Unlock()
		cancel()
	}
}

// Stop signals the answer in flight for threadID. It reports whether one
// was registered.
func (r *CancelRegistry) Stop(threadID string) bool {
	r.mu.Lock()
	entry, ok := r.cancels[threadID]
	r.mu.Unlock()
	if ok {
		entry.cancel()
	}
	return ok
}

// Active returns the number of registered answers.
func (r *CancelRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}
