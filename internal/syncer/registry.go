package syncer

import "sync"

// Registry hands out one coordinator per report so every caller touching
// the same report shares the same in-flight save state.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Coordinator
	factory  func(reportID string) *Coordinator
}

// NewRegistry creates a registry using factory to build coordinators on
// first use.
func NewRegistry(factory func(reportID string) *Coordinator) *Registry {
	return &Registry{
		sessions: make(map[string]*Coordinator),
		factory:  factory,
	}
}

// ForReport returns the report's coordinator, creating it when needed.
func (r *Registry) ForReport(reportID string) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[reportID]; ok {
		return existing
	}
	coordinator := r.factory(reportID)
	r.sessions[reportID] = coordinator
	return coordinator
}
