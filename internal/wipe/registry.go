package wipe

import (
	"sync"
)

// Registry guarantees at most one active job per target identifier.
type Registry struct {
	mu     sync.Mutex
	active map[string]string
}

// NewRegistry создаёт пустой реестр активных заданий
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]string)}
}

// Acquire закрепляет цель за заданием или возвращает ErrTargetBusy
func (r *Registry) Acquire(targetID, jobID string) (release func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.active[targetID]; busy {
		return nil, ErrTargetBusy
	}
	r.active[targetID] = jobID

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.active[targetID] == jobID {
				delete(r.active, targetID)
			}
		})
	}, nil
}

// Active returns the job currently holding targetID.
func (r *Registry) Active(targetID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.active[targetID]
	return id, ok
}

// Len число активных заданий
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
