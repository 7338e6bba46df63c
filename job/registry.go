package job

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Registry is the single source of truth for non-terminal jobs. A job sits
// in exactly one of the two maps until Retire removes it from both.
type Registry struct {
	mu      sync.Mutex
	queued  map[string]*Job
	running map[string]*Job
}

func NewRegistry() *Registry {
	return &Registry{
		queued:  make(map[string]*Job, 16),
		running: make(map[string]*Job, 8),
	}
}

func (r *Registry) Register(j *Job) {
	r.mu.Lock()
	r.queued[j.ID] = j
	r.mu.Unlock()
}

// Activate moves a job from the queued map to the in-flight map once the
// limiter admitted it.
func (r *Registry) Activate(id string) {
	r.mu.Lock()
	if j, ok := r.queued[id]; ok {
		delete(r.queued, id)
		r.running[id] = j
	}
	r.mu.Unlock()
}

func (r *Registry) Lookup(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.queued[id]; ok {
		return j, true
	}
	j, ok := r.running[id]
	return j, ok
}

// Retire is the only way a job leaves the registry; callers invoke it from
// a deferred block so no exit path can leak an entry.
func (r *Registry) Retire(id string) {
	r.mu.Lock()
	delete(r.queued, id)
	delete(r.running, id)
	r.mu.Unlock()
}

// MarkCancelled flags the job; if it owns a live process the kill closure
// registered by the runner fires. Returns false for unknown ids.
func (r *Registry) MarkCancelled(id string) bool {
	j, ok := r.Lookup(id)
	if !ok {
		return false
	}
	log.WithField("job", id).Info("cancel requested")
	j.RequestCancel()
	return true
}

func (r *Registry) ChildrenOf(parentID string) []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	var children []*Job
	for _, j := range r.queued {
		if j.ParentID == parentID {
			children = append(children, j)
		}
	}
	for _, j := range r.running {
		if j.ParentID == parentID {
			children = append(children, j)
		}
	}
	return children
}

// All snapshots every live job; used by the shutdown path.
func (r *Registry) All() []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*Job, 0, len(r.queued)+len(r.running))
	for _, j := range r.queued {
		all = append(all, j)
	}
	for _, j := range r.running {
		all = append(all, j)
	}
	return all
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queued) + len(r.running)
}
