package router

import (
	"sort"
	"sync"

	rtsup "challengebot/internal/runtime/supervisor"
)

// SupervisorRegistry tracks the running subsystem supervisors so /status
// can report them. Subsystems register and deregister from their own
// goroutines.
type SupervisorRegistry struct {
	mu sync.RWMutex
	m  map[string]*rtsup.Supervisor
}

func NewSupervisorRegistry() *SupervisorRegistry {
	return &SupervisorRegistry{m: map[string]*rtsup.Supervisor{}}
}

// Set registers (or replaces) a supervisor under name. A nil sup deletes.
func (r *SupervisorRegistry) Set(name string, sup *rtsup.Supervisor) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sup == nil {
		delete(r.m, name)
		return
	}
	r.m[name] = sup
}

func (r *SupervisorRegistry) Delete(name string) {
	r.Set(name, nil)
}

// SupervisorStat is one line of the /status report.
type SupervisorStat struct {
	Name    string
	Active  int64
	Started uint64
	Err     error
}

// Stats returns the registered supervisors sorted by name.
func (r *SupervisorRegistry) Stats() []SupervisorStat {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	out := make([]SupervisorStat, 0, len(r.m))
	for name, s := range r.m {
		out = append(out, SupervisorStat{Name: name, Active: s.Active(), Started: s.Started(), Err: s.Err()})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
