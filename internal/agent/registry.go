package agent

import (
	"context"
	"sync"
)

// RegistryEntry is the metadata the Registry records alongside each
// spawned agent.
type RegistryEntry struct {
	ID       int
	Label    string
	ParentID int
}

// Registry is the Agent Registry: an id→agent map polled concurrently,
// with per-agent locking so independent agents make progress in parallel
// while each agent's own state machine stays single-writer.
type Registry struct {
	mu     sync.Mutex
	order  []int
	agents map[int]*Agent
	meta   map[int]RegistryEntry
	nextID int
}

// NewRegistry builds an empty registry. Primary agents get id 0; spawned
// agents are assigned ids starting at 1.
func NewRegistry() *Registry {
	return &Registry{
		agents: map[int]*Agent{},
		meta:   map[int]RegistryEntry{},
		nextID: 1,
	}
}

// Register inserts a as the primary agent (id 0).
func (r *Registry) Register(a *Agent) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.id = 0
	r.agents[0] = a
	r.meta[0] = RegistryEntry{ID: 0}
	r.order = append(r.order, 0)
	return 0
}

// RegisterSpawned inserts a as a sub-agent, assigning it the next id ≥1
// and recording label/parentID for later inspection (e.g. a status UI).
func (r *Registry) RegisterSpawned(a *Agent, label string, parentID int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	a.id = id
	r.agents[id] = a
	r.meta[id] = RegistryEntry{ID: id, Label: label, ParentID: parentID}
	r.order = append(r.order, id)
	return id
}

// Get returns the agent registered under id.
func (r *Registry) Get(id int) (*Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	return a, ok
}

// Meta returns the registration metadata for id.
func (r *Registry) Meta(id int) (RegistryEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meta[id]
	return m, ok
}

// Remove drops a finished sub-agent from the registry.
func (r *Registry) Remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
	delete(r.meta, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

type registryResult struct {
	id   int
	step Step
	err  error
}

// Next polls every registered agent concurrently and returns the first
// (agentID, Step) to become available. If every agent yields StepNone,
// Next itself reports ok=false.
func (r *Registry) Next(ctx context.Context) (agentID int, step Step, ok bool, err error) {
	r.mu.Lock()
	ids := append([]int(nil), r.order...)
	agents := make(map[int]*Agent, len(ids))
	for _, id := range ids {
		agents[id] = r.agents[id]
	}
	r.mu.Unlock()

	if len(ids) == 0 {
		return 0, Step{}, false, nil
	}

	pollCtx, cancel := context.WithCancel(ctx)
	results := make(chan registryResult, len(ids))
	for _, id := range ids {
		id := id
		a := agents[id]
		go func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			s, e := a.Next(pollCtx)
			results <- registryResult{id: id, step: s, err: e}
		}()
	}

	remaining := len(ids)
	for remaining > 0 {
		res := <-results
		remaining--
		if res.err != nil {
			cancel()
			drainRegistryResults(results, remaining)
			return res.id, Step{}, true, res.err
		}
		if res.step.Kind != StepNone {
			cancel()
			drainRegistryResults(results, remaining)
			return res.id, res.step, true, nil
		}
	}
	cancel()
	return 0, Step{}, false, nil
}

// drainRegistryResults absorbs the remaining in-flight polls on a
// background goroutine once a winner has been picked, so the losing
// goroutines (which respect pollCtx cancellation) never block forever
// trying to send on results.
func drainRegistryResults(results chan registryResult, remaining int) {
	go func() {
		for i := 0; i < remaining; i++ {
			<-results
		}
	}()
}
