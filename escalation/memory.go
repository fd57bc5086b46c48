package escalation

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
)

// MemoryStore keeps escalations in process.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Pending
	order []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[string]Pending{}}
}

func (s *MemoryStore) Save(_ context.Context, p Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	s.items[p.ID] = clonePending(p)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Pending, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.items[id]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "no such escalation", goerr.V("id", id))
	}
	c := clonePending(p)
	return &c, nil
}

func (s *MemoryStore) List(_ context.Context, status Status) ([]Pending, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Pending
	for _, id := range s.order {
		p := s.items[id]
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, clonePending(p))
	}
	return out, nil
}

func clonePending(p Pending) Pending {
	if p.Resolution != nil {
		r := *p.Resolution
		if r.Decision != nil {
			d := *r.Decision
			r.Decision = &d
		}
		p.Resolution = &r
	}
	if p.Context.ModelJudgment != nil {
		j := *p.Context.ModelJudgment
		p.Context.ModelJudgment = &j
	}
	if p.Context.Feedback != nil {
		fb := p.Context.Feedback.Clone()
		p.Context.Feedback = &fb
	}
	return p
}

var _ Store = (*MemoryStore)(nil)

