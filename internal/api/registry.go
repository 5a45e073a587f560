package api

import (
	"log"
	"sync"
	"time"

	"github.com/adresearch/adtrial/internal/experiment"
)

// SessionFactory builds a fresh session for one participant.
type SessionFactory func() (*experiment.Session, error)

// Registry holds the live sessions by participant ID. Sessions are
// in-memory only; a submitted record in the sink is the durable artifact,
// the session itself is disposable state.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*experiment.Session
	factory  SessionFactory
}

func NewRegistry(factory SessionFactory) *Registry {
	return &Registry{sessions: map[string]*experiment.Session{}, factory: factory}
}

// Create starts a new session and registers it.
func (r *Registry) Create() (*experiment.Session, error) {
	s, err := r.factory()
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
	return s, nil
}

// Get looks a session up by participant ID.
func (r *Registry) Get(id string) (*experiment.Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep drops sessions idle for longer than ttl. Terminal sessions linger
// until the same deadline so a participant can still read their completion
// code after a reload.
func (r *Registry) Sweep(ttl time.Duration, now time.Time) int {
	cutoff := now.Add(-ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, s := range r.sessions {
		if s.LastActivity().Before(cutoff) {
			s.Close()
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("session registry: swept %d idle sessions, %d remain", removed, len(r.sessions))
	}
	return removed
}
