package app

import (
	"context"
	"sync"

	"github.com/dkeye/WorldRelay/internal/core"
	"github.com/dkeye/WorldRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	World   domain.WorldID
	Session core.MemberSession
	Cancel  context.CancelFunc
}

// Registry indexes live connections by member id so they can be found
// for cleanup, kicks and whoami without scanning world sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.MemberID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.MemberID]*sessionEntry),
	}
}

func (r *Registry) Bind(sess core.MemberSession, cancel context.CancelFunc) {
	meta := sess.Meta()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[meta.ID] = &sessionEntry{
		World:   meta.World,
		Session: sess,
		Cancel:  cancel,
	}
	log.Info().Str("module", "app.registry").Str("member", string(meta.ID)).Str("world", string(meta.World)).Msg("bound session")
}

func (r *Registry) Get(id domain.MemberID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[id]; ok {
		return e.Session, true
	}
	return nil, false
}

func (r *Registry) WorldOf(id domain.MemberID) (domain.WorldID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[id]; ok {
		return e.World, true
	}
	return "", false
}

// Unbind removes the entry and reports whether it was present. Only the
// first caller for a given id gets ok == true.
func (r *Registry) Unbind(id domain.MemberID) (domain.WorldID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return "", false
	}
	delete(r.sessions, id)
	log.Info().Str("module", "app.registry").Str("member", string(id)).Msg("unbind session")
	return e.World, true
}

func (r *Registry) MembersOfWorld(world domain.WorldID) []domain.MemberID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.MemberID, 0)
	for id, e := range r.sessions {
		if e.World == world {
			out = append(out, id)
		}
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Cancel(id domain.MemberID) bool {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("member", string(id)).Msg("canceled session")
	return true
}
