package core

import (
	"sync"

	"github.com/dkeye/WorldRelay/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// registry is a threadsafe in-memory SessionRegistry.
// Lock order is always r.mu before session.mu.
type registry struct {
	mu       sync.RWMutex
	sessions map[domain.WorldID]*session
	maxLog   int
}

// NewSessionRegistry keeps at most maxLog messages per world; maxLog <= 0 means unbounded.
func NewSessionRegistry(maxLog int) SessionRegistry {
	return &registry{
		sessions: make(map[domain.WorldID]*session),
		maxLog:   maxLog,
	}
}

func (r *registry) getOrCreateLocked(world domain.WorldID) *session {
	s, ok := r.sessions[world]
	if !ok {
		s = newSession(world, r.maxLog)
		r.sessions[world] = s
		log.Info().Str("module", "core.registry").Str("world", string(world)).Msg("session created")
	}
	return s
}

func (r *registry) GetOrCreate(world domain.WorldID) WorldInfo {
	r.mu.RLock()
	s, ok := r.sessions[world]
	r.mu.RUnlock()
	if ok {
		return s.info()
	}
	r.mu.Lock()
	s = r.getOrCreateLocked(world)
	r.mu.Unlock()
	return s.info()
}

func (r *registry) Exists(world domain.WorldID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[world]
	return ok
}

func (r *registry) Info(world domain.WorldID) (WorldInfo, bool) {
	r.mu.RLock()
	s, ok := r.sessions[world]
	r.mu.RUnlock()
	if !ok {
		return WorldInfo{}, false
	}
	return s.info(), true
}

func (r *registry) List() []WorldInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.MapToSlice(r.sessions, func(_ domain.WorldID, s *session) WorldInfo {
		return s.info()
	})
}

func (r *registry) AddMember(world domain.WorldID, ms MemberSession) {
	id := ms.Meta().ID
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.getOrCreateLocked(world)
	s.mu.Lock()
	s.members[id] = ms
	n := len(s.members)
	s.mu.Unlock()
	log.Info().Str("module", "core.registry").Str("world", string(world)).Str("member", string(id)).Int("members", n).Msg("member added")
}

func (r *registry) RemoveMember(world domain.WorldID, id domain.MemberID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[world]
	if !ok {
		return false
	}
	s.mu.Lock()
	delete(s.members, id)
	empty := len(s.members) == 0
	s.mu.Unlock()
	if !empty {
		log.Info().Str("module", "core.registry").Str("world", string(world)).Str("member", string(id)).Msg("member removed")
		return false
	}
	delete(r.sessions, world)
	log.Info().Str("module", "core.registry").Str("world", string(world)).Str("member", string(id)).Msg("last member left, session discarded")
	return true
}

// lockSession returns the session with s.mu held, or nil.
func (r *registry) lockSession(world domain.WorldID) *session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[world]
	if !ok {
		return nil
	}
	s.mu.Lock()
	return s
}

func (r *registry) AppendMessage(world domain.WorldID, msg domain.Message) bool {
	s := r.lockSession(world)
	if s == nil {
		return false
	}
	defer s.mu.Unlock()
	s.appendLocked(msg)
	return true
}

func (r *registry) Publish(world domain.WorldID, from domain.MemberID, msg domain.Message, frame Frame, echo bool) (PublishResult, bool) {
	s := r.lockSession(world)
	if s == nil {
		return PublishResult{}, false
	}
	defer s.mu.Unlock()
	s.appendLocked(msg)
	except := from
	if echo {
		except = ""
	}
	return s.fanoutLocked(from, except, frame), true
}

func (r *registry) Notify(world domain.WorldID, except domain.MemberID, frame Frame) PublishResult {
	s := r.lockSession(world)
	if s == nil {
		return PublishResult{}
	}
	defer s.mu.Unlock()
	return s.fanoutLocked(except, except, frame)
}

func (r *registry) ListMembers(world domain.WorldID) []MemberDTO {
	r.mu.RLock()
	s, ok := r.sessions[world]
	r.mu.RUnlock()
	if !ok {
		return []MemberDTO{}
	}
	return s.membersSnapshot()
}

func (r *registry) CurrentMessages(world domain.WorldID) []domain.Message {
	r.mu.RLock()
	s, ok := r.sessions[world]
	r.mu.RUnlock()
	if !ok {
		return []domain.Message{}
	}
	return s.messagesSnapshot()
}
