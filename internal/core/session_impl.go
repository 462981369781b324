package core

import (
	"sync"
	"time"

	"github.com/dkeye/WorldRelay/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// session is one world's live membership and message log.
// It never closes adapter-owned resources.
type session struct {
	id        domain.WorldID
	createdAt time.Time
	maxLog    int

	mu      sync.RWMutex
	members map[domain.MemberID]MemberSession
	log     []domain.Message
}

func newSession(id domain.WorldID, maxLog int) *session {
	return &session{
		id:        id,
		createdAt: time.Now(),
		maxLog:    maxLog,
		members:   make(map[domain.MemberID]MemberSession),
	}
}

func (s *session) info() WorldInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return WorldInfo{
		ID:           s.id,
		MemberCount:  len(s.members),
		MessageCount: len(s.log),
		CreatedAt:    s.createdAt,
	}
}

// appendLocked drops the oldest entries once maxLog is reached.
func (s *session) appendLocked(msg domain.Message) {
	if s.maxLog > 0 && len(s.log) >= s.maxLog {
		n := len(s.log) - s.maxLog + 1
		s.log = append(s.log[:0], s.log[n:]...)
	}
	s.log = append(s.log, msg)
}

// fanoutLocked sends to a snapshot of members except one; caller holds s.mu.
// from only labels the log entry.
func (s *session) fanoutLocked(from, except domain.MemberID, frame Frame) PublishResult {
	res := PublishResult{}
	targets := lo.Values(s.members)
	for _, m := range targets {
		if m.Meta().ID == except {
			continue
		}
		if err := m.Signal().TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.session").Str("world", string(s.id)).Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (s *session) membersSnapshot() []MemberDTO {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.MapToSlice(s.members, func(id domain.MemberID, ms MemberSession) MemberDTO {
		dto := MemberDTO{ID: id, Username: ms.Username()}
		if u := ms.Meta().User; u != nil {
			dto.UserID = u.ID
		}
		return dto
	})
}

func (s *session) messagesSnapshot() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, len(s.log))
	copy(out, s.log)
	return out
}
