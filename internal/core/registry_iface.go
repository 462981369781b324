package core

import (
	"time"

	"github.com/dkeye/WorldRelay/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID       domain.MemberID `json:"id"`
	UserID   domain.UserID   `json:"user_id"`
	Username string          `json:"username"`
}

type WorldInfo struct {
	ID           domain.WorldID `json:"id"`
	MemberCount  int            `json:"member_count"`
	MessageCount int            `json:"message_count"`
	CreatedAt    time.Time      `json:"created_at"`
}

// SessionRegistry is the only owner of world sessions. Nothing outside it
// holds a session's mutable state; every access goes through a world id.
type SessionRegistry interface {
	GetOrCreate(world domain.WorldID) WorldInfo
	Exists(world domain.WorldID) bool
	Info(world domain.WorldID) (WorldInfo, bool)
	List() []WorldInfo

	AddMember(world domain.WorldID, ms MemberSession)
	// RemoveMember reports whether the session was discarded.
	RemoveMember(world domain.WorldID, id domain.MemberID) bool
	AppendMessage(world domain.WorldID, msg domain.Message) bool
	ListMembers(world domain.WorldID) []MemberDTO
	CurrentMessages(world domain.WorldID) []domain.Message

	// Publish appends msg and fans frame out in one step, so every member
	// observes the same order. The sender is skipped unless echo is set.
	Publish(world domain.WorldID, from domain.MemberID, msg domain.Message, frame Frame, echo bool) (PublishResult, bool)
	// Notify fans frame out without touching the log.
	Notify(world domain.WorldID, except domain.MemberID, frame Frame) PublishResult
}
