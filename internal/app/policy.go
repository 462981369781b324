package app

import "github.com/dkeye/WorldRelay/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a member whose send queue is full.
type Policy interface {
	OnBackPressure(world core.WorldInfo, member core.MemberSession) BackpressureAction
}

// DisconnectPolicy closes slow consumers; they can reconnect and resume.
type DisconnectPolicy struct{}

func (DisconnectPolicy) OnBackPressure(world core.WorldInfo, member core.MemberSession) BackpressureAction {
	return KickMember
}

// DropPolicy silently skips the frame for slow consumers.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(world core.WorldInfo, member core.MemberSession) BackpressureAction {
	return DropFrame
}

// PolicyByName maps a config value to a Policy. Unknown names fall back to disconnect.
func PolicyByName(name string) Policy {
	switch name {
	case "drop":
		return DropPolicy{}
	default:
		return DisconnectPolicy{}
	}
}
