package app

import (
	"encoding/json"

	"github.com/dkeye/WorldRelay/internal/core"
	"github.com/dkeye/WorldRelay/internal/domain"
)

// Event types on the wire.
const (
	EventMessage      = "message"
	EventMemberJoined = "member_joined"
	EventMemberLeft   = "member_left"
)

type MessageEvent struct {
	Type string `json:"type"`
	domain.Message
}

type PresenceEvent struct {
	Type   string         `json:"type"`
	World  domain.WorldID `json:"world"`
	Member core.MemberDTO `json:"member"`
}

func encode(v any) (core.Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return core.Frame(b), nil
}
