package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/WorldRelay/internal/core"
	"github.com/dkeye/WorldRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotJoined   = errors.New("member not joined")
	ErrWorldClosed = errors.New("world session closed")
)

type Orchestrator struct {
	Registry *Registry
	Worlds   core.SessionRegistry
	Policy   Policy

	// EchoToSender includes the sender in its own message fan-out.
	EchoToSender bool
	// Presence emits member_joined / member_left to the other members.
	Presence bool

	Now func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Join registers the member in its world. cancel must close the member's
// transport; it is used by kicks and backpressure handling.
func (o *Orchestrator) Join(sess core.MemberSession, cancel context.CancelFunc) {
	meta := sess.Meta()
	o.Registry.Bind(sess, cancel)
	o.Worlds.AddMember(meta.World, sess)
	log.Info().Str("module", "app.orch").Str("member", string(meta.ID)).Str("world", string(meta.World)).Msg("joined")

	if o.Presence {
		o.notify(meta.World, meta.ID, EventMemberJoined, sess)
	}
}

// OnMessage normalizes raw, appends it to the world log and fans it out.
func (o *Orchestrator) OnMessage(id domain.MemberID, raw domain.Message) (domain.Message, error) {
	sess, ok := o.Registry.Get(id)
	if !ok {
		return domain.Message{}, ErrNotJoined
	}
	world := sess.Meta().World

	msg, err := raw.Normalize(o.now(), sess.Username())
	if err != nil {
		return domain.Message{}, err
	}
	frame, err := encode(MessageEvent{Type: EventMessage, Message: msg})
	if err != nil {
		return domain.Message{}, fmt.Errorf("encode message: %w", err)
	}

	res, ok := o.Worlds.Publish(world, id, msg, frame, o.EchoToSender)
	if !ok {
		return domain.Message{}, ErrWorldClosed
	}
	o.handleDropped(world, res)
	return msg, nil
}

// OnDisconnect runs the leave path. Safe to call more than once.
func (o *Orchestrator) OnDisconnect(id domain.MemberID) {
	sess, ok := o.Registry.Get(id)
	world, bound := o.Registry.Unbind(id)
	if !bound {
		return
	}
	discarded := o.Worlds.RemoveMember(world, id)
	log.Info().Str("module", "app.orch").Str("member", string(id)).Str("world", string(world)).Bool("world_discarded", discarded).Msg("left")

	if o.Presence && !discarded && ok {
		o.notify(world, id, EventMemberLeft, sess)
	}
}

// Kick closes the member's transport and runs the leave path immediately.
func (o *Orchestrator) Kick(id domain.MemberID) bool {
	if !o.Registry.Cancel(id) {
		return false
	}
	o.OnDisconnect(id)
	return true
}

// EvictWorld kicks every member of world; the session goes away with the last one.
func (o *Orchestrator) EvictWorld(world domain.WorldID) int {
	n := 0
	for _, id := range o.Registry.MembersOfWorld(world) {
		if o.Kick(id) {
			n++
		}
	}
	log.Info().Str("module", "app.orch").Str("world", string(world)).Int("kicked", n).Msg("world evicted")
	return n
}

func (o *Orchestrator) Rename(id domain.MemberID, name string) error {
	sess, ok := o.Registry.Get(id)
	if !ok {
		return ErrNotJoined
	}
	return sess.Rename(name)
}

// WhoAmI returns the member's public view and world.
func (o *Orchestrator) WhoAmI(id domain.MemberID) (core.MemberDTO, domain.WorldID, bool) {
	sess, ok := o.Registry.Get(id)
	if !ok {
		return core.MemberDTO{}, "", false
	}
	return memberDTO(sess), sess.Meta().World, true
}

func (o *Orchestrator) notify(world domain.WorldID, from domain.MemberID, typ string, sess core.MemberSession) {
	frame, err := encode(PresenceEvent{Type: typ, World: world, Member: memberDTO(sess)})
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Msg("encode presence")
		return
	}
	o.handleDropped(world, o.Worlds.Notify(world, from, frame))
}

func (o *Orchestrator) handleDropped(world domain.WorldID, res core.PublishResult) {
	if o.Policy == nil || len(res.Dropped) == 0 {
		return
	}
	info := core.WorldInfo{ID: world}
	for _, slow := range res.Dropped {
		id := slow.Meta().ID
		switch o.Policy.OnBackPressure(info, slow) {
		case KickMember:
			log.Warn().Str("module", "app.orch").Str("member", string(id)).Str("world", string(world)).Msg("slow consumer, disconnecting")
			o.Kick(id)
		case DropFrame:
			log.Debug().Str("module", "app.orch").Str("member", string(id)).Msg("slow consumer, frame dropped")
		case MarkSlow, NoAction:
		}
	}
}

func memberDTO(sess core.MemberSession) core.MemberDTO {
	dto := core.MemberDTO{ID: sess.Meta().ID, Username: sess.Username()}
	if u := sess.Meta().User; u != nil {
		dto.UserID = u.ID
	}
	return dto
}
