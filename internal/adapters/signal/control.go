package signal

import (
	"encoding/json"

	"github.com/dkeye/WorldRelay/internal/core"
	"github.com/dkeye/WorldRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handlePing(c *WsSignalConn) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(c, resp)
}

func (ctl *SignalWSController) handleRename(c *WsSignalConn, data []byte) {
	var p struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad rename payload")
		return
	}
	if err := ctl.Orch.Rename(c.id, p.Name); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("member", string(c.id)).Msg("rename rejected")
	} else {
		log.Info().Str("module", "signal").Str("member", string(c.id)).Str("name", p.Name).Msg("rename")
	}
	ctl.handleWhoAmI(c)
}

func (ctl *SignalWSController) handleWhoAmI(c *WsSignalConn) {
	member, world, ok := ctl.Orch.WhoAmI(c.id)
	if !ok {
		return
	}
	resp := struct {
		Type   string         `json:"type"`
		World  domain.WorldID `json:"world"`
		Member core.MemberDTO `json:"member"`
	}{
		Type:   "whoami",
		World:  world,
		Member: member,
	}
	ctl.sendJSON(c, resp)
}
