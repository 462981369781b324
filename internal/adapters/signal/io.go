package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dkeye/WorldRelay/internal/app"
	"github.com/dkeye/WorldRelay/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var errBadTimestamp = errors.New("bad timestamp")

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("member", string(c.id)).Msg("writePump ctx done")
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(ctl.opts.WriteTimeout))
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("member", string(c.id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("member", string(c.id)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("member", string(c.id)).Msg("writePump ping error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("member", string(c.id)).Msg("readPump closing")
		cancel()
		ctl.leave(c)
	}()

	extend := func() error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.IdleTimeout))
	}
	if err := extend(); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("readPump set deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("member", string(c.id)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
					log.Warn().Err(err).Str("module", "signal").Str("member", string(c.id)).Msg("readPump unexpected close")
				}
				return
			}
			if err := extend(); err != nil {
				return
			}
			ctl.handleSignal(c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(c *WsSignalConn, data []byte) {
	if c.current() != stateJoined {
		return
	}
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("member", string(c.id)).Msg("bad json")
		return
	}

	switch env.Type {
	case app.EventMessage:
		ctl.handleMessage(c, data)
	case "ping":
		ctl.handlePing(c)
	case "rename":
		ctl.handleRename(c, data)
	case "whoami":
		ctl.handleWhoAmI(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

type inboundMessage struct {
	ID        string          `json:"id"`
	User      string          `json:"user"`
	Text      string          `json:"text"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// parseTimestamp accepts RFC 3339 strings (JS Date JSON), epoch millis as
// a number (fractions truncated to the millisecond) or numeric string, and
// null/absent.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	var fms float64
	if err := json.Unmarshal(raw, &fms); err == nil {
		return time.UnixMilli(int64(fms)).UTC(), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", errBadTimestamp, raw)
	}
	if s == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", errBadTimestamp, err)
	}
	return t, nil
}

func decodeMessage(data []byte) (domain.Message, error) {
	var in inboundMessage
	if err := json.Unmarshal(data, &in); err != nil {
		return domain.Message{}, err
	}
	ts, err := parseTimestamp(in.Timestamp)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{ID: in.ID, User: in.User, Text: in.Text, Timestamp: ts}, nil
}

// handleMessage drops malformed events before they reach the rate limiter,
// so only well-formed chat events count against the member's budget.
func (ctl *SignalWSController) handleMessage(c *WsSignalConn, data []byte) {
	raw, err := decodeMessage(data)
	if err == nil {
		_, err = raw.Normalize(time.Now(), string(c.id))
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("member", string(c.id)).Msg("malformed message dropped")
		return
	}
	if !ctl.Limiter.Allow(c.id) {
		log.Warn().Str("module", "signal").Str("member", string(c.id)).Msg("rate limited, message dropped")
		return
	}
	if _, err := ctl.Orch.OnMessage(c.id, raw); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("member", string(c.id)).Msg("message dropped")
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("member", string(c.id)).Msg("reply dropped")
	}
}
