package signal

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/WorldRelay/internal/app"
	"github.com/dkeye/WorldRelay/internal/config"
	"github.com/dkeye/WorldRelay/internal/core"
	"github.com/dkeye/WorldRelay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// WorldQueryParam carries the world id on the upgrade request.
	WorldQueryParam = "worldId"
	NameQueryParam  = "name"
	// ClientTokenKey is the gin context key set by the client token middleware.
	ClientTokenKey = "client_token"
)

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		IdleTimeout:  cfg.IdleTimeout,
		WriteTimeout: cfg.WriteTimeout,
		SendBuffer:   cfg.SendBuffer,
	}
}

type SignalWSController struct {
	Orch    *app.Orchestrator
	Origins *OriginPolicy
	Limiter *MemberRateLimiter

	opts     Options
	upgrader websocket.Upgrader
}

func NewSignalWSController(orch *app.Orchestrator, cfg *config.Config) *SignalWSController {
	origins := NewOriginPolicy(cfg.AllowedOrigins)
	return &SignalWSController{
		Orch:    orch,
		Origins: origins,
		Limiter: NewMemberRateLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Interval),
		opts:    OptionsFromConfig(cfg),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.Allowed,
		},
	}
}

type connState int32

const (
	stateConnecting connState = iota
	stateJoined
	stateLeft
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateJoined:
		return "joined"
	case stateLeft:
		return "left"
	}
	return "unknown"
}

// WsSignalConn is one accepted websocket. It implements core.SignalConnection.
type WsSignalConn struct {
	id   domain.MemberID
	conn *websocket.Conn
	send chan core.Frame

	state atomic.Int32

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(id domain.MemberID, ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{
		id:   id,
		conn: ws,
		send: make(chan core.Frame, buffer),
	}
}

func (c *WsSignalConn) current() connState { return connState(c.state.Load()) }

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// join moves Connecting -> Joined.
func (ctl *SignalWSController) join(c *WsSignalConn, sess core.MemberSession, cancel context.CancelFunc) bool {
	if !c.state.CompareAndSwap(int32(stateConnecting), int32(stateJoined)) {
		return false
	}
	ctl.Orch.Join(sess, cancel)
	return true
}

// leave moves to Left; the registry cleanup runs only on the first call
// and only if the member had joined.
func (ctl *SignalWSController) leave(c *WsSignalConn) {
	prev := connState(c.state.Swap(int32(stateLeft)))
	if prev == stateLeft {
		return
	}
	c.Close()
	if prev == stateJoined {
		ctl.Orch.OnDisconnect(c.id)
		ctl.Limiter.Forget(c.id)
	}
	log.Info().Str("module", "signal").Str("member", string(c.id)).Str("from", prev.String()).Msg("connection left")
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	if !ctl.Origins.Allowed(c.Request) {
		log.Warn().Str("module", "signal").Str("origin", c.GetHeader("Origin")).Msg("blocked connection from disallowed origin")
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}
	world, err := domain.ParseWorldID(c.Query(WorldQueryParam))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := domain.NewUser(domain.UserID(c.GetString(ClientTokenKey)), c.Query(NameQueryParam))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.opts.ReadLimit)

	id := domain.MemberID(uuid.NewString())
	conn := newWsSignalConn(id, ws, ctl.opts.SendBuffer)
	sess := core.NewMemberSession(domain.NewMember(id, world, user), conn)

	connCtx, cancel := context.WithCancel(ctx)
	closeConn := func() {
		cancel()
		conn.Close()
	}

	log.Info().Str("module", "signal").Str("member", string(id)).Str("world", string(world)).Str("user", user.Username).Msg("new WS connection")
	ctl.join(conn, sess, closeConn)

	go ctl.writePump(connCtx, conn)
	go ctl.readPump(connCtx, cancel, conn)
}
