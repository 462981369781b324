package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/WorldRelay/internal/app"
	"github.com/dkeye/WorldRelay/internal/config"
	"github.com/dkeye/WorldRelay/internal/core"
	"github.com/dkeye/WorldRelay/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testOrigin = "http://localhost:3003"

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

type testServer struct {
	*httptest.Server
	orch   *app.Orchestrator
	cancel context.CancelFunc
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Mode = "release"
	if mutate != nil {
		mutate(cfg)
	}
	orch := &app.Orchestrator{
		Registry:     app.NewRegistry(),
		Worlds:       core.NewSessionRegistry(cfg.MaxLogSize),
		Policy:       app.PolicyByName(cfg.SlowConsumer),
		EchoToSender: cfg.EchoToSender,
		Presence:     cfg.PresenceEvents,
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(SetupRouter(ctx, cfg, orch))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &testServer{Server: srv, orch: orch, cancel: cancel}
}

func (s *testServer) wsURL(world string) string {
	u := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
	if world != "" {
		u += "?worldId=" + url.QueryEscape(world)
	}
	return u
}

func (s *testServer) dialOrigin(world, origin string) (*websocket.Conn, *http.Response, error) {
	h := http.Header{}
	if origin != "" {
		h.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(s.wsURL(world), h)
}

func (s *testServer) join(t *testing.T, world string) *websocket.Conn {
	t.Helper()
	before := len(s.orch.Worlds.ListMembers(domain.WorldID(world)))
	conn, _, err := s.dialOrigin(world, testOrigin)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	s.waitMembers(t, world, before+1)
	return conn
}

func (s *testServer) waitMembers(t *testing.T, world string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(s.orch.Worlds.ListMembers(domain.WorldID(world))) == n
	}, 2*time.Second, 10*time.Millisecond)
}

type event struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	User string `json:"user"`
	Text string `json:"text"`
}

// nextMessage skips presence and control events.
func nextMessage(t *testing.T, conn *websocket.Conn) event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var e event
		require.NoError(t, json.Unmarshal(data, &e))
		if e.Type == app.EventMessage {
			return e
		}
	}
}

func expectNoMessage(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var e event
		require.NoError(t, json.Unmarshal(data, &e))
		require.NotEqual(t, app.EventMessage, e.Type, "unexpected message %s", data)
	}
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func TestWS_Scenario_Message_Reaches_Member_Then_World_Discarded(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, nil)

	// Given A and B joined w1
	a := s.join(t, "w1")
	b := s.join(t, "w1")

	// When A sends a message
	send(t, a, map[string]any{"type": "message", "id": "1", "user": "A", "text": "hi"})

	// Then B receives it
	got := nextMessage(t, b)
	req.Equal("hi", got.Text)
	req.Equal("1", got.ID)
	req.Equal("A", got.User)

	// And A receives its own echo
	req.Equal("hi", nextMessage(t, a).Text)

	// When B then A leave
	req.NoError(b.Close())
	s.waitMembers(t, "w1", 1)
	req.NoError(a.Close())

	// Then the world session no longer exists
	req.Eventually(func() bool { return !s.orch.Worlds.Exists("w1") }, 2*time.Second, 10*time.Millisecond)
	req.Empty(s.orch.Worlds.ListMembers("w1"))
	req.Zero(s.orch.Registry.Count())
}

func TestWS_Isolation_Between_Worlds(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.join(t, "w1")
	c := s.join(t, "w2")

	send(t, a, map[string]any{"type": "message", "text": "hi"})

	require.Equal(t, "hi", nextMessage(t, a).Text)
	expectNoMessage(t, c, 200*time.Millisecond)
}

func TestWS_Per_Sender_Order(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, nil)
	a := s.join(t, "w1")
	b := s.join(t, "w1")

	for _, text := range []string{"m1", "m2", "m3"} {
		send(t, a, map[string]any{"type": "message", "text": text})
	}

	req.Equal("m1", nextMessage(t, b).Text)
	req.Equal("m2", nextMessage(t, b).Text)
	req.Equal("m3", nextMessage(t, b).Text)
}

func TestWS_Malformed_Event_Keeps_Connection(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, nil)
	a := s.join(t, "w1")
	b := s.join(t, "w1")

	req.NoError(a.WriteMessage(websocket.TextMessage, []byte("not json")))
	send(t, a, map[string]any{"type": "message", "text": "   "})
	send(t, a, map[string]any{"type": "message", "text": 42})
	send(t, a, map[string]any{"type": "teleport"})
	send(t, a, map[string]any{"type": "message", "text": "ok"})

	req.Equal("ok", nextMessage(t, b).Text)
	req.Len(s.orch.Worlds.CurrentMessages("w1"), 1)
}

func TestWS_Disallowed_Origin_Is_Refused(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, nil)

	for _, origin := range []string{"http://evil.example", ""} {
		_, resp, err := s.dialOrigin("w1", origin)
		req.ErrorIs(err, websocket.ErrBadHandshake)
		req.Equal(http.StatusForbidden, resp.StatusCode)
	}

	req.Empty(s.orch.Worlds.List())
	req.Zero(s.orch.Registry.Count())
}

func TestWS_Missing_World_Is_Rejected(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, nil)

	_, resp, err := s.dialOrigin("", testOrigin)

	req.ErrorIs(err, websocket.ErrBadHandshake)
	req.Equal(http.StatusBadRequest, resp.StatusCode)
	req.Empty(s.orch.Worlds.List())
}

func TestWS_Rejoin_Gets_Fresh_Session(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, nil)
	a := s.join(t, "w1")
	send(t, a, map[string]any{"type": "message", "text": "old"})
	req.Equal("old", nextMessage(t, a).Text)
	req.NoError(a.Close())
	req.Eventually(func() bool { return !s.orch.Worlds.Exists("w1") }, 2*time.Second, 10*time.Millisecond)

	s.join(t, "w1")

	req.Empty(s.orch.Worlds.CurrentMessages("w1"))
}

func TestWS_Presence_And_Whoami(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, nil)
	a := s.join(t, "w1")

	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL("w1")+"&name=Bob", http.Header{"Origin": {testOrigin}})
	req.NoError(err)
	defer conn.Close()

	var joined struct {
		Type   string         `json:"type"`
		Member core.MemberDTO `json:"member"`
	}
	req.NoError(a.SetReadDeadline(time.Now().Add(2 * time.Second)))
	req.NoError(a.ReadJSON(&joined))
	req.Equal(app.EventMemberJoined, joined.Type)
	req.Equal("Bob", joined.Member.Username)

	send(t, conn, map[string]any{"type": "rename", "name": "Robert"})
	var who struct {
		Type   string         `json:"type"`
		World  string         `json:"world"`
		Member core.MemberDTO `json:"member"`
	}
	req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	req.NoError(conn.ReadJSON(&who))
	req.Equal("whoami", who.Type)
	req.Equal("w1", who.World)
	req.Equal("Robert", who.Member.Username)

	send(t, conn, map[string]any{"type": "ping"})
	var pong struct {
		Type string `json:"type"`
	}
	req.NoError(conn.ReadJSON(&pong))
	req.Equal("pong", pong.Type)

	// messages without a user carry the member label
	send(t, conn, map[string]any{"type": "message", "text": "hello"})
	req.Equal("Robert", nextMessage(t, a).User)
}

func TestWS_Idle_Member_Is_Dropped(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.PingPeriod = 50 * time.Millisecond
		cfg.IdleTimeout = 200 * time.Millisecond
	})
	// never reads, so never answers pings
	s.join(t, "w1")

	require.Eventually(t, func() bool { return !s.orch.Worlds.Exists("w1") }, 3*time.Second, 20*time.Millisecond)
}

func TestWS_Rate_Limit_Drops_Excess(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.Limit = 2
		cfg.RateLimit.Interval = time.Minute
	})
	a := s.join(t, "w1")
	b := s.join(t, "w1")

	for _, text := range []string{"m1", "m2", "m3"} {
		send(t, a, map[string]any{"type": "message", "text": text})
	}

	req.Equal("m1", nextMessage(t, b).Text)
	req.Equal("m2", nextMessage(t, b).Text)
	expectNoMessage(t, b, 200*time.Millisecond)
	req.Len(s.orch.Worlds.CurrentMessages("w1"), 2)
}

func TestWS_Malformed_Events_Do_Not_Use_Rate_Budget(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.Limit = 2
		cfg.RateLimit.Interval = time.Minute
	})
	a := s.join(t, "w1")
	b := s.join(t, "w1")

	// Given malformed events were sent first
	send(t, a, map[string]any{"type": "message", "text": 42})
	send(t, a, map[string]any{"type": "message", "text": "   "})
	send(t, a, map[string]any{"type": "message", "text": "hi", "timestamp": "yesterday"})

	// When two well-formed messages follow
	send(t, a, map[string]any{"type": "message", "text": "m1"})
	send(t, a, map[string]any{"type": "message", "text": "m2"})

	// Then both are delivered
	req.Equal("m1", nextMessage(t, b).Text)
	req.Equal("m2", nextMessage(t, b).Text)
	req.Len(s.orch.Worlds.CurrentMessages("w1"), 2)
}

func TestWS_Server_Shutdown_Cleans_Up(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, nil)
	s.join(t, "w1")
	s.join(t, "w2")

	s.cancel()

	req.Eventually(func() bool { return len(s.orch.Worlds.List()) == 0 }, 2*time.Second, 10*time.Millisecond)
	req.Zero(s.orch.Registry.Count())
}

func TestAPI_Worlds(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, nil)
	a := s.join(t, "w1")
	send(t, a, map[string]any{"type": "message", "id": "1", "text": "hi"})
	nextMessage(t, a)

	var list struct {
		Worlds []core.WorldInfo `json:"worlds"`
	}
	getJSON(t, s.URL+"/api/worlds", http.StatusOK, &list)
	req.Len(list.Worlds, 1)
	req.Equal(domain.WorldID("w1"), list.Worlds[0].ID)
	req.Equal(1, list.Worlds[0].MessageCount)

	var members struct {
		Members []core.MemberDTO `json:"members"`
	}
	getJSON(t, s.URL+"/api/worlds/w1/members", http.StatusOK, &members)
	req.Len(members.Members, 1)

	var msgs struct {
		Messages []domain.Message `json:"messages"`
	}
	getJSON(t, s.URL+"/api/worlds/w1/messages", http.StatusOK, &msgs)
	req.Len(msgs.Messages, 1)
	req.Equal("hi", msgs.Messages[0].Text)

	getJSON(t, s.URL+"/api/worlds/nope/messages", http.StatusNotFound, nil)
	req.False(s.orch.Worlds.Exists("nope"))

	delReq, err := http.NewRequest(http.MethodDelete, s.URL+"/api/worlds/w1", nil)
	req.NoError(err)
	resp, err := http.DefaultClient.Do(delReq)
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)
	req.False(s.orch.Worlds.Exists("w1"))
}

func TestHealthz_Sets_Client_Token_Cookie(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, nil)

	resp, err := http.Get(s.URL + "/healthz")
	req.NoError(err)
	defer resp.Body.Close()

	req.Equal(http.StatusOK, resp.StatusCode)
	found := false
	for _, c := range resp.Cookies() {
		if c.Name == sessionName {
			found = true
		}
	}
	req.True(found)
}

func getJSON(t *testing.T, url string, status int, out any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, status, resp.StatusCode)
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
}
