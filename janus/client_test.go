/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package janus

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/gateway-calling-go/callsdk"
	"github.com/tejzpr/gateway-calling-go/transport"
)

const (
	testSession   = int64(1001)
	testOwnFeed   = int64(11)
	testPrivateID = int64(22)
	testRemote    = int64(33)
)

// pipe is an in-memory Transport.
type pipe struct {
	sent   chan []byte
	frames chan []byte
	done   chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func newPipe() *pipe {
	return &pipe{
		sent:   make(chan []byte, 64),
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
}

func (p *pipe) Send(frame []byte) error {
	select {
	case <-p.done:
		return &callsdk.TransportError{Op: "write", Err: errors.New("closed")}
	default:
	}
	p.sent <- frame
	return nil
}

func (p *pipe) Frames() <-chan []byte { return p.frames }
func (p *pipe) Done() <-chan struct{} { return p.done }

func (p *pipe) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *pipe) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

// drop simulates the gateway going away.
func (p *pipe) drop(err error) {
	p.mu.Lock()
	p.err = &callsdk.TransportError{Op: "read", Err: err}
	p.mu.Unlock()
	p.once.Do(func() { close(p.done) })
	close(p.frames)
}

// fakeGateway answers requests arriving on a pipe. Override replaces the
// default behavior for a request type ("create", "attach", or a plugin
// request such as "join" or "configure"); returning false falls through.
type fakeGateway struct {
	t  *testing.T
	tr *pipe

	mu       sync.Mutex
	received []Message
	handles  int64
	override map[string]func(m Message, body map[string]interface{}) bool
}

func newFakeGateway(t *testing.T, tr *pipe) *fakeGateway {
	g := &fakeGateway{
		t:        t,
		tr:       tr,
		handles:  2000,
		override: make(map[string]func(Message, map[string]interface{}) bool),
	}
	go g.run()
	return g
}

func (g *fakeGateway) on(request string, fn func(m Message, body map[string]interface{}) bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.override[request] = fn
}

func (g *fakeGateway) run() {
	for {
		select {
		case frame := <-g.tr.sent:
			var m Message
			if err := json.Unmarshal(frame, &m); err != nil {
				g.t.Errorf("gateway got malformed frame: %v", err)
				continue
			}
			g.mu.Lock()
			g.received = append(g.received, m)
			g.mu.Unlock()
			g.answer(m)
		case <-g.tr.done:
			g.drain()
			return
		}
	}
}

// drain records frames the client sent just before closing.
func (g *fakeGateway) drain() {
	for {
		select {
		case frame := <-g.tr.sent:
			var m Message
			if json.Unmarshal(frame, &m) == nil {
				g.mu.Lock()
				g.received = append(g.received, m)
				g.mu.Unlock()
			}
		default:
			return
		}
	}
}

func (g *fakeGateway) push(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		g.t.Errorf("marshal gateway frame: %v", err)
		return
	}
	select {
	case g.tr.frames <- data:
	case <-g.tr.done:
	}
}

func (g *fakeGateway) answer(m Message) {
	body, _ := m.Body.(map[string]interface{})
	request := m.Janus
	if m.Janus == verbMessage && body != nil {
		request, _ = body["request"].(string)
		if request == "join" && body["ptype"] == "subscriber" {
			request = "subscribe"
		}
	}

	g.mu.Lock()
	fn := g.override[request]
	g.mu.Unlock()
	if fn != nil && fn(m, body) {
		return
	}

	switch m.Janus {
	case verbCreate:
		g.push(map[string]interface{}{"janus": "success", "transaction": m.Transaction, "data": map[string]interface{}{"id": testSession}})
	case verbAttach:
		g.mu.Lock()
		g.handles++
		id := g.handles
		g.mu.Unlock()
		g.push(map[string]interface{}{"janus": "success", "transaction": m.Transaction, "session_id": testSession, "data": map[string]interface{}{"id": id}})
	case verbDetach, verbDestroy:
		g.push(map[string]interface{}{"janus": "success", "transaction": m.Transaction, "session_id": testSession})
	case verbKeepalive, verbTrickle:
		g.push(map[string]interface{}{"janus": "ack", "transaction": m.Transaction, "session_id": testSession})
	case verbMessage:
		g.push(map[string]interface{}{"janus": "ack", "transaction": m.Transaction, "session_id": testSession})
		g.push(g.pluginEvent(m, request, body))
	}
}

func (g *fakeGateway) pluginEvent(m Message, request string, body map[string]interface{}) map[string]interface{} {
	ev := map[string]interface{}{
		"janus":       "event",
		"transaction": m.Transaction,
		"session_id":  testSession,
		"sender":      m.HandleID,
	}
	data := map[string]interface{}{}
	switch request {
	case "join":
		data = map[string]interface{}{
			"videoroom":  "joined",
			"room":       body["room"],
			"id":         testOwnFeed,
			"private_id": testPrivateID,
			"publishers": []map[string]interface{}{{"id": testRemote, "display": "Bob"}},
		}
	case "configure":
		data = map[string]interface{}{"videoroom": "event", "configured": "ok"}
		ev["jsep"] = map[string]string{"type": "answer", "sdp": "v=0 answer"}
	case "subscribe":
		data = map[string]interface{}{"videoroom": "attached", "id": body["feed"]}
		ev["jsep"] = map[string]string{"type": "offer", "sdp": "v=0 offer"}
	case "start":
		data = map[string]interface{}{"videoroom": "event", "started": "ok"}
	case "leave":
		data = map[string]interface{}{"videoroom": "event", "leaving": "ok"}
	}
	ev["plugindata"] = map[string]interface{}{"plugin": VideoRoomPlugin, "data": data}
	return ev
}

func (g *fakeGateway) verbs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.received))
	for _, m := range g.received {
		out = append(out, m.Janus)
	}
	return out
}

func (g *fakeGateway) last(verb string) (Message, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.received) - 1; i >= 0; i-- {
		if g.received[i].Janus == verb {
			return g.received[i], true
		}
	}
	return Message{}, false
}

func testClientConfig() *Config {
	cfg := DefaultConfig()
	cfg.RequestTimeout = 2 * time.Second
	cfg.KeepaliveInterval = 0
	cfg.Logger = callsdk.NopLogger()
	return cfg
}

func newTestClient(t *testing.T, cfg *Config) (*Client, *fakeGateway, *pipe) {
	t.Helper()
	tr := newPipe()
	g := newFakeGateway(t, tr)
	c := New(cfg, func(ctx context.Context, url string) (Transport, error) {
		return tr, nil
	})
	t.Cleanup(func() { _ = c.Disconnect() })
	return c, g, tr
}

func connected(t *testing.T, cfg *Config) (*Client, *fakeGateway, *pipe) {
	t.Helper()
	c, g, tr := newTestClient(t, cfg)
	require.NoError(t, c.Connect(context.Background(), "ws://gateway", "secret"))
	return c, g, tr
}

// expectEvent reads events until one of type T arrives.
func expectEvent[T Event](t *testing.T, c *Client) T {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if typed, ok := ev.(T); ok {
				return typed
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func TestConnect_Bootstrap(t *testing.T) {
	c, g, _ := newTestClient(t, testClientConfig())

	require.NoError(t, c.Connect(context.Background(), "ws://gateway", "secret"))

	first := <-c.Events()
	second := <-c.Events()
	assert.Equal(t, SessionCreated{SessionID: testSession}, first)
	attached, ok := second.(HandleAttached)
	require.True(t, ok, "expected HandleAttached, got %T", second)
	assert.Equal(t, testSession, attached.SessionID)
	assert.NotZero(t, attached.HandleID)

	assert.Equal(t, []string{verbCreate, verbAttach}, g.verbs())
	attach, _ := g.last(verbAttach)
	assert.Equal(t, VideoRoomPlugin, attach.Plugin)
	assert.Equal(t, testSession, attach.SessionID)
	assert.Equal(t, "secret", attach.APISecret)

	state := c.State()
	assert.Equal(t, testSession, state.SessionID)
	assert.Equal(t, attached.HandleID, state.HandleID)
	assert.True(t, c.IsAttached())
}

func TestConnect_AlreadyConnected(t *testing.T) {
	c, _, _ := connected(t, testClientConfig())
	err := c.Connect(context.Background(), "ws://gateway", "")
	assert.ErrorIs(t, err, callsdk.ErrAlreadyConnected)
}

func TestConnect_DialFailure(t *testing.T) {
	c := New(testClientConfig(), func(ctx context.Context, url string) (Transport, error) {
		return nil, errors.New("connection refused")
	})

	err := c.Connect(context.Background(), "ws://gateway", "")
	require.Error(t, err)
	assert.True(t, callsdk.IsTransportError(err))
	ev := expectEvent[TransportClosed](t, c)
	assert.True(t, ev.Unexpected())
	assert.False(t, c.IsAttached())
}

func TestDisconnect_DuringDial(t *testing.T) {
	t.Run("dial result is discarded", func(t *testing.T) {
		tr := newPipe()
		g := newFakeGateway(t, tr)
		dialing := make(chan struct{})
		release := make(chan struct{})
		c := New(testClientConfig(), func(ctx context.Context, url string) (Transport, error) {
			close(dialing)
			<-release
			return tr, nil
		})

		done := make(chan error, 1)
		go func() { done <- c.Connect(context.Background(), "ws://gateway", "") }()

		<-dialing
		require.NoError(t, c.Disconnect())
		close(release)

		err := <-done
		assert.ErrorIs(t, err, callsdk.ErrSessionClosed)
		assert.False(t, c.IsAttached())
		assert.Equal(t, SessionInfo{}, c.State())

		select {
		case <-tr.Done():
		case <-time.After(time.Second):
			t.Fatal("abandoned transport was not closed")
		}
		assert.NotContains(t, g.verbs(), verbCreate)

		// the client can connect again afterwards
		tr2 := newPipe()
		newFakeGateway(t, tr2)
		c.dial = func(ctx context.Context, url string) (Transport, error) { return tr2, nil }
		require.NoError(t, c.Connect(context.Background(), "ws://gateway", ""))
		assert.True(t, c.IsAttached())
		require.NoError(t, c.Disconnect())
	})

	t.Run("dial is cancelled", func(t *testing.T) {
		dialing := make(chan struct{})
		c := New(testClientConfig(), func(ctx context.Context, url string) (Transport, error) {
			close(dialing)
			<-ctx.Done()
			return nil, ctx.Err()
		})

		done := make(chan error, 1)
		go func() { done <- c.Connect(context.Background(), "ws://gateway", "") }()

		<-dialing
		require.NoError(t, c.Disconnect())
		select {
		case err := <-done:
			assert.ErrorIs(t, err, callsdk.ErrSessionClosed)
		case <-time.After(time.Second):
			t.Fatal("Connect did not return after Disconnect")
		}
		assert.False(t, c.IsAttached())
	})
}

func TestConnect_CreateRejected(t *testing.T) {
	c, g, _ := newTestClient(t, testClientConfig())
	g.on(verbCreate, func(m Message, _ map[string]interface{}) bool {
		g.push(map[string]interface{}{
			"janus": "error", "transaction": m.Transaction,
			"error": map[string]interface{}{"code": 403, "reason": "Unauthorized request (wrong or missing secret/token)"},
		})
		return true
	})

	err := c.Connect(context.Background(), "ws://gateway", "wrong")
	require.Error(t, err)
	var pe *callsdk.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 403, pe.Code)

	ev := expectEvent[ProtocolError](t, c)
	gw, ok := ev.GatewayError()
	require.True(t, ok)
	assert.Equal(t, 403, gw.Code)
	assert.False(t, c.IsAttached())
}

func TestJoinRoom_BeforeAttach(t *testing.T) {
	c := New(testClientConfig(), nil)

	_, err := c.JoinRoom(context.Background(), "call-1", "Alice")
	assert.ErrorIs(t, err, callsdk.ErrNotAttached)

	ev := expectEvent[ProtocolError](t, c)
	assert.ErrorIs(t, ev.Err, callsdk.ErrNotAttached)

	_, err = c.Publish(context.Background(), "v=0")
	assert.ErrorIs(t, err, callsdk.ErrNotAttached)
	assert.ErrorIs(t, c.Trickle(Candidate{Completed: true}), callsdk.ErrNotAttached)
}

func TestJoinPublishSubscribe(t *testing.T) {
	c, g, _ := connected(t, testClientConfig())
	ctx := context.Background()

	res, err := c.JoinRoom(ctx, "call-1", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "call-1", res.Room)
	assert.Equal(t, testOwnFeed, res.FeedID)
	assert.Equal(t, testPrivateID, res.PrivateID)
	require.Len(t, res.Publishers, 1)
	assert.Equal(t, Publisher{ID: testRemote, Display: "Bob"}, res.Publishers[0])

	joined := expectEvent[PublisherJoined](t, c)
	assert.Equal(t, testRemote, joined.Publisher.ID)

	join, _ := g.last(verbMessage)
	body := join.Body.(map[string]interface{})
	assert.Equal(t, "call-1", body["room"])
	assert.Equal(t, "publisher", body["ptype"])
	assert.Equal(t, "Alice", body["display"])

	answer, err := c.Publish(ctx, "v=0 local")
	require.NoError(t, err)
	assert.Equal(t, "v=0 answer", answer)
	sdp := expectEvent[RemoteSdp](t, c)
	assert.Equal(t, int64(0), sdp.Feed)
	assert.Equal(t, "answer", sdp.Type)

	configure, _ := g.last(verbMessage)
	require.NotNil(t, configure.JSEP)
	assert.Equal(t, "offer", configure.JSEP.Type)
	assert.Equal(t, "v=0 local", configure.JSEP.SDP)

	offer, err := c.Subscribe(ctx, testRemote)
	require.NoError(t, err)
	assert.Equal(t, "v=0 offer", offer)
	sub := expectEvent[RemoteSdp](t, c)
	assert.Equal(t, testRemote, sub.Feed)

	subJoin, _ := g.last(verbMessage)
	sb := subJoin.Body.(map[string]interface{})
	assert.Equal(t, "subscriber", sb["ptype"])
	assert.Equal(t, float64(testRemote), sb["feed"])
	assert.Equal(t, float64(testPrivateID), sb["private_id"])
	assert.NotEqual(t, c.State().HandleID, subJoin.HandleID)

	require.NoError(t, c.Start(ctx, testRemote, "v=0 sub answer"))
	start, _ := g.last(verbMessage)
	assert.Equal(t, "answer", start.JSEP.Type)

	require.NoError(t, c.TrickleFeed(testRemote, Candidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: "0"}))
	require.NoError(t, c.Trickle(Candidate{Completed: true}))
	require.Eventually(t, func() bool {
		m, ok := g.last(verbTrickle)
		return ok && m.Candidate != nil && m.HandleID == c.State().HandleID
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, c.State().Subscribers)

	require.NoError(t, c.LeaveRoom(ctx))
	state := c.State()
	assert.Empty(t, state.Room)
	assert.Zero(t, state.Subscribers)
	assert.True(t, c.IsAttached())
	require.Eventually(t, func() bool {
		_, ok := g.last(verbDetach)
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestCandidate_CompletedMarshal(t *testing.T) {
	data, err := json.Marshal(Candidate{Completed: true, Candidate: "ignored"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"completed":true}`, string(data))
}

func TestPublish_ProtocolErrorKeepsRoom(t *testing.T) {
	c, g, _ := connected(t, testClientConfig())
	ctx := context.Background()
	_, err := c.JoinRoom(ctx, "call-1", "Alice")
	require.NoError(t, err)

	g.on("configure", func(m Message, _ map[string]interface{}) bool {
		g.push(map[string]interface{}{"janus": "ack", "transaction": m.Transaction})
		g.push(map[string]interface{}{
			"janus": "event", "transaction": m.Transaction, "session_id": testSession, "sender": m.HandleID,
			"plugindata": map[string]interface{}{"plugin": VideoRoomPlugin, "data": map[string]interface{}{
				"videoroom": "event", "error_code": 433, "error": "Unauthorized (not a publisher)",
			}},
		})
		return true
	})

	_, err = c.Publish(ctx, "v=0")
	var pe *callsdk.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 433, pe.Code)
	assert.Equal(t, "configure", pe.Request)

	assert.True(t, c.IsAttached())
	assert.Equal(t, "call-1", c.State().Room)
}

func TestTransportLoss_FailsPending(t *testing.T) {
	c, g, tr := connected(t, testClientConfig())
	g.on("join", func(m Message, _ map[string]interface{}) bool {
		g.push(map[string]interface{}{"janus": "ack", "transaction": m.Transaction})
		go tr.drop(errors.New("connection reset"))
		return true
	})

	_, err := c.JoinRoom(context.Background(), "call-1", "Alice")
	require.Error(t, err)
	assert.True(t, callsdk.IsTransportError(err))

	ev := expectEvent[TransportClosed](t, c)
	assert.True(t, ev.Unexpected())
	assert.False(t, c.IsAttached())
	assert.Zero(t, c.State().Pending)

	_, err = c.JoinRoom(context.Background(), "call-1", "Alice")
	assert.ErrorIs(t, err, callsdk.ErrNotAttached)
}

func TestDisconnect_Idempotent(t *testing.T) {
	c, g, _ := connected(t, testClientConfig())

	require.NoError(t, c.Disconnect())
	ev := expectEvent[TransportClosed](t, c)
	assert.False(t, ev.Unexpected())
	require.NoError(t, c.Disconnect())

	require.Eventually(t, func() bool {
		destroy, ok := g.last(verbDestroy)
		return ok && destroy.SessionID == testSession
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, SessionInfo{}, c.State())

	require.NoError(t, c.LeaveRoom(context.Background()))
}

func TestDisconnect_PendingGetsSessionClosed(t *testing.T) {
	c, g, _ := connected(t, testClientConfig())
	acked := make(chan string, 1)
	g.on("join", func(m Message, _ map[string]interface{}) bool {
		g.push(map[string]interface{}{"janus": "ack", "transaction": m.Transaction})
		acked <- m.Transaction
		return true
	})

	errc := make(chan error, 1)
	go func() {
		_, err := c.JoinRoom(context.Background(), "call-1", "Alice")
		errc <- err
	}()

	tx := <-acked
	require.NoError(t, c.Disconnect())
	assert.ErrorIs(t, <-errc, callsdk.ErrSessionClosed)

	// A late answer for the old transaction must not resurrect state.
	c.handleFrame(c.gen-1, []byte(`{"janus":"event","transaction":"`+tx+`","plugindata":{"plugin":"janus.plugin.videoroom","data":{"videoroom":"joined","id":5}}}`))
	assert.Empty(t, c.State().Room)
}

func TestRequestTimeout(t *testing.T) {
	cfg := testClientConfig()
	c, g, _ := connected(t, cfg)
	g.on("join", func(m Message, _ map[string]interface{}) bool { return true })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.JoinRoom(ctx, "call-1", "Alice")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, c.State().Pending)
	assert.True(t, c.IsAttached())
}

func TestAsyncEvents(t *testing.T) {
	c, g, _ := connected(t, testClientConfig())
	ctx := context.Background()
	_, err := c.JoinRoom(ctx, "call-1", "Alice")
	require.NoError(t, err)
	expectEvent[PublisherJoined](t, c)
	_, err = c.Subscribe(ctx, testRemote)
	require.NoError(t, err)
	expectEvent[RemoteSdp](t, c)
	subHandle, _ := g.last(verbMessage)

	pluginEvent := func(data map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{
			"janus": "event", "session_id": testSession, "sender": c.State().HandleID,
			"plugindata": map[string]interface{}{"plugin": VideoRoomPlugin, "data": data},
		}
	}

	g.push(pluginEvent(map[string]interface{}{
		"videoroom":  "event",
		"publishers": []map[string]interface{}{{"id": 44, "display": "Carol"}, {"id": testOwnFeed, "display": "Alice"}},
	}))
	joined := expectEvent[PublisherJoined](t, c)
	assert.Equal(t, int64(44), joined.Publisher.ID)

	g.push(pluginEvent(map[string]interface{}{"videoroom": "event", "leaving": 44}))
	left := expectEvent[PublisherLeft](t, c)
	assert.Equal(t, int64(44), left.PublisherID)

	g.push(pluginEvent(map[string]interface{}{"videoroom": "event", "unpublished": testRemote}))
	left = expectEvent[PublisherLeft](t, c)
	assert.Equal(t, testRemote, left.PublisherID)

	g.push(map[string]interface{}{
		"janus": "trickle", "session_id": testSession, "sender": subHandle.HandleID,
		"candidate": map[string]interface{}{"candidate": "candidate:2 1 udp 1 10.0.0.2 6000 typ host", "sdpMid": "0", "sdpMLineIndex": 0},
	})
	cand := expectEvent[IceCandidate](t, c)
	assert.Equal(t, testRemote, cand.Feed)
	assert.Contains(t, cand.Candidate.Candidate, "10.0.0.2")

	g.push(map[string]interface{}{"janus": "media", "session_id": testSession, "sender": c.State().HandleID, "type": "video", "receiving": true})
	media := expectEvent[MediaState](t, c)
	assert.Equal(t, verbMedia, media.Kind)
	assert.Equal(t, "video", media.Type)
	assert.True(t, media.Receiving)

	g.push(map[string]interface{}{"janus": "hangup", "session_id": testSession, "sender": c.State().HandleID, "reason": "DTLS alert"})
	hangup := expectEvent[MediaState](t, c)
	assert.Equal(t, verbHangup, hangup.Kind)
	assert.Equal(t, "DTLS alert", hangup.Reason)

	// Frames for another session are ignored.
	g.push(map[string]interface{}{"janus": "webrtcup", "session_id": 9999})
	g.push(map[string]interface{}{"janus": "webrtcup", "session_id": testSession})
	up := expectEvent[MediaState](t, c)
	assert.Equal(t, verbWebRTCUp, up.Kind)
}

func TestGatewaySessionTimeout(t *testing.T) {
	c, g, _ := connected(t, testClientConfig())
	g.push(map[string]interface{}{"janus": "timeout", "session_id": testSession})

	ev := expectEvent[TransportClosed](t, c)
	assert.True(t, ev.Unexpected())
	assert.False(t, c.IsAttached())
}

func TestKeepalive(t *testing.T) {
	cfg := testClientConfig()
	cfg.KeepaliveInterval = 20 * time.Millisecond
	c, g, _ := connected(t, cfg)

	require.Eventually(t, func() bool {
		m, ok := g.last(verbKeepalive)
		return ok && m.SessionID == testSession
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Disconnect())
}

func TestTokenAuthorization(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	signer, err := callsdk.NewTokenSigner(key, "device-1", "gatewaycall", time.Minute)
	require.NoError(t, err)

	cfg := testClientConfig()
	cfg.Tokens = signer
	_, g, _ := connected(t, cfg)

	create, ok := g.last(verbCreate)
	require.True(t, ok)
	claims, err := callsdk.VerifyToken(create.Token, key, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "device-1", claims.Subject)
	assert.Equal(t, "secret", create.APISecret)
}

func TestConnect_OverWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{transport.Subprotocol}}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var m Message
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			reply := map[string]interface{}{"janus": "success", "transaction": m.Transaction}
			switch m.Janus {
			case verbCreate:
				reply["data"] = map[string]interface{}{"id": testSession}
			case verbAttach:
				reply["data"] = map[string]interface{}{"id": 77}
			}
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	c := New(testClientConfig(), nil)
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	require.NoError(t, c.Connect(context.Background(), url, ""))
	assert.Equal(t, int64(77), c.State().HandleID)
	require.NoError(t, c.Disconnect())
}
