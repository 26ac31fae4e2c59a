/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package janus implements the client side of the Janus gateway protocol for
// the videoroom plugin: session and handle bootstrap, transaction
// correlation, room join, publish, subscribe and trickle ICE.
package janus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tejzpr/gateway-calling-go/callsdk"
	"github.com/tejzpr/gateway-calling-go/metrics"
	"github.com/tejzpr/gateway-calling-go/transport"
)

// Transport is the frame channel the client runs over. *transport.Conn
// implements it.
type Transport interface {
	Send(frame []byte) error
	Frames() <-chan []byte
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Dialer opens a Transport to the gateway.
type Dialer func(ctx context.Context, url string) (Transport, error)

// Config holds the configuration for the signaling client
type Config struct {
	// RequestTimeout bounds a request whose context has no deadline.
	RequestTimeout time.Duration
	// KeepaliveInterval must stay below the gateway's session timeout (60s by default).
	KeepaliveInterval time.Duration
	// EventBuffer is the capacity of the Events channel.
	EventBuffer int
	// Tokens, if set, adds a signed "token" to every request.
	Tokens callsdk.TokenSource
	// Transport configures the default WebSocket dialer.
	Transport *transport.Config
	Logger    logrus.FieldLogger
	Metrics   *metrics.Collectors
}

// DefaultConfig returns the default configuration for the signaling client
func DefaultConfig() *Config {
	return &Config{
		RequestTimeout:    10 * time.Second,
		KeepaliveInterval: 25 * time.Second,
		EventBuffer:       128,
		Transport:         transport.DefaultConfig(),
	}
}

// JoinResult describes the room after a successful publisher join.
type JoinResult struct {
	Room       string
	FeedID     int64
	PrivateID  int64
	Publishers []Publisher
}

// SessionInfo is a snapshot of the client's session state.
type SessionInfo struct {
	SessionID   int64
	HandleID    int64
	Room        string
	FeedID      int64
	Subscribers int
	Pending     int
}

// Client speaks the gateway protocol over one transport at a time.
type Client struct {
	config  *Config
	dial    Dialer
	log     *logrus.Entry
	metrics *metrics.Collectors
	txs     *transactions
	events  chan Event

	mu          sync.Mutex
	tr          Transport
	connecting  bool
	cancelDial  context.CancelFunc
	secret      string
	gen         uint64
	sessionID   int64
	handleID    int64
	roomID      string
	feedID      int64
	privateID   int64
	subscribers map[int64]int64 // publisher feed -> subscriber handle
	handleFeeds map[int64]int64 // subscriber handle -> publisher feed
	stop        chan struct{}
}

// New creates a signaling client. A nil dial uses the WebSocket transport.
func New(config *Config, dial Dialer) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	buf := config.EventBuffer
	if buf <= 0 {
		buf = 128
	}
	log := callsdk.Component(config.Logger, "janus")
	if dial == nil {
		tcfg := config.Transport
		if tcfg == nil {
			tcfg = transport.DefaultConfig()
		}
		if tcfg.Logger == nil {
			tcfg.Logger = config.Logger
		}
		dial = func(ctx context.Context, url string) (Transport, error) {
			return transport.Dial(ctx, url, tcfg)
		}
	}

	return &Client{
		config:      config,
		dial:        dial,
		log:         log,
		metrics:     config.Metrics,
		txs:         newTransactions(),
		events:      make(chan Event, buf),
		subscribers: make(map[int64]int64),
		handleFeeds: make(map[int64]int64),
	}
}

// Events delivers asynchronous notifications for the lifetime of the client.
func (c *Client) Events() <-chan Event {
	return c.events
}

// State returns a snapshot of the current session.
func (c *Client) State() SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return SessionInfo{
		SessionID:   c.sessionID,
		HandleID:    c.handleID,
		Room:        c.roomID,
		FeedID:      c.feedID,
		Subscribers: len(c.subscribers),
		Pending:     c.txs.len(),
	}
}

// IsAttached reports whether room operations are currently allowed.
func (c *Client) IsAttached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attachedLocked()
}

func (c *Client) attachedLocked() bool {
	return c.tr != nil && c.sessionID != 0 && c.handleID != 0
}

// Connect opens the transport, creates a session and attaches the videoroom
// plugin, in that order. Room operations are refused until it returns nil.
func (c *Client) Connect(ctx context.Context, gatewayURL, authSecret string) error {
	c.mu.Lock()
	if c.tr != nil || c.connecting {
		c.mu.Unlock()
		return callsdk.ErrAlreadyConnected
	}
	c.connecting = true
	dialGen := c.gen
	dialCtx, cancel := context.WithCancel(ctx)
	c.cancelDial = cancel
	c.mu.Unlock()

	tr, err := c.dial(dialCtx, gatewayURL)
	cancel()

	c.mu.Lock()
	c.connecting = false
	c.cancelDial = nil
	// a Disconnect during the dial discards its result
	if c.gen != dialGen {
		c.mu.Unlock()
		if err == nil {
			_ = tr.Close()
		}
		c.log.Debug("connect abandoned by disconnect")
		return fmt.Errorf("connect to gateway: %w", callsdk.ErrSessionClosed)
	}
	if err != nil {
		c.mu.Unlock()
		if !callsdk.IsTransportError(err) {
			err = &callsdk.TransportError{Op: "dial", Err: err}
		}
		c.emit(TransportClosed{Err: err})
		return fmt.Errorf("connect to gateway: %w", err)
	}

	c.gen++
	gen := c.gen
	c.tr = tr
	c.secret = authSecret
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	go c.readLoop(tr, gen, stop)

	resp, err := c.transact(ctx, gen, &Message{Janus: verbCreate}, false, verbCreate)
	if err == nil && (resp.Data == nil || resp.Data.ID == 0) {
		err = &callsdk.ProtocolError{Reason: "create returned no session id", Request: verbCreate}
	}
	if err != nil {
		c.abort(gen, err)
		return fmt.Errorf("create session: %w", err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return fmt.Errorf("create session: %w", callsdk.ErrSessionClosed)
	}
	c.sessionID = resp.Data.ID
	sessionID := c.sessionID
	c.mu.Unlock()

	c.log.WithField("session_id", sessionID).Info("session created")
	c.emit(SessionCreated{SessionID: sessionID})

	handleID, err := c.attach(ctx, gen, sessionID)
	if err != nil {
		c.abort(gen, err)
		return fmt.Errorf("attach %s: %w", VideoRoomPlugin, err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return fmt.Errorf("attach %s: %w", VideoRoomPlugin, callsdk.ErrSessionClosed)
	}
	c.handleID = handleID
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"session_id": sessionID, "handle_id": handleID}).Info("plugin attached")
	c.emit(HandleAttached{SessionID: sessionID, HandleID: handleID})

	if c.config.KeepaliveInterval > 0 {
		go c.keepalive(gen, stop)
	}
	return nil
}

// abort tears down a session whose bootstrap failed.
func (c *Client) abort(gen uint64, err error) {
	if callsdk.IsProtocolError(err) {
		c.emit(ProtocolError{Err: err})
	}
	if callsdk.IsTransportError(err) {
		c.shutdown(gen, err)
		return
	}
	c.shutdown(gen, nil)
}

func (c *Client) attach(ctx context.Context, gen uint64, sessionID int64) (int64, error) {
	resp, err := c.transact(ctx, gen, &Message{
		Janus:     verbAttach,
		Plugin:    VideoRoomPlugin,
		SessionID: sessionID,
	}, false, verbAttach)
	if err != nil {
		return 0, err
	}
	if resp.Data == nil || resp.Data.ID == 0 {
		return 0, &callsdk.ProtocolError{Reason: "attach returned no handle id", Request: verbAttach}
	}
	return resp.Data.ID, nil
}

// handleFor returns the ids needed for a publisher-handle request, or
// ErrNotAttached. The refusal is also reported on the Events channel.
func (c *Client) handleFor(op string) (gen uint64, sessionID, handleID int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.attachedLocked() {
		err = fmt.Errorf("%s: %w", op, callsdk.ErrNotAttached)
		c.emit(ProtocolError{Err: err})
		return 0, 0, 0, err
	}
	return c.gen, c.sessionID, c.handleID, nil
}

// JoinRoom joins roomID as a publisher.
func (c *Client) JoinRoom(ctx context.Context, roomID, displayName string) (*JoinResult, error) {
	gen, sid, hid, err := c.handleFor("join room")
	if err != nil {
		return nil, err
	}

	resp, err := c.transact(ctx, gen, &Message{
		Janus:     verbMessage,
		SessionID: sid,
		HandleID:  hid,
		Body:      joinBody{Request: "join", Room: roomID, PType: "publisher", Display: displayName},
	}, true, "join")
	if err != nil {
		return nil, fmt.Errorf("join room %s: %w", roomID, err)
	}

	d, err := decodeVideoRoom(resp.PluginData)
	if err != nil {
		return nil, fmt.Errorf("join room %s: %w", roomID, err)
	}
	if d == nil || d.VideoRoom != "joined" {
		return nil, fmt.Errorf("join room %s: %w", roomID,
			&callsdk.ProtocolError{Reason: "unexpected join response", Transaction: resp.Transaction, Request: "join"})
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return nil, fmt.Errorf("join room %s: %w", roomID, callsdk.ErrSessionClosed)
	}
	c.roomID = roomID
	c.feedID = d.ID
	c.privateID = d.PrivateID
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"room": roomID, "feed": d.ID, "publishers": len(d.Publishers)}).Info("joined room")
	for _, p := range d.Publishers {
		c.emit(PublisherJoined{Publisher: p})
	}

	return &JoinResult{Room: roomID, FeedID: d.ID, PrivateID: d.PrivateID, Publishers: d.Publishers}, nil
}

// Publish sends the local offer with a configure request and returns the
// gateway's answer. The answer is also emitted as RemoteSdp.
func (c *Client) Publish(ctx context.Context, localSdp string) (string, error) {
	gen, sid, hid, err := c.handleFor("publish")
	if err != nil {
		return "", err
	}

	resp, err := c.transact(ctx, gen, &Message{
		Janus:     verbMessage,
		SessionID: sid,
		HandleID:  hid,
		Body:      configureBody{Request: "configure", Audio: true, Video: true},
		JSEP:      &JSEP{Type: "offer", SDP: localSdp},
	}, true, "configure")
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	if resp.JSEP == nil || resp.JSEP.SDP == "" {
		return "", fmt.Errorf("publish: %w",
			&callsdk.ProtocolError{Reason: "configure response carried no answer", Transaction: resp.Transaction, Request: "configure"})
	}

	c.emit(RemoteSdp{Type: resp.JSEP.Type, SDP: resp.JSEP.SDP})
	return resp.JSEP.SDP, nil
}

// Subscribe attaches a subscriber handle for publisherID and returns the
// gateway's offer for that feed. Answer it with Start.
func (c *Client) Subscribe(ctx context.Context, publisherID int64) (string, error) {
	c.mu.Lock()
	if !c.attachedLocked() || c.roomID == "" {
		c.mu.Unlock()
		err := fmt.Errorf("subscribe to %d: no room joined: %w", publisherID, callsdk.ErrNotAttached)
		c.emit(ProtocolError{Err: err})
		return "", err
	}
	gen, sid, room, privateID := c.gen, c.sessionID, c.roomID, c.privateID
	c.mu.Unlock()

	hid, err := c.attach(ctx, gen, sid)
	if err != nil {
		return "", fmt.Errorf("subscribe to %d: %w", publisherID, err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return "", fmt.Errorf("subscribe to %d: %w", publisherID, callsdk.ErrSessionClosed)
	}
	c.subscribers[publisherID] = hid
	c.handleFeeds[hid] = publisherID
	c.mu.Unlock()

	resp, err := c.transact(ctx, gen, &Message{
		Janus:     verbMessage,
		SessionID: sid,
		HandleID:  hid,
		Body:      joinBody{Request: "join", Room: room, PType: "subscriber", Feed: publisherID, PrivateID: privateID},
	}, true, "subscribe")
	if err != nil {
		c.dropSubscriber(publisherID)
		return "", fmt.Errorf("subscribe to %d: %w", publisherID, err)
	}
	if resp.JSEP == nil || resp.JSEP.SDP == "" {
		c.dropSubscriber(publisherID)
		return "", fmt.Errorf("subscribe to %d: %w", publisherID,
			&callsdk.ProtocolError{Reason: "subscribe response carried no offer", Transaction: resp.Transaction, Request: "subscribe"})
	}

	c.emit(RemoteSdp{Feed: publisherID, Type: resp.JSEP.Type, SDP: resp.JSEP.SDP})
	return resp.JSEP.SDP, nil
}

// Start completes a subscription by sending our answer for publisherID.
func (c *Client) Start(ctx context.Context, publisherID int64, answerSdp string) error {
	c.mu.Lock()
	hid, ok := c.subscribers[publisherID]
	gen, sid, room := c.gen, c.sessionID, c.roomID
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("start %d: no subscription: %w", publisherID, callsdk.ErrNotAttached)
	}

	_, err := c.transact(ctx, gen, &Message{
		Janus:     verbMessage,
		SessionID: sid,
		HandleID:  hid,
		Body:      simpleBody{Request: "start", Room: room},
		JSEP:      &JSEP{Type: "answer", SDP: answerSdp},
	}, true, "start")
	if err != nil {
		return fmt.Errorf("start %d: %w", publisherID, err)
	}
	return nil
}

// Unsubscribe detaches the subscriber handle for publisherID, if any.
func (c *Client) Unsubscribe(publisherID int64) error {
	c.mu.Lock()
	hid, ok := c.subscribers[publisherID]
	sid := c.sessionID
	c.mu.Unlock()
	if !ok {
		return nil
	}
	c.dropSubscriber(publisherID)
	return c.send(&Message{Janus: verbDetach, SessionID: sid, HandleID: hid})
}

func (c *Client) dropSubscriber(publisherID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hid, ok := c.subscribers[publisherID]; ok {
		delete(c.handleFeeds, hid)
		delete(c.subscribers, publisherID)
	}
}

// Trickle forwards one local candidate for the publisher handle.
func (c *Client) Trickle(candidate Candidate) error {
	_, sid, hid, err := c.handleFor("trickle")
	if err != nil {
		return err
	}
	return c.send(&Message{Janus: verbTrickle, SessionID: sid, HandleID: hid, Candidate: &candidate})
}

// TrickleFeed forwards one local candidate for a subscription.
func (c *Client) TrickleFeed(publisherID int64, candidate Candidate) error {
	c.mu.Lock()
	hid, ok := c.subscribers[publisherID]
	sid := c.sessionID
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("trickle feed %d: no subscription: %w", publisherID, callsdk.ErrNotAttached)
	}
	return c.send(&Message{Janus: verbTrickle, SessionID: sid, HandleID: hid, Candidate: &candidate})
}

// LeaveRoom leaves the current room and drops subscriptions. The session
// stays up. Without a session it does nothing.
func (c *Client) LeaveRoom(ctx context.Context) error {
	c.mu.Lock()
	if !c.attachedLocked() {
		c.mu.Unlock()
		return nil
	}
	gen, sid, hid, room := c.gen, c.sessionID, c.handleID, c.roomID
	subs := make(map[int64]int64, len(c.subscribers))
	for feed, h := range c.subscribers {
		subs[feed] = h
	}
	c.subscribers = make(map[int64]int64)
	c.handleFeeds = make(map[int64]int64)
	c.roomID = ""
	c.feedID = 0
	c.privateID = 0
	c.mu.Unlock()

	for _, h := range subs {
		_ = c.send(&Message{Janus: verbDetach, SessionID: sid, HandleID: h})
	}

	_, err := c.transact(ctx, gen, &Message{
		Janus:     verbMessage,
		SessionID: sid,
		HandleID:  hid,
		Body:      simpleBody{Request: "leave"},
	}, true, "leave")
	if err != nil {
		return fmt.Errorf("leave room %s: %w", room, err)
	}
	c.log.WithField("room", room).Info("left room")
	return nil
}

// Disconnect destroys the session and closes the transport. Pending
// requests fail with ErrSessionClosed, and a Connect still dialing returns
// ErrSessionClosed without adopting its transport. Calling it again is a
// no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.connecting {
		c.gen++
		c.cancelDial()
	}
	tr, sid, gen := c.tr, c.sessionID, c.gen
	c.mu.Unlock()
	if tr == nil {
		return nil
	}

	if sid != 0 {
		_ = c.send(&Message{Janus: verbDestroy, SessionID: sid})
	}
	c.shutdown(gen, nil)
	return nil
}

// shutdown resets the session of generation gen. A nil cause means a local
// disconnect. It is a no-op if gen is no longer current.
func (c *Client) shutdown(gen uint64, cause error) {
	c.mu.Lock()
	if c.gen != gen || c.tr == nil {
		c.mu.Unlock()
		return
	}
	tr := c.tr
	c.tr = nil
	c.gen++
	c.sessionID = 0
	c.handleID = 0
	c.roomID = ""
	c.feedID = 0
	c.privateID = 0
	c.subscribers = make(map[int64]int64)
	c.handleFeeds = make(map[int64]int64)
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.mu.Unlock()

	failErr := cause
	if failErr == nil {
		failErr = callsdk.ErrSessionClosed
	}
	if n := c.txs.failAll(failErr); n > 0 {
		c.log.WithField("pending", n).Debug("failed pending transactions")
	}
	c.metrics.SetPending(0)
	_ = tr.Close()

	if cause != nil {
		c.log.WithError(cause).Warn("gateway session lost")
	} else {
		c.log.Info("gateway session closed")
	}
	c.emit(TransportClosed{Err: cause})
}

// transact sends msg and waits for its response. wantEvent requests wait
// past the ack for the asynchronous plugin event.
func (c *Client) transact(ctx context.Context, gen uint64, msg *Message, wantEvent bool, request string) (*Message, error) {
	if _, ok := ctx.Deadline(); !ok && c.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	c.mu.Lock()
	if c.gen != gen || c.tr == nil {
		c.mu.Unlock()
		return nil, callsdk.ErrSessionClosed
	}
	tr := c.tr
	msg.Transaction = uuid.NewString()
	if err := c.authorizeLocked(msg); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	p := newPending(msg.Transaction, request, wantEvent)
	n := c.txs.add(p)
	c.mu.Unlock()
	c.metrics.SetPending(n)

	frame, err := json.Marshal(msg)
	if err != nil {
		c.txs.remove(p.id)
		return nil, err
	}
	c.log.WithFields(logrus.Fields{"transaction": p.id, "request": request}).Debug("sending request")
	if err := tr.Send(frame); err != nil {
		c.txs.remove(p.id)
		c.shutdown(gen, err)
		return nil, err
	}

	select {
	case res := <-p.result:
		c.metrics.ObserveRequest(request, time.Since(p.started), res.err)
		c.metrics.SetPending(c.txs.len())
		if res.err != nil {
			return nil, res.err
		}
		c.mu.Lock()
		stale := c.gen != gen
		c.mu.Unlock()
		if stale {
			return nil, callsdk.ErrSessionClosed
		}
		return res.msg, nil
	case <-ctx.Done():
		c.txs.remove(p.id)
		c.metrics.SetPending(c.txs.len())
		return nil, ctx.Err()
	}
}

// send writes a request that expects no correlated response.
func (c *Client) send(msg *Message) error {
	c.mu.Lock()
	tr := c.tr
	if tr == nil {
		c.mu.Unlock()
		return callsdk.ErrSessionClosed
	}
	msg.Transaction = uuid.NewString()
	if err := c.authorizeLocked(msg); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	frame, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return tr.Send(frame)
}

func (c *Client) authorizeLocked(msg *Message) error {
	if c.secret != "" {
		msg.APISecret = c.secret
	}
	if c.config.Tokens != nil {
		token, err := c.config.Tokens.Token()
		if err != nil {
			return fmt.Errorf("gateway token: %w", err)
		}
		msg.Token = token
	}
	return nil
}

func (c *Client) keepalive(gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(c.config.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			sid := c.sessionID
			current := c.gen == gen
			c.mu.Unlock()
			if !current {
				return
			}
			if err := c.send(&Message{Janus: verbKeepalive, SessionID: sid}); err != nil {
				if errors.Is(err, callsdk.ErrSessionClosed) {
					return
				}
				c.shutdown(gen, err)
				return
			}
		case <-stop:
			return
		}
	}
}

func (c *Client) readLoop(tr Transport, gen uint64, stop <-chan struct{}) {
	for {
		select {
		case frame, ok := <-tr.Frames():
			if !ok {
				err := tr.Err()
				if err == nil {
					err = &callsdk.TransportError{Op: "read", Err: errors.New("connection closed by gateway")}
				}
				c.shutdown(gen, err)
				return
			}
			c.handleFrame(gen, frame)
		case <-stop:
			return
		}
	}
}

func (c *Client) handleFrame(gen uint64, frame []byte) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		c.log.WithError(err).Warn("dropping malformed frame")
		return
	}

	c.mu.Lock()
	current := c.gen == gen
	sid := c.sessionID
	c.mu.Unlock()
	if !current {
		return
	}

	if msg.Transaction != "" {
		switch msg.Janus {
		case verbAck:
			if p := c.txs.takeAck(msg.Transaction); p != nil {
				p.resolve(&msg, nil)
			}
			return
		case verbSuccess, verbError, verbEvent:
			if p := c.txs.remove(msg.Transaction); p != nil {
				p.resolve(&msg, responseError(&msg, p.request))
				return
			}
		}
	}

	if msg.SessionID != 0 && sid != 0 && msg.SessionID != sid {
		c.log.WithField("session_id", msg.SessionID).Debug("dropping frame for stale session")
		return
	}

	switch msg.Janus {
	case verbEvent:
		c.handleAsyncEvent(&msg)
	case verbTrickle:
		if msg.Candidate != nil {
			c.emit(IceCandidate{Feed: c.feedFor(msg.Sender), Candidate: *msg.Candidate})
		}
	case verbWebRTCUp, verbMedia, verbSlowLink, verbHangup:
		ev := MediaState{Feed: c.feedFor(msg.Sender), Kind: msg.Janus, Type: msg.Type, Reason: msg.Reason}
		if msg.Receiving != nil {
			ev.Receiving = *msg.Receiving
		}
		c.emit(ev)
	case verbError:
		c.emit(ProtocolError{Err: responseError(&msg, "")})
	case verbTimeout:
		c.shutdown(gen, &callsdk.TransportError{Op: "keepalive", Err: errors.New("gateway session timed out")})
	case verbDetached:
		c.log.WithField("handle_id", msg.Sender).Debug("handle detached")
	}
}

// handleAsyncEvent handles plugin events that no pending request claimed.
func (c *Client) handleAsyncEvent(msg *Message) {
	feed := c.feedFor(msg.Sender)

	d, err := decodeVideoRoom(msg.PluginData)
	if err != nil {
		c.log.WithError(err).Warn("dropping event with bad plugin data")
		return
	}
	if d != nil {
		if d.ErrorCode != 0 {
			c.emit(ProtocolError{Err: &callsdk.ProtocolError{Code: d.ErrorCode, Reason: d.Error}})
		}

		c.mu.Lock()
		own := c.feedID
		c.mu.Unlock()
		for _, p := range d.Publishers {
			if p.ID != own {
				c.emit(PublisherJoined{Publisher: p})
			}
		}
		if id, ok := feedID(d.Leaving); ok {
			c.emit(PublisherLeft{PublisherID: id})
		}
		if id, ok := feedID(d.Unpublished); ok {
			c.emit(PublisherLeft{PublisherID: id})
		}
	}

	if msg.JSEP != nil {
		c.emit(RemoteSdp{Feed: feed, Type: msg.JSEP.Type, SDP: msg.JSEP.SDP})
	}
}

// feedFor maps a sender handle to its subscribed feed; 0 is our publisher handle.
func (c *Client) feedFor(handle int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handleFeeds[handle]
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.WithField("event", fmt.Sprintf("%T", ev)).Warn("event buffer full, dropping event")
	}
}

// responseError converts error frames and plugin errors to *callsdk.ProtocolError.
func responseError(msg *Message, request string) error {
	switch msg.Janus {
	case verbError:
		pe := &callsdk.ProtocolError{Transaction: msg.Transaction, Request: request}
		if msg.Error != nil {
			pe.Code = msg.Error.Code
			pe.Reason = msg.Error.Reason
		}
		return pe
	case verbEvent:
		d, err := decodeVideoRoom(msg.PluginData)
		if err != nil {
			return &callsdk.ProtocolError{Reason: err.Error(), Transaction: msg.Transaction, Request: request}
		}
		if d != nil && d.ErrorCode != 0 {
			return &callsdk.ProtocolError{Code: d.ErrorCode, Reason: d.Error, Transaction: msg.Transaction, Request: request}
		}
	}
	return nil
}
