/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package lifecycle decides which call a device considers current and drives
// it from announcement or dial to the end. Every transition happens on the
// goroutine running Controller.Run; network work runs elsewhere and reports
// back as completions tagged with the call it belongs to.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tejzpr/gateway-calling-go/callrecord"
	"github.com/tejzpr/gateway-calling-go/callsdk"
	"github.com/tejzpr/gateway-calling-go/janus"
	"github.com/tejzpr/gateway-calling-go/media"
	"github.com/tejzpr/gateway-calling-go/metrics"
	"github.com/tejzpr/gateway-calling-go/profile"
	"github.com/tejzpr/gateway-calling-go/rooms"
)

// State is the device-local call state.
type State string

const (
	StateIdle       State = "idle"
	StateRingingIn  State = "ringing_in"
	StateRingingOut State = "ringing_out"
	StateConnected  State = "connected"
	StateEnded      State = "ended"
	StateRejected   State = "rejected"
	StateMissed     State = "missed"
)

// Terminal reports whether the state ends a call. Terminal states pass
// back to idle immediately.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateRejected || s == StateMissed
}

// Role is the part this device plays in the current call.
type Role string

const (
	RoleCaller   Role = "caller"
	RoleReceiver Role = "receiver"
)

// Reasons passed to Surface.OnEnded and the call_ended event.
const (
	ReasonHangup            = "hangup"
	ReasonCancelled         = "cancelled"
	ReasonRejected          = "rejected"
	ReasonMissed            = "missed"
	ReasonRemoteEnded       = "remote ended"
	ReasonConnectionLost    = "connection lost"
	ReasonNegotiationFailed = "media negotiation failed"
	ReasonSetupFailed       = "call setup failed"
	ReasonShutdown          = "shutdown"
)

var (
	// ErrBusy is returned for an announcement that arrives while another
	// call is current.
	ErrBusy = errors.New("another call is active")
	// ErrStopped is returned by commands issued after Run has returned.
	ErrStopped = errors.New("call controller stopped")
)

// Snapshot is the device-local view of the current call.
type Snapshot struct {
	State             State
	ActiveCallID      string
	LastHandledCallID string
	Role              Role
	IsVideo           bool
	PeerLabel         string
	ConnectedAt       time.Time
}

// Signaling is the gateway client the controller drives. *janus.Client
// implements it.
type Signaling interface {
	Connect(ctx context.Context, gatewayURL, authSecret string) error
	JoinRoom(ctx context.Context, roomID, displayName string) (*janus.JoinResult, error)
	Publish(ctx context.Context, localSdp string) (string, error)
	Subscribe(ctx context.Context, publisherID int64) (string, error)
	Start(ctx context.Context, publisherID int64, answerSdp string) error
	Unsubscribe(publisherID int64) error
	Trickle(candidate janus.Candidate) error
	TrickleFeed(publisherID int64, candidate janus.Candidate) error
	LeaveRoom(ctx context.Context) error
	Disconnect() error
	Events() <-chan janus.Event
}

// Profiles resolves a user id to a display name. *profile.Client
// implements it.
type Profiles interface {
	DisplayName(ctx context.Context, userID string) string
}

// Provisioner creates and destroys the room of a call. *rooms.Client
// implements it.
type Provisioner interface {
	Create(ctx context.Context, callID string) (*rooms.Room, error)
	Destroy(ctx context.Context, callID string, sessionID, handleID int64) error
}

// History records finished calls. *callrecord.HistoryClient implements it.
type History interface {
	Post(ctx context.Context, entry callrecord.HistoryEntry) (string, error)
}

// Deps are the collaborators of a Controller. Signaling, Media and Records
// are required; the rest may be nil.
type Deps struct {
	Signaling Signaling
	Media     media.Factory
	Records   callrecord.Channel
	Profiles  Profiles
	Rooms     Provisioner
	History   History
	Surface   Surface
	Ringer    Ringer
	WakeLock  WakeLock
	Notifier  DurationNotifier
}

// Config holds the configuration for the call controller
type Config struct {
	// UserID is this device's user. Incoming calls addressed to it are
	// watched when set; placing calls requires it.
	UserID string
	// DisplayName is shown to other room members. Defaults to UserID.
	DisplayName string

	GatewayURL    string
	GatewaySecret string

	// StaleThreshold drops announcements older than this.
	StaleThreshold time.Duration
	// RingTimeout ends an unanswered call as missed.
	RingTimeout time.Duration
	// MediaGrace is how long a connected call may stay without media
	// before it ends.
	MediaGrace time.Duration
	// LookupTimeout bounds the caller name lookup before ringing.
	LookupTimeout time.Duration
	// TeardownTimeout bounds leaving the room and the final status write.
	TeardownTimeout time.Duration
	// DurationTick is the interval of DurationNotifier updates.
	DurationTick time.Duration

	Logger  logrus.FieldLogger
	Metrics *metrics.Collectors
}

// DefaultConfig returns the default configuration for the call controller
func DefaultConfig() *Config {
	return &Config{
		StaleThreshold:  60 * time.Second,
		RingTimeout:     60 * time.Second,
		MediaGrace:      10 * time.Second,
		LookupTimeout:   3 * time.Second,
		TeardownTimeout: 5 * time.Second,
		DurationTick:    time.Second,
	}
}

func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	cfg := *c
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = d.StaleThreshold
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = d.RingTimeout
	}
	if cfg.MediaGrace <= 0 {
		cfg.MediaGrace = d.MediaGrace
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = d.LookupTimeout
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = d.TeardownTimeout
	}
	if cfg.DurationTick <= 0 {
		cfg.DurationTick = d.DurationTick
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = cfg.UserID
	}
	return &cfg
}

// tag names the call a completion belongs to.
type tag struct {
	callID string
	gen    uint64
}

type completion struct {
	tag tag
	fn  func(*call)
}

// call is the controller's state for the current call. Only the Run
// goroutine touches it.
type call struct {
	tag    tag
	record callrecord.Record
	role   Role
	ctx    context.Context
	cancel context.CancelFunc
	res    *inCall
	label  string

	created   bool // the record exists in the channel
	signaling bool // a gateway session was requested
	accepted  bool // the receiver pressed accept
	published bool // the gateway confirmed our publish
	answered  bool // the remote party wrote ACCEPTED
	unhealthy bool // media is disconnected or failed

	adapter     media.Adapter
	negotiating chan struct{} // closed when the negotiation goroutine exits
	room        *rooms.Room
	feeds       map[int64]struct{}
	connectedAt time.Time
	ringTimer   *time.Timer
	graceTimer  *time.Timer
}

// Controller is the CallLifecycleController of one device.
type Controller struct {
	config  *Config
	deps    Deps
	log     *logrus.Entry
	metrics *metrics.Collectors
	now     func() time.Time

	// Emitter publishes state_changed, announcement_dropped and call_ended.
	Emitter *EventEmitter

	cmds        chan func()
	completions chan completion
	done        chan struct{}
	running     atomic.Bool

	snapMu sync.RWMutex
	snap   Snapshot

	// owned by the Run goroutine
	state       State
	active      *call
	lastHandled string
	gen         uint64
	teardown    <-chan struct{}
}

// New creates a controller. Nothing happens until Run is called.
func New(config *Config, deps Deps) (*Controller, error) {
	if config == nil {
		config = DefaultConfig()
	}
	switch {
	case deps.Signaling == nil:
		return nil, fmt.Errorf("signaling client is required")
	case deps.Media == nil:
		return nil, fmt.Errorf("media factory is required")
	case deps.Records == nil:
		return nil, fmt.Errorf("call record channel is required")
	}
	if deps.Surface == nil {
		deps.Surface = nopSurface{}
	}
	if deps.Ringer == nil {
		deps.Ringer = nopRinger{}
	}
	if deps.WakeLock == nil {
		deps.WakeLock = nopWakeLock{}
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}

	cfg := config.withDefaults()
	c := &Controller{
		config:      cfg,
		deps:        deps,
		log:         callsdk.Component(cfg.Logger, "lifecycle"),
		metrics:     cfg.Metrics,
		now:         time.Now,
		Emitter:     NewEventEmitter(),
		cmds:        make(chan func()),
		completions: make(chan completion, 64),
		done:        make(chan struct{}),
		state:       StateIdle,
	}
	c.snap = Snapshot{State: StateIdle}
	return c, nil
}

// Run processes commands, signaling events and record updates until ctx is
// done. A call still current at that point is ended and torn down before Run
// returns. Run may be called once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("call controller already running")
	}
	defer close(c.done)

	var incoming <-chan callrecord.Record
	if c.config.UserID != "" {
		ch, err := c.deps.Records.WatchIncoming(ctx, c.config.UserID)
		if err != nil {
			return fmt.Errorf("watch incoming calls: %w", err)
		}
		incoming = ch
	}
	events := c.deps.Signaling.Events()

	c.log.WithField("user_id", c.config.UserID).Info("call controller started")
	for {
		select {
		case <-ctx.Done():
			if c.active != nil {
				c.finish(c.active, StateEnded, ReasonShutdown, callrecord.StatusEnded)
			}
			// teardown is bounded by TeardownTimeout
			if c.teardown != nil {
				<-c.teardown
			}
			c.log.Info("call controller stopped")
			return nil
		case fn := <-c.cmds:
			fn()
		case cp := <-c.completions:
			c.complete(cp)
		case r, ok := <-incoming:
			if !ok {
				c.log.Warn("incoming call watch closed")
				incoming = nil
				continue
			}
			_ = c.announce(r)
		case ev := <-events:
			c.handleSignal(ev)
		}
	}
}

// do runs fn on the Run goroutine and returns its result.
func (c *Controller) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case c.cmds <- func() { reply <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
	return <-reply
}

func (c *Controller) post(t tag, fn func(*call)) {
	select {
	case c.completions <- completion{tag: t, fn: fn}:
	case <-c.done:
	}
}

func (c *Controller) after(t tag, d time.Duration, fn func(*call)) *time.Timer {
	return time.AfterFunc(d, func() { c.post(t, fn) })
}

func (c *Controller) complete(cp completion) {
	cl := c.active
	if cl == nil || cl.tag != cp.tag {
		c.log.WithField("call_id", cp.tag.callID).Debug("dropping completion for a finished call")
		return
	}
	cp.fn(cl)
}

func (c *Controller) invalid(op string) error {
	return fmt.Errorf("%s in state %s: %w", op, c.state, callsdk.ErrInvalidState)
}

// --- Snapshot and state ---

// Snapshot returns the current LocalCallState.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

func (c *Controller) publishSnapshot() {
	s := Snapshot{State: c.state, LastHandledCallID: c.lastHandled}
	if cl := c.active; cl != nil {
		s.ActiveCallID = cl.record.CallID
		s.Role = cl.role
		s.IsVideo = cl.record.IsVideo()
		s.PeerLabel = cl.label
		s.ConnectedAt = cl.connectedAt
	}
	c.snapMu.Lock()
	c.snap = s
	c.snapMu.Unlock()
}

func (c *Controller) setState(to State, callID, reason string) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.metrics.Transition(string(from), string(to))
	c.log.WithFields(logrus.Fields{
		"call_id": callID,
		"from":    from,
		"state":   to,
		"reason":  reason,
	}).Info("call state changed")
	c.publishSnapshot()
	c.Emitter.Emit(EventStateChanged, StateChange{From: from, To: to, CallID: callID, Reason: reason})
}

func (c *Controller) begin(r callrecord.Record, role Role) *call {
	c.gen++
	ctx, cancel := context.WithCancel(context.Background())
	cl := &call{
		tag:    tag{callID: r.CallID, gen: c.gen},
		record: r,
		role:   role,
		ctx:    ctx,
		cancel: cancel,
		res:    newInCall(c.deps.Ringer, c.deps.WakeLock, c.deps.Notifier),
		feeds:  make(map[int64]struct{}),
	}
	c.active = cl
	c.metrics.CallStarted()
	return cl
}

// --- Commands ---

// PlaceCall starts an outgoing call to receiverID and returns its call id.
// The record is written and the media negotiated in the background.
func (c *Controller) PlaceCall(ctx context.Context, receiverID, conversationID string, callType callrecord.CallType) (string, error) {
	if receiverID == "" {
		return "", fmt.Errorf("receiverID is required")
	}
	if callType != callrecord.TypeVoice && callType != callrecord.TypeVideo {
		return "", fmt.Errorf("unknown call type %q", callType)
	}

	var callID string
	err := c.do(ctx, func() error {
		if c.config.UserID == "" {
			return fmt.Errorf("placing a call requires a user id")
		}
		if c.active != nil {
			return c.invalid("place call")
		}
		r := callrecord.Record{
			CallID:         uuid.NewString(),
			CallerID:       c.config.UserID,
			ReceiverID:     receiverID,
			ConversationID: conversationID,
			Type:           callType,
			Status:         callrecord.StatusRinging,
			StartTime:      c.now().UnixMilli(),
		}
		cl := c.begin(r, RoleCaller)
		callID = r.CallID
		c.setState(StateRingingOut, callID, "")
		cl.ringTimer = c.after(cl.tag, c.config.RingTimeout, c.ringTimeout)
		c.lookupPeer(cl, receiverID)
		go c.createRecord(cl.ctx, cl.tag, r)
		return nil
	})
	return callID, err
}

// OnIncomingAnnouncement offers an incoming call to the controller. Calls
// addressed to Config.UserID arrive here on their own; this entry point is
// for announcements from elsewhere, such as a push message. A dropped
// announcement returns a *callsdk.DuplicateAnnouncement,
// *callsdk.StaleAnnouncement or ErrBusy for logging; none of them is meant
// for the user.
func (c *Controller) OnIncomingAnnouncement(ctx context.Context, r callrecord.Record) error {
	return c.do(ctx, func() error { return c.announce(r) })
}

// Accept answers the ringing incoming call.
func (c *Controller) Accept(ctx context.Context) error {
	return c.do(ctx, func() error {
		cl := c.active
		if cl == nil || c.state != StateRingingIn || cl.accepted {
			return c.invalid("accept")
		}
		cl.accepted = true
		stopTimer(cl.ringTimer)
		cl.res.silence()
		c.publishSnapshot()
		c.log.WithField("call_id", cl.record.CallID).Info("accepting call")
		c.startMedia(cl, false)
		return nil
	})
}

// Reject declines the ringing incoming call.
func (c *Controller) Reject(ctx context.Context) error {
	return c.do(ctx, func() error {
		cl := c.active
		if cl == nil || c.state != StateRingingIn || cl.accepted {
			return c.invalid("reject")
		}
		c.finish(cl, StateRejected, ReasonRejected, callrecord.StatusRejected)
		return nil
	})
}

// Cancel withdraws the outgoing call before it connects.
func (c *Controller) Cancel(ctx context.Context) error {
	return c.do(ctx, func() error {
		cl := c.active
		if cl == nil || c.state != StateRingingOut {
			return c.invalid("cancel")
		}
		c.finish(cl, StateEnded, ReasonCancelled, callrecord.StatusMissed)
		return nil
	})
}

// Hangup ends a connected call, or one still negotiating after Accept.
func (c *Controller) Hangup(ctx context.Context) error {
	return c.do(ctx, func() error {
		cl := c.active
		if cl == nil || !(c.state == StateConnected || (c.state == StateRingingIn && cl.accepted)) {
			return c.invalid("hang up")
		}
		c.finish(cl, StateEnded, ReasonHangup, callrecord.StatusEnded)
		return nil
	})
}

// EndCall ends the current call by whichever of Reject, Cancel or Hangup its
// state allows.
func (c *Controller) EndCall(ctx context.Context) error {
	return c.do(ctx, func() error {
		cl := c.active
		switch {
		case cl == nil:
			return c.invalid("end call")
		case c.state == StateRingingIn && !cl.accepted:
			c.finish(cl, StateRejected, ReasonRejected, callrecord.StatusRejected)
		case c.state == StateRingingOut:
			c.finish(cl, StateEnded, ReasonCancelled, callrecord.StatusMissed)
		default:
			c.finish(cl, StateEnded, ReasonHangup, callrecord.StatusEnded)
		}
		return nil
	})
}

// ResetSession forgets the last handled call id, so the same call may be
// announced again. Call it at a new-session boundary such as the app
// returning to the foreground.
func (c *Controller) ResetSession(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.lastHandled = ""
		c.publishSnapshot()
		return nil
	})
}

// --- Announcements ---

func (c *Controller) announce(r callrecord.Record) error {
	if r.Status != callrecord.StatusRinging {
		return c.drop(r, "not_ringing", fmt.Errorf("call %s is %s", r.CallID, r.Status))
	}
	if c.config.UserID != "" && r.ReceiverID != c.config.UserID {
		return c.drop(r, "not_addressed", fmt.Errorf("call %s is for %s", r.CallID, r.ReceiverID))
	}
	if r.CallID == c.lastHandled {
		return c.drop(r, "duplicate", &callsdk.DuplicateAnnouncement{CallID: r.CallID})
	}
	// no clock skew correction between the caller and this device
	if r.StartTime > 0 {
		if age := r.Age(c.now()); age > c.config.StaleThreshold {
			return c.drop(r, "stale", &callsdk.StaleAnnouncement{CallID: r.CallID, Age: age})
		}
	}
	if c.active != nil {
		return c.drop(r, "busy", fmt.Errorf("call %s: %w", c.active.record.CallID, ErrBusy))
	}

	cl := c.begin(r, RoleReceiver)
	cl.created = true
	c.lastHandled = r.CallID
	c.setState(StateRingingIn, r.CallID, "")
	cl.ringTimer = c.after(cl.tag, c.config.RingTimeout, c.ringTimeout)
	c.watchCall(cl)
	c.lookupPeer(cl, r.CallerID)
	return nil
}

func (c *Controller) drop(r callrecord.Record, reason string, err error) error {
	c.log.WithFields(logrus.Fields{"call_id": r.CallID, "reason": reason}).WithError(err).Info("dropping call announcement")
	c.metrics.AnnouncementDropped(reason)
	c.Emitter.Emit(EventAnnouncementDropped, AnnouncementDropped{CallID: r.CallID, Reason: reason, Err: err})
	return err
}

func (c *Controller) lookupPeer(cl *call, userID string) {
	t, ctx := cl.tag, cl.ctx
	go func() {
		label := profile.UnknownName
		if c.deps.Profiles != nil {
			lctx, cancel := context.WithTimeout(ctx, c.config.LookupTimeout)
			label = c.deps.Profiles.DisplayName(lctx, userID)
			cancel()
		}
		if label == "" {
			label = profile.UnknownName
		}
		c.post(t, func(cl *call) { c.peerResolved(cl, label) })
	}()
}

func (c *Controller) peerResolved(cl *call, label string) {
	cl.label = label
	c.publishSnapshot()
	if cl.role != RoleReceiver || c.state != StateRingingIn || cl.accepted {
		return
	}
	cl.res.ring(label, cl.record.IsVideo())
	c.deps.Surface.OnRing(label, cl.record.IsVideo())
}

// --- Call record ---

func (c *Controller) createRecord(ctx context.Context, t tag, r callrecord.Record) {
	if err := c.deps.Records.Create(ctx, &r); err != nil {
		c.post(t, func(cl *call) {
			c.log.WithField("call_id", r.CallID).WithError(err).Warn("creating call record failed")
			c.finish(cl, StateEnded, ReasonSetupFailed, "")
		})
		return
	}
	c.post(t, func(cl *call) {
		cl.created = true
		c.watchCall(cl)
		c.startMedia(cl, true)
	})
}

func (c *Controller) watchCall(cl *call) {
	t, ctx := cl.tag, cl.ctx
	go func() {
		ch, err := c.deps.Records.WatchCall(ctx, t.callID)
		if err != nil {
			if ctx.Err() == nil {
				c.log.WithField("call_id", t.callID).WithError(err).Warn("watching call record failed")
			}
			return
		}
		for r := range ch {
			r := r
			c.post(t, func(cl *call) { c.onRecord(cl, r) })
		}
	}()
}

func (c *Controller) onRecord(cl *call, r callrecord.Record) {
	if r.Status != cl.record.Status && !callrecord.CanTransition(cl.record.Status, r.Status) {
		return
	}
	cl.record = r

	switch {
	case r.Status.Terminal():
		err := &callsdk.RemoteTermination{CallID: r.CallID, Status: string(r.Status)}
		c.log.WithField("call_id", r.CallID).WithError(err).Info("call ended by the other party")
		c.finish(cl, StateEnded, remoteReason(r.Status), "")
	case r.Status == callrecord.StatusAccepted && cl.role == RoleCaller && !cl.answered:
		cl.answered = true
		stopTimer(cl.ringTimer)
		c.maybeConnect(cl)
	}
}

func remoteReason(s callrecord.Status) string {
	switch s {
	case callrecord.StatusRejected:
		return ReasonRejected
	case callrecord.StatusMissed:
		return ReasonMissed
	}
	return ReasonRemoteEnded
}

// writeTerminal writes want, or whichever terminal status the record still
// admits if the other party moved it first.
func (c *Controller) writeTerminal(ctx context.Context, callID string, want callrecord.Status) (*callrecord.Record, error) {
	r, err := c.deps.Records.UpdateStatus(ctx, callID, want, c.now())
	if !errors.Is(err, callrecord.ErrInvalidTransition) {
		return r, err
	}
	cur, gerr := c.deps.Records.Get(ctx, callID)
	if gerr != nil {
		return nil, err
	}
	switch cur.Status {
	case callrecord.StatusAccepted:
		return c.deps.Records.UpdateStatus(ctx, callID, callrecord.StatusEnded, c.now())
	case callrecord.StatusRinging:
		return c.deps.Records.UpdateStatus(ctx, callID, callrecord.StatusMissed, c.now())
	}
	return cur, nil
}

// --- Timers and media health ---

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func (c *Controller) ringTimeout(cl *call) {
	if c.state != StateRingingIn && c.state != StateRingingOut {
		return
	}
	c.finish(cl, StateMissed, ReasonMissed, callrecord.StatusMissed)
}

func (c *Controller) onMediaHealth(cl *call, healthy bool) {
	cl.unhealthy = !healthy
	if healthy {
		stopTimer(cl.graceTimer)
		cl.graceTimer = nil
		return
	}
	c.armGrace(cl)
}

func (c *Controller) armGrace(cl *call) {
	if c.state != StateConnected || cl.graceTimer != nil {
		return
	}
	c.log.WithField("call_id", cl.record.CallID).Warn("media connection lost, waiting for recovery")
	cl.graceTimer = c.after(cl.tag, c.config.MediaGrace, func(cl *call) {
		c.fail(cl, ReasonConnectionLost, fmt.Errorf("no media for %s", c.config.MediaGrace))
	})
}

func (c *Controller) maybeConnect(cl *call) {
	if !cl.published || c.state == StateConnected {
		return
	}
	if cl.role == RoleCaller && !cl.answered {
		return
	}
	stopTimer(cl.ringTimer)
	cl.res.silence()
	cl.res.acquire()
	cl.connectedAt = c.now()
	c.setState(StateConnected, cl.record.CallID, "")
	c.deps.Surface.OnConnected()
	cl.res.tick(cl.label, 0)
	go c.durationTicker(cl.ctx, cl.tag)
	if cl.unhealthy {
		c.armGrace(cl)
	}
}

func (c *Controller) durationTicker(ctx context.Context, t tag) {
	ticker := time.NewTicker(c.config.DurationTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.post(t, func(cl *call) {
				cl.res.tick(cl.label, c.now().Sub(cl.connectedAt))
			})
		}
	}
}

// --- Termination ---

func (c *Controller) fail(cl *call, reason string, err error) {
	c.log.WithField("call_id", cl.record.CallID).WithError(err).Warn("call failed")
	c.finish(cl, StateEnded, reason, callrecord.StatusEnded)
}

type teardownJob struct {
	callID    string
	role      Role
	record    callrecord.Record
	created   bool
	signaling bool
	adapter   media.Adapter
	negotiate <-chan struct{}
	room      *rooms.Room
	write     callrecord.Status
	done      chan struct{}
}

// finish ends cl: it releases device resources at once, tears the gateway
// session down in the background, writes the terminal status (empty write
// means none) and passes through the terminal state back to idle.
func (c *Controller) finish(cl *call, to State, reason string, write callrecord.Status) {
	stopTimer(cl.ringTimer)
	stopTimer(cl.graceTimer)
	cl.cancel()
	cl.res.release()
	c.active = nil

	if write == callrecord.StatusEnded && cl.record.Status == callrecord.StatusRinging {
		write = callrecord.StatusMissed
	}
	job := teardownJob{
		callID:    cl.record.CallID,
		role:      cl.role,
		record:    cl.record,
		created:   cl.created,
		signaling: cl.signaling,
		adapter:   cl.adapter,
		negotiate: cl.negotiating,
		room:      cl.room,
		write:     write,
		done:      make(chan struct{}),
	}
	if !cl.created {
		job.write = ""
	}
	c.teardown = job.done
	go c.release(job)

	c.metrics.CallEnded(reason)
	c.setState(to, cl.record.CallID, reason)
	c.Emitter.Emit(EventCallEnded, CallEnded{
		CallID: cl.record.CallID,
		Role:   cl.role,
		State:  to,
		Reason: reason,
		Record: cl.record,
	})
	c.deps.Surface.OnEnded(reason)
	c.setState(StateIdle, cl.record.CallID, reason)
}

func (c *Controller) release(job teardownJob) {
	defer close(job.done)
	ctx, cancel := context.WithTimeout(context.Background(), c.config.TeardownTimeout)
	defer cancel()
	log := c.log.WithField("call_id", job.callID)

	if job.negotiate != nil {
		select {
		case <-job.negotiate:
		case <-ctx.Done():
			log.Warn("negotiation did not stop before teardown")
		}
	}
	if job.signaling {
		if err := c.deps.Signaling.LeaveRoom(ctx); err != nil {
			log.WithError(err).Debug("leaving room failed")
		}
		_ = c.deps.Signaling.Disconnect()
	}
	if job.adapter != nil {
		if err := job.adapter.Close(); err != nil {
			log.WithError(err).Debug("closing media failed")
		}
	}
	if job.room != nil && job.room.SessionID != 0 && c.deps.Rooms != nil {
		if err := c.deps.Rooms.Destroy(ctx, job.callID, job.room.SessionID, job.room.HandleID); err != nil {
			log.WithError(err).Warn("destroying room failed")
		}
	}
	if !job.created {
		return
	}

	rec := job.record
	if job.write != "" {
		r, err := c.writeTerminal(ctx, job.callID, job.write)
		if err != nil {
			log.WithError(err).Warn("writing final call status failed")
		} else {
			rec = *r
		}
	} else if r, err := c.deps.Records.Get(ctx, job.callID); err == nil {
		rec = *r
	}

	// the backend attributes history entries to the authenticated caller
	if job.role == RoleCaller && c.deps.History != nil {
		if _, err := c.deps.History.Post(ctx, callrecord.EntryFor(&rec)); err != nil {
			log.WithError(err).Warn("posting call history failed")
		}
	}
}
