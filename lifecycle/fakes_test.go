/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tejzpr/gateway-calling-go/callrecord"
	"github.com/tejzpr/gateway-calling-go/callsdk"
	"github.com/tejzpr/gateway-calling-go/janus"
	"github.com/tejzpr/gateway-calling-go/media"
	"github.com/tejzpr/gateway-calling-go/metrics"
	"github.com/tejzpr/gateway-calling-go/rooms"
)

// fakeSignaling stands in for the gateway client.
type fakeSignaling struct {
	events chan janus.Event

	mu          sync.Mutex
	connected   bool
	connectErr  error
	joinErrs    []error
	publishErrs []error
	connects    int
	joins       int
	publishes   int
	leaves      int
	disconnects int
	trickles    int
	started     []int64
	unsubscribe []int64
}

func newFakeSignaling() *fakeSignaling {
	return &fakeSignaling{events: make(chan janus.Event, 32)}
}

func (s *fakeSignaling) Connect(ctx context.Context, url, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if s.connectErr != nil {
		return s.connectErr
	}
	if s.connected {
		return callsdk.ErrAlreadyConnected
	}
	s.connected = true
	return nil
}

func (s *fakeSignaling) JoinRoom(ctx context.Context, room, display string) (*janus.JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joins++
	if len(s.joinErrs) > 0 {
		err := s.joinErrs[0]
		s.joinErrs = s.joinErrs[1:]
		return nil, err
	}
	return &janus.JoinResult{Room: room, FeedID: 11}, nil
}

func (s *fakeSignaling) Publish(ctx context.Context, sdp string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishes++
	if len(s.publishErrs) > 0 {
		err := s.publishErrs[0]
		s.publishErrs = s.publishErrs[1:]
		return "", err
	}
	return "answer-sdp", nil
}

func (s *fakeSignaling) Subscribe(ctx context.Context, publisherID int64) (string, error) {
	return "remote-offer", nil
}

func (s *fakeSignaling) Start(ctx context.Context, publisherID int64, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, publisherID)
	return nil
}

func (s *fakeSignaling) Unsubscribe(publisherID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribe = append(s.unsubscribe, publisherID)
	return nil
}

func (s *fakeSignaling) Trickle(c janus.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trickles++
	return nil
}

func (s *fakeSignaling) TrickleFeed(publisherID int64, c janus.Candidate) error {
	return s.Trickle(c)
}

func (s *fakeSignaling) LeaveRoom(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaves++
	return nil
}

func (s *fakeSignaling) Disconnect() error {
	s.mu.Lock()
	was := s.connected
	s.connected = false
	s.disconnects++
	s.mu.Unlock()
	if was {
		s.events <- janus.TransportClosed{}
	}
	return nil
}

func (s *fakeSignaling) Events() <-chan janus.Event { return s.events }

func (s *fakeSignaling) counts() (joins, publishes, leaves, disconnects int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joins, s.publishes, s.leaves, s.disconnects
}

// fakeAdapter records what the controller asks of the media engine.
type fakeAdapter struct {
	video bool

	mu         sync.Mutex
	answer     string
	offers     map[int64]string
	removed    []int64
	candidates int
	closed     bool
	onState    func(int64, media.ConnectionState)
	onLocal    func(int64, media.Candidate)
}

func (a *fakeAdapter) CreateOffer(ctx context.Context) (string, error) { return "local-offer", nil }

func (a *fakeAdapter) SetRemoteAnswer(sdp string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.answer = sdp
	return nil
}

func (a *fakeAdapter) AcceptRemoteOffer(ctx context.Context, feed int64, sdp string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.offers[feed] = sdp
	return "feed-answer", nil
}

func (a *fakeAdapter) RemoveFeed(feed int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removed = append(a.removed, feed)
	return nil
}

func (a *fakeAdapter) AddRemoteICECandidate(c media.Candidate) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.candidates++
	return nil
}

func (a *fakeAdapter) AddRemoteFeedCandidate(feed int64, c media.Candidate) error {
	return a.AddRemoteICECandidate(c)
}

func (a *fakeAdapter) OnLocalICECandidate(h func(int64, media.Candidate)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onLocal = h
}

func (a *fakeAdapter) OnConnectionStateChange(h func(int64, media.ConnectionState)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onState = h
}

func (a *fakeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *fakeAdapter) setState(s media.ConnectionState) {
	a.mu.Lock()
	h := a.onState
	a.mu.Unlock()
	h(0, s)
}

func (a *fakeAdapter) gather(c media.Candidate) {
	a.mu.Lock()
	h := a.onLocal
	a.mu.Unlock()
	h(0, c)
}

func (a *fakeAdapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

type fakeFactory struct {
	mu       sync.Mutex
	adapters []*fakeAdapter
}

func (f *fakeFactory) NewAdapter(video bool) (media.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := &fakeAdapter{video: video, offers: make(map[int64]string)}
	f.adapters = append(f.adapters, a)
	return a, nil
}

func (f *fakeFactory) last() *fakeAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.adapters) == 0 {
		return nil
	}
	return f.adapters[len(f.adapters)-1]
}

// recorder implements every device resource and surface.
type recorder struct {
	mu        sync.Mutex
	rings     []string
	ringVideo bool
	ringStops int
	connected int
	ended     []string
	acquired  int
	released  int
	updates   int
	cleared   int
}

func (r *recorder) OnRing(label string, isVideo bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rings = append(r.rings, label)
	r.ringVideo = isVideo
}
func (r *recorder) OnConnected() { r.mu.Lock(); r.connected++; r.mu.Unlock() }
func (r *recorder) OnEnded(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, reason)
}
func (r *recorder) Start(string, bool) {}
func (r *recorder) Stop()              { r.mu.Lock(); r.ringStops++; r.mu.Unlock() }
func (r *recorder) Acquire()           { r.mu.Lock(); r.acquired++; r.mu.Unlock() }
func (r *recorder) Release()           { r.mu.Lock(); r.released++; r.mu.Unlock() }
func (r *recorder) Update(label string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
}
func (r *recorder) Clear() { r.mu.Lock(); r.cleared++; r.mu.Unlock() }

type recorded struct {
	rings     []string
	ringVideo bool
	ringStops int
	connected int
	ended     []string
	acquired  int
	released  int
	updates   int
	cleared   int
}

func (r *recorder) counts() recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorded{
		rings:     append([]string(nil), r.rings...),
		ringVideo: r.ringVideo,
		ringStops: r.ringStops,
		connected: r.connected,
		ended:     append([]string(nil), r.ended...),
		acquired:  r.acquired,
		released:  r.released,
		updates:   r.updates,
		cleared:   r.cleared,
	}
}

type profilesFunc func(ctx context.Context, userID string) string

func (f profilesFunc) DisplayName(ctx context.Context, userID string) string { return f(ctx, userID) }

type fakeHistory struct {
	mu      sync.Mutex
	entries []callrecord.HistoryEntry
}

func (h *fakeHistory) Post(ctx context.Context, e callrecord.HistoryEntry) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	return "h-1", nil
}

func (h *fakeHistory) list() []callrecord.HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]callrecord.HistoryEntry(nil), h.entries...)
}

type fakeRooms struct {
	mu        sync.Mutex
	created   []string
	destroyed []string
}

func (r *fakeRooms) Create(ctx context.Context, callID string) (*rooms.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, callID)
	return &rooms.Room{RoomID: callID, SessionID: 1001, HandleID: 2002}, nil
}

func (r *fakeRooms) Destroy(ctx context.Context, callID string, sessionID, handleID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyed = append(r.destroyed, callID)
	return nil
}

// harness runs a controller against fakes and an in-memory record store.
type harness struct {
	ctrl    *Controller
	sig     *fakeSignaling
	media   *fakeFactory
	store   *callrecord.MemoryStore
	rec     *recorder
	history *fakeHistory
	rooms   *fakeRooms
	metrics *metrics.Collectors

	states  chan StateChange
	ended   chan CallEnded
	dropped chan AnnouncementDropped
}

func newHarness(t *testing.T, userID string, opts ...func(*Config, *Deps)) *harness {
	t.Helper()
	h := &harness{
		sig:     newFakeSignaling(),
		media:   &fakeFactory{},
		store:   callrecord.NewMemoryStore(callsdk.NopLogger()),
		rec:     &recorder{},
		history: &fakeHistory{},
		rooms:   &fakeRooms{},
		metrics: metrics.New(nil),
		states:  make(chan StateChange, 64),
		ended:   make(chan CallEnded, 8),
		dropped: make(chan AnnouncementDropped, 8),
	}
	cfg := &Config{
		UserID:      userID,
		GatewayURL:  "ws://gateway.test/janus",
		RingTimeout: time.Minute,
		MediaGrace:  time.Minute,
		Logger:      callsdk.NopLogger(),
		Metrics:     h.metrics,
	}
	deps := Deps{
		Signaling: h.sig,
		Media:     h.media,
		Records:   h.store,
		Profiles: profilesFunc(func(ctx context.Context, id string) string {
			return map[string]string{"alice": "Alice", "bob": "Bob"}[id]
		}),
		Rooms:    h.rooms,
		History:  h.history,
		Surface:  h.rec,
		Ringer:   h.rec,
		WakeLock: h.rec,
		Notifier: h.rec,
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}

	ctrl, err := New(cfg, deps)
	require.NoError(t, err)
	ctrl.Emitter.On(EventStateChanged, func(d interface{}) { h.states <- d.(StateChange) })
	ctrl.Emitter.On(EventCallEnded, func(d interface{}) { h.ended <- d.(CallEnded) })
	ctrl.Emitter.On(EventAnnouncementDropped, func(d interface{}) { h.dropped <- d.(AnnouncementDropped) })
	h.ctrl = ctrl

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = ctrl.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) waitState(t *testing.T, want State) StateChange {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case sc := <-h.states:
			if sc.To == want {
				return sc
			}
		case <-deadline:
			t.Fatalf("state %s not reached, now %s", want, h.ctrl.Snapshot().State)
			return StateChange{}
		}
	}
}

func (h *harness) noStateChange(t *testing.T) {
	t.Helper()
	select {
	case sc := <-h.states:
		t.Fatalf("unexpected transition %s -> %s", sc.From, sc.To)
	case <-time.After(50 * time.Millisecond):
	}
}

func (h *harness) waitEnded(t *testing.T) CallEnded {
	t.Helper()
	select {
	case e := <-h.ended:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("call did not end")
		return CallEnded{}
	}
}

func (h *harness) waitDropped(t *testing.T) AnnouncementDropped {
	t.Helper()
	select {
	case d := <-h.dropped:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("announcement was not dropped")
		return AnnouncementDropped{}
	}
}

func (h *harness) waitStatus(t *testing.T, callID string, want callrecord.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		r, err := h.store.Get(context.Background(), callID)
		return err == nil && r.Status == want
	}, 2*time.Second, 5*time.Millisecond, "record %s never reached %s", callID, want)
}

// ring writes a RINGING record from alice to bob that started age ago.
func (h *harness) ring(t *testing.T, callID string, age time.Duration) callrecord.Record {
	t.Helper()
	r := callrecord.Record{
		CallID:         callID,
		CallerID:       "alice",
		ReceiverID:     "bob",
		ConversationID: "conv-1",
		Type:           callrecord.TypeVideo,
		Status:         callrecord.StatusRinging,
	}
	if age >= 0 {
		r.StartTime = time.Now().Add(-age).UnixMilli()
	}
	require.NoError(t, h.store.Create(context.Background(), &r))
	return r
}

// connectReceiver rings bob and accepts.
func (h *harness) connectReceiver(t *testing.T, callID string) {
	t.Helper()
	h.ring(t, callID, 2*time.Second)
	h.waitState(t, StateRingingIn)
	require.NoError(t, h.ctrl.Accept(context.Background()))
	h.waitState(t, StateConnected)
}
