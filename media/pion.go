/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/tejzpr/gateway-calling-go/callsdk"
)

// ErrClosed is returned by operations on a closed adapter.
var ErrClosed = errors.New("media adapter closed")

// TrackStats counts RTP received on one remote track.
type TrackStats struct {
	Feed    int64
	Kind    string
	Codec   string
	Packets uint64
	Bytes   uint64
	LastSeq uint16
}

// PionAdapter implements Adapter with one pion PeerConnection for our
// publisher and one per subscribed remote feed.
type PionAdapter struct {
	config *Config
	api    *webrtc.API
	log    *logrus.Entry

	mu          sync.Mutex
	publisher   *webrtc.PeerConnection
	feeds       map[int64]*webrtc.PeerConnection
	audio       *webrtc.TrackLocalStaticRTP
	video       *webrtc.TrackLocalStaticRTP
	muted       bool
	closed      bool
	stats       map[string]*TrackStats
	onCandidate func(feed int64, c Candidate)
	onState     func(feed int64, s ConnectionState)
	onTrack     func(feed int64, track *webrtc.TrackRemote)
}

// PionFactory builds PionAdapters sharing one configuration.
type PionFactory struct {
	Config *Config
}

// NewAdapter implements Factory.
func (f PionFactory) NewAdapter(video bool) (Adapter, error) {
	return NewPionAdapter(f.Config, video)
}

func newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		PayloadType:        111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register opus: %w", err)
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		PayloadType:        96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("failed to register VP8: %w", err)
	}

	// RTCP reports, NACK and TWCC; without them incoming SRTP is not processed.
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i)), nil
}

// NewPionAdapter creates the publisher connection with a local audio track,
// and a local video track when video is set.
func NewPionAdapter(config *Config, video bool) (*PionAdapter, error) {
	if config == nil {
		config = DefaultConfig()
	}
	api, err := newAPI()
	if err != nil {
		return nil, err
	}

	a := &PionAdapter{
		config: config,
		api:    api,
		log:    callsdk.Component(config.Logger, "media"),
		feeds:  make(map[int64]*webrtc.PeerConnection),
		stats:  make(map[string]*TrackStats),
	}

	pc, err := a.newPeerConnection(0)
	if err != nil {
		return nil, err
	}
	a.publisher = pc

	a.audio, err = a.addLocalTrack(pc, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio")
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	if video {
		a.video, err = a.addLocalTrack(pc, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "video")
		if err != nil {
			_ = pc.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *PionAdapter) newPeerConnection(feed int64) (*webrtc.PeerConnection, error) {
	pc, err := a.api.NewPeerConnection(webrtc.Configuration{ICEServers: a.config.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	log := a.log.WithField("feed", feed)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if !a.config.TrickleICE {
			return
		}
		a.mu.Lock()
		handler := a.onCandidate
		a.mu.Unlock()
		if handler == nil {
			return
		}
		if c == nil {
			handler(feed, Candidate{Completed: true})
			return
		}
		init := c.ToJSON()
		cand := Candidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			cand.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			cand.SDPMLineIndex = *init.SDPMLineIndex
		}
		handler(feed, cand)
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.WithField("state", s.String()).Debug("peer connection state changed")
		a.mu.Lock()
		handler := a.onState
		a.mu.Unlock()
		if handler != nil {
			handler(feed, ConnectionState(s.String()))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.WithFields(logrus.Fields{"codec": track.Codec().MimeType, "ssrc": track.SSRC()}).Info("remote track started")
		a.mu.Lock()
		handler := a.onTrack
		a.mu.Unlock()
		if handler != nil {
			handler(feed, track)
			return
		}
		go a.readTrack(feed, track)
	})

	return pc, nil
}

func (a *PionAdapter) addLocalTrack(pc *webrtc.PeerConnection, codec webrtc.RTPCodecCapability, kind string) (*webrtc.TrackLocalStaticRTP, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(codec, kind, "gatewaycall")
	if err != nil {
		return nil, fmt.Errorf("failed to create %s track: %w", kind, err)
	}
	transceiver, err := pc.AddTransceiverFromTrack(track,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendonly},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to add %s transceiver: %w", kind, err)
	}

	// Drain RTCP so the interceptors keep running.
	go func() {
		sender := transceiver.Sender()
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return track, nil
}

// readTrack counts packets until the track ends.
func (a *PionAdapter) readTrack(feed int64, track *webrtc.TrackRemote) {
	key := fmt.Sprintf("%d/%s", feed, track.ID())
	a.mu.Lock()
	st := &TrackStats{Feed: feed, Kind: track.Kind().String(), Codec: track.Codec().MimeType}
	a.stats[key] = st
	a.mu.Unlock()

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		a.mu.Lock()
		st.Packets++
		st.Bytes += uint64(len(pkt.Payload))
		st.LastSeq = pkt.SequenceNumber
		a.mu.Unlock()
	}
}

// Stats returns a copy of the counters for every remote track seen.
func (a *PionAdapter) Stats() []TrackStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]TrackStats, 0, len(a.stats))
	for _, st := range a.stats {
		out = append(out, *st)
	}
	return out
}

// OnRemoteTrack replaces the built-in packet counter for new remote tracks.
func (a *PionAdapter) OnRemoteTrack(handler func(feed int64, track *webrtc.TrackRemote)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onTrack = handler
}

// OnLocalICECandidate implements Adapter.
func (a *PionAdapter) OnLocalICECandidate(handler func(feed int64, c Candidate)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onCandidate = handler
}

// OnConnectionStateChange implements Adapter.
func (a *PionAdapter) OnConnectionStateChange(handler func(feed int64, s ConnectionState)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onState = handler
}

// CreateOffer implements Adapter.
func (a *PionAdapter) CreateOffer(ctx context.Context) (string, error) {
	a.mu.Lock()
	pc := a.publisher
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return "", ErrClosed
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	return a.setLocal(ctx, pc, offer)
}

// setLocal applies desc and, without trickle, waits for gathering so the
// returned SDP carries every candidate.
func (a *PionAdapter) setLocal(ctx context.Context, pc *webrtc.PeerConnection, desc webrtc.SessionDescription) (string, error) {
	var gathered <-chan struct{}
	if !a.config.TrickleICE {
		gathered = webrtc.GatheringCompletePromise(pc)
	}
	if err := pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	if gathered != nil {
		select {
		case <-gathered:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	local := pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("local description is nil after gathering")
	}
	return local.SDP, nil
}

// SetRemoteAnswer implements Adapter.
func (a *PionAdapter) SetRemoteAnswer(sdp string) error {
	a.mu.Lock()
	pc := a.publisher
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return ErrClosed
	}

	// The answer also arrives as a RemoteSdp event after Publish returns it.
	if pc.SignalingState() == webrtc.SignalingStateStable {
		a.log.Debug("ignoring duplicate SDP answer")
		return nil
	}
	return pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

// AcceptRemoteOffer implements Adapter. An existing connection for the same
// feed is replaced.
func (a *PionAdapter) AcceptRemoteOffer(ctx context.Context, feed int64, sdp string) (string, error) {
	if feed == 0 {
		return "", fmt.Errorf("feed id must be non-zero")
	}
	pc, err := a.newPeerConnection(feed)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		_ = pc.Close()
		return "", ErrClosed
	}
	old := a.feeds[feed]
	a.feeds[feed] = pc
	a.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		_ = a.RemoveFeed(feed)
		return "", fmt.Errorf("failed to set remote offer for feed %d: %w", feed, err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = a.RemoveFeed(feed)
		return "", fmt.Errorf("failed to create answer for feed %d: %w", feed, err)
	}
	local, err := a.setLocal(ctx, pc, answer)
	if err != nil {
		_ = a.RemoveFeed(feed)
		return "", err
	}
	return local, nil
}

// RemoveFeed implements Adapter.
func (a *PionAdapter) RemoveFeed(feed int64) error {
	a.mu.Lock()
	pc := a.feeds[feed]
	delete(a.feeds, feed)
	a.mu.Unlock()
	if pc == nil {
		return nil
	}
	return pc.Close()
}

// AddRemoteICECandidate implements Adapter.
func (a *PionAdapter) AddRemoteICECandidate(c Candidate) error {
	a.mu.Lock()
	pc := a.publisher
	a.mu.Unlock()
	return addCandidate(pc, c)
}

// AddRemoteFeedCandidate implements Adapter.
func (a *PionAdapter) AddRemoteFeedCandidate(feed int64, c Candidate) error {
	a.mu.Lock()
	pc := a.feeds[feed]
	a.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("no connection for feed %d", feed)
	}
	return addCandidate(pc, c)
}

func addCandidate(pc *webrtc.PeerConnection, c Candidate) error {
	if c.Completed {
		return nil
	}
	mid := c.SDPMid
	idx := c.SDPMLineIndex
	return pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: c.Candidate, SDPMid: &mid, SDPMLineIndex: &idx})
}

// WriteRTP sends a packet on the local track of the given kind ("audio" or
// "video"). Packets are dropped while muted.
func (a *PionAdapter) WriteRTP(kind string, pkt *rtp.Packet) error {
	a.mu.Lock()
	muted := a.muted
	track := a.audio
	if kind == "video" {
		track = a.video
	}
	a.mu.Unlock()

	if track == nil {
		return fmt.Errorf("no local %s track", kind)
	}
	if muted {
		return nil
	}
	return track.WriteRTP(pkt)
}

// Mute stops sending local media.
func (a *PionAdapter) Mute() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.muted = true
}

// Unmute resumes sending local media.
func (a *PionAdapter) Unmute() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.muted = false
}

// IsMuted returns whether local media is muted
func (a *PionAdapter) IsMuted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.muted
}

// HasVideo reports whether a local video track was added.
func (a *PionAdapter) HasVideo() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.video != nil
}

// ConnectionState returns the publisher connection state.
func (a *PionAdapter) ConnectionState() ConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ConnectionState(a.publisher.ConnectionState().String())
}

// Close implements Adapter. It closes every connection and is safe to call
// more than once.
func (a *PionAdapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	pcs := make([]*webrtc.PeerConnection, 0, len(a.feeds)+1)
	pcs = append(pcs, a.publisher)
	for _, pc := range a.feeds {
		pcs = append(pcs, pc)
	}
	a.feeds = make(map[int64]*webrtc.PeerConnection)
	a.mu.Unlock()

	var errs []error
	for _, pc := range pcs {
		if err := pc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to close peer connections: %w", err)
	}
	return nil
}
