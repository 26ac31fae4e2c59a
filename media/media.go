/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package media produces and consumes SDP and ICE for a call. The RTP and
// SRTP work is delegated to pion.
package media

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// Candidate is a trickled ICE candidate. Completed marks end of gathering.
type Candidate struct {
	Candidate     string
	SDPMid        string
	SDPMLineIndex uint16
	Completed     bool
}

// ConnectionState mirrors the peer connection state names.
type ConnectionState string

const (
	StateNew          ConnectionState = "new"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)

// Healthy reports whether the state allows media to flow or recover on its own.
func (s ConnectionState) Healthy() bool {
	return s != StateDisconnected && s != StateFailed && s != StateClosed
}

// Adapter is the media engine seen by the call controller. Feed 0 is our
// own publisher connection; any other feed is a subscription to that
// remote publisher.
type Adapter interface {
	// CreateOffer returns the local offer for publishing.
	CreateOffer(ctx context.Context) (string, error)
	// SetRemoteAnswer applies the gateway's answer. A repeated answer is ignored.
	SetRemoteAnswer(sdp string) error
	// AcceptRemoteOffer answers the gateway's offer for a remote feed.
	AcceptRemoteOffer(ctx context.Context, feed int64, sdp string) (string, error)
	// RemoveFeed closes the connection for a remote feed.
	RemoveFeed(feed int64) error

	AddRemoteICECandidate(c Candidate) error
	AddRemoteFeedCandidate(feed int64, c Candidate) error
	OnLocalICECandidate(handler func(feed int64, c Candidate))
	OnConnectionStateChange(handler func(feed int64, s ConnectionState))

	Close() error
}

// Factory creates one Adapter per call.
type Factory interface {
	NewAdapter(video bool) (Adapter, error)
}

// Config holds configuration for the media engine
type Config struct {
	// ICEServers is the list of ICE servers (STUN/TURN) to use
	ICEServers []webrtc.ICEServer
	// TrickleICE sends candidates as they are gathered. When false, offers
	// and answers wait for gathering to finish and carry every candidate.
	TrickleICE bool
	Logger     logrus.FieldLogger
}

// DefaultConfig returns a Config with a public STUN server and trickle ICE.
func DefaultConfig() *Config {
	return &Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		TrickleICE: true,
	}
}
