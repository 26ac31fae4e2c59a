/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package janus

import (
	"errors"

	"github.com/tejzpr/gateway-calling-go/callsdk"
)

// Event is everything the client reports asynchronously. The set of variants
// is closed; switch on the concrete type.
type Event interface {
	isEvent()
}

// SessionCreated reports a successful create.
type SessionCreated struct {
	SessionID int64
}

// HandleAttached reports a successful attach of the publisher handle.
type HandleAttached struct {
	SessionID int64
	HandleID  int64
}

// RemoteSdp carries SDP from the gateway. Feed is zero for the answer to our
// own publish and the publisher id for a subscription offer.
type RemoteSdp struct {
	Feed int64
	Type string
	SDP  string
}

// IceCandidate is a candidate trickled by the gateway.
type IceCandidate struct {
	Feed      int64
	Candidate Candidate
}

// PublisherJoined reports a remote participant publishing in our room.
type PublisherJoined struct {
	Publisher Publisher
}

// PublisherLeft reports a remote participant that left or unpublished.
type PublisherLeft struct {
	PublisherID int64
}

// ProtocolError reports a gateway error that is not tied to a pending
// request, or a request refused locally (for example before attach).
type ProtocolError struct {
	Err error
}

// TransportClosed reports the loss of the session with its transport.
// Err is nil after a local Disconnect.
type TransportClosed struct {
	Err error
}

// MediaState reports webrtcup, media, slowlink and hangup notifications.
type MediaState struct {
	Feed      int64
	Kind      string // webrtcup, media, slowlink or hangup
	Type      string // audio or video for media notifications
	Receiving bool
	Reason    string
}

func (SessionCreated) isEvent()  {}
func (HandleAttached) isEvent()  {}
func (RemoteSdp) isEvent()       {}
func (IceCandidate) isEvent()    {}
func (PublisherJoined) isEvent() {}
func (PublisherLeft) isEvent()   {}
func (ProtocolError) isEvent()   {}
func (TransportClosed) isEvent() {}
func (MediaState) isEvent()      {}

// Unexpected reports whether the transport loss was not requested locally.
func (e TransportClosed) Unexpected() bool {
	return e.Err != nil
}

// GatewayError unwraps the *callsdk.ProtocolError if there is one.
func (e ProtocolError) GatewayError() (*callsdk.ProtocolError, bool) {
	var pe *callsdk.ProtocolError
	ok := errors.As(e.Err, &pe)
	return pe, ok
}
