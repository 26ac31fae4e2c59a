/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package janus

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// VideoRoomPlugin is the plugin package every handle attaches to.
const VideoRoomPlugin = "janus.plugin.videoroom"

// Envelope verbs of the gateway protocol.
const (
	verbCreate    = "create"
	verbAttach    = "attach"
	verbDetach    = "detach"
	verbDestroy   = "destroy"
	verbMessage   = "message"
	verbTrickle   = "trickle"
	verbKeepalive = "keepalive"

	verbSuccess  = "success"
	verbAck      = "ack"
	verbEvent    = "event"
	verbError    = "error"
	verbWebRTCUp = "webrtcup"
	verbMedia    = "media"
	verbSlowLink = "slowlink"
	verbHangup   = "hangup"
	verbDetached = "detached"
	verbTimeout  = "timeout"
)

// Message is the JSON envelope exchanged with the gateway in both directions.
type Message struct {
	Janus       string      `json:"janus"`
	Transaction string      `json:"transaction,omitempty"`
	SessionID   int64       `json:"session_id,omitempty"`
	HandleID    int64       `json:"handle_id,omitempty"`
	Sender      int64       `json:"sender,omitempty"`
	Plugin      string      `json:"plugin,omitempty"`
	Body        interface{} `json:"body,omitempty"`
	JSEP        *JSEP       `json:"jsep,omitempty"`
	Candidate   *Candidate  `json:"candidate,omitempty"`
	APISecret   string      `json:"apisecret,omitempty"`
	Token       string      `json:"token,omitempty"`

	Data       *SuccessData `json:"data,omitempty"`
	PluginData *PluginData  `json:"plugindata,omitempty"`
	Error      *ErrorBody   `json:"error,omitempty"`

	// media / hangup / slowlink notifications
	Type      string `json:"type,omitempty"`
	Receiving *bool  `json:"receiving,omitempty"`
	Uplink    *bool  `json:"uplink,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// SuccessData is the payload of create/attach success responses.
type SuccessData struct {
	ID int64 `json:"id"`
}

// ErrorBody is the payload of gateway-level error frames.
type ErrorBody struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// PluginData wraps a plugin's response or event.
type PluginData struct {
	Plugin string          `json:"plugin"`
	Data   json.RawMessage `json:"data"`
}

// JSEP carries an SDP offer or answer.
type JSEP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is one trickled ICE candidate. A Completed candidate marks the
// end of gathering and serializes as {"completed":true}.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
	Completed     bool   `json:"completed,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c Candidate) MarshalJSON() ([]byte, error) {
	if c.Completed {
		return []byte(`{"completed":true}`), nil
	}
	type plain Candidate
	return json.Marshal(plain(c))
}

// Publisher is a participant publishing media in the room.
type Publisher struct {
	ID      int64  `json:"id"`
	Display string `json:"display,omitempty"`
}

// videoRoomData is the union of fields the videoroom plugin puts in
// plugindata.data across its responses and events.
type videoRoomData struct {
	VideoRoom   string          `json:"videoroom"`
	ID          int64           `json:"id,omitempty"`
	PrivateID   int64           `json:"private_id,omitempty"`
	Publishers  []Publisher     `json:"publishers,omitempty"`
	Leaving     json.RawMessage `json:"leaving,omitempty"`
	Unpublished json.RawMessage `json:"unpublished,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// feedID decodes a leaving/unpublished value. The plugin sends the feed id
// as a number, or "ok" when the event refers to ourselves.
func feedID(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, n != 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			return id, id != 0
		}
	}
	return 0, false
}

func decodeVideoRoom(pd *PluginData) (*videoRoomData, error) {
	if pd == nil || len(pd.Data) == 0 {
		return nil, nil
	}
	var d videoRoomData
	if err := json.Unmarshal(pd.Data, &d); err != nil {
		return nil, fmt.Errorf("invalid plugin data: %w", err)
	}
	return &d, nil
}

// Request bodies for the videoroom plugin.

type joinBody struct {
	Request string `json:"request"`
	Room    string `json:"room"`
	PType   string `json:"ptype"`
	Display string `json:"display,omitempty"`
	Feed    int64  `json:"feed,omitempty"`
	// PrivateID associates a subscriber with our publisher.
	PrivateID int64 `json:"private_id,omitempty"`
}

type configureBody struct {
	Request string `json:"request"`
	Audio   bool   `json:"audio"`
	Video   bool   `json:"video"`
}

type simpleBody struct {
	Request string `json:"request"`
	Room    string `json:"room,omitempty"`
}
