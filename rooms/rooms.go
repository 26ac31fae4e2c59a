/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package rooms provisions gateway video rooms through the calling backend.
// A room is named by the call id it serves.
package rooms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tejzpr/gateway-calling-go/callsdk"
)

// Room is a provisioned room together with the admin session the backend
// used to create it. Destroy needs both ids.
type Room struct {
	RoomID    string `json:"roomId"`
	SessionID int64  `json:"sessionId,omitempty"`
	HandleID  int64  `json:"handleId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Info reports whether a room exists on the gateway.
type Info struct {
	Room   string `json:"room"`
	Exists bool   `json:"exists"`
}

// Participant is one member of a room as listed by the gateway.
type Participant struct {
	ID        int64  `json:"id"`
	Display   string `json:"display,omitempty"`
	Publisher bool   `json:"publisher"`
	Talking   bool   `json:"talking,omitempty"`
}

// Health is the backend's view of gateway reachability.
type Health struct {
	Message   string `json:"message"`
	SessionID int64  `json:"sessionId,omitempty"`
}

// envelope is the {success, error} wrapper around every backend response.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (e envelope) err(op string) error {
	if e.Success {
		return nil
	}
	if e.Error == "" {
		return fmt.Errorf("%s: backend reported failure", op)
	}
	return fmt.Errorf("%s: %s", op, e.Error)
}

// Config holds the configuration for the rooms client
type Config struct {
	// PathPrefix is prepended to every endpoint, relative to the core BaseURL.
	PathPrefix string
}

// DefaultConfig returns the default configuration for the rooms client
func DefaultConfig() *Config {
	return &Config{PathPrefix: "janus"}
}

// Client is the room provisioning API client
type Client struct {
	core   *callsdk.Client
	config *Config
}

// New creates a new rooms client
func New(core *callsdk.Client, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	return &Client{
		core:   core,
		config: config,
	}
}

func (c *Client) path(p string) string {
	if c.config.PathPrefix == "" {
		return p
	}
	return c.config.PathPrefix + "/" + p
}

// Create provisions the room for callID. Creating a room that already
// exists succeeds.
func (c *Client) Create(ctx context.Context, callID string) (*Room, error) {
	if callID == "" {
		return nil, fmt.Errorf("callID is required")
	}

	resp, err := c.core.Request(ctx, http.MethodPost, c.path("room/create"), nil, map[string]string{"callId": callID})
	if err != nil {
		return nil, err
	}

	var result struct {
		envelope
		Room
	}
	if err := callsdk.ParseResponse(resp, &result); err != nil {
		return nil, err
	}
	if err := result.err("create room"); err != nil {
		return nil, err
	}
	if result.RoomID == "" {
		result.RoomID = callID
	}
	return &result.Room, nil
}

// Destroy removes the room for callID using the session that created it.
func (c *Client) Destroy(ctx context.Context, callID string, sessionID, handleID int64) error {
	if callID == "" {
		return fmt.Errorf("callID is required")
	}

	body := struct {
		CallID    string `json:"callId"`
		SessionID int64  `json:"sessionId,omitempty"`
		HandleID  int64  `json:"handleId,omitempty"`
	}{callID, sessionID, handleID}

	resp, err := c.core.Request(ctx, http.MethodPost, c.path("room/destroy"), nil, body)
	if err != nil {
		return err
	}

	var result envelope
	if err := callsdk.ParseResponse(resp, &result); err != nil {
		return err
	}
	return result.err("destroy room")
}

// Get returns whether the room for callID exists.
func (c *Client) Get(ctx context.Context, callID string) (*Info, error) {
	if callID == "" {
		return nil, fmt.Errorf("callID is required")
	}

	resp, err := c.core.Request(ctx, http.MethodGet, c.path("room/"+url.PathEscape(callID)), nil, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		envelope
		Info
	}
	if err := callsdk.ParseResponse(resp, &result); err != nil {
		return nil, err
	}
	if err := result.err("get room"); err != nil {
		return nil, err
	}
	if result.Room == "" {
		result.Room = callID
	}
	return &result.Info, nil
}

// Participants lists the members of the room for callID. The backend needs
// a session and handle it owns to query the gateway.
func (c *Client) Participants(ctx context.Context, callID string, sessionID, handleID int64) ([]Participant, error) {
	if callID == "" {
		return nil, fmt.Errorf("callID is required")
	}
	if sessionID == 0 || handleID == 0 {
		return nil, fmt.Errorf("sessionID and handleID are required")
	}

	params := url.Values{}
	params.Set("sessionId", strconv.FormatInt(sessionID, 10))
	params.Set("handleId", strconv.FormatInt(handleID, 10))

	resp, err := c.core.Request(ctx, http.MethodGet, c.path("room/"+url.PathEscape(callID)+"/participants"), params, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		envelope
		Participants []Participant `json:"participants"`
	}
	if err := callsdk.ParseResponse(resp, &result); err != nil {
		return nil, err
	}
	if err := result.err("list participants"); err != nil {
		return nil, err
	}
	return result.Participants, nil
}

// Health checks that the backend can reach the gateway.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	resp, err := c.core.Request(ctx, http.MethodGet, c.path("health"), nil, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		envelope
		Health
	}
	if err := callsdk.ParseResponse(resp, &result); err != nil {
		return nil, err
	}
	if err := result.err("gateway health"); err != nil {
		return nil, err
	}
	return &result.Health, nil
}
