/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package callrecord

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tejzpr/gateway-calling-go/callsdk"
)

// HistoryEntry is what a device reports when one of its calls finishes.
type HistoryEntry struct {
	ReceiverID     string   `json:"receiverId"`
	ConversationID string   `json:"conversationId,omitempty"`
	CallType       CallType `json:"callType"`
	Duration       int64    `json:"duration"`
	Status         string   `json:"status"`
}

// EntryFor builds the history entry for a finished record.
func EntryFor(r *Record) HistoryEntry {
	return HistoryEntry{
		ReceiverID:     r.ReceiverID,
		ConversationID: r.ConversationID,
		CallType:       r.Type,
		Duration:       r.Duration,
		Status:         strings.ToLower(string(r.Status)),
	}
}

// HistoryItem is one row of the server-side call history.
type HistoryItem struct {
	ID           string   `json:"id"`
	CallerID     string   `json:"callerId"`
	ReceiverID   string   `json:"receiverId"`
	CallType     CallType `json:"callType"`
	Duration     int64    `json:"duration"`
	Status       string   `json:"status"`
	Participants []string `json:"participants,omitempty"`
	CreatedAt    int64    `json:"createdAt"`
}

// HistoryClient reads and writes the call history kept by the backend.
type HistoryClient struct {
	core *callsdk.Client
}

// NewHistoryClient creates a call history client.
func NewHistoryClient(core *callsdk.Client) *HistoryClient {
	return &HistoryClient{core: core}
}

// Post records a finished call and returns the id the backend assigned.
func (c *HistoryClient) Post(ctx context.Context, entry HistoryEntry) (string, error) {
	if entry.ReceiverID == "" {
		return "", fmt.Errorf("receiverId is required")
	}

	resp, err := c.core.Request(ctx, http.MethodPost, "calls", nil, entry)
	if err != nil {
		return "", fmt.Errorf("post call history: %w", err)
	}

	var result struct {
		Success bool   `json:"success"`
		CallID  string `json:"callId"`
		Error   string `json:"error"`
	}
	if err := callsdk.ParseResponse(resp, &result); err != nil {
		return "", fmt.Errorf("post call history: %w", err)
	}
	if !result.Success {
		return "", fmt.Errorf("post call history: %s", result.Error)
	}
	return result.CallID, nil
}

// List returns the latest calls of the authenticated user, newest first.
func (c *HistoryClient) List(ctx context.Context) ([]HistoryItem, error) {
	resp, err := c.core.Request(ctx, http.MethodGet, "calls", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("list call history: %w", err)
	}

	var result struct {
		Calls []HistoryItem `json:"calls"`
	}
	if err := callsdk.ParseResponse(resp, &result); err != nil {
		return nil, fmt.Errorf("list call history: %w", err)
	}
	return result.Calls, nil
}
