/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package callrecord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/gateway-calling-go/callsdk"
)

func newHistoryClient(t *testing.T, handler http.HandlerFunc) *HistoryClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	core, err := callsdk.NewClient(callsdk.StaticToken("test-token"), &callsdk.Config{
		BaseURL:        server.URL + "/api",
		Timeout:        5 * time.Second,
		HttpClient:     server.Client(),
		RetryBaseDelay: time.Millisecond,
		Logger:         callsdk.NopLogger(),
	})
	require.NoError(t, err)
	return NewHistoryClient(core)
}

func TestEntryFor(t *testing.T) {
	r := &Record{CallID: "c1", ReceiverID: "bob", ConversationID: "conv", Type: TypeVoice, Status: StatusEnded, Duration: 12}
	e := EntryFor(r)
	assert.Equal(t, HistoryEntry{ReceiverID: "bob", ConversationID: "conv", CallType: TypeVoice, Duration: 12, Status: "ended"}, e)
}

func TestHistoryClient_Post(t *testing.T) {
	t.Run("records the call", func(t *testing.T) {
		client := newHistoryClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/calls", r.URL.Path)

			var body HistoryEntry
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "bob", body.ReceiverID)
			assert.Equal(t, "missed", body.Status)

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "callId": "h-1"})
		})

		id, err := client.Post(context.Background(), HistoryEntry{ReceiverID: "bob", CallType: TypeVideo, Status: "missed"})
		require.NoError(t, err)
		assert.Equal(t, "h-1", id)
	})

	t.Run("requires receiver", func(t *testing.T) {
		client := newHistoryClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})
		_, err := client.Post(context.Background(), HistoryEntry{})
		assert.Error(t, err)
	})

	t.Run("backend failure", func(t *testing.T) {
		client := newHistoryClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": "Receiver ID is required"})
		})
		_, err := client.Post(context.Background(), HistoryEntry{ReceiverID: "bob"})
		assert.EqualError(t, err, "post call history: Receiver ID is required")
	})
}

func TestHistoryClient_List(t *testing.T) {
	client := newHistoryClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"calls": []map[string]interface{}{
				{"id": "h-2", "callerId": "alice", "receiverId": "bob", "callType": "VIDEO", "duration": 30, "status": "ended"},
				{"id": "h-1", "callerId": "bob", "receiverId": "alice", "callType": "VOICE", "status": "missed"},
			},
		})
	})

	items, err := client.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, TypeVideo, items[0].CallType)
	assert.Equal(t, int64(30), items[0].Duration)
	assert.Equal(t, "missed", items[1].Status)
}
