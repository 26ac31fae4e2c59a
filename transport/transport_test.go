/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/gateway-calling-go/callsdk"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func newEchoServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{Subprotocols: []string{Subprotocol}}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(server.Close)
	return server
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logger = callsdk.NopLogger()
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.PingInterval != 30*time.Second {
		t.Errorf("Expected PingInterval 30s, got %v", cfg.PingInterval)
	}
	if cfg.HandshakeTimeout != 10*time.Second {
		t.Errorf("Expected HandshakeTimeout 10s, got %v", cfg.HandshakeTimeout)
	}
}

func TestDial_EchoesFrames(t *testing.T) {
	negotiated := make(chan string, 1)
	server := newEchoServer(t, func(conn *websocket.Conn) {
		negotiated <- conn.Subprotocol()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	})

	conn, err := Dial(context.Background(), wsURL(server), testConfig())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send([]byte(`{"janus":"keepalive"}`)))

	select {
	case frame := <-conn.Frames():
		assert.JSONEq(t, `{"janus":"keepalive"}`, string(frame))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo")
	}
	assert.Equal(t, Subprotocol, <-negotiated)
}

func TestDial_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := Dial(ctx, "ws://127.0.0.1:1/janus", testConfig())
	require.Error(t, err)
	assert.True(t, callsdk.IsTransportError(err))
}

func TestConn_RemoteCloseReportsError(t *testing.T) {
	server := newEchoServer(t, func(conn *websocket.Conn) {
		// Drop the socket without a close handshake.
		conn.UnderlyingConn().Close()
	})

	conn, err := Dial(context.Background(), wsURL(server), testConfig())
	require.NoError(t, err)

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done was not closed after remote drop")
	}
	assert.True(t, callsdk.IsTransportError(conn.Err()))

	_, open := <-conn.Frames()
	assert.False(t, open, "Frames must be closed after Done")

	err = conn.Send([]byte(`{}`))
	assert.True(t, callsdk.IsTransportError(err))
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	server := newEchoServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	conn, err := Dial(context.Background(), wsURL(server), testConfig())
	require.NoError(t, err)

	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done was not closed after Close")
	}
	assert.NoError(t, conn.Err(), "local close is not an error")
	assert.Error(t, conn.Send([]byte(`{}`)))
}
