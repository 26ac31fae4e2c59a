/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package transport is the WebSocket channel to the media gateway. It moves
// raw JSON frames and knows nothing about the protocol carried over it.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/tejzpr/gateway-calling-go/callsdk"
)

// Subprotocol is the WebSocket subprotocol spoken by Janus.
const Subprotocol = "janus-protocol"

// Config holds the configuration for the transport
type Config struct {
	HandshakeTimeout time.Duration // Timeout for the opening handshake
	PingInterval     time.Duration // Interval between WebSocket ping frames
	PongTimeout      time.Duration // Timeout for receiving a pong response
	WriteTimeout     time.Duration // Deadline for a single frame write
	FrameBuffer      int           // Inbound frames buffered before the reader blocks
	Header           http.Header   // Extra handshake headers (e.g. Authorization)
	Logger           logrus.FieldLogger
}

// DefaultConfig returns the default configuration for the transport
func DefaultConfig() *Config {
	return &Config{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PongTimeout:      10 * time.Second,
		WriteTimeout:     10 * time.Second,
		FrameBuffer:      64,
	}
}

// Conn is an open gateway connection.
type Conn struct {
	config *Config
	conn   *websocket.Conn
	log    *logrus.Entry

	writeMu sync.Mutex

	frames chan []byte
	done   chan struct{}
	stop   chan struct{}

	mu        sync.Mutex
	err       error
	closed    bool
	closeOnce sync.Once
}

// Dial opens a connection to url and starts the read and ping loops.
func Dial(ctx context.Context, url string, config *Config) (*Conn, error) {
	if config == nil {
		config = DefaultConfig()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: config.HandshakeTimeout,
		Subprotocols:     []string{Subprotocol},
	}

	ws, _, err := dialer.DialContext(ctx, url, config.Header)
	if err != nil {
		return nil, &callsdk.TransportError{Op: "dial", Err: err}
	}

	buf := config.FrameBuffer
	if buf <= 0 {
		buf = 64
	}

	c := &Conn{
		config: config,
		conn:   ws,
		log:    callsdk.Component(config.Logger, "transport").WithField("url", url),
		frames: make(chan []byte, buf),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}

	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Time{})
	})

	go c.listen()
	if config.PingInterval > 0 {
		go c.startPingPong()
	}

	c.log.Debug("connected")
	return c, nil
}

// Send writes one text frame.
func (c *Conn) Send(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return &callsdk.TransportError{Op: "write", Err: fmt.Errorf("connection closed")}
	}

	if c.config.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.fail(&callsdk.TransportError{Op: "write", Err: err})
		return &callsdk.TransportError{Op: "write", Err: err}
	}
	return nil
}

// Frames delivers inbound text frames in arrival order. It is closed after Done.
func (c *Conn) Frames() <-chan []byte {
	return c.frames
}

// Done is closed once the connection is gone, for whatever reason.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, nil after a local Close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends a normal-closure frame and closes the socket. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.stop)

		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		_ = c.conn.Close()
	})
	return nil
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fail records the first error and tears the socket down.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.err == nil && !c.closed {
		c.err = err
	}
	c.closed = true
	c.mu.Unlock()
	_ = c.conn.Close()
}

// listen reads frames until the socket fails or is closed.
func (c *Conn) listen() {
	defer func() {
		close(c.frames)
		close(c.done)
	}()

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				c.log.WithError(err).Warn("connection lost")
				c.fail(&callsdk.TransportError{Op: "read", Err: err})
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		select {
		case c.frames <- message:
		case <-c.stop:
			return
		}
	}
}

// startPingPong keeps intermediaries from idling the socket out.
func (c *Conn) startPingPong() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.ping(); err != nil {
				c.fail(&callsdk.TransportError{Op: "ping", Err: err})
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.PongTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.config.PingInterval + c.config.PongTimeout)); err != nil {
			return err
		}
	}
	wt := c.config.WriteTimeout
	if wt <= 0 {
		wt = 10 * time.Second
	}
	return c.conn.WriteControl(websocket.PingMessage,
		[]byte(fmt.Sprintf("%d", time.Now().UnixMilli())),
		time.Now().Add(wt))
}
