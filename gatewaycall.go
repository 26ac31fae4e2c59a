/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package gatewaycall wires the calling SDK together: the REST core, room
// provisioning, profiles, call history, the Janus signaling client, the media
// engine, the call record channel and the call lifecycle controller.
package gatewaycall

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/tejzpr/gateway-calling-go/callrecord"
	"github.com/tejzpr/gateway-calling-go/callsdk"
	"github.com/tejzpr/gateway-calling-go/config"
	"github.com/tejzpr/gateway-calling-go/janus"
	"github.com/tejzpr/gateway-calling-go/lifecycle"
	"github.com/tejzpr/gateway-calling-go/media"
	"github.com/tejzpr/gateway-calling-go/metrics"
	"github.com/tejzpr/gateway-calling-go/profile"
	"github.com/tejzpr/gateway-calling-go/rooms"
)

// Devices are the platform hooks of the call controller. Nil members fall
// back to no-ops.
type Devices struct {
	Surface  lifecycle.Surface
	Ringer   lifecycle.Ringer
	WakeLock lifecycle.WakeLock
	Notifier lifecycle.DurationNotifier
}

// Client is the top-level client. Components are built on first use and
// cached; every accessor is safe for concurrent use.
type Client struct {
	config   *config.Config
	log      *logrus.Logger
	tokens   callsdk.TokenSource
	core     *callsdk.Client
	registry *prometheus.Registry
	metrics  *metrics.Collectors

	mu              sync.Mutex
	roomsClient     *rooms.Client
	profileClient   *profile.Client
	historyClient   *callrecord.HistoryClient
	signalingClient *janus.Client
	records         callrecord.Channel
	sqlite          *callrecord.SQLiteStore
	retention       *callrecord.Retention
	controller      *lifecycle.Controller
}

// NewClient creates a client from cfg. A nil cfg uses config.Default().
func NewClient(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := callsdk.NewLogger(cfg.Log)

	tokens, err := tokenSource(cfg)
	if err != nil {
		return nil, err
	}

	coreConfig := cfg.CoreConfig()
	coreConfig.Logger = log
	core, err := callsdk.NewClient(tokens, coreConfig)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	return &Client{
		config:   cfg,
		log:      log,
		tokens:   tokens,
		core:     core,
		registry: registry,
		metrics:  metrics.New(registry),
	}, nil
}

// tokenSource prefers signing tokens locally over a pre-issued bearer.
func tokenSource(cfg *config.Config) (callsdk.TokenSource, error) {
	if cfg.API.SigningKey != "" {
		signer, err := callsdk.NewTokenSigner([]byte(cfg.API.SigningKey), cfg.API.UserID, cfg.API.TokenIssuer, cfg.API.TokenTTL)
		if err != nil {
			return nil, fmt.Errorf("token signer: %w", err)
		}
		return signer, nil
	}
	return callsdk.StaticToken(cfg.API.Token), nil
}

// Rooms returns the room provisioning client
func (c *Client) Rooms() *rooms.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomsLocked()
}

func (c *Client) roomsLocked() *rooms.Client {
	if c.roomsClient == nil {
		c.roomsClient = rooms.New(c.core, nil)
	}
	return c.roomsClient
}

// Profiles returns the user profile client
func (c *Client) Profiles() *profile.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profilesLocked()
}

func (c *Client) profilesLocked() *profile.Client {
	if c.profileClient == nil {
		pc := profile.DefaultConfig()
		pc.CacheTTL = c.config.API.ProfileCacheTTL
		pc.LookupTimeout = c.config.Lifecycle.LookupTimeout
		c.profileClient = profile.New(c.core, pc)
	}
	return c.profileClient
}

// History returns the call history client
func (c *Client) History() *callrecord.HistoryClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.historyLocked()
}

func (c *Client) historyLocked() *callrecord.HistoryClient {
	if c.historyClient == nil {
		c.historyClient = callrecord.NewHistoryClient(c.core)
	}
	return c.historyClient
}

// Signaling returns the gateway signaling client. One client serves one call
// at a time.
func (c *Client) Signaling() *janus.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signalingLocked()
}

func (c *Client) signalingLocked() *janus.Client {
	if c.signalingClient == nil {
		jc := c.config.JanusConfig()
		jc.Logger = c.log
		jc.Metrics = c.metrics
		if c.config.Gateway.SignRequests {
			jc.Tokens = c.tokens
		}
		c.signalingClient = janus.New(jc, nil)
	}
	return c.signalingClient
}

// Records returns the call record channel selected by store.driver.
func (c *Client) Records() (callrecord.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordsLocked()
}

func (c *Client) recordsLocked() (callrecord.Channel, error) {
	if c.records != nil {
		return c.records, nil
	}
	switch c.config.Store.Driver {
	case "sqlite":
		s, err := callrecord.OpenSQLite(c.config.Store.Path, c.log, callrecord.WithPollInterval(c.config.Store.PollInterval))
		if err != nil {
			return nil, fmt.Errorf("open call store: %w", err)
		}
		c.sqlite = s
		c.records = s
	default:
		c.records = callrecord.NewMemoryStore(c.log)
	}
	return c.records, nil
}

// Retention returns the scheduled pruner of finished call records, or nil
// when store.retention_schedule is empty. It is not started.
func (c *Client) Retention() (*callrecord.Retention, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retention != nil || c.config.Store.RetentionSchedule == "" {
		return c.retention, nil
	}
	records, err := c.recordsLocked()
	if err != nil {
		return nil, err
	}
	pruner, ok := records.(callrecord.Pruner)
	if !ok {
		return nil, fmt.Errorf("call store %T cannot be pruned", records)
	}
	r, err := callrecord.NewRetention(pruner, c.config.Store.RetentionSchedule, c.config.Store.RetentionMaxAge, c.log)
	if err != nil {
		return nil, err
	}
	c.retention = r
	return r, nil
}

// Calls returns the call lifecycle controller, wired to every other
// component. The first call fixes the devices; later calls return the
// cached controller. The caller runs it with Controller.Run.
//
// Simple usage:
//
//	calls, err := client.Calls(gatewaycall.Devices{Surface: ui})
//	go calls.Run(ctx)
//	callID, err := calls.PlaceCall(ctx, "bob", "", callrecord.TypeVideo)
func (c *Client) Calls(devices Devices) (*lifecycle.Controller, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.controller != nil {
		return c.controller, nil
	}

	records, err := c.recordsLocked()
	if err != nil {
		return nil, err
	}

	mc := c.config.MediaEngineConfig()
	mc.Logger = c.log

	lc := c.config.LifecycleControllerConfig()
	lc.Logger = c.log
	lc.Metrics = c.metrics

	ctrl, err := lifecycle.New(lc, lifecycle.Deps{
		Signaling: c.signalingLocked(),
		Media:     media.PionFactory{Config: mc},
		Records:   records,
		Profiles:  c.profilesLocked(),
		Rooms:     c.roomsLocked(),
		History:   c.historyLocked(),
		Surface:   devices.Surface,
		Ringer:    devices.Ringer,
		WakeLock:  devices.WakeLock,
		Notifier:  devices.Notifier,
	})
	if err != nil {
		return nil, err
	}
	c.controller = ctrl
	return ctrl, nil
}

// Metrics returns the collectors shared by every component
func (c *Client) Metrics() *metrics.Collectors {
	return c.metrics
}

// Registry returns the Prometheus registry the collectors are registered in
func (c *Client) Registry() *prometheus.Registry {
	return c.registry
}

// Logger returns the client's logger
func (c *Client) Logger() *logrus.Logger {
	return c.log
}

// Config returns the client's configuration
func (c *Client) Config() *config.Config {
	return c.config
}

// Core returns the core REST client
func (c *Client) Core() *callsdk.Client {
	return c.core
}

// Close stops retention, drops the gateway session and closes the record
// store. The controller must have stopped first.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.retention != nil {
		c.retention.Stop()
	}
	if c.signalingClient != nil {
		_ = c.signalingClient.Disconnect()
	}
	if c.sqlite != nil {
		err := c.sqlite.Close()
		c.sqlite = nil
		c.records = nil
		return err
	}
	return nil
}
