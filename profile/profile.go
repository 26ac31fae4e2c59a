/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package profile looks up the display name shown for a caller.
package profile

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tejzpr/gateway-calling-go/callsdk"
)

// UnknownName is shown when a caller cannot be resolved.
const UnknownName = "Unknown"

// User is the subset of a user profile the calling SDK needs.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Config holds the configuration for the profile client
type Config struct {
	// CacheTTL is how long a resolved user is kept. Zero disables caching.
	CacheTTL time.Duration
	// LookupTimeout bounds DisplayName when the caller's context has no deadline.
	LookupTimeout time.Duration
}

// DefaultConfig returns the default configuration for the profile client
func DefaultConfig() *Config {
	return &Config{
		CacheTTL:      10 * time.Minute,
		LookupTimeout: 3 * time.Second,
	}
}

type cacheEntry struct {
	user    *User
	expires time.Time
}

// Client is the user profile API client. Concurrent lookups of the same id
// share one request.
type Client struct {
	core   *callsdk.Client
	config *Config
	group  singleflight.Group
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New creates a new profile client
func New(core *callsdk.Client, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	return &Client{
		core:   core,
		config: config,
		now:    time.Now,
		cache:  make(map[string]cacheEntry),
	}
}

// Get returns the profile of userID.
func (c *Client) Get(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID is required")
	}
	if u := c.cached(userID); u != nil {
		return u, nil
	}

	v, err, _ := c.group.Do(userID, func() (interface{}, error) {
		resp, err := c.core.Request(ctx, http.MethodGet, "users/"+url.PathEscape(userID), nil, nil)
		if err != nil {
			return nil, err
		}
		var user User
		if err := callsdk.ParseResponse(resp, &user); err != nil {
			return nil, err
		}
		if user.ID == "" {
			user.ID = userID
		}
		c.store(userID, &user)
		return &user, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*User), nil
}

// DisplayName resolves the label for userID. Any failure, including a
// timeout or an empty name, yields UnknownName.
func (c *Client) DisplayName(ctx context.Context, userID string) string {
	if _, ok := ctx.Deadline(); !ok && c.config.LookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.LookupTimeout)
		defer cancel()
	}

	user, err := c.Get(ctx, userID)
	if err != nil || user.Name == "" {
		return UnknownName
	}
	return user.Name
}

// Forget drops userID from the cache.
func (c *Client) Forget(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, userID)
}

func (c *Client) cached(userID string) *User {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache[userID]
	if !ok {
		return nil
	}
	if c.now().After(e.expires) {
		delete(c.cache, userID)
		return nil
	}
	return e.user
}

func (c *Client) store(userID string, u *User) {
	if c.config.CacheTTL <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[userID] = cacheEntry{user: u, expires: c.now().Add(c.config.CacheTTL)}
}
