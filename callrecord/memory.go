/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package callrecord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tejzpr/gateway-calling-go/callsdk"
)

// MemoryStore is an in-process Channel. Both parties of a call must share
// the same instance.
type MemoryStore struct {
	hub *hub

	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(log logrus.FieldLogger) *MemoryStore {
	return &MemoryStore{
		hub:     newHub(callsdk.Component(log, "callrecord")),
		records: make(map[string]*Record),
	}
}

// Create implements Channel.
func (s *MemoryStore) Create(ctx context.Context, r *Record) error {
	if err := validate(r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.CallID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, r.CallID)
	}
	cp := *r
	s.records[r.CallID] = &cp
	s.hub.publish(cp, true)
	return nil
}

// UpdateStatus implements Channel.
func (s *MemoryStore) UpdateStatus(ctx context.Context, callID string, status Status, at time.Time) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[callID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, callID)
	}
	next := *r
	changed, err := next.apply(status, at)
	if err != nil {
		return nil, err
	}
	if changed {
		*r = next
		s.hub.publish(next, false)
	}
	return &next, nil
}

// Get implements Channel.
func (s *MemoryStore) Get(ctx context.Context, callID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[callID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, callID)
	}
	cp := *r
	return &cp, nil
}

// WatchCall implements Channel.
func (s *MemoryStore) WatchCall(ctx context.Context, callID string) (<-chan Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[callID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, callID)
	}
	return s.hub.watchCall(ctx, callID, r), nil
}

// WatchIncoming implements Channel.
func (s *MemoryStore) WatchIncoming(ctx context.Context, receiverID string) (<-chan Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ringing []Record
	for _, r := range s.records {
		if r.ReceiverID == receiverID && r.Status == StatusRinging {
			ringing = append(ringing, *r)
		}
	}
	return s.hub.watchIncoming(ctx, receiverID, ringing), nil
}

// Prune implements Pruner.
func (s *MemoryStore) Prune(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := before.UnixMilli()
	n := 0
	for id, r := range s.records {
		if r.Status.Terminal() && r.EndTime > 0 && r.EndTime < cutoff {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}
