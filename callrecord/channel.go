/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package callrecord

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Channel is the shared store both parties use to announce, answer and end
// calls. Watch channels are closed when ctx is done.
type Channel interface {
	Create(ctx context.Context, r *Record) error
	// UpdateStatus applies a status transition and returns the new record.
	// Repeating the current status is a no-op.
	UpdateStatus(ctx context.Context, callID string, status Status, at time.Time) (*Record, error)
	Get(ctx context.Context, callID string) (*Record, error)
	// WatchCall delivers the current record and then every change to it.
	WatchCall(ctx context.Context, callID string) (<-chan Record, error)
	// WatchIncoming delivers RINGING records addressed to receiverID,
	// including those already present when the watch starts.
	WatchIncoming(ctx context.Context, receiverID string) (<-chan Record, error)
}

// Pruner deletes finished records that ended before a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

const watchBuffer = 32

// hub fans record changes out to watchers inside this process.
type hub struct {
	log *logrus.Entry

	mu       sync.Mutex
	next     int
	calls    map[string]map[int]chan Record
	incoming map[string]map[int]chan Record
}

func newHub(log *logrus.Entry) *hub {
	return &hub{
		log:      log,
		calls:    make(map[string]map[int]chan Record),
		incoming: make(map[string]map[int]chan Record),
	}
}

func (h *hub) watch(ctx context.Context, set map[string]map[int]chan Record, key string, initial []Record) <-chan Record {
	ch := make(chan Record, watchBuffer+len(initial))
	for _, r := range initial {
		ch <- r
	}

	h.mu.Lock()
	h.next++
	id := h.next
	if set[key] == nil {
		set[key] = make(map[int]chan Record)
	}
	set[key][id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(set[key], id)
		if len(set[key]) == 0 {
			delete(set, key)
		}
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

func (h *hub) watchCall(ctx context.Context, callID string, current *Record) <-chan Record {
	var initial []Record
	if current != nil {
		initial = append(initial, *current)
	}
	return h.watch(ctx, h.calls, callID, initial)
}

func (h *hub) watchIncoming(ctx context.Context, receiverID string, ringing []Record) <-chan Record {
	return h.watch(ctx, h.incoming, receiverID, ringing)
}

// publish delivers r to the call's watchers and, for a new ringing call, to
// the receiver's watchers. A watcher whose buffer is full misses the update.
func (h *hub) publish(r Record, created bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.calls[r.CallID] {
		h.deliver(ch, r)
	}
	if created && r.Status == StatusRinging {
		for _, ch := range h.incoming[r.ReceiverID] {
			h.deliver(ch, r)
		}
	}
}

func (h *hub) deliver(ch chan Record, r Record) {
	select {
	case ch <- r:
	default:
		h.log.WithFields(logrus.Fields{"call_id": r.CallID, "status": r.Status}).Warn("watcher is not keeping up, dropping update")
	}
}
