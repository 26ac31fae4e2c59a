/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package lifecycle

import (
	"sync"

	"github.com/tejzpr/gateway-calling-go/callrecord"
)

// EventKey identifies the type of controller event
type EventKey string

const (
	// EventStateChanged carries a StateChange.
	EventStateChanged EventKey = "state_changed"
	// EventAnnouncementDropped carries an AnnouncementDropped.
	EventAnnouncementDropped EventKey = "announcement_dropped"
	// EventCallEnded carries a CallEnded.
	EventCallEnded EventKey = "call_ended"
)

// StateChange is emitted on every state transition.
type StateChange struct {
	From   State
	To     State
	CallID string
	Reason string
}

// AnnouncementDropped is emitted for an incoming call that was ignored.
type AnnouncementDropped struct {
	CallID string
	Reason string
	Err    error
}

// CallEnded is emitted once per call when it reaches a terminal state.
type CallEnded struct {
	CallID string
	Role   Role
	State  State
	Reason string
	Record callrecord.Record
}

// EventHandler receives the payload documented on its EventKey.
type EventHandler func(data interface{})

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventEmitter fans controller events out to handlers. Handlers run
// synchronously on the controller goroutine, in registration order, and
// must not block or call back into the controller. A handler may call On
// or Off; the change applies from the next Emit.
type EventEmitter struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[EventKey][]subscription
}

// NewEventEmitter creates an emitter with no handlers.
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		handlers: make(map[EventKey][]subscription),
	}
}

// On registers handler for event and returns a func that removes it again.
// A nil handler is ignored.
func (e *EventEmitter) On(event EventKey, handler EventHandler) (remove func()) {
	if handler == nil {
		return func() {}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	id := e.next
	e.handlers[event] = append(e.handlers[event], subscription{id: id, handler: handler})

	var once sync.Once
	return func() { once.Do(func() { e.remove(event, id) }) }
}

func (e *EventEmitter) remove(event EventKey, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	subs := e.handlers[event]
	for i, sub := range subs {
		if sub.id != id {
			continue
		}
		// copy so an Emit holding the old slice is unaffected
		rest := make([]subscription, 0, len(subs)-1)
		rest = append(rest, subs[:i]...)
		rest = append(rest, subs[i+1:]...)
		if len(rest) == 0 {
			delete(e.handlers, event)
		} else {
			e.handlers[event] = rest
		}
		return
	}
}

// Off removes every handler for event.
func (e *EventEmitter) Off(event EventKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, event)
}

// Emit calls the handlers registered for event when Emit starts.
func (e *EventEmitter) Emit(event EventKey, data interface{}) {
	e.mu.RLock()
	subs := e.handlers[event]
	e.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(data)
	}
}
