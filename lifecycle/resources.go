/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package lifecycle

import (
	"sync"
	"time"
)

// The device interfaces below are called on the controller goroutine. They
// must return promptly and must not call Controller methods synchronously:
// a command sent from inside a callback waits on the goroutine that is
// running the callback. Start a goroutine, as a ringing screen that calls
// Accept or Reject would.

// Surface is the user-facing side of a call: the ringing screen and the
// in-call screen.
type Surface interface {
	OnRing(label string, isVideo bool)
	OnConnected()
	OnEnded(reason string)
}

// Ringer plays the ringtone and vibration for an incoming call.
type Ringer interface {
	Start(label string, isVideo bool)
	Stop()
}

// WakeLock keeps the device awake while a call is connected.
type WakeLock interface {
	Acquire()
	Release()
}

// DurationNotifier shows the running call duration, typically as an
// ongoing notification. Update is called once per tick while connected.
type DurationNotifier interface {
	Update(label string, elapsed time.Duration)
	Clear()
}

type nopSurface struct{}

func (nopSurface) OnRing(string, bool) {}
func (nopSurface) OnConnected()        {}
func (nopSurface) OnEnded(string)      {}

type nopRinger struct{}

func (nopRinger) Start(string, bool) {}
func (nopRinger) Stop()              {}

type nopWakeLock struct{}

func (nopWakeLock) Acquire() {}
func (nopWakeLock) Release() {}

type nopNotifier struct{}

func (nopNotifier) Update(string, time.Duration) {}
func (nopNotifier) Clear()                       {}

// inCall owns the device resources of one call. Every method is safe to call
// more than once and in any order; release undoes whatever was taken.
type inCall struct {
	ringer   Ringer
	wake     WakeLock
	notifier DurationNotifier

	mu       sync.Mutex
	ringing  bool
	acquired bool
	released bool

	silenceOnce sync.Once
	releaseOnce sync.Once
}

func newInCall(r Ringer, w WakeLock, n DurationNotifier) *inCall {
	return &inCall{ringer: r, wake: w, notifier: n}
}

func (r *inCall) ring(label string, isVideo bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released || r.ringing {
		return
	}
	r.ringing = true
	r.ringer.Start(label, isVideo)
}

func (r *inCall) silence() {
	r.mu.Lock()
	ringing := r.ringing
	r.mu.Unlock()
	if ringing {
		r.silenceOnce.Do(r.ringer.Stop)
	}
}

func (r *inCall) acquire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released || r.acquired {
		return
	}
	r.acquired = true
	r.wake.Acquire()
}

func (r *inCall) tick(label string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.notifier.Update(label, elapsed)
}

func (r *inCall) release() {
	r.releaseOnce.Do(func() {
		r.silence()

		r.mu.Lock()
		r.released = true
		acquired := r.acquired
		r.mu.Unlock()

		if acquired {
			r.wake.Release()
		}
		r.notifier.Clear()
	})
}
