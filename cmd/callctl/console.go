/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	gatewaycall "github.com/tejzpr/gateway-calling-go"
)

// console renders the call surface as lines of text. It implements
// lifecycle.Surface, lifecycle.Ringer and lifecycle.DurationNotifier.
type console struct {
	mu sync.Mutex
	w  io.Writer

	// onRing runs on its own goroutine for every incoming call.
	onRing func()
}

func newConsole(w io.Writer) *console {
	return &console{w: w}
}

func (c *console) devices() gatewaycall.Devices {
	return gatewaycall.Devices{Surface: c, Ringer: c, Notifier: c}
}

func (c *console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format+"\n", args...)
}

func kind(isVideo bool) string {
	if isVideo {
		return "video"
	}
	return "voice"
}

func (c *console) OnRing(label string, isVideo bool) {
	c.printf("incoming %s call from %s", kind(isVideo), label)
	if c.onRing != nil {
		go c.onRing()
	}
}

func (c *console) OnConnected() {
	c.printf("connected")
}

func (c *console) OnEnded(reason string) {
	c.printf("call ended: %s", reason)
}

func (c *console) Start(label string, isVideo bool) {
	c.printf("ringing (%s, %s)", label, kind(isVideo))
}

func (c *console) Stop() {}

func (c *console) Update(label string, elapsed time.Duration) {
	s := int64(elapsed / time.Second)
	if s > 0 && s%10 != 0 {
		return
	}
	c.printf("in call with %s %02d:%02d", label, s/60, s%60)
}

func (c *console) Clear() {}
