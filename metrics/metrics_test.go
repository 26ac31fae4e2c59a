/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/tejzpr/gateway-calling-go/callsdk"
)

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRequest("join", 20*time.Millisecond, nil)
	m.ObserveRequest("configure", 30*time.Millisecond, &callsdk.ProtocolError{Code: 433, Reason: "denied"})
	m.ObserveRequest("configure", 30*time.Millisecond, errors.New("timeout"))
	m.SetPending(3)
	m.AnnouncementDropped("stale")
	m.AnnouncementDropped("stale")
	m.Transition("IDLE", "RINGING_IN")
	m.CallStarted()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("join")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("configure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProtocolErrors.WithLabelValues("configure")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PendingTransactions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AnnouncementsDropped.WithLabelValues("stale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateTransitions.WithLabelValues("IDLE", "RINGING_IN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveCalls))

	m.CallEnded("hangup")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveCalls))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CallsEnded.WithLabelValues("hangup")))
}

func TestNilCollectors(t *testing.T) {
	var m *Collectors
	assert.NotPanics(t, func() {
		m.ObserveRequest("create", time.Millisecond, nil)
		m.SetPending(1)
		m.AnnouncementDropped("duplicate")
		m.Transition("IDLE", "RINGING_OUT")
		m.CallStarted()
		m.CallEnded("cancelled")
	})
}

func TestNewWithoutRegistry(t *testing.T) {
	// Two private registries must not collide.
	assert.NotPanics(t, func() {
		New(nil)
		New(nil)
	})
}
