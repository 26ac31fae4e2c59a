/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package metrics holds the Prometheus collectors for signaling and call
// lifecycle. Every method is safe on a nil *Collectors, so components can be
// built without metrics.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tejzpr/gateway-calling-go/callsdk"
)

const namespace = "gatewaycall"

// Collectors groups every metric exported by the SDK.
type Collectors struct {
	Requests            *prometheus.CounterVec
	ProtocolErrors      *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	PendingTransactions prometheus.Gauge

	AnnouncementsDropped *prometheus.CounterVec
	StateTransitions     *prometheus.CounterVec
	CallsEnded           *prometheus.CounterVec
	ActiveCalls          prometheus.Gauge
}

// New registers the collectors with reg. A nil reg gets a private registry.
func New(reg prometheus.Registerer) *Collectors {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Collectors{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_requests_total",
			Help:      "Gateway requests sent, by request type.",
		}, []string{"request"}),
		ProtocolErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_protocol_errors_total",
			Help:      "Gateway error responses, by request type.",
		}, []string{"request"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "signaling_request_duration_seconds",
			Help:      "Time from request to gateway response.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"request"}),
		PendingTransactions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signaling_pending_transactions",
			Help:      "Transactions waiting for a gateway response.",
		}),
		AnnouncementsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcements_dropped_total",
			Help:      "Incoming call announcements dropped, by reason.",
		}, []string{"reason"}),
		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Call lifecycle state transitions.",
		}, []string{"from", "to"}),
		CallsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_ended_total",
			Help:      "Calls that reached a terminal state, by reason.",
		}, []string{"reason"}),
		ActiveCalls: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "1 while the device has a current call.",
		}),
	}
}

// ObserveRequest records one completed gateway request.
func (c *Collectors) ObserveRequest(request string, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.Requests.WithLabelValues(request).Inc()
	c.RequestDuration.WithLabelValues(request).Observe(d.Seconds())
	var pe *callsdk.ProtocolError
	if errors.As(err, &pe) {
		c.ProtocolErrors.WithLabelValues(request).Inc()
	}
}

// SetPending sets the number of in-flight transactions.
func (c *Collectors) SetPending(n int) {
	if c == nil {
		return
	}
	c.PendingTransactions.Set(float64(n))
}

// AnnouncementDropped counts a dropped incoming call.
func (c *Collectors) AnnouncementDropped(reason string) {
	if c == nil {
		return
	}
	c.AnnouncementsDropped.WithLabelValues(reason).Inc()
}

// Transition counts a state change.
func (c *Collectors) Transition(from, to string) {
	if c == nil {
		return
	}
	c.StateTransitions.WithLabelValues(from, to).Inc()
}

// CallEnded counts a finished call and clears the active gauge.
func (c *Collectors) CallEnded(reason string) {
	if c == nil {
		return
	}
	c.CallsEnded.WithLabelValues(reason).Inc()
	c.ActiveCalls.Set(0)
}

// CallStarted marks a call as current.
func (c *Collectors) CallStarted() {
	if c == nil {
		return
	}
	c.ActiveCalls.Set(1)
}
