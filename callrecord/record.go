/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package callrecord holds the shared call document both parties read and
// write, the stores that persist it, and the call history REST client.
package callrecord

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle status of a call record.
type Status string

const (
	StatusRinging  Status = "RINGING"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
	StatusMissed   Status = "MISSED"
	StatusEnded    Status = "ENDED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusMissed || s == StatusEnded
}

// CallType is VOICE or VIDEO.
type CallType string

const (
	TypeVoice CallType = "VOICE"
	TypeVideo CallType = "VIDEO"
)

var (
	// ErrInvalidTransition is returned for a status update the record
	// lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid call status transition")
	// ErrNotFound is returned for an unknown call id.
	ErrNotFound = errors.New("call record not found")
	// ErrExists is returned when creating a call id twice.
	ErrExists = errors.New("call record already exists")
)

// Record is the shared call document. Times are unix milliseconds on the
// writer's clock; zero means unset.
type Record struct {
	CallID         string   `json:"callId"`
	CallerID       string   `json:"callerId"`
	ReceiverID     string   `json:"receiverId"`
	ConversationID string   `json:"conversationId,omitempty"`
	Type           CallType `json:"type"`
	Status         Status   `json:"status"`
	StartTime      int64    `json:"startTime"`
	AnsweredAt     int64    `json:"answeredAt,omitempty"`
	EndTime        int64    `json:"endTime,omitempty"`
	// Duration is in seconds, set when the call ends after being answered.
	Duration int64 `json:"duration,omitempty"`
}

// IsVideo reports whether the call carries video.
func (r *Record) IsVideo() bool {
	return r.Type == TypeVideo
}

// Age is how long ago the record was started, by the local clock.
func (r *Record) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(r.StartTime))
}

// FormattedDuration renders Duration as mm:ss, or hh:mm:ss past an hour.
func (r *Record) FormattedDuration() string {
	d := r.Duration
	if d <= 0 {
		return "00:00"
	}
	h, m, s := d/3600, (d%3600)/60, d%60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// CanTransition reports whether a record in status from may move to to.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusRinging:
		return to == StatusAccepted || to == StatusRejected || to == StatusMissed
	case StatusAccepted:
		return to == StatusEnded
	}
	return false
}

// apply moves r to status at time at, filling the derived timestamps.
// Writing the current status again is a no-op and reports false.
func (r *Record) apply(status Status, at time.Time) (bool, error) {
	if r.Status == status {
		return false, nil
	}
	if !CanTransition(r.Status, status) {
		return false, fmt.Errorf("%w: %s -> %s for call %s", ErrInvalidTransition, r.Status, status, r.CallID)
	}

	ms := at.UnixMilli()
	r.Status = status
	switch {
	case status == StatusAccepted:
		r.AnsweredAt = ms
	case status.Terminal():
		r.EndTime = ms
		if r.AnsweredAt > 0 && ms > r.AnsweredAt {
			r.Duration = (ms - r.AnsweredAt) / 1000
		}
	}
	return true, nil
}

func validate(r *Record) error {
	switch {
	case r == nil:
		return fmt.Errorf("record is required")
	case r.CallID == "":
		return fmt.Errorf("callId is required")
	case r.CallerID == "" || r.ReceiverID == "":
		return fmt.Errorf("callerId and receiverId are required")
	case r.Status != StatusRinging:
		return fmt.Errorf("new call %s must be %s, got %s", r.CallID, StatusRinging, r.Status)
	case r.Type != TypeVoice && r.Type != TypeVideo:
		return fmt.Errorf("unknown call type %q", r.Type)
	}
	return nil
}
