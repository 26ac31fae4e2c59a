/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tejzpr/gateway-calling-go/callrecord"
	"github.com/tejzpr/gateway-calling-go/callsdk"
	"github.com/tejzpr/gateway-calling-go/janus"
	"github.com/tejzpr/gateway-calling-go/media"
)

// publishAttempts is the first try plus the single retry after acceptance.
const publishAttempts = 2

type negotiation struct {
	tag       tag
	role      Role
	provision bool
	adapter   media.Adapter
	after     <-chan struct{}
	done      chan struct{}
}

// startMedia creates the media adapter and negotiates the call's room in
// the background. The room is named after the call id.
func (c *Controller) startMedia(cl *call, provision bool) {
	adapter, err := c.deps.Media.NewAdapter(cl.record.IsVideo())
	if err != nil {
		c.fail(cl, ReasonNegotiationFailed, fmt.Errorf("create media adapter: %w", err))
		return
	}
	cl.adapter = adapter
	cl.signaling = true
	cl.negotiating = make(chan struct{})

	t := cl.tag
	adapter.OnLocalICECandidate(c.trickle)
	adapter.OnConnectionStateChange(func(feed int64, s media.ConnectionState) {
		if feed != 0 {
			return
		}
		c.post(t, func(cl *call) { c.onMediaHealth(cl, s.Healthy()) })
	})

	go c.negotiate(cl.ctx, negotiation{
		tag:       t,
		role:      cl.role,
		provision: provision,
		adapter:   adapter,
		after:     c.teardown,
		done:      cl.negotiating,
	})
}

func (c *Controller) negotiate(ctx context.Context, n negotiation) {
	defer close(n.done)
	callID := n.tag.callID
	log := c.log.WithFields(logrus.Fields{"call_id": callID, "role": n.role})
	failed := func(reason string, err error) {
		c.post(n.tag, func(cl *call) { c.fail(cl, reason, err) })
	}

	// the previous call's session must be gone before this one connects
	if n.after != nil {
		select {
		case <-n.after:
		case <-ctx.Done():
			return
		}
	}

	if n.provision && c.deps.Rooms != nil {
		room, err := c.deps.Rooms.Create(ctx, callID)
		if err != nil {
			failed(ReasonSetupFailed, fmt.Errorf("provision room: %w", err))
			return
		}
		c.post(n.tag, func(cl *call) { cl.room = room })
	}

	if err := c.deps.Signaling.Connect(ctx, c.config.GatewayURL, c.config.GatewaySecret); err != nil {
		reason := ReasonNegotiationFailed
		if callsdk.IsTransportError(err) {
			reason = ReasonConnectionLost
		}
		failed(reason, err)
		return
	}

	var err error
	joined := false
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		err = c.joinAndPublish(ctx, n.adapter, callID, &joined)
		if err == nil || ctx.Err() != nil || !retryable(err) {
			break
		}
		log.WithError(err).WithField("attempt", attempt).Warn("join or publish failed")
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		reason := ReasonNegotiationFailed
		if callsdk.IsTransportError(err) {
			reason = ReasonConnectionLost
		}
		failed(reason, err)
		return
	}
	log.Info("published to room")

	if n.role == RoleCaller {
		c.post(n.tag, func(cl *call) {
			cl.published = true
			c.maybeConnect(cl)
		})
		return
	}

	if ctx.Err() != nil {
		return
	}
	// the receiver announces the answer only once the gateway confirmed it
	rec, err := c.deps.Records.UpdateStatus(ctx, callID, callrecord.StatusAccepted, c.now())
	if err != nil {
		if errors.Is(err, callrecord.ErrInvalidTransition) {
			c.post(n.tag, func(cl *call) {
				c.log.WithField("call_id", callID).WithError(err).Info("call ended before it was accepted")
				c.finish(cl, StateEnded, ReasonRemoteEnded, "")
			})
			return
		}
		failed(ReasonNegotiationFailed, fmt.Errorf("write accepted status: %w", err))
		return
	}
	c.post(n.tag, func(cl *call) {
		cl.record = *rec
		cl.published = true
		c.maybeConnect(cl)
	})
}

// retryable reports whether a join or publish failure may succeed on the
// same session.
func retryable(err error) bool {
	return !callsdk.IsTransportError(err) && !errors.Is(err, callsdk.ErrSessionClosed)
}

func (c *Controller) joinAndPublish(ctx context.Context, adapter media.Adapter, room string, joined *bool) error {
	offer, err := adapter.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	// a failed configure leaves the room joined
	if !*joined {
		if _, err := c.deps.Signaling.JoinRoom(ctx, room, c.config.DisplayName); err != nil {
			return err
		}
		*joined = true
	}
	answer, err := c.deps.Signaling.Publish(ctx, offer)
	if err != nil {
		return err
	}
	if err := adapter.SetRemoteAnswer(answer); err != nil {
		return fmt.Errorf("apply answer: %w", err)
	}
	return nil
}

// trickle forwards a local candidate. It runs on the media engine's
// goroutine; the signaling client serializes its own writes.
func (c *Controller) trickle(feed int64, cand media.Candidate) {
	jc := janus.Candidate{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
		Completed:     cand.Completed,
	}
	var err error
	if feed == 0 {
		err = c.deps.Signaling.Trickle(jc)
	} else {
		err = c.deps.Signaling.TrickleFeed(feed, jc)
	}
	if err != nil {
		c.log.WithField("feed", feed).WithError(err).Debug("trickle failed")
	}
}

func (c *Controller) handleSignal(ev janus.Event) {
	cl := c.active
	switch e := ev.(type) {
	case janus.TransportClosed:
		if !e.Unexpected() || cl == nil || !cl.signaling {
			return
		}
		c.fail(cl, ReasonConnectionLost, e.Err)

	case janus.PublisherJoined:
		if cl == nil || cl.adapter == nil {
			return
		}
		id := e.Publisher.ID
		if _, ok := cl.feeds[id]; ok {
			return
		}
		cl.feeds[id] = struct{}{}
		c.log.WithFields(logrus.Fields{"call_id": cl.record.CallID, "feed": id, "display": e.Publisher.Display}).Info("remote participant joined")
		go c.subscribeFeed(cl.ctx, cl.tag, cl.adapter, id)

	case janus.PublisherLeft:
		if cl == nil || cl.adapter == nil {
			return
		}
		if _, ok := cl.feeds[e.PublisherID]; !ok {
			return
		}
		delete(cl.feeds, e.PublisherID)
		if err := cl.adapter.RemoveFeed(e.PublisherID); err != nil {
			c.log.WithField("feed", e.PublisherID).WithError(err).Debug("removing feed failed")
		}
		if err := c.deps.Signaling.Unsubscribe(e.PublisherID); err != nil {
			c.log.WithField("feed", e.PublisherID).WithError(err).Debug("unsubscribe failed")
		}

	case janus.IceCandidate:
		if cl == nil || cl.adapter == nil {
			return
		}
		cand := media.Candidate{
			Candidate:     e.Candidate.Candidate,
			SDPMid:        e.Candidate.SDPMid,
			SDPMLineIndex: e.Candidate.SDPMLineIndex,
			Completed:     e.Candidate.Completed,
		}
		var err error
		if e.Feed == 0 {
			err = cl.adapter.AddRemoteICECandidate(cand)
		} else {
			err = cl.adapter.AddRemoteFeedCandidate(e.Feed, cand)
		}
		if err != nil {
			c.log.WithField("feed", e.Feed).WithError(err).Debug("applying remote candidate failed")
		}

	case janus.MediaState:
		if cl == nil || e.Feed != 0 {
			return
		}
		switch e.Kind {
		case "webrtcup":
			c.onMediaHealth(cl, true)
		case "hangup":
			c.onMediaHealth(cl, false)
		}

	case janus.ProtocolError:
		c.log.WithError(e.Err).Warn("gateway reported an error")

	default:
		c.log.WithField("event", fmt.Sprintf("%T", ev)).Debug("signaling event")
	}
}

func (c *Controller) subscribeFeed(ctx context.Context, t tag, adapter media.Adapter, feed int64) {
	offer, err := c.deps.Signaling.Subscribe(ctx, feed)
	var answer string
	if err == nil {
		answer, err = adapter.AcceptRemoteOffer(ctx, feed, offer)
	}
	if err == nil {
		err = c.deps.Signaling.Start(ctx, feed, answer)
	}
	c.post(t, func(cl *call) {
		log := c.log.WithFields(logrus.Fields{"call_id": cl.record.CallID, "feed": feed})
		if err != nil {
			// a missing remote feed does not end the call
			log.WithError(err).Warn("subscribing to remote feed failed")
			delete(cl.feeds, feed)
			return
		}
		log.Info("subscribed to remote feed")
	})
}
