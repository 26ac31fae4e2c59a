/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package callrecord

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/tejzpr/gateway-calling-go/callsdk"
)

// Retention periodically prunes finished records older than MaxAge.
type Retention struct {
	pruner Pruner
	maxAge time.Duration
	cron   *cron.Cron
	log    *logrus.Entry
	now    func() time.Time
}

// NewRetention schedules pruning with a cron spec such as "@hourly" or
// "@every 30m".
func NewRetention(pruner Pruner, schedule string, maxAge time.Duration, log logrus.FieldLogger) (*Retention, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention max age must be positive")
	}
	r := &Retention{
		pruner: pruner,
		maxAge: maxAge,
		cron:   cron.New(),
		log:    callsdk.Component(log, "retention"),
		now:    time.Now,
	}
	if _, err := r.cron.AddFunc(schedule, func() {
		if _, err := r.RunOnce(context.Background()); err != nil {
			r.log.WithError(err).Warn("pruning call records failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	return r, nil
}

// RunOnce prunes immediately and returns the number of records removed.
func (r *Retention) RunOnce(ctx context.Context) (int, error) {
	n, err := r.pruner.Prune(ctx, r.now().Add(-r.maxAge))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.WithField("removed", n).Info("pruned finished call records")
	}
	return n, nil
}

// Start begins the schedule in the background.
func (r *Retention) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running prune to finish.
func (r *Retention) Stop() {
	<-r.cron.Stop().Done()
}
