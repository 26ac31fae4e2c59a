/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tejzpr/gateway-calling-go/callrecord"
	"github.com/tejzpr/gateway-calling-go/lifecycle"
)

func newPlaceCmd(opts *options) *cobra.Command {
	var (
		conversation string
		video        bool
		maxDuration  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "place <receiver-id>",
		Short: "Call a user and stay in the call until it ends",
		Long: `Place a call to a user and stay in it until either side hangs up.

The call ends as missed when the receiver does not answer within
lifecycle.ring_timeout. Interrupting callctl hangs up.

Examples:
  callctl place bob
  callctl place bob --video --max-duration 5m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			defer client.Close()

			out := newConsole(cmd.OutOrStdout())
			calls, err := client.Calls(out.devices())
			if err != nil {
				return err
			}
			ended := endedEvents(calls)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			callType := callrecord.TypeVoice
			if video {
				callType = callrecord.TypeVideo
			}

			g, gctx := errgroup.WithContext(ctx)
			runCtx, stopRun := context.WithCancel(gctx)
			g.Go(func() error { return calls.Run(runCtx) })
			g.Go(func() error {
				defer stopRun()
				callID, err := calls.PlaceCall(gctx, args[0], conversation, callType)
				if err != nil {
					return err
				}
				out.printf("calling %s (call %s)", args[0], callID)

				var limit <-chan time.Time
				if maxDuration > 0 {
					timer := time.NewTimer(maxDuration)
					defer timer.Stop()
					limit = timer.C
				}

				select {
				case e := <-ended:
					out.printf("call %s %s", e.CallID, e.State)
					return nil
				case <-limit:
					out.printf("maximum duration reached, hanging up")
					if err := calls.EndCall(gctx); err != nil {
						return err
					}
				case <-gctx.Done():
					// Run hangs up on its way out
					return nil
				}

				select {
				case e := <-ended:
					out.printf("call %s %s", e.CallID, e.State)
				case <-gctx.Done():
				}
				return nil
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&conversation, "conversation", "", "conversation id reported with the call history")
	cmd.Flags().BoolVar(&video, "video", false, "place a video call")
	cmd.Flags().DurationVar(&maxDuration, "max-duration", 0, "hang up after this long (0 = no limit)")
	return cmd
}

// endedEvents forwards call_ended events. Events are dropped when the
// reader falls behind.
func endedEvents(calls *lifecycle.Controller) <-chan lifecycle.CallEnded {
	ch := make(chan lifecycle.CallEnded, 8)
	calls.Emitter.On(lifecycle.EventCallEnded, func(data interface{}) {
		e, ok := data.(lifecycle.CallEnded)
		if !ok {
			return
		}
		select {
		case ch <- e:
		default:
		}
	})
	return ch
}
