/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tejzpr/gateway-calling-go/lifecycle"
)

func newListenCmd(opts *options) *cobra.Command {
	var (
		autoAccept  bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Wait for incoming calls",
		Long: `Watch the call record store for calls addressed to api.user_id and ring
for each one. With --auto-accept every call is answered as soon as it rings.

Prometheus metrics are served on --metrics-addr (or metrics.listen when
metrics.enabled is set).

Examples:
  callctl listen --user bob --auto-accept
  callctl listen --metrics-addr :9091`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			defer client.Close()

			cfg := client.Config()
			if cfg.API.UserID == "" {
				return fmt.Errorf("listen requires api.user_id (or --user)")
			}
			log := client.Logger().WithField("component", "callctl")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := newConsole(cmd.OutOrStdout())
			calls, err := client.Calls(out.devices())
			if err != nil {
				return err
			}
			if autoAccept {
				out.onRing = func() {
					if err := calls.Accept(ctx); err != nil {
						log.WithError(err).Warn("auto-accept failed")
					}
				}
			}
			calls.Emitter.On(lifecycle.EventAnnouncementDropped, func(data interface{}) {
				if d, ok := data.(lifecycle.AnnouncementDropped); ok {
					log.WithFields(logrus.Fields{"call_id": d.CallID, "reason": d.Reason}).Info("incoming call ignored")
				}
			})

			retention, err := client.Retention()
			if err != nil {
				return err
			}
			if retention != nil {
				retention.Start()
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return calls.Run(gctx) })

			if metricsAddr == "" && cfg.Metrics.Enabled {
				metricsAddr = cfg.Metrics.Listen
			}
			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(client.Registry(), promhttp.HandlerOpts{}))
				srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				g.Go(func() error {
					log.WithField("addr", metricsAddr).Info("serving metrics")
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return fmt.Errorf("metrics server: %w", err)
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
			}

			out.printf("listening for calls to %s", cfg.API.UserID)
			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&autoAccept, "auto-accept", false, "answer every incoming call")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}
