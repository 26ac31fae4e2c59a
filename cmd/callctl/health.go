/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHealthCmd(opts *options) *cobra.Command {
	var direct bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the gateway is reachable",
		Long: `Ask the calling backend whether it can reach the gateway. With --direct,
open a session on the gateway itself, attach to the VideoRoom plugin and
close it again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			out := cmd.OutOrStdout()

			if !direct {
				h, err := client.Rooms().Health(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "backend: %s (session %d)\n", h.Message, h.SessionID)
				return nil
			}

			cfg := client.Config()
			sig := client.Signaling()
			start := time.Now()
			if err := sig.Connect(ctx, cfg.Gateway.URL, cfg.Gateway.Secret); err != nil {
				return err
			}
			info := sig.State()
			_ = sig.Disconnect()
			fmt.Fprintf(out, "gateway: %s session=%d handle=%d in %s\n",
				cfg.Gateway.URL, info.SessionID, info.HandleID, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().BoolVar(&direct, "direct", false, "connect to the gateway instead of asking the backend")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "give up after this long")
	return cmd
}
