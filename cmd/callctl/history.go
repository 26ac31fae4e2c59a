/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tejzpr/gateway-calling-go/callrecord"
)

func newHistoryCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show and maintain call history",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the call history kept by the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			items, err := client.History().List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCALLER\tRECEIVER\tTYPE\tSTATUS\tDURATION\tCREATED")
			for _, it := range items {
				r := callrecord.Record{Duration: it.Duration}
				created := ""
				if it.CreatedAt > 0 {
					created = time.UnixMilli(it.CreatedAt).Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					it.ID, it.CallerID, it.ReceiverID, it.CallType, it.Status, r.FormattedDuration(), created)
			}
			return tw.Flush()
		},
	}

	var limit int
	recent := &cobra.Command{
		Use:   "recent",
		Short: "List recent calls from the local SQLite store",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			defer client.Close()
			records, err := client.Records()
			if err != nil {
				return err
			}
			store, ok := records.(*callrecord.SQLiteStore)
			if !ok {
				return fmt.Errorf("recent needs store.driver=sqlite")
			}
			calls, err := store.Recent(cmd.Context(), client.Config().API.UserID, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CALL\tCALLER\tRECEIVER\tTYPE\tSTATUS\tDURATION")
			for i := range calls {
				r := &calls[i]
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.CallID, r.CallerID, r.ReceiverID, r.Type, r.Status, r.FormattedDuration())
			}
			return tw.Flush()
		},
	}
	recent.Flags().IntVar(&limit, "limit", 20, "number of calls to show")

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished calls older than store.retention_max_age",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			defer client.Close()
			r, err := client.Retention()
			if err != nil {
				return err
			}
			if r == nil {
				return fmt.Errorf("retention is disabled (store.retention_schedule is empty)")
			}
			n, err := r.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d call(s)\n", n)
			return nil
		},
	}

	cmd.AddCommand(list, recent, prune)
	return cmd
}
