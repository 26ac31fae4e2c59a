/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newRoomsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "Manage gateway rooms through the calling backend",
	}

	var sessionID, handleID int64

	create := &cobra.Command{
		Use:   "create <call-id>",
		Short: "Create the room of a call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			room, err := client.Rooms().Create(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "room %s session=%d handle=%d %s\n", room.RoomID, room.SessionID, room.HandleID, room.Message)
			return nil
		},
	}

	destroy := &cobra.Command{
		Use:   "destroy <call-id>",
		Short: "Destroy the room of a call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			if err := client.Rooms().Destroy(cmd.Context(), args[0], sessionID, handleID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "room %s destroyed\n", args[0])
			return nil
		},
	}
	destroy.Flags().Int64Var(&sessionID, "session", 0, "gateway session that created the room")
	destroy.Flags().Int64Var(&handleID, "handle", 0, "gateway handle that created the room")
	_ = destroy.MarkFlagRequired("session")
	_ = destroy.MarkFlagRequired("handle")

	get := &cobra.Command{
		Use:   "get <call-id>",
		Short: "Show whether the room of a call exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			info, err := client.Rooms().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "room %s exists=%t\n", info.Room, info.Exists)
			return nil
		},
	}

	var listSession, listHandle int64
	participants := &cobra.Command{
		Use:   "participants <call-id>",
		Short: "List the members of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			list, err := client.Rooms().Participants(cmd.Context(), args[0], listSession, listHandle)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDISPLAY\tPUBLISHER\tTALKING")
			for _, p := range list {
				fmt.Fprintf(tw, "%d\t%s\t%t\t%t\n", p.ID, p.Display, p.Publisher, p.Talking)
			}
			return tw.Flush()
		},
	}
	participants.Flags().Int64Var(&listSession, "session", 0, "gateway session to query with")
	participants.Flags().Int64Var(&listHandle, "handle", 0, "gateway handle to query with")

	cmd.AddCommand(create, destroy, get, participants)
	return cmd
}
