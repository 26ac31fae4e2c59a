/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	var reveal bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the configuration after defaults and environment overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if !reveal {
				cfg = cfg.Redacted()
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	show.Flags().BoolVar(&reveal, "reveal", false, "print secrets instead of masking them")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration without connecting to anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := opts.load(); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "INVALID: %v\n", err)
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "VALID")
			return nil
		},
	}

	cmd.AddCommand(show, validate)
	return cmd
}
