/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	gatewaycall "github.com/tejzpr/gateway-calling-go"
	"github.com/tejzpr/gateway-calling-go/config"
)

// options are the global flags shared by every subcommand.
type options struct {
	configFile string
	logLevel   string
	userID     string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "callctl",
		Short: "callctl - one-to-one calls over a Janus video room gateway",
		Long: `callctl drives the gateway calling SDK from the command line.

It announces calls through the call record store, negotiates media with the
Janus VideoRoom plugin and reports call history to the calling backend.
Settings come from a YAML file and GATEWAYCALL_* environment variables,
e.g. GATEWAYCALL_GATEWAY_URL or GATEWAYCALL_API_USER_ID.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file path (YAML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level")
	cmd.PersistentFlags().StringVarP(&opts.userID, "user", "u", "", "override api.user_id")

	cmd.AddCommand(
		newPlaceCmd(opts),
		newListenCmd(opts),
		newRoomsCmd(opts),
		newHistoryCmd(opts),
		newHealthCmd(opts),
		newConfigCmd(opts),
	)
	return cmd
}

// load reads the configuration and applies flag overrides.
func (o *options) load() (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.userID != "" {
		cfg.API.UserID = o.userID
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (o *options) client() (*gatewaycall.Client, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	return gatewaycall.NewClient(cfg)
}
