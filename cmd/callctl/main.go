/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Command callctl places and answers calls through a Janus gateway and
// inspects the rooms and history kept by the calling backend.
//
// Usage:
//
//	callctl --config callctl.yaml listen --auto-accept --metrics-addr :9091
//	callctl --config callctl.yaml place bob --video
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
