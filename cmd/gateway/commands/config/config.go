// SPDX-License-Identifier: MIT

// Package config implements the "config" subcommand group.
package config

import "github.com/spf13/cobra"

// Cmd is the "config" parent command, added to the root by commands.init.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate configuration",
}

func init() {
	Cmd.AddCommand(validateCmd)
}
