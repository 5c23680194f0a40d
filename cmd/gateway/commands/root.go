// SPDX-License-Identifier: MIT

// Package commands implements the lockerfleet-gateway CLI.
package commands

import (
	"github.com/spf13/cobra"

	configcmd "github.com/lockerfleet/fleet/cmd/gateway/commands/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "lockerfleet-gateway",
	Short:         "Gateway Coordination Core for the RFID locker fleet",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (YAML)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configcmd.Cmd)
}
