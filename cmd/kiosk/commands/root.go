// SPDX-License-Identifier: MIT

// Package commands implements the lockerfleet-kiosk CLI.
package commands

import (
	"github.com/spf13/cobra"

	configcmd "github.com/lockerfleet/fleet/cmd/kiosk/commands/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "lockerfleet-kiosk",
	Short:         "Kiosk runtime for the RFID locker fleet",
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
