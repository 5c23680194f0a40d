// SPDX-License-Identifier: MIT

package config

import (
	"fmt"

	"github.com/spf13/cobra"

	fleetconfig "github.com/lockerfleet/fleet/internal/config"
	"github.com/lockerfleet/fleet/internal/version"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the gateway configuration file",
	Long: `Loads configuration under the usual ENV > File > Defaults
precedence and reports any validation errors without starting the
gateway.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	loader := fleetconfig.NewLoader(configPath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	fmt.Printf("configuration valid (data_dir=%s, listen_addr=%s)\n", cfg.DataDir, cfg.Server.ListenAddr)
	return nil
}
