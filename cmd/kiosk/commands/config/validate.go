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
	Short: "Validate the kiosk configuration file",
	Long: `Loads configuration under the usual ENV > File > Defaults
precedence and reports any validation errors without starting the
kiosk runtime.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	loader := fleetconfig.NewLoader(configPath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if cfg.Kiosk.ID == "" {
		return fmt.Errorf("kiosk.id must be configured")
	}

	fmt.Printf("configuration valid (kiosk_id=%s, gateway_url=%s)\n", cfg.Kiosk.ID, cfg.Gateway.URL)
	return nil
}
