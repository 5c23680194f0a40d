// SPDX-License-Identifier: MIT

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lockerfleet/fleet/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("lockerfleet-kiosk %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		return nil
	},
}
