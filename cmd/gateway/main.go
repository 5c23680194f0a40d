// SPDX-License-Identifier: MIT
package main

import (
	"fmt"
	"os"

	"github.com/lockerfleet/fleet/cmd/gateway/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
