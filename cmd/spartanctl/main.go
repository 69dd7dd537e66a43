// Command spartanctl drives the simulated kernel: booting it, running its
// end-to-end demo scenarios, and managing its configuration file.
package main

import (
	"fmt"
	"os"

	"spartan/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
