// modelbench - configure, validate, save and run spec-driven models
package main

import (
	"os"

	"github.com/rescale/modelbench/internal/cli"
	"github.com/rescale/modelbench/internal/version"
)

// Version information, set by ldflags
var (
	Version   = ""
	BuildTime = ""
)

func main() {
	// The version package is the canonical source for all packages
	if Version != "" {
		version.Version = Version
	}
	if BuildTime != "" {
		version.BuildTime = BuildTime
	}

	// Execute prints the error
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
