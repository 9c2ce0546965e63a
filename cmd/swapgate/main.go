package main

import (
	"github.com/swapgate/swapgate/internal/cmd"
	"github.com/swapgate/swapgate/internal/observability"
	"github.com/swapgate/swapgate/internal/server/handlers"
)

// Version information set via ldflags during build
// Example: go build -ldflags="-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2026-03-01"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	handlers.SetVersionInfo(version, commit, buildDate)

	if err := cmd.Execute(); err != nil {
		cmd.ExitWithCode(observability.CLILogger, cmd.ExitCodeFor(err), "Command execution failed", err)
	}
}
