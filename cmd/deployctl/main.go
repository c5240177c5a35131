package main

import (
	"os"

	"github.com/Heeyaichen/azure-qr-code-devOps/internal/cli"
	"github.com/Heeyaichen/azure-qr-code-devOps/internal/logging"
)

// main is the entry point for the deployctl CLI binary.
func main() {
	logger := logging.NewLogger(os.Stderr, logging.LevelInfo)
	if err := cli.Execute(os.Args[1:], logger); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
