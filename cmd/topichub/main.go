package main

import (
	"github.com/joho/godotenv"

	"github.com/3leaps/topichub/internal/cmd"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load()

	cmd.SetVersionInfo(version, commit, buildDate)
	cmd.Execute()
}
