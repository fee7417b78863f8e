package main

import (
	"log/slog"
	"os"

	"github.com/couchcryptid/covid-data-etl/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		slog.Error("covid-etl failed", "error", err)
		os.Exit(1)
	}
}
