package main

import (
	"os"

	"github.com/autopress/autopress/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
