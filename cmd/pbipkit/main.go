// Package main is the entry point for the pbipkit CLI tool.
package main

import (
	"os"

	"github.com/aidanlsb/pbipkit/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
