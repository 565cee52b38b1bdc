// Package main provides the spread CLI.
package main

import (
	"os"

	"github.com/spread-ml/spread/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
