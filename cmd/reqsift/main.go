// Package main provides the entry point for the reqsift CLI.
package main

import (
	"os"

	"github.com/reqsift/reqsift/cmd/reqsift/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
