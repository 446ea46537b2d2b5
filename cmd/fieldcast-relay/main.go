package main

import (
	"os"

	cmd "github.com/fieldcast/fieldcast/cmd/fieldcast-relay/commands"
)

func main() {
	rootCmd := cmd.RootCmd

	// Do not print usage when an error occurs.
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
