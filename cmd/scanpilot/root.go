package main

import (
	"context"

	"scanpilot/cmd/scanpilot/scan"
	"scanpilot/cmd/scanpilot/server"

	"github.com/spf13/cobra"
)

func Execute() error {
	var rootCmd = &cobra.Command{
		Use:   "scanpilot",
		Short: "Run security scanners concurrently and summarize the results",
		Long:  `Scanpilot runs a set of security tools against a target, merges their output and asks an AI analyst for a risk summary`,
	}

	rootCmd.AddCommand(scan.NewScanCommand())
	rootCmd.AddCommand(scan.NewToolsCommand())
	rootCmd.AddCommand(server.NewServerCommand())
	return rootCmd.ExecuteContext(context.Background())
}
