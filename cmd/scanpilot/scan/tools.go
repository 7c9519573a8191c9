package scan

import (
	"fmt"
	"io"
	"strings"

	"scanpilot/internal/config"
	"scanpilot/pkg/tools"

	"github.com/spf13/cobra"
)

func printTools(out io.Writer, defs []tools.Definition) {
	fmt.Fprintln(out, "Available Tools:")
	fmt.Fprintln(out, "================")
	for _, def := range defs {
		fmt.Fprintf(out, "\n• %s\n", def.Name)
		if def.Description != "" {
			fmt.Fprintf(out, "  Description: %s\n", def.Description)
		}
		fmt.Fprintf(out, "  Command: %s %s\n", def.Command, strings.Join(def.Args, " "))
		fmt.Fprintf(out, "  Timeout: %s\n", def.Timeout())
	}
}

// NewToolsCommand creates the tools command
func NewToolsCommand() *cobra.Command {
	var configFile string

	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tool catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := config.Load(config.LoadOptions{ConfigFile: configFile})
			if err != nil {
				return err
			}

			catalog := tools.DefaultCatalog()
			if cfg.Scanner.CatalogFile != "" {
				defs, err := tools.LoadFile(cfg.Scanner.CatalogFile)
				if err != nil {
					return err
				}
				if catalog, err = tools.NewCatalog(defs); err != nil {
					return err
				}
			}

			printTools(cmd.OutOrStdout(), catalog.List())
			return nil
		},
	}

	toolsCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the config file")
	return toolsCmd
}
