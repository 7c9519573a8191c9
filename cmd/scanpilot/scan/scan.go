package scan

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"scanpilot/internal/app"
	"scanpilot/internal/config"
	"scanpilot/internal/models"
	"scanpilot/pkg/logger"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Config holds the scan command's flags.
type Config struct {
	Target     string
	Tools      []string
	Timeout    time.Duration
	Verbose    bool
	ConfigFile string
}

// Run executes a single scan in-process and prints the result.
func Run(ctx context.Context, opts *Config, out io.Writer) error {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: opts.ConfigFile})
	if err != nil {
		return err
	}
	return runWith(ctx, cfg, opts, app.Options{ToolTimeout: opts.Timeout}, out)
}

func runWith(ctx context.Context, cfg *config.Config, opts *Config, appOpts app.Options, out io.Writer) error {
	level := logger.ParseLevel(cfg.Log.Level)
	if opts.Verbose {
		level = logrus.DebugLevel
	}
	log := logger.NewLogger(level)
	log.SetOutput(os.Stderr)

	a, err := app.New(cfg, log, appOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	scan, err := a.Orchestrator.StartScan(ctx, opts.Target, opts.Tools)
	if err != nil {
		_ = a.Close(context.Background())
		return err
	}

	// An interrupt asks the scan to stop after the running tools.
	waitDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-waitDone:
			return
		}
		if ok, _ := a.Orchestrator.CancelScan(scan.ID); ok {
			log.WithFields(logger.Fields{"scan_id": scan.ID}).Info("Cancellation requested, waiting for running tools")
		}
	}()

	final, err := a.Orchestrator.Wait(context.Background(), scan.ID)
	close(waitDone)
	if closeErr := a.Close(context.Background()); closeErr != nil {
		log.WithError(closeErr).Warn("Shutdown incomplete")
	}
	if err != nil {
		return err
	}

	findings, err := a.Orchestrator.ListFindings(scan.ID)
	if err != nil {
		return err
	}
	printScan(out, final, findings)

	if final.Status == models.ScanStatusFailed {
		return fmt.Errorf("scan failed: %s", final.Summary)
	}
	return nil
}

func printScan(out io.Writer, scan *models.Scan, findings []*models.Finding) {
	fmt.Fprintf(out, "Scan %s\n", scan.ID)
	fmt.Fprintf(out, "  Target:   %s\n", scan.Target)
	fmt.Fprintf(out, "  Tools:    %s\n", strings.Join(scan.Tools, ", "))
	fmt.Fprintf(out, "  Status:   %s\n", scan.Status)
	if scan.DurationSeconds != nil {
		fmt.Fprintf(out, "  Duration: %ds\n", *scan.DurationSeconds)
	}
	if scan.Status != models.ScanStatusFailed {
		fmt.Fprintf(out, "  Issues:   %d (%d critical), risk %d/100\n", scan.Issues, scan.Critical, scan.RiskScore)
	}
	if scan.Summary != "" {
		fmt.Fprintf(out, "\n%s\n", scan.Summary)
	}
	if scan.AISummary != "" && scan.AISummary != scan.Summary {
		fmt.Fprintf(out, "\n%s\n", scan.AISummary)
	}

	if len(findings) == 0 {
		return
	}
	fmt.Fprintln(out, "\nFindings:")
	for _, f := range findings {
		location := f.Host
		if f.Port != nil {
			location = fmt.Sprintf("%s:%d", f.Host, *f.Port)
		}
		fmt.Fprintf(out, "  [%s] %s (%s, %s)\n", f.Severity, f.Title, location, f.Tool)
	}
}

// NewScanCommand creates the scan command
func NewScanCommand() *cobra.Command {
	opts := &Config{}

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan and print the summary",
		Long:  `Run the selected tools against a target, wait for the analyst summary and print it`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return Run(ctx, opts, cmd.OutOrStdout())
		},
	}

	scanCmd.Flags().StringVarP(&opts.Target, "target", "t", "", "Host, IP or URL to scan (required)")
	scanCmd.Flags().StringSliceVar(&opts.Tools, "tools", []string{"Nmap"}, "Comma separated tool names")
	scanCmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "Per-tool timeout, overrides the catalog")
	scanCmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Enable verbose logging")
	scanCmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "", "Path to the config file")

	scanCmd.MarkFlagRequired("target")

	return scanCmd
}
