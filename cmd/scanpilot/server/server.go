package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scanpilot/api/routes"
	"scanpilot/internal/app"
	"scanpilot/internal/config"
	"scanpilot/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

type ServerOpts struct {
	Port       int
	Ip         string
	ConfigFile string
}

func NewServerCommand() *cobra.Command {
	opts := &ServerOpts{}

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start the Scanpilot server",
		Long:  `Start the Scanpilot API and dashboard`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := config.Load(config.LoadOptions{ConfigFile: opts.ConfigFile})
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = opts.Port
			}
			if cmd.Flags().Changed("ip") {
				cfg.Server.Host = opts.Ip
			}
			return run(cmd.Context(), cfg)
		},
	}

	serverCmd.Flags().IntVarP(&opts.Port, "port", "p", 3000, "Port to run the server on")
	serverCmd.Flags().StringVarP(&opts.Ip, "ip", "i", "", "IP address to bind the server to")
	serverCmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "", "Path to the config file")

	return serverCmd
}

func run(parent context.Context, cfg *config.Config) error {
	level := logger.ParseLevel(cfg.Log.Level)
	log := logger.NewLogger(level)
	if level < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := app.New(cfg, log, app.Options{UseDatabase: true, WatchCatalog: true})
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.Start(ctx)

	router := routes.InitRouter(routes.Dependencies{
		Scans:          a.Orchestrator,
		Chat:           a.Chat,
		Metrics:        a.Metrics,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         log,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logger.Fields{"addr": srv.Addr}).Info("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			shutdownApp(a, log)
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	return a.Close(shutdownCtx)
}

func shutdownApp(a *app.App, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		log.WithError(err).Warn("Shutdown incomplete")
	}
}
