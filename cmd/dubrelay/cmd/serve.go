package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	internalhttp "github.com/kobaltstream/dubrelay/internal/http"
	"github.com/kobaltstream/dubrelay/internal/hooks"
	"github.com/kobaltstream/dubrelay/internal/manager"
	"github.com/kobaltstream/dubrelay/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dubrelay hook listener",
	Long: `Start the dubrelay hook listener.

The server provides:
- POST /ready and /not-ready hook endpoints for the media router`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("sts-url", "ws://localhost:3000", "STS Socket.IO service URL")
	serveCmd.Flags().String("source-lang", "en", "Source language code")
	serveCmd.Flags().String("target-lang", "zh", "Target language code")

	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("worker.sts_url", serveCmd.Flags().Lookup("sts-url"))
	viper.BindPFlag("worker.source_lang", serveCmd.Flags().Lookup("source-lang"))
	viper.BindPFlag("worker.target_lang", serveCmd.Flags().Lookup("target-lang"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := loadConfigFromViper()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	workerManager := manager.New()
	hookHandler := hooks.New(workerManager, cfg.Worker, logger)

	serverConfig := internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	server := internalhttp.NewServer(serverConfig, logger, version.Version)
	hookHandler.Register(server.API())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting dubrelay hook listener",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.String("version", version.Version),
	)

	if err := server.ListenAndServe(ctx); err != nil {
		return err
	}

	failures := workerManager.CleanupAll(context.Background())
	for streamID, err := range failures {
		logger.Error("failed to stop worker during shutdown", slog.String("stream_id", streamID), slog.String("error", err.Error()))
	}
	return nil
}
