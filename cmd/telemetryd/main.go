package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/xela07ax/aurora-telemetry/internal/app"
	"github.com/xela07ax/aurora-telemetry/internal/infra"
	"go.uber.org/zap"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "telemetryd",
	Short:        "Aurora telemetry and audit pipeline",
	Long:         `Collects operational events, maintains rollups and the consent ledger, serves the dashboard API and writes the hash-chained audit log.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml or ./configs/config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := infra.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// 1. Сборка контура (хранилище, шина, фоновые задачи)
	core, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init telemetry core: %w", err)
	}

	// 2. Запуск слушателей
	if err := core.Start(ctx); err != nil {
		core.Shutdown(context.Background())
		return err
	}
	logger.Info("telemetryd started",
		zap.String("http", cfg.Server.Addr()),
		zap.String("db", cfg.Database.Driver),
		zap.String("bus", cfg.Bus.Driver),
	)

	// 3. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	var runErr error
	select {
	case sig := <-stop:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case runErr = <-core.Errors():
		logger.Error("listener failed", zap.Error(runErr))
	}

	// Даем 10 секунд на завершение запросов и дренаж очереди
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	core.Shutdown(shutdownCtx)
	return runErr
}
