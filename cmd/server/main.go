package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blues/cfe/internal/config"
	"github.com/blues/cfe/internal/database"
	"github.com/blues/cfe/internal/logger"
	"github.com/blues/cfe/internal/router"
	"github.com/blues/cfe/internal/task"
	"github.com/spf13/cobra"
)

var (
	configFile string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "cfe",
	Short:         "Crowdfunding escrow service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configFile != "" {
			cfg, err = config.LoadFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}
		return logger.Setup(cfg.Log)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, background jobs and the chain event monitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.Open(cfg.Database)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}

		if err := database.Migrate(db); err != nil {
			return err
		}
		logger.Info("Database migrated")
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Scan once for expired campaigns and optionally mark them failed",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := task.NewFailedSweepJob(a.campaigns, a.platform, cfg.Task.AutoMarkFailed, cfg.Task.Interval).Run(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("expired: %v\nmarked failed: %v\n", result.Expired, result.Failed)
		for id, err := range result.Errors {
			fmt.Printf("campaign %d: %v\n", id, err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default: ./config.yaml)")
	rootCmd.AddCommand(serveCmd, migrateCmd, sweepCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// 启动定时任务
	jobs, err := task.NewManager()
	if err != nil {
		return err
	}
	if err := jobs.Register(task.NewFailedSweepJob(a.campaigns, a.platform, cfg.Task.AutoMarkFailed, cfg.Task.Interval)); err != nil {
		return err
	}
	if cfg.Cache.TTL > 0 {
		if err := jobs.Register(task.NewCacheWarmJob(a.ledger, cfg.Cache.TTL)); err != nil {
			return err
		}
	}
	jobs.Start()
	defer jobs.Stop()

	// 链账本模式下启动事件监控
	if a.monitor != nil {
		if err := a.monitor.Start(ctx); err != nil {
			return fmt.Errorf("failed to start event monitor: %w", err)
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router.Setup(cfg.Server, a.routerDeps()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
