package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"namingpush/internal/app"
	"namingpush/internal/config"
)

func serveCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the push core and its HTTP API",
		Long: `Run the push core and its HTTP API.

Configuration is read from --config (YAML or JSON) and reloaded when the file
changes. Environment variables prefixed with ` + config.EnvPrefix + `_ override the file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfgPath)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config file")
	return cmd
}

func runServe(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = a.Stop(stopCtx)
		return fmt.Errorf("start: %w", err)
	}

	// Not running under systemd is not an error.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	stopErr := a.Stop(stopCtx)
	if ctx.Err() == nil {
		// Stopped by a fatal supervisor error, not a signal.
		if err := a.Err(); err != nil {
			return err
		}
	}
	return stopErr
}

func checkConfigCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate a config file and print the effective push settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewManager(cfgPath).Load()
			if err != nil {
				return err
			}
			s, err := cfg.SubscriberSettings()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: %s\n", cfgPath)
			fmt.Fprintf(out, "push delay=%s max_wait=%s fuzzy_batch=%d timeout=%s\n",
				s.Push.PushTaskDelay, s.Push.MaxWait, s.Push.FuzzyBatchSize, s.Push.PushTimeout)
			fmt.Fprintf(out, "parallel_scan_threshold=%d http=%q monitor=%q\n",
				s.ParallelScanThreshold, cfg.HTTPAddr(), cfg.MonitorSpec())
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config file")
	return cmd
}
