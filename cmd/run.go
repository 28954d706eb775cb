package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ironfield/rtuhub/internal/alarm"
	"github.com/ironfield/rtuhub/internal/hub"
)

// NewRunCommand builds the foreground daemon command: it starts the
// hub and blocks until SIGINT/SIGTERM, then shuts down in place.
func NewRunCommand() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the hub in the foreground",
		Long:  `Run starts every subsystem (sensors, alarms, actuators, the PROFINET bridge, the data logger) and blocks until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.Default()

			h, err := hub.New(loadedConfig, logger, hub.Callbacks{
				OnDegradedMode: func(degraded bool) {
					logger.Warn("degraded mode changed", "degraded", degraded)
				},
				OnAlarmRaised: func(r alarm.Rule, hist alarm.History) {
					logger.Warn("alarm raised", "rule", r.Name, "severity", r.Severity)
				},
				OnAlarmCleared: func(r alarm.Rule, hist alarm.History) {
					logger.Info("alarm cleared", "rule", r.Name)
				},
				OnProfinetConnect: func() {
					logger.Info("profinet controller connected")
				},
				OnProfinetDisconnect: func() {
					logger.Warn("profinet controller disconnected")
				},
			})
			if err != nil {
				return fmt.Errorf("init hub: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := h.Start(ctx); err != nil {
				return fmt.Errorf("start hub: %w", err)
			}

			<-ctx.Done()
			logger.Info("shutdown signal received")

			if err := h.Shutdown(); err != nil {
				return fmt.Errorf("shutdown hub: %w", err)
			}
			return nil
		},
	}

	return runCmd
}
