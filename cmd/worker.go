package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/booking-payments/internal/core/events"
	"github.com/frahmantamala/booking-payments/internal/paymentsync"
	"github.com/frahmantamala/booking-payments/pkg/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start worker pools for various services",
	Long:  `Start and manage worker pools: background bookkeeping queue, event bus monitoring.`,
}

// Background queue worker command
var queueWorkerCmd = &cobra.Command{
	Use:   "queue",
	Short: "Start the background bookkeeping queue",
	Long:  `Start the bounded worker pool that runs ledger, audit and notification tasks`,
	Run: func(cmd *cobra.Command, args []string) {
		startQueueWorker()
	},
}

// Event Bus worker command
var eventWorkerCmd = &cobra.Command{
	Use:   "events",
	Short: "Start event bus worker",
	Long:  `Start the event bus `,
	Run: func(cmd *cobra.Command, args []string) {
		startEventWorker()
	},
}

var (
	maxWorkers int
	queueSize  int
)

func startQueueWorker() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logger.LoggerWrapper()

	// Use command line flags if provided, otherwise use config values
	queueConfig := paymentsync.TaskQueueConfig{
		MaxWorkers: getIntFlag(maxWorkers, config.Background.MaxWorkers),
		QueueSize:  getIntFlag(queueSize, config.Background.QueueSize),
	}

	logger.Info("starting background queue worker",
		"max_workers", queueConfig.MaxWorkers,
		"queue_size", queueConfig.QueueSize)

	queue := paymentsync.NewTaskQueue(queueConfig, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("background queue worker is running. Press Ctrl+C to stop.")

	// wait for shutdown signal
	sig := <-sigChan
	logger.Info("received signal, shutting down background queue worker", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	queue.Shutdown(ctx)
	logger.Info("background queue worker shutdown complete")
}

func startEventWorker() {
	_, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logger.LoggerWrapper()

	eventBus := events.NewEventBus(logger)

	eventBus.Subscribe("test.event", func(ctx context.Context, event events.Event) error {
		logger.Info("received test event",
			"event_id", event.EventID(),
			"event_type", event.EventType(),
			"payload", event.Payload())
		return nil
	})

	logger.Info("event bus worker started. Waiting for events...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("event bus is running. Press Ctrl+C to stop.")

	sig := <-sigChan
	logger.Info("received signal, shutting down event bus", "signal", sig)
	logger.Info("event bus shutdown complete")
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	queueWorkerCmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "Maximum number of workers (overrides config)")
	queueWorkerCmd.Flags().IntVar(&queueSize, "queue-size", 0, "Task queue buffer size (overrides config)")

	workerCmd.AddCommand(queueWorkerCmd)
	workerCmd.AddCommand(eventWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
