package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/batchcompose/batchcompose/pkg/events"
	"github.com/batchcompose/batchcompose/pkg/log"
	"github.com/batchcompose/batchcompose/pkg/metrics"
	"github.com/batchcompose/batchcompose/pkg/reconciler"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Run the reconciliation loop in the foreground",
	Long: `Load the compose file, restore persisted state, and keep the declared
composition converged until interrupted. On SIGINT/SIGTERM the in-flight
tick completes and state is persisted before exit.`,
	RunE: runUp,
}

func init() {
	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.cluster.SetDesired(rt.cfg.Desired()); err != nil {
		return fmt.Errorf("failed to apply desired composition: %w", err)
	}

	// Mirror lifecycle events into the log.
	sub := rt.broker.Subscribe()
	go logEvents(sub)
	defer rt.broker.Unsubscribe(sub)

	if rt.cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(rt.cfg.MetricsAddr); err != nil {
				logger := log.WithComponent("metrics")
				logger.Error().Err(err).Msg("metrics endpoint failed")
			}
		}()
	}

	recon := reconciler.New(rt.cluster, rt.cfg.Interval.Std())
	recon.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger := log.WithComponent("main")
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	// Blocks until the in-flight tick has completed and persisted.
	recon.Stop()
	return nil
}

func logEvents(sub events.Subscriber) {
	logger := log.WithComponent("events")
	for event := range sub {
		logger.Debug().
			Str("type", string(event.Type)).
			Str("instance_id", event.InstanceID).
			Str("composition_key", event.CompositionKey).
			Str("message", event.Message).
			Msg("cluster event")
	}
}
