package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/batchcompose/batchcompose/pkg/cluster"
	"github.com/batchcompose/batchcompose/pkg/config"
	"github.com/batchcompose/batchcompose/pkg/events"
	"github.com/batchcompose/batchcompose/pkg/gateway"
	"github.com/batchcompose/batchcompose/pkg/log"
	"github.com/batchcompose/batchcompose/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "batchcompose",
	Short: "batchcompose - declarative cluster of batch jobs",
	Long: `batchcompose maintains a fixed composition of batch jobs against an
external scheduler. Declare how many instances of each (resource profile,
job template) pair should be running; batchcompose submits, watches, and
resubmits on failure, termination, or preemption, persisting its state so
a restart picks up every job already running.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"batchcompose version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("file", "f", "batchcompose.yaml", "Compose file")
}

// runtime bundles everything a command needs once the compose file is
// loaded and state restored.
type runtime struct {
	cfg     *config.Config
	cluster *cluster.Cluster
	broker  *events.Broker
	store   storage.Store
}

func (r *runtime) close() {
	r.broker.Stop()
	if err := r.store.Close(); err != nil {
		logger := log.WithComponent("main")
		logger.Warn().Err(err).Msg("failed to close state store")
	}
}

// setup loads the compose file, initializes logging, opens the store
// and assembles the cluster aggregate.
func setup(cmd *cobra.Command) (*runtime, error) {
	path, _ := cmd.Flags().GetString("file")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	gw := gateway.NewSlurmGateway(gateway.SlurmConfig{
		ScriptDir:   cfg.Gateway.ScriptDir,
		ElevatedQOS: cfg.Gateway.ElevatedQOS,
	})

	broker := events.NewBroker()
	broker.Start()

	c, err := cluster.New(cfg.ClusterConfig(), cfg.JobKinds(), gw, store, broker)
	if err != nil {
		broker.Stop()
		store.Close()
		return nil, err
	}

	return &runtime{cfg: cfg, cluster: c, broker: broker, store: store}, nil
}
