package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ibivanov/netfleet/internal/config"
	"github.com/ibivanov/netfleet/internal/device"
	"github.com/ibivanov/netfleet/internal/fleet"
	"github.com/ibivanov/netfleet/internal/lg"
	"github.com/ibivanov/netfleet/internal/probe"
	"github.com/ibivanov/netfleet/internal/runner"
	"github.com/ibivanov/netfleet/internal/session"
	"github.com/ibivanov/netfleet/internal/sink"
	"github.com/ibivanov/netfleet/internal/task"
)

const serviceName = "netfleet"

// errBatchDegraded signals that the run completed but at least one device
// did not finish with Success.
var errBatchDegraded = errors.New("batch finished with failures")

var (
	flagConfig      string
	flagInventory   string
	flagConcurrency int
	flagCommands    []string
)

var rootCmd = &cobra.Command{
	Use:           "netfleet",
	Short:         "Run audit and configuration tasks across a fleet of network devices over SSH",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Run read-only show commands on every device",
	Long:  "Runs the audit command set on every inventory device. Without --commands the stock set is used: show ip interface brief, show version, show running-config.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd.Context(), task.NewShow(flagCommands))
	},
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push configuration commands to every device, backing up first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(flagCommands) == 0 {
			return fmt.Errorf("push requires --commands")
		}
		return runBatch(cmd.Context(), task.NewConfigPush(flagCommands))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().StringVarP(&flagInventory, "inventory", "i", "", "inventory file, overrides the configured source")
	rootCmd.PersistentFlags().IntVar(&flagConcurrency, "concurrency", 0, "devices processed at once, overrides config")
	rootCmd.PersistentFlags().StringSliceVar(&flagCommands, "commands", nil, "commands to run, in order")
	rootCmd.AddCommand(showCmd, pushCmd)
}

func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func runBatch(ctx context.Context, tk task.Task) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagInventory != "" {
		cfg.Inventory.Source = "file"
		cfg.Inventory.Path = flagInventory
	}
	if flagConcurrency > 0 {
		cfg.Batch.Concurrency = flagConcurrency
	}

	logger := lg.New(&lg.Config{ServiceName: serviceName, Debug: cfg.Log.Debug, Format: cfg.Log.Format})
	defer logger.Sync()
	ctx = lg.Attach(ctx, logger)

	inventory, err := loadInventory(ctx, cfg)
	if err != nil {
		return err
	}

	tk.ProbeTimeout = cfg.Batch.ProbeTimeout.Std()
	tk.ConnectTimeout = cfg.Batch.ConnectTimeout.Std()
	tk.CommandTimeout = cfg.Batch.CommandTimeout.Std()

	resultSink, closeSink := buildSink(cfg)
	defer closeSink()

	r := runnerFor(resultSink, logger)
	orch := fleet.New(r, resultSink, cfg.Batch.Concurrency, logger)

	summary, err := orch.Execute(ctx, inventory, tk)
	if err != nil {
		return err
	}

	fmt.Print(summary.String())
	if !summary.OK() {
		return errBatchDegraded
	}
	return nil
}

func loadInventory(ctx context.Context, cfg config.Config) ([]device.Descriptor, error) {
	var store device.Store
	switch cfg.Inventory.Source {
	case "mongo":
		ms, err := device.NewMongoStore(ctx, cfg.Inventory.Mongo.URI, cfg.Inventory.Mongo.DBName, cfg.Inventory.Mongo.Collection)
		if err != nil {
			return nil, err
		}
		defer ms.Close(ctx)
		store = ms
	default:
		store = device.NewFileStore(cfg.Inventory.Path)
	}
	return store.Load(ctx)
}

func runnerFor(backups runner.BackupWriter, logger lg.Logger) *runner.Runner {
	return runner.New(probe.TCPProber{}, session.NewSSHProvider(), backups, logger)
}

func buildSink(cfg config.Config) (*sink.FileSink, func()) {
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic != "" {
		pub := sink.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		s := sink.New(cfg.Output.Dir, cfg.Output.AuditPath, sink.WithPublisher(pub))
		return s, func() { pub.Close() }
	}
	return sink.New(cfg.Output.Dir, cfg.Output.AuditPath), func() {}
}
