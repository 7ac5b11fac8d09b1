package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Chichichkin/ddlogs/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Load()

	cmd := &cobra.Command{
		Use:           "ddlogs-agent",
		Short:         "Ship Kubernetes pod logs to Datadog",
		Long:          "ddlogs-agent tails pod log files on a node and ships them in batches to Datadog (or Loki).",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	// env values loaded above are the flag defaults
	f := cmd.Flags()
	f.StringVar(&cfg.Backend, "backend", cfg.Backend, "delivery backend: datadog-http, datadog-tcp or loki")
	f.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "intake URL (datadog-http, loki) or host:port (datadog-tcp); Datadog backends default to the public intake")
	f.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "Datadog API key")
	f.BoolVar(&cfg.Compress, "compress", cfg.Compress, "gzip HTTP payloads")
	f.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "delivery attempts per batch")
	f.StringVar(&cfg.Mode, "mode", cfg.Mode, "dispatcher: blocking or nonblocking")
	f.StringVar(&cfg.Service, "service", cfg.Service, "default service attached to records")
	f.StringVar(&cfg.Source, "source", cfg.Source, "default ddsource attached to records")
	f.StringVar(&cfg.Hostname, "hostname", cfg.Hostname, "default host attached to records")
	f.StringVar(&cfg.Tags, "tags", cfg.Tags, "comma separated tags attached to every record")
	f.IntVar(&cfg.ChannelCapacity, "channel-capacity", cfg.ChannelCapacity, "queued records before new ones are dropped, 0 for unbounded")
	f.IntVar(&cfg.MaxBatchSize, "batch-size", cfg.MaxBatchSize, "records per delivery")
	f.BoolVar(&cfg.SelfLog, "self-log", cfg.SelfLog, "report dispatcher diagnostics in the agent log")
	f.StringVar(&cfg.LogRootPath, "log-path", cfg.LogRootPath, "root directory of pod logs")
	f.StringVar(&cfg.NodeName, "node-name", cfg.NodeName, "node label attached to records")
	f.IntVar(&cfg.MinWorkers, "min-workers", cfg.MinWorkers, "minimum tailing workers")
	f.IntVar(&cfg.MaxWorkers, "max-workers", cfg.MaxWorkers, "maximum tailing workers")
	f.DurationVar(&cfg.ScanInterval, "scan-interval", cfg.ScanInterval, "how often the log path is rescanned")
	f.BoolVar(&cfg.FromStart, "from-start", cfg.FromStart, "read discovered files from the beginning")
	f.StringVar(&cfg.Filter, "filter", cfg.Filter, "CEL expression selecting lines to ship")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "agent log level")
	f.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "write agent logs to this rotated file as well as stderr")

	return cmd
}
