package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/downfa11-org/go-itest/pkg/auth"
	"github.com/downfa11-org/go-itest/pkg/bus"
	"github.com/downfa11-org/go-itest/pkg/config"
	"github.com/downfa11-org/go-itest/pkg/httpassert"
	"github.com/downfa11-org/go-itest/pkg/metrics"
	"github.com/downfa11-org/go-itest/pkg/urlify"
	"github.com/downfa11-org/go-itest/pkg/waiter"
	"github.com/downfa11-org/go-itest/util"
)

type rootOptions struct {
	configPath string
	logLevel   string

	cfg      *config.Config
	registry *prometheus.Registry
	exporter *http.Server
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "itest",
		Short:         "Smoke checks for the integration-test harness",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.exporter != nil {
				opts.exporter.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to YAML/JSON config file (default $ITEST_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(newIDCommand())
	cmd.AddCommand(newGetCommand(opts))
	cmd.AddCommand(newWaitCommand(opts))
	return cmd
}

func (o *rootOptions) setup() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.LogLevel = util.ParseLogLevel(o.logLevel)
	}
	util.SetLevel(cfg.LogLevel)

	o.cfg = cfg
	o.registry = prometheus.NewRegistry()
	if cfg.EnableExporter {
		o.exporter = metrics.StartMetricsServer(cfg.ExporterPort, o.registry)
	}
	util.Debug("config loaded: bus=%s sso=%s", cfg.Bus.Type, cfg.SSOEndpoint)
	return nil
}

func newIDCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "id <prefix>",
		Short: "Print a unique correlation id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), util.NewID(args[0]))
			return nil
		},
	}
}

func newGetCommand(opts *rootOptions) *cobra.Command {
	var (
		status  int
		as      string
		token   string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "get <service> <path>",
		Short: "GET a service endpoint and assert its status",
		Long: `Resolve <path> against the configured base URL of <service>, send an
authenticated GET and require the response status. The JSON body is printed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := opts.cfg.Service(args[0])
			if err != nil {
				return err
			}
			u, err := urlify.Urlify(base, args[1])
			if err != nil {
				return err
			}

			p, err := opts.provider(as, token)
			if err != nil {
				return err
			}
			if timeout <= 0 {
				timeout = opts.cfg.DefaultTimeout
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			v, ok, err := httpassert.New(p).Get(ctx, u, status)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%d (no body)\n", status)
				return nil
			}
			out, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().IntVar(&status, "status", http.StatusOK, "expected response status")
	cmd.Flags().StringVar(&as, "as", "manager", "identity to authenticate as (manager|user|none)")
	cmd.Flags().StringVar(&token, "token", "", "static bearer token, bypasses the identity provider")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "request timeout (default from config)")
	return cmd
}

func (o *rootOptions) provider(as, token string) (auth.Provider, error) {
	if token != "" {
		return auth.Static(token), nil
	}
	switch as {
	case "none":
		return auth.NoAuth, nil
	case "user":
		return auth.NewClientCredentials(o.cfg.UserCredentials())
	case "manager", "":
		return auth.NewClientCredentials(o.cfg.ManagerCredentials())
	default:
		return nil, fmt.Errorf("unknown identity %q: must be manager, user or none", as)
	}
}

func newWaitCommand(opts *rootOptions) *cobra.Command {
	var (
		timeout time.Duration
		publish string
		polling bool
	)

	cmd := &cobra.Command{
		Use:   "wait <topic> <id>",
		Short: "Wait for an event whose key ends with <id>",
		Long: `Subscribe to <topic> and wait until an event keyed with a suffix of <id>
arrives. With --publish the payload is sent to <topic> after subscribing, which
checks the bus round trip end to end.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, id := args[0], args[1]
			if timeout <= 0 {
				timeout = opts.cfg.DefaultTimeout
			}
			// a memory bus only makes sense as a loopback inside this process
			if opts.cfg.Bus.Type == bus.TypeMemory && opts.cfg.Bus.Memory == nil {
				opts.cfg.Bus.Memory = bus.NewMemoryBroker()
			}

			var action func(context.Context) error
			if publish != "" {
				action = func(ctx context.Context) error {
					b, err := bus.Create(ctx, opts.cfg.Bus, opts.registry)
					if err != nil {
						return err
					}
					defer b.Close()
					return b.Publish(ctx, topic, []byte(publish))
				}
			}

			wopts := []waiter.Option{waiter.WithRegisterer(opts.registry)}
			if polling {
				wopts = append(wopts, waiter.WithPolling())
			}

			start := time.Now()
			if err := opts.cfg.NewWaiter(wopts...).Await(cmd.Context(), timeout, topic, id, action); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ event for %s on %s after %v\n", id, topic, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "wait deadline (default from config)")
	cmd.Flags().StringVar(&publish, "publish", "", "payload to publish to <topic> after subscribing")
	cmd.Flags().BoolVar(&polling, "poll", false, "poll the subscription instead of blocking receives")
	return cmd
}
