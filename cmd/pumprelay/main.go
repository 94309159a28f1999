package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rmacdonaldsmith/pumprelay-go/internal/config"
	"github.com/rmacdonaldsmith/pumprelay-go/internal/logging"
	"github.com/rmacdonaldsmith/pumprelay-go/internal/transport"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const (
	// Application info
	appName    = "pumprelay"
	appVersion = "0.1.0"
)

// overrides holds command-line values that take precedence over the config file
type overrides struct {
	configPath string
	nodeID     string
	listen     string
	secret     string
	noAuth     bool
	backend    string
	logLevel   string
	hostNodes  []string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Relay host commands to an insulin pump and pump events back to hosts",
		Long: `pumprelay owns the radio connection to a single pump. Hosts send commands over
the HTTP API; responses and pump notifications are pushed to configured host
nodes and to hosts attached to the event stream.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", appName, appVersion)
		},
	}
}

func newServeCommand() *cobra.Command {
	var o overrides

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, o)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	bindServeFlags(cmd.Flags(), &o)
	return cmd
}

func bindServeFlags(flags *pflag.FlagSet, o *overrides) {
	flags.StringVar(&o.configPath, "config", "", "Path to a YAML config file")
	flags.StringVar(&o.nodeID, "node-id", "", "Unique relay identifier")
	flags.StringVar(&o.listen, "listen", "", "Listen address for the HTTP API")
	flags.StringVar(&o.secret, "secret", "", "JWT signing secret (or PUMPRELAY_SECRET)")
	flags.BoolVar(&o.noAuth, "no-auth", false, "Disable authentication (development only)")
	flags.StringVar(&o.backend, "backend", "", "Pump backend: sim or bluez")
	flags.StringVar(&o.logLevel, "log-level", "", "Log level")
	flags.StringSliceVar(&o.hostNodes, "host", nil, "Host node URL to push pump events to (repeatable)")
}

// loadConfig reads the config file and applies flags the user set explicitly.
func loadConfig(cmd *cobra.Command, o overrides) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("node-id") {
		if cfg.Transport.ClientID == cfg.Node.ID {
			cfg.Transport.ClientID = o.nodeID
		}
		cfg.Node.ID = o.nodeID
	}
	if flags.Changed("listen") {
		cfg.HTTP.ListenAddress = o.listen
	}
	if flags.Changed("secret") {
		cfg.HTTP.SecretKey = o.secret
	} else if cfg.HTTP.SecretKey == "" {
		cfg.HTTP.SecretKey = os.Getenv("PUMPRELAY_SECRET")
	}
	if flags.Changed("no-auth") {
		cfg.HTTP.NoAuth = o.noAuth
	}
	if flags.Changed("backend") {
		cfg.Pump.Backend = o.backend
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	for _, url := range o.hostNodes {
		cfg.Transport.Nodes = append(cfg.Transport.Nodes, transport.StaticNode{URL: url})
	}
	cfg.Logging.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting",
		zap.String("app", appName),
		zap.String("version", appVersion),
		zap.String("nodeId", cfg.Node.ID),
		zap.String("backend", cfg.Pump.Backend),
		zap.String("listen", cfg.HTTP.ListenAddress),
		zap.Int("hostNodes", len(cfg.Transport.Nodes)))

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		return err
	}
	logger.Info("stopped", zap.String("nodeId", cfg.Node.ID))
	return nil
}
