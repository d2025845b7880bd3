package main

import (
	"context"
	"fmt"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/rtm/internal/config"
	"github.com/ZebulonRouseFrantzich/rtm/internal/logging"
	"github.com/ZebulonRouseFrantzich/rtm/internal/metrics"
	"github.com/ZebulonRouseFrantzich/rtm/internal/platform"
	"github.com/ZebulonRouseFrantzich/rtm/internal/service"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath  string
	logLevel    string
	metricsFile string
	output      string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "rtm",
		Short:         "Install, verify and run externally hosted runtimes",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to rtm.lua (default: $RTM_CONFIG_DIR/rtm.lua)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&flags.metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile on exit")
	cmd.PersistentFlags().StringVarP(&flags.output, "output", "o", outputText, "Output format: text, json, yaml")

	cmd.AddCommand(newStatusCmd(flags))
	cmd.AddCommand(newRefreshCmd(flags))
	cmd.AddCommand(newInstallCmd(flags))
	cmd.AddCommand(newUninstallCmd(flags))
	cmd.AddCommand(newRunCmd(flags))

	return cmd
}

// session is one command's view of the configured runtimes.
type session struct {
	runtimes *service.Runtimes
	logger   logging.Logger
	registry *prom.Registry
	flags    *globalFlags
}

// openSession parses the config and builds the runtimes for cmd.
func openSession(ctx context.Context, cmd *cobra.Command, flags *globalFlags) (*session, error) {
	if err := validateOutput(flags.output); err != nil {
		return nil, err
	}

	logger, err := logging.NewTerminal(cmd.ErrOrStderr(), flags.logLevel)
	if err != nil {
		return nil, err
	}

	path := flags.configPath
	if path == "" {
		if path, err = config.DefaultConfigPath(); err != nil {
			return nil, err
		}
	}

	cfg, err := config.NewParser(platform.NewDetector()).WithLogger(logger).ParseFile(ctx, path)
	if err != nil {
		return nil, err
	}

	s := &session{logger: logger, flags: flags}
	opts := service.Options{Config: cfg, Logger: logger}
	if flags.metricsFile != "" {
		s.registry = prom.NewRegistry()
		opts.Metrics = metrics.NewPrometheusRecorder(s.registry)
	}

	s.runtimes, err = service.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// close releases the runtimes and writes the metrics textfile.
func (s *session) close() error {
	err := s.runtimes.Close()
	if s.registry != nil {
		if werr := metrics.WriteTextfile(s.registry, s.flags.metricsFile); werr != nil {
			s.logger.Warn("failed to write metrics", logging.KeyPath, s.flags.metricsFile, logging.KeyError, werr)
		}
	}
	return err
}

// withSession runs fn with an open session and closes it afterwards.
func withSession(cmd *cobra.Command, flags *globalFlags, fn func(*session) error) error {
	s, err := openSession(cmd.Context(), cmd, flags)
	if err != nil {
		return err
	}
	runErr := fn(s)
	if closeErr := s.close(); closeErr != nil && runErr == nil {
		return fmt.Errorf("close: %w", closeErr)
	}
	return runErr
}
