package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"confeed/internal/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "confeed",
		Short:         "Anonymous real-time chat backend with synthetic participants",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("CONFEED_CONFIG_FILE"), "config file (JSON, TOML or YAML)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level: debug, info, warn or error")

	root.AddCommand(newServeCmd(opts), newMigrateCmd(opts), newConfigCmd(opts))
	return root
}

// loadConfig reads the layered configuration and applies flag overrides.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		if _, err := config.ParseLogLevel(o.logLevel); err != nil {
			return nil, err
		}
		cfg.LogLevel = o.logLevel
	}
	return cfg, nil
}

func setupLogging(w io.Writer, level string) {
	lvl, err := config.ParseLogLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
}
