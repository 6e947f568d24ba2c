package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wildfs/wildfs/internal/adapter"
	"github.com/wildfs/wildfs/internal/config"
)

// cli holds the persistent flags shared by every command.
type cli struct {
	configPath string
	logLevel   string
	noColor    bool

	// adapterOptions are passed to every adapter the commands build.
	adapterOptions []adapter.Option
}

func newRootCommand(opts ...adapter.Option) *cobra.Command {
	c := &cli{adapterOptions: opts}

	rootCmd := &cobra.Command{
		Use:           "wildfs",
		Short:         "wildfs: one tree over many storages",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if c.noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Path to configuration file (default: <user config dir>/wildfs/config.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Override the configured log level")
	rootCmd.PersistentFlags().BoolVar(&c.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(
		c.lsCommand(),
		c.statCommand(),
		c.catCommand(),
		c.putCommand(),
		c.mkdirCommand(),
		c.rmCommand(),
		c.rmdirCommand(),
		c.mvCommand(),
		c.chmodCommand(),
		c.dfCommand(),
		c.containersCommand(),
		c.serveCommand(),
	)
	return rootCmd
}

// Execute runs the root command.
func Execute() {
	if err := newRootCommand().Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %v\n", color.New(color.FgRed, color.Bold).Sprint("Error:"), err)
}

// loadConfig applies, in order, the defaults, the configuration file, the
// environment and the --log-level flag. quietLevel replaces the default INFO
// level for one-shot commands.
func (c *cli) loadConfig(quietLevel string) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if quietLevel != "" {
		cfg.Global.LogLevel = quietLevel
	}

	path := c.configPath
	if path == "" {
		path = defaultConfigPath()
	}
	if path != "" {
		err := cfg.LoadFromFile(path)
		switch {
		case err == nil:
		case c.configPath == "" && errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if c.logLevel != "" {
		cfg.Global.LogLevel = c.logLevel
	}
	return cfg, nil
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "wildfs", "config.yaml")
}

// withAdapter builds an adapter for one command and stops it afterwards.
func (c *cli) withAdapter(cmd *cobra.Command, fn func(ctx context.Context, a *adapter.Adapter) error) error {
	cfg, err := c.loadConfig("WARN")
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := adapter.New(ctx, cfg, c.adapterOptions...)
	if err != nil {
		return err
	}

	runErr := fn(ctx, a)
	if stopErr := a.Stop(ctx); runErr == nil {
		runErr = stopErr
	}
	return runErr
}
