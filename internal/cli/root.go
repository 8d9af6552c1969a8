// Package cli implements the epubflat command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/simp-lee/epubflat"
	"github.com/simp-lee/epubflat/internal/config"
	"github.com/simp-lee/epubflat/internal/logging"
)

var version = "dev"

var (
	configPath string
	logLevel   string

	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "epubflat",
	Short: "Flatten ePub archives into single HTML pages",
	Long: `epubflat unpacks an ePub, walks its table of contents and renders every
chapter into one HTML page with a navigation sidebar.

Configuration is read from ~/.epubflat/config.yaml, or from the file named by
--config or $EPUBFLAT_CONFIG. A missing file means built-in defaults.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	version = v
}

// Execute runs the root command.
func Execute() error {
	defer func() { _ = logger.Sync() }()
	return rootCmd.Execute()
}

// setup loads the configuration and builds the logger for every subcommand.
func setup(cmd *cobra.Command, args []string) error {
	loader, err := newLoader()
	if err != nil {
		return err
	}
	c, err := loader.Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}

	l, err := logging.New(cmd.ErrOrStderr(), c.Log.Level, c.Log.Format)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	cfg, logger = c, l
	logger.Debug("config loaded", zap.String("path", loader.ConfigPath()), zap.Bool("exists", loader.Exists()))
	return nil
}

func newLoader() (*config.Loader, error) {
	if configPath != "" {
		return config.NewLoaderWithPath(configPath), nil
	}
	loader, err := config.NewLoader()
	if err != nil {
		return nil, fmt.Errorf("init config loader: %w", err)
	}
	return loader, nil
}

// converterOptions maps the loaded configuration onto engine options.
func converterOptions(c *config.Config) (epubflat.Options, error) {
	opts := epubflat.Options{
		OutputRoot:    c.OutputRoot,
		AssetBaseURL:  c.AssetBaseURL,
		MaxNavDepth:   c.MaxNavDepth,
		MaxEntryBytes: c.MaxEntryBytes,
		Logger:        logger,
	}
	if c.Template != "" {
		tmpl, err := epubflat.LoadTemplate(c.Template)
		if err != nil {
			return opts, err
		}
		opts.Template = tmpl
	}
	return opts, nil
}
