package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pegacorn/hestia/internal/app"
	"github.com/pegacorn/hestia/internal/config"
	"github.com/pegacorn/hestia/internal/logging"
)

// rootFlags are the persistent flags shared by every command.
type rootFlags struct {
	configFile string
	envFile    string
	dataDir    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "hestia",
		Short: "Hestia - record persistence over a wide-column store",
		Long: `Hestia stores AuditEvent, Task, Device, DeviceMetric and CapabilityStatement
records in a wide-column store. Each record is kept whole as a JSON body next
to a few indexed columns that searches filter on.

Configuration is read from a YAML or JSON file, then from HESTIA_* environment
variables (a .env file is loaded first if present), then from flags.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configFile, "config", "c", "", "config file path (YAML or JSON)")
	pf.StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before reading HESTIA_* variables")
	pf.StringVar(&flags.dataDir, "data-dir", "", "base directory for the store and local exports")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(flags),
		newSearchCmd(flags),
		newReadCmd(flags),
		newPutCmd(flags),
		newExportCmd(flags),
		newImportCmd(flags),
		newVersionCmd(),
	)
	return root
}

// loadConfig builds the configuration from file, environment and flags, in
// increasing priority, and installs the logger it describes.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	if err := config.LoadDotEnv(flags.envFile); err != nil {
		return nil, err
	}

	cfg := config.DefaultConfig()
	if flags.configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(flags.configFile)
		if err != nil {
			return nil, err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	if flags.dataDir != "" {
		cfg.DataDir = flags.dataDir
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}

	if _, err := logging.Setup(cfg.LoggingSetup()); err != nil {
		return nil, fmt.Errorf("invalid logging configuration: %w", err)
	}
	return cfg, nil
}

// withApp opens the store for a one-shot command and closes it afterwards.
func withApp(cmd *cobra.Command, flags *rootFlags, fn func(ctx context.Context, a *app.App) error) (err error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, a)
}
