package main

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vadiminshakov/statefuse/config"
	"github.com/vadiminshakov/statefuse/internal"
)

type cli struct {
	configPath string
	debug      bool
	logger     *zap.Logger
}

// newRootCmd builds the command tree. A nil logger is created from --debug.
func newRootCmd(logger *zap.Logger) *cobra.Command {
	c := &cli{logger: logger}

	root := &cobra.Command{
		Use:          "statefuse",
		Short:        "Autonomous market-state decision engine",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return c.initLogger()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to the YAML config file")
	root.PersistentFlags().BoolVar(&c.debug, "debug", false, "enable development logging")

	root.AddCommand(
		c.runCmd(),
		c.cycleCmd(),
		c.stateCmd(),
		c.decisionCmd(),
		c.strategyCmd(),
		c.unlockCmd(),
		c.validateTransitionCmd(),
		c.riskCmd(),
		c.statsCmd(),
		c.initCmd(),
	)

	return root
}

func (c *cli) initLogger() error {
	if c.logger != nil {
		return nil
	}

	var (
		logger *zap.Logger
		err    error
	)
	if c.debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return errors.Wrap(err, "failed to create logger")
	}
	c.logger = logger
	return nil
}

func (c *cli) loadConfig() (config.Config, error) {
	conf, err := config.Load(c.configPath)
	if err != nil {
		return config.Config{}, errors.Wrap(err, "failed to load configuration")
	}
	return conf, nil
}

// withApp builds the engine from config, runs fn and releases storage afterwards.
func (c *cli) withApp(ctx context.Context, fn func(ctx context.Context, conf config.Config, app *internal.App) error) error {
	conf, err := c.loadConfig()
	if err != nil {
		return err
	}

	app, err := internal.NewApp(ctx, conf, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			c.logger.Warn("failed to close storage", zap.Error(err))
		}
	}()

	return fn(ctx, conf, app)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
