package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/statefuse/config"
	"github.com/vadiminshakov/statefuse/internal"
	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/internal/setup"
	"github.com/vadiminshakov/statefuse/internal/web"
)

func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run decision cycles on the configured interval until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return c.withApp(ctx, func(ctx context.Context, conf config.Config, app *internal.App) error {
				g, ctx := errgroup.WithContext(ctx)

				g.Go(func() error {
					return app.Engine.Run(ctx)
				})

				if conf.Metrics.Enabled {
					var journal web.DecisionReader
					if app.Journal != nil {
						journal = app.Journal
					}
					srv := web.NewServer(conf.Metrics.Addr, app.Engine, journal, app.Broadcaster, app.Metrics.Handler(), c.logger)
					g.Go(func() error {
						return srv.Start(ctx)
					})
				}

				c.logger.Info("started",
					zap.String("pair", conf.Pair.String()),
					zap.Duration("interval", conf.CycleInterval),
					zap.String("strategy", string(app.Engine.ActiveStrategy(ctx))),
				)

				if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				c.logger.Info("stopped")
				return nil
			})
		},
	}
}

func (c *cli) cycleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run a single decision cycle and print its record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, _ config.Config, app *internal.App) error {
				rec, err := app.Engine.RunCycle(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, rec)
			})
		},
	}
}

func (c *cli) stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the committed market state and lock holder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, _ config.Config, app *internal.App) error {
				lock, err := app.Engine.Lock(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, web.Status{
					State:    app.Engine.CurrentState(ctx),
					Strategy: app.Engine.ActiveStrategy(ctx),
					Lock:     lock,
				})
			})
		},
	}
}

func (c *cli) decisionCmd() *cobra.Command {
	var last int

	cmd := &cobra.Command{
		Use:   "decision",
		Short: "Print the most recent decision, or the last N journaled ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, _ config.Config, app *internal.App) error {
				if last > 0 {
					recs, err := app.Engine.RecentDecisions(last)
					if err != nil {
						return err
					}
					return printJSON(cmd, recs)
				}

				rec, err := app.Engine.LastDecision(ctx)
				if err != nil {
					return err
				}
				if rec == nil {
					return errors.New("no decision recorded yet")
				}
				return printJSON(cmd, rec)
			})
		},
	}
	cmd.Flags().IntVarP(&last, "last", "n", 0, "print the last N decisions from the journal")

	return cmd
}

func (c *cli) strategyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strategy",
		Short: "Show or switch the active detection strategy",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the active strategy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, _ config.Config, app *internal.App) error {
				return printJSON(cmd, map[string]any{
					"active":    app.Engine.ActiveStrategy(ctx),
					"available": app.Engine.Strategies(),
				})
			})
		},
	}, &cobra.Command{
		Use:   "set ID",
		Short: "Switch the active strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, _ config.Config, app *internal.App) error {
				if err := app.Engine.SwitchStrategy(ctx, domain.StrategyID(args[0])); err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"active": app.Engine.ActiveStrategy(ctx)})
			})
		},
	})

	return cmd
}

func (c *cli) unlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Force release the state lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, _ config.Config, app *internal.App) error {
				if err := app.Engine.ForceUnlock(ctx); err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"unlocked": true})
			})
		},
	}
}

func (c *cli) validateTransitionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-transition FROM TO",
		Short: "Check whether a state change would be accepted, without committing it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := domain.ParseMarketState(args[0])
			if err != nil {
				return err
			}
			to, err := domain.ParseMarketState(args[1])
			if err != nil {
				return err
			}

			return c.withApp(cmd.Context(), func(ctx context.Context, _ config.Config, app *internal.App) error {
				verdict, err := app.Engine.ValidateTransition(ctx, from, to)
				if err != nil {
					return err
				}
				return printJSON(cmd, verdict)
			})
		},
	}
}

func (c *cli) riskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "risk",
		Short: "Show or update risk parameters",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the risk parameters in force",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(_ context.Context, _ config.Config, app *internal.App) error {
				return printJSON(cmd, app.Engine.RiskParameters())
			})
		},
	}, c.riskSetCmd())

	return cmd
}

// riskSetCmd starts from the parameters in force and overrides only the flags given.
func (c *cli) riskSetCmd() *cobra.Command {
	var (
		maxPosition string
		maxLeverage string
		stopLoss    string
		dailyLoss   string
		minTrade    string
		capital     string
		cooldown    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Validate, persist and apply new risk parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, _ config.Config, app *internal.App) error {
				cur := app.Engine.RiskParameters()
				raw := config.RiskTmp{
					MaxPositionSize: cur.MaxPositionSize.String(),
					MaxLeverage:     cur.MaxLeverage.String(),
					StopLossPercent: cur.StopLossPercent.String(),
					MaxDailyLoss:    cur.MaxDailyLoss.String(),
					CooldownPeriod:  cur.CooldownPeriod,
					MinTradeSize:    cur.MinTradeSize.String(),
					Capital:         cur.Capital.String(),
				}

				flags := cmd.Flags()
				override := func(name, value string, dst *string) {
					if flags.Changed(name) {
						*dst = value
					}
				}
				override("max-position", maxPosition, &raw.MaxPositionSize)
				override("max-leverage", maxLeverage, &raw.MaxLeverage)
				override("stop-loss", stopLoss, &raw.StopLossPercent)
				override("max-daily-loss", dailyLoss, &raw.MaxDailyLoss)
				override("min-trade", minTrade, &raw.MinTradeSize)
				override("capital", capital, &raw.Capital)
				if flags.Changed("cooldown") {
					raw.CooldownPeriod = cooldown
				}

				params, err := config.ParseRisk(raw)
				if err != nil {
					return err
				}
				if err := app.Engine.UpdateRiskParameters(ctx, params); err != nil {
					return err
				}
				return printJSON(cmd, app.Engine.RiskParameters())
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&maxPosition, "max-position", "", "absolute position cap in base units")
	f.StringVar(&maxLeverage, "max-leverage", "", "notional to capital cap")
	f.StringVar(&stopLoss, "stop-loss", "", "unrealised loss percent that forces a close, 0 disables")
	f.StringVar(&dailyLoss, "max-daily-loss", "", "quote loss per day after which trading stops")
	f.StringVar(&minTrade, "min-trade", "", "smallest size change worth trading")
	f.StringVar(&capital, "capital", "", "quote capital used for leverage")
	f.DurationVar(&cooldown, "cooldown", 0, "minimum time between trades")

	return cmd
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print engine and trading statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, _ config.Config, app *internal.App) error {
				stats, err := app.Engine.Stats(ctx)
				if err != nil {
					return err
				}
				pos, err := app.Engine.Position(ctx)
				if err != nil {
					return err
				}
				transitions, err := app.Engine.TransitionCount(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{
					"engine":      stats.Engine,
					"trading":     stats.Trading,
					"position":    pos,
					"transitions": transitions,
				})
			})
		},
	}
}

func (c *cli) initCmd() *cobra.Command {
	var (
		output string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file through an interactive wizard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !force {
				if _, err := os.Stat(output); err == nil {
					return errors.Errorf("%s already exists, pass --force to overwrite", output)
				}
			}
			return setup.Run(output, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "config.yaml", "where to write the generated config")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	return cmd
}
