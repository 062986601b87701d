// Package setup holds the interactive wizard that writes a starter config file.
package setup

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/statefuse/config"
	"github.com/vadiminshakov/statefuse/internal/domain"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1)

	summaryStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(subtle).
			Padding(1)
)

// Answers collected by the wizard.
type Answers struct {
	Pair          string
	Interval      string
	Strategy      string
	Backend       string
	RedisAddr     string
	Sources       []string
	MaxPosition   string
	Capital       string
	Cooldown      string
	ExposeMetrics bool
}

// DefaultAnswers the values pre-filled in the forms.
func DefaultAnswers() Answers {
	return Answers{
		Pair:        "BTC_USDT",
		Interval:    "1m",
		Strategy:    string(domain.StrategyAttention),
		Backend:     config.BackendWAL,
		RedisAddr:   "localhost:6379",
		Sources:     []string{config.SourceSimulated},
		MaxPosition: "1",
		Capital:     "10000",
		Cooldown:    "5m",
	}
}

// Run walks through the wizard and writes the result to path.
func Run(path string, out io.Writer) error {
	a := DefaultAnswers()

	step := func(title string) {
		fmt.Fprint(out, "\033[H\033[2J")
		fmt.Fprintln(out, headerStyle.Render("STATEFUSE CONFIG WIZARD"))
		fmt.Fprintln(out, stepStyle.Render(title))
	}

	step("STEP 1: MARKET")
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Trading pair").
				Description("BASE_QUOTE, e.g. BTC_USDT").
				Value(&a.Pair).
				Validate(validatePair),
			huh.NewInput().
				Title("Cycle interval").
				Description("Duration string (e.g. 30s, 1m, 5m)").
				Value(&a.Interval).
				Validate(validateDuration),
			huh.NewSelect[string]().
				Title("Detection strategy").
				Options(
					huh.NewOption("Attention-weighted detector", string(domain.StrategyAttention)),
					huh.NewOption("Mean reversion", string(domain.StrategyMeanReversion)),
				).
				Value(&a.Strategy),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 2: OBSERVATION SOURCES")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Where should prices come from?").
				Options(
					huh.NewOption("Simulated venues (offline)", config.SourceSimulated).Selected(true),
					huh.NewOption("Binance", config.SourceBinance),
					huh.NewOption("Bybit", config.SourceBybit),
					huh.NewOption("Hyperliquid", config.SourceHyperliquid),
				).
				Value(&a.Sources).
				Validate(func(s []string) error {
					if len(s) == 0 {
						return errors.New("pick at least one source")
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 3: STORAGE")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("State backend").
				Options(
					huh.NewOption("Local write-ahead log", config.BackendWAL),
					huh.NewOption("Redis", config.BackendRedis),
					huh.NewOption("In memory (nothing survives a restart)", config.BackendMemory),
				).
				Value(&a.Backend),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Redis address").
				Value(&a.RedisAddr),
		).WithHideFunc(func() bool { return a.Backend != config.BackendRedis }),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 4: RISK")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Max position size").
				Description("Absolute cap in base units").
				Value(&a.MaxPosition).
				Validate(validatePositive),
			huh.NewInput().
				Title("Capital").
				Description("Quote capital used for leverage checks").
				Value(&a.Capital).
				Validate(validatePositive),
			huh.NewInput().
				Title("Trade cooldown").
				Value(&a.Cooldown).
				Validate(validateDuration),
			huh.NewConfirm().
				Title("Expose the status server and metrics on :9090?").
				Value(&a.ExposeMetrics),
		),
	).Run()
	if err != nil {
		return err
	}

	step("FINAL CONFIRMATION")
	fmt.Fprintln(out, summaryStyle.Render(a.summary()))

	var confirm bool
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return errors.New("setup cancelled by user")
	}

	if err := Write(path, a); err != nil {
		return err
	}

	fmt.Fprintln(out, lipgloss.NewStyle().Foreground(special).Render("\n✓ Configuration saved to "+path))
	return nil
}

// Write renders a and saves it to path after checking the result loads.
func Write(path string, a Answers) error {
	data, err := Render(a)
	if err != nil {
		return err
	}
	if _, err := config.Parse(data); err != nil {
		return errors.Wrap(err, "generated config does not load")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrapf(err, "failed to save config file %s", path)
	}
	return nil
}

type fileConfig struct {
	Pair          string             `yaml:"pair"`
	CycleInterval string             `yaml:"cycle_interval"`
	Strategy      string             `yaml:"strategy"`
	Storage       storageSection     `yaml:"storage"`
	Sources       []sourceSection    `yaml:"sources"`
	Aggregator    *aggregatorSection `yaml:"aggregator,omitempty"`
	Risk          riskSection        `yaml:"risk"`
	Metrics       metricsSection     `yaml:"metrics"`
}

type storageSection struct {
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr,omitempty"`
}

type sourceSection struct {
	Type       string  `yaml:"type"`
	Name       string  `yaml:"name"`
	Confidence int     `yaml:"confidence"`
	Noise      float64 `yaml:"noise,omitempty"`
	Seed       int64   `yaml:"seed,omitempty"`
}

type aggregatorSection struct {
	MinSources int `yaml:"min_sources"`
}

type riskSection struct {
	MaxPositionSize string `yaml:"max_position_size"`
	Capital         string `yaml:"capital"`
	CooldownPeriod  string `yaml:"cooldown_period"`
}

type metricsSection struct {
	Enabled bool `yaml:"enabled"`
}

// Render builds the YAML document for a. Fields the wizard does not ask
// about are left out so the loader's defaults apply.
func Render(a Answers) ([]byte, error) {
	if len(a.Sources) == 0 {
		return nil, errors.New("no observation sources selected")
	}

	fc := fileConfig{
		Pair:          strings.ToUpper(strings.TrimSpace(a.Pair)),
		CycleInterval: a.Interval,
		Strategy:      a.Strategy,
		Storage:       storageSection{Backend: a.Backend},
		Risk: riskSection{
			MaxPositionSize: a.MaxPosition,
			Capital:         a.Capital,
			CooldownPeriod:  a.Cooldown,
		},
		Metrics: metricsSection{Enabled: a.ExposeMetrics},
	}
	if a.Backend == config.BackendRedis {
		fc.Storage.RedisAddr = a.RedisAddr
	}

	for _, typ := range a.Sources {
		if typ == config.SourceSimulated {
			fc.Sources = append(fc.Sources,
				sourceSection{Type: typ, Name: "sim-a", Confidence: 90, Noise: 0.0005, Seed: 11},
				sourceSection{Type: typ, Name: "sim-b", Confidence: 85, Noise: 0.001, Seed: 12},
				sourceSection{Type: typ, Name: "sim-c", Confidence: 75, Noise: 0.002, Seed: 13},
			)
			continue
		}
		fc.Sources = append(fc.Sources, sourceSection{Type: typ, Name: typ, Confidence: 80})
	}
	if len(fc.Sources) == 1 {
		fc.Aggregator = &aggregatorSection{MinSources: 1}
	}

	data, err := yaml.Marshal(fc)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate yaml")
	}
	return data, nil
}

func (a Answers) summary() string {
	metrics := "off"
	if a.ExposeMetrics {
		metrics = ":9090"
	}
	return fmt.Sprintf(
		"Pair: %s\nInterval: %s\nStrategy: %s\nSources: %s\nStorage: %s\nMax position: %s\nMetrics: %s",
		a.Pair, a.Interval, a.Strategy, strings.Join(a.Sources, ", "), a.Backend, a.MaxPosition, metrics,
	)
}

func validatePair(s string) error {
	if _, err := domain.ParsePair(strings.ToUpper(strings.TrimSpace(s))); err != nil {
		return fmt.Errorf("invalid format: must be BASE_QUOTE (e.g. BTC_USDT)")
	}
	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

func validatePositive(s string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if !d.IsPositive() {
		return fmt.Errorf("must be greater than zero")
	}
	return nil
}
