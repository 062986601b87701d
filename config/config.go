// Package config loads the engine configuration from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/internal/services/aggregator"
	"github.com/vadiminshakov/statefuse/internal/services/datasource"
	"github.com/vadiminshakov/statefuse/internal/services/detector"
	"github.com/vadiminshakov/statefuse/internal/services/meanreversion"
	"github.com/vadiminshakov/statefuse/internal/services/transition"
	"gopkg.in/yaml.v3"
)

const (
	BackendWAL    = "wal"
	BackendRedis  = "redis"
	BackendMemory = "memory"

	SourceBinance     = "binance"
	SourceBybit       = "bybit"
	SourceHyperliquid = "hyperliquid"
	SourceSimulated   = "simulated"

	VenueSimulate = "simulate"
)

var validate = validator.New()

// Config typed engine configuration.
type Config struct {
	Pair            domain.Pair
	CycleInterval   time.Duration
	WindowSize      int
	PriceDecimals   int32
	DefaultStrategy domain.StrategyID

	Storage       Storage
	Sources       []Source
	Market        datasource.MarketConfig
	Retry         Retry
	Aggregator    aggregator.Config
	Attention     Attention
	Detector      detector.Thresholds
	MeanReversion meanreversion.Config
	Transition    transition.Config
	Risk          domain.RiskParameters
	Execution     Execution
	Metrics       Metrics
}

type Storage struct {
	Backend        string
	WALDir         string
	DecisionsDir   string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisNamespace string
}

// Source one observation source.
type Source struct {
	Type       string
	Name       string
	Confidence int
	APIKey     string
	APISecret  string
	PrivateKey string
	BaseURL    string
	Noise      float64
	Offset     float64
	Seed       int64
}

type Retry struct {
	MaxRetries      int
	InitialInterval time.Duration
	FetchTimeout    time.Duration
}

type Attention struct {
	Lookback int
	Decay    float64
}

type Execution struct {
	Venue           string
	OrderType       domain.OrderType
	InitialQuote    decimal.Decimal
	SlippageBps     int64
	StateDir        string
	RatePerMinute   int
	RateBurst       int
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

type Metrics struct {
	Enabled bool
	Addr    string
}

// ConfigTmp raw YAML shape. Decimals are strings so they never pass through float.
type ConfigTmp struct {
	Pair            string        `yaml:"pair" default:"BTC_USDT" validate:"required"`
	CycleInterval   time.Duration `yaml:"cycle_interval" default:"1m" validate:"gt=0"`
	WindowSize      int           `yaml:"window_size" default:"100" validate:"gte=20,lte=10000"`
	PriceDecimals   int32         `yaml:"price_decimals" default:"2" validate:"gte=0,lte=8"`
	DefaultStrategy string        `yaml:"strategy" default:"attention" validate:"oneof=attention mean_reversion"`

	Storage struct {
		Backend        string `yaml:"backend" default:"wal" validate:"oneof=wal redis memory"`
		WALDir         string `yaml:"wal_dir" default:"./wal/state"`
		DecisionsDir   string `yaml:"decisions_dir" default:"./wal/decisions"`
		RedisAddr      string `yaml:"redis_addr" default:"localhost:6379" validate:"required_if=Backend redis"`
		RedisPassword  string `yaml:"redis_password"`
		RedisDB        int    `yaml:"redis_db" validate:"gte=0"`
		RedisNamespace string `yaml:"redis_namespace" default:"statefuse:"`
	} `yaml:"storage"`

	Sources []SourceTmp `yaml:"sources" validate:"dive"`

	Market struct {
		StartPrice float64 `yaml:"start_price" default:"30000" validate:"gt=0"`
		Drift      float64 `yaml:"drift"`
		Volatility float64 `yaml:"volatility" default:"0.002" validate:"gte=0"`
		BaseVolume float64 `yaml:"base_volume" default:"1000" validate:"gt=0"`
		Seed       int64   `yaml:"seed" default:"1"`
	} `yaml:"market"`

	Retry struct {
		MaxRetries      int           `yaml:"max_retries" default:"2" validate:"gte=0,lte=10"`
		InitialInterval time.Duration `yaml:"initial_interval" default:"500ms"`
		FetchTimeout    time.Duration `yaml:"fetch_timeout" default:"10s"`
	} `yaml:"retry"`

	Aggregator struct {
		MinSources       int           `yaml:"min_sources" default:"2" validate:"gte=1"`
		MaxAge           time.Duration `yaml:"max_age" default:"2m"`
		OutlierThreshold string        `yaml:"outlier_threshold" default:"3"`
	} `yaml:"aggregator"`

	Attention struct {
		Lookback int     `yaml:"lookback" default:"10" validate:"gte=1"`
		Decay    float64 `yaml:"decay" default:"0.9" validate:"gt=0,lte=1"`
	} `yaml:"attention"`

	Detector detector.Thresholds `yaml:"detector"`

	MeanReversion struct {
		Window    int     `yaml:"window" default:"20" validate:"gte=2"`
		Threshold float64 `yaml:"threshold" default:"2" validate:"gt=0"`
		RSIPeriod int     `yaml:"rsi_period" default:"14" validate:"gte=2"`
	} `yaml:"mean_reversion"`

	Transition struct {
		LockTimeout         time.Duration `yaml:"lock_timeout" default:"5m" validate:"gt=0"`
		FlapWindow          int           `yaml:"flap_window" default:"10" validate:"gte=2"`
		MaxChanges          int           `yaml:"max_changes" default:"3" validate:"gte=1"`
		MinReversalStrength int           `yaml:"min_reversal_strength" default:"80" validate:"gte=0,lte=100"`
	} `yaml:"transition"`

	Risk RiskTmp `yaml:"risk"`

	Execution struct {
		Venue           string        `yaml:"venue" default:"simulate" validate:"oneof=simulate"`
		OrderType       string        `yaml:"order_type" default:"market" validate:"oneof=market limit"`
		InitialQuote    string        `yaml:"initial_quote" default:"10000"`
		SlippageBps     int64         `yaml:"slippage_bps" default:"5" validate:"gte=0,lte=1000"`
		StateDir        string        `yaml:"state_dir" default:"./wal/simulate"`
		RatePerMinute   int           `yaml:"rate_per_minute" default:"30" validate:"gte=0"`
		RateBurst       int           `yaml:"rate_burst" default:"3" validate:"gte=1"`
		BreakerFailures uint32        `yaml:"breaker_failures" default:"5" validate:"gte=1"`
		BreakerTimeout  time.Duration `yaml:"breaker_timeout" default:"1m"`
	} `yaml:"execution"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr" default:":9090"`
	} `yaml:"metrics"`
}

type SourceTmp struct {
	Type       string  `yaml:"type" validate:"oneof=binance bybit hyperliquid simulated"`
	Name       string  `yaml:"name"`
	Confidence int     `yaml:"confidence" default:"80" validate:"gte=0,lte=100"`
	APIKey     string  `yaml:"api_key"`
	APISecret  string  `yaml:"api_secret"`
	PrivateKey string  `yaml:"private_key"`
	BaseURL    string  `yaml:"base_url"`
	Noise      float64 `yaml:"noise" default:"0.001" validate:"gte=0,lt=1"`
	Offset     float64 `yaml:"offset"`
	Seed       int64   `yaml:"seed"`
}

type RiskTmp struct {
	MaxPositionSize string        `yaml:"max_position_size" default:"1"`
	MaxLeverage     string        `yaml:"max_leverage" default:"3"`
	StopLossPercent string        `yaml:"stop_loss_percent" default:"5"`
	MaxDailyLoss    string        `yaml:"max_daily_loss" default:"500"`
	CooldownPeriod  time.Duration `yaml:"cooldown_period" default:"5m"`
	MinTradeSize    string        `yaml:"min_trade_size" default:"0.001"`
	Capital         string        `yaml:"capital" default:"10000"`
}

// Load reads path. An empty path yields the defaults.
func Load(path string) (Config, error) {
	var raw []byte
	if path != "" {
		var err error
		raw, err = os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
	}
	return Parse(raw)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(raw []byte) (Config, error) {
	tmp := ConfigTmp{Detector: detector.DefaultThresholds()}
	if err := yaml.Unmarshal(raw, &tmp); err != nil {
		return Config{}, errors.Wrap(err, "decode yaml config")
	}
	if err := defaults.Set(&tmp); err != nil {
		return Config{}, errors.Wrap(err, "apply config defaults")
	}
	if len(tmp.Sources) == 0 {
		tmp.Sources = defaultSources()
	}
	if err := validate.Struct(&tmp); err != nil {
		return Config{}, errors.Wrap(err, "invalid config")
	}

	return tmp.convert()
}

// defaultSources three simulated venues with different noise, so a fresh install can run offline.
func defaultSources() []SourceTmp {
	return []SourceTmp{
		{Type: SourceSimulated, Name: "sim-a", Confidence: 90, Noise: 0.0005, Seed: 11},
		{Type: SourceSimulated, Name: "sim-b", Confidence: 85, Noise: 0.001, Seed: 12},
		{Type: SourceSimulated, Name: "sim-c", Confidence: 75, Noise: 0.002, Seed: 13},
	}
}

func (c ConfigTmp) convert() (Config, error) {
	pair, err := domain.ParsePair(c.Pair)
	if err != nil {
		return Config{}, fmt.Errorf("incorrect 'pair' param in yaml config: %s, error: %w", c.Pair, err)
	}

	risk, err := c.Risk.convert()
	if err != nil {
		return Config{}, err
	}

	outlier, err := decimalParam("aggregator.outlier_threshold", c.Aggregator.OutlierThreshold)
	if err != nil {
		return Config{}, err
	}
	quote, err := decimalParam("execution.initial_quote", c.Execution.InitialQuote)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Pair:            pair,
		CycleInterval:   c.CycleInterval,
		WindowSize:      c.WindowSize,
		PriceDecimals:   c.PriceDecimals,
		DefaultStrategy: domain.StrategyID(c.DefaultStrategy),
		Storage: Storage{
			Backend:        c.Storage.Backend,
			WALDir:         c.Storage.WALDir,
			DecisionsDir:   c.Storage.DecisionsDir,
			RedisAddr:      c.Storage.RedisAddr,
			RedisPassword:  c.Storage.RedisPassword,
			RedisDB:        c.Storage.RedisDB,
			RedisNamespace: c.Storage.RedisNamespace,
		},
		Market: datasource.MarketConfig{
			StartPrice: c.Market.StartPrice,
			Drift:      c.Market.Drift,
			Volatility: c.Market.Volatility,
			BaseVolume: c.Market.BaseVolume,
			Seed:       c.Market.Seed,
		},
		Retry: Retry{
			MaxRetries:      c.Retry.MaxRetries,
			InitialInterval: c.Retry.InitialInterval,
			FetchTimeout:    c.Retry.FetchTimeout,
		},
		Aggregator: aggregator.Config{
			MinSources:       c.Aggregator.MinSources,
			MaxAge:           c.Aggregator.MaxAge,
			OutlierThreshold: outlier,
		},
		Attention: Attention{Lookback: c.Attention.Lookback, Decay: c.Attention.Decay},
		Detector:  c.Detector,
		MeanReversion: meanreversion.Config{
			Window:    c.MeanReversion.Window,
			Threshold: c.MeanReversion.Threshold,
			RSIPeriod: c.MeanReversion.RSIPeriod,
		},
		Transition: transition.Config{
			LockTimeout:         c.Transition.LockTimeout,
			FlapWindow:          c.Transition.FlapWindow,
			MaxChanges:          c.Transition.MaxChanges,
			MinReversalStrength: c.Transition.MinReversalStrength,
		},
		Risk: risk,
		Execution: Execution{
			Venue:           c.Execution.Venue,
			OrderType:       domain.OrderType(c.Execution.OrderType),
			InitialQuote:    quote,
			SlippageBps:     c.Execution.SlippageBps,
			StateDir:        c.Execution.StateDir,
			RatePerMinute:   c.Execution.RatePerMinute,
			RateBurst:       c.Execution.RateBurst,
			BreakerFailures: c.Execution.BreakerFailures,
			BreakerTimeout:  c.Execution.BreakerTimeout,
		},
		Metrics: Metrics{Enabled: c.Metrics.Enabled, Addr: c.Metrics.Addr},
	}

	names := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			name = s.Type
		}
		if names[name] {
			return Config{}, fmt.Errorf("duplicate source name %q at sources[%d]", name, i)
		}
		names[name] = true

		cfg.Sources = append(cfg.Sources, Source{
			Type:       s.Type,
			Name:       name,
			Confidence: s.Confidence,
			APIKey:     s.APIKey,
			APISecret:  s.APISecret,
			PrivateKey: s.PrivateKey,
			BaseURL:    s.BaseURL,
			Noise:      s.Noise,
			Offset:     s.Offset,
			Seed:       s.Seed,
		})
	}

	if cfg.Aggregator.MinSources > len(cfg.Sources) {
		return Config{}, fmt.Errorf("aggregator.min_sources=%d exceeds the %d configured sources",
			cfg.Aggregator.MinSources, len(cfg.Sources))
	}

	return cfg, nil
}

func (r RiskTmp) convert() (domain.RiskParameters, error) {
	var (
		p   = domain.RiskParameters{CooldownPeriod: r.CooldownPeriod}
		err error
	)

	parse := func(name, raw string, dst *decimal.Decimal) {
		if err != nil {
			return
		}
		*dst, err = decimalParam(name, raw)
	}
	parse("risk.max_position_size", r.MaxPositionSize, &p.MaxPositionSize)
	parse("risk.max_leverage", r.MaxLeverage, &p.MaxLeverage)
	parse("risk.stop_loss_percent", r.StopLossPercent, &p.StopLossPercent)
	parse("risk.max_daily_loss", r.MaxDailyLoss, &p.MaxDailyLoss)
	parse("risk.min_trade_size", r.MinTradeSize, &p.MinTradeSize)
	parse("risk.capital", r.Capital, &p.Capital)
	if err != nil {
		return domain.RiskParameters{}, err
	}

	if err := p.Validate(); err != nil {
		return domain.RiskParameters{}, errors.Wrap(err, "invalid risk parameters")
	}
	return p, nil
}

// ParseRisk converts string fields, as accepted by the CLI, into validated parameters.
func ParseRisk(r RiskTmp) (domain.RiskParameters, error) {
	return r.convert()
}

func decimalParam(name, raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("incorrect '%s' param in yaml config (must be a decimal), error: %w", name, err)
	}
	return v, nil
}
