package datasource

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/statefuse/internal/clock"
	"github.com/vadiminshakov/statefuse/internal/domain"
)

// MarketConfig random walk parameters.
type MarketConfig struct {
	StartPrice float64
	// Drift mean return per step.
	Drift float64
	// Volatility standard deviation of the return per step.
	Volatility float64
	BaseVolume float64
	Seed       int64
}

// SimulatedMarket a seeded geometric random walk that advances once per
// distinct clock reading, so several sources observe the same tick.
type SimulatedMarket struct {
	mu     sync.Mutex
	cfg    MarketConfig
	rng    *rand.Rand
	clock  clock.Clock
	price  float64
	volume float64
	last   time.Time
}

func NewSimulatedMarket(cfg MarketConfig, clk clock.Clock) *SimulatedMarket {
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 100
	}
	if cfg.BaseVolume <= 0 {
		cfg.BaseVolume = 1000
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &SimulatedMarket{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		clock:  clk,
		price:  cfg.StartPrice,
		volume: cfg.BaseVolume,
	}
}

// Tick returns the price and volume at the current clock reading.
func (m *SimulatedMarket) Tick() (price, volume float64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if !m.last.IsZero() && now.Equal(m.last) {
		return m.price, m.volume, now
	}

	if !m.last.IsZero() {
		ret := m.cfg.Drift + m.cfg.Volatility*m.rng.NormFloat64()
		m.price *= math.Exp(ret)
		// volume reacts to the size of the move
		m.volume = m.cfg.BaseVolume * (1 + math.Abs(ret)*50) * (0.8 + 0.4*m.rng.Float64())
	}
	m.last = now

	return m.price, m.volume, now
}

// SimulatedSource observes a SimulatedMarket with its own quote noise.
type SimulatedSource struct {
	mu         sync.Mutex
	name       string
	market     *SimulatedMarket
	noise      float64
	confidence int
	rng        *rand.Rand
	// Offset shifts every quote, e.g. to model a broken feed.
	Offset float64
}

// NewSimulatedSource creates a source quoting market with relative noise (0.001 = 0.1%).
func NewSimulatedSource(name string, market *SimulatedMarket, noise float64, confidence int, seed int64) *SimulatedSource {
	return &SimulatedSource{
		name:       name,
		market:     market,
		noise:      noise,
		confidence: confidence,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

func (s *SimulatedSource) Name() string {
	return s.name
}

func (s *SimulatedSource) Fetch(ctx context.Context, _ domain.Pair) (domain.RawReading, error) {
	if err := ctx.Err(); err != nil {
		return domain.RawReading{}, err
	}

	price, volume, at := s.market.Tick()

	s.mu.Lock()
	price = price*(1+s.noise*s.rng.NormFloat64()) + s.Offset
	s.mu.Unlock()

	if price <= 0 {
		return domain.RawReading{}, errors.Errorf("%s produced non-positive price", s.name)
	}

	return domain.RawReading{
		Source:     s.name,
		Value:      decimal.NewFromFloat(price).Round(8),
		Volume:     decimal.NewFromFloat(volume).Round(4),
		Timestamp:  at,
		Confidence: s.confidence,
	}, nil
}

// Static returns a fixed reading. Used for fixtures and manual overrides.
type Static struct {
	SourceName string
	Reading    domain.RawReading
	Err        error
}

func (s *Static) Name() string {
	return s.SourceName
}

func (s *Static) Fetch(context.Context, domain.Pair) (domain.RawReading, error) {
	if s.Err != nil {
		return domain.RawReading{}, s.Err
	}
	r := s.Reading
	r.Source = s.SourceName
	return r, nil
}
