package trader

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"github.com/vadiminshakov/statefuse/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrInsufficientFunds the venue cannot cover the order.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrRateLimited the order was dropped by the local rate limit.
	ErrRateLimited = errors.New("order rate limit exceeded")
)

// Adapter sends orders to an execution venue.
// A failed order is reported through Fill.Err with Success=false.
type Adapter interface {
	Execute(ctx context.Context, order domain.Order) domain.Fill
}

// AdapterFunc adapts a function to Adapter.
type AdapterFunc func(ctx context.Context, order domain.Order) domain.Fill

func (f AdapterFunc) Execute(ctx context.Context, order domain.Order) domain.Fill {
	return f(ctx, order)
}

func failed(err error) domain.Fill {
	return domain.Fill{Err: err}
}

// BreakerSettings circuit breaker parameters.
type BreakerSettings struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// BreakerAdapter stops sending orders after repeated venue failures.
// Insufficient funds is a business outcome and does not count as a failure.
type BreakerAdapter struct {
	next Adapter
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerAdapter(next Adapter, s BreakerSettings, l *zap.Logger) *BreakerAdapter {
	if l == nil {
		l = zap.NewNop()
	}
	if s.Name == "" {
		s.Name = "execution"
	}
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout == 0 {
		s.OpenTimeout = time.Minute
	}

	st := gobreaker.Settings{Name: s.Name, Timeout: s.OpenTimeout}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= s.ConsecutiveFailures
	}
	st.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrInsufficientFunds)
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		l.Warn("execution breaker state changed",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}

	return &BreakerAdapter{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *BreakerAdapter) Execute(ctx context.Context, order domain.Order) domain.Fill {
	var fill domain.Fill
	_, err := b.cb.Execute(func() (interface{}, error) {
		fill = b.next.Execute(ctx, order)
		return nil, fill.Err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return failed(errors.Wrap(err, "execution venue unavailable"))
	}
	return fill
}

// State reports the breaker state.
func (b *BreakerAdapter) State() gobreaker.State {
	return b.cb.State()
}

// RateLimitedAdapter rejects orders above the configured rate without blocking.
type RateLimitedAdapter struct {
	next    Adapter
	limiter *rate.Limiter
}

func NewRateLimitedAdapter(next Adapter, perMinute int, burst int) *RateLimitedAdapter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &RateLimitedAdapter{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimitedAdapter) Execute(ctx context.Context, order domain.Order) domain.Fill {
	if !r.limiter.Allow() {
		return failed(ErrRateLimited)
	}
	return r.next.Execute(ctx, order)
}
