package protect

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

// Guard owns one breaker per circuit name and executes calls through them.
type Guard struct {
	mu       sync.Mutex
	breakers map[string]*Breaker

	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	breakerOpts []BreakerOption
	sleep       func(ctx context.Context, d time.Duration) error
	log         logger.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithTimeout sets the default per-attempt timeout; 0 disables it.
func WithTimeout(d time.Duration) Option {
	return func(g *Guard) { g.timeout = d }
}

// WithRetries sets the number of retries after the first attempt.
func WithRetries(n int) Option {
	return func(g *Guard) {
		if n >= 0 {
			g.maxRetries = n
		}
	}
}

// WithBackoff sets the exponential backoff base and cap.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(g *Guard) {
		g.baseBackoff = base
		g.maxBackoff = maxDelay
	}
}

// WithBreakerOptions applies opts to every breaker the guard creates.
func WithBreakerOptions(opts ...BreakerOption) Option {
	return func(g *Guard) { g.breakerOpts = append(g.breakerOpts, opts...) }
}

// WithSleep replaces the backoff sleeper.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Guard) {
		if fn != nil {
			g.sleep = fn
		}
	}
}

// WithLogger sets the logger used for retry and state change records.
func WithLogger(l logger.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.log = l
		}
	}
}

// NewGuard creates a guard with 10s timeout, 2 retries and 200ms..2s backoff.
func NewGuard(opts ...Option) *Guard {
	g := &Guard{
		breakers:    make(map[string]*Breaker),
		timeout:     10 * time.Second,
		maxRetries:  2,
		baseBackoff: 200 * time.Millisecond,
		maxBackoff:  2 * time.Second,
		sleep:       sleepCtx,
		log:         logger.Nop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Breaker returns the breaker for name, creating it closed on first use.
func (g *Guard) Breaker(name string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[name]
	if !ok {
		opts := append([]BreakerOption{WithStateChange(g.stateChanged)}, g.breakerOpts...)
		b = NewBreaker(name, opts...)
		g.breakers[name] = b
		metrics.SetBreakerState(name, float64(StateClosed))
	}
	return b
}

// States lists every known breaker ordered by name.
func (g *Guard) States() []Snapshot {
	g.mu.Lock()
	list := make([]*Breaker, 0, len(g.breakers))
	for _, b := range g.breakers {
		list = append(list, b)
	}
	g.mu.Unlock()

	out := make([]Snapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Do runs fn under the named circuit with the default timeout.
func (g *Guard) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return g.DoTimeout(ctx, name, g.timeout, fn)
}

// DoTimeout runs fn under the named circuit. Each attempt gets its own
// timeout. Transient failures are retried with exponential backoff up to the
// retry limit; permanent failures return at once. An open circuit returns a
// *CircuitOpenError without invoking fn.
func (g *Guard) DoTimeout(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	b := g.Breaker(name)
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !b.Allow() {
			metrics.RecordCallAttempt(name, "rejected")
			if lastErr != nil {
				return errors.Join(&CircuitOpenError{Name: name}, lastErr)
			}
			return &CircuitOpenError{Name: name}
		}

		err := g.attempt(ctx, timeout, fn)
		switch {
		case err == nil:
			b.Success()
			metrics.RecordCallAttempt(name, "ok")
			return nil
		case ctx.Err() != nil:
			// the caller gave up; that says nothing about upstream health
			b.Release()
			metrics.RecordCallAttempt(name, "canceled")
			return err
		case !IsTransient(err):
			// upstream answered, so the circuit stays healthy
			b.Success()
			metrics.RecordCallAttempt(name, "permanent")
			return err
		}

		b.Failure()
		metrics.RecordCallAttempt(name, "transient")
		lastErr = err
		if attempt == g.maxRetries {
			break
		}
		wait := g.backoff(attempt, err)
		g.log.Warn(ctx, "retrying external call",
			logger.String("circuit", name),
			logger.Int("attempt", attempt+1),
			logger.Int("max_retries", g.maxRetries),
			logger.Duration("backoff", wait),
			logger.Error(err),
		)
		if err := g.sleep(ctx, wait); err != nil {
			return lastErr
		}
	}
	return lastErr
}

func (g *Guard) attempt(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx)
}

// backoff doubles from baseBackoff, honours Retry-After and caps at maxBackoff.
func (g *Guard) backoff(attempt int, err error) time.Duration {
	wait := g.baseBackoff << uint(attempt)
	var se *StatusError
	if errors.As(err, &se) && se.RetryAfter > wait {
		wait = se.RetryAfter
	}
	if g.maxBackoff > 0 && wait > g.maxBackoff {
		wait = g.maxBackoff
	}
	return wait
}

func (g *Guard) stateChanged(name string, from, to State) {
	metrics.SetBreakerState(name, float64(to))
	g.log.Warn(context.Background(), "circuit state changed",
		logger.String("circuit", name),
		logger.String("from", from.String()),
		logger.String("to", to.String()),
	)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
