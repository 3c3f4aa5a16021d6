// Package resilience wraps outbound calls to external services (GitHub,
// LLM providers reached over HTTP) with a circuit breaker, so a
// struggling dependency fails fast instead of piling up blocked
// goroutines behind the Execution Engine's retry loop. Grounded on the
// teacher's indirect sony/gobreaker dependency, promoted here to direct
// use since nothing in the teacher's own tree exercises it.
package resilience

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned by Execute while the breaker is open,
// wrapping gobreaker's own sentinel so callers can errors.Is against a
// stable name instead of importing gobreaker directly.
var ErrCircuitOpen = errors.New("resilience: circuit breaker open")

// Config tunes a Breaker. Zero values fall back to DefaultConfig's.
type Config struct {
	// MaxConsecutiveFailures trips the breaker open after this many
	// consecutive failed calls.
	MaxConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before allowing a
	// single half-open probe request through.
	OpenTimeout time.Duration
	// OnStateChange, if set, observes transitions (e.g. for logging).
	OnStateChange func(name string, from, to string)
}

// DefaultConfig matches the teacher pack's service-to-service HTTP
// client defaults: five consecutive failures trips the breaker, which
// stays open for thirty seconds before probing again.
func DefaultConfig() Config {
	return Config{MaxConsecutiveFailures: 5, OpenTimeout: 30 * time.Second}
}

// Breaker wraps a named gobreaker.CircuitBreaker.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New builds a Breaker identified by name (surfaced in state-change
// callbacks; useful when a process runs breakers for several outbound
// dependencies).
func New(name string, cfg Config) *Breaker {
	if cfg.MaxConsecutiveFailures == 0 {
		cfg.MaxConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxConsecutiveFailures
		},
	}
	if cfg.OnStateChange != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			cfg.OnStateChange(name, from.String(), to.String())
		}
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn under the breaker's protection. An open breaker short
// circuits immediately with ErrCircuitOpen instead of calling fn.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// State reports the breaker's current state as a lowercase string
// ("closed", "half-open", "open"), suitable for a gauge label.
func (b *Breaker) State() string {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
