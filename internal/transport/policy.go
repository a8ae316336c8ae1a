package transport

import (
	"fmt"
	"math"
	"time"
)

// ReconnectPolicy is the exponential backoff applied after unclean closes.
type ReconnectPolicy struct {
	Base       time.Duration
	Multiplier float64
	Cap        time.Duration
	// MaxAttempts is the number of automatic reconnects before the transport
	// settles in Error. A negative value retries forever.
	MaxAttempts int
}

// DefaultPolicy starts at one second and doubles up to thirty, ten times.
var DefaultPolicy = ReconnectPolicy{
	Base:        time.Second,
	Multiplier:  2,
	Cap:         30 * time.Second,
	MaxAttempts: 10,
}

// Delay returns min(Base * Multiplier^attempt, Cap). It never decreases as
// attempt grows.
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.Base) * math.Pow(mult, float64(attempt))
	if p.Cap > 0 && (d > float64(p.Cap) || math.IsInf(d, 0) || math.IsNaN(d)) {
		return p.Cap
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Validate reports configuration mistakes.
func (p ReconnectPolicy) Validate() error {
	if p.Base <= 0 {
		return fmt.Errorf("reconnect base must be positive, got %s", p.Base)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("reconnect multiplier must be at least 1, got %g", p.Multiplier)
	}
	if p.Cap > 0 && p.Cap < p.Base {
		return fmt.Errorf("reconnect cap %s is below base %s", p.Cap, p.Base)
	}
	return nil
}
