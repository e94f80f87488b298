package auction

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrBadDuration      = errors.New("auction duration must be positive")
	ErrBadPriceBounds   = errors.New("start rate must be above end price")
	ErrUnsortedPoints   = errors.New("curve points must be sorted by delay")
	ErrBadCoefficient   = errors.New("curve coefficient must be within [0, 1]")
	ErrPointPastEnd     = errors.New("curve point delay exceeds auction duration")
	ErrNegativeRateBump = errors.New("initial rate bump must not be negative")
)

// CurvePoint pins the decay coefficient at a given delay from auction
// start. Coefficient 1 keeps the full start premium, 0 is the floor.
type CurvePoint struct {
	Delay       time.Duration   `json:"delay"`
	Coefficient decimal.Decimal `json:"coefficient"`
}

// Config describes one dutch auction. Immutable once attached to an
// order; every resolver prices the same config identically.
type Config struct {
	StartTime       time.Time       `json:"startTime"`
	Duration        time.Duration   `json:"duration"`
	InitialPrice    decimal.Decimal `json:"initialPrice"`
	EndPrice        decimal.Decimal `json:"endPrice"`
	InitialRateBump decimal.Decimal `json:"initialRateBump"` // 0.05 = start 5% above InitialPrice
	Points          []CurvePoint    `json:"points"`
}

// StartRate is the opening price: InitialPrice bumped by the premium.
func (c *Config) StartRate() decimal.Decimal {
	return c.InitialPrice.Mul(decimal.NewFromInt(1).Add(c.InitialRateBump))
}

func (c *Config) Validate() error {
	if c.Duration <= 0 {
		return ErrBadDuration
	}
	if c.InitialRateBump.IsNegative() {
		return ErrNegativeRateBump
	}
	if c.StartRate().LessThanOrEqual(c.EndPrice) {
		return ErrBadPriceBounds
	}

	one := decimal.NewFromInt(1)
	prev := time.Duration(-1)
	for _, p := range c.Points {
		if p.Delay <= prev {
			return ErrUnsortedPoints
		}
		if p.Coefficient.IsNegative() || p.Coefficient.GreaterThan(one) {
			return ErrBadCoefficient
		}
		if p.Delay > c.Duration {
			return ErrPointPastEnd
		}
		prev = p.Delay
	}
	return nil
}

// Price evaluates the curve at the given elapsed time since StartTime.
//
// The price decays from StartRate toward EndPrice: an implicit point
// (0, 1) opens the curve, the configured points are interpolated
// linearly, and everything past the last point (or past Duration) is
// clamped to EndPrice. Pure function; no clock access.
func Price(c *Config, elapsed time.Duration) decimal.Decimal {
	if elapsed <= 0 {
		return c.StartRate()
	}
	if elapsed >= c.Duration {
		return c.EndPrice
	}

	coeff := coefficientAt(c, elapsed)
	spread := c.StartRate().Sub(c.EndPrice)
	return c.EndPrice.Add(spread.Mul(coeff))
}

// PriceAt is the wall-clock convenience over Price.
func PriceAt(c *Config, now time.Time) decimal.Decimal {
	return Price(c, now.Sub(c.StartTime))
}

func coefficientAt(c *Config, elapsed time.Duration) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if len(c.Points) == 0 {
		// plain linear decay over the whole duration
		return one.Sub(ratio(elapsed, c.Duration))
	}

	prevDelay := time.Duration(0)
	prevCoeff := one
	for _, p := range c.Points {
		if elapsed <= p.Delay {
			segment := p.Delay - prevDelay
			if segment <= 0 {
				return p.Coefficient
			}
			progress := ratio(elapsed-prevDelay, segment)
			return prevCoeff.Sub(prevCoeff.Sub(p.Coefficient).Mul(progress))
		}
		prevDelay = p.Delay
		prevCoeff = p.Coefficient
	}

	// beyond the last configured point: floor
	return decimal.Zero
}

func ratio(num, den time.Duration) decimal.Decimal {
	return decimal.NewFromInt(int64(num)).Div(decimal.NewFromInt(int64(den)))
}
