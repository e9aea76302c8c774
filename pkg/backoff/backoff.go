// Package backoff provides a numeric value adapter for computing retry
// delays. A Backoff starts from an initial value and advances it either
// linearly or exponentially, saturating at a configurable ceiling.
//
// Example:
//
//	b := backoff.New(2, backoff.WithMax(7200))
//	b.Exponential(0) // 4
//	b.Exponential(0) // 8
package backoff

// Backoff adapts a start value to provide Linear and Exponential backoff
// value calculation. It is not safe for concurrent use; callers hold one
// Backoff per retry loop.
type Backoff struct {
	value         float64
	defaultFactor float64
	defaultIncr   float64
	max           float64
}

// Option configures a Backoff.
type Option func(*Backoff)

// WithFactor overrides the default exponential factor (2).
func WithFactor(factor float64) Option {
	return func(b *Backoff) {
		b.defaultFactor = factor
	}
}

// WithIncrement overrides the default linear increment, which is otherwise
// the start value.
func WithIncrement(incr float64) Option {
	return func(b *Backoff) {
		b.defaultIncr = incr
	}
}

// WithMax caps the value at a hard ceiling. Without it the value is
// unbounded.
func WithMax(max float64) Option {
	return func(b *Backoff) {
		b.max = max
	}
}

// New returns a Backoff holding the given start value.
func New(start float64, opts ...Option) *Backoff {
	b := &Backoff{
		value:         start,
		defaultFactor: 2,
		defaultIncr:   start,
		max:           -1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Value returns the current value without advancing it.
func (b *Backoff) Value() float64 {
	return b.value
}

func (b *Backoff) limit(value float64) float64 {
	if b.max >= 0 && value > b.max {
		return b.max
	}
	return value
}

// Linear adds incr to the current value and returns it, saturating at the
// maximum. Pass incr <= 0 to use the default increment.
func (b *Backoff) Linear(incr float64) float64 {
	if incr <= 0 {
		incr = b.defaultIncr
	}
	b.value = b.limit(b.value + incr)
	return b.value
}

// Exponential multiplies the current value by factor and returns it,
// saturating at the maximum. Pass factor <= 0 to use the default factor.
func (b *Backoff) Exponential(factor float64) float64 {
	if factor <= 0 {
		factor = b.defaultFactor
	}
	b.value = b.limit(b.value * factor)
	return b.value
}
