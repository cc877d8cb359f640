// Package latency decides and applies the artificial delay of each operation.
package latency

import (
	"math/rand/v2"
	"time"

	"github.com/ajaxzhan/slowpokefs/pkg/types"
)

// Policy is the effective delay configuration for one operation.
type Policy struct {
	Enabled bool
	Min     int64 // milliseconds
	Max     int64 // milliseconds
}

// Injector blocks the calling goroutine for a random duration within the
// configured range. It holds no lock while sleeping, so concurrent callers
// are delayed independently.
type Injector struct {
	cfg   *types.MountConfig
	rules *RuleSet
	rand  func(n int64) int64
	sleep func(time.Duration)
}

// Option configures an Injector.
type Option func(*Injector)

// WithRand replaces the random source. fn must return a value in [0, n).
func WithRand(fn func(n int64) int64) Option {
	return func(in *Injector) { in.rand = fn }
}

// WithSleep replaces time.Sleep.
func WithSleep(fn func(time.Duration)) Option {
	return func(in *Injector) { in.sleep = fn }
}

// New creates an injector for cfg.
func New(cfg *types.MountConfig, opts ...Option) *Injector {
	in := &Injector{
		cfg:   cfg,
		rules: NewRuleSet(cfg.Rules),
		rand:  rand.Int64N,
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Policy returns the delay policy for an operation of class on p.
// A matching rule replaces both the range and the class toggles.
func (in *Injector) Policy(class types.OpClass, p string) Policy {
	if r, ok := in.rules.Match(p); ok {
		return Policy{Enabled: r.Enabled(class), Min: r.MinDelay, Max: r.MaxDelay}
	}
	return Policy{
		Enabled: in.cfg.DelayEnabled(class),
		Min:     in.cfg.MinDelay,
		Max:     in.cfg.MaxDelay,
	}
}

// Sample draws a delay for class on p without sleeping.
func (in *Injector) Sample(class types.OpClass, p string) time.Duration {
	pol := in.Policy(class, p)
	if !pol.Enabled {
		return 0
	}
	ms := pol.Min
	if pol.Max > pol.Min {
		ms += in.rand(pol.Max - pol.Min)
	}
	return time.Duration(ms) * time.Millisecond
}

// Delay sleeps for a sampled duration and returns it.
// The sleep cannot be interrupted.
func (in *Injector) Delay(class types.OpClass, p string) time.Duration {
	d := in.Sample(class, p)
	if d > 0 {
		in.sleep(d)
	}
	return d
}
