package tokens

import "time"

// Option configures a codec
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source, for tests and for callers that need
// a single consistent "now" across checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
