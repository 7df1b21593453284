package crmclient

import "time"

// config accumulates Option values before NewScheduler builds the
// Scheduler. Mirrors httpclient's internalConfig + functional-option
// pattern.
type config struct {
	Webhook               string
	RequestPoolSize       int
	RequestsPerSecond     float64
	RespectVelocityPolicy bool
	SSL                   bool
	Client                HTTPClient
	Verbose               bool
	timeout               time.Duration
}

func newConfig(opts ...Option) *config {
	cfg := &config{
		RequestPoolSize:       50,
		RequestsPerSecond:     2.0,
		RespectVelocityPolicy: true,
		SSL:                   true,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Option configures a Scheduler.
type Option func(*config)

// WithWebhook sets the incoming webhook URL used to authenticate and
// address every request. Required.
func WithWebhook(webhook string) Option {
	return func(cfg *config) {
		cfg.Webhook = webhook
	}
}

// WithVelocityPolicy enables or disables the per-method sliding-window
// throttle. Enabled by default.
func WithVelocityPolicy(enabled bool) Option {
	return func(cfg *config) {
		cfg.RespectVelocityPolicy = enabled
	}
}

// WithPoolSize sets the token bucket's burst capacity. Default 50.
func WithPoolSize(size int) Option {
	return func(cfg *config) {
		cfg.RequestPoolSize = size
	}
}

// WithRequestsPerSecond sets the token bucket's sustained refill rate.
// Default 2.0.
func WithRequestsPerSecond(rps float64) Option {
	return func(cfg *config) {
		cfg.RequestsPerSecond = rps
	}
}

// WithSSL toggles certificate verification on the default transport.
// Disabling this is only intended for talking to self-hosted portals
// with self-signed certificates; default true.
func WithSSL(enabled bool) Option {
	return func(cfg *config) {
		cfg.SSL = enabled
	}
}

// WithHTTPClient supplies a caller-owned HTTPClient, bypassing the
// default transport construction entirely. The Scheduler never closes
// a caller-supplied client.
func WithHTTPClient(client HTTPClient) Option {
	return func(cfg *config) {
		cfg.Client = client
	}
}

// WithVerbose enables debug-level request/response logging via zerolog,
// matching httpclient's debug logger.
func WithVerbose(enabled bool) Option {
	return func(cfg *config) {
		cfg.Verbose = enabled
	}
}

// WithTimeout sets the default HTTP client's per-request timeout. Has no
// effect when combined with WithHTTPClient. Default: no timeout beyond
// what ctx enforces.
func WithTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timeout = d
	}
}
