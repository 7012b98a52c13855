package protocol

import "time"

// Config provides the tunable parameters of the operation pipeline and the
// verification subsystem.
type Config struct {
	// RateLimitWindow is the length of one fixed rate-limit window.
	RateLimitWindow time.Duration `json:"rate_limit_window,string" yaml:"rate_limit_window"`

	// RateLimit is the number of operations admitted per sender bucket per
	// window.
	RateLimit int `json:"rate_limit" yaml:"rate_limit"`

	// MaxClockSkew bounds how far an operation timestamp may lie in the
	// future of the node's clock.
	MaxClockSkew time.Duration `json:"max_clock_skew,string" yaml:"max_clock_skew"`

	// InviteTTL is how long a group invitation stays usable.
	InviteTTL time.Duration `json:"invite_ttl,string" yaml:"invite_ttl"`

	// SessionTTL bounds the blind-signature session cache. Abandoned
	// sessions are evicted after this long.
	SessionTTL time.Duration `json:"session_ttl,string" yaml:"session_ttl"`

	// TimestampPrecision is the default rounding of verification request
	// timestamps for apps that do not configure their own.
	TimestampPrecision time.Duration `json:"timestamp_precision,string" yaml:"timestamp_precision"`
}

// DefaultConfig returns the parameters a node runs with unless overridden.
func DefaultConfig() *Config {
	return &Config{
		RateLimitWindow:    15 * time.Minute,
		RateLimit:          60,
		MaxClockSkew:       time.Hour,
		InviteTTL:          72 * time.Hour,
		SessionTTL:         5 * time.Minute,
		TimestampPrecision: time.Hour,
	}
}
