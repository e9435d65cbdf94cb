package upload

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-smartcapture/internal/log"
)

// Config holds uploader configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	URL   string
	Token string // Sent as a bearer token when set

	// Form field carrying the JPEG
	FieldName string

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration

	Logger *slog.Logger
}

// Option is a functional option for configuring uploaders.
type Option func(*Config)

// WithURL sets the capture endpoint.
func WithURL(url string) Option {
	return func(c *Config) {
		c.URL = url
	}
}

// WithToken sets the bearer token.
func WithToken(token string) Option {
	return func(c *Config) {
		c.Token = token
	}
}

// WithFieldName overrides the multipart field name of the image.
func WithFieldName(name string) Option {
	return func(c *Config) {
		c.FieldName = name
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithRetry configures retry behavior for 429 and 5xx answers.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		FieldName:  "image",
		Timeout:    30 * time.Second,
		MaxRetries: 2,
		RetryDelay: 500 * time.Millisecond,
		Logger:     log.L(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.URL == "" {
		return ErrNoURL
	}
	return nil
}
