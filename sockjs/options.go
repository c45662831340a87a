package sockjs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Logger is the logging capability used by the client. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the settings of a session. A session copies the Config on
// creation; later changes to the value are not observed.
type Config struct {
	// BaseURL is the SockJS endpoint, e.g. http://localhost:8081/echo
	BaseURL *url.URL
	// Header is sent with every HTTP request and websocket handshake.
	Header http.Header
	Logger Logger
	// Registry holds the transports tried during negotiation. Nil means DefaultRegistry().
	Registry *Registry

	// HeartbeatTimeout is the longest the session stays open without any
	// frame from the server. Zero disables heartbeat monitoring.
	HeartbeatTimeout time.Duration
	// ConnectTimeout bounds a single transport's Connect.
	ConnectTimeout time.Duration
	// OpenTimeout is the grace period for the open frame after a transport connected.
	OpenTimeout time.Duration

	Reconnect ReconnectPolicy

	// HTTPClient is used by the HTTP based transports and the info probe.
	// Nil means a client with a public suffix aware cookie jar, created per session.
	HTTPClient *http.Client
	// Compression asks the server for gzip, deflate or br encoded responses.
	Compression bool
	// PollRate limits how often polling transports re-issue requests.
	PollRate rate.Limit
	// InfoProbe fetches {base}/info before negotiation.
	InfoProbe bool

	Metrics        *Metrics
	TracerProvider trace.TracerProvider
}

// ReconnectPolicy configures Client.Reconnect. Sessions never reconnect by themselves.
//
// Delays grow exponentially from InitialBackoff by Multiplier up to
// MaxBackoff. A zero InitialBackoff retries without delay, a zero MaxBackoff
// leaves the delay uncapped.
type ReconnectPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// backOff returns the schedule for one Reconnect call: MaxAttempts tries in
// total, stopped early when ctx is done.
func (p ReconnectPolicy) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.InitialBackoff > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = p.InitialBackoff
		exp.Multiplier = max(p.Multiplier, 1)
		exp.RandomizationFactor = 0
		exp.MaxInterval = time.Duration(math.MaxInt64)
		if p.MaxBackoff > 0 {
			exp.MaxInterval = p.MaxBackoff
		}
		exp.MaxElapsedTime = 0
		exp.Reset()
		b = exp
	}
	retries := max(p.MaxAttempts, 1) - 1
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// DefaultConfig is the Config used as a starting point by NewConfig.
var DefaultConfig = Config{
	HeartbeatTimeout: 60 * time.Second,
	ConnectTimeout:   10 * time.Second,
	OpenTimeout:      5 * time.Second,
	PollRate:         rate.Inf,
	Reconnect: ReconnectPolicy{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
	},
}

// Option configures a Config.
type Option func(*Config)

// NewConfig parses baseURL and applies opts on top of DefaultConfig.
func NewConfig(baseURL string, opts ...Option) (Config, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return Config{}, fmt.Errorf("sockjs: invalid base url: %w", err)
	}
	cfg := DefaultConfig.clone()
	cfg.BaseURL = u
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AddHeader appends a header value, keeping values already present.
func (c *Config) AddHeader(key, value string) {
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	c.Header.Add(key, value)
}

func (c Config) validate() error {
	if c.BaseURL == nil {
		return fmt.Errorf("sockjs: base url not set")
	}
	switch c.BaseURL.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("sockjs: unsupported base url scheme %q", c.BaseURL.Scheme)
	}
	if c.ConnectTimeout < 0 || c.OpenTimeout < 0 || c.HeartbeatTimeout < 0 {
		return fmt.Errorf("sockjs: negative timeout")
	}
	return nil
}

func (c Config) clone() Config {
	c.Header = c.Header.Clone()
	if c.BaseURL != nil {
		u := *c.BaseURL
		c.BaseURL = &u
	}
	return c
}

// with defaults filled in for everything left empty
func (c Config) normalize() Config {
	c = c.clone()
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.Registry == nil {
		c.Registry = DefaultRegistry()
	}
	if c.PollRate == 0 {
		c.PollRate = rate.Inf
	}
	return c
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithHeader appends a default header value.
func WithHeader(key, value string) Option {
	return func(c *Config) { c.AddHeader(key, value) }
}

// WithRegistry sets the transports to negotiate with.
func WithRegistry(r *Registry) Option {
	return func(c *Config) { c.Registry = r }
}

// WithHeartbeatTimeout closes an open session when the server stays silent for d. Zero disables the check.
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(c *Config) { c.HeartbeatTimeout = d }
}

// WithConnectTimeout bounds the connect of each transport candidate.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) { c.ConnectTimeout = d }
}

// WithOpenTimeout bounds the wait for the open frame after a transport connected.
func WithOpenTimeout(d time.Duration) Option {
	return func(c *Config) { c.OpenTimeout = d }
}

// WithReconnectPolicy sets the retry schedule of Client.Reconnect.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(c *Config) { c.Reconnect = p }
}

// WithHTTPClient sets the client used by HTTP transports and the info request.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) { c.HTTPClient = client }
}

// WithCompression requests gzip, deflate or brotli encoded responses.
func WithCompression(enabled bool) Option {
	return func(c *Config) { c.Compression = enabled }
}

// WithPollRate limits polling transports to r requests per second.
func WithPollRate(r rate.Limit) Option {
	return func(c *Config) { c.PollRate = r }
}

// WithInfoProbe fetches {base}/info before negotiation and skips websocket when the server disabled it.
func WithInfoProbe(enabled bool) Option {
	return func(c *Config) { c.InfoProbe = enabled }
}

// WithMetrics records session metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithTracerProvider sets the provider of negotiation spans, the global one by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Config) { c.TracerProvider = tp }
}
