// Package config handles CLI, environment and optional TOML configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	toml "github.com/pelletier/go-toml/v2"

	"api-gateway/internal/route"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/api-gateway/config.toml",
	"configs/config.toml",
}

// Default upstream targets, matching the service hostnames used in the compose setup.
const (
	DefaultUserServiceURL    = "http://user-service:3001"
	DefaultTicketServiceURL  = "http://ticket-service:3002"
	DefaultBookingServiceURL = "http://booking-service:3003"
)

// Proxy prefixes, in registration order.
const (
	UsersPrefix    = "/api/users"
	TicketsPrefix  = "/api/tickets"
	BookingsPrefix = "/api/bookings"
)

// reservedPaths are served by the gateway itself and must not be shadowed by metrics.
var reservedPaths = []string{"/health", "/api/docs", UsersPrefix, TicketsPrefix, BookingsPrefix}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config            string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host              string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port              int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	UserServiceURL    string `kong:"help='User service base URL (overrides config).',env='USER_SERVICE_URL'"`
	TicketServiceURL  string `kong:"help='Ticket service base URL (overrides config).',env='TICKET_SERVICE_URL'"`
	BookingServiceURL string `kong:"help='Booking service base URL (overrides config).',env='BOOKING_SERVICE_URL'"`
	LogLevel          string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Services ServicesConfig `toml:"services"`
	CORS     CORSConfig     `toml:"cors"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"`           // 0 means "use default" (8080)
	BodyMaxBytes int64           `toml:"body_max_bytes"` // 0 means unlimited
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds the proxy policy shared by every route unless a
// service overrides it.
type UpstreamConfig struct {
	ConnectTimeoutMs int `toml:"connect_timeout_ms"`
	TimeoutMs        int `toml:"timeout_ms"`
	IdleConnections  int `toml:"idle_connections"`
}

// ServicesConfig holds the three backend targets.
type ServicesConfig struct {
	Users    ServiceConfig `toml:"users"`
	Tickets  ServiceConfig `toml:"tickets"`
	Bookings ServiceConfig `toml:"bookings"`
}

// ServiceConfig is a single backend target. Zero timeouts inherit [upstream].
type ServiceConfig struct {
	URL              string `toml:"url"`
	ConnectTimeoutMs int    `toml:"connect_timeout_ms"`
	TimeoutMs        int    `toml:"timeout_ms"`
}

// CORSConfig holds cross-origin settings.
type CORSConfig struct {
	AllowOrigins []string `toml:"allow_origins"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the optional TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/api-gateway/config.toml then configs/config.toml. A missing file is
// not an error: the gateway runs from defaults and environment alone.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.UserServiceURL != "" {
		c.Services.Users.URL = cli.UserServiceURL
	}
	if cli.TicketServiceURL != "" {
		c.Services.Tickets.URL = cli.TicketServiceURL
	}
	if cli.BookingServiceURL != "" {
		c.Services.Bookings.URL = cli.BookingServiceURL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Upstream.ConnectTimeoutMs == 0 {
		c.Upstream.ConnectTimeoutMs = 30000
	}
	if c.Upstream.TimeoutMs == 0 {
		c.Upstream.TimeoutMs = 30000
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Services.Users.URL == "" {
		c.Services.Users.URL = DefaultUserServiceURL
	}
	if c.Services.Tickets.URL == "" {
		c.Services.Tickets.URL = DefaultTicketServiceURL
	}
	if c.Services.Bookings.URL == "" {
		c.Services.Bookings.URL = DefaultBookingServiceURL
	}
	if len(c.CORS.AllowOrigins) == 0 {
		c.CORS.AllowOrigins = []string{"*"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func (c *Config) validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server, validation.By(validateServer)),
		validation.Field(&c.Upstream, validation.By(validateUpstream)),
		validation.Field(&c.Services, validation.By(validateServices)),
		validation.Field(&c.Log, validation.By(validateLog)),
		validation.Field(&c.Metrics, validation.By(validateMetrics)),
	)
}

func validateServer(value interface{}) error {
	sc, ok := value.(ServerConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a ServerConfig")
	}
	return validation.ValidateStruct(&sc,
		validation.Field(&sc.Port, validation.Min(0), validation.Max(65535)),
		validation.Field(&sc.BodyMaxBytes, validation.Min(int64(0))),
		validation.Field(&sc.RateLimit, validation.By(func(value interface{}) error {
			rl, _ := value.(RateLimitConfig)
			if rl.Enabled && rl.RequestsPerSecond <= 0 {
				return validation.NewError("validation_invalid_rate", "requests_per_second must be > 0 when rate limiting is enabled")
			}
			return nil
		})),
	)
}

func validateUpstream(value interface{}) error {
	uc, ok := value.(UpstreamConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be an UpstreamConfig")
	}
	return validation.ValidateStruct(&uc,
		validation.Field(&uc.ConnectTimeoutMs, validation.Min(0)),
		validation.Field(&uc.TimeoutMs, validation.Min(0)),
		validation.Field(&uc.IdleConnections, validation.Min(0)),
	)
}

func validateServices(value interface{}) error {
	sc, ok := value.(ServicesConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a ServicesConfig")
	}
	return validation.ValidateStruct(&sc,
		validation.Field(&sc.Users, validation.By(validateService)),
		validation.Field(&sc.Tickets, validation.By(validateService)),
		validation.Field(&sc.Bookings, validation.By(validateService)),
	)
}

func validateService(value interface{}) error {
	svc, ok := value.(ServiceConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a ServiceConfig")
	}
	return validation.ValidateStruct(&svc,
		validation.Field(&svc.URL, validation.Required, validation.By(validateServiceURL)),
		validation.Field(&svc.ConnectTimeoutMs, validation.Min(0)),
		validation.Field(&svc.TimeoutMs, validation.Min(0)),
	)
}

func validateServiceURL(value interface{}) error {
	serviceURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	parsedURL, err := url.Parse(serviceURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}
	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}
	if parsedURL.RawQuery != "" || parsedURL.Fragment != "" {
		return validation.NewError("validation_invalid_url", "URL must not carry a query or fragment")
	}

	return nil
}

func validateLog(value interface{}) error {
	lc, ok := value.(LogConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a LogConfig")
	}
	return validation.ValidateStruct(&lc,
		validation.Field(&lc.Level, validation.By(oneOf("debug", "info", "warn", "error"))),
		validation.Field(&lc.Format, validation.By(oneOf("json", "text"))),
	)
}

// oneOf is a case-insensitive validation.In.
func oneOf(allowed ...string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		for _, a := range allowed {
			if strings.EqualFold(s, a) {
				return nil
			}
		}
		return validation.NewError("validation_in_invalid", "must be one of: "+strings.Join(allowed, ", "))
	}
}

func validateMetrics(value interface{}) error {
	mc, ok := value.(MetricsConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
	}
	if !mc.Enabled {
		return nil
	}
	p := mc.Path
	if p == "" || p[0] != '/' || p == "/" {
		return validation.NewError("validation_invalid_path", "path must start with '/' and not be the root")
	}
	for _, reserved := range reservedPaths {
		if p == reserved || strings.HasPrefix(p, reserved+"/") {
			return validation.NewError("validation_reserved_path", fmt.Sprintf("path %q conflicts with reserved route %q", p, reserved))
		}
	}
	return nil
}

// Routes builds the proxy routes in registration order: users, tickets, bookings.
func (c *Config) Routes() ([]route.Route, error) {
	services := []struct {
		name   string
		prefix string
		svc    ServiceConfig
	}{
		{"user-service", UsersPrefix, c.Services.Users},
		{"ticket-service", TicketsPrefix, c.Services.Tickets},
		{"booking-service", BookingsPrefix, c.Services.Bookings},
	}

	routes := make([]route.Route, 0, len(services))
	for _, s := range services {
		target, err := url.Parse(s.svc.URL)
		if err != nil {
			return nil, fmt.Errorf("parse %s url: %w", s.name, err)
		}
		routes = append(routes, route.Route{
			Name:           s.name,
			Prefix:         s.prefix,
			Target:         target,
			ConnectTimeout: millis(firstPositive(s.svc.ConnectTimeoutMs, c.Upstream.ConnectTimeoutMs)),
			Timeout:        millis(firstPositive(s.svc.TimeoutMs, c.Upstream.TimeoutMs)),
		})
	}
	return routes, nil
}

// NewRouteTable builds the immutable route table from configuration.
func NewRouteTable(cfg *Config) (*route.Table, error) {
	routes, err := cfg.Routes()
	if err != nil {
		return nil, fmt.Errorf("config: routes: %w", err)
	}
	t, err := route.NewTable(routes...)
	if err != nil {
		return nil, fmt.Errorf("config: routes: %w", err)
	}
	return t, nil
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FilePath returns the config file that was loaded, or empty when running
// from defaults and environment only.
func (c *Config) FilePath() string {
	return c.filePath
}

// WarnPermissions logs a warning if the config file is writable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("stat config file", "path", c.filePath, "err", err)
		}
		return
	}
	if perm := info.Mode().Perm(); perm&0o022 != 0 {
		logger.Warn("config file is writable by group/others; consider chmod 644",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
