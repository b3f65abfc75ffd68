// Package config loads the configuration of the summarizer binaries from a TOML file, the
// environment and defaults, in increasing order of precedence: defaults, file, environment.
// Command line flags are applied by the binaries on top.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Server is the configuration of summarizer-server.
type Server struct {
	Port                int        `toml:"port"`
	Route               string     `toml:"route"`
	MetricsRoute        string     `toml:"metrics_route"`
	JSONResponse        bool       `toml:"json_response"`
	TerminationDisabled bool       `toml:"termination_disabled"`
	EventStoreCapacity  int        `toml:"event_store_capacity"`
	ShutdownTimeout     Duration   `toml:"shutdown_timeout"`
	Tools               []string   `toml:"tools"`
	OpenRouter          OpenRouter `toml:"openrouter"`
	Log                 Log        `toml:"log"`
}

// OpenRouter configures the completion API used by the summarize tool.
type OpenRouter struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
}

// Client is the configuration of summarizer-client.
type Client struct {
	ServerURL string `toml:"server_url"`
	Name      string `toml:"name"`
	Version   string `toml:"version"`
	Log       Log    `toml:"log"`
}

// Log configures diagnostics logging.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration written as a string such as "10s" in TOML.
type Duration struct {
	time.Duration
}

// DefaultServer returns the server configuration used when nothing overrides it.
func DefaultServer() Server {
	return Server{
		Port:               3000,
		Route:              "/mcp",
		MetricsRoute:       "/metrics",
		EventStoreCapacity: 1000,
		ShutdownTimeout:    Duration{10 * time.Second},
		OpenRouter: OpenRouter{
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "openrouter/sonoma-dusk-alpha",
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// DefaultClient returns the client configuration used when nothing overrides it.
func DefaultClient() Client {
	return Client{
		ServerURL: "http://localhost:3000/mcp",
		Name:      "example-client",
		Version:   "1.0.0",
		Log:       Log{Level: "warn", Format: "text"},
	}
}

// LoadServer loads the server configuration from the file at path, when path is not empty,
// and from the PORT, OPENROUTER_API_KEY and LOG_LEVEL environment variables.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()
	if err := loadToml(path, &cfg); err != nil {
		return Server{}, err
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Server{}, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.OpenRouter.APIKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// LoadClient loads the client configuration from the file at path, when path is not empty,
// and from the MCP_SERVER_URL and LOG_LEVEL environment variables.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if err := loadToml(path, &cfg); err != nil {
		return Client{}, err
	}

	if v := os.Getenv("MCP_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	if err := cfg.Validate(); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

// Addr returns the listen address for Port.
func (s Server) Addr() string {
	return ":" + strconv.Itoa(s.Port)
}

// Validate reports the first invalid setting.
func (s Server) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port %d out of range", s.Port)
	}
	if !strings.HasPrefix(s.Route, "/") {
		return fmt.Errorf("route %q must start with /", s.Route)
	}
	if s.MetricsRoute != "" {
		if !strings.HasPrefix(s.MetricsRoute, "/") {
			return fmt.Errorf("metrics_route %q must start with /", s.MetricsRoute)
		}
		if s.MetricsRoute == s.Route {
			return fmt.Errorf("metrics_route must differ from route %q", s.Route)
		}
	}
	if s.EventStoreCapacity < 0 {
		return fmt.Errorf("event_store_capacity must not be negative")
	}
	if s.ShutdownTimeout.Duration <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if _, err := url.ParseRequestURI(s.OpenRouter.BaseURL); err != nil {
		return fmt.Errorf("invalid openrouter base_url: %w", err)
	}
	if strings.TrimSpace(s.OpenRouter.Model) == "" {
		return fmt.Errorf("openrouter model is required")
	}
	return s.Log.Validate()
}

// Validate reports the first invalid setting.
func (c Client) Validate() error {
	u, err := url.ParseRequestURI(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server_url scheme must be http or https, got %q", u.Scheme)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("client name is required")
	}
	return c.Log.Validate()
}

// Validate reports an unknown level or format.
func (l Log) Validate() error {
	if _, err := l.level(); err != nil {
		return err
	}
	switch l.Format {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("log format %q must be text or json", l.Format)
	}
}

// NewLogger builds a logger writing to w.
func (l Log) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := l.level()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func (l Log) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", l.Level, err)
	}
	return level, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func loadToml(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}
