// Package summarizer implements the summarizer MCP server: a summarize tool backed by a
// completion API, a handful of demonstration tools exercising notifications and elicitation,
// a greeting prompt and the resources produced by past summaries.
package summarizer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MegaGrindStone/go-mcp-streamable"
)

// Server implements mcp.ToolServer, mcp.PromptServer, mcp.ResourceServer,
// mcp.ResourceListUpdater and mcp.LogHandler.
//
// Every summary the server produces becomes a summary://<n> resource, and the resource list
// updates are broadcast to all sessions. Log messages about the server's own activity are
// broadcast through LogStreams, filtered by the level set with SetLogLevel.
//
// Callers must call Close when finished, which ends the update and log iterators.
type Server struct {
	summarizer    Summarizer
	greetingDelay time.Duration
	tools         ToolFilter
	logger        *slog.Logger

	mu        sync.Mutex
	logLevel  mcp.LogLevel
	summaries []string

	updates chan struct{}
	logs    chan mcp.LogParams

	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// Name and Version identify the server in the handshake.
const (
	Name    = "summarizer-mcp"
	Version = "0.1.0"
)

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("package", "summarizer"),
		)
	}
}

// WithGreetingDelay sets the pause between the notifications of the multi-greet tool.
func WithGreetingDelay(delay time.Duration) Option {
	return func(s *Server) {
		s.greetingDelay = delay
	}
}

// WithToolFilter limits the tools the server lists and accepts to those allowed by filter.
func WithToolFilter(filter ToolFilter) Option {
	return func(s *Server) {
		s.tools = filter
	}
}

// WithLogLevel sets the initial minimum level of the broadcast log stream.
func WithLogLevel(level mcp.LogLevel) Option {
	return func(s *Server) {
		s.logLevel = level
	}
}

// NewServer creates a summarizer server that summarizes text with summarizer.
func NewServer(summarizer Summarizer, options ...Option) *Server {
	s := &Server{
		summarizer:    summarizer,
		greetingDelay: time.Second,
		logger:        slog.Default(),
		logLevel:      mcp.LogLevelInfo,
		updates:       make(chan struct{}, 1),
		logs:          make(chan mcp.LogParams, 10),
		done:          make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Info returns the identity the server announces to clients.
func (s *Server) Info() mcp.Info {
	return mcp.Info{Name: Name, Version: Version}
}

// Close stops the update and log iterators. Calling Close more than once has no further
// effect.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
