// Package manager drives a single MCP session from an interactive front end. Every operation
// reports its progress and its failures as human readable lines through one log sink instead of
// returning errors, so a REPL can print them as they come.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/MegaGrindStone/go-mcp-streamable"
)

// Manager owns at most one connected mcp.Client at a time.
//
// Disconnecting keeps the session ID the server issued, so the next Connect carries on with the
// same session. Terminating or reconnecting forgets it.
type Manager struct {
	serverURL          string
	info               mcp.Info
	elicitationHandler mcp.ElicitationHandler
	logSink            func(string)
	httpClient         *http.Client
	reconnection       *mcp.ReconnectionOptions
	logger             *slog.Logger

	mu        sync.Mutex
	client    *mcp.Client
	sessionID string

	notificationCount atomic.Int64
	tracker           *mcp.ResumptionTracker
	refreshes         sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// notificationHandler surfaces server notifications through the manager's log sink.
type notificationHandler struct {
	m      *Manager
	client func() *mcp.Client
}

const (
	defaultServerURL = "http://localhost:3000/mcp"

	notificationsTool = "start-notification-stream"
)

// WithServerURL sets the endpoint Connect dials when it is given no URL.
func WithServerURL(url string) Option {
	return func(m *Manager) {
		m.serverURL = url
	}
}

// WithClientInfo sets the name and version sent in the handshake.
func WithClientInfo(name, version string) Option {
	return func(m *Manager) {
		m.info = mcp.Info{Name: name, Version: version}
	}
}

// WithElicitationHandler sets the handler answering elicitation/create requests. Without one,
// every elicitation is declined.
func WithElicitationHandler(handler mcp.ElicitationHandler) Option {
	return func(m *Manager) {
		m.elicitationHandler = handler
	}
}

// WithLogSink sets the function receiving the manager's output lines.
func WithLogSink(sink func(string)) Option {
	return func(m *Manager) {
		m.logSink = sink
	}
}

// WithHTTPClient sets the HTTP client used by the transport.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = client
	}
}

// WithReconnectionOptions sets how broken SSE streams are re-attached.
func WithReconnectionOptions(opts mcp.ReconnectionOptions) Option {
	return func(m *Manager) {
		m.reconnection = &opts
	}
}

// WithLogger sets the logger used for diagnostics. The log sink is not affected.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger.With(
			slog.String("package", "go-mcp-streamable"),
			slog.String("component", "manager"),
		)
	}
}

// New creates a disconnected Manager.
func New(options ...Option) *Manager {
	m := &Manager{
		serverURL: defaultServerURL,
		info:      mcp.Info{Name: "example-client", Version: "1.0.0"},
		logger:    slog.Default(),
		tracker:   mcp.NewResumptionTracker(),
	}
	for _, opt := range options {
		opt(m)
	}

	if m.elicitationHandler == nil {
		m.elicitationHandler = mcp.ElicitationHandlerFunc(declineElicitation)
	}
	if m.logSink == nil {
		logger := m.logger
		m.logSink = func(line string) {
			logger.Info(line)
		}
	}

	return m
}

// Connect opens a session with the server at url, or at the configured URL when url is empty.
func (m *Manager) Connect(ctx context.Context, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		m.log("Already connected. Disconnect first.")
		return
	}
	if url != "" {
		m.serverURL = url
	}
	m.logf("Connecting to %s...", m.serverURL)

	transportOptions := []mcp.StreamableHTTPClientOption{mcp.WithStreamableClientLogger(m.logger)}
	if m.sessionID != "" {
		transportOptions = append(transportOptions, mcp.WithStreamableClientSessionID(m.sessionID))
	}
	if m.reconnection != nil {
		transportOptions = append(transportOptions, mcp.WithStreamableClientReconnection(*m.reconnection))
	}
	transport := mcp.NewStreamableHTTPClient(m.serverURL, m.httpClient, transportOptions...)

	handler := notificationHandler{m: m, client: m.currentClient}
	client := mcp.NewClient(m.info, transport,
		mcp.WithElicitationHandler(m.elicitationHandler),
		mcp.WithLogReceiver(handler),
		mcp.WithResourceListWatcher(handler),
		mcp.WithClientLogger(m.logger),
	)

	if err := client.Connect(ctx); err != nil {
		m.logf("Failed to connect: %v", err)
		// A session the server no longer knows can't be resumed.
		m.sessionID = ""
		return
	}

	m.client = client
	m.sessionID = client.SessionID()
	m.logf("Transport created with session ID: %s", m.sessionID)
	m.log("Connected to MCP server")
}

// Disconnect closes the transport without ending the session on the server. Pending calls are
// abandoned.
func (m *Manager) Disconnect(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		m.log("Not connected.")
		return
	}
	m.client.Close()
	m.client = nil
	m.log("Disconnected from MCP server")
}

// TerminateSession ends the session on the server with DELETE and then closes the transport.
// A server that refuses termination leaves the session connected.
func (m *Manager) TerminateSession(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		m.log("Not connected.")
		return
	}

	m.logf("Terminating session with ID: %s", m.client.SessionID())
	err := m.client.TerminateSession(ctx)
	switch {
	case errors.Is(err, mcp.ErrSessionTerminationUnsupported):
		m.log("Server responded with 405 Method Not Allowed (session termination not supported)")
		m.logf("Session ID is still active: %s", m.client.SessionID())
		return
	case err != nil:
		m.logf("Error terminating session: %v", err)
		return
	}

	m.log("Session terminated successfully")
	m.log("Session ID has been cleared")
	m.sessionID = ""
	m.tracker.Reset()

	m.client.Close()
	m.client = nil
	m.log("Transport closed after session termination")
}

// Reconnect drops the current session, if any, and connects with a fresh handshake.
func (m *Manager) Reconnect(ctx context.Context) {
	if m.IsConnected() {
		m.Disconnect(ctx)
	}

	m.mu.Lock()
	m.sessionID = ""
	m.mu.Unlock()
	m.tracker.Reset()

	m.Connect(ctx, "")
}

// Cleanup terminates the session, if there is one, and closes the transport.
func (m *Manager) Cleanup(ctx context.Context) {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()

	if client != nil {
		if client.SessionID() != "" {
			m.log("Terminating session before exit...")
			if err := client.TerminateSession(ctx); err != nil {
				m.logf("Error terminating session: %v", err)
			} else {
				m.log("Session terminated successfully")
				m.mu.Lock()
				m.sessionID = ""
				m.mu.Unlock()
			}
		}
		client.Close()
	}

	m.refreshes.Wait()
}

// SessionID returns the session ID of the current or retained session.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// IsConnected reports whether a client is connected.
func (m *Manager) IsConnected() bool {
	return m.currentClient() != nil
}

// NotificationCount returns the number of log notifications received since the manager was
// created.
func (m *Manager) NotificationCount() int {
	return int(m.notificationCount.Load())
}

func (m *Manager) currentClient() *mcp.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

func (m *Manager) log(line string) {
	m.logSink(line)
}

func (m *Manager) logf(format string, args ...any) {
	m.logSink(fmt.Sprintf(format, args...))
}

// OnLog implements mcp.LogReceiver.
func (h notificationHandler) OnLog(params mcp.LogParams) {
	n := h.m.notificationCount.Add(1)
	h.m.logf("Notification #%d: %s - %s", n, params.Level, logData(params.Data))
}

// OnResourceListChanged implements mcp.ResourceListWatcher. The follow-up resources/list runs
// on its own goroutine, off the client's receive loop.
func (h notificationHandler) OnResourceListChanged() {
	h.m.log("Resource list changed notification received!")

	h.m.refreshes.Add(1)
	go func() {
		defer h.m.refreshes.Done()

		client := h.client()
		if client == nil {
			h.m.log("Client disconnected, cannot fetch resources")
			return
		}
		res, err := client.ListResources(context.Background(), mcp.ListResourcesParams{})
		if err != nil {
			h.m.logger.Warn("failed to list resources", slog.String("err", err.Error()))
			h.m.log("Failed to list resources after change notification")
			return
		}
		h.m.logf("Available resources count: %d", len(res.Resources))
	}()
}

func declineElicitation(context.Context, mcp.ElicitParams) (mcp.ElicitResult, error) {
	return mcp.ElicitResult{Action: mcp.ElicitActionDecline}, nil
}

// logData renders notification data: strings without their quotes, anything else as JSON.
func logData(data json.RawMessage) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(data))
}
