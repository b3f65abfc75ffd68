package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ClientOption is a function that configures a client.
type ClientOption func(*Client)

// Client implements a Model Context Protocol (MCP) client that enables communication
// between LLM applications and external data sources and tools. It manages the
// connection lifecycle, handles protocol messages, and provides access to MCP
// server capabilities.
//
// Requests may complete in any order. A single goroutine owns the table of pending calls;
// callers register with it over a channel and wait for their own response. Closing the client
// abandons every pending call with ErrSessionClosed.
//
// A Client must be created using NewClient() and requires Connect() to be called
// before any operations can be performed. The client should be properly closed
// using Close() when it's no longer needed. A closed Client can't be connected again.
type Client struct {
	capabilities ClientCapabilities
	info         Info
	transport    ClientTransport

	elicitationHandler  ElicitationHandler
	promptListWatcher   PromptListWatcher
	resourceListWatcher ResourceListWatcher
	toolListWatcher     ToolListWatcher
	progressListener    ProgressListener
	logReceiver         LogReceiver

	writeTimeout time.Duration
	pingInterval time.Duration

	logger *slog.Logger

	mu                 sync.RWMutex
	session            Session
	serverInfo         Info
	serverCapabilities ServerCapabilities
	initialized        bool

	waitForResults chan waitForResultReq
	results        chan JSONRPCMessage
	abandonResults chan string

	done      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

type waitForResultReq struct {
	msgID   string
	resChan chan chan JSONRPCMessage
}

var (
	defaultClientWriteTimeout = 30 * time.Second

	// ErrClientNotConnected is returned by calls made before Connect succeeded or after Close.
	ErrClientNotConnected = errors.New("client not connected")
)

// WithElicitationHandler sets the handler answering elicitation/create requests, and makes the
// client advertise the elicitation capability. Without one, elicitations are declined.
func WithElicitationHandler(handler ElicitationHandler) ClientOption {
	return func(c *Client) {
		c.elicitationHandler = handler
	}
}

// WithPromptListWatcher sets the prompt list watcher for the client.
func WithPromptListWatcher(watcher PromptListWatcher) ClientOption {
	return func(c *Client) {
		c.promptListWatcher = watcher
	}
}

// WithResourceListWatcher sets the resource list watcher for the client.
func WithResourceListWatcher(watcher ResourceListWatcher) ClientOption {
	return func(c *Client) {
		c.resourceListWatcher = watcher
	}
}

// WithToolListWatcher sets the tool list watcher for the client.
func WithToolListWatcher(watcher ToolListWatcher) ClientOption {
	return func(c *Client) {
		c.toolListWatcher = watcher
	}
}

// WithProgressListener sets the progress listener for the client.
func WithProgressListener(listener ProgressListener) ClientOption {
	return func(c *Client) {
		c.progressListener = listener
	}
}

// WithLogReceiver sets the log receiver for the client.
func WithLogReceiver(receiver LogReceiver) ClientOption {
	return func(c *Client) {
		c.logReceiver = receiver
	}
}

// WithClientWriteTimeout sets the timeout for sending notifications and responses.
// Requests are bounded by the caller's context only.
func WithClientWriteTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.writeTimeout = timeout
	}
}

// WithClientPingInterval makes the client ping the server periodically. Pings are off by
// default.
func WithClientPingInterval(interval time.Duration) ClientOption {
	return func(c *Client) {
		c.pingInterval = interval
	}
}

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger.With(
			slog.String("package", "go-mcp-streamable"),
			slog.String("component", "client"),
		)
	}
}

// NewClient creates a new Model Context Protocol (MCP) client with the specified configuration.
//
// The info parameter provides client identification and version information. The transport
// parameter defines how the client communicates with the server.
//
// The client will not be connected until Connect() is called.
func NewClient(
	info Info,
	transport ClientTransport,
	options ...ClientOption,
) *Client {
	c := &Client{
		info:           info,
		transport:      transport,
		logger:         slog.Default(),
		waitForResults: make(chan waitForResultReq, 10),
		results:        make(chan JSONRPCMessage),
		abandonResults: make(chan string, 10),
		done:           make(chan struct{}),
		closed:         make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}

	if c.writeTimeout == 0 {
		c.writeTimeout = defaultClientWriteTimeout
	}

	c.capabilities = ClientCapabilities{}
	if c.elicitationHandler != nil {
		c.capabilities.Elicitation = &ElicitationCapability{}
	}

	return c
}

// Connect starts a transport session and performs the handshake: it sends initialize, checks
// the protocol version the server answered with, and confirms with notifications/initialized.
// When the transport is bound to a session ID issued earlier, the handshake runs again on that
// session.
//
// On failure the transport session is stopped and the client is closed.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		return errors.New("client already connected")
	}
	select {
	case <-c.done:
		c.mu.Unlock()
		return ErrClientNotConnected
	default:
	}

	sess, err := c.transport.StartSession(ctx)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to start session: %w", err)
	}
	c.session = sess
	c.mu.Unlock()

	go c.start()
	go c.listenMessages(sess)

	if err := c.initialize(ctx); err != nil {
		c.Close()
		return err
	}

	if c.pingInterval > 0 {
		go c.pings()
	}

	return nil
}

// Close stops the transport session without terminating it on the server, and abandons every
// pending call with ErrSessionClosed. No cancellation is sent for abandoned calls. Calling
// Close more than once has no further effect.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		sess := c.session
		c.initialized = false
		c.mu.Unlock()

		if sess != nil {
			sess.Stop()
			<-c.closed
		}
	})
}

// SessionID returns the session ID issued by the server, or an empty string before the
// handshake.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.session == nil {
		return ""
	}
	return c.session.ID()
}

// TerminateSession asks the server to end the session. It returns
// ErrSessionTerminationUnsupported when the server refuses; the session is then still usable.
// On success the client still needs to be closed.
func (c *Client) TerminateSession(ctx context.Context) error {
	c.mu.RLock()
	sess := c.session
	c.mu.RUnlock()

	if sess == nil {
		return ErrClientNotConnected
	}
	t, ok := sess.(SessionTerminator)
	if !ok {
		return errors.New("transport cannot terminate sessions")
	}
	return t.Terminate(ctx)
}

// ListPrompts retrieves a paginated list of available prompts from the server.
//
// The request can be cancelled via the context. When cancelled, a cancellation
// notification is sent to the server to stop processing.
func (c *Client) ListPrompts(ctx context.Context, params ListPromptsParams) (ListPromptResult, error) {
	if err := c.requireCapability(func(caps ServerCapabilities) bool { return caps.Prompts != nil },
		"prompts"); err != nil {
		return ListPromptResult{}, err
	}

	var result ListPromptResult
	if err := c.call(ctx, MethodPromptsList, params, &result); err != nil {
		return ListPromptResult{}, err
	}
	return result, nil
}

// GetPrompt retrieves a specific prompt by name with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, params GetPromptParams) (GetPromptResult, error) {
	if err := c.requireCapability(func(caps ServerCapabilities) bool { return caps.Prompts != nil },
		"prompts"); err != nil {
		return GetPromptResult{}, err
	}

	var result GetPromptResult
	if err := c.call(ctx, MethodPromptsGet, params, &result); err != nil {
		return GetPromptResult{}, err
	}
	return result, nil
}

// ListResources retrieves a paginated list of available resources from the server.
func (c *Client) ListResources(ctx context.Context, params ListResourcesParams) (ListResourcesResult, error) {
	if err := c.requireCapability(func(caps ServerCapabilities) bool { return caps.Resources != nil },
		"resources"); err != nil {
		return ListResourcesResult{}, err
	}

	var result ListResourcesResult
	if err := c.call(ctx, MethodResourcesList, params, &result); err != nil {
		return ListResourcesResult{}, err
	}
	return result, nil
}

// ReadResource retrieves the contents of a specific resource.
func (c *Client) ReadResource(ctx context.Context, params ReadResourceParams) (ReadResourceResult, error) {
	if err := c.requireCapability(func(caps ServerCapabilities) bool { return caps.Resources != nil },
		"resources"); err != nil {
		return ReadResourceResult{}, err
	}

	var result ReadResourceResult
	if err := c.call(ctx, MethodResourcesRead, params, &result); err != nil {
		return ReadResourceResult{}, err
	}
	return result, nil
}

// ListTools retrieves a paginated list of available tools from the server.
func (c *Client) ListTools(ctx context.Context, params ListToolsParams) (ListToolsResult, error) {
	if err := c.requireCapability(func(caps ServerCapabilities) bool { return caps.Tools != nil },
		"tools"); err != nil {
		return ListToolsResult{}, err
	}

	var result ListToolsResult
	if err := c.call(ctx, MethodToolsList, params, &result); err != nil {
		return ListToolsResult{}, err
	}
	return result, nil
}

// CallTool executes a specific tool and returns its result. A tool that failed is reported
// through the result's IsError, not as an error.
//
// Notifications the tool emits while running are delivered to the client's receivers as they
// arrive. Use WithResumptionTokenHandler to track the stream position and WithResumptionToken
// to pick up a call whose stream was lost.
func (c *Client) CallTool(ctx context.Context, params CallToolParams, options ...CallOption) (CallToolResult, error) {
	if err := c.requireCapability(func(caps ServerCapabilities) bool { return caps.Tools != nil },
		"tools"); err != nil {
		return CallToolResult{}, err
	}

	var result CallToolResult
	if err := c.call(ctx, MethodToolsCall, params, &result, options...); err != nil {
		return CallToolResult{}, err
	}
	return result, nil
}

// SetLogLevel configures the minimum level of the log notifications the server sends.
func (c *Client) SetLogLevel(ctx context.Context, level LogLevel) error {
	if err := c.requireCapability(func(caps ServerCapabilities) bool { return caps.Logging != nil },
		"logging"); err != nil {
		return err
	}

	return c.call(ctx, MethodLoggingSetLevel, SetLogLevelParams{Level: level}, nil)
}

// Ping checks that the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, MethodPing, nil, nil)
}

// Request sends a request with any method and returns the raw response, which may carry a
// JSON-RPC error. It fails only when no response could be obtained.
func (c *Client) Request(
	ctx context.Context,
	method string,
	params any,
	options ...CallOption,
) (JSONRPCMessage, error) {
	c.mu.RLock()
	sess := c.session
	c.mu.RUnlock()

	if sess == nil {
		return JSONRPCMessage{}, ErrClientNotConnected
	}
	select {
	case <-c.done:
		return JSONRPCMessage{}, ErrSessionClosed
	default:
	}

	msgID := uuid.New().String()
	msg, err := NewRequest(MustString(msgID), method, params)
	if err != nil {
		return JSONRPCMessage{}, err
	}

	// Register before sending, the response may arrive before Send returns.
	resChannels := make(chan chan JSONRPCMessage, 1)
	select {
	case <-c.done:
		return JSONRPCMessage{}, ErrSessionClosed
	case <-ctx.Done():
		return JSONRPCMessage{}, ctx.Err()
	case c.waitForResults <- waitForResultReq{msgID: msgID, resChan: resChannels}:
	}

	var results chan JSONRPCMessage
	select {
	case <-c.done:
		return JSONRPCMessage{}, ErrSessionClosed
	case results = <-resChannels:
	}

	if err := sess.Send(withCallOptions(ctx, options), msg); err != nil {
		c.abandon(msgID)
		return JSONRPCMessage{}, fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case res := <-results:
		return res, nil
	case <-c.done:
		return JSONRPCMessage{}, ErrSessionClosed
	case <-ctx.Done():
		c.abandon(msgID)
		err := ctx.Err()
		if nErr := c.sendNotification(methodNotificationsCancelled, notificationsCancelledParams{
			RequestID: MustString(msgID),
			Reason:    userCancelledReason,
		}); nErr != nil {
			err = fmt.Errorf("%w: failed to send cancellation: %w", err, nErr)
		}
		return JSONRPCMessage{}, err
	}
}

// ServerInfo returns the server's info.
func (c *Client) ServerInfo() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.serverInfo
}

// ServerCapabilities returns the capabilities the server announced in the handshake.
func (c *Client) ServerCapabilities() ServerCapabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.serverCapabilities
}

// PromptServerSupported returns true if the server supports prompt management.
func (c *Client) PromptServerSupported() bool {
	return c.ServerCapabilities().Prompts != nil
}

// ResourceServerSupported returns true if the server supports resource management.
func (c *Client) ResourceServerSupported() bool {
	return c.ServerCapabilities().Resources != nil
}

// ToolServerSupported returns true if the server supports tool management.
func (c *Client) ToolServerSupported() bool {
	return c.ServerCapabilities().Tools != nil
}

// LoggingServerSupported returns true if the server supports logging.
func (c *Client) LoggingServerSupported() bool {
	return c.ServerCapabilities().Logging != nil
}

func (c *Client) initialize(ctx context.Context) error {
	res, err := c.Request(ctx, MethodInitialize, initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    c.capabilities,
		ClientInfo:      c.info,
	})
	if err != nil {
		return fmt.Errorf("failed to send initialize request: %w", err)
	}
	if res.Error != nil {
		return fmt.Errorf("initialize error: %w", *res.Error)
	}

	var result initializeResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		return fmt.Errorf("failed to unmarshal initialize result: %w", err)
	}

	if !slices.Contains(supportedProtocolVersions, result.ProtocolVersion) {
		return fmt.Errorf("unsupported protocol version: %s", result.ProtocolVersion)
	}

	c.mu.Lock()
	c.serverInfo = result.ServerInfo
	c.serverCapabilities = result.Capabilities
	c.initialized = true
	c.mu.Unlock()

	if err := c.sendNotification(methodNotificationsInitialized, nil); err != nil {
		return fmt.Errorf("failed to send initialized notification: %w", err)
	}
	return nil
}

func (c *Client) requireCapability(supported func(ServerCapabilities) bool, name string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.initialized {
		return ErrClientNotConnected
	}
	if !supported(c.serverCapabilities) {
		return fmt.Errorf("%s not supported by server", name)
	}
	return nil
}

// call sends a request and decodes its result into result, which may be nil. A JSON-RPC error
// response is returned as a wrapped JSONRPCError.
func (c *Client) call(ctx context.Context, method string, params, result any, options ...CallOption) error {
	res, err := c.Request(ctx, method, params, options...)
	if err != nil {
		return err
	}
	if res.Error != nil {
		return fmt.Errorf("result error: %w", *res.Error)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(res.Result, result); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return nil
}

// start owns the table of pending calls until the client is closed.
func (c *Client) start() {
	defer close(c.closed)

	waitForResults := make(map[string]chan JSONRPCMessage) // map[msgID]chan JSONRPCMessage

	for {
		select {
		case <-c.done:
			return
		case req := <-c.waitForResults:
			resChan := make(chan JSONRPCMessage, 1)
			waitForResults[req.msgID] = resChan
			req.resChan <- resChan
		case msg := <-c.results:
			resChan, ok := waitForResults[string(msg.ID)]
			if !ok {
				c.logger.Warn("received response for unknown request", slog.String("id", string(msg.ID)))
				continue
			}
			resChan <- msg
			delete(waitForResults, string(msg.ID))
		case msgID := <-c.abandonResults:
			delete(waitForResults, msgID)
		}
	}
}

func (c *Client) abandon(msgID string) {
	select {
	case c.abandonResults <- msgID:
	case <-c.done:
	}
}

func (c *Client) pings() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
		if err := c.Ping(ctx); err != nil && !errors.Is(err, ErrSessionClosed) {
			c.logger.Warn("failed to ping server", slog.String("err", err.Error()))
		}
		cancel()
	}
}

// listenMessages routes everything the server sends: responses to the pending-call table,
// requests to their handlers, notifications to the registered receivers.
func (c *Client) listenMessages(sess Session) {
	for msg := range sess.Messages() {
		if msg.JSONRPC != JSONRPCVersion {
			c.logger.Error("invalid jsonrpc version", slog.String("version", msg.JSONRPC))
			continue
		}

		switch msg.Kind() {
		case MessageKindResponse:
			select {
			case c.results <- msg:
			case <-c.done:
				return
			}
		case MessageKindRequest:
			go c.handleRequest(msg)
		case MessageKindNotification:
			c.handleNotification(msg)
		default:
			c.logger.Warn("ignoring malformed message", slog.Any("message", msg))
		}
	}
}

func (c *Client) handleRequest(msg JSONRPCMessage) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	var res JSONRPCMessage
	var err error

	switch msg.Method {
	case MethodPing:
		res, err = NewResult(msg.ID, nil)
	case MethodElicitationCreate:
		res, err = c.handleElicitation(ctx, msg)
	default:
		res = NewErrorResponse(msg.ID, jsonRPCMethodNotFoundCode, errMsgUnsupportedMethod)
	}
	if err != nil {
		c.logger.Error("failed to handle request",
			slog.String("method", msg.Method),
			slog.String("err", err.Error()))
		res = NewErrorResponse(msg.ID, jsonRPCInternalErrorCode, errMsgInternalServer)
	}

	if err := c.send(res); err != nil {
		c.logger.Error("failed to send response",
			slog.String("method", msg.Method),
			slog.String("err", err.Error()))
	}
}

func (c *Client) handleElicitation(ctx context.Context, msg JSONRPCMessage) (JSONRPCMessage, error) {
	if c.elicitationHandler == nil {
		return NewResult(msg.ID, ElicitResult{Action: ElicitActionDecline})
	}

	var params ElicitParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return NewErrorResponse(msg.ID, jsonRPCInvalidParamsCode, "failed to unmarshal params"), nil
	}

	result, err := c.elicitationHandler.Elicit(ctx, params)
	if err != nil {
		return JSONRPCMessage{}, fmt.Errorf("failed to elicit: %w", err)
	}
	return NewResult(msg.ID, result)
}

func (c *Client) handleNotification(msg JSONRPCMessage) {
	switch msg.Method {
	case methodNotificationsPromptsListChanged:
		if c.promptListWatcher != nil {
			c.promptListWatcher.OnPromptListChanged()
		}
	case methodNotificationsResourcesListChanged:
		if c.resourceListWatcher != nil {
			c.resourceListWatcher.OnResourceListChanged()
		}
	case methodNotificationsToolsListChanged:
		if c.toolListWatcher != nil {
			c.toolListWatcher.OnToolListChanged()
		}
	case methodNotificationsProgress:
		if c.progressListener == nil {
			return
		}
		var params ProgressParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			c.logger.Error("failed to unmarshal progress params", slog.String("err", err.Error()))
			return
		}
		c.progressListener.OnProgress(params)
	case methodNotificationsMessage:
		if c.logReceiver == nil {
			return
		}
		var params LogParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			c.logger.Error("failed to unmarshal log params", slog.String("err", err.Error()))
			return
		}
		c.logReceiver.OnLog(params)
	default:
		c.logger.Debug("ignoring notification", slog.String("method", msg.Method))
	}
}

func (c *Client) sendNotification(method string, params any) error {
	msg, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	return c.send(msg)
}

func (c *Client) send(msg JSONRPCMessage) error {
	c.mu.RLock()
	sess := c.session
	c.mu.RUnlock()

	if sess == nil {
		return ErrClientNotConnected
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()

	if err := sess.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}
