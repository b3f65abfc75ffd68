package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ServerOption represents the options for the server.
type ServerOption func(*Server)

// Server implements a Model Context Protocol (MCP) server that enables communication
// between LLM applications and external data sources and tools. It manages the
// connection lifecycle, handles protocol messages, and provides access to MCP
// server capabilities.
//
// Every session the transport yields gets its own loop. Requests are served concurrently and
// their handlers run on a context owned by the session, not by the HTTP request that carried
// them, so a client that drops its connection doesn't cancel the work.
type Server struct {
	info Info

	instructions string
	capabilities ServerCapabilities
	transport    ServerTransport

	promptServer        PromptServer
	resourceServer      ResourceServer
	resourceListUpdater ResourceListUpdater
	toolServer          ToolServer
	logHandler          LogHandler

	pingInterval         time.Duration
	pingTimeout          time.Duration
	pingTimeoutThreshold int
	sendTimeout          time.Duration

	logger *slog.Logger

	onClientConnected    func(string, Info)
	onClientDisconnected func(string)

	sessionsWaitGroup *sync.WaitGroup

	done               chan struct{}
	resourceListClosed chan struct{}
	logClosed          chan struct{}
}

type serverSession struct {
	session Session
	logger  *slog.Logger

	serverCap    ServerCapabilities
	serverInfo   Info
	instructions string

	pingInterval         time.Duration
	pingTimeout          time.Duration
	pingTimeoutThreshold int
	sendTimeout          time.Duration

	promptServer   PromptServer
	resourceServer ResourceServer
	toolServer     ToolServer
	logHandler     LogHandler

	onClientConnected func(string, Info)

	// logLevel is the minimum level of log notifications sent through a Peer.
	logLevel atomic.Int32

	mu               sync.Mutex
	cancels          map[MustString]context.CancelFunc
	pendingRequests  map[MustString]chan JSONRPCMessage
	initializeServed bool
	clientInfo       Info
}

// sessionPeer is the Peer handed to handlers serving one request.
type sessionPeer struct {
	ss            *serverSession
	requestID     MustString
	progressToken MustString
}

var (
	defaultServerPingTimeout          = 30 * time.Second
	defaultServerPingTimeoutThreshold = 3
	defaultServerSendTimeout          = 30 * time.Second
)

// NewServer creates a new Model Context Protocol (MCP) server with the specified configuration.
func NewServer(info Info, transport ServerTransport, options ...ServerOption) Server {
	s := Server{
		info:               info,
		transport:          transport,
		logger:             slog.Default(),
		sessionsWaitGroup:  &sync.WaitGroup{},
		done:               make(chan struct{}),
		resourceListClosed: make(chan struct{}),
		logClosed:          make(chan struct{}),
	}
	for _, opt := range options {
		opt(&s)
	}
	if s.pingTimeout == 0 {
		s.pingTimeout = defaultServerPingTimeout
	}
	if s.pingTimeoutThreshold == 0 {
		s.pingTimeoutThreshold = defaultServerPingTimeoutThreshold
	}
	if s.sendTimeout == 0 {
		s.sendTimeout = defaultServerSendTimeout
	}

	// Prepares the server's capabilities based on the provided server implementations.

	s.capabilities = ServerCapabilities{}

	if s.promptServer != nil {
		s.capabilities.Prompts = &PromptsCapability{}
	}
	if s.resourceServer != nil {
		s.capabilities.Resources = &ResourcesCapability{}
		if s.resourceListUpdater != nil {
			s.capabilities.Resources.ListChanged = true
		}
	}
	if s.toolServer != nil {
		s.capabilities.Tools = &ToolsCapability{}
	}
	if s.logHandler != nil {
		s.capabilities.Logging = &LoggingCapability{}
	}

	return s
}

// WithPromptServer returns a ServerOption that configures the prompt server implementation.
func WithPromptServer(srv PromptServer) ServerOption {
	return func(s *Server) {
		s.promptServer = srv
	}
}

// WithResourceServer returns a ServerOption that configures the resource server implementation.
func WithResourceServer(srv ResourceServer) ServerOption {
	return func(s *Server) {
		s.resourceServer = srv
	}
}

// WithResourceListUpdater returns a ServerOption that configures the resource list updater implementation.
func WithResourceListUpdater(updater ResourceListUpdater) ServerOption {
	return func(s *Server) {
		s.resourceListUpdater = updater
	}
}

// WithToolServer returns a ServerOption that configures the tool server implementation.
func WithToolServer(srv ToolServer) ServerOption {
	return func(s *Server) {
		s.toolServer = srv
	}
}

// WithLogHandler returns a ServerOption that configures the log handler implementation.
func WithLogHandler(handler LogHandler) ServerOption {
	return func(s *Server) {
		s.logHandler = handler
	}
}

// WithInstructions returns a ServerOption that configures the server instructions.
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// WithServerPingInterval makes the server ping every session periodically and stop the ones
// that fail too many pings in a row. Pings are off by default.
func WithServerPingInterval(interval time.Duration) ServerOption {
	return func(s *Server) {
		s.pingInterval = interval
	}
}

// WithServerPingTimeout returns a ServerOption that configures the server's ping timeout.
func WithServerPingTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.pingTimeout = timeout
	}
}

// WithServerPingTimeoutThreshold sets the ping timeout threshold for the server.
// If the number of consecutive ping timeouts exceeds the threshold, the server will close the session.
func WithServerPingTimeoutThreshold(threshold int) ServerOption {
	return func(s *Server) {
		s.pingTimeoutThreshold = threshold
	}
}

// WithServerSendTimeout returns a ServerOption that configures the server's send timeout.
func WithServerSendTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.sendTimeout = timeout
	}
}

// WithServerOnClientConnected sets the callback for when a client completes the handshake.
// The callback's parameters are the session ID and the client's Info.
func WithServerOnClientConnected(onClientConnected func(string, Info)) ServerOption {
	return func(s *Server) {
		s.onClientConnected = onClientConnected
	}
}

// WithServerOnClientDisconnected sets the callback for when a session ends.
// The callback's parameter is the session ID.
func WithServerOnClientDisconnected(onClientDisconnected func(string)) ServerOption {
	return func(s *Server) {
		s.onClientDisconnected = onClientDisconnected
	}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("package", "go-mcp-streamable"),
			slog.String("component", "server"),
		)
	}
}

// Serve starts the MCP server and manages its lifecycle. It handles client connections,
// protocol messages, and server capabilities according to the MCP specification.
//
// Serve blocks until the server is shut down.
func (s Server) Serve() {
	broadcasts := make(chan JSONRPCMessage, 10)

	if s.resourceListUpdater != nil {
		go s.listenUpdates(methodNotificationsResourcesListChanged, s.resourceListUpdater.ResourceListUpdates(),
			broadcasts, s.resourceListClosed)
	} else {
		close(s.resourceListClosed)
	}

	if s.logHandler != nil {
		go s.listenLogs(broadcasts)
	} else {
		close(s.logClosed)
	}

	s.start(broadcasts)
}

// Shutdown gracefully shuts down the server. The transport is shut down first, which stops
// every session; then Shutdown waits for the session loops and the update listeners to end.
// It returns an error if the context is done before that.
func (s Server) Shutdown(ctx context.Context) error {
	close(s.done)

	if err := s.transport.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown transport: %w", err)
	}

	sessionsDone := make(chan struct{})
	go func() {
		s.sessionsWaitGroup.Wait()
		close(sessionsDone)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for sessions: %w", ctx.Err())
	case <-sessionsDone:
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to close ResourceListUpdater: %w", ctx.Err())
	case <-s.resourceListClosed:
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to close LogHandler: %w", ctx.Err())
	case <-s.logClosed:
	}

	return nil
}

func (s Server) start(broadcasts <-chan JSONRPCMessage) {
	// These channels are used to send broadcasts to all sessions in the goroutine below.
	sessions := make(chan *serverSession, 5)
	removedSessions := make(chan string, 5)

	go s.broadcast(broadcasts, sessions, removedSessions)

	// This loop would break when the transport is shut down.
	for sess := range s.transport.Sessions() {
		ss := &serverSession{
			session:              sess,
			logger:               s.logger.With(slog.String("sessionID", sess.ID())),
			serverCap:            s.capabilities,
			serverInfo:           s.info,
			instructions:         s.instructions,
			pingInterval:         s.pingInterval,
			pingTimeout:          s.pingTimeout,
			pingTimeoutThreshold: s.pingTimeoutThreshold,
			sendTimeout:          s.sendTimeout,
			promptServer:         s.promptServer,
			resourceServer:       s.resourceServer,
			toolServer:           s.toolServer,
			logHandler:           s.logHandler,
			onClientConnected:    s.onClientConnected,
			cancels:              make(map[MustString]context.CancelFunc),
			pendingRequests:      make(map[MustString]chan JSONRPCMessage),
		}
		// Updates the broadcaster about new sessions
		select {
		case sessions <- ss:
		case <-s.done:
		}

		s.sessionsWaitGroup.Add(1)

		go func() {
			defer s.sessionsWaitGroup.Done()

			ss.start(s.done)

			if s.onClientDisconnected != nil {
				s.onClientDisconnected(ss.session.ID())
			}

			// Notify the broadcaster about removed sessions
			select {
			case <-s.done:
			case removedSessions <- ss.session.ID():
			}
		}()
	}
}

func (s Server) broadcast(messages <-chan JSONRPCMessage, sessions <-chan *serverSession, removedSession <-chan string) {
	// Store all active sessions in a map for easy lookup
	sessMap := make(map[string]*serverSession)

	for {
		select {
		case <-s.done:
			return
		case sess := <-sessions:
			sessMap[sess.session.ID()] = sess
		case sessID := <-removedSession:
			delete(sessMap, sessID)
		case msg := <-messages:
			ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
			// Broadcast the message to all active sessions
			for _, sess := range sessMap {
				if err := sess.session.Send(ctx, msg); err != nil {
					sess.logger.Error("failed to send message",
						slog.String("method", msg.Method),
						slog.String("err", err.Error()))
				}
			}
			cancel()
		}
	}
}

func (s Server) listenLogs(messages chan<- JSONRPCMessage) {
	defer close(s.logClosed)

	for params := range s.logHandler.LogStreams() {
		msg, err := NewNotification(methodNotificationsMessage, params)
		if err != nil {
			s.logger.Error("failed to marshal log params", slog.String("err", err.Error()))
			continue
		}
		select {
		case <-s.done:
			return
		case messages <- msg:
		}
	}
}

func (s Server) listenUpdates(
	method string,
	updates iter.Seq[struct{}],
	messages chan<- JSONRPCMessage,
	closed chan<- struct{},
) {
	defer close(closed)

	for range updates {
		msg := JSONRPCMessage{
			JSONRPC: JSONRPCVersion,
			Method:  method,
		}
		select {
		case <-s.done:
			return
		case messages <- msg:
		}
	}
}

func (s *serverSession) start(done <-chan struct{}) {
	// This base context is to make sure all the handlers started by this session are
	// cancelled when the session ends.
	baseCtx, baseCancel := context.WithCancel(context.Background())
	defer baseCancel()

	if s.pingInterval > 0 {
		go s.ping(baseCtx, done)
	}

	// This loop would break when the session is stopped.
	for msg := range s.session.Messages() {
		if msg.JSONRPC != JSONRPCVersion {
			s.logger.Info("failed to handle message",
				slog.Any("message", msg),
				slog.String("err", ErrInvalidJSON.Error()),
			)
			continue
		}

		switch msg.Kind() {
		case MessageKindRequest:
			s.handleRequest(baseCtx, msg)
		case MessageKindNotification:
			s.handleNotification(msg)
		case MessageKindResponse:
			// Response to a request sent through a Peer or to a ping.
			s.mu.Lock()
			results, ok := s.pendingRequests[msg.ID]
			delete(s.pendingRequests, msg.ID)
			s.mu.Unlock()
			if !ok {
				s.logger.Warn("received response for unknown request", slog.String("id", string(msg.ID)))
				continue
			}
			results <- msg
		default:
			s.logger.Warn("ignoring malformed message", slog.Any("message", msg))
		}
	}
}

func (s *serverSession) handleRequest(baseCtx context.Context, msg JSONRPCMessage) {
	switch msg.Method {
	case MethodPing:
		go s.reply(msg.ID, struct{}{}, nil)
		return
	case MethodInitialize:
		// The session counts as initialized before the next message of a batch is handled;
		// only the reply is sent concurrently.
		result, err := s.handleInitializeRequest(msg)
		go s.reply(msg.ID, result, err)
		return
	}

	s.mu.Lock()
	served := s.initializeServed
	s.mu.Unlock()
	if !served {
		go s.reply(msg.ID, nil, JSONRPCError{
			Code:    jsonRPCInvalidRequestCode,
			Message: "session not initialized",
		})
		return
	}

	ctx, cancel := context.WithCancel(withRelatedRequest(baseCtx, msg.ID))
	s.mu.Lock()
	s.cancels[msg.ID] = cancel
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.cancels, msg.ID)
			s.mu.Unlock()
			cancel()
		}()
		s.handleServerImplementationMessage(ctx, msg)
	}()
}

func (s *serverSession) handleNotification(msg JSONRPCMessage) {
	switch msg.Method {
	case methodNotificationsInitialized:
		if s.onClientConnected != nil {
			s.mu.Lock()
			info := s.clientInfo
			s.mu.Unlock()
			s.onClientConnected(s.session.ID(), info)
		}
	case methodNotificationsCancelled:
		var params notificationsCancelledParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.logger.Warn("failed to unmarshal cancelled params", slog.String("err", err.Error()))
			return
		}
		s.mu.Lock()
		cancel, ok := s.cancels[params.RequestID]
		s.mu.Unlock()
		if ok {
			s.logger.Debug("request cancelled by client",
				slog.String("id", string(params.RequestID)),
				slog.String("reason", params.Reason))
			cancel()
		}
	default:
		s.logger.Debug("ignoring notification", slog.String("method", msg.Method))
	}
}

func (s *serverSession) handleInitializeRequest(msg JSONRPCMessage) (any, error) {
	var params initializeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.logger.Info("invalid initialization request", slog.String("err", err.Error()))
		return nil, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Sprintf("failed to unmarshal params: %s", err.Error()),
		}
	}

	// Answer with the version the client asked for when we speak it, otherwise with ours and
	// let the client decide.
	version := protocolVersion
	if slices.Contains(supportedProtocolVersions, params.ProtocolVersion) {
		version = params.ProtocolVersion
	}

	s.mu.Lock()
	s.initializeServed = true
	s.clientInfo = params.ClientInfo
	s.mu.Unlock()

	return initializeResult{
		ProtocolVersion: version,
		Capabilities:    s.serverCap,
		ServerInfo:      s.serverInfo,
		Instructions:    s.instructions,
	}, nil
}

func (s *serverSession) ping(ctx context.Context, done <-chan struct{}) {
	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	failedPings := 0

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-pingTicker.C:
		}

		pingCtx, cancel := context.WithTimeout(ctx, s.pingTimeout)
		res, err := s.request(pingCtx, MethodPing, nil)
		cancel()
		if err == nil && res.Error == nil {
			failedPings = 0
			continue
		}

		failedPings++
		if err != nil {
			s.logger.Warn("failed to ping client", slog.String("err", err.Error()))
		}
		if failedPings > s.pingTimeoutThreshold {
			s.logger.Warn("too many pings failed, closing session")
			s.session.Stop()
			return
		}
	}
}

// request sends a request to the client and waits for its response. The context decides the
// stream it travels on.
func (s *serverSession) request(ctx context.Context, method string, params any) (JSONRPCMessage, error) {
	msgID := MustString(uuid.New().String())
	msg, err := NewRequest(msgID, method, params)
	if err != nil {
		return JSONRPCMessage{}, err
	}

	results := make(chan JSONRPCMessage, 1)
	s.mu.Lock()
	s.pendingRequests[msgID] = results
	s.mu.Unlock()

	forget := func() {
		s.mu.Lock()
		delete(s.pendingRequests, msgID)
		s.mu.Unlock()
	}

	if err := s.session.Send(ctx, msg); err != nil {
		forget()
		return JSONRPCMessage{}, fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case res := <-results:
		return res, nil
	case <-ctx.Done():
		forget()
		return JSONRPCMessage{}, ctx.Err()
	}
}

// reply sends the response for id. A non-nil jsonErr wins over result.
func (s *serverSession) reply(id MustString, result any, jsonErr error) {
	var msg JSONRPCMessage
	var rpcErr JSONRPCError
	switch {
	case jsonErr != nil && errors.As(jsonErr, &rpcErr):
		msg = NewErrorResponse(id, rpcErr.Code, rpcErr.Message)
	case jsonErr != nil:
		msg = NewErrorResponse(id, jsonRPCInternalErrorCode, errMsgInternalServer)
	default:
		var err error
		msg, err = NewResult(id, result)
		if err != nil {
			s.logger.Error("failed to marshal result", slog.String("err", err.Error()))
			msg = NewErrorResponse(id, jsonRPCInternalErrorCode, errMsgInternalServer)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()

	if err := s.session.Send(ctx, msg); err != nil {
		s.logger.Error("failed to send result", slog.String("err", err.Error()))
	}
}

func (s *serverSession) handleServerImplementationMessage(ctx context.Context, msg JSONRPCMessage) {
	// This variables is used to store all the result from the server implementation
	// to be sent back to the client below.
	var result any
	// The err should always be an instance of JSONRPCError, we declare it as an error type
	// for the nil-check.
	var err error

	switch msg.Method {
	case MethodPromptsList:
		result, err = s.callListPrompts(ctx, msg)
	case MethodPromptsGet:
		result, err = s.callGetPrompt(ctx, msg)
	case MethodResourcesList:
		result, err = s.callListResources(ctx, msg)
	case MethodResourcesRead:
		result, err = s.callReadResource(ctx, msg)
	case MethodToolsList:
		result, err = s.callListTools(ctx, msg)
	case MethodToolsCall:
		result, err = s.callCallTool(ctx, msg)
	case MethodLoggingSetLevel:
		err = s.callSetLogLevel(msg)
	default:
		err = JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: errMsgUnsupportedMethod,
		}
	}

	if err != nil {
		s.logger.Debug("answering with error",
			slog.String("method", msg.Method),
			slog.String("err", err.Error()))
	}

	s.reply(msg.ID, result, err)
}

func (s *serverSession) peer(msg JSONRPCMessage, meta *ParamsMeta) sessionPeer {
	p := sessionPeer{ss: s, requestID: msg.ID}
	if meta != nil {
		p.progressToken = meta.ProgressToken
	}
	return p
}

// internalError logs the handler's error and hides it from the client.
func (s *serverSession) internalError(action string, err error) error {
	s.logger.Error("server implementation failed",
		slog.String("action", action),
		slog.String("err", err.Error()))
	return JSONRPCError{
		Code:    jsonRPCInternalErrorCode,
		Message: errMsgInternalServer,
	}
}

func invalidParams(err error) error {
	return JSONRPCError{
		Code:    jsonRPCInvalidParamsCode,
		Message: fmt.Errorf("failed to unmarshal params: %w", err).Error(),
	}
}

func unmarshalParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func (s *serverSession) callListPrompts(ctx context.Context, msg JSONRPCMessage) (ListPromptResult, error) {
	if s.promptServer == nil {
		return ListPromptResult{}, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "prompts not supported by server",
		}
	}

	var params ListPromptsParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return ListPromptResult{}, invalidParams(err)
	}

	ps, err := s.promptServer.ListPrompts(ctx, params, s.peer(msg, params.Meta))
	if err != nil {
		return ListPromptResult{}, s.internalError("list prompts", err)
	}
	return ps, nil
}

func (s *serverSession) callGetPrompt(ctx context.Context, msg JSONRPCMessage) (GetPromptResult, error) {
	if s.promptServer == nil {
		return GetPromptResult{}, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "prompts not supported by server",
		}
	}

	var params GetPromptParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return GetPromptResult{}, invalidParams(err)
	}

	p, err := s.promptServer.GetPrompt(ctx, params, s.peer(msg, params.Meta))
	if err != nil {
		return GetPromptResult{}, s.internalError("get prompt", err)
	}
	return p, nil
}

func (s *serverSession) callListResources(ctx context.Context, msg JSONRPCMessage) (ListResourcesResult, error) {
	if s.resourceServer == nil {
		return ListResourcesResult{}, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "resources not supported by server",
		}
	}

	var params ListResourcesParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return ListResourcesResult{}, invalidParams(err)
	}

	rs, err := s.resourceServer.ListResources(ctx, params, s.peer(msg, params.Meta))
	if err != nil {
		return ListResourcesResult{}, s.internalError("list resources", err)
	}
	return rs, nil
}

func (s *serverSession) callReadResource(ctx context.Context, msg JSONRPCMessage) (ReadResourceResult, error) {
	if s.resourceServer == nil {
		return ReadResourceResult{}, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "resources not supported by server",
		}
	}

	var params ReadResourceParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return ReadResourceResult{}, invalidParams(err)
	}

	r, err := s.resourceServer.ReadResource(ctx, params, s.peer(msg, params.Meta))
	if err != nil {
		return ReadResourceResult{}, s.internalError("read resource", err)
	}
	return r, nil
}

func (s *serverSession) callListTools(ctx context.Context, msg JSONRPCMessage) (ListToolsResult, error) {
	if s.toolServer == nil {
		return ListToolsResult{}, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "tools not supported by server",
		}
	}

	var params ListToolsParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return ListToolsResult{}, invalidParams(err)
	}

	ts, err := s.toolServer.ListTools(ctx, params, s.peer(msg, params.Meta))
	if err != nil {
		return ListToolsResult{}, s.internalError("list tools", err)
	}
	return ts, nil
}

func (s *serverSession) callCallTool(ctx context.Context, msg JSONRPCMessage) (CallToolResult, error) {
	if s.toolServer == nil {
		return CallToolResult{}, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "tools not supported by server",
		}
	}

	var params CallToolParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return CallToolResult{}, invalidParams(err)
	}

	result, err := s.toolServer.CallTool(ctx, params, s.peer(msg, params.Meta))
	if err != nil {
		result = CallToolResult{
			Content: []Content{
				{
					Type: ContentTypeText,
					Text: err.Error(),
				},
			},
			IsError: true,
		}
	}

	return result, nil
}

func (s *serverSession) callSetLogLevel(msg JSONRPCMessage) error {
	var params SetLogLevelParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return invalidParams(err)
	}

	s.logLevel.Store(int32(params.Level))
	if s.logHandler != nil {
		s.logHandler.SetLogLevel(params.Level)
	}

	return nil
}

func (p sessionPeer) SessionID() string {
	return p.ss.session.ID()
}

func (p sessionPeer) Log(ctx context.Context, params LogParams) error {
	if int32(params.Level) < p.ss.logLevel.Load() {
		return nil
	}
	return p.notify(ctx, methodNotificationsMessage, params)
}

func (p sessionPeer) ReportProgress(ctx context.Context, params ProgressParams) error {
	if params.ProgressToken == "" {
		params.ProgressToken = p.progressToken
	}
	if params.ProgressToken == "" {
		// The client didn't ask for progress.
		return nil
	}
	return p.notify(ctx, methodNotificationsProgress, params)
}

func (p sessionPeer) Request(ctx context.Context, method string, params any) (JSONRPCMessage, error) {
	return p.ss.request(withRelatedRequest(ctx, p.requestID), method, params)
}

func (p sessionPeer) notify(ctx context.Context, method string, params any) error {
	msg, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	if err := p.ss.session.Send(withRelatedRequest(ctx, p.requestID), msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", method, err)
	}
	return nil
}
