package mcp

import (
	"context"
	"iter"
)

// ServerTransport provides the server-side communication layer in the MCP protocol.
type ServerTransport interface {
	// Sessions returns an iterator that yields new client sessions as they are initiated.
	// Each yielded Session represents a unique client connection and provides methods for
	// bidirectional communication. The implementation must guarantee that each session ID
	// is unique across all active connections.
	//
	// The implementation should exit the iteration when the Shutdown method is called.
	Sessions() iter.Seq[Session]

	// Shutdown gracefully shuts down the ServerTransport. Every session still registered
	// gets one close attempt; failures are logged, not returned. The caller is guaranteed
	// to call this method only once.
	Shutdown(ctx context.Context) error
}

// ClientTransport provides the client-side communication layer in the MCP protocol.
type ClientTransport interface {
	// StartSession prepares a session with the server. No request is made until the first
	// message is sent; the server assigns the session ID when it answers the initialize
	// request, and the returned Session reports it from then on.
	StartSession(ctx context.Context) (Session, error)
}

// Session represents a bidirectional communication channel between server and client.
type Session interface {
	// ID returns the unique identifier for this session. A client session returns an
	// empty string until the server has assigned one.
	ID() string

	// Send transmits a message to the other party.
	Send(ctx context.Context, msg JSONRPCMessage) error

	// Messages returns an iterator that yields messages received from the other party.
	// The implementations should exit the iteration if the session is closed.
	Messages() iter.Seq[JSONRPCMessage]

	// Stop stops the session. Calling it more than once has no further effect.
	Stop()
}

// SessionTerminator is implemented by client sessions that can end the session on the server
// side, as opposed to Stop which only drops the local end.
type SessionTerminator interface {
	Terminate(ctx context.Context) error
}

// Server interfaces

// PromptServer defines the interface for managing prompts in the MCP protocol.
type PromptServer interface {
	// ListPrompts returns a paginated list of available prompts.
	ListPrompts(context.Context, ListPromptsParams, Peer) (ListPromptResult, error)

	// GetPrompt retrieves a specific prompt template by name with the given arguments.
	// Returns error if prompt not found, arguments are invalid, or context is cancelled.
	GetPrompt(context.Context, GetPromptParams, Peer) (GetPromptResult, error)
}

// ResourceServer defines the interface for managing resources in the MCP protocol.
type ResourceServer interface {
	// ListResources returns a paginated list of available resources.
	ListResources(context.Context, ListResourcesParams, Peer) (ListResourcesResult, error)

	// ReadResource retrieves a specific resource by its URI.
	// Returns error if resource not found, cannot be read, or context is cancelled.
	ReadResource(context.Context, ReadResourceParams, Peer) (ReadResourceResult, error)
}

// ResourceListUpdater provides an interface for monitoring changes to the available resources list.
//
// The notifications are used by the MCP server to inform connected clients about resource list
// changes. Clients can then refresh their cached resource lists by calling ListResources again.
//
// A struct{} is sent through the iterator as only the notification matters, not the value.
type ResourceListUpdater interface {
	ResourceListUpdates() iter.Seq[struct{}]
}

// ToolServer defines the interface for managing tools in the MCP protocol.
type ToolServer interface {
	// ListTools returns a paginated list of available tools.
	ListTools(context.Context, ListToolsParams, Peer) (ListToolsResult, error)

	// CallTool executes a specific tool with the given arguments. The Peer can be used to
	// emit notifications tied to this call or to ask the client for input while the tool
	// runs. An error returned here reaches the client as an isError result.
	CallTool(context.Context, CallToolParams, Peer) (CallToolResult, error)
}

// LogHandler provides an interface for streaming log messages from the MCP server to connected clients.
type LogHandler interface {
	// LogStreams returns an iterator that emits log messages with metadata.
	LogStreams() iter.Seq[LogParams]

	// SetLogLevel configures the minimum severity level for emitted log messages.
	// Messages below this level are filtered out.
	SetLogLevel(level LogLevel)
}

// Peer is the server implementation's handle on the client that issued the request being
// served. Notifications sent through it travel on the same stream as the request's
// response, so a client resuming that stream receives them too.
type Peer interface {
	// SessionID returns the ID of the session the request arrived on.
	SessionID() string

	// Log sends a notifications/message to the client.
	Log(ctx context.Context, params LogParams) error

	// ReportProgress sends a notifications/progress to the client.
	ReportProgress(ctx context.Context, params ProgressParams) error

	// Request sends a request to the client and waits for its response, for example
	// elicitation/create.
	Request(ctx context.Context, method string, params any) (JSONRPCMessage, error)
}

// Client interfaces

// ElicitationHandler answers elicitation/create requests from the server.
type ElicitationHandler interface {
	Elicit(ctx context.Context, params ElicitParams) (ElicitResult, error)
}

// ElicitationHandlerFunc adapts a function to ElicitationHandler.
type ElicitationHandlerFunc func(ctx context.Context, params ElicitParams) (ElicitResult, error)

// PromptListWatcher provides an interface for receiving notifications when the server's prompt list changes.
type PromptListWatcher interface {
	// OnPromptListChanged is called when the server notifies that its prompt list has changed.
	OnPromptListChanged()
}

// ResourceListWatcher provides an interface for receiving notifications when the server's resource list changes.
// Implementations can use these notifications to update their internal state or trigger UI updates when
// available resources are added, removed, or modified.
//
// The method is called from the client's receive loop: issuing a request from inside it must
// happen on another goroutine.
type ResourceListWatcher interface {
	OnResourceListChanged()
}

// ToolListWatcher provides an interface for receiving notifications when the server's tool list changes.
type ToolListWatcher interface {
	OnToolListChanged()
}

// ProgressListener provides an interface for receiving progress updates on long-running operations.
type ProgressListener interface {
	// OnProgress is called when a progress update is received for an operation.
	OnProgress(params ProgressParams)
}

// LogReceiver provides an interface for receiving log messages from the server.
// Implementations can use these notifications to display logs in a UI, write them to a file,
// or forward them to a logging service.
type LogReceiver interface {
	// OnLog is called when a log message is received from the server.
	OnLog(params LogParams)
}

// Elicit implements ElicitationHandler.
func (f ElicitationHandlerFunc) Elicit(ctx context.Context, params ElicitParams) (ElicitResult, error) {
	return f(ctx, params)
}
