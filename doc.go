// Package mcp implements sessions of the Model Context Protocol (MCP) over the streamable HTTP
// transport, following https://modelcontextprotocol.io/specification/2025-06-18/basic/transports.
//
// A single HTTP endpoint serves every session. A POST carries one JSON-RPC message or a batch, and
// the replies come back either as one JSON body or as a Server-Sent Events stream. A GET opens the
// standalone stream for server-initiated messages, and a DELETE ends the session. Session identity
// travels in the Mcp-Session-Id header.
//
// Every event written to an SSE stream is first recorded in an EventStore. A client that loses a
// stream reconnects with a Last-Event-ID header and receives the events it missed, in order, before
// the stream continues live.
//
// On the server side, StreamableHTTPServer implements ServerTransport and Server dispatches the
// decoded calls to PromptServer, ResourceServer and ToolServer implementations. On the client
// side, StreamableHTTPClient implements ClientTransport and Client issues the calls, tracks
// resumption tokens and routes server-initiated requests and notifications to the configured
// handlers.
package mcp
