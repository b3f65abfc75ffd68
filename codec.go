package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// MessageKind tells which of the three JSON-RPC envelopes a JSONRPCMessage is.
type MessageKind int

// ContentKind is the classification of a content item returned by a tool.
type ContentKind string

// MessageKind values.
const (
	MessageKindInvalid MessageKind = iota
	MessageKindRequest
	MessageKindNotification
	MessageKindResponse
)

// ContentKind values. ContentKindUnknown tags items the client doesn't understand.
const (
	ContentKindText         ContentKind = "text"
	ContentKindResource     ContentKind = "resource"
	ContentKindResourceLink ContentKind = "resource_link"
	ContentKindImage        ContentKind = "image"
	ContentKindAudio        ContentKind = "audio"
	ContentKindUnknown      ContentKind = "unknown"
)

// ErrInvalidJSON is returned by DecodeMessages when the payload is not JSON or is not
// shaped like a JSON-RPC envelope or batch.
var ErrInvalidJSON = errors.New("invalid json")

type errorEnvelope struct {
	JSONRPC string       `json:"jsonrpc"`
	Error   JSONRPCError `json:"error"`
	ID      *MustString  `json:"id"`
}

// Kind classifies the message by the fields it carries.
func (m JSONRPCMessage) Kind() MessageKind {
	switch {
	case m.Method != "" && m.ID != "":
		return MessageKindRequest
	case m.Method != "":
		return MessageKindNotification
	case m.ID != "" && (m.Result != nil || m.Error != nil):
		return MessageKindResponse
	default:
		return MessageKindInvalid
	}
}

// NewRequest builds a request envelope. Params are encoded as given, so a number stays a number
// and a string stays a string.
func NewRequest(id MustString, method string, params any) (JSONRPCMessage, error) {
	paramsBs, err := marshalParams(params)
	if err != nil {
		return JSONRPCMessage{}, err
	}
	return JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  paramsBs,
	}, nil
}

// NewNotification builds a notification envelope, which carries no id.
func NewNotification(method string, params any) (JSONRPCMessage, error) {
	paramsBs, err := marshalParams(params)
	if err != nil {
		return JSONRPCMessage{}, err
	}
	return JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  paramsBs,
	}, nil
}

// NewResult builds a successful response for the request with the given id.
// A nil result is encoded as an empty object.
func NewResult(id MustString, result any) (JSONRPCMessage, error) {
	resBs := json.RawMessage("{}")
	if result != nil {
		bs, err := json.Marshal(result)
		if err != nil {
			return JSONRPCMessage{}, fmt.Errorf("failed to marshal result: %w", err)
		}
		resBs = bs
	}
	return JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  resBs,
	}, nil
}

// NewErrorResponse builds an error response for the request with the given id.
func NewErrorResponse(id MustString, code int, message string) JSONRPCMessage {
	return JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
		},
	}
}

// DecodeMessages decodes a POST body holding either a single envelope or a batch. The second
// return value reports whether the body was a batch.
func DecodeMessages(body []byte) ([]JSONRPCMessage, bool, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil, false, ErrInvalidJSON
	}

	if trimmed[0] == '[' {
		var msgs []JSONRPCMessage
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return nil, true, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
		}
		return msgs, true, nil
	}

	var msg JSONRPCMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	return []JSONRPCMessage{msg}, false, nil
}

// IsInitializeRequest reports whether msgs contains an initialize request.
func IsInitializeRequest(msgs []JSONRPCMessage) bool {
	for _, msg := range msgs {
		if msg.Method == MethodInitialize && msg.Kind() == MessageKindRequest {
			return true
		}
	}
	return false
}

// ClassifyContent returns the kind of a tool result item. Kinds outside the protocol's set
// are reported as ContentKindUnknown rather than dropped.
func ClassifyContent(c Content) ContentKind {
	switch c.Type {
	case ContentTypeText:
		return ContentKindText
	case ContentTypeResource:
		return ContentKindResource
	case ContentTypeResourceLink:
		return ContentKindResourceLink
	case ContentTypeImage:
		return ContentKindImage
	case ContentTypeAudio:
		return ContentKindAudio
	default:
		return ContentKindUnknown
	}
}

// ResourceLinks returns the resource_link items of a tool result.
func (r CallToolResult) ResourceLinks() []Content {
	var links []Content
	for _, c := range r.Content {
		if ClassifyContent(c) == ContentKindResourceLink {
			links = append(links, c)
		}
	}
	return links
}

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	bs, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return bs, nil
}

// writeJSONRPCError writes the id-less error envelope used for failures that happen before a
// request can be routed to a session.
func writeJSONRPCError(w http.ResponseWriter, status, code int, message string) {
	bs, _ := json.Marshal(errorEnvelope{
		JSONRPC: JSONRPCVersion,
		Error: JSONRPCError{
			Code:    code,
			Message: message,
		},
	})
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_, _ = w.Write(bs)
}
