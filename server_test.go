package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"sync"
	"time"

	"github.com/MegaGrindStone/go-mcp-streamable"
)

type mockPromptServer struct {
	lock       sync.Mutex
	listParams mcp.ListPromptsParams
	getParams  mcp.GetPromptParams
}

type mockResourceServer struct {
	lock       sync.Mutex
	failList   bool
	listParams mcp.ListResourcesParams
	readParams mcp.ReadResourceParams
}

type mockResourceListUpdater struct {
	ch   chan struct{}
	done chan struct{}
}

// mockToolServer serves a handful of tools exercising the Peer:
//   - greet answers with a greeting.
//   - notify sends count log notifications interval milliseconds apart, then answers.
//   - progress reports three progress steps.
//   - elicit asks the client for a value.
//   - block waits until its context is cancelled.
//   - fail returns an error.
type mockToolServer struct {
	lock       sync.Mutex
	callParams mcp.CallToolParams
	cancelled  chan struct{}
}

type mockLogHandler struct {
	lock  sync.Mutex
	level mcp.LogLevel

	params chan mcp.LogParams
	done   chan struct{}
}

func (m *mockPromptServer) ListPrompts(
	_ context.Context,
	params mcp.ListPromptsParams,
	peer mcp.Peer,
) (mcp.ListPromptResult, error) {
	m.lock.Lock()
	m.listParams = params
	m.lock.Unlock()

	for i := 0; i < 10; i++ {
		if err := peer.ReportProgress(context.Background(), mcp.ProgressParams{
			Progress: float64(i),
			Total:    10,
		}); err != nil {
			return mcp.ListPromptResult{}, err
		}
	}
	return mcp.ListPromptResult{
		Prompts: []mcp.Prompt{{Name: "test-prompt"}},
	}, nil
}

func (m *mockPromptServer) GetPrompt(
	_ context.Context,
	params mcp.GetPromptParams,
	_ mcp.Peer,
) (mcp.GetPromptResult, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.getParams = params
	return mcp.GetPromptResult{
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.Content{Type: mcp.ContentTypeText, Text: "Please greet " + params.Arguments["name"]},
			},
		},
	}, nil
}

func (m *mockResourceServer) ListResources(
	_ context.Context,
	params mcp.ListResourcesParams,
	_ mcp.Peer,
) (mcp.ListResourcesResult, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.failList {
		return mcp.ListResourcesResult{}, errors.New("database is on fire")
	}
	m.listParams = params
	return mcp.ListResourcesResult{
		Resources: []mcp.Resource{{URI: "test://resource", Name: "resource"}},
	}, nil
}

func (m *mockResourceServer) ReadResource(
	_ context.Context,
	params mcp.ReadResourceParams,
	_ mcp.Peer,
) (mcp.ReadResourceResult, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.readParams = params
	return mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{{URI: params.URI, Text: "content"}},
	}, nil
}

func (m mockResourceListUpdater) ResourceListUpdates() iter.Seq[struct{}] {
	return func(yield func(struct{}) bool) {
		for {
			select {
			case <-m.done:
				return
			case <-m.ch:
			}
			if !yield(struct{}{}) {
				return
			}
		}
	}
}

func (m *mockToolServer) ListTools(
	context.Context,
	mcp.ListToolsParams,
	mcp.Peer,
) (mcp.ListToolsResult, error) {
	return mcp.ListToolsResult{
		Tools: []mcp.Tool{
			{Name: "greet"},
			{Name: "notify"},
			{Name: "progress"},
			{Name: "elicit"},
			{Name: "block"},
			{Name: "fail"},
		},
	}, nil
}

func (m *mockToolServer) CallTool(
	ctx context.Context,
	params mcp.CallToolParams,
	peer mcp.Peer,
) (mcp.CallToolResult, error) {
	m.lock.Lock()
	m.callParams = params
	m.lock.Unlock()

	var args map[string]any
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return mcp.CallToolResult{}, err
		}
	}

	switch params.Name {
	case "greet":
		name, _ := args["name"].(string)
		return textResult(fmt.Sprintf("Hello, %s!", name)), nil
	case "notify":
		interval, _ := args["interval"].(float64)
		count, _ := args["count"].(float64)
		for i := 1; i <= int(count); i++ {
			data, _ := json.Marshal("N" + strconv.Itoa(i))
			if err := peer.Log(ctx, mcp.LogParams{Level: mcp.LogLevelInfo, Data: data}); err != nil {
				return mcp.CallToolResult{}, err
			}
			select {
			case <-ctx.Done():
				return mcp.CallToolResult{}, ctx.Err()
			case <-time.After(time.Duration(interval) * time.Millisecond):
			}
		}
		return textResult("done"), nil
	case "progress":
		for i := 1; i <= 3; i++ {
			if err := peer.ReportProgress(ctx, mcp.ProgressParams{Progress: float64(i), Total: 3}); err != nil {
				return mcp.CallToolResult{}, err
			}
		}
		return textResult("done"), nil
	case "elicit":
		res, err := peer.Request(ctx, mcp.MethodElicitationCreate, mcp.ElicitParams{
			Message: "Who are you?",
		})
		if err != nil {
			return mcp.CallToolResult{}, err
		}
		if res.Error != nil {
			return mcp.CallToolResult{}, res.Error
		}
		var result mcp.ElicitResult
		if err := json.Unmarshal(res.Result, &result); err != nil {
			return mcp.CallToolResult{}, err
		}
		return textResult(fmt.Sprintf("%s %v", result.Action, result.Content["name"])), nil
	case "block":
		<-ctx.Done()
		if m.cancelled != nil {
			close(m.cancelled)
		}
		return mcp.CallToolResult{}, ctx.Err()
	case "fail":
		return mcp.CallToolResult{}, errors.New("tool exploded")
	}
	return mcp.CallToolResult{}, fmt.Errorf("unknown tool %s", params.Name)
}

func (m *mockLogHandler) LogStreams() iter.Seq[mcp.LogParams] {
	return func(yield func(mcp.LogParams) bool) {
		for {
			select {
			case <-m.done:
				return
			case params := <-m.params:
				if !yield(params) {
					return
				}
			}
		}
	}
}

func (m *mockLogHandler) SetLogLevel(level mcp.LogLevel) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.level = level
}

func textResult(text string) mcp.CallToolResult {
	return mcp.CallToolResult{
		Content: []mcp.Content{{Type: mcp.ContentTypeText, Text: text}},
	}
}
