package manager_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MegaGrindStone/go-mcp-streamable"
	"github.com/MegaGrindStone/go-mcp-streamable/manager"
)

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

type testServer struct {
	updates chan struct{}
	done    chan struct{}
}

type testEnv struct {
	url     string
	server  *testServer
	manager *manager.Manager
	lines   *lineRecorder
}

func (r *lineRecorder) record(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *lineRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.lines)
}

func (r *lineRecorder) contains(line string) bool {
	return slices.Contains(r.all(), line)
}

func (r *lineRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = nil
}

func (s *testServer) ListTools(context.Context, mcp.ListToolsParams, mcp.Peer) (mcp.ListToolsResult, error) {
	return mcp.ListToolsResult{Tools: []mcp.Tool{
		{Name: "greet", Title: "Greeter", Description: "Says hello"},
		{Name: "mixed", Description: "Returns every content kind"},
	}}, nil
}

func (s *testServer) CallTool(ctx context.Context, params mcp.CallToolParams, peer mcp.Peer) (mcp.CallToolResult, error) {
	var args map[string]any
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return mcp.CallToolResult{}, err
		}
	}

	switch params.Name {
	case "greet":
		return text(fmt.Sprintf("Hello, %v!", args["name"])), nil
	case "mixed":
		var unknown mcp.Content
		if err := json.Unmarshal([]byte(`{"type":"hologram","frames":3}`), &unknown); err != nil {
			return mcp.CallToolResult{}, err
		}
		return mcp.CallToolResult{Content: []mcp.Content{
			{Type: mcp.ContentTypeText, Text: "summary ready"},
			{
				Type:        mcp.ContentTypeResourceLink,
				URI:         "summary://1",
				Name:        "Summary 1",
				MimeType:    "text/plain",
				Description: "First summary",
			},
			{Type: mcp.ContentTypeResource, Resource: &mcp.ResourceContents{URI: "test://embedded", Text: "x"}},
			{Type: mcp.ContentTypeImage, MimeType: "image/png", Data: "aGk="},
			{Type: mcp.ContentTypeAudio, MimeType: "audio/wav", Data: "aGk="},
			unknown,
		}}, nil
	case "start-notification-stream":
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
		return text(fmt.Sprintf("Started sending periodic notifications every %vms", interval)), nil
	case "collect-user-info":
		res, err := peer.Request(ctx, mcp.MethodElicitationCreate, mcp.ElicitParams{Message: "Who are you?"})
		if err != nil {
			return mcp.CallToolResult{}, err
		}
		var result mcp.ElicitResult
		if err := json.Unmarshal(res.Result, &result); err != nil {
			return mcp.CallToolResult{}, err
		}
		return text(string(result.Action)), nil
	}
	return mcp.CallToolResult{}, fmt.Errorf("unknown tool %s", params.Name)
}

func (s *testServer) ListPrompts(context.Context, mcp.ListPromptsParams, mcp.Peer) (mcp.ListPromptResult, error) {
	return mcp.ListPromptResult{Prompts: []mcp.Prompt{
		{Name: "greeting-template", Description: "A simple greeting prompt template"},
	}}, nil
}

func (s *testServer) GetPrompt(_ context.Context, params mcp.GetPromptParams, _ mcp.Peer) (mcp.GetPromptResult, error) {
	if params.Name != "greeting-template" {
		return mcp.GetPromptResult{}, errors.New("unknown prompt")
	}
	return mcp.GetPromptResult{Messages: []mcp.PromptMessage{{
		Role:    mcp.RoleUser,
		Content: mcp.Content{Type: mcp.ContentTypeText, Text: "Please greet " + params.Arguments["name"] + " in a friendly manner."},
	}}}, nil
}

func (s *testServer) ListResources(context.Context, mcp.ListResourcesParams, mcp.Peer) (mcp.ListResourcesResult, error) {
	return mcp.ListResourcesResult{Resources: []mcp.Resource{
		{URI: "https://example.com/greetings/default", Name: "default-greeting", Title: "Default Greeting"},
	}}, nil
}

func (s *testServer) ReadResource(_ context.Context, params mcp.ReadResourceParams, _ mcp.Peer) (mcp.ReadResourceResult, error) {
	switch params.URI {
	case "https://example.com/greetings/default":
		return mcp.ReadResourceResult{Contents: []mcp.ResourceContents{
			{URI: params.URI, MimeType: "text/plain", Text: "Hello,\nworld!"},
		}}, nil
	case "test://blob":
		return mcp.ReadResourceResult{Contents: []mcp.ResourceContents{{URI: params.URI, Blob: "AAECAw=="}}}, nil
	}
	return mcp.ReadResourceResult{}, errors.New("resource not found")
}

func (s *testServer) ResourceListUpdates() iter.Seq[struct{}] {
	return func(yield func(struct{}) bool) {
		for {
			select {
			case <-s.done:
				return
			case <-s.updates:
			}
			if !yield(struct{}{}) {
				return
			}
		}
	}
}

func TestManager_NotConnected(t *testing.T) {
	lines := &lineRecorder{}
	m := manager.New(manager.WithLogSink(lines.record))
	ctx := context.Background()

	assert.Nil(t, m.CallTool(ctx, "greet", nil))
	m.ListTools(ctx)
	m.RunNotificationsToolWithResumability(ctx, 10, 3)
	m.Disconnect(ctx)
	m.TerminateSession(ctx)

	assert.Equal(t, []string{
		"Not connected to server.",
		"Not connected to server.",
		"Not connected to server.",
		"Not connected.",
		"Not connected.",
	}, lines.all())
	assert.False(t, m.IsConnected())
	assert.Empty(t, m.SessionID())
}

func TestManager_GreetThenTerminate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.manager.Connect(ctx, "")
	require.True(t, env.manager.IsConnected())
	id := env.manager.SessionID()
	require.NotEmpty(t, id)
	assert.Equal(t, []string{
		"Connecting to " + env.url + "...",
		"Transport created with session ID: " + id,
		"Connected to MCP server",
	}, env.lines.all())

	env.lines.reset()
	env.manager.CallGreetTool(ctx, "Ada")
	assert.Equal(t, []string{
		`Calling tool 'greet' with args: {"name":"Ada"}`,
		"Tool result:",
		"  Hello, Ada!",
	}, env.lines.all())

	env.lines.reset()
	env.manager.TerminateSession(ctx)
	assert.Equal(t, []string{
		"Terminating session with ID: " + id,
		"Session terminated successfully",
		"Session ID has been cleared",
		"Transport closed after session termination",
	}, env.lines.all())
	assert.False(t, env.manager.IsConnected())
	assert.Empty(t, env.manager.SessionID())
}

func TestManager_ConnectTwice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.manager.Connect(ctx, "")
	env.lines.reset()
	env.manager.Connect(ctx, "")

	assert.Equal(t, []string{"Already connected. Disconnect first."}, env.lines.all())
}

func TestManager_ConnectFailure(t *testing.T) {
	dead := httptest.NewServer(nil)
	url := dead.URL + "/mcp"
	dead.Close()

	lines := &lineRecorder{}
	m := manager.New(manager.WithLogSink(lines.record))
	m.Connect(context.Background(), url)

	got := lines.all()
	require.Len(t, got, 2)
	assert.Equal(t, "Connecting to "+url+"...", got[0])
	assert.True(t, strings.HasPrefix(got[1], "Failed to connect: "), got[1])
	assert.False(t, m.IsConnected())
}

func TestManager_DisconnectKeepsSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.manager.Connect(ctx, "")
	id := env.manager.SessionID()

	env.manager.Disconnect(ctx)
	env.manager.Disconnect(ctx)
	assert.False(t, env.manager.IsConnected())
	assert.Equal(t, id, env.manager.SessionID())
	assert.True(t, env.lines.contains("Disconnected from MCP server"))
	assert.True(t, env.lines.contains("Not connected."))

	env.manager.Connect(ctx, "")
	require.True(t, env.manager.IsConnected())
	assert.Equal(t, id, env.manager.SessionID())

	env.lines.reset()
	env.manager.CallGreetTool(ctx, "again")
	assert.True(t, env.lines.contains("  Hello, again!"))
}

func TestManager_Reconnect(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.manager.Connect(ctx, "")
	first := env.manager.SessionID()

	env.manager.Reconnect(ctx)
	require.True(t, env.manager.IsConnected())
	second := env.manager.SessionID()
	assert.NotEmpty(t, second)
	assert.NotEqual(t, first, second)
}

func TestManager_TerminationUnsupported(t *testing.T) {
	env := newTestEnv(t, mcp.WithStreamableServerTerminationDisabled())
	ctx := context.Background()

	env.manager.Connect(ctx, "")
	id := env.manager.SessionID()
	env.lines.reset()

	env.manager.TerminateSession(ctx)
	assert.Equal(t, []string{
		"Terminating session with ID: " + id,
		"Server responded with 405 Method Not Allowed (session termination not supported)",
		"Session ID is still active: " + id,
	}, env.lines.all())
	assert.True(t, env.manager.IsConnected())
	assert.Equal(t, id, env.manager.SessionID())
}

func TestManager_CallToolClassifiesContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.manager.Connect(ctx, "")
	env.lines.reset()

	links := env.manager.CallTool(ctx, "mixed", nil)
	require.Len(t, links, 1)
	assert.Equal(t, "summary://1", links[0].URI)

	assert.Equal(t, []string{
		"Calling tool 'mixed' with args: {}",
		"Tool result:",
		"  summary ready",
		"  Resource Link: Summary 1",
		"     URI: summary://1",
		"     Type: text/plain",
		"     Description: First summary",
		"  [Embedded Resource: test://embedded]",
		"  [Image: image/png]",
		"  [Audio: audio/wav]",
		`  [Unknown content type]: {"type":"hologram","frames":3}`,
		"Found 1 resource link(s). Use 'read-resource <uri>' to read their content.",
	}, env.lines.all())
}

func TestManager_CallToolError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.manager.Connect(ctx, "")
	env.lines.reset()

	env.manager.CallTool(ctx, "missing", nil)
	got := env.lines.all()
	require.Len(t, got, 2)
	assert.True(t, strings.HasPrefix(got[1], "Error calling tool missing: "), got[1])
}

func TestManager_Notifications(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.manager.Connect(ctx, "")
	env.lines.reset()

	env.manager.StartNotifications(ctx, 10, 3)

	assert.Equal(t, 3, env.manager.NotificationCount())
	assert.Equal(t, []string{
		"Starting notification stream: interval=10ms, count=3",
		`Calling tool 'start-notification-stream' with args: {"count":3,"interval":10}`,
		"Notification #1: info - N1",
		"Notification #2: info - N2",
		"Notification #3: info - N3",
		"Tool result:",
		"  Started sending periodic notifications every 10ms",
	}, env.lines.all())
}

func TestManager_RunNotificationsToolWithResumability(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.manager.Connect(ctx, "")
	env.lines.reset()

	env.manager.RunNotificationsToolWithResumability(ctx, 10, 2)

	got := env.lines.all()
	assert.Equal(t, "Starting notification stream with resumability: interval=10ms, count=2", got[0])
	assert.Equal(t, "Using resumption token: none", got[1])
	assert.Equal(t, "  Started sending periodic notifications every 10ms", got[len(got)-1])

	var updates []string
	for _, line := range got {
		if strings.HasPrefix(line, "Updated resumption token: ") {
			updates = append(updates, line)
		}
	}
	// Two notifications and the response all carry event IDs.
	assert.Len(t, updates, 3)

	// The token is updated before its notification is shown.
	first := slices.Index(got, "Notification #1: info - N1")
	require.NotEqual(t, -1, first)
	assert.True(t, strings.HasPrefix(got[first-1], "Updated resumption token: "), got[first-1])
}

func TestManager_RunNotificationsToolWithResumabilityTwice(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env.manager.Connect(ctx, "")

	for run := range 2 {
		env.lines.reset()
		env.manager.RunNotificationsToolWithResumability(ctx, 10, 1)

		got := env.lines.all()
		require.NotEmpty(t, got, "run %d", run)
		// A finished run leaves nothing to resume, so every run starts a fresh stream.
		assert.Equal(t, "Using resumption token: none", got[1], "run %d", run)
		assert.Equal(t, "  Started sending periodic notifications every 10ms", got[len(got)-1], "run %d", run)
	}
	require.NoError(t, ctx.Err())
}

func TestManager_Elicitation(t *testing.T) {
	t.Run("declined by default", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()

		env.manager.Connect(ctx, "")
		env.manager.CallCollectInfoTool(ctx, "contact")

		assert.True(t, env.lines.contains("Testing elicitation with collect-user-info tool (contact)..."))
		assert.True(t, env.lines.contains("  decline"))
	})

	t.Run("custom handler", func(t *testing.T) {
		handler := mcp.ElicitationHandlerFunc(func(context.Context, mcp.ElicitParams) (mcp.ElicitResult, error) {
			return mcp.ElicitResult{Action: mcp.ElicitActionAccept, Content: map[string]any{"name": "Ada"}}, nil
		})
		env := newTestEnv(t, manager.WithElicitationHandler(handler))
		ctx := context.Background()

		env.manager.Connect(ctx, "")
		env.manager.CallCollectInfoTool(ctx, "contact")

		assert.True(t, env.lines.contains("  accept"))
	})
}

func TestManager_ResourceListChanged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.manager.Connect(ctx, "")
	env.lines.reset()

	// The standalone stream may still be attaching.
	require.Eventually(t, func() bool {
		select {
		case env.server.updates <- struct{}{}:
		default:
		}
		return env.lines.contains("Available resources count: 1")
	}, 3*time.Second, 50*time.Millisecond)
	assert.True(t, env.lines.contains("Resource list changed notification received!"))
}

func TestManager_ListsAndReads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.manager.Connect(ctx, "")

	testCases := []struct {
		name string
		run  func()
		want []string
	}{
		{
			name: "tools",
			run:  func() { env.manager.ListTools(ctx) },
			want: []string{
				"Available tools:",
				"  - id: greet, name: Greeter, description: Says hello",
				"  - id: mixed, name: mixed, description: Returns every content kind",
			},
		},
		{
			name: "prompts",
			run:  func() { env.manager.ListPrompts(ctx) },
			want: []string{
				"Available prompts:",
				"  - id: greeting-template, name: greeting-template, description: A simple greeting prompt template",
			},
		},
		{
			name: "get prompt",
			run:  func() { env.manager.GetPrompt(ctx, "greeting-template", map[string]string{"name": "Ada"}) },
			want: []string{
				"Prompt template:",
				"  [1] user: Please greet Ada in a friendly manner.",
			},
		},
		{
			name: "resources",
			run:  func() { env.manager.ListResources(ctx) },
			want: []string{
				"Available resources:",
				"  - id: default-greeting, name: Default Greeting, description: https://example.com/greetings/default",
			},
		},
		{
			name: "read text resource",
			run:  func() { env.manager.ReadResource(ctx, "https://example.com/greetings/default") },
			want: []string{
				"Reading resource: https://example.com/greetings/default",
				"Resource contents:",
				"  URI: https://example.com/greetings/default",
				"  Type: text/plain",
				"  Content:",
				"  ---",
				"  Hello,",
				"  world!",
				"  ---",
			},
		},
		{
			name: "read blob resource",
			run:  func() { env.manager.ReadResource(ctx, "test://blob") },
			want: []string{
				"Reading resource: test://blob",
				"Resource contents:",
				"  URI: test://blob",
				"  [Binary data: 8 bytes]",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env.lines.reset()
			tc.run()
			assert.Equal(t, tc.want, env.lines.all())
		})
	}
}

func TestManager_Cleanup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.manager.Connect(ctx, "")
	env.lines.reset()

	env.manager.Cleanup(ctx)
	assert.Equal(t, []string{
		"Terminating session before exit...",
		"Session terminated successfully",
	}, env.lines.all())
	assert.False(t, env.manager.IsConnected())
	assert.Empty(t, env.manager.SessionID())
}

// newTestEnv starts a server on httptest and a disconnected manager pointed at it. Options may
// be mcp.StreamableHTTPServerOption or manager.Option values.
func newTestEnv(t *testing.T, options ...any) *testEnv {
	t.Helper()

	var transportOptions []mcp.StreamableHTTPServerOption
	var managerOptions []manager.Option
	for _, opt := range options {
		switch o := opt.(type) {
		case mcp.StreamableHTTPServerOption:
			transportOptions = append(transportOptions, o)
		case manager.Option:
			managerOptions = append(managerOptions, o)
		default:
			t.Fatalf("unexpected option type %T", opt)
		}
	}

	ts := &testServer{updates: make(chan struct{}), done: make(chan struct{})}
	transport := mcp.NewStreamableHTTPServer(transportOptions...)
	httpServer := httptest.NewServer(transport)

	srv := mcp.NewServer(mcp.Info{Name: "test-server", Version: "1.0"}, transport,
		mcp.WithToolServer(ts),
		mcp.WithPromptServer(ts),
		mcp.WithResourceServer(ts),
		mcp.WithResourceListUpdater(ts),
	)
	go srv.Serve()

	lines := &lineRecorder{}
	managerOptions = append([]manager.Option{
		manager.WithServerURL(httpServer.URL),
		manager.WithLogSink(lines.record),
		manager.WithReconnectionOptions(mcp.ReconnectionOptions{
			InitialDelay: 20 * time.Millisecond,
			MaxDelay:     200 * time.Millisecond,
			Multiplier:   1.5,
			MaxRetries:   5,
		}),
	}, managerOptions...)
	m := manager.New(managerOptions...)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		m.Cleanup(ctx)
		close(ts.done)
		_ = srv.Shutdown(ctx)
		httpServer.Close()
	})

	return &testEnv{url: httpServer.URL, server: ts, manager: m, lines: lines}
}

func text(s string) mcp.CallToolResult {
	return mcp.CallToolResult{Content: []mcp.Content{{Type: mcp.ContentTypeText, Text: s}}}
}
