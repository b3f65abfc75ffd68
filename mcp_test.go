package mcp_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MegaGrindStone/go-mcp-streamable"
)

type testSuite struct {
	cfg testSuiteConfig

	serverTransport *mcp.StreamableHTTPServer
	httpServer      *httptest.Server
	server          mcp.Server

	mcpClient        *mcp.Client
	clientConnectErr error
}

type testSuiteConfig struct {
	serverOptions          []mcp.ServerOption
	transportOptions       []mcp.StreamableHTTPServerOption
	clientOptions          []mcp.ClientOption
	clientTransportOptions []mcp.StreamableHTTPClientOption

	// closers run before the server is shut down, to end the iterators of mock updaters.
	closers []func()
}

var fastReconnection = mcp.ReconnectionOptions{
	InitialDelay: 20 * time.Millisecond,
	MaxDelay:     200 * time.Millisecond,
	Multiplier:   1.5,
	MaxRetries:   10,
}

func TestInitialize(t *testing.T) {
	type testCase struct {
		name string
		cfg  testSuiteConfig
		want mcp.ServerCapabilities
	}

	updater := mockResourceListUpdater{done: make(chan struct{})}
	handler := &mockLogHandler{done: make(chan struct{})}

	testCases := []testCase{
		{
			name: "no capabilities",
			want: mcp.ServerCapabilities{},
		},
		{
			name: "full capabilities",
			cfg: testSuiteConfig{
				serverOptions: []mcp.ServerOption{
					mcp.WithPromptServer(&mockPromptServer{}),
					mcp.WithResourceServer(&mockResourceServer{}),
					mcp.WithResourceListUpdater(updater),
					mcp.WithToolServer(&mockToolServer{}),
					mcp.WithLogHandler(handler),
				},
				closers: []func(){
					func() { close(updater.done) },
					func() { close(handler.done) },
				},
			},
			want: mcp.ServerCapabilities{
				Prompts:   &mcp.PromptsCapability{},
				Resources: &mcp.ResourcesCapability{ListChanged: true},
				Tools:     &mcp.ToolsCapability{},
				Logging:   &mcp.LoggingCapability{},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, testSuiteCase(tc.cfg, func(t *testing.T, s *testSuite) {
			if s.clientConnectErr != nil {
				t.Fatalf("unexpected error: %v", s.clientConnectErr)
			}
			if diff := cmp.Diff(tc.want, s.mcpClient.ServerCapabilities()); diff != "" {
				t.Errorf("capabilities mismatch (-want +got):\n%s", diff)
			}
			if got := s.mcpClient.ServerInfo().Name; got != "test-server" {
				t.Errorf("got server name %s, want test-server", got)
			}
			if s.mcpClient.SessionID() == "" {
				t.Errorf("expected a session ID after the handshake")
			}
		}))
	}
}

func TestInitialize_OnClientConnected(t *testing.T) {
	connected := make(chan mcp.Info, 1)
	cfg := testSuiteConfig{
		serverOptions: []mcp.ServerOption{
			mcp.WithServerOnClientConnected(func(_ string, info mcp.Info) {
				connected <- info
			}),
		},
	}

	t.Run("callback", testSuiteCase(cfg, func(t *testing.T, s *testSuite) {
		if s.clientConnectErr != nil {
			t.Fatalf("unexpected error: %v", s.clientConnectErr)
		}
		select {
		case info := <-connected:
			if info.Name != "test-client" {
				t.Errorf("got client name %s, want test-client", info.Name)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("expected the connected callback to run")
		}
	}))
}

func TestSessionIDsAreUnique(t *testing.T) {
	t.Run("two clients", testSuiteCase(testSuiteConfig{}, func(t *testing.T, s *testSuite) {
		other := s.newClient()
		if err := connect(other); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer other.Close()

		if s.mcpClient.SessionID() == other.SessionID() {
			t.Errorf("got the same session ID %s twice", other.SessionID())
		}
		if got := len(s.serverTransport.SessionIDs()); got != 2 {
			t.Errorf("got %d sessions, want 2", got)
		}
	}))
}

func TestPrompt(t *testing.T) {
	promptServer := &mockPromptServer{}
	progressListener := &mockProgressListener{}

	cfg := testSuiteConfig{
		serverOptions: []mcp.ServerOption{mcp.WithPromptServer(promptServer)},
		clientOptions: []mcp.ClientOption{mcp.WithProgressListener(progressListener)},
	}

	t.Run("ListPrompts", testSuiteCase(cfg, func(t *testing.T, s *testSuite) {
		res, err := s.mcpClient.ListPrompts(context.Background(), mcp.ListPromptsParams{
			Cursor: "cursor",
			Meta:   &mcp.ParamsMeta{ProgressToken: "progressToken"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res.Prompts) != 1 {
			t.Errorf("got %d prompts, want 1", len(res.Prompts))
		}

		promptServer.lock.Lock()
		cursor := promptServer.listParams.Cursor
		promptServer.lock.Unlock()
		if cursor != "cursor" {
			t.Errorf("got cursor %s, want cursor", cursor)
		}

		// Progress travels on the request's stream ahead of the response.
		params := progressListener.received()
		if len(params) != 10 {
			t.Fatalf("got %d progress params, want 10", len(params))
		}
		for _, p := range params {
			if p.ProgressToken != "progressToken" {
				t.Errorf("got progress token %s, want progressToken", p.ProgressToken)
			}
		}
	}))

	t.Run("GetPrompt", testSuiteCase(cfg, func(t *testing.T, s *testSuite) {
		res, err := s.mcpClient.GetPrompt(context.Background(), mcp.GetPromptParams{
			Name:      "test-prompt",
			Arguments: map[string]string{"name": "Ada"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res.Messages) != 1 || res.Messages[0].Content.Text != "Please greet Ada" {
			t.Errorf("got messages %+v, want one greeting", res.Messages)
		}
	}))
}

func TestResource(t *testing.T) {
	resourceServer := &mockResourceServer{}
	watcher := &mockResourceListWatcher{}
	updater := mockResourceListUpdater{ch: make(chan struct{}), done: make(chan struct{})}

	cfg := testSuiteConfig{
		serverOptions: []mcp.ServerOption{
			mcp.WithResourceServer(resourceServer),
			mcp.WithResourceListUpdater(updater),
		},
		clientOptions: []mcp.ClientOption{mcp.WithResourceListWatcher(watcher)},
		closers:       []func(){func() { close(updater.done) }},
	}

	t.Run("ListAndRead", testSuiteCase(cfg, func(t *testing.T, s *testSuite) {
		list, err := s.mcpClient.ListResources(context.Background(), mcp.ListResourcesParams{Cursor: "c"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(list.Resources) != 1 {
			t.Errorf("got %d resources, want 1", len(list.Resources))
		}

		read, err := s.mcpClient.ReadResource(context.Background(), mcp.ReadResourceParams{URI: "test://resource"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(read.Contents) != 1 || read.Contents[0].URI != "test://resource" {
			t.Errorf("got contents %+v, want test://resource", read.Contents)
		}

		// Let the standalone stream attach before broadcasting.
		time.Sleep(200 * time.Millisecond)
		for i := 0; i < 3; i++ {
			updater.ch <- struct{}{}
		}
		waitFor(t, func() bool { return watcher.count() == 3 }, "3 resource list updates")
	}))
}

func TestHandlerErrorIsHidden(t *testing.T) {
	resourceServer := &mockResourceServer{failList: true}
	cfg := testSuiteConfig{
		serverOptions: []mcp.ServerOption{mcp.WithResourceServer(resourceServer)},
	}

	t.Run("ListResources", testSuiteCase(cfg, func(t *testing.T, s *testSuite) {
		_, err := s.mcpClient.ListResources(context.Background(), mcp.ListResourcesParams{})
		var rpcErr mcp.JSONRPCError
		if !errors.As(err, &rpcErr) {
			t.Fatalf("got err %v, want a JSONRPCError", err)
		}
		if rpcErr.Code != -32603 || rpcErr.Message != "Internal server error" {
			t.Errorf("got error %d %q, want -32603 Internal server error", rpcErr.Code, rpcErr.Message)
		}
	}))
}

func TestTool(t *testing.T) {
	type testCase struct {
		name        string
		elicitation *mockElicitationHandler
		params      mcp.CallToolParams
		want        mcp.CallToolResult
	}

	testCases := []testCase{
		{
			name:   "greet",
			params: mcp.CallToolParams{Name: "greet", Arguments: []byte(`{"name":"Ada"}`)},
			want:   textResult("Hello, Ada!"),
		},
		{
			name:   "failing tool",
			params: mcp.CallToolParams{Name: "fail"},
			want: mcp.CallToolResult{
				Content: []mcp.Content{{Type: mcp.ContentTypeText, Text: "tool exploded"}},
				IsError: true,
			},
		},
		{
			name: "elicitation accepted",
			elicitation: &mockElicitationHandler{
				result: mcp.ElicitResult{Action: mcp.ElicitActionAccept, Content: map[string]any{"name": "Ada"}},
			},
			params: mcp.CallToolParams{Name: "elicit"},
			want:   textResult("accept Ada"),
		},
		{
			name:   "elicitation declined by default",
			params: mcp.CallToolParams{Name: "elicit"},
			want:   textResult("decline <nil>"),
		},
	}

	for _, tc := range testCases {
		cfg := testSuiteConfig{
			serverOptions: []mcp.ServerOption{mcp.WithToolServer(&mockToolServer{})},
		}
		if tc.elicitation != nil {
			cfg.clientOptions = append(cfg.clientOptions, mcp.WithElicitationHandler(tc.elicitation))
		}

		t.Run(tc.name, testSuiteCase(cfg, func(t *testing.T, s *testSuite) {
			got, err := s.mcpClient.CallTool(context.Background(), tc.params)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("result mismatch (-want +got):\n%s", diff)
			}
			if tc.elicitation != nil {
				tc.elicitation.lock.Lock()
				msg := tc.elicitation.params.Message
				tc.elicitation.lock.Unlock()
				if msg != "Who are you?" {
					t.Errorf("got elicitation message %q, want %q", msg, "Who are you?")
				}
			}
		}))
	}
}

func TestToolNotificationsInOrder(t *testing.T) {
	receiver := &mockLogReceiver{}
	progress := &mockProgressListener{}
	cfg := testSuiteConfig{
		serverOptions: []mcp.ServerOption{mcp.WithToolServer(&mockToolServer{})},
		clientOptions: []mcp.ClientOption{mcp.WithLogReceiver(receiver), mcp.WithProgressListener(progress)},
	}

	t.Run("logs", testSuiteCase(cfg, func(t *testing.T, s *testSuite) {
		res, err := s.mcpClient.CallTool(context.Background(), mcp.CallToolParams{
			Name:      "notify",
			Arguments: []byte(`{"interval":10,"count":3}`),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.IsError {
			t.Fatalf("unexpected tool error: %+v", res.Content)
		}
		if diff := cmp.Diff([]string{"N1", "N2", "N3"}, receiver.texts()); diff != "" {
			t.Errorf("notifications mismatch (-want +got):\n%s", diff)
		}
	}))

	t.Run("progress without token is not sent", testSuiteCase(cfg, func(t *testing.T, s *testSuite) {
		if _, err := s.mcpClient.CallTool(context.Background(), mcp.CallToolParams{Name: "progress"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := len(progress.received()); got != 0 {
			t.Errorf("got %d progress notifications, want 0", got)
		}
	}))
}

func TestUnknownMethod(t *testing.T) {
	t.Run("request", testSuiteCase(testSuiteConfig{}, func(t *testing.T, s *testSuite) {
		res, err := s.mcpClient.Request(context.Background(), "completion/complete", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Error == nil || res.Error.Code != -32601 {
			t.Errorf("got error %+v, want code -32601", res.Error)
		}
	}))
}

func TestCancelCall(t *testing.T) {
	tools := &mockToolServer{cancelled: make(chan struct{})}
	cfg := testSuiteConfig{
		serverOptions: []mcp.ServerOption{mcp.WithToolServer(tools)},
	}

	t.Run("context deadline", testSuiteCase(cfg, func(t *testing.T, s *testSuite) {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		_, err := s.mcpClient.CallTool(ctx, mcp.CallToolParams{Name: "block"})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("got err %v, want %v", err, context.DeadlineExceeded)
		}

		select {
		case <-tools.cancelled:
		case <-time.After(2 * time.Second):
			t.Errorf("expected the server handler to be cancelled")
		}

		// The session is still usable.
		if err := s.mcpClient.Ping(context.Background()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}))
}

func TestCloseAbandonsPendingCalls(t *testing.T) {
	cfg := testSuiteConfig{
		serverOptions: []mcp.ServerOption{mcp.WithToolServer(&mockToolServer{})},
	}

	t.Run("close", testSuiteCase(cfg, func(t *testing.T, s *testSuite) {
		errs := make(chan error, 1)
		go func() {
			_, err := s.mcpClient.CallTool(context.Background(), mcp.CallToolParams{Name: "block"})
			errs <- err
		}()

		time.Sleep(100 * time.Millisecond)
		s.mcpClient.Close()
		s.mcpClient.Close()

		select {
		case err := <-errs:
			if !errors.Is(err, mcp.ErrSessionClosed) {
				t.Errorf("got err %v, want %v", err, mcp.ErrSessionClosed)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("expected the pending call to be abandoned")
		}

		if _, err := s.mcpClient.CallTool(context.Background(), mcp.CallToolParams{Name: "greet"}); err == nil {
			t.Errorf("expected error calling a closed client, got nil")
		}
	}))
}

func TestLog(t *testing.T) {
	logConfig := func(handler *mockLogHandler, receiver *mockLogReceiver) testSuiteConfig {
		return testSuiteConfig{
			serverOptions: []mcp.ServerOption{
				mcp.WithLogHandler(handler),
				mcp.WithToolServer(&mockToolServer{}),
			},
			clientOptions: []mcp.ClientOption{mcp.WithLogReceiver(receiver)},
			closers:       []func(){func() { close(handler.done) }},
		}
	}

	handler := &mockLogHandler{params: make(chan mcp.LogParams), done: make(chan struct{})}
	receiver := &mockLogReceiver{}

	t.Run("LogStream", testSuiteCase(logConfig(handler, receiver), func(t *testing.T, _ *testSuite) {
		time.Sleep(200 * time.Millisecond)
		for i := 0; i < 10; i++ {
			handler.params <- mcp.LogParams{Level: mcp.LogLevelInfo, Data: []byte(`"broadcast"`)}
		}
		waitFor(t, func() bool { return len(receiver.texts()) == 10 }, "10 log notifications")
	}))

	levelHandler := &mockLogHandler{params: make(chan mcp.LogParams), done: make(chan struct{})}
	levelReceiver := &mockLogReceiver{}

	t.Run("SetLogLevel", testSuiteCase(logConfig(levelHandler, levelReceiver), func(t *testing.T, s *testSuite) {
		if err := s.mcpClient.SetLogLevel(context.Background(), mcp.LogLevelError); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		levelHandler.lock.Lock()
		level := levelHandler.level
		levelHandler.lock.Unlock()
		if level != mcp.LogLevelError {
			t.Errorf("got log level %s, want %s", level, mcp.LogLevelError)
		}

		if _, err := s.mcpClient.CallTool(context.Background(), mcp.CallToolParams{
			Name:      "notify",
			Arguments: []byte(`{"interval":1,"count":2}`),
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := len(levelReceiver.texts()); got != 0 {
			t.Errorf("got %d info notifications after raising the level, want 0", got)
		}
	}))
}

func TestTerminateSession(t *testing.T) {
	cfg := testSuiteConfig{
		serverOptions: []mcp.ServerOption{mcp.WithToolServer(&mockToolServer{})},
	}

	t.Run("greet then terminate", testSuiteCase(cfg, func(t *testing.T, s *testSuite) {
		res, err := s.mcpClient.CallTool(context.Background(), mcp.CallToolParams{
			Name:      "greet",
			Arguments: []byte(`{"name":"Ada"}`),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Content[0].Text != "Hello, Ada!" {
			t.Errorf("got %q, want %q", res.Content[0].Text, "Hello, Ada!")
		}

		sessionID := s.mcpClient.SessionID()
		if err := s.mcpClient.TerminateSession(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.mcpClient.SessionID() != "" {
			t.Errorf("expected the session ID to be cleared")
		}

		req, _ := http.NewRequest(http.MethodGet, s.httpServer.URL, nil)
		req.Header.Set("Mcp-Session-Id", sessionID)
		resp, err := s.httpServer.Client().Do(req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("got status %d, want %d", resp.StatusCode, http.StatusBadRequest)
		}
	}))

	disabled := cfg
	disabled.transportOptions = []mcp.StreamableHTTPServerOption{mcp.WithStreamableServerTerminationDisabled()}

	t.Run("termination disabled", testSuiteCase(disabled, func(t *testing.T, s *testSuite) {
		sessionID := s.mcpClient.SessionID()
		err := s.mcpClient.TerminateSession(context.Background())
		if !errors.Is(err, mcp.ErrSessionTerminationUnsupported) {
			t.Fatalf("got err %v, want %v", err, mcp.ErrSessionTerminationUnsupported)
		}
		if s.mcpClient.SessionID() != sessionID {
			t.Errorf("expected the session ID to be kept")
		}
		if err := s.mcpClient.Ping(context.Background()); err != nil {
			t.Errorf("expected the session to stay usable, got %v", err)
		}
	}))
}

func TestTerminateSessionDuringBroadcast(t *testing.T) {
	watcher := &mockResourceListWatcher{}
	updater := mockResourceListUpdater{ch: make(chan struct{}), done: make(chan struct{})}

	cfg := testSuiteConfig{
		serverOptions: []mcp.ServerOption{
			mcp.WithResourceServer(&mockResourceServer{}),
			mcp.WithResourceListUpdater(updater),
		},
		clientOptions: []mcp.ClientOption{mcp.WithResourceListWatcher(watcher)},
		closers:       []func(){func() { close(updater.done) }},
	}

	t.Run("broadcast", testSuiteCase(cfg, func(t *testing.T, s *testSuite) {
		// Let the standalone stream attach before broadcasting.
		time.Sleep(200 * time.Millisecond)
		updater.ch <- struct{}{}
		waitFor(t, func() bool { return watcher.count() > 0 }, "a resource list update")

		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case updater.ch <- struct{}{}:
				case <-stop:
					return
				}
			}
		}()

		if err := s.mcpClient.TerminateSession(context.Background()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		// Broadcasts keep going after the standalone stream's handler has returned.
		time.Sleep(50 * time.Millisecond)
		close(stop)
		wg.Wait()

		if got := len(s.serverTransport.SessionIDs()); got != 0 {
			t.Errorf("got %d sessions, want 0", got)
		}
	}))
}

func TestResumableStream(t *testing.T) {
	cfg := testSuiteConfig{
		serverOptions: []mcp.ServerOption{mcp.WithToolServer(&mockToolServer{})},
	}

	t.Run("resume after disconnect", testSuiteCase(cfg, func(t *testing.T, s *testSuite) {
		var (
			lock       sync.Mutex
			firstToken string
		)
		gotFirst := make(chan struct{})
		onToken := func(token string) {
			lock.Lock()
			defer lock.Unlock()
			if firstToken == "" {
				firstToken = token
				close(gotFirst)
			}
		}

		params := mcp.CallToolParams{
			Name:      "notify",
			Arguments: []byte(`{"interval":150,"count":3}`),
		}

		callErr := make(chan error, 1)
		go func() {
			_, err := s.mcpClient.CallTool(context.Background(), params, mcp.WithResumptionTokenHandler(onToken))
			callErr <- err
		}()

		select {
		case <-gotFirst:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected a first event on the stream")
		}

		sessionID := s.mcpClient.SessionID()
		s.mcpClient.Close()
		if err := <-callErr; !errors.Is(err, mcp.ErrSessionClosed) {
			t.Errorf("got err %v, want %v", err, mcp.ErrSessionClosed)
		}

		receiver := &mockLogReceiver{}
		resumed := mcp.NewClient(
			mcp.Info{Name: "test-client", Version: "1.0"},
			mcp.NewStreamableHTTPClient(s.httpServer.URL, s.httpServer.Client(),
				mcp.WithStreamableClientSessionID(sessionID),
				mcp.WithStreamableClientReconnection(fastReconnection)),
			mcp.WithLogReceiver(receiver),
		)
		if err := connect(resumed); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer resumed.Close()

		if resumed.SessionID() != sessionID {
			t.Errorf("got session %s, want %s", resumed.SessionID(), sessionID)
		}

		lock.Lock()
		token := firstToken
		lock.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		res, err := resumed.CallTool(ctx, params, mcp.WithResumptionToken(token))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := cmp.Diff(textResult("done"), res); diff != "" {
			t.Errorf("result mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"N2", "N3"}, receiver.texts()); diff != "" {
			t.Errorf("notifications mismatch (-want +got):\n%s", diff)
		}
	}))

	t.Run("resume finished stream", testSuiteCase(cfg, func(t *testing.T, s *testSuite) {
		var (
			lock      sync.Mutex
			lastToken string
		)
		onToken := func(token string) {
			lock.Lock()
			defer lock.Unlock()
			lastToken = token
		}

		params := mcp.CallToolParams{
			Name:      "notify",
			Arguments: []byte(`{"interval":1,"count":1}`),
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := s.mcpClient.CallTool(ctx, params, mcp.WithResumptionTokenHandler(onToken)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		lock.Lock()
		token := lastToken
		lock.Unlock()

		// The token marks the response, so nothing is left to replay.
		_, err := s.mcpClient.CallTool(ctx, params, mcp.WithResumptionToken(token))
		var rpcErr mcp.JSONRPCError
		if !errors.As(err, &rpcErr) {
			t.Fatalf("got err %v, want a JSON-RPC error", err)
		}
		if ctx.Err() != nil {
			t.Errorf("resuming a finished stream took until the deadline")
		}

		// The session stays usable.
		if _, err := s.mcpClient.CallTool(ctx, params); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}))
}

func TestJSONResponseMode(t *testing.T) {
	receiver := &mockLogReceiver{}
	cfg := testSuiteConfig{
		serverOptions:    []mcp.ServerOption{mcp.WithToolServer(&mockToolServer{})},
		transportOptions: []mcp.StreamableHTTPServerOption{mcp.WithStreamableServerJSONResponse()},
		clientOptions:    []mcp.ClientOption{mcp.WithLogReceiver(receiver)},
	}

	t.Run("call", testSuiteCase(cfg, func(t *testing.T, s *testSuite) {
		res, err := s.mcpClient.CallTool(context.Background(), mcp.CallToolParams{
			Name:      "notify",
			Arguments: []byte(`{"interval":1,"count":2}`),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := cmp.Diff(textResult("done"), res); diff != "" {
			t.Errorf("result mismatch (-want +got):\n%s", diff)
		}
		if got := len(receiver.texts()); got != 0 {
			t.Errorf("got %d notifications in JSON mode, want 0", got)
		}
	}))
}

func testSuiteCase(cfg testSuiteConfig, test func(*testing.T, *testSuite)) func(*testing.T) {
	return func(t *testing.T) {
		s := &testSuite{
			cfg: cfg,
		}
		s.setup()
		defer s.teardown()

		test(t, s)
	}
}

func (s *testSuite) setup() {
	s.serverTransport = mcp.NewStreamableHTTPServer(s.cfg.transportOptions...)
	s.httpServer = httptest.NewServer(s.serverTransport)

	s.server = mcp.NewServer(mcp.Info{
		Name:    "test-server",
		Version: "1.0",
	}, s.serverTransport, s.cfg.serverOptions...)
	go s.server.Serve()

	s.mcpClient = s.newClient()
	s.clientConnectErr = connect(s.mcpClient)
}

func (s *testSuite) newClient() *mcp.Client {
	transportOptions := append([]mcp.StreamableHTTPClientOption{
		mcp.WithStreamableClientReconnection(fastReconnection),
	}, s.cfg.clientTransportOptions...)

	return mcp.NewClient(mcp.Info{
		Name:    "test-client",
		Version: "1.0",
	}, mcp.NewStreamableHTTPClient(s.httpServer.URL, s.httpServer.Client(), transportOptions...),
		s.cfg.clientOptions...)
}

func (s *testSuite) teardown() {
	s.mcpClient.Close()

	for _, closer := range s.cfg.closers {
		closer()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		fmt.Printf("server forced to shutdown: %v\n", err)
	}
	s.httpServer.Close()
}

func connect(cli *mcp.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return cli.Connect(ctx)
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("timed out waiting for %s", what)
}
