package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tmaxmax/go-sse"
)

// StreamableHTTPClient implements the client side of the streamable HTTP transport. Every
// message is POSTed to a single endpoint; responses come back as a JSON body or an SSE stream.
// After the handshake the client also listens on the session's standalone GET stream for
// server-initiated notifications and requests.
//
// A stream that breaks before its response arrived is picked up again with a GET carrying
// Last-Event-ID, retried with exponential backoff.
//
// Instances should be created using NewStreamableHTTPClient.
type StreamableHTTPClient struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger

	sessionID        string
	maxPayloadSize   int
	reconnection     ReconnectionOptions
	standaloneStream bool
}

// StreamableHTTPClientOption represents the options for the StreamableHTTPClient.
type StreamableHTTPClientOption func(*StreamableHTTPClient)

// ReconnectionOptions controls how a broken SSE stream is re-attached.
type ReconnectionOptions struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// MaxRetries is the number of attempts made before the stream is given up.
	MaxRetries uint
}

type streamableClientSession struct {
	client *StreamableHTTPClient
	logger *slog.Logger

	mu        sync.RWMutex
	sessionID string

	messages chan JSONRPCMessage

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	standaloneOnce sync.Once
	stopOnce       sync.Once
}

// streamResult is what a single read of an SSE stream ended with.
type streamResult struct {
	lastEventID string
	answered    bool
}

var (
	// ErrSessionTerminationUnsupported is returned by Terminate when the server answers the
	// DELETE with 405. The session is still alive on the server.
	ErrSessionTerminationUnsupported = errors.New("session termination not supported by server")

	errStreamUnsupported = errors.New("server does not offer a standalone stream")
)

const errMsgResumedStreamEnded = "resumed stream ended without a response"

var defaultReconnectionOptions = ReconnectionOptions{
	InitialDelay: time.Second,
	MaxDelay:     30 * time.Second,
	Multiplier:   1.5,
	MaxRetries:   2,
}

const acceptBoth = contentTypeJSON + ", " + contentTypeSSE

// NewStreamableHTTPClient creates a client transport for the endpoint at url. The optional
// httpClient parameter allows custom HTTP client configuration; if nil, the default HTTP
// client is used.
func NewStreamableHTTPClient(
	url string,
	httpClient *http.Client,
	options ...StreamableHTTPClientOption,
) *StreamableHTTPClient {
	cli := httpClient
	if cli == nil {
		cli = http.DefaultClient
	}
	c := &StreamableHTTPClient{
		url:              url,
		httpClient:       cli,
		logger:           slog.Default(),
		reconnection:     defaultReconnectionOptions,
		standaloneStream: true,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// WithStreamableClientLogger sets the logger for the client transport.
func WithStreamableClientLogger(logger *slog.Logger) StreamableHTTPClientOption {
	return func(c *StreamableHTTPClient) {
		c.logger = logger.With(
			slog.String("package", "go-mcp-streamable"),
			slog.String("component", "streamable-client"),
		)
	}
}

// WithStreamableClientSessionID binds new sessions to an ID issued earlier by the server, so a
// client that disconnected without terminating can carry on with the same session.
func WithStreamableClientSessionID(id string) StreamableHTTPClientOption {
	return func(c *StreamableHTTPClient) {
		c.sessionID = id
	}
}

// WithStreamableClientMaxPayloadSize sets the maximum size of a single SSE event. If an event
// exceeds it the stream is dropped.
func WithStreamableClientMaxPayloadSize(size int) StreamableHTTPClientOption {
	return func(c *StreamableHTTPClient) {
		c.maxPayloadSize = size
	}
}

// WithStreamableClientReconnection sets how broken streams are re-attached.
func WithStreamableClientReconnection(opts ReconnectionOptions) StreamableHTTPClientOption {
	return func(c *StreamableHTTPClient) {
		c.reconnection = opts
	}
}

// WithStreamableClientNoStandaloneStream stops the client from opening the standalone GET
// stream after the handshake.
func WithStreamableClientNoStandaloneStream() StreamableHTTPClientOption {
	return func(c *StreamableHTTPClient) {
		c.standaloneStream = false
	}
}

// StartSession implements ClientTransport.
func (c *StreamableHTTPClient) StartSession(_ context.Context) (Session, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &streamableClientSession{
		client:    c,
		logger:    c.logger,
		sessionID: c.sessionID,
		messages:  make(chan JSONRPCMessage, 10),
		ctx:       ctx,
		cancel:    cancel,
	}
	return s, nil
}

func (s *streamableClientSession) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sessionID
}

func (s *streamableClientSession) setID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionID = id
}

// Send POSTs msg to the server. When the call options in ctx carry a resumption token and msg
// is a request, nothing is POSTed: the stream that ended at the token is resumed instead and
// its response answers msg.
func (s *streamableClientSession) Send(ctx context.Context, msg JSONRPCMessage) error {
	if err := s.ctx.Err(); err != nil {
		return ErrSessionClosed
	}

	opts := callOptionsFrom(ctx)
	if msg.Kind() == MessageKindRequest && opts.resumptionToken != "" {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.resumeStream(ctx, opts.resumptionToken, msg.ID, true, opts)
		}()
		return nil
	}

	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	reqCtx, reqCancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(ctx, reqCancel)
	release := func() {
		stop()
		reqCancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.client.url, bytes.NewReader(msgBs))
	if err != nil {
		release()
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", acceptBoth)
	if id := s.ID(); id != "" {
		req.Header.Set(headerSessionID, id)
	}

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		release()
		return fmt.Errorf("failed to send message: %w", err)
	}

	if id := resp.Header.Get(headerSessionID); id != "" {
		s.setID(id)
	}

	if resp.StatusCode == http.StatusAccepted {
		resp.Body.Close()
		release()
		if msg.Method == methodNotificationsInitialized {
			s.startStandaloneStream()
		}
		return nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer release()
		defer resp.Body.Close()
		return s.statusError(resp)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case contentTypeSSE:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer release()
			s.consumeRequestStream(ctx, resp.Body, msg, opts)
		}()
	case contentTypeJSON:
		defer release()
		defer resp.Body.Close()
		msgs, err := s.decodeJSONBody(resp.Body)
		if err != nil {
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for _, m := range msgs {
				s.deliver(m)
			}
		}()
	default:
		release()
		resp.Body.Close()
		if msg.Kind() == MessageKindRequest {
			return fmt.Errorf("unexpected content type %q", mediaType)
		}
	}

	return nil
}

func (s *streamableClientSession) Messages() iter.Seq[JSONRPCMessage] {
	return func(yield func(JSONRPCMessage) bool) {
		for {
			select {
			case msg := <-s.messages:
				if !yield(msg) {
					return
				}
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// Stop closes every open stream without telling the server. The session ID is kept, so a new
// transport created with WithStreamableClientSessionID can carry on with the session.
func (s *streamableClientSession) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
}

// Terminate asks the server to end the session with DELETE. On success the session ID is
// cleared. A 405 answer means the server keeps sessions until they expire; the ID stays and
// ErrSessionTerminationUnsupported is returned.
func (s *streamableClientSession) Terminate(ctx context.Context) error {
	id := s.ID()
	if id == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.client.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(headerSessionID, id)

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to terminate session: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusMethodNotAllowed:
		return ErrSessionTerminationUnsupported
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("failed to terminate session: unexpected status code: %d", resp.StatusCode)
	}

	s.setID("")
	return nil
}

func (s *streamableClientSession) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Code != 0 {
		if s.ID() != "" && (resp.StatusCode == http.StatusNotFound ||
			(resp.StatusCode == http.StatusBadRequest && env.Error.Code == JSONRPCBadRequestCode)) {
			return fmt.Errorf("failed to send message: %w: %w", ErrSessionNotFound, env.Error)
		}
		return fmt.Errorf("failed to send message: status %d: %w", resp.StatusCode, env.Error)
	}

	if resp.StatusCode == http.StatusNotFound && s.ID() != "" {
		return fmt.Errorf("failed to send message: %w", ErrSessionNotFound)
	}
	return fmt.Errorf("failed to send message: unexpected status code: %d: %s",
		resp.StatusCode, bytes.TrimSpace(body))
}

func (s *streamableClientSession) decodeJSONBody(body io.Reader) ([]JSONRPCMessage, error) {
	bs, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	msgs, _, err := DecodeMessages(bs)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return msgs, nil
}

// consumeRequestStream reads the SSE stream a POST answered with. If it ends before the
// response to msg arrived, it is resumed from the last event seen.
func (s *streamableClientSession) consumeRequestStream(
	ctx context.Context,
	body io.ReadCloser,
	msg JSONRPCMessage,
	opts callOptions,
) {
	res, err := s.readStream(body, "", opts)
	body.Close()
	if res.answered || s.ctx.Err() != nil || ctx.Err() != nil {
		return
	}
	if err != nil {
		s.logger.Warn("request stream broken", slog.String("err", err.Error()))
	}
	if msg.Kind() != MessageKindRequest {
		return
	}
	if res.lastEventID == "" {
		s.abandon(msg.ID, "stream closed before response")
		return
	}
	s.resumeStream(ctx, res.lastEventID, msg.ID, false, opts)
}

// resumeStream re-attaches to the stream that ended at lastEventID and reads it until the
// response to requestID arrives. With rewrite set, the response replayed from the stream gets
// requestID as its ID, so a call made with a resumption token is answered by the response to
// the call that opened the stream. A resumed stream that ends cleanly without a new event has
// nothing left to give and fails the call; broken ones are retried with backoff up to
// MaxRetries times.
func (s *streamableClientSession) resumeStream(
	ctx context.Context,
	lastEventID string,
	requestID MustString,
	rewrite bool,
	opts callOptions,
) {
	var replayID MustString
	if rewrite {
		replayID = requestID
	}

	b := s.client.newBackOff()
	var failures uint
	for {
		body, err := s.reattach(ctx, lastEventID)
		if err != nil {
			if s.ctx.Err() == nil && ctx.Err() == nil {
				s.logger.Error("failed to resume stream",
					slog.String("lastEventID", lastEventID),
					slog.String("err", err.Error()))
				s.abandon(requestID, err.Error())
			}
			return
		}

		res, err := s.readStream(body, replayID, opts)
		body.Close()
		if res.answered || s.ctx.Err() != nil || ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warn("resumed stream broken", slog.String("err", err.Error()))
		}

		if res.lastEventID != "" {
			// The stream moved on, so the next attempt starts a fresh retry budget.
			lastEventID = res.lastEventID
			failures = 0
			b.Reset()
			continue
		}

		// Nothing after lastEventID: a stream that ends cleanly has already finished.
		if err == nil {
			s.logger.Warn("resumed stream ended without a response",
				slog.String("lastEventID", lastEventID))
			s.abandon(requestID, errMsgResumedStreamEnded)
			return
		}
		failures++
		if failures > s.client.reconnection.MaxRetries {
			s.abandon(requestID, err.Error())
			return
		}

		select {
		case <-time.After(b.NextBackOff()):
		case <-s.ctx.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

// reattach opens a GET with Last-Event-ID (or a plain GET when lastEventID is empty), retried
// with exponential backoff. Client errors other than timeouts and conflicts are not retried.
// Closing the returned body releases the request.
func (s *streamableClientSession) reattach(ctx context.Context, lastEventID string) (io.ReadCloser, error) {
	b := s.client.newBackOff()

	reqCtx, reqCancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(ctx, reqCancel)
	release := func() {
		stop()
		reqCancel()
	}

	op := func() (io.ReadCloser, error) {
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, s.client.url, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", contentTypeSSE)
		if id := s.ID(); id != "" {
			req.Header.Set(headerSessionID, id)
		}
		if lastEventID != "" {
			req.Header.Set(headerLastEventID, lastEventID)
		}

		resp, err := s.client.httpClient.Do(req)
		if err != nil {
			if reqCtx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, fmt.Errorf("failed to open stream: %w", err)
		}
		if resp.StatusCode == http.StatusOK {
			return resp.Body, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		statusErr := fmt.Errorf("failed to open stream: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
		switch resp.StatusCode {
		case http.StatusMethodNotAllowed:
			return nil, backoff.Permanent(errStreamUnsupported)
		case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
			// A conflict clears once the server notices the previous listener is gone.
			return nil, statusErr
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, backoff.Permanent(statusErr)
		}
		return nil, statusErr
	}

	body, err := backoff.Retry(reqCtx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.client.reconnection.MaxRetries+1),
		backoff.WithNotify(func(err error, d time.Duration) {
			s.logger.Warn("failed to open stream, retrying",
				slog.Duration("after", d),
				slog.String("err", err.Error()))
		}),
	)
	if err != nil {
		release()
		return nil, err
	}
	return streamBody{ReadCloser: body, release: release}, nil
}

func (c *StreamableHTTPClient) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.reconnection.InitialDelay
	b.MaxInterval = c.reconnection.MaxDelay
	if c.reconnection.Multiplier > 0 {
		b.Multiplier = c.reconnection.Multiplier
	}
	return b
}

type streamBody struct {
	io.ReadCloser
	release func()
}

func (b streamBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}

// readStream parses events until the stream ends, handing every message on in order. The
// resumption handler sees each event ID before the message carrying it is delivered.
func (s *streamableClientSession) readStream(
	body io.Reader,
	replayID MustString,
	opts callOptions,
) (streamResult, error) {
	var cfg *sse.ReadConfig
	if s.client.maxPayloadSize > 0 {
		cfg = &sse.ReadConfig{
			MaxEventSize: s.client.maxPayloadSize,
		}
	}

	var res streamResult
	for ev, err := range sse.Read(body, cfg) {
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return res, nil
			}
			return res, fmt.Errorf("failed to read SSE message: %w", err)
		}

		if ev.LastEventID != "" && ev.LastEventID != res.lastEventID {
			res.lastEventID = ev.LastEventID
			if opts.onResumptionToken != nil {
				opts.onResumptionToken(ev.LastEventID)
			}
		}

		if ev.Type != "" && ev.Type != sseEventTypeMessage {
			s.logger.Debug("ignoring event", slog.String("type", ev.Type))
			continue
		}
		if ev.Data == "" {
			continue
		}

		var msg JSONRPCMessage
		if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
			s.logger.Error("failed to unmarshal message", slog.String("err", err.Error()))
			continue
		}

		if msg.Kind() == MessageKindResponse {
			res.answered = true
			if replayID != "" {
				msg.ID = replayID
			}
		}
		s.deliver(msg)
	}
	return res, nil
}

// startStandaloneStream opens the GET stream for server-initiated messages, once per session.
// A server that answers 405 doesn't offer one, which is not an error.
func (s *streamableClientSession) startStandaloneStream() {
	if !s.client.standaloneStream {
		return
	}
	s.standaloneOnce.Do(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.listenStandalone()
		}()
	})
}

func (s *streamableClientSession) listenStandalone() {
	var lastEventID string
	for {
		body, err := s.reattach(s.ctx, lastEventID)
		if err != nil {
			if s.ctx.Err() == nil && !errors.Is(err, errStreamUnsupported) {
				s.logger.Warn("failed to open standalone stream", slog.String("err", err.Error()))
			}
			return
		}

		res, err := s.readStream(body, "", callOptions{})
		body.Close()
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warn("standalone stream broken", slog.String("err", err.Error()))
		}
		if res.lastEventID != "" {
			lastEventID = res.lastEventID
		}
	}
}

// abandon answers the pending request id with an error, so the caller doesn't wait for a
// response that can no longer arrive.
func (s *streamableClientSession) abandon(id MustString, reason string) {
	s.deliver(NewErrorResponse(id, jsonRPCInternalErrorCode, reason))
}

func (s *streamableClientSession) deliver(msg JSONRPCMessage) {
	select {
	case s.messages <- msg:
	case <-s.ctx.Done():
	}
}
