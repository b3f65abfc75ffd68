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
	"net/http"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// StreamableHTTPServer implements the streamable HTTP transport on a single endpoint. POST
// carries client messages and returns either an SSE stream or a JSON body with the responses,
// GET opens the standalone notification stream of a session or resumes a broken stream with
// Last-Event-ID, and DELETE terminates a session.
//
// It is an http.Handler, so it can be mounted on any router. Instances should be created with
// NewStreamableHTTPServer and shut down with Shutdown.
type StreamableHTTPServer struct {
	logger     *slog.Logger
	registry   *SessionRegistry[*streamableSession]
	eventStore EventStore

	jsonResponse        bool
	terminationDisabled bool
	maxBodySize         int64

	onSessionOpened func(id string)
	onSessionClosed func(id string)
	onRejected      func(reason string)

	sessions  chan *streamableSession
	iterating atomic.Bool

	done         chan struct{}
	closed       chan struct{}
	shutdownOnce sync.Once
	closedOnce   sync.Once
}

// StreamableHTTPServerOption represents the options for the StreamableHTTPServer.
type StreamableHTTPServerOption func(*StreamableHTTPServer)

type streamableSession struct {
	id     string
	logger *slog.Logger
	store  EventStore

	mu             sync.Mutex
	streams        map[string]*serverStream
	requestStreams map[MustString]string
	standalone     *serverStream
	// completed holds the IDs of finished SSE request streams still kept, oldest first.
	completed []string

	incoming chan JSONRPCMessage
	done     chan struct{}
	stopOnce sync.Once
	onStop   func(*streamableSession)
}

// serverStream is one logical response stream of a session: the standalone GET stream, or the
// stream opened by a POST carrying requests. The HTTP connection writing it can come and go;
// events are stored before they are written so a later GET can pick the stream up again.
type serverStream struct {
	id string

	mu        sync.Mutex
	out       *sse.Session
	outDone   chan struct{}
	json      chan JSONRPCMessage
	pending   int
	completed bool
}

type relatedRequestKey struct{}

const (
	contentTypeJSON = "application/json"
	contentTypeSSE  = "text/event-stream"

	headerSessionID   = "Mcp-Session-Id"
	headerLastEventID = "Last-Event-ID"

	sseEventTypeMessage = "message"

	errMsgInvalidJSON        = "Invalid JSON"
	errMsgInvalidSession     = "Invalid or missing session ID"
	errMsgInvalidLastEventID = "Invalid or unknown Last-Event-ID"
	errMsgStreamConflict     = "Conflict: Only one SSE stream is allowed per session"
	errMsgMethodNotAllowed   = "Method Not Allowed"

	defaultEventStoreCapacity = 1000
	defaultMaxBodySize        = 4 << 20

	// maxRetainedStreams bounds the finished request streams a session keeps for resumption.
	maxRetainedStreams = 16
)

// Reasons passed to the OnRejected hook.
const (
	RejectInvalidJSON        = "invalid_json"
	RejectBodyTooLarge       = "body_too_large"
	RejectNoSession          = "no_session"
	RejectUnknownSession     = "unknown_session"
	RejectInvalidLastEventID = "invalid_last_event_id"
	RejectStreamConflict     = "stream_conflict"
	RejectMethodNotAllowed   = "method_not_allowed"
	RejectInternalError      = "internal_error"
)

// ErrSessionClosed is returned when a message is sent on, or a call is pending on, a session
// that has been closed.
var ErrSessionClosed = errors.New("session closed")

// NewStreamableHTTPServer creates a streamable HTTP server transport. Unless another store is
// given with WithStreamableServerEventStore, every stream is recorded in a MemoryEventStore so
// clients can resume.
func NewStreamableHTTPServer(options ...StreamableHTTPServerOption) *StreamableHTTPServer {
	s := &StreamableHTTPServer{
		logger:      slog.Default(),
		maxBodySize: defaultMaxBodySize,
		sessions:    make(chan *streamableSession, 5),
		done:        make(chan struct{}),
		closed:      make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.eventStore == nil {
		s.eventStore = NewMemoryEventStore(WithMemoryEventStoreCapacity(defaultEventStoreCapacity))
	}
	s.registry = NewSessionRegistry[*streamableSession](s.logger)

	return s
}

// WithStreamableServerLogger sets the logger for the server transport.
func WithStreamableServerLogger(logger *slog.Logger) StreamableHTTPServerOption {
	return func(s *StreamableHTTPServer) {
		s.logger = logger.With(
			slog.String("package", "go-mcp-streamable"),
			slog.String("component", "streamable-server"),
		)
	}
}

// WithStreamableServerEventStore sets the store that records stream events for resumption.
func WithStreamableServerEventStore(store EventStore) StreamableHTTPServerOption {
	return func(s *StreamableHTTPServer) {
		s.eventStore = store
	}
}

// WithStreamableServerJSONResponse makes POST requests answer with a single JSON body instead
// of an SSE stream. Notifications related to those requests are not delivered.
func WithStreamableServerJSONResponse() StreamableHTTPServerOption {
	return func(s *StreamableHTTPServer) {
		s.jsonResponse = true
	}
}

// WithStreamableServerTerminationDisabled makes DELETE answer 405, for deployments where
// clients must not end sessions.
func WithStreamableServerTerminationDisabled() StreamableHTTPServerOption {
	return func(s *StreamableHTTPServer) {
		s.terminationDisabled = true
	}
}

// WithStreamableServerMaxBodySize bounds the size of a POST body.
func WithStreamableServerMaxBodySize(size int64) StreamableHTTPServerOption {
	return func(s *StreamableHTTPServer) {
		s.maxBodySize = size
	}
}

// WithStreamableServerOnSessionOpened sets a callback run after a session is registered.
func WithStreamableServerOnSessionOpened(fn func(id string)) StreamableHTTPServerOption {
	return func(s *StreamableHTTPServer) {
		s.onSessionOpened = fn
	}
}

// WithStreamableServerOnSessionClosed sets a callback run once a session is stopped.
func WithStreamableServerOnSessionClosed(fn func(id string)) StreamableHTTPServerOption {
	return func(s *StreamableHTTPServer) {
		s.onSessionClosed = fn
	}
}

// WithStreamableServerOnRejected sets a callback run for every request answered with an
// error status. The argument is one of the Reject constants.
func WithStreamableServerOnRejected(fn func(reason string)) StreamableHTTPServerOption {
	return func(s *StreamableHTTPServer) {
		s.onRejected = fn
	}
}

// Sessions implements ServerTransport.
func (s *StreamableHTTPServer) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		s.iterating.Store(true)
		defer s.closedOnce.Do(func() { close(s.closed) })

		for {
			select {
			case <-s.done:
				return
			case sess := <-s.sessions:
				if !yield(sess) {
					return
				}
			}
		}
	}
}

// Shutdown implements ServerTransport. Every registered session is stopped once, then the
// Sessions iteration is ended.
func (s *StreamableHTTPServer) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() { close(s.done) })

	s.registry.CloseAll(ctx)

	if !s.iterating.Load() {
		return nil
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to shutdown streamable server: %w", ctx.Err())
	case <-s.closed:
	}
	return nil
}

// SessionIDs returns the IDs of the live sessions, sorted.
func (s *StreamableHTTPServer) SessionIDs() []string {
	return s.registry.IDs()
}

// ServeHTTP implements http.Handler.
func (s *StreamableHTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("failed to handle request",
				slog.String("method", r.Method),
				slog.Any("panic", rec))
			s.rejected(RejectInternalError)
			writeJSONRPCError(w, http.StatusInternalServerError, jsonRPCInternalErrorCode, errMsgInternalServer)
		}
	}()

	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		s.handleGet(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		s.rejected(RejectMethodNotAllowed)
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, errMsgMethodNotAllowed, http.StatusMethodNotAllowed)
	}
}

func (s *StreamableHTTPServer) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.rejected(RejectBodyTooLarge)
			http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
			return
		}
		s.logger.Warn("failed to read request body", slog.String("err", err.Error()))
		s.rejected(RejectInvalidJSON)
		http.Error(w, errMsgInvalidJSON, http.StatusBadRequest)
		return
	}

	if len(bytes.TrimSpace(body)) == 0 {
		// An empty body is no initialize request, so without a live session it is answered
		// like any other message missing one.
		id := r.Header.Get(headerSessionID)
		if _, ok := s.registry.Load(id); !ok {
			reason := RejectNoSession
			if id != "" {
				reason = RejectUnknownSession
			}
			s.rejected(reason)
			writeJSONRPCError(w, http.StatusBadRequest, JSONRPCBadRequestCode, errMsgNoValidSession)
			return
		}
	}

	msgs, batch, err := DecodeMessages(body)
	if err != nil || len(msgs) == 0 {
		s.rejected(RejectInvalidJSON)
		http.Error(w, errMsgInvalidJSON, http.StatusBadRequest)
		return
	}
	for _, msg := range msgs {
		if msg.JSONRPC != JSONRPCVersion || msg.Kind() == MessageKindInvalid {
			s.rejected(RejectInvalidJSON)
			writeJSONRPCError(w, http.StatusBadRequest, jsonRPCInvalidRequestCode, "Invalid Request")
			return
		}
	}

	var sess *streamableSession
	if id := r.Header.Get(headerSessionID); id != "" {
		var ok bool
		sess, ok = s.registry.Load(id)
		if !ok {
			s.rejected(RejectUnknownSession)
			writeJSONRPCError(w, http.StatusBadRequest, JSONRPCBadRequestCode, errMsgNoValidSession)
			return
		}
	} else {
		if !IsInitializeRequest(msgs) {
			s.rejected(RejectNoSession)
			writeJSONRPCError(w, http.StatusBadRequest, JSONRPCBadRequestCode, errMsgNoValidSession)
			return
		}
		sess, err = s.openSession(r.Context())
		if err != nil {
			s.logger.Error("failed to open session", slog.String("err", err.Error()))
			s.rejected(RejectInternalError)
			writeJSONRPCError(w, http.StatusInternalServerError, jsonRPCInternalErrorCode, errMsgInternalServer)
			return
		}
	}

	w.Header().Set(headerSessionID, sess.id)

	var requestIDs []MustString
	for _, msg := range msgs {
		if msg.Kind() == MessageKindRequest {
			requestIDs = append(requestIDs, msg.ID)
		}
	}

	if len(requestIDs) == 0 {
		if err := sess.receive(r.Context(), msgs); err != nil {
			s.logger.Warn("failed to deliver messages", slog.String("err", err.Error()))
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if s.jsonResponse {
		s.serveJSON(w, r, sess, msgs, requestIDs, batch)
		return
	}
	s.serveSSE(w, r, sess, msgs, requestIDs)
}

func (s *StreamableHTTPServer) openSession(ctx context.Context) (*streamableSession, error) {
	sess := newStreamableSession(uuid.New().String(), s.eventStore, s.logger)
	sess.onStop = func(ss *streamableSession) {
		s.registry.Remove(ss.id)
		if s.onSessionClosed != nil {
			s.onSessionClosed(ss.id)
		}
	}

	if err := s.registry.Register(sess.id, sess); err != nil {
		return nil, err
	}

	select {
	case s.sessions <- sess:
	case <-s.done:
		sess.Stop()
		return nil, errors.New("server is shutting down")
	case <-ctx.Done():
		sess.Stop()
		return nil, fmt.Errorf("failed to hand over session: %w", ctx.Err())
	}

	if s.onSessionOpened != nil {
		s.onSessionOpened(sess.id)
	}
	return sess, nil
}

func (s *StreamableHTTPServer) serveSSE(
	w http.ResponseWriter,
	r *http.Request,
	sess *streamableSession,
	msgs []JSONRPCMessage,
	requestIDs []MustString,
) {
	out, err := sse.Upgrade(w, r)
	if err != nil {
		s.logger.Error("failed to upgrade session", slog.String("err", err.Error()))
		s.rejected(RejectInternalError)
		writeJSONRPCError(w, http.StatusInternalServerError, jsonRPCInternalErrorCode, errMsgInternalServer)
		return
	}

	st := sess.openRequestStream(requestIDs, false)
	outDone, err := st.attach(out)
	if err != nil {
		s.logger.Warn("failed to open response stream", slog.String("err", err.Error()))
		return
	}

	if err := sess.receive(r.Context(), msgs); err != nil {
		s.logger.Warn("failed to deliver messages", slog.String("err", err.Error()))
		st.detach(out)
		return
	}

	select {
	case <-outDone:
	case <-r.Context().Done():
		// The client went away. The stream stays open and is stored, so a GET with
		// Last-Event-ID can pick it up again.
	case <-sess.done:
	}
	// out belongs to this handler; nothing may write to it once the handler returns.
	st.detach(out)
}

func (s *StreamableHTTPServer) serveJSON(
	w http.ResponseWriter,
	r *http.Request,
	sess *streamableSession,
	msgs []JSONRPCMessage,
	requestIDs []MustString,
	batch bool,
) {
	st := sess.openRequestStream(requestIDs, true)

	if err := sess.receive(r.Context(), msgs); err != nil {
		s.logger.Warn("failed to deliver messages", slog.String("err", err.Error()))
		return
	}

	responses := make([]JSONRPCMessage, 0, len(requestIDs))
	for len(responses) < len(requestIDs) {
		select {
		case msg := <-st.json:
			responses = append(responses, msg)
		case <-r.Context().Done():
			return
		case <-sess.done:
			return
		}
	}

	var payload any = responses[0]
	if batch {
		payload = responses
	}
	bs, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal responses", slog.String("err", err.Error()))
		writeJSONRPCError(w, http.StatusInternalServerError, jsonRPCInternalErrorCode, errMsgInternalServer)
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(bs)
}

func (s *StreamableHTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromHeader(w, r)
	if !ok {
		return
	}

	st := sess.standalone
	lastEventID := r.Header.Get(headerLastEventID)
	if lastEventID != "" {
		streamID, err := s.eventStore.StreamIDForEvent(r.Context(), lastEventID)
		if err == nil {
			st, ok = sess.stream(streamID)
		}
		if err != nil || !ok {
			s.rejected(RejectInvalidLastEventID)
			http.Error(w, errMsgInvalidLastEventID, http.StatusBadRequest)
			return
		}
	}

	out, err := sse.Upgrade(w, r)
	if err != nil {
		s.logger.Error("failed to upgrade session", slog.String("err", err.Error()))
		s.rejected(RejectInternalError)
		writeJSONRPCError(w, http.StatusInternalServerError, jsonRPCInternalErrorCode, errMsgInternalServer)
		return
	}

	var outDone <-chan struct{}
	if lastEventID != "" {
		outDone, err = st.resume(r.Context(), s.eventStore, lastEventID, out)
	} else {
		outDone, err = st.attach(out)
	}
	if errors.Is(err, errStreamAttached) {
		s.rejected(RejectStreamConflict)
		http.Error(w, errMsgStreamConflict, http.StatusConflict)
		return
	}
	if err != nil {
		s.logger.Warn("failed to resume stream",
			slog.String("sessionID", sess.id),
			slog.String("streamID", st.id),
			slog.String("err", err.Error()))
		return
	}
	if outDone == nil {
		// Everything the stream will ever carry has been replayed.
		return
	}

	select {
	case <-outDone:
	case <-r.Context().Done():
	case <-sess.done:
	}
	st.detach(out)
}

func (s *StreamableHTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	if s.terminationDisabled {
		s.rejected(RejectMethodNotAllowed)
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, errMsgMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}

	sess, ok := s.sessionFromHeader(w, r)
	if !ok {
		return
	}

	sess.Stop()
	w.WriteHeader(http.StatusOK)
}

func (s *StreamableHTTPServer) sessionFromHeader(w http.ResponseWriter, r *http.Request) (*streamableSession, bool) {
	id := r.Header.Get(headerSessionID)
	if id == "" {
		s.rejected(RejectNoSession)
		http.Error(w, errMsgInvalidSession, http.StatusBadRequest)
		return nil, false
	}
	sess, ok := s.registry.Load(id)
	if !ok {
		s.rejected(RejectUnknownSession)
		http.Error(w, errMsgInvalidSession, http.StatusBadRequest)
		return nil, false
	}
	return sess, true
}

func (s *StreamableHTTPServer) rejected(reason string) {
	if s.onRejected != nil {
		s.onRejected(reason)
	}
}

var errStreamAttached = errors.New("stream already has a listener")

func newStreamableSession(id string, store EventStore, logger *slog.Logger) *streamableSession {
	standalone := &serverStream{id: uuid.New().String()}
	return &streamableSession{
		id:             id,
		logger:         logger.With(slog.String("sessionID", id)),
		store:          store,
		streams:        map[string]*serverStream{standalone.id: standalone},
		requestStreams: make(map[MustString]string),
		standalone:     standalone,
		incoming:       make(chan JSONRPCMessage, 10),
		done:           make(chan struct{}),
	}
}

func (s *streamableSession) ID() string { return s.id }

// Send routes msg to the stream it belongs to: a response goes to the stream of its request,
// a message sent with a context carrying a related request goes to that request's stream,
// and anything else goes to the standalone stream.
func (s *streamableSession) Send(ctx context.Context, msg JSONRPCMessage) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	st, err := s.streamFor(ctx, msg)
	if err != nil {
		return err
	}
	completed, err := st.write(ctx, s.store, s.logger, msg)
	if err != nil {
		return err
	}
	if completed {
		s.release(st)
	}
	return nil
}

// release forgets a request stream that carried all its responses. A JSON stream has nothing
// to resume and goes at once. Completed SSE streams are kept for late resumption, the oldest
// dropped with their events once more than maxRetainedStreams are kept.
func (s *streamableSession) release(st *serverStream) {
	s.mu.Lock()
	if st.json != nil {
		delete(s.streams, st.id)
		s.mu.Unlock()
		return
	}

	s.completed = append(s.completed, st.id)
	var evicted []string
	if n := len(s.completed) - maxRetainedStreams; n > 0 {
		evicted = slices.Clone(s.completed[:n])
		s.completed = slices.Delete(s.completed, 0, n)
		for _, id := range evicted {
			delete(s.streams, id)
		}
	}
	s.mu.Unlock()

	for _, id := range evicted {
		if err := s.store.DeleteStream(context.Background(), id); err != nil {
			s.logger.Warn("failed to delete stream events",
				slog.String("streamID", id),
				slog.String("err", err.Error()))
		}
	}
}

func (s *streamableSession) Messages() iter.Seq[JSONRPCMessage] {
	return func(yield func(JSONRPCMessage) bool) {
		for {
			select {
			case msg := <-s.incoming:
				if !yield(msg) {
					return
				}
			case <-s.done:
				return
			}
		}
	}
}

func (s *streamableSession) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		streams := make([]*serverStream, 0, len(s.streams))
		for _, st := range s.streams {
			streams = append(streams, st)
		}
		s.mu.Unlock()

		// Listeners are detached before done is closed, so no handler outlives its writer.
		for _, st := range streams {
			st.close()
		}
		close(s.done)

		for _, st := range streams {
			if err := s.store.DeleteStream(context.Background(), st.id); err != nil {
				s.logger.Warn("failed to delete stream events",
					slog.String("streamID", st.id),
					slog.String("err", err.Error()))
			}
		}

		if s.onStop != nil {
			s.onStop(s)
		}
	})
}

func (s *streamableSession) receive(ctx context.Context, msgs []JSONRPCMessage) error {
	for _, msg := range msgs {
		select {
		case s.incoming <- msg:
		case <-s.done:
			return ErrSessionClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *streamableSession) openRequestStream(requestIDs []MustString, jsonMode bool) *serverStream {
	st := &serverStream{
		id:      uuid.New().String(),
		pending: len(requestIDs),
	}
	if jsonMode {
		st.json = make(chan JSONRPCMessage, len(requestIDs))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.streams[st.id] = st
	for _, id := range requestIDs {
		s.requestStreams[id] = st.id
	}
	return st
}

func (s *streamableSession) stream(id string) (*serverStream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[id]
	return st, ok
}

func (s *streamableSession) streamFor(ctx context.Context, msg JSONRPCMessage) (*serverStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Kind() == MessageKindResponse {
		streamID, ok := s.requestStreams[msg.ID]
		if !ok {
			return nil, fmt.Errorf("failed to route response %s: no stream for request", msg.ID)
		}
		delete(s.requestStreams, msg.ID)
		return s.streams[streamID], nil
	}

	if related, ok := relatedRequest(ctx); ok {
		if streamID, ok := s.requestStreams[related]; ok {
			return s.streams[streamID], nil
		}
	}
	return s.standalone, nil
}

// write records msg in the store and writes it to the current listener, if any. A failed
// write only detaches the listener: the event is already stored. It reports whether msg was
// the last response the stream waited for.
func (st *serverStream) write(
	ctx context.Context,
	store EventStore,
	logger *slog.Logger,
	msg JSONRPCMessage,
) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	isResponse := msg.Kind() == MessageKindResponse

	if st.json != nil {
		if !isResponse {
			logger.Debug("dropping message on JSON response stream", slog.String("method", msg.Method))
			return false, nil
		}
		st.json <- msg
		return st.answered(), nil
	}

	eventID, err := store.StoreEvent(ctx, st.id, msg)
	if err != nil {
		return false, fmt.Errorf("failed to store event: %w", err)
	}

	if st.out != nil {
		if err := writeEvent(st.out, eventID, msg); err != nil {
			logger.Warn("failed to write event, detaching stream",
				slog.String("streamID", st.id),
				slog.String("err", err.Error()))
			st.detachLocked()
		}
	}

	if !isResponse || !st.answered() {
		return false, nil
	}
	if st.out != nil {
		st.detachLocked()
	}
	return true, nil
}

// answered counts one response and reports whether it completed the stream.
func (st *serverStream) answered() bool {
	st.pending--
	if st.pending > 0 || st.completed {
		return false
	}
	st.completed = true
	return true
}

// attach makes out the listener of the stream and commits the SSE headers. The returned
// channel is closed when the listener is detached.
func (st *serverStream) attach(out *sse.Session) (<-chan struct{}, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.out != nil {
		return nil, errStreamAttached
	}
	if err := out.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush SSE: %w", err)
	}
	return st.attachLocked(out), nil
}

// resume replays the events stored after lastEventID and then attaches out as the live
// listener. Both happen under the stream lock, so no event is missed or sent twice. A nil
// channel means the stream was already complete and nothing more will follow.
func (st *serverStream) resume(
	ctx context.Context,
	store EventStore,
	lastEventID string,
	out *sse.Session,
) (<-chan struct{}, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.out != nil {
		return nil, errStreamAttached
	}
	if err := out.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush SSE: %w", err)
	}

	_, err := store.ReplayEventsAfter(ctx, lastEventID, func(eventID string, msg JSONRPCMessage) error {
		return writeEvent(out, eventID, msg)
	})
	if err != nil {
		return nil, err
	}

	if st.completed {
		return nil, nil
	}
	return st.attachLocked(out), nil
}

func (st *serverStream) attachLocked(out *sse.Session) <-chan struct{} {
	st.out = out
	st.outDone = make(chan struct{})
	return st.outDone
}

// detach removes out as the listener, unless another listener has replaced it already.
func (st *serverStream) detach(out *sse.Session) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.out == out {
		st.detachLocked()
	}
}

func (st *serverStream) detachLocked() {
	st.out = nil
	if st.outDone != nil {
		close(st.outDone)
		st.outDone = nil
	}
}

func (st *serverStream) close() {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.out != nil {
		st.detachLocked()
	}
}

func writeEvent(out *sse.Session, eventID string, msg JSONRPCMessage) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	e := &sse.Message{
		ID:   sse.ID(eventID),
		Type: sse.Type(sseEventTypeMessage),
	}
	e.AppendData(string(msgBs))

	if err := out.Send(e); err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}
	if err := out.Flush(); err != nil {
		return fmt.Errorf("failed to flush event: %w", err)
	}
	return nil
}

func withRelatedRequest(ctx context.Context, id MustString) context.Context {
	return context.WithValue(ctx, relatedRequestKey{}, id)
}

func relatedRequest(ctx context.Context) (MustString, bool) {
	id, ok := ctx.Value(relatedRequestKey{}).(MustString)
	return id, ok && id != ""
}
