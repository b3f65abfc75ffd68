package mcp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// EventStore keeps every message a StreamableHTTPServer writes on an SSE stream, so a client
// that lost the stream can reconnect with Last-Event-ID and get what it missed.
//
// Event IDs are opaque to clients and must grow monotonically within a stream.
type EventStore interface {
	// StoreEvent records msg as the next event of streamID and returns its event ID.
	StoreEvent(ctx context.Context, streamID string, msg JSONRPCMessage) (string, error)

	// StreamIDForEvent returns the stream the event belongs to, or ErrEventNotFound.
	StreamIDForEvent(ctx context.Context, eventID string) (string, error)

	// ReplayEventsAfter calls send, in order, for every event stored on lastEventID's stream
	// after lastEventID, and returns that stream's ID. Events at or before lastEventID are
	// never sent.
	ReplayEventsAfter(
		ctx context.Context,
		lastEventID string,
		send func(eventID string, msg JSONRPCMessage) error,
	) (string, error)

	// DeleteStream drops every event of streamID.
	DeleteStream(ctx context.Context, streamID string) error
}

// MemoryEventStore is an EventStore backed by process memory. When a capacity is set the
// oldest events are evicted first; a client resuming from an evicted event gets
// ErrEventNotFound instead of a stream with a gap.
type MemoryEventStore struct {
	mu       sync.Mutex
	events   []storedEvent
	base     uint64 // sequence number of events[0]
	next     uint64
	capacity int
}

// MemoryEventStoreOption configures a MemoryEventStore.
type MemoryEventStoreOption func(*MemoryEventStore)

type storedEvent struct {
	id       string
	streamID string
	msg      JSONRPCMessage
	deleted  bool
}

// ErrEventNotFound is returned when an event ID is unknown, malformed or already evicted.
var ErrEventNotFound = errors.New("event not found")

// NewMemoryEventStore creates an empty in-memory event store.
func NewMemoryEventStore(options ...MemoryEventStoreOption) *MemoryEventStore {
	s := &MemoryEventStore{}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// WithMemoryEventStoreCapacity bounds the number of retained events. Zero means unbounded.
func WithMemoryEventStoreCapacity(capacity int) MemoryEventStoreOption {
	return func(s *MemoryEventStore) {
		s.capacity = capacity
	}
}

// StoreEvent implements EventStore.
func (s *MemoryEventStore) StoreEvent(_ context.Context, streamID string, msg JSONRPCMessage) (string, error) {
	if streamID == "" {
		return "", errors.New("empty stream id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.next
	s.next++
	id := streamID + "_" + strconv.FormatUint(seq, 10)
	s.events = append(s.events, storedEvent{id: id, streamID: streamID, msg: msg})

	if s.capacity > 0 && len(s.events) > s.capacity {
		drop := len(s.events) - s.capacity
		s.events = append([]storedEvent(nil), s.events[drop:]...)
		s.base += uint64(drop)
	}

	return id, nil
}

// StreamIDForEvent implements EventStore.
func (s *MemoryEventStore) StreamIDForEvent(_ context.Context, eventID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.indexOf(eventID)
	if err != nil {
		return "", err
	}
	return s.events[idx].streamID, nil
}

// ReplayEventsAfter implements EventStore.
func (s *MemoryEventStore) ReplayEventsAfter(
	ctx context.Context,
	lastEventID string,
	send func(eventID string, msg JSONRPCMessage) error,
) (string, error) {
	s.mu.Lock()
	idx, err := s.indexOf(lastEventID)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	streamID := s.events[idx].streamID
	var pending []storedEvent
	for _, ev := range s.events[idx+1:] {
		if ev.streamID == streamID && !ev.deleted {
			pending = append(pending, ev)
		}
	}
	s.mu.Unlock()

	for _, ev := range pending {
		if err := ctx.Err(); err != nil {
			return streamID, err
		}
		if err := send(ev.id, ev.msg); err != nil {
			return streamID, fmt.Errorf("failed to replay event %s: %w", ev.id, err)
		}
	}

	return streamID, nil
}

// DeleteStream implements EventStore. Deleted events keep their slot until they reach the
// front of the log, so sequence arithmetic stays valid.
func (s *MemoryEventStore) DeleteStream(_ context.Context, streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		if s.events[i].streamID == streamID {
			s.events[i].deleted = true
			s.events[i].msg = JSONRPCMessage{}
		}
	}

	drop := 0
	for drop < len(s.events) && s.events[drop].deleted {
		drop++
	}
	if drop > 0 {
		s.events = append([]storedEvent(nil), s.events[drop:]...)
		s.base += uint64(drop)
	}
	return nil
}

// Len returns the number of live events.
func (s *MemoryEventStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, ev := range s.events {
		if !ev.deleted {
			n++
		}
	}
	return n
}

func (s *MemoryEventStore) indexOf(eventID string) (int, error) {
	sep := strings.LastIndexByte(eventID, '_')
	if sep < 0 {
		return 0, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	seq, err := strconv.ParseUint(eventID[sep+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	if seq < s.base || seq >= s.next {
		return 0, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	idx := int(seq - s.base)
	if s.events[idx].id != eventID || s.events[idx].deleted {
		return 0, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	return idx, nil
}
