package summarizer

import (
	"encoding/json"
	"iter"
	"log/slog"

	"github.com/MegaGrindStone/go-mcp-streamable"
)

// LogStreams implements mcp.LogHandler interface.
func (s *Server) LogStreams() iter.Seq[mcp.LogParams] {
	return func(yield func(mcp.LogParams) bool) {
		for {
			select {
			case <-s.done:
				return
			case params := <-s.logs:
				if !yield(params) {
					return
				}
			}
		}
	}
}

// SetLogLevel implements mcp.LogHandler interface.
func (s *Server) SetLogLevel(level mcp.LogLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logLevel = level
}

// log broadcasts msg to every session. Messages are dropped rather than stalling a tool call
// when nobody drains the stream.
func (s *Server) log(msg string, level mcp.LogLevel) {
	s.mu.Lock()
	minLevel := s.logLevel
	s.mu.Unlock()
	if level < minLevel {
		return
	}

	data, _ := json.Marshal(msg)
	select {
	case s.logs <- mcp.LogParams{
		Level:  level,
		Logger: Name,
		Data:   data,
	}:
	case <-s.done:
	default:
		s.logger.Debug("dropping log message", slog.String("message", msg))
	}
}
