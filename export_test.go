package mcp

const MaxRetainedStreams = maxRetainedStreams

// StreamCount returns how many streams the session keeps, the standalone stream included.
func (s *StreamableHTTPServer) StreamCount(sessionID string) int {
	sess, ok := s.registry.Load(sessionID)
	if !ok {
		return 0
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return len(sess.streams)
}
