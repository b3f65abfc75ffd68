package summarizer

import (
	"context"
	"fmt"
	"iter"
	"strconv"
	"strings"

	"github.com/MegaGrindStone/go-mcp-streamable"
)

const (
	defaultGreetingURI = "https://example.com/greetings/default"
	summaryURIPrefix   = "summary://"
)

var defaultGreeting = mcp.Resource{
	URI:         defaultGreetingURI,
	Name:        "default-greeting",
	Title:       "Default Greeting",
	Description: "A simple greeting resource",
	MimeType:    "text/plain",
}

// ListResources implements mcp.ResourceServer interface.
func (s *Server) ListResources(
	_ context.Context,
	params mcp.ListResourcesParams,
	_ mcp.Peer,
) (mcp.ListResourcesResult, error) {
	s.log(fmt.Sprintf("ListResources: %s", params.Cursor), mcp.LogLevelDebug)

	s.mu.Lock()
	defer s.mu.Unlock()

	resources := []mcp.Resource{defaultGreeting}
	for i := range s.summaries {
		resources = append(resources, summaryResource(i+1))
	}
	return mcp.ListResourcesResult{
		Resources: resources,
	}, nil
}

// ReadResource implements mcp.ResourceServer interface.
func (s *Server) ReadResource(
	_ context.Context,
	params mcp.ReadResourceParams,
	_ mcp.Peer,
) (mcp.ReadResourceResult, error) {
	s.log(fmt.Sprintf("ReadResource: %s", params.URI), mcp.LogLevelDebug)

	if params.URI == defaultGreetingURI {
		return mcp.ReadResourceResult{
			Contents: []mcp.ResourceContents{
				{URI: params.URI, MimeType: "text/plain", Text: "Hello, world!"},
			},
		}, nil
	}

	n, err := strconv.Atoi(strings.TrimPrefix(params.URI, summaryURIPrefix))
	if !strings.HasPrefix(params.URI, summaryURIPrefix) || err != nil {
		return mcp.ReadResourceResult{}, fmt.Errorf("resource not found: %s", params.URI)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if n < 1 || n > len(s.summaries) {
		return mcp.ReadResourceResult{}, fmt.Errorf("resource not found: %s", params.URI)
	}
	return mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{
			{URI: params.URI, MimeType: "text/plain", Text: s.summaries[n-1]},
		},
	}, nil
}

// ResourceListUpdates implements mcp.ResourceListUpdater interface. Updates that arrive while a
// previous one is still pending are merged into it.
func (s *Server) ResourceListUpdates() iter.Seq[struct{}] {
	return func(yield func(struct{}) bool) {
		for {
			select {
			case <-s.done:
				return
			case <-s.updates:
				if !yield(struct{}{}) {
					return
				}
			}
		}
	}
}

// addSummary stores summary as the next summary resource and announces the new resource list.
func (s *Server) addSummary(summary string) mcp.Resource {
	s.mu.Lock()
	s.summaries = append(s.summaries, summary)
	n := len(s.summaries)
	s.mu.Unlock()

	select {
	case s.updates <- struct{}{}:
	default:
	}
	return summaryResource(n)
}

func summaryResource(n int) mcp.Resource {
	return mcp.Resource{
		URI:         fmt.Sprintf("%s%d", summaryURIPrefix, n),
		Name:        fmt.Sprintf("Summary %d", n),
		Description: fmt.Sprintf("Summary #%d produced by the summarize tool", n),
		MimeType:    "text/plain",
	}
}
