package summarizer

import (
	"fmt"

	"github.com/gobwas/glob"
)

// ToolFilter selects the tools a Server exposes by name. The zero value allows every tool.
type ToolFilter struct {
	patterns []glob.Glob
}

// NewToolFilter compiles glob patterns such as "summarize" or "*-greet" into a filter that
// allows the tools matching at least one of them. No patterns allow every tool.
func NewToolFilter(patterns ...string) (ToolFilter, error) {
	var f ToolFilter
	for _, pattern := range patterns {
		compiled, err := glob.Compile(pattern)
		if err != nil {
			return ToolFilter{}, fmt.Errorf("invalid tool pattern %q: %w", pattern, err)
		}
		f.patterns = append(f.patterns, compiled)
	}
	return f, nil
}

// Allows reports whether the tool called name is exposed.
func (f ToolFilter) Allows(name string) bool {
	if len(f.patterns) == 0 {
		return true
	}
	for _, p := range f.patterns {
		if p.Match(name) {
			return true
		}
	}
	return false
}
