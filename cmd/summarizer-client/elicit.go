package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/MegaGrindStone/go-mcp-streamable"
)

// terminalElicitation answers elicitation requests by asking the user on the terminal. It
// reads from the same lines as the REPL, which is blocked on the tool call meanwhile.
type terminalElicitation struct {
	in  <-chan string
	out io.Writer
}

type elicitSchema struct {
	Properties map[string]elicitProperty `json:"properties"`
	Required   []string                  `json:"required"`
}

type elicitProperty struct {
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Enum        []string `json:"enum"`
	Default     any      `json:"default"`
}

func (e terminalElicitation) Elicit(ctx context.Context, params mcp.ElicitParams) (mcp.ElicitResult, error) {
	var schema elicitSchema
	if len(params.RequestedSchema) > 0 {
		if err := json.Unmarshal(params.RequestedSchema, &schema); err != nil {
			return mcp.ElicitResult{}, fmt.Errorf("invalid requested schema: %w", err)
		}
	}

	fmt.Fprintln(e.out)
	fmt.Fprintln(e.out, "Server is requesting information:")
	fmt.Fprintln(e.out, params.Message)

	answer, ok := e.ask(ctx, "Provide this information? (y = accept, n = decline, c = cancel): ")
	if !ok {
		return mcp.ElicitResult{Action: mcp.ElicitActionCancel}, nil
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
	case "n", "no":
		return mcp.ElicitResult{Action: mcp.ElicitActionDecline}, nil
	default:
		return mcp.ElicitResult{Action: mcp.ElicitActionCancel}, nil
	}

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	slices.Sort(names)

	content := make(map[string]any, len(names))
	for _, name := range names {
		prop := schema.Properties[name]
		required := slices.Contains(schema.Required, name)
		for {
			raw, ok := e.ask(ctx, promptFor(name, prop, required))
			if !ok {
				return mcp.ElicitResult{Action: mcp.ElicitActionCancel}, nil
			}
			if raw == "" {
				if prop.Default != nil {
					content[name] = prop.Default
					break
				}
				if !required {
					break
				}
				fmt.Fprintf(e.out, "%s is required.\n", name)
				continue
			}

			value, err := parseValue(prop, raw)
			if err != nil {
				fmt.Fprintf(e.out, "Invalid value: %v\n", err)
				continue
			}
			content[name] = value
			break
		}
	}

	return mcp.ElicitResult{Action: mcp.ElicitActionAccept, Content: content}, nil
}

func (e terminalElicitation) ask(ctx context.Context, prompt string) (string, bool) {
	fmt.Fprint(e.out, prompt)
	select {
	case <-ctx.Done():
		return "", false
	case line, ok := <-e.in:
		return strings.TrimSpace(line), ok
	}
}

func promptFor(name string, prop elicitProperty, required bool) string {
	var b strings.Builder
	b.WriteString(displayTitle(name, prop.Title))
	if prop.Description != "" {
		fmt.Fprintf(&b, " - %s", prop.Description)
	}
	if len(prop.Enum) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(prop.Enum, "/"))
	} else if prop.Type != "" && prop.Type != "string" {
		fmt.Fprintf(&b, " (%s)", prop.Type)
	}
	if required {
		b.WriteString(" *")
	}
	b.WriteString(": ")
	return b.String()
}

func displayTitle(name, title string) string {
	if title != "" {
		return title
	}
	return name
}

func parseValue(prop elicitProperty, raw string) (any, error) {
	if len(prop.Enum) > 0 && !slices.Contains(prop.Enum, raw) {
		return nil, fmt.Errorf("must be one of %s", strings.Join(prop.Enum, ", "))
	}

	switch prop.Type {
	case "boolean":
		switch strings.ToLower(raw) {
		case "y", "yes", "true":
			return true, nil
		case "n", "no", "false":
			return false, nil
		}
		return nil, fmt.Errorf("%q is not a boolean", raw)
	case "integer":
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", raw)
		}
		return v, nil
	case "number":
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", raw)
		}
		return v, nil
	default:
		return raw, nil
	}
}
