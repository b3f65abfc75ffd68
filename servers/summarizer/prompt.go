package summarizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/MegaGrindStone/go-mcp-streamable"
)

var promptList = []mcp.Prompt{
	{
		Name:        "greeting-template",
		Title:       "Greeting Template",
		Description: "A simple greeting prompt template",
		Arguments: []mcp.PromptArgument{
			{Name: "name", Description: "Name to include in greeting", Required: true},
		},
	},
}

// ListPrompts implements mcp.PromptServer interface.
func (s *Server) ListPrompts(context.Context, mcp.ListPromptsParams, mcp.Peer) (mcp.ListPromptResult, error) {
	s.log("ListPrompts", mcp.LogLevelDebug)

	return mcp.ListPromptResult{
		Prompts: promptList,
	}, nil
}

// GetPrompt implements mcp.PromptServer interface.
func (s *Server) GetPrompt(_ context.Context, params mcp.GetPromptParams, _ mcp.Peer) (mcp.GetPromptResult, error) {
	s.log(fmt.Sprintf("GetPrompt: %s", params.Name), mcp.LogLevelDebug)

	if params.Name != "greeting-template" {
		return mcp.GetPromptResult{}, fmt.Errorf("prompt not found: %s", params.Name)
	}
	name := params.Arguments["name"]
	if name == "" {
		return mcp.GetPromptResult{}, errors.New("argument name is required")
	}

	return mcp.GetPromptResult{
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.Content{
					Type: mcp.ContentTypeText,
					Text: fmt.Sprintf("Please greet %s in a friendly manner.", name),
				},
			},
		},
	}, nil
}
