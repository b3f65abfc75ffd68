package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MegaGrindStone/go-mcp-streamable"
)

// CallTool calls the named tool and logs every item of its result. It returns the
// resource_link items, so the caller can offer to read them.
func (m *Manager) CallTool(ctx context.Context, name string, args map[string]any) []mcp.Content {
	client := m.currentClient()
	if client == nil {
		m.log("Not connected to server.")
		return nil
	}

	if args == nil {
		args = map[string]any{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		m.logf("Error calling tool %s: %v", name, err)
		return nil
	}

	m.logf("Calling tool '%s' with args: %s", name, argsJSON)
	res, err := client.CallTool(ctx, mcp.CallToolParams{Name: name, Arguments: argsJSON})
	if err != nil {
		m.logf("Error calling tool %s: %v", name, err)
		return nil
	}

	m.log("Tool result:")
	var links []mcp.Content
	for _, item := range res.Content {
		switch mcp.ClassifyContent(item) {
		case mcp.ContentKindText:
			m.logf("  %s", item.Text)
		case mcp.ContentKindResourceLink:
			links = append(links, item)
			m.logf("  Resource Link: %s", item.Name)
			m.logf("     URI: %s", item.URI)
			if item.MimeType != "" {
				m.logf("     Type: %s", item.MimeType)
			}
			if item.Description != "" {
				m.logf("     Description: %s", item.Description)
			}
		case mcp.ContentKindResource:
			uri := ""
			if item.Resource != nil {
				uri = item.Resource.URI
			}
			m.logf("  [Embedded Resource: %s]", uri)
		case mcp.ContentKindImage:
			m.logf("  [Image: %s]", item.MimeType)
		case mcp.ContentKindAudio:
			m.logf("  [Audio: %s]", item.MimeType)
		default:
			m.logf("  [Unknown content type]: %s", contentJSON(item))
		}
	}
	if len(links) > 0 {
		m.logf("Found %d resource link(s). Use 'read-resource <uri>' to read their content.", len(links))
	}
	return links
}

// CallGreetTool calls the greet tool.
func (m *Manager) CallGreetTool(ctx context.Context, name string) {
	m.CallTool(ctx, "greet", map[string]any{"name": name})
}

// CallMultiGreetTool calls the multi-greet tool, which logs notifications before answering.
func (m *Manager) CallMultiGreetTool(ctx context.Context, name string) {
	m.log("Calling multi-greet tool with notifications...")
	m.CallTool(ctx, "multi-greet", map[string]any{"name": name})
}

// CallCollectInfoTool calls the collect-user-info tool, which elicits input from the user.
func (m *Manager) CallCollectInfoTool(ctx context.Context, infoType string) {
	m.logf("Testing elicitation with collect-user-info tool (%s)...", infoType)
	m.CallTool(ctx, "collect-user-info", map[string]any{"infoType": infoType})
}

// StartNotifications starts a notification stream without resumability.
func (m *Manager) StartNotifications(ctx context.Context, interval, count int) {
	m.logf("Starting notification stream: interval=%dms, count=%s", interval, countLabel(count))
	m.CallTool(ctx, notificationsTool, map[string]any{"interval": interval, "count": count})
}

// Summarize calls the summarize tool and returns the links to the produced summaries.
func (m *Manager) Summarize(ctx context.Context, text string) []mcp.Content {
	return m.CallTool(ctx, "summarize", map[string]any{"text": text})
}

// RunNotificationsToolWithResumability starts a notification stream and tracks the ID of every
// event it delivers. When a previous run was cut off, the call picks up its stream from the
// last event seen instead of starting over.
func (m *Manager) RunNotificationsToolWithResumability(ctx context.Context, interval, count int) {
	client := m.currentClient()
	if client == nil {
		m.log("Not connected to server.")
		return
	}

	token, ok := m.tracker.Token(notificationsTool)
	m.logf("Starting notification stream with resumability: interval=%dms, count=%s", interval, countLabel(count))
	if ok {
		m.logf("Using resumption token: %s", token)
	} else {
		m.log("Using resumption token: none")
	}

	args, _ := json.Marshal(map[string]any{"interval": interval, "count": count})
	options := []mcp.CallOption{
		mcp.WithResumptionTokenHandler(func(token string) {
			m.tracker.Update(notificationsTool, token)
			m.logf("Updated resumption token: %s", token)
		}),
	}
	if ok {
		options = append(options, mcp.WithResumptionToken(token))
	}

	res, err := client.CallTool(ctx, mcp.CallToolParams{Name: notificationsTool, Arguments: args}, options...)
	if err != nil {
		// A stream the server cannot resume from the token answers with an error; starting
		// over is the only way forward.
		var rpcErr mcp.JSONRPCError
		if ok && errors.As(err, &rpcErr) {
			m.tracker.Forget(notificationsTool)
		}
		m.logf("Error starting notification stream: %v", err)
		return
	}
	m.tracker.Forget(notificationsTool)

	m.log("Tool result:")
	for _, item := range res.Content {
		if item.Type == mcp.ContentTypeText {
			m.logf("  %s", item.Text)
			continue
		}
		m.logf("  %s content: %s", item.Type, contentJSON(item))
	}
}

// ListTools logs the tools the server offers.
func (m *Manager) ListTools(ctx context.Context) {
	client := m.currentClient()
	if client == nil {
		m.log("Not connected to server.")
		return
	}

	res, err := client.ListTools(ctx, mcp.ListToolsParams{})
	if err != nil {
		m.logf("Tools not supported by this server (%v)", err)
		return
	}
	m.log("Available tools:")
	if len(res.Tools) == 0 {
		m.log("  No tools available")
		return
	}
	for _, tool := range res.Tools {
		m.logf("  - id: %s, name: %s, description: %s", tool.Name, displayName(tool.Title, tool.Name), tool.Description)
	}
}

// ListPrompts logs the prompts the server offers.
func (m *Manager) ListPrompts(ctx context.Context) {
	client := m.currentClient()
	if client == nil {
		m.log("Not connected to server.")
		return
	}

	res, err := client.ListPrompts(ctx, mcp.ListPromptsParams{})
	if err != nil {
		m.logf("Prompts not supported by this server (%v)", err)
		return
	}
	m.log("Available prompts:")
	if len(res.Prompts) == 0 {
		m.log("  No prompts available")
		return
	}
	for _, prompt := range res.Prompts {
		m.logf("  - id: %s, name: %s, description: %s",
			prompt.Name, displayName(prompt.Title, prompt.Name), prompt.Description)
	}
}

// GetPrompt logs the messages of the named prompt rendered with args.
func (m *Manager) GetPrompt(ctx context.Context, name string, args map[string]string) {
	client := m.currentClient()
	if client == nil {
		m.log("Not connected to server.")
		return
	}

	res, err := client.GetPrompt(ctx, mcp.GetPromptParams{Name: name, Arguments: args})
	if err != nil {
		m.logf("Error getting prompt %s: %v", name, err)
		return
	}
	m.log("Prompt template:")
	for i, msg := range res.Messages {
		m.logf("  [%d] %s: %s", i+1, msg.Role, msg.Content.Text)
	}
}

// ListResources logs the resources the server offers.
func (m *Manager) ListResources(ctx context.Context) {
	client := m.currentClient()
	if client == nil {
		m.log("Not connected to server.")
		return
	}

	res, err := client.ListResources(ctx, mcp.ListResourcesParams{})
	if err != nil {
		m.logf("Resources not supported by this server (%v)", err)
		return
	}
	m.log("Available resources:")
	if len(res.Resources) == 0 {
		m.log("  No resources available")
		return
	}
	for _, resource := range res.Resources {
		m.logf("  - id: %s, name: %s, description: %s",
			resource.Name, displayName(resource.Title, resource.Name), resource.URI)
	}
}

// ReadResource logs the contents of the resource at uri.
func (m *Manager) ReadResource(ctx context.Context, uri string) {
	client := m.currentClient()
	if client == nil {
		m.log("Not connected to server.")
		return
	}

	m.logf("Reading resource: %s", uri)
	res, err := client.ReadResource(ctx, mcp.ReadResourceParams{URI: uri})
	if err != nil {
		m.logf("Error reading resource %s: %v", uri, err)
		return
	}

	m.log("Resource contents:")
	for _, content := range res.Contents {
		m.logf("  URI: %s", content.URI)
		if content.MimeType != "" {
			m.logf("  Type: %s", content.MimeType)
		}
		switch {
		case content.Text != "":
			m.log("  Content:")
			m.log("  ---")
			for _, line := range strings.Split(content.Text, "\n") {
				m.log("  " + line)
			}
			m.log("  ---")
		case content.Blob != "":
			m.logf("  [Binary data: %d bytes]", len(content.Blob))
		}
	}
}

func displayName(title, name string) string {
	if title != "" {
		return title
	}
	return name
}

func countLabel(count int) string {
	if count == 0 {
		return "unlimited"
	}
	return fmt.Sprint(count)
}

func contentJSON(c mcp.Content) string {
	bs, err := json.Marshal(c)
	if err != nil {
		return fmt.Sprintf("%+v", c)
	}
	return string(bs)
}
