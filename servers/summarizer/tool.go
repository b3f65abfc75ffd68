package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MegaGrindStone/go-mcp-streamable"
)

var toolList = []mcp.Tool{
	{
		Name:        "summarize",
		Title:       "Summarize",
		Description: "Summarize the given text",
		InputSchema: summarizeSchema,
	},
	{
		Name:        "greet",
		Title:       "Greeting Tool",
		Description: "A simple greeting tool",
		InputSchema: greetSchema,
	},
	{
		Name:        "multi-greet",
		Title:       "Multiple Greeting Tool",
		Description: "A tool that sends different greetings with delays between them",
		InputSchema: greetSchema,
	},
	{
		Name:        "collect-user-info",
		Title:       "Collect User Information",
		Description: "A tool that collects user information through elicitation",
		InputSchema: collectUserInfoSchema,
	},
	{
		Name:        "start-notification-stream",
		Title:       "Start Notification Stream",
		Description: "Starts sending periodic notifications for testing resumability",
		InputSchema: notificationStreamSchema,
	},
}

// ListTools implements mcp.ToolServer interface.
func (s *Server) ListTools(context.Context, mcp.ListToolsParams, mcp.Peer) (mcp.ListToolsResult, error) {
	s.log("ListTools", mcp.LogLevelDebug)

	tools := make([]mcp.Tool, 0, len(toolList))
	for _, tool := range toolList {
		if s.tools.Allows(tool.Name) {
			tools = append(tools, tool)
		}
	}
	return mcp.ListToolsResult{
		Tools: tools,
	}, nil
}

// CallTool implements mcp.ToolServer interface.
func (s *Server) CallTool(
	ctx context.Context,
	params mcp.CallToolParams,
	peer mcp.Peer,
) (mcp.CallToolResult, error) {
	s.log(fmt.Sprintf("CallTool: %s", params.Name), mcp.LogLevelDebug)

	if !s.tools.Allows(params.Name) {
		return mcp.CallToolResult{}, fmt.Errorf("tool not found: %s", params.Name)
	}

	switch params.Name {
	case "summarize":
		return s.callSummarize(ctx, params)
	case "greet":
		return s.callGreet(params)
	case "multi-greet":
		return s.callMultiGreet(ctx, params, peer)
	case "collect-user-info":
		return s.callCollectUserInfo(ctx, params, peer)
	case "start-notification-stream":
		return s.callStartNotificationStream(ctx, params, peer)
	default:
		return mcp.CallToolResult{}, fmt.Errorf("tool not found: %s", params.Name)
	}
}

func (s *Server) callSummarize(ctx context.Context, params mcp.CallToolParams) (mcp.CallToolResult, error) {
	var args SummarizeArgs
	if err := decodeArgs(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, err
	}
	if args.Text == "" {
		return mcp.CallToolResult{}, errors.New("text is required")
	}

	s.logger.Info("summarizing text", slog.Int("length", len(args.Text)))
	summary, err := s.summarizer.Summarize(ctx, args.Text)
	if err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to summarize: %w", err)
	}

	resource := s.addSummary(summary)
	s.log(fmt.Sprintf("Summary stored at %s", resource.URI), mcp.LogLevelInfo)

	return mcp.CallToolResult{
		Content: []mcp.Content{
			{
				Type: mcp.ContentTypeText,
				Text: summary,
			},
			{
				Type:        mcp.ContentTypeResourceLink,
				URI:         resource.URI,
				Name:        resource.Name,
				MimeType:    resource.MimeType,
				Description: resource.Description,
			},
		},
	}, nil
}

func (s *Server) callGreet(params mcp.CallToolParams) (mcp.CallToolResult, error) {
	var args GreetArgs
	if err := decodeArgs(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, err
	}

	return textResult(fmt.Sprintf("Hello, %s!", args.Name)), nil
}

func (s *Server) callMultiGreet(
	ctx context.Context,
	params mcp.CallToolParams,
	peer mcp.Peer,
) (mcp.CallToolResult, error) {
	var args GreetArgs
	if err := decodeArgs(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, err
	}

	steps := []struct {
		level mcp.LogLevel
		msg   string
	}{
		{mcp.LogLevelDebug, fmt.Sprintf("Starting multi-greet for %s", args.Name)},
		{mcp.LogLevelInfo, fmt.Sprintf("Sending first greeting to %s", args.Name)},
		{mcp.LogLevelInfo, fmt.Sprintf("Sending second greeting to %s", args.Name)},
	}
	for i, step := range steps {
		if i > 0 {
			if err := sleep(ctx, s.greetingDelay); err != nil {
				return mcp.CallToolResult{}, err
			}
		}
		if err := peerLog(ctx, peer, step.level, step.msg); err != nil {
			return mcp.CallToolResult{}, err
		}
	}

	return textResult(fmt.Sprintf("Good morning, %s!", args.Name)), nil
}

func (s *Server) callCollectUserInfo(
	ctx context.Context,
	params mcp.CallToolParams,
	peer mcp.Peer,
) (mcp.CallToolResult, error) {
	var args CollectUserInfoArgs
	if err := decodeArgs(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, err
	}

	var elicit mcp.ElicitParams
	var info any
	switch args.InfoType {
	case "contact":
		elicit = mcp.ElicitParams{Message: "Please provide your contact information", RequestedSchema: contactSchema}
		info = &contactInfo{}
	case "preferences":
		elicit = mcp.ElicitParams{Message: "Please set your preferences", RequestedSchema: preferencesSchema}
		info = &preferencesInfo{}
	case "feedback":
		elicit = mcp.ElicitParams{Message: "Please provide your feedback", RequestedSchema: feedbackSchema}
		info = &feedbackInfo{}
	default:
		return mcp.CallToolResult{}, fmt.Errorf("unknown info type: %s", args.InfoType)
	}

	res, err := peer.Request(ctx, mcp.MethodElicitationCreate, elicit)
	if err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to request elicitation: %w", err)
	}
	if res.Error != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to request elicitation: %w", res.Error)
	}

	var result mcp.ElicitResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to unmarshal elicitation result: %w", err)
	}

	switch result.Action {
	case mcp.ElicitActionAccept:
		if err := decodeMap(result.Content, info, "mapstructure"); err != nil {
			return mcp.CallToolResult{}, err
		}
		infoBs, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return mcp.CallToolResult{}, fmt.Errorf("failed to marshal collected information: %w", err)
		}
		return textResult(fmt.Sprintf("Thank you! Collected %s information: %s", args.InfoType, infoBs)), nil
	case mcp.ElicitActionDecline:
		return textResult(fmt.Sprintf("No information was collected. User declined %s information request.",
			args.InfoType)), nil
	case mcp.ElicitActionCancel:
		return textResult("Information collection was cancelled by the user."), nil
	default:
		return mcp.CallToolResult{}, fmt.Errorf("unknown elicitation action: %s", result.Action)
	}
}

func (s *Server) callStartNotificationStream(
	ctx context.Context,
	params mcp.CallToolParams,
	peer mcp.Peer,
) (mcp.CallToolResult, error) {
	args := NotificationStreamArgs{Interval: 100, Count: 10}
	if err := decodeArgs(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, err
	}
	if args.Interval < 0 || args.Count < 0 {
		return mcp.CallToolResult{}, errors.New("interval and count must not be negative")
	}

	interval := time.Duration(args.Interval) * time.Millisecond
	for i := 1; args.Count == 0 || i <= args.Count; i++ {
		msg := fmt.Sprintf("Periodic notification #%d at %s", i, time.Now().Format(time.RFC3339))
		if err := peerLog(ctx, peer, mcp.LogLevelInfo, msg); err != nil {
			return mcp.CallToolResult{}, err
		}
		if err := sleep(ctx, interval); err != nil {
			return mcp.CallToolResult{}, err
		}
	}

	return textResult(fmt.Sprintf("Started sending periodic notifications every %dms", args.Interval)), nil
}

func peerLog(ctx context.Context, peer mcp.Peer, level mcp.LogLevel, msg string) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal log message: %w", err)
	}
	if err := peer.Log(ctx, mcp.LogParams{Level: level, Logger: Name, Data: data}); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func textResult(text string) mcp.CallToolResult {
	return mcp.CallToolResult{
		Content: []mcp.Content{
			{
				Type: mcp.ContentTypeText,
				Text: text,
			},
		},
	}
}
