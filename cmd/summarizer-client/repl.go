package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MegaGrindStone/go-mcp-streamable/manager"
)

type repl struct {
	m          *manager.Manager
	in         <-chan string
	out        io.Writer
	httpClient *http.Client
}

type command struct {
	usage string
	help  string
	run   func(r *repl, ctx context.Context, args []string, rest string) error
}

const defaultGreetName = "MCP User"

var commands map[string]command

var commandOrder = []string{
	"connect", "disconnect", "terminate-session", "reconnect",
	"list-tools", "call-tool", "greet", "multi-greet", "collect-info",
	"start-notifications", "run-notifications-tool-with-resumability",
	"summarize", "summarize-url",
	"list-prompts", "get-prompt", "list-resources", "read-resource",
	"help", "quit",
}

func init() {
	commands = map[string]command{
		"connect": {
			usage: "connect [url]",
			help:  "Connect to MCP server (default: configured URL)",
			run: func(r *repl, ctx context.Context, args []string, _ string) error {
				r.m.Connect(ctx, argOr(args, 0, ""))
				return nil
			},
		},
		"disconnect": {
			usage: "disconnect",
			help:  "Disconnect from server, keeping the session for a later connect",
			run: func(r *repl, ctx context.Context, _ []string, _ string) error {
				r.m.Disconnect(ctx)
				return nil
			},
		},
		"terminate-session": {
			usage: "terminate-session",
			help:  "Terminate the current session",
			run: func(r *repl, ctx context.Context, _ []string, _ string) error {
				r.m.TerminateSession(ctx)
				return nil
			},
		},
		"reconnect": {
			usage: "reconnect",
			help:  "Reconnect to the server with a new session",
			run: func(r *repl, ctx context.Context, _ []string, _ string) error {
				r.m.Reconnect(ctx)
				return nil
			},
		},
		"list-tools": {
			usage: "list-tools",
			help:  "List available tools",
			run: func(r *repl, ctx context.Context, _ []string, _ string) error {
				r.m.ListTools(ctx)
				return nil
			},
		},
		"call-tool": {
			usage: "call-tool <name> [args]",
			help:  "Call a tool with optional JSON arguments",
			run: func(r *repl, ctx context.Context, args []string, rest string) error {
				if len(args) < 1 {
					return fmt.Errorf("usage: call-tool <name> [args]")
				}
				toolArgs := map[string]any{}
				if raw := strings.TrimSpace(strings.TrimPrefix(rest, args[0])); raw != "" {
					if err := json.Unmarshal([]byte(raw), &toolArgs); err != nil {
						return fmt.Errorf("invalid JSON arguments: %w", err)
					}
				}
				r.m.CallTool(ctx, args[0], toolArgs)
				return nil
			},
		},
		"greet": {
			usage: "greet [name]",
			help:  "Call the greet tool",
			run: func(r *repl, ctx context.Context, _ []string, rest string) error {
				r.m.CallGreetTool(ctx, textOr(rest, defaultGreetName))
				return nil
			},
		},
		"multi-greet": {
			usage: "multi-greet [name]",
			help:  "Call the multi-greet tool, which sends log notifications",
			run: func(r *repl, ctx context.Context, _ []string, rest string) error {
				r.m.CallMultiGreetTool(ctx, textOr(rest, defaultGreetName))
				return nil
			},
		},
		"collect-info": {
			usage: "collect-info [type]",
			help:  "Test elicitation with collect-user-info (contact, preferences or feedback)",
			run: func(r *repl, ctx context.Context, args []string, _ string) error {
				r.m.CallCollectInfoTool(ctx, argOr(args, 0, "contact"))
				return nil
			},
		},
		"start-notifications": {
			usage: "start-notifications [interval] [count]",
			help:  "Start periodic notifications (interval in ms, count 0 for unlimited)",
			run: func(r *repl, ctx context.Context, args []string, _ string) error {
				interval, count, err := intervalAndCount(args, 2000, 10)
				if err != nil {
					return err
				}
				r.m.StartNotifications(ctx, interval, count)
				return nil
			},
		},
		"run-notifications-tool-with-resumability": {
			usage: "run-notifications-tool-with-resumability [interval] [count]",
			help:  "Run the notification tool, resuming its stream after a disconnect",
			run: func(r *repl, ctx context.Context, args []string, _ string) error {
				interval, count, err := intervalAndCount(args, 1000, 5)
				if err != nil {
					return err
				}
				r.m.RunNotificationsToolWithResumability(ctx, interval, count)
				return nil
			},
		},
		"summarize": {
			usage: "summarize <text>",
			help:  "Summarize text with the summarize tool",
			run: func(r *repl, ctx context.Context, _ []string, rest string) error {
				if rest == "" {
					return fmt.Errorf("usage: summarize <text>")
				}
				r.m.Summarize(ctx, rest)
				return nil
			},
		},
		"summarize-url": {
			usage: "summarize-url <url>",
			help:  "Fetch a web page and summarize its text",
			run: func(r *repl, ctx context.Context, args []string, _ string) error {
				if len(args) < 1 {
					return fmt.Errorf("usage: summarize-url <url>")
				}
				return summarizeURL(ctx, r.m, r.httpClient, r.out, args[0])
			},
		},
		"list-prompts": {
			usage: "list-prompts",
			help:  "List available prompts",
			run: func(r *repl, ctx context.Context, _ []string, _ string) error {
				r.m.ListPrompts(ctx)
				return nil
			},
		},
		"get-prompt": {
			usage: "get-prompt [name] [args]",
			help:  "Get a prompt with optional JSON arguments",
			run: func(r *repl, ctx context.Context, args []string, rest string) error {
				name := argOr(args, 0, "greeting-template")
				promptArgs := map[string]string{"name": defaultGreetName}
				if len(args) > 0 {
					promptArgs = map[string]string{}
					if raw := strings.TrimSpace(strings.TrimPrefix(rest, args[0])); raw != "" {
						if err := json.Unmarshal([]byte(raw), &promptArgs); err != nil {
							return fmt.Errorf("invalid JSON arguments: %w", err)
						}
					}
				}
				r.m.GetPrompt(ctx, name, promptArgs)
				return nil
			},
		},
		"list-resources": {
			usage: "list-resources",
			help:  "List available resources",
			run: func(r *repl, ctx context.Context, _ []string, _ string) error {
				r.m.ListResources(ctx)
				return nil
			},
		},
		"read-resource": {
			usage: "read-resource <uri>",
			help:  "Read a specific resource by URI",
			run: func(r *repl, ctx context.Context, args []string, _ string) error {
				if len(args) < 1 {
					return fmt.Errorf("usage: read-resource <uri>")
				}
				r.m.ReadResource(ctx, args[0])
				return nil
			},
		},
		"help": {
			usage: "help",
			help:  "Show this help",
			run: func(r *repl, _ context.Context, _ []string, _ string) error {
				r.printHelp()
				return nil
			},
		},
		"quit": {
			usage: "quit",
			help:  "Exit the program",
		},
	}
}

// run reads commands until quit, end of input or ctx is done.
func (r *repl) run(ctx context.Context) {
	fmt.Fprintln(r.out, "MCP Interactive Client")
	fmt.Fprintln(r.out, "=====================")
	r.printHelp()

	for {
		fmt.Fprint(r.out, "\n> ")

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return
		case l, ok := <-r.in:
			if !ok {
				return
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		if !r.execute(ctx, line) {
			return
		}
	}
}

// execute runs one command line and reports whether the REPL should keep going.
func (r *repl) execute(ctx context.Context, line string) bool {
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	if name == "quit" || name == "exit" {
		return false
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(r.out, "Unknown command: %s\n", name)
		return true
	}
	if err := cmd.run(r, ctx, strings.Fields(rest), rest); err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)
	}
	return true
}

func (r *repl) printHelp() {
	fmt.Fprintln(r.out, "\nAvailable commands:")
	for _, name := range commandOrder {
		cmd := commands[name]
		fmt.Fprintf(r.out, "  %-42s - %s\n", cmd.usage, cmd.help)
	}
}

func argOr(args []string, i int, fallback string) string {
	if i < len(args) {
		return args[i]
	}
	return fallback
}

func textOr(text, fallback string) string {
	if text == "" {
		return fallback
	}
	return text
}

func intervalAndCount(args []string, interval, count int) (int, int, error) {
	var err error
	if len(args) > 0 {
		if interval, err = strconv.Atoi(args[0]); err != nil || interval < 0 {
			return 0, 0, fmt.Errorf("invalid interval %q", args[0])
		}
	}
	if len(args) > 1 {
		if count, err = strconv.Atoi(args[1]); err != nil || count < 0 {
			return 0, 0, fmt.Errorf("invalid count %q", args[1])
		}
	}
	return interval, count, nil
}
