package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MegaGrindStone/go-mcp-streamable"
	"github.com/MegaGrindStone/go-mcp-streamable/internal/config"
	"github.com/MegaGrindStone/go-mcp-streamable/manager"
)

const cleanupTimeout = 5 * time.Second

type rootFlags struct {
	configPath string
	serverURL  string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "summarizer-client",
		Short: "Interactive client for streamable HTTP MCP servers",
		Long: `summarizer-client connects to an MCP server over streamable HTTP and runs an interactive
prompt to call its tools, read its prompts and resources, and exercise session management:
disconnecting, resuming, reconnecting and terminating sessions.

Configuration is read from the TOML file given with --config, then from the MCP_SERVER_URL
and LOG_LEVEL environment variables, then from the flags.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			lines := readLines(os.Stdin)
			out := &syncWriter{w: cmd.OutOrStdout()}
			m, err := newManager(cmd, flags, out, terminalElicitation{in: lines, out: out})
			if err != nil {
				return err
			}

			r := &repl{m: m, in: lines, out: out, httpClient: http.DefaultClient}
			r.run(ctx)

			cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
			defer cancel()
			m.Cleanup(cleanupCtx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a TOML configuration file")
	cmd.PersistentFlags().StringVarP(&flags.serverURL, "url", "u", "", "server endpoint (default http://localhost:3000/mcp)")

	cmd.AddCommand(newSummarizeURLCmd(&flags))

	return cmd
}

func newSummarizeURLCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "summarize-url <url>",
		Short: "Fetch a web page and summarize its text with the server's summarize tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := &syncWriter{w: cmd.OutOrStdout()}
			m, err := newManager(cmd, *flags, out, nil)
			if err != nil {
				return err
			}
			defer func() {
				cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
				defer cancel()
				m.Cleanup(cleanupCtx)
			}()

			m.Connect(ctx, "")
			if !m.IsConnected() {
				return fmt.Errorf("failed to connect")
			}
			return summarizeURL(ctx, m, http.DefaultClient, out, args[0])
		},
	}
}

// newManager builds a Manager from the configuration and flags. A nil elicitation handler
// declines every request.
func newManager(
	cmd *cobra.Command,
	flags rootFlags,
	out io.Writer,
	elicitation mcp.ElicitationHandler,
) (*manager.Manager, error) {
	cfg, err := config.LoadClient(flags.configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("url") {
		cfg.ServerURL = flags.serverURL
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logger, err := cfg.Log.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	options := []manager.Option{
		manager.WithServerURL(cfg.ServerURL),
		manager.WithClientInfo(cfg.Name, cfg.Version),
		manager.WithLogger(logger),
		manager.WithLogSink(func(line string) {
			fmt.Fprintln(out, line)
		}),
	}
	if elicitation != nil {
		options = append(options, manager.WithElicitationHandler(elicitation))
	}
	return manager.New(options...), nil
}

// syncWriter serializes writes from the REPL and from notification handlers.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// readLines feeds the lines of r to the returned channel, which is closed at end of input.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}
