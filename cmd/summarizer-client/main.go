// Command summarizer-client is an interactive client for MCP servers speaking streamable HTTP.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
