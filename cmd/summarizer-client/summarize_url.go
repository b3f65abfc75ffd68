package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/MegaGrindStone/go-mcp-streamable/internal/extract"
	"github.com/MegaGrindStone/go-mcp-streamable/manager"
)

const maxPageSize = 5 << 20

func summarizeURL(ctx context.Context, m *manager.Manager, client *http.Client, out io.Writer, url string) error {
	if !m.IsConnected() {
		return errors.New("not connected to server")
	}

	fmt.Fprintf(out, "Fetching %s...\n", url)
	page, err := fetchPage(ctx, client, url)
	if err != nil {
		return err
	}
	if page.Text == "" {
		return fmt.Errorf("no readable text found at %s", url)
	}
	if page.Title != "" {
		fmt.Fprintf(out, "Page title: %s\n", page.Title)
	}
	fmt.Fprintf(out, "Extracted %d characters of text\n", len(page.Text))

	m.Summarize(ctx, page.Text)
	return nil
}

func fetchPage(ctx context.Context, client *http.Client, url string) (extract.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return extract.Page{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := client.Do(req)
	if err != nil {
		return extract.Page{}, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return extract.Page{}, fmt.Errorf("failed to fetch %s: unexpected status %s", url, resp.Status)
	}

	page, err := extract.Text(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return extract.Page{}, err
	}
	return page, nil
}
