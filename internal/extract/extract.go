// Package extract turns an HTML page into plain text suitable for summarization.
package extract

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Page is the readable content of an HTML document.
type Page struct {
	Title string
	Text  string
}

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Form:     true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Iframe:   true,
}

var blocks = map[atom.Atom]bool{
	atom.P:          true,
	atom.Div:        true,
	atom.Section:    true,
	atom.Article:    true,
	atom.Main:       true,
	atom.Li:         true,
	atom.Blockquote: true,
	atom.Pre:        true,
	atom.Tr:         true,
	atom.Br:         true,
	atom.H1:         true,
	atom.H2:         true,
	atom.H3:         true,
	atom.H4:         true,
	atom.H5:         true,
	atom.H6:         true,
}

// Text parses the HTML document read from r and returns its title and body text. Scripts,
// styles and page chrome such as navigation are dropped; block elements become paragraphs
// separated by a blank line.
func Text(r io.Reader) (Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return Page{}, fmt.Errorf("failed to parse html: %w", err)
	}

	w := walker{}
	w.walk(doc)
	w.flush()

	return Page{
		Title: collapse(w.title.String()),
		Text:  strings.Join(w.paragraphs, "\n\n"),
	}, nil
}

type walker struct {
	title      strings.Builder
	current    strings.Builder
	paragraphs []string
	inTitle    bool
}

func (w *walker) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		if w.inTitle {
			w.title.WriteString(n.Data)
			return
		}
		w.current.WriteString(n.Data)
		return
	case html.ElementNode:
		if skipped[n.DataAtom] {
			return
		}
		if n.DataAtom == atom.Title {
			w.inTitle = true
			defer func() { w.inTitle = false }()
		}
		if blocks[n.DataAtom] {
			w.flush()
			defer w.flush()
		}
	case html.CommentNode, html.DoctypeNode:
		return
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func (w *walker) flush() {
	if text := collapse(w.current.String()); text != "" {
		w.paragraphs = append(w.paragraphs, text)
	}
	w.current.Reset()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
