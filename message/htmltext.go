package message

import (
	"strings"

	"golang.org/x/net/html"
)

// TextFromHTML renders an HTML body as readable plain text so a caller
// can pair an HTML alternative with a text version without maintaining
// both by hand. Script and style content is dropped, block-level
// elements become line breaks, and anchor targets are appended in
// parentheses after the link text. Malformed HTML is handled the way a
// browser would handle it; this never fails.
func TextFromHTML(s string) string {
	// html.Parse only fails on reader errors, and strings.Reader
	// doesn't produce any.
	root, _ := html.Parse(strings.NewReader(s))

	var b strings.Builder
	walkText(&b, root)

	// Collapse the runs of blank lines that nested block elements
	// leave behind.
	lines := strings.Split(b.String(), "\n")
	out := make([]string, 0, len(lines))
	blank := true
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, l)
		blank = false
	}
	return strings.TrimRight(strings.Join(out, "\n"), "\n")
}

func walkText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "head":
			return
		case "br":
			b.WriteString("\n")
		case "p", "div", "ul", "ol", "li", "tr", "table",
			"h1", "h2", "h3", "h4", "h5", "h6", "blockquote":
			b.WriteString("\n")
		}
	case html.TextNode:
		t := strings.TrimSpace(n.Data)
		if t != "" {
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
				b.WriteString(" ")
			}
			b.WriteString(t)
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(b, c)
	}

	if n.Type == html.ElementNode && n.Data == "a" {
		for _, a := range n.Attr {
			if a.Key == "href" && a.Val != "" {
				b.WriteString(" (" + a.Val + ")")
				break
			}
		}
	}
}
