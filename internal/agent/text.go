package agent

import (
	"strings"

	"golang.org/x/net/html"
)

// skippedElements never contribute visible text.
var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true, "head": true, "svg": true,
}

// blockElements start a new line in the extracted text.
var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "br": true, "dd": true,
	"div": true, "dl": true, "dt": true, "fieldset": true, "figcaption": true, "figure": true,
	"footer": true, "form": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "header": true, "hr": true, "li": true, "main": true, "nav": true, "ol": true,
	"option": true, "p": true, "pre": true, "section": true, "table": true, "td": true,
	"th": true, "tr": true, "ul": true,
}

// PageText reduces an HTML document to its readable text, one block per
// line, capped at limit runes. limit <= 0 disables the cap.
func PageText(document string, limit int) (string, error) {
	root, err := html.Parse(strings.NewReader(document))
	if err != nil {
		return "", err
	}

	var (
		lines   []string
		current strings.Builder
	)
	flush := func() {
		if line := strings.Join(strings.Fields(current.String()), " "); line != "" {
			lines = append(lines, line)
		}
		current.Reset()
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			current.WriteString(n.Data)
			current.WriteString(" ")
			return
		case html.ElementNode:
			if skippedElements[n.Data] {
				return
			}
			// Form controls carry their text in attributes.
			if n.Data == "input" || n.Data == "img" {
				for _, attr := range n.Attr {
					if (attr.Key == "value" && n.Data == "input") || (attr.Key == "alt" && n.Data == "img") {
						current.WriteString(attr.Val)
						current.WriteString(" ")
					}
				}
			}
		}

		block := n.Type == html.ElementNode && blockElements[n.Data]
		if block {
			flush()
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			flush()
		}
	}
	walk(root)
	flush()

	text := strings.Join(lines, "\n")
	if limit > 0 {
		text = truncate(text, limit)
	}
	return text, nil
}
