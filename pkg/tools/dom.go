package tools

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	defaultDOMDepth = 12
	noHTMLContent   = "No HTML content found."
)

// DOMOutline renders the element tree of src as indented "tag#id.class"
// lines, two spaces per level, down to maxDepth. Scripts, styles and
// comments are skipped.
func DOMOutline(src string, maxDepth int) string {
	if !strings.Contains(src, "<") {
		return noHTMLContent
	}
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return noHTMLContent
	}
	if maxDepth < 0 {
		maxDepth = defaultDOMDepth
	}
	var lines []string
	var walk func(n *html.Node, depth int)
	walk = func(n *html.Node, depth int) {
		if depth > maxDepth {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode || c.DataAtom == atom.Script || c.DataAtom == atom.Style {
				continue
			}
			lines = append(lines, strings.Repeat("  ", depth)+describeTag(c))
			walk(c, depth+1)
		}
	}
	walk(doc, 0)
	if len(lines) == 0 {
		return noHTMLContent
	}
	return strings.Join(lines, "\n")
}

func describeTag(n *html.Node) string {
	var id, class string
	for _, a := range n.Attr {
		switch a.Key {
		case "id":
			id = a.Val
		case "class":
			class = strings.Join(strings.Fields(a.Val), ".")
		}
	}
	out := n.Data
	if id != "" {
		out += "#" + id
	}
	if class != "" {
		out += "." + class
	}
	return out
}
