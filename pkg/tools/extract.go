package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	analyst "github.com/Protocol-Lattice/duo-analyst"
	"github.com/Protocol-Lattice/duo-analyst/pkg/sandbox"
)

const (
	extractMaxWords   = 1500
	extractOutputFile = "extracted_relevant_data.txt"
	extractDepth      = 10
	extractMaxDepth   = 15
	outlinePreview    = 4000
)

// ExtractArgs selects content from a saved HTML file.
type ExtractArgs struct {
	FileName   string `json:"file_name" jsonschema_description:"Plain HTML file name in outputs."`
	JSSelector string `json:"js_selector,omitempty" jsonschema_description:"CSS selector, e.g. table.wikitable tr."`
	MaxDepth   int    `json:"max_depth,omitempty" jsonschema_description:"DOM outline depth, capped at 15. Defaults to 10."`
}

type extractResult struct {
	Data         []string `json:"data,omitempty"`
	Message      string   `json:"message,omitempty"`
	FilePath     string   `json:"file_path,omitempty"`
	DOMStructure string   `json:"dom_structure,omitempty"`
	Error        string   `json:"error,omitempty"`
}

func (r extractResult) respond() (analyst.ToolResponse, error) {
	out, err := json.Marshal(r)
	if err != nil {
		return analyst.ToolResponse{}, err
	}
	return analyst.ToolResponse{Content: string(out), IsError: r.Error != ""}, nil
}

// GetRelevantData extracts the text of elements matching a CSS selector.
func GetRelevantData(sb *sandbox.Sandbox) analyst.Tool {
	return &Definition[ExtractArgs]{
		Name:        "get_relevant_data",
		Description: "Extracts text from a saved HTML file in outputs using a CSS selector. Without a match it explains how to pick another selector.",
		Run: func(_ context.Context, in ExtractArgs) (analyst.ToolResponse, error) {
			path, err := sb.Resolve(sandbox.Outputs, in.FileName)
			if err != nil {
				return extractResult{Error: err.Error()}.respond()
			}
			raw, err := os.ReadFile(path)
			if errors.Is(err, fs.ErrNotExist) {
				return extractResult{Error: "File not found: " + in.FileName}.respond()
			}
			if err != nil {
				return extractResult{Error: err.Error()}.respond()
			}
			if !utf8.Valid(raw) {
				return extractResult{Error: "Unable to decode HTML file with UTF-8 encoding."}.respond()
			}
			page := string(raw)

			selector := strings.TrimSpace(in.JSSelector)
			if selector != "" {
				texts, err := selectTexts(page, selector)
				if err != nil {
					return extractResult{Error: fmt.Sprintf("Invalid selector '%s': %v", selector, err)}.respond()
				}
				if len(texts) > 0 {
					combined := strings.Join(texts, "\n")
					if words := len(strings.Fields(combined)); words > extractMaxWords {
						out, err := sb.Resolve(sandbox.Outputs, extractOutputFile)
						if err != nil {
							return extractResult{Error: err.Error()}.respond()
						}
						if err := writeOutput(out, []byte(combined)); err != nil {
							return extractResult{Error: err.Error()}.respond()
						}
						return extractResult{
							Message:  fmt.Sprintf("Extracted text too large (~%d words). Saved to file instead.", words),
							FilePath: extractOutputFile,
						}.respond()
					}
					return extractResult{Data: texts}.respond()
				}
			}

			depth := in.MaxDepth
			if depth <= 0 {
				depth = extractDepth
			}
			if depth > extractMaxDepth {
				depth = extractMaxDepth
			}
			outline := DOMOutline(page, depth)
			if outline == noHTMLContent {
				return extractResult{Message: "HTML file is empty or contains no parseable content."}.respond()
			}
			msg := "No js_selector provided. Inspect the url and try to guess a suitable js_selector based on website/webpage type, then pass it along in your steps."
			if selector != "" {
				msg = "No matching content found for the provided selector. Try to guess another js_selector based on the webpage type."
			}
			return extractResult{Message: msg, DOMStructure: truncateRunes(outline, outlinePreview)}.respond()
		},
	}
}

// selectTexts returns the non-empty text of every element matching selector.
// goquery silently matches nothing for a malformed selector, so it is parsed
// with cascadia first to report the syntax error.
func selectTexts(page, selector string) ([]string, error) {
	if _, err := cascadia.ParseGroup(selector); err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, err
	}
	var texts []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		var parts []string
		for _, n := range s.Nodes {
			collectText(n, &parts)
		}
		if text := strings.Join(parts, " "); text != "" {
			texts = append(texts, text)
		}
	})
	return texts, nil
}

func collectText(n *html.Node, parts *[]string) {
	if n.Type == html.TextNode {
		if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
			*parts = append(*parts, t)
		}
		return
	}
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}
