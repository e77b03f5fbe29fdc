// ABOUTME: Built-in resources: health status, server info and rendered documentation
// ABOUTME: Documentation pages are embedded markdown converted to HTML with goldmark

package builtins

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/mcp-foundation/internal/mcp"
)

//go:embed docs/*.md
var docsFS embed.FS

const mimeJSON = "application/json"

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

func (h *handlers) resources() ([]mcp.Resource, error) {
	out := []mcp.Resource{
		{
			URI:         "health://status",
			Name:        "Health status",
			Description: "Current health of the server",
			MimeType:    mimeJSON,
			NoCache:     true,
			Handler: func(context.Context, string) (*mcp.ResourceContent, error) {
				return jsonContent(h.health.Health())
			},
		},
		{
			URI:         "resource://server-info",
			Name:        "Server info",
			Description: "Name, version and configuration summary",
			MimeType:    mimeJSON,
			Handler: func(context.Context, string) (*mcp.ResourceContent, error) {
				return jsonContent(h.serverInfo())
			},
		},
	}

	docs, err := docResources()
	if err != nil {
		return nil, err
	}
	return append(out, docs...), nil
}

func jsonContent(v any) (*mcp.ResourceContent, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &mcp.ResourceContent{MimeType: mimeJSON, Text: string(b)}, nil
}

// docResources exposes each embedded docs/<slug>.md as docs://<slug>.
func docResources() ([]mcp.Resource, error) {
	entries, err := fs.ReadDir(docsFS, "docs")
	if err != nil {
		return nil, fmt.Errorf("reading embedded docs: %w", err)
	}

	var out []mcp.Resource
	for _, e := range entries {
		slug := strings.TrimSuffix(e.Name(), ".md")
		src, err := docsFS.ReadFile(path.Join("docs", e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, mcp.Resource{
			URI:         "docs://" + slug,
			Name:        docTitle(src, slug),
			Description: "Documentation page rendered as HTML",
			MimeType:    "text/html",
			Handler: func(context.Context, string) (*mcp.ResourceContent, error) {
				return renderMarkdown(src)
			},
		})
	}
	return out, nil
}

func renderMarkdown(src []byte) (*mcp.ResourceContent, error) {
	var buf bytes.Buffer
	if err := markdown.Convert(src, &buf); err != nil {
		return nil, fmt.Errorf("rendering markdown: %w", err)
	}
	return &mcp.ResourceContent{MimeType: "text/html", Text: buf.String()}, nil
}

// docTitle returns the first level-one heading, or the slug.
func docTitle(src []byte, slug string) string {
	for line := range strings.Lines(string(src)) {
		if title, ok := strings.CutPrefix(line, "# "); ok {
			return strings.TrimSpace(title)
		}
	}
	return slug
}
