// ABOUTME: Renders a session's history as Markdown or as an HTML page via goldmark
// ABOUTME: Raw HTML in messages is never passed through to the rendered page

package transcript

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/provider"
)

// Format selects the output encoding.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
)

// ParseFormat accepts "md", "markdown", "html" or empty (markdown).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "md", "markdown":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("unknown transcript format %q", s)
	}
}

// ContentType returns the HTTP content type for f.
func (f Format) ContentType() string {
	if f == FormatHTML {
		return "text/html; charset=utf-8"
	}
	return "text/markdown; charset=utf-8"
}

// Renderer converts transcripts. The zero value is not usable; call New.
type Renderer struct {
	md   goldmark.Markdown
	page *template.Template
}

// New builds a renderer with GitHub-flavored tables, strikethrough and task lists.
func New() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		page: template.Must(template.New("transcript").Parse(pageTemplate)),
	}
}

// Render encodes snap in format f. modelTitle labels assistant turns.
func (r *Renderer) Render(snap conversation.Snapshot, modelTitle string, f Format) ([]byte, error) {
	md := Markdown(snap, modelTitle)
	if f != FormatHTML {
		return []byte(md), nil
	}

	var body bytes.Buffer
	if err := r.md.Convert([]byte(md), &body); err != nil {
		return nil, fmt.Errorf("converting transcript: %w", err)
	}

	var out bytes.Buffer
	err := r.page.Execute(&out, struct {
		Title string
		Body  template.HTML
	}{
		Title: fmt.Sprintf("%s transcript", modelTitle),
		// goldmark escapes raw HTML unless html.WithUnsafe is set
		Body: template.HTML(body.String()),
	})
	if err != nil {
		return nil, fmt.Errorf("rendering transcript page: %w", err)
	}
	return out.Bytes(), nil
}

// Markdown renders the history with one heading per message. A visible draft
// or fault is appended as a trailing note.
func Markdown(snap conversation.Snapshot, modelTitle string) string {
	if modelTitle == "" {
		modelTitle = snap.Model
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Conversation with %s\n\n", modelTitle)
	if len(snap.History) == 0 && snap.Draft == "" {
		b.WriteString("_No messages yet._\n")
		return b.String()
	}

	for _, m := range snap.History {
		speaker := "You"
		if m.Role == provider.RoleAssistant {
			speaker = modelTitle
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", speaker, strings.TrimRight(m.Content, "\n"))
	}
	if snap.Draft != "" {
		fmt.Fprintf(&b, "## %s (streaming)\n\n%s\n\n", modelTitle, strings.TrimRight(snap.Draft, "\n"))
	}
	if snap.LastFault != "" {
		fmt.Fprintf(&b, "> **Error:** %s\n", snap.LastFault)
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 48rem; margin: 2rem auto; line-height: 1.5; padding: 0 1rem; }
h2 { font-size: 1rem; text-transform: uppercase; letter-spacing: .05em; color: #555; margin-top: 2rem; }
pre { background: #f4f4f4; padding: .75rem; overflow-x: auto; }
blockquote { border-left: 3px solid #c33; margin: 1rem 0; padding-left: 1rem; color: #c33; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`
