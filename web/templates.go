// ABOUTME: HTML rendering for the read-only conversation transcript page.
// ABOUTME: Parses the page template once and converts message markdown with goldmark.
package web

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
)

// TemplateRenderer renders the conversation transcript page. The template is
// parsed once at construction and reused for each request.
type TemplateRenderer struct {
	templates *template.Template
}

// NewTemplateRenderer parses the built-in page templates.
func NewTemplateRenderer() (*TemplateRenderer, error) {
	tmpl, err := template.New("conversation").Funcs(template.FuncMap{
		"markdown": markdownToHTML,
		"timeAgo":  timeAgo,
	}).Parse(conversationPage)
	if err != nil {
		return nil, fmt.Errorf("parse conversation template: %w", err)
	}
	return &TemplateRenderer{templates: tmpl}, nil
}

// Render executes a named template and writes the result to w.
func (r *TemplateRenderer) Render(w http.ResponseWriter, templateName string, data any) error {
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, templateName, data); err != nil {
		return fmt.Errorf("render %s: %w", templateName, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := w.Write(buf.Bytes())
	return err
}

// markdownToHTML converts a markdown string to HTML using goldmark.
// Raw HTML in the input is escaped by goldmark's default renderer.
func markdownToHTML(input string) template.HTML {
	var buf bytes.Buffer
	md := goldmark.New()
	if err := md.Convert([]byte(input), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(input))
	}
	return template.HTML(buf.String())
}

// timeAgo formats a time as a relative duration string (e.g. "5m ago", "2h ago").
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case d < 24*time.Hour:
		hours := int(d.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	}
}

const conversationPage = `{{define "conversation"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; color: #1a1a1a; }
.message { margin: 1.5rem 0; padding: 1rem; border-radius: 8px; }
.message.user { background: #eef2ff; }
.message.assistant { background: #f6f6f6; }
.role { font-size: 0.8rem; font-weight: 600; text-transform: uppercase; color: #666; margin-bottom: 0.5rem; }
.thinking { font-size: 0.9rem; color: #888; border-left: 3px solid #ddd; padding-left: 0.75rem; margin-bottom: 0.75rem; }
.tool { font-size: 0.85rem; color: #555; background: #fff; border: 1px solid #e0e0e0; border-radius: 6px; padding: 0.5rem 0.75rem; margin: 0.5rem 0; }
.meta { font-size: 0.75rem; color: #aaa; margin-top: 0.5rem; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{range .Messages}}
<div class="message {{.Role}}">
  <div class="role">{{.Role}}</div>
  {{if .Thinking}}<div class="thinking">{{markdown .Thinking}}</div>{{end}}
  {{range .ToolCalls}}<div class="tool">&#9881; {{.Name}}</div>{{end}}
  {{markdown .Content}}
  <div class="meta">{{timeAgo .UpdatedAt}}</div>
</div>
{{end}}
</body>
</html>{{end}}`
