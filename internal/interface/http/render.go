package http

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"

	"github.com/yanqian/paper-synthesizer/internal/domain/analysis"
)

var markdownEngine = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.Typographer,
	),
	goldmark.WithRendererOptions(
		htmlrenderer.WithHardWraps(),
		htmlrenderer.WithXHTML(),
	),
)

var sessionPage = template.Must(template.New("session").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>body{font-family:Georgia,serif;max-width:48rem;margin:2rem auto;line-height:1.6;padding:0 1rem}.state{color:#666;font-size:.9rem}.failed{color:#a40000}</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p class="state">State: {{.State}}{{with .Model}} · Model: {{.}}{{end}}</p>
{{with .FailureReason}}<p class="failed">{{.}}</p>{{end}}
<section><h2>Summary</h2>{{if .Summary}}{{.Summary}}{{else}}<p>No summary yet.</p>{{end}}</section>
<section><h2>Discussion</h2>{{if .Discussion}}{{.Discussion}}{{else}}<p>No discussion yet.</p>{{end}}</section>
</body>
</html>
`))

type sessionPageData struct {
	Title         string
	State         string
	Model         string
	FailureReason string
	Summary       template.HTML
	Discussion    template.HTML
}

// renderMarkdown converts model output to HTML. Raw HTML in the input is not passed through.
func renderMarkdown(markdown string) template.HTML {
	text := strings.TrimSpace(markdown)
	if text == "" {
		return ""
	}
	var out bytes.Buffer
	if err := markdownEngine.Convert([]byte(text), &out); err != nil {
		return template.HTML("<pre>" + template.HTMLEscapeString(text) + "</pre>")
	}
	return template.HTML(out.String())
}

func renderSessionPage(s analysis.Session) ([]byte, error) {
	data := sessionPageData{
		Title: "Paper analysis",
		State: s.State.String(),
	}
	if s.Document != nil && s.Document.Filename != "" {
		data.Title = s.Document.Filename
	}
	if s.Run != nil {
		data.Model = s.Run.Generation.Model
	}
	if s.FailureReason != nil {
		data.FailureReason = *s.FailureReason
	}
	if s.Result.Summary != nil {
		data.Summary = renderMarkdown(*s.Result.Summary)
	}
	if s.Result.Discussion != nil {
		data.Discussion = renderMarkdown(*s.Result.Discussion)
	}
	var buf bytes.Buffer
	if err := sessionPage.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
