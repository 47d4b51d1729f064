package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
)

const renderedContentType = "text/html; charset=utf-8"

var documentTemplate = template.Must(template.New("document").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<article>
<h1>{{.Title}}</h1>
{{- range .Sections}}
<section>
<h2>{{.Heading}}</h2>
{{- range .Paragraphs}}
<p>{{.}}</p>
{{- end}}
</section>
{{- end}}
</article>
</body>
</html>
`))

// HTMLRenderer renders a structured document as a standalone HTML page.
type HTMLRenderer struct{}

func (HTMLRenderer) Render(ctx context.Context, doc Document) ([]byte, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, doc); err != nil {
		return nil, "", fmt.Errorf("execute document template: %w", err)
	}
	return buf.Bytes(), renderedContentType, nil
}
