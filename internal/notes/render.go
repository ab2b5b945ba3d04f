package notes

import (
	"bytes"
	"fmt"
	"html"

	"github.com/yuin/goldmark"
)

// RenderHTML renders a note's markdown content as a standalone HTML
// document for export. The output carries no external resources.
func RenderHTML(n *Note) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(n.Content), &buf); err != nil {
		return "", fmt.Errorf("render note %d: %w", n.ID, err)
	}

	doc := fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5; max-width: 42em; margin: 2em auto;">
<h1>%s</h1>
%s
</body></html>`, html.EscapeString(n.Title), html.EscapeString(n.Title), buf.String())

	return doc, nil
}
