package export

import (
	"bytes"
	"html/template"
	"time"
)

var boardTemplate = template.Must(template.New("board").Funcs(template.FuncMap{
	"formatDate": func(t time.Time) string {
		return t.UTC().Format("Jan 2, 2006 15:04 MST")
	},
	"description": RenderDescription,
}).Parse(boardHTML))

// RenderBoardHTML renders the printable board page.
func RenderBoardHTML(board Board) (string, error) {
	var buf bytes.Buffer
	if err := boardTemplate.Execute(&buf, board); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const boardHTML = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        @page { size: Letter landscape; margin: 0.5in; }
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; color: #222; }
        header { border-bottom: 2px solid #0066cc; margin-bottom: 16px; }
        header p { color: #666; font-size: 11px; }
        .lists { display: flex; gap: 12px; align-items: flex-start; }
        .list { flex: 1; background: #f1f3f5; border-radius: 6px; padding: 8px; break-inside: avoid; }
        .list h2 { font-size: 14px; margin: 4px 0 8px; }
        .card { background: #fff; border-radius: 4px; padding: 6px 8px; margin-bottom: 6px; box-shadow: 0 1px 1px rgba(0,0,0,0.1); }
        .card h3 { font-size: 12px; margin: 0; }
        .card .body { font-size: 11px; color: #444; }
        .empty { font-size: 11px; color: #888; font-style: italic; }
    </style>
</head>
<body>
    <header>
        <h1>{{.Title}}</h1>
        <p>{{if .Public}}Public board{{else}}Private board{{end}}{{if .ExportedBy}} &middot; exported by {{.ExportedBy}}{{end}} &middot; {{formatDate .ExportedAt}}</p>
    </header>
    <section class="lists">
    {{range .Lists}}
        <div class="list">
            <h2>{{.Title}}</h2>
            {{range .Cards}}
            <div class="card">
                <h3>{{.Title}}</h3>
                {{with .Description}}<div class="body">{{description .}}</div>{{end}}
            </div>
            {{else}}
            <p class="empty">No cards</p>
            {{end}}
        </div>
    {{end}}
    </section>
</body>
</html>`
