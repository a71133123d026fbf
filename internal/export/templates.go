package export

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var boardTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower":      strings.ToLower,
		"formatDate": formatDate,
		"progress":   progress,
	}

	content, err := templateFS.ReadFile("templates/board.html")
	if err != nil {
		boardTemplate = template.Must(template.New("board").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}
	boardTemplate = template.Must(template.New("board").Funcs(funcMap).Parse(string(content)))
}

func formatDate(v any, layout string) string {
	switch t := v.(type) {
	case time.Time:
		return t.Format(layout)
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.Format(layout)
	default:
		return ""
	}
}

// progress renders completed/total for a subtask list, or "" when empty.
func progress(subtasks []Subtask) string {
	if len(subtasks) == 0 {
		return ""
	}
	done := 0
	for _, s := range subtasks {
		if s.Completed {
			done++
		}
	}
	return fmt.Sprintf("%d/%d", done, len(subtasks))
}

// RenderBoardHTML renders the printable board document.
func RenderBoardHTML(board Board) (string, error) {
	var buf bytes.Buffer
	if err := boardTemplate.Execute(&buf, board); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Name}}</title>
</head>
<body>
  <h1>{{.Name}}</h1>
  {{range .Columns}}<h2>{{.Name}}</h2><ul>{{range .Cards}}<li>{{.Title}}</li>{{end}}</ul>{{end}}
</body>
</html>`
