package server

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"strings"

	"github.com/teonet-go/teoweb/pkg/dom"
)

// ActionNext is the id of the page's "next message" button.
const ActionNext = "next"

//go:embed templates/page.html
var templateFS embed.FS

var pageTemplate = template.Must(template.New("page.html").Funcs(template.FuncMap{
	// Replaced per render.
	"content": func(string) any { return "" },
	"classes": func(string) string { return "" },
}).ParseFS(templateFS, "templates/page.html"))

type pageData struct {
	Title string
	Seq   uint64
	Next  string
}

// renderPage renders the document snapshot. The embedded sequence is the
// document version the snapshot reflects.
func renderPage(title string, elements []dom.Element, seq uint64) ([]byte, error) {
	byID := make(map[string]dom.Element, len(elements))
	for _, e := range elements {
		byID[e.ID] = e
	}

	t, err := pageTemplate.Clone()
	if err != nil {
		return nil, err
	}
	t.Funcs(template.FuncMap{
		"content": func(id string) any {
			e := byID[id]
			if e.HTML {
				return template.HTML(e.Content)
			}
			return e.Content
		},
		"classes": func(id string) string {
			return strings.Join(byID[id].Classes, " ")
		},
	})

	var buf bytes.Buffer
	if err := t.Execute(&buf, pageData{Title: title, Seq: seq, Next: ActionNext}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Server) servePage(w http.ResponseWriter, _ *http.Request) {
	elements, seq := s.doc.Snapshot()
	body, err := renderPage(s.cfg.Title, elements, seq)
	if err != nil {
		s.logger.Error("page render failed", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(body)
}
