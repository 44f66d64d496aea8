package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"

	"github.com/phantompen/pen/internal/errors"
	"github.com/phantompen/pen/internal/logging"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
}

// MemoirEntry is one rendered memoir entry.
type MemoirEntry struct {
	Date  string
	Title string
	HTML  template.HTML
}

// MemoirPageData is the template data for the public memoir page.
type MemoirPageData struct {
	PageData
	Author       string
	MemoirPublic bool
	Entries      []MemoirEntry
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
	log       logrus.FieldLogger
}

// NewRenderer creates a Renderer by parsing templates from the given FS.
func NewRenderer(templateFS fs.FS, version string, log logrus.FieldLogger) *Renderer {
	layoutTmpl := template.Must(template.New("layout").ParseFS(templateFS, "layout.html"))

	pages := map[string]string{
		"memoir": "memoir.html",
		"error":  "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t := template.Must(layoutTmpl.Clone())
		template.Must(t.ParseFS(templateFS, file))
		templates[name] = t
	}

	return &Renderer{
		templates: templates,
		version:   version,
		log:       logging.OrDiscard(log),
	}
}

// renderPage renders a named page template with the given status code.
func (r *Renderer) renderPage(w http.ResponseWriter, status int, name string, data any) {
	t, ok := r.templates[name]
	if !ok {
		r.log.WithField("template", name).Error("template not found")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		r.log.WithError(err).WithField("template", name).Error("template execution failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderErrorPage renders err as HTML, or as JSON when the client asks for it.
func (r *Renderer) renderErrorPage(w http.ResponseWriter, req *http.Request, err error) {
	pErr := asPenError(err)
	if strings.Contains(req.Header.Get("Accept"), "application/json") {
		renderError(w, pErr)
		return
	}
	msg := pErr.Message
	if pErr.Code == errors.ErrInternal {
		msg = internalMessage
	}
	r.renderPage(w, pErr.Status, "error", ErrorPageData{
		PageData: PageData{
			Title:   fmt.Sprintf("Error %d", pErr.Status),
			Version: r.version,
		},
		StatusCode: pErr.Status,
		Message:    msg,
	})
}

func asPenError(err error) *errors.PenError {
	if pErr, ok := errors.As(err); ok {
		return pErr
	}
	return errors.NewInternal(err)
}

// internalMessage replaces the message of INTERNAL errors sent to clients.
const internalMessage = "an internal error occurred"

// renderError writes the JSON error envelope.
func renderError(w http.ResponseWriter, err error) {
	pErr := asPenError(err)
	msg := pErr.Message
	if pErr.Code == errors.ErrInternal {
		msg = internalMessage
	}
	renderJSON(w, pErr.Status, map[string]any{
		"error": map[string]any{
			"code":    string(pErr.Code),
			"message": msg,
			"status":  pErr.Status,
		},
	})
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderMarkdown converts markdown text to HTML using goldmark. Raw HTML in
// the source is dropped by goldmark's default renderer.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}
