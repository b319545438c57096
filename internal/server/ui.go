package server

import (
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sitepipe/internal/core"
)

var statusPage = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Label}}</title></head>
<body>
<h1>{{.Label}}</h1>
<p>Run {{.RunID}} ({{.State}}) started {{.StartedAt.Format "2006-01-02T15:04:05Z07:00"}}</p>
<table>
<tr><th>category</th><th>trigger</th><th>written</th><th>skipped</th><th>duration</th></tr>
{{range .Stages}}<tr><td>{{.Category}}</td><td>{{.Trigger}}</td><td>{{len .Written}}</td><td>{{len .Skipped}}</td><td>{{.DurationMS}}ms</td></tr>
{{end}}</table>
<form method="post" action="/api/reload"><button type="submit">Reload clients</button></form>
</body>
</html>
`))

// uiRouter builds the companion UI.
func (s *Server) uiRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/output", s.handleOutput)
	r.Post("/api/reload", s.handleReload)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) status() Status {
	if s.Status == nil {
		return Status{Variant: string(s.Variant), Label: s.Config.LogLabel}
	}
	return s.Status.Status()
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusPage.Execute(w, s.status()); err != nil {
		s.log().Warn("Failed to render status page", "error", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleOutput(w http.ResponseWriter, _ *http.Request) {
	entries, err := core.ListTree(s.Root)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"root": s.Variant, "files": entries})
}

func (s *Server) handleReload(w http.ResponseWriter, _ *http.Request) {
	s.Hub.Reload()
	writeJSON(w, http.StatusAccepted, map[string]any{"clients": s.Hub.Clients()})
}
