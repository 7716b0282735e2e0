package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/probelab/stacktrap/internal/api/middleware"
	"github.com/probelab/stacktrap/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	AdminAuth *mw.AdminAuth

	HealthHandler http.HandlerFunc
	IngestHandler http.HandlerFunc
	PingHandler   http.HandlerFunc

	CreateProject http.HandlerFunc
	ListProjects  http.HandlerFunc
	ListIssues    http.HandlerFunc
	IssueEvents   http.HandlerFunc
	UpdateIssue   http.HandlerFunc
}

// NewRouter builds the chi router with the middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Probe-facing routes; the project key in the path is the credential.
	r.Post("/api/v1/ingest/{projectKey}", orNotImplemented(deps.IngestHandler))
	r.Post("/api/v1/ping/{projectKey}", orNotImplemented(deps.PingHandler))

	// Admin routes
	r.Group(func(r chi.Router) {
		r.Use(deps.AdminAuth.Require)

		r.Post("/api/v1/admin/projects", orNotImplemented(deps.CreateProject))
		r.Get("/api/v1/admin/projects", orNotImplemented(deps.ListProjects))
		r.Get("/api/v1/admin/issues", orNotImplemented(deps.ListIssues))
		r.Get("/api/v1/admin/issues/{issueID}/events", orNotImplemented(deps.IssueEvents))
		r.Patch("/api/v1/admin/issues/{issueID}", orNotImplemented(deps.UpdateIssue))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
