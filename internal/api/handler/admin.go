package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/probelab/stacktrap/internal/api/response"
	"github.com/probelab/stacktrap/internal/store"
	"github.com/probelab/stacktrap/pkg/models"
)

// NewCreateProjectHandler handles POST /api/v1/admin/projects.
func NewCreateProjectHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Key    string `json:"key"`
			Name   string `json:"name"`
			Origin string `json:"origin"`
			Scrape bool   `json:"scrape"`
			Tags   string `json:"tags"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Key == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "key is required", nil)
			return
		}
		if req.Origin == "" {
			req.Origin = "*"
		}

		project := &models.Project{
			Key:    req.Key,
			Name:   req.Name,
			Origin: req.Origin,
			Scrape: req.Scrape,
			Tags:   req.Tags,
		}
		if err := s.CreateProject(r.Context(), project); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, http.StatusConflict, "DUPLICATE_KEY", "Project key already exists", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create project", nil)
			return
		}
		response.Created(w, project)
	}
}

// NewListProjectsHandler handles GET /api/v1/admin/projects.
func NewListProjectsHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := s.ListProjects(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list projects", nil)
			return
		}
		if projects == nil {
			projects = []*models.Project{}
		}
		response.JSON(w, projects)
	}
}

// NewListIssuesHandler handles GET /api/v1/admin/issues?project_id=N.
func NewListIssuesHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, err := strconv.ParseInt(r.URL.Query().Get("project_id"), 10, 64)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "project_id must be an integer", nil)
			return
		}
		issues, err := s.ListIssues(r.Context(), projectID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list issues", nil)
			return
		}
		if issues == nil {
			issues = []*models.Issue{}
		}
		response.JSON(w, issues)
	}
}

// NewIssueEventsHandler handles GET /api/v1/admin/issues/{issueID}/events.
func NewIssueEventsHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		issueID, err := strconv.ParseInt(chi.URLParam(r, "issueID"), 10, 64)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "issue id must be an integer", nil)
			return
		}
		events, err := s.ListIssueEvents(r.Context(), issueID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list events", nil)
			return
		}

		out := make([]map[string]any, 0, len(events))
		for _, e := range events {
			var payload models.EventPayload
			_ = json.Unmarshal(e.Data, &payload)
			out = append(out, map[string]any{
				"id":   e.ID,
				"ts":   e.Ts,
				"type": e.Type,
				"data": payload,
			})
		}
		response.JSON(w, out)
	}
}

// NewUpdateIssueHandler handles PATCH /api/v1/admin/issues/{issueID}:
// toggling the ignore and done flags.
func NewUpdateIssueHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		issueID, err := strconv.ParseInt(chi.URLParam(r, "issueID"), 10, 64)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "issue id must be an integer", nil)
			return
		}

		var req struct {
			Ignore *bool `json:"ignore"`
			Done   *bool `json:"done"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Ignore == nil && req.Done == nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "nothing to update", nil)
			return
		}

		if req.Ignore != nil {
			if err := s.SetIssueIgnored(r.Context(), issueID, *req.Ignore); err != nil {
				writeIssueError(w, err)
				return
			}
		}
		if req.Done != nil {
			if err := s.SetIssueDone(r.Context(), issueID, *req.Done); err != nil {
				writeIssueError(w, err)
				return
			}
		}

		issue, err := s.GetIssue(r.Context(), issueID)
		if err != nil {
			writeIssueError(w, err)
			return
		}
		response.JSON(w, issue)
	}
}

func writeIssueError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Issue not found", nil)
		return
	}
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update issue", nil)
}
