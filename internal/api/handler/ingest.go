// Package handler wires HTTP requests to the ingestion engine and the store.
// Handlers validate transport-level shape only; field semantics belong to the
// engine.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/probelab/stacktrap/internal/api/response"
	"github.com/probelab/stacktrap/internal/ingest"
	"github.com/probelab/stacktrap/pkg/models"
)

// Ingester is the engine surface the ingestion handlers depend on.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.IngestRequest) (*ingest.Receipt, error)
	Ping(ctx context.Context, req ingest.PingRequest) error
}

// NewIngestHandler handles POST /api/v1/ingest/{projectKey}.
func NewIngestHandler(engine Ingester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var report models.Report
		if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		receipt, err := engine.Ingest(r.Context(), ingest.IngestRequest{
			ProjectKey: chi.URLParam(r, "projectKey"),
			Origin:     r.Header.Get("Origin"),
			IP:         clientIP(r),
			UserAgent:  r.UserAgent(),
			Ts:         time.Now(),
			Report:     report,
		})
		if err != nil {
			writeDenial(w, err)
			return
		}

		response.Accepted(w, map[string]any{
			"issue_id":   receipt.IssueID,
			"new":        receipt.NewIssue,
			"suppressed": receipt.Suppressed,
		})
	}
}

// NewPingHandler handles POST /api/v1/ping/{projectKey}, the session beacon.
func NewPingHandler(engine Ingester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := engine.Ping(r.Context(), ingest.PingRequest{
			ProjectKey: chi.URLParam(r, "projectKey"),
			Origin:     r.Header.Get("Origin"),
			IP:         clientIP(r),
			UserAgent:  r.UserAgent(),
			Ts:         time.Now(),
		})
		if err != nil {
			writeDenial(w, err)
			return
		}
		response.NoContent(w)
	}
}

// writeDenial maps engine denials to response codes. Denials were already
// counted by the engine; nothing here logs payload contents.
func writeDenial(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrUnknownProject):
		response.Error(w, http.StatusForbidden, "UNKNOWN_PROJECT", "Unknown project key", nil)
	case errors.Is(err, ingest.ErrOriginDenied):
		response.Error(w, http.StatusForbidden, "ORIGIN_DENIED", "Origin not allow-listed", nil)
	case errors.Is(err, ingest.ErrStackTooLong):
		response.Error(w, http.StatusRequestEntityTooLarge, "STACK_TOO_LONG", "Stack text exceeds limit", nil)
	case errors.Is(err, ingest.ErrPayloadTooLarge):
		response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Event exceeds size budget", nil)
	case errors.Is(err, ingest.ErrInvalidReport):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Report field invalid", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the peer
// address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.Index(fwd, ","); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
