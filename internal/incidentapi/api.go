// Package incidentapi exposes the incident service over HTTP.
package incidentapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/medlog/internal/authmw"
	"github.com/linnemanlabs/medlog/internal/incident"
)

// IncidentService defines the business operations incidentapi needs.
type IncidentService interface {
	Create(ctx context.Context, ownerID string, in incident.NewIncident) (*incident.Incident, error)
	Update(ctx context.Context, callerID, id string, p incident.Patch) (*incident.Incident, bool, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*incident.Incident, error)
	Get(ctx context.Context, callerID, id string) (*incident.Incident, bool, error)
	GenerateSummary(ctx context.Context, callerID, id string) (string, bool, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    IncidentService
}

// New creates a new API handler.
func New(logger log.Logger, svc IncidentService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("incident service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router. Every route expects
// authmw to have stored the caller on the request context.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/incidents", func(r chi.Router) {
		r.Post("/", a.handleCreate)
		r.Get("/", a.handleList)
		r.Get("/{id}", a.handleGet)
		r.Post("/{id}", a.handleUpdate)
		r.Patch("/{id}", a.handleUpdate)
		r.Post("/{id}/summary", a.handleSummarize)
	})
}

type messageResponse struct {
	Message  string             `json:"message"`
	Incident *incident.Incident `json:"incident,omitempty"`
	Summary  string             `json:"summary,omitempty"`
}

type errorResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	sub, ok := caller(w, r)
	if !ok {
		return
	}

	var req createRequest
	if !decode(w, r, &req) {
		return
	}

	inc, err := a.svc.Create(r.Context(), sub, req.toNewIncident())
	if err != nil {
		a.fail(w, r, err, "Failed to create incident", "op", "create")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("medlog.incident.id", inc.ID))
	writeJSON(w, http.StatusCreated, messageResponse{Message: "Incident created", Incident: inc})
}

func (a *API) handleUpdate(w http.ResponseWriter, r *http.Request) {
	sub, ok := caller(w, r)
	if !ok {
		return
	}
	id := incidentID(r)

	var req updateRequest
	if !decode(w, r, &req) {
		return
	}

	inc, found, err := a.svc.Update(r.Context(), sub, id, req.toPatch())
	if err != nil {
		a.fail(w, r, err, "Failed to update incident", "op", "update", "id", id)
		return
	}
	if !found {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Incident updated", Incident: inc})
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	sub, ok := caller(w, r)
	if !ok {
		return
	}

	list, err := a.svc.ListByOwner(r.Context(), sub)
	if err != nil {
		a.fail(w, r, err, "Failed to fetch incidents", "op", "list")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	sub, ok := caller(w, r)
	if !ok {
		return
	}
	id := incidentID(r)

	inc, found, err := a.svc.Get(r.Context(), sub, id)
	if err != nil {
		a.fail(w, r, err, "Failed to fetch incident", "op", "get", "id", id)
		return
	}
	if !found {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleSummarize(w http.ResponseWriter, r *http.Request) {
	sub, ok := caller(w, r)
	if !ok {
		return
	}
	id := incidentID(r)

	summary, found, err := a.svc.GenerateSummary(r.Context(), sub, id)
	if err != nil {
		a.fail(w, r, err, "Failed to generate summary", "op", "summarize", "id", id)
		return
	}
	if !found {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Summary generated", Summary: summary})
}

// fail maps a service error to a response. Only invalid input is echoed
// back; anything unexpected is logged and answered with msg.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error, msg string, kv ...any) {
	switch {
	case errors.Is(err, incident.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, incident.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "Forbidden"})
	default:
		a.logger.Error(r.Context(), err, msg, kv...)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msg})
	}
}

// caller returns the verified subject ID, answering 401 when the request
// did not pass through authmw.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	sub, ok := authmw.SubjectFromContext(r.Context())
	if !ok || sub.ID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return "", false
	}
	return sub.ID, true
}

func incidentID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("medlog.incident.id", id))
	return id
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, messageResponse{Message: "Incident not found"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}
