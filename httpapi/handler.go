// Package httpapi exposes the diagnostics engine over HTTP: entity
// registration and forest maintenance, reading ingestion, and the health,
// trait, alert and budget query surface.
//
// The API is JSON over a gorilla/mux router. Alert deduplication lives here
// rather than in the engine: the engine re-derives identical alerts on every
// evaluation cycle, and this layer assigns them stable ids and remembers
// which conditions have already been reported.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/danielorbach/go-component"
	"github.com/gorilla/mux"

	"github.com/go-diagnostics/go-diagnostics"
)

// A Handler holds the dependencies of the HTTP handlers.
type Handler struct {
	engine *diagnostics.Engine
	alerts *alertLog
}

// NewHandler wires the HTTP surface over an engine.
func NewHandler(engine *diagnostics.Engine) *Handler {
	return &Handler{engine: engine, alerts: newAlertLog()}
}

type registerRequest struct {
	ID         diagnostics.EntityID `json:"id"`
	Kind       string               `json:"kind"`
	Name       string               `json:"name,omitempty"`
	ParentID   diagnostics.EntityID `json:"parent_id,omitempty"`
	Attributes map[string]float64   `json:"attributes,omitempty"`
	Budgets    []budgetPayload      `json:"budgets,omitempty"`
}

type budgetPayload struct {
	Attribute string  `json:"attribute"`
	Limit     float64 `json:"limit"`
	Unit      string  `json:"unit,omitempty"`
}

func (h *Handler) registerEntity(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	spec := diagnostics.EntitySpec{
		ID:         req.ID,
		Name:       req.Name,
		ParentID:   req.ParentID,
		Attributes: req.Attributes,
	}
	switch req.Kind {
	case "leaf":
		spec.Kind = diagnostics.KindLeaf
	case "composite":
		spec.Kind = diagnostics.KindComposite
	default:
		http.Error(w, "kind must be leaf or composite", http.StatusBadRequest)
		return
	}
	for _, b := range req.Budgets {
		spec.Budgets = append(spec.Budgets, diagnostics.Budget{
			Attribute: b.Attribute, Limit: b.Limit, Unit: b.Unit,
		})
	}

	if err := h.engine.RegisterEntity(r.Context(), spec); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) getEntity(w http.ResponseWriter, r *http.Request) {
	id := diagnostics.EntityID(mux.Vars(r)["id"])
	entity, err := h.engine.Entity(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, formatEntity(entity))
}

func (h *Handler) listRoots(w http.ResponseWriter, r *http.Request) {
	roots, err := h.engine.Roots(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]entityPayload, 0, len(roots))
	for _, e := range roots {
		out = append(out, formatEntity(e))
	}
	writeJSON(w, out)
}

func (h *Handler) detachEntity(w http.ResponseWriter, r *http.Request) {
	id := diagnostics.EntityID(mux.Vars(r)["id"])
	force := r.URL.Query().Get("force") == "true"
	if err := h.engine.Detach(r.Context(), id, force); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reparentRequest struct {
	ParentID diagnostics.EntityID `json:"parent_id"`
}

func (h *Handler) reparentEntity(w http.ResponseWriter, r *http.Request) {
	id := diagnostics.EntityID(mux.Vars(r)["id"])
	var req reparentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := h.engine.Reparent(r.Context(), id, req.ParentID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type readingRequest struct {
	Value float64 `json:"value"`
	// Timestamp is optional RFC 3339; a missing timestamp is stamped with
	// the ingest instant.
	Timestamp time.Time `json:"timestamp,omitempty"`
	Quality   float64   `json:"quality,omitempty"`
}

func (h *Handler) submitReading(w http.ResponseWriter, r *http.Request) {
	id := diagnostics.EntityID(mux.Vars(r)["id"])
	var req readingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	reading := diagnostics.Reading{
		Value:     req.Value,
		Timestamp: req.Timestamp,
		Quality:   req.Quality,
	}
	if err := h.engine.SubmitReading(r.Context(), id, reading); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) getHealth(w http.ResponseWriter, r *http.Request) {
	id := diagnostics.EntityID(mux.Vars(r)["id"])
	record, err := h.engine.GetHealth(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, formatHealth(record))
}

func (h *Handler) getTraits(w http.ResponseWriter, r *http.Request) {
	id := diagnostics.EntityID(mux.Vars(r)["id"])

	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "window must be a positive duration", http.StatusBadRequest)
			return
		}
		window = parsed
	}

	snapshot, err := h.engine.GetTraits(r.Context(), id, window)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, formatTraits(&snapshot))
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	var roots []diagnostics.EntityID
	for _, root := range r.URL.Query()["root"] {
		roots = append(roots, diagnostics.EntityID(root))
	}

	alerts, err := h.engine.ListAlerts(r.Context(), roots...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	// The reconciliation happens on every call so that cleared conditions
	// re-arm, even when the caller only ever asks for fresh alerts.
	observed := h.alerts.reconcile(alerts)
	if r.URL.Query().Get("fresh") == "true" {
		fresh := observed[:0]
		for _, a := range observed {
			if a.Fresh {
				fresh = append(fresh, a)
			}
		}
		observed = fresh
	}
	writeJSON(w, observed)
}

func (h *Handler) validateBudgets(w http.ResponseWriter, r *http.Request) {
	id := diagnostics.EntityID(mux.Vars(r)["id"])
	reports, err := h.engine.ValidateBudgets(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]budgetReportPayload, 0, len(reports))
	for _, report := range reports {
		out = append(out, formatBudgetReport(report))
	}
	writeJSON(w, out)
}

func (h *Handler) liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// writeError maps the engine's error taxonomy onto HTTP status codes.
// Structural sentinels are client errors; everything else is a server
// failure that gets logged but not echoed to the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, diagnostics.ErrUnknownEntity):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, diagnostics.ErrDuplicateEntity),
		errors.Is(err, diagnostics.ErrHasChildren),
		errors.Is(err, diagnostics.ErrCycleDetected):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, diagnostics.ErrUnknownParent),
		errors.Is(err, diagnostics.ErrNotLeaf):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		component.Logger(r.Context()).Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
