package httpapi

import (
	"github.com/gorilla/mux"
)

// NewRouter mounts the full API surface on a gorilla/mux router.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.liveness).Methods("GET")

	r.HandleFunc("/entities", h.registerEntity).Methods("POST")
	r.HandleFunc("/entities", h.listRoots).Methods("GET")
	r.HandleFunc("/entities/{id}", h.getEntity).Methods("GET")
	r.HandleFunc("/entities/{id}", h.detachEntity).Methods("DELETE")
	r.HandleFunc("/entities/{id}/parent", h.reparentEntity).Methods("PUT")

	r.HandleFunc("/entities/{id}/readings", h.submitReading).Methods("POST")

	r.HandleFunc("/entities/{id}/health", h.getHealth).Methods("GET")
	r.HandleFunc("/entities/{id}/traits", h.getTraits).Methods("GET")
	r.HandleFunc("/entities/{id}/budgets", h.validateBudgets).Methods("GET")
	r.HandleFunc("/alerts", h.listAlerts).Methods("GET")

	return r
}
