// Package frontdoor holds the HTTP surfaces of the relay. Each surface
// exposes its routes as HandlerRegistrations so the server can mount them
// without knowing their handlers.
package frontdoor

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/polyglot-relay/internal/core/domain"
)

// HandlerRegistration represents a registered HTTP handler.
type HandlerRegistration struct {
	Path    string
	Method  string
	Handler http.HandlerFunc
}

// Mount registers every handler on r.
func Mount(r chi.Router, regs []HandlerRegistration) {
	for _, reg := range regs {
		r.Method(reg.Method, reg.Path, reg.Handler)
	}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes err as {"error": {...}} with its HTTP status.
func WriteError(w http.ResponseWriter, err *domain.APIError) {
	WriteJSON(w, err.HTTPStatusCode(), struct {
		Error *domain.APIError `json:"error"`
	}{err})
}
