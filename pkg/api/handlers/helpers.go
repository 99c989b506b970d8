package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meowith/meowith/pkg/api/auth"
	"github.com/meowith/meowith/pkg/api/middleware"
)

// decodeJSONBody decodes a JSON request body into v, writing a 400
// response and returning false on failure.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "invalid request body")
		return false
	}
	return true
}

// pathParamUUID parses a chi URL param as a UUID, writing a 400 response
// and returning false on failure.
func pathParamUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		BadRequest(w, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// entryPath returns the wildcard tail of a route mounted with a
// {path…} (chi "*") capture, used by every file/directory endpoint whose
// path may itself contain slashes.
func entryPath(r *http.Request) string {
	return chi.URLParam(r, "*")
}

// requireClaims fetches the app-token claims AppTokenAuth verified,
// writing a 401 response and returning false if the middleware never ran
// (a route wired without it).
func requireClaims(w http.ResponseWriter, r *http.Request) (auth.Claims, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		Unauthorized(w, "missing app token claims")
	}
	return claims, ok
}
