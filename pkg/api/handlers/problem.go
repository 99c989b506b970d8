package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/meowith/meowith/pkg/merr"
)

// Problem is an RFC 7807 "problem details" response.
// https://tools.ietf.org/html/rfc7807
type Problem struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

const contentTypeProblemJSON = "application/problem+json"

// WriteProblem writes an RFC 7807 problem response.
func WriteProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", contentTypeProblemJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{Type: "about:blank", Title: title, Status: status, Detail: detail})
}

// WriteError maps a merr.Error (or any error, via merr.CodeOf) onto the
// HTTP status its Code carries and writes it as a problem response —
// the single place an error taxonomy kind collapses into a wire status.
func WriteError(w http.ResponseWriter, err error) {
	code := merr.CodeOf(err)
	WriteProblem(w, code.HTTPStatus(), code.String(), err.Error())
}

func BadRequest(w http.ResponseWriter, detail string) { WriteProblem(w, http.StatusBadRequest, "Bad Request", detail) }

func Unauthorized(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusUnauthorized, "Unauthorized", detail)
}

func NotFound(w http.ResponseWriter, detail string) { WriteProblem(w, http.StatusNotFound, "Not Found", detail) }

func InternalServerError(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", detail)
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func WriteJSONOK(w http.ResponseWriter, data any) { WriteJSON(w, http.StatusOK, data) }

func WriteNoContent(w http.ResponseWriter) { w.WriteHeader(http.StatusNoContent) }
