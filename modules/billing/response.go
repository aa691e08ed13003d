package billing

import (
	"encoding/json"
	"net/http"

	"github.com/advogo/billingcore/pkg/errorx"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// respondError maps the domain error taxonomy onto HTTP statuses.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errorx.IsNotFound(err):
		respondJSON(w, http.StatusNotFound, errorBody{Code: "not_found", Message: err.Error()})
	case errorx.IsConflict(err):
		respondJSON(w, http.StatusConflict, errorBody{Code: "conflict", Message: err.Error()})
	case errorx.IsInvalidTransition(err):
		respondJSON(w, http.StatusUnprocessableEntity, errorBody{Code: "invalid_transition", Message: err.Error()})
	case errorx.IsUpstream(err):
		respondJSON(w, http.StatusBadGateway, errorBody{Code: "upstream_error", Message: "payment provider unavailable"})
	default:
		respondJSON(w, http.StatusInternalServerError, errorBody{Code: "internal_error", Message: "internal error"})
	}
}

func respondBadRequest(w http.ResponseWriter, msg string) {
	respondJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondBadRequest(w, "malformed request body")
		return false
	}
	return true
}
