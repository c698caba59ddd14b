package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/synnergy/hostnode/internal/errs"
)

// errorResponse is the JSON body every handler returns on failure, the
// HTTP-side sibling of the WebSocket `error{code,message}` frame (spec
// §4.10.2, §7).
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errs.HTTPStatus(kind))
	json.NewEncoder(w).Encode(errorResponse{Code: errs.WSCode(kind), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
