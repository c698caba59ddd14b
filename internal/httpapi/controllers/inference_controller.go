package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/synnergy/hostnode/internal/errs"
	"github.com/synnergy/hostnode/internal/httpapi/services"
)

// InferenceController serves the non-streaming convenience inference
// endpoint (spec §6.2). Sessions and streaming live entirely in the
// WebSocket protocol; this is the "one-shot, no session" door for callers
// that don't need a persistent connection.
type InferenceController struct {
	svc *services.InferenceService
}

func NewInferenceController(svc *services.InferenceService) *InferenceController {
	return &InferenceController{svc: svc}
}

type inferenceRequest struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

func (c *InferenceController) Create(w http.ResponseWriter, r *http.Request) {
	var req inferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.KindInternalError, "malformed request body"))
		return
	}
	if req.Prompt == "" {
		writeError(w, errs.New(errs.KindEmptyTexts, "prompt must not be empty"))
		return
	}
	res, err := c.svc.Inference(r.Context(), req.Prompt, req.MaxTokens)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}
