package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/synnergy/hostnode/internal/errs"
	"github.com/synnergy/hostnode/internal/httpapi/config"
	"github.com/synnergy/hostnode/internal/httpapi/services"
)

// EmbedController serves POST /v1/embed (spec §6.2).
type EmbedController struct {
	svc *services.InferenceService
}

func NewEmbedController(svc *services.InferenceService) *EmbedController {
	return &EmbedController{svc: svc}
}

type embedRequest struct {
	Texts   []string `json:"texts"`
	Model   string   `json:"model"`
	ChainID uint64   `json:"chain_id"`
}

func (c *EmbedController) Create(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.KindInternalError, "malformed request body"))
		return
	}
	chainID := req.ChainID
	if chainID == 0 {
		chainID = config.AppConfig.DefaultChainID
	}
	res, err := c.svc.Embed(r.Context(), req.Texts, chainID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}
