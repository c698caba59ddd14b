package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/synnergy/hostnode/internal/errs"
	"github.com/synnergy/hostnode/internal/httpapi/services"
)

// VisionController serves POST /v1/ocr and POST /v1/describe-image (spec
// §6.2), the non-session HTTP door onto the same VLM-first/ONNX-fallback
// policy the WebSocket vision handler applies inline.
type VisionController struct {
	svc *services.InferenceService
}

func NewVisionController(svc *services.InferenceService) *VisionController {
	return &VisionController{svc: svc}
}

type ocrRequest struct {
	Image  string `json:"image"`
	Format string `json:"format"`
}

func (c *VisionController) OCR(w http.ResponseWriter, r *http.Request) {
	var req ocrRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.KindInternalError, "malformed request body"))
		return
	}
	if req.Image == "" {
		writeError(w, errs.New(errs.KindEmptyTexts, "image must not be empty"))
		return
	}
	res, err := c.svc.OCR(r.Context(), req.Image, req.Format)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

type describeImageRequest struct {
	Image  string `json:"image"`
	Format string `json:"format"`
	Detail string `json:"detail"`
	Prompt string `json:"prompt"`
}

func (c *VisionController) DescribeImage(w http.ResponseWriter, r *http.Request) {
	var req describeImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.KindInternalError, "malformed request body"))
		return
	}
	if req.Image == "" {
		writeError(w, errs.New(errs.KindEmptyTexts, "image must not be empty"))
		return
	}
	switch req.Detail {
	case "brief", "detailed", "comprehensive", "":
	default:
		writeError(w, errs.New(errs.KindInvalidPath, "detail must be one of brief, detailed, comprehensive"))
		return
	}
	res, err := c.svc.DescribeImage(r.Context(), req.Image, req.Format, req.Detail, req.Prompt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}
