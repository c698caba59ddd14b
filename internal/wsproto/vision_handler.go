package wsproto

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/synnergy/hostnode/internal/errs"
	"github.com/synnergy/hostnode/internal/inference"
)

// handleVision services the standalone ocr / describe_image messages (spec
// §4.10.1): VLM first, ONNX fallback second, the same contract as the
// vision pre-processing pipeline embedded in runInference, just without
// folding the result into a prompt.
func (r *Router) handleVision(ctx context.Context, sender Sender, raw []byte, ocr bool) error {
	var msg VisionRequest
	if err := json.Unmarshal(raw, &msg); err != nil {
		sendError(sender, errs.New(errs.KindInternalError, "malformed vision request"))
		return nil
	}
	sess, err := r.deps.Sessions.Get(msg.SessionID)
	if err != nil {
		sendError(sender, err)
		return nil
	}

	dataURL := fmt.Sprintf("data:image/%s;base64,%s", msg.Format, msg.Image)

	if r.deps.Vlm != nil {
		if res, ok := r.callVlm(ctx, dataURL, msg, ocr); ok {
			sess.AddVLMTokens(uint64(res.TokensUsed))
			_ = sender.Send(visionResponse(msg, res, ocr))
			return nil
		}
	}
	if r.deps.Onnx == nil {
		sendError(sender, errs.New(errs.KindModelNotFound, "no vision backend available"))
		return nil
	}

	res, err := r.callOnnx(msg, ocr)
	if err != nil {
		sendError(sender, err)
		return nil
	}
	_ = sender.Send(visionResponse(msg, res, ocr))
	return nil
}

func (r *Router) callVlm(ctx context.Context, dataURL string, msg VisionRequest, ocr bool) (inference.VisionResult, bool) {
	if ocr {
		return r.deps.Vlm.OCR(ctx, dataURL, msg.Format)
	}
	return r.deps.Vlm.Describe(ctx, dataURL, msg.Format, detailOrDefault(msg.Detail), msg.CustomPrompt)
}

func (r *Router) callOnnx(msg VisionRequest, ocr bool) (inference.VisionResult, error) {
	if ocr {
		return r.deps.Onnx.OCR([]byte(msg.Image), msg.Format)
	}
	return r.deps.Onnx.Describe([]byte(msg.Image), msg.Format, detailOrDefault(msg.Detail))
}

func detailOrDefault(detail string) string {
	if detail == "" {
		return "auto"
	}
	return detail
}

func visionResponse(msg VisionRequest, res inference.VisionResult, ocr bool) VisionResponse {
	msgType := "describe_image_result"
	if ocr {
		msgType = "ocr_result"
	}
	return VisionResponse{
		Type:         msgType,
		SessionID:    msg.SessionID,
		Text:         res.Text,
		Model:        res.Model,
		Provider:     res.Provider,
		ProcessingMs: res.ProcessingMs,
	}
}
