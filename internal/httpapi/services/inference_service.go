// Package services implements the business logic behind the HTTP gateway's
// handlers (spec §6.2): request validation, backend selection, and the
// VLM-first/ONNX-fallback policy shared with the WebSocket protocol's vision
// pipeline. Grounded in the teacher's walletserver/services split — one
// service struct wrapping the domain's core engines, controllers stay thin.
package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/synnergy/hostnode/internal/chainreg"
	"github.com/synnergy/hostnode/internal/contractgw"
	"github.com/synnergy/hostnode/internal/errs"
	"github.com/synnergy/hostnode/internal/inference"
	"github.com/synnergy/hostnode/internal/metrics"
	"github.com/synnergy/hostnode/internal/session"
	"github.com/synnergy/hostnode/internal/vectorstore"
)

const (
	maxEmbedTexts     = 96
	maxEmbedTextChars = 8192
	embeddingModel    = "all-MiniLM-L6-v2"
)

// InferenceService wraps the node's inference/vision/chain backends for the
// embedded HTTP surface. Every dependency is optional except Registry — a
// node may run without a VLM sidecar or without ONNX, degrading the
// corresponding endpoints to clear errors instead of panics.
type InferenceService struct {
	Llm      *inference.LlmEngine
	Vlm      *inference.VlmClient
	Onnx     *inference.OnnxFallback
	Pool     *inference.WorkerPool
	Registry *chainreg.Registry
	Gateway  *contractgw.Gateway
	Bridge   *vectorstore.Client
	Keys     *session.KeyStore

	OnnxSharedLib string
	ModelName     string
}

// InferenceResult is the /v1/inference response payload.
type InferenceResult struct {
	Text             string `json:"text"`
	PromptTokens     int    `json:"promptTokens"`
	CompletionTokens int    `json:"completionTokens"`
	Model            string `json:"model"`
}

// Inference runs a single non-streaming completion (spec §6.2).
func (s *InferenceService) Inference(ctx context.Context, prompt string, maxTokens int) (InferenceResult, error) {
	if s.Llm == nil {
		return InferenceResult{}, errs.New(errs.KindModelNotFound, "no local model loaded on this host")
	}
	if maxTokens <= 0 {
		maxTokens = 512
	}
	req := inference.GenerateRequest{
		Messages:  []inference.ChatMessage{{Role: inference.RoleUser, Content: prompt}},
		MaxTokens: maxTokens,
	}
	res, err := s.Llm.Generate(ctx, req)
	if err != nil {
		return InferenceResult{}, err
	}
	metrics.InferenceTokensTotal.WithLabelValues("completion").Add(float64(res.CompletionTokens))
	return InferenceResult{
		Text:             res.Text,
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
		Model:            s.ModelName,
	}, nil
}

// EmbedResult is the /v1/embed response payload. Field names are camelCase
// per spec §6.2's explicit wire-format requirement.
type EmbedResult struct {
	Embeddings  [][]float32 `json:"embeddings"`
	Model       string      `json:"model"`
	Provider    string      `json:"provider"`
	TokenCount  int         `json:"tokenCount"`
	TotalTokens int         `json:"totalTokens"`
	Cost        float64     `json:"cost"`
	ChainID     uint64      `json:"chain_id"`
	ChainName   string      `json:"chain_name"`
	NativeToken string      `json:"native_token"`
}

// Embed validates and runs an embedding batch against the ONNX backend
// (spec §6.2, P4: every returned vector is 384-dim).
func (s *InferenceService) Embed(ctx context.Context, texts []string, chainID uint64) (EmbedResult, error) {
	if len(texts) == 0 {
		return EmbedResult{}, errs.New(errs.KindEmptyTexts, "texts must contain at least one entry")
	}
	if len(texts) > maxEmbedTexts {
		return EmbedResult{}, errs.New(errs.KindTooManyTexts, fmt.Sprintf("at most %d texts accepted, got %d", maxEmbedTexts, len(texts)))
	}
	for _, t := range texts {
		if len(t) > maxEmbedTextChars {
			return EmbedResult{}, errs.New(errs.KindTextTooLong, fmt.Sprintf("text exceeds %d characters", maxEmbedTextChars))
		}
	}
	chain, err := s.Registry.Lookup(chainID)
	if err != nil {
		return EmbedResult{}, err
	}
	if s.Onnx == nil {
		return EmbedResult{}, errs.New(errs.KindModelNotFound, "no embedding backend configured on this host")
	}

	var results []inference.EmbedResult
	runErr := s.Pool.Submit(ctx, func() error {
		var e error
		results, e = s.Onnx.EmbedBatch(texts, s.OnnxSharedLib)
		return e
	})
	if runErr != nil {
		return EmbedResult{}, runErr
	}

	vectors := make([][]float32, len(results))
	totalTokens := 0
	for i, r := range results {
		vectors[i] = r.Vector
		totalTokens += len(texts[i]) / 4 // whitespace-agnostic token estimate for the embedding path
	}
	return EmbedResult{
		Embeddings:  vectors,
		Model:       embeddingModel,
		Provider:    "host",
		TokenCount:  totalTokens,
		TotalTokens: totalTokens,
		Cost:        0.0,
		ChainID:     chain.ChainID,
		ChainName:   chain.Name,
		NativeToken: chain.NativeToken.Symbol,
	}, nil
}

// VisionResult is the /v1/ocr and /v1/describe-image response payload.
type VisionResult struct {
	Text          string `json:"text"`
	Model         string `json:"model"`
	Provider      string `json:"provider"`
	ProcessingMs  int64  `json:"processingMs"`
}

// OCR extracts text from a base64-encoded image, VLM-first with ONNX
// fallback (spec §6.2, P8).
func (s *InferenceService) OCR(ctx context.Context, imageB64, format string) (VisionResult, error) {
	imageBytes, err := base64.StdEncoding.DecodeString(imageB64)
	if err != nil {
		return VisionResult{}, errs.Wrap(errs.KindInvalidHexEncoding, err, "decode base64 image")
	}
	if s.Vlm != nil {
		dataURL := fmt.Sprintf("data:image/%s;base64,%s", format, imageB64)
		if res, ok := s.Vlm.OCR(ctx, dataURL, format); ok {
			return VisionResult{Text: res.Text, Model: res.Model, Provider: "vlm", ProcessingMs: res.ProcessingMs}, nil
		}
	}
	if s.Onnx == nil {
		return VisionResult{}, errs.New(errs.KindModelNotFound, "no vision backend available")
	}
	start := time.Now()
	res, err := s.Onnx.OCR(imageBytes, format)
	if err != nil {
		return VisionResult{}, err
	}
	return VisionResult{Text: res.Text, Model: res.Model, Provider: res.Provider, ProcessingMs: time.Since(start).Milliseconds()}, nil
}

// DescribeImage produces an image description, VLM-first with ONNX
// fallback (spec §6.2, P8).
func (s *InferenceService) DescribeImage(ctx context.Context, imageB64, format, detail, prompt string) (VisionResult, error) {
	imageBytes, err := base64.StdEncoding.DecodeString(imageB64)
	if err != nil {
		return VisionResult{}, errs.Wrap(errs.KindInvalidHexEncoding, err, "decode base64 image")
	}
	if detail == "" {
		detail = "detailed"
	}
	if s.Vlm != nil {
		dataURL := fmt.Sprintf("data:image/%s;base64,%s", format, imageB64)
		if res, ok := s.Vlm.Describe(ctx, dataURL, format, detail, prompt); ok {
			return VisionResult{Text: res.Text, Model: res.Model, Provider: "vlm", ProcessingMs: res.ProcessingMs}, nil
		}
	}
	if s.Onnx == nil {
		return VisionResult{}, errs.New(errs.KindModelNotFound, "no vision backend available")
	}
	start := time.Now()
	res, err := s.Onnx.Describe(imageBytes, format, detail)
	if err != nil {
		return VisionResult{}, err
	}
	return VisionResult{Text: res.Text, Model: res.Model, Provider: res.Provider, ProcessingMs: time.Since(start).Milliseconds()}, nil
}

// ModelInfo is one GET /v1/models row.
type ModelInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Provider string `json:"provider"`
}

// ListModels returns the embedding or inference model catalogue (spec
// §6.2). An unrecognized or empty modelType returns every model.
func (s *InferenceService) ListModels(modelType string) []ModelInfo {
	var out []ModelInfo
	all := modelType != "embedding" && modelType != "inference"
	if (all || modelType == "embedding") && s.Onnx != nil {
		out = append(out, ModelInfo{Name: embeddingModel, Type: "embedding", Provider: "host"})
	}
	if (all || modelType == "inference") && s.Llm != nil {
		out = append(out, ModelInfo{Name: s.ModelName, Type: "inference", Provider: "host"})
	}
	return out
}

// HealthStatus is the GET /health response payload, combining
// VectorStoreClient bridge health, LLM engine load state, and the set of
// chains this node is configured to serve (spec §10's supplemented
// Health() aggregate).
type HealthStatus struct {
	Status        string   `json:"status"`
	LlmLoaded     bool     `json:"llmLoaded"`
	VlmConfigured bool     `json:"vlmConfigured"`
	OnnxAvailable bool     `json:"onnxAvailable"`
	BridgeHealthy bool     `json:"bridgeHealthy"`
	ActiveChains  []uint64 `json:"activeChains"`
}

// Health aggregates the liveness signals the /health endpoint reports. The
// bridge check is best-effort and never blocks longer than a few seconds;
// chain RPC liveness is not probed here since a transient RPC hiccup should
// never flip the node's own health to down (contractgw already retries
// transient failures on the calls that matter).
func (s *InferenceService) Health(ctx context.Context) HealthStatus {
	bridgeHealthy := true
	if s.Bridge != nil {
		bridgeHealthy = s.Bridge.Health(ctx) == nil
	}
	status := "ok"
	if !bridgeHealthy {
		status = "degraded"
	}
	return HealthStatus{
		Status:        status,
		LlmLoaded:     s.Llm != nil,
		VlmConfigured: s.Vlm != nil,
		OnnxAvailable: s.Onnx != nil,
		BridgeHealthy: bridgeHealthy,
		ActiveChains:  s.Registry.Known(),
	}
}

// SessionKeyMetrics backs GET /v1/metrics/session_keys.
func (s *InferenceService) SessionKeyMetrics() session.KeyStoreStats {
	return s.Keys.Stats()
}
