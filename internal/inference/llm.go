package inference

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/synnergy/hostnode/internal/errs"
)

// ContextOptions carries the KV-cache and attention hints spec §4.4.1
// requires context creation to accept.
type ContextOptions struct {
	KVCacheQuantized bool
	FlashAttention   bool
}

// Backend is the polymorphic capability set spec §4.4.1 names:
// load_model, generate, generate_stream, count_tokens, unload. The
// deterministic StubBackend (stub_backend.go) is the only implementation in
// this repository; no local GGUF backend is included.
type Backend interface {
	LoadModel(ctx context.Context, path string, opts ContextOptions) error
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)
	GenerateStream(ctx context.Context, req GenerateRequest) (<-chan Token, error)
	CountTokens(text string) int
	Unload() error
}

// LlmEngine wraps a Backend with the context-creation retry policy and
// chat-template resolution spec §4.4.1 mandates, independent of which
// concrete backend is loaded.
type LlmEngine struct {
	backend Backend
	loaded  bool
}

func NewLlmEngine(backend Backend) *LlmEngine {
	return &LlmEngine{backend: backend}
}

// LoadModel creates the inference context with opts. If creation fails
// while requesting a quantized KV cache, it MUST transparently retry once
// with the default f16 cache and emit a warning (spec §4.4.1) — never
// surface the quantized-cache failure to the caller if the f16 retry
// succeeds.
func (e *LlmEngine) LoadModel(ctx context.Context, path string, opts ContextOptions) error {
	logger := zap.L().Sugar()
	err := e.backend.LoadModel(ctx, path, opts)
	if err != nil && opts.KVCacheQuantized {
		logger.Warnw("quantized kv cache context creation failed, retrying with f16", "model", path, "error", err)
		opts.KVCacheQuantized = false
		err = e.backend.LoadModel(ctx, path, opts)
	}
	if err != nil {
		return errs.Wrap(errs.KindInternalError, err, "load model")
	}
	e.loaded = true
	return nil
}

func (e *LlmEngine) resolved(req GenerateRequest) GenerateRequest {
	req.ChatTemplate = ParseChatTemplate(string(req.ChatTemplate))
	req.StopTokens = StopTokens(req.ChatTemplate, req.StopTokens)
	req.Prompt = RenderPrompt(req)
	return req
}

// Generate runs a non-streaming completion.
func (e *LlmEngine) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	if !e.loaded {
		return GenerateResult{}, errs.New(errs.KindModelNotFound, "no model loaded")
	}
	return e.backend.Generate(ctx, e.resolved(req))
}

// GenerateStream runs a streaming completion: a finite, not-restartable
// sequence of tokens (spec §4.4.1).
func (e *LlmEngine) GenerateStream(ctx context.Context, req GenerateRequest) (<-chan Token, error) {
	if !e.loaded {
		return nil, errs.New(errs.KindModelNotFound, "no model loaded")
	}
	return e.backend.GenerateStream(ctx, e.resolved(req))
}

func (e *LlmEngine) CountTokens(text string) int {
	return e.backend.CountTokens(text)
}

func (e *LlmEngine) Unload() error {
	e.loaded = false
	return e.backend.Unload()
}

// whitespaceTokenCount is the tokenizer-agnostic word count the stub
// backend reports as its token count; the ONNX fallback's tokenizeToIDs
// uses it only as a slice capacity hint.
func whitespaceTokenCount(text string) int {
	return len(strings.Fields(text))
}
