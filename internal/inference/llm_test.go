package inference

import (
	"context"
	"errors"
	"testing"
)

func TestLlmEngineRequiresLoadBeforeGenerate(t *testing.T) {
	e := NewLlmEngine(NewStubBackend())
	_, err := e.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected ModelNotFound before LoadModel")
	}
}

func TestLlmEngineGenerateProducesTokens(t *testing.T) {
	e := NewLlmEngine(NewStubBackend())
	if err := e.LoadModel(context.Background(), "stub", ContextOptions{}); err != nil {
		t.Fatal(err)
	}
	res, err := e.Generate(context.Background(), GenerateRequest{Prompt: "hello there", MaxTokens: 5})
	if err != nil {
		t.Fatal(err)
	}
	if res.CompletionTokens == 0 {
		t.Fatal("expected at least one completion token")
	}
	if res.PromptTokens == 0 {
		t.Fatal("expected prompt tokens counted")
	}
}

func TestLlmEngineGenerateStreamRespectsMaxTokens(t *testing.T) {
	e := NewLlmEngine(NewStubBackend())
	_ = e.LoadModel(context.Background(), "stub", ContextOptions{})
	ch, err := e.GenerateStream(context.Background(), GenerateRequest{Prompt: "hi", MaxTokens: 3})
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for tok := range ch {
		if tok.Done {
			break
		}
		count++
	}
	if count > 3 {
		t.Fatalf("expected at most 3 tokens, got %d", count)
	}
}

// quantizedFailOnceBackend fails LoadModel exactly once when a quantized
// KV cache is requested, succeeding on the f16 retry — exercising the
// retry-once-with-warning policy.
type quantizedFailOnceBackend struct {
	*StubBackend
	failedOnce bool
}

func (b *quantizedFailOnceBackend) LoadModel(ctx context.Context, path string, opts ContextOptions) error {
	if opts.KVCacheQuantized && !b.failedOnce {
		b.failedOnce = true
		return errors.New("quantized kv cache unsupported")
	}
	return b.StubBackend.LoadModel(ctx, path, opts)
}

func TestLoadModelRetriesOnceOnQuantizedKVCacheFailure(t *testing.T) {
	backend := &quantizedFailOnceBackend{StubBackend: NewStubBackend()}
	e := NewLlmEngine(backend)
	if err := e.LoadModel(context.Background(), "model.gguf", ContextOptions{KVCacheQuantized: true}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if !backend.failedOnce {
		t.Fatal("expected the quantized attempt to have been tried first")
	}
}
