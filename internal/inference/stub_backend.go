package inference

import (
	"context"
	"math/rand"
	"strings"
)

// StubBackend is the "stub/mock" Backend variant spec §4.4.1 names, and the
// only Backend implementation in this repository. It exercises the full engine contract —
// templates, sampler chain, streaming, stop tokens, token counting — over
// a small deterministic vocabulary instead of real model weights, useful
// for hosts advertising a model the node doesn't actually load locally
// (e.g. one fully served by the VLM sidecar) and for tests.
type StubBackend struct {
	vocab []string
	path  string
}

func NewStubBackend() *StubBackend {
	return &StubBackend{vocab: strings.Fields(
		"the a model is thinking about your request and will respond shortly with a helpful answer " +
			"based on the context provided in this conversation session today",
	)}
}

func (s *StubBackend) LoadModel(ctx context.Context, path string, opts ContextOptions) error {
	s.path = path
	return nil
}

func (s *StubBackend) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	ch, err := s.GenerateStream(ctx, req)
	if err != nil {
		return GenerateResult{}, err
	}
	var b strings.Builder
	n := 0
	for tok := range ch {
		b.WriteString(tok.Text)
		n++
	}
	return GenerateResult{
		Text:             strings.TrimSpace(b.String()),
		PromptTokens:     whitespaceTokenCount(req.Prompt),
		CompletionTokens: n,
	}, nil
}

func (s *StubBackend) GenerateStream(ctx context.Context, req GenerateRequest) (<-chan Token, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = 64
	}
	rng := rand.New(rand.NewSource(req.Sampler.Seed))
	out := make(chan Token)
	go func() {
		defer close(out)
		recent := make(map[int]int)
		for i := 0; i < req.MaxTokens; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			logits := make([]float32, len(s.vocab))
			for j := range logits {
				logits[j] = rng.Float32()
			}
			idx := Sample(logits, recent, req.Sampler, rng)
			recent[idx]++
			word := s.vocab[idx%len(s.vocab)]
			text := word + " "
			for _, stop := range req.StopTokens {
				if stop != "" && strings.Contains(text, stop) {
					out <- Token{Text: "", Done: true}
					return
				}
			}
			select {
			case out <- Token{Text: text}:
			case <-ctx.Done():
				return
			}
		}
		out <- Token{Text: "", Done: true}
	}()
	return out, nil
}

func (s *StubBackend) CountTokens(text string) int { return whitespaceTokenCount(text) }

func (s *StubBackend) Unload() error { return nil }

var _ Backend = (*StubBackend)(nil)
