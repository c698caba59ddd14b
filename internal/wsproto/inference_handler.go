package wsproto

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/synnergy/hostnode/internal/errs"
	"github.com/synnergy/hostnode/internal/inference"
	"github.com/synnergy/hostnode/internal/metrics"
	"github.com/synnergy/hostnode/internal/session"
	"github.com/synnergy/hostnode/internal/vectorindex"
)

// handleEncryptedMessage verifies the AAD counter and signature, decrypts
// the inner prompt, then hands off to runInference (spec §6.1, §4.10.5).
func (r *Router) handleEncryptedMessage(ctx context.Context, sender Sender, raw []byte) error {
	var msg EncryptedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		sendError(sender, errs.New(errs.KindInternalError, "malformed encrypted_message"))
		return nil
	}
	sess, err := r.deps.Sessions.Get(msg.SessionID)
	if err != nil {
		sendError(sender, err)
		return nil
	}
	key, err := r.deps.Keys.Get(msg.SessionID, time.Now())
	if err != nil {
		sendError(sender, err)
		return nil
	}

	expectedAAD := r.nextAAD(msg.SessionID)
	if msg.AAD != expectedAAD {
		log.WithField("session_id", msg.SessionID).Warn("wsproto: out-of-order or replayed AAD counter")
		sendError(sender, errs.New(errs.KindInvalidSignature, "aad counter mismatch"))
		return nil
	}

	plain, err := decryptFrame(key, msg.Nonce, expectedAAD, msg.Ciphertext, msg.Signature, sess.Cfg.UserAddress)
	if err != nil {
		sendError(sender, err)
		return nil
	}

	var prompt InnerPrompt
	if err := json.Unmarshal(plain, &prompt); err != nil {
		sendError(sender, errs.Wrap(errs.KindInternalError, err, "parse decrypted prompt"))
		return nil
	}
	r.runInference(ctx, sender, sess, prompt)
	return nil
}

// handlePlaintextInference is the dev/test path matching session_init: no
// AEAD envelope, prompt carried directly (spec §4.10.1).
func (r *Router) handlePlaintextInference(ctx context.Context, sender Sender, raw []byte) error {
	var envelope struct {
		SessionID string  `json:"session_id"`
		Prompt    string  `json:"prompt"`
		Images    []Image `json:"images,omitempty"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		sendError(sender, errs.New(errs.KindInternalError, "malformed inference message"))
		return nil
	}
	sess, err := r.deps.Sessions.Get(envelope.SessionID)
	if err != nil {
		sendError(sender, err)
		return nil
	}
	r.runInference(ctx, sender, sess, InnerPrompt{Prompt: envelope.Prompt, Images: envelope.Images})
	return nil
}

// runInference drives the vision pre-processing pipeline (§4.10.4), streams
// generation tokens, accumulates counters, and opportunistically triggers a
// checkpoint submission when the policy says one is due.
func (r *Router) runInference(ctx context.Context, sender Sender, sess *session.Session, prompt InnerPrompt) {
	sess.SetState(session.Streaming)
	defer sess.SetState(session.Ready)

	finalPrompt := r.applyVisionPreprocessing(ctx, sess, prompt)

	messages := make([]inference.ChatMessage, 0, len(sess.HistorySnapshot())+1)
	for _, t := range sess.HistorySnapshot() {
		messages = append(messages, inference.ChatMessage{Role: inference.Role(t.Role), Content: t.Content})
	}
	messages = append(messages, inference.ChatMessage{Role: inference.RoleUser, Content: finalPrompt})

	req := inference.GenerateRequest{Messages: messages, MaxTokens: 512}
	tokens, err := r.deps.Llm.GenerateStream(ctx, req)
	if err != nil {
		sendError(sender, err)
		return
	}

	sess.AppendTurn(session.Turn{Role: session.RoleUser, Content: prompt.Prompt})
	var completion strings.Builder
	var n uint64
	for tok := range tokens {
		if tok.Done {
			break
		}
		completion.WriteString(tok.Text)
		n++
		_ = sender.Send(InferenceToken{Type: "inference_token", SessionID: sess.ID, Token: tok.Text})
	}
	sess.AppendTurn(session.Turn{Role: session.RoleAssistant, Content: completion.String()})
	sess.AddCompletionTokens(n)
	if r.deps.Tracker != nil {
		r.deps.Tracker.AddTokens(sess.Cfg.JobID, n)
	}
	metrics.InferenceTokensTotal.WithLabelValues("completion").Add(float64(n))
	_ = sender.Send(InferenceDone{Type: "inference_done", SessionID: sess.ID, CompletionTokens: int(n)})

	r.maybeCheckpoint(ctx, sess, false)
}

// applyVisionPreprocessing runs each attached image through the VLM,
// falling back to the ONNX describe path on failure, and prepends the
// resulting descriptions to the prompt (spec §4.10.4).
func (r *Router) applyVisionPreprocessing(ctx context.Context, sess *session.Session, prompt InnerPrompt) string {
	if len(prompt.Images) == 0 || r.deps.Vlm == nil {
		return prompt.Prompt
	}
	var descriptions []string
	for _, img := range prompt.Images {
		dataURL := fmt.Sprintf("data:image/%s;base64,%s", img.Format, img.Data)
		if res, ok := r.deps.Vlm.Describe(ctx, dataURL, img.Format, "auto", ""); ok {
			descriptions = append(descriptions, res.Text)
			sess.AddVLMTokens(uint64(res.TokensUsed))
			metrics.InferenceTokensTotal.WithLabelValues("vlm").Add(float64(res.TokensUsed))
			continue
		}
		if r.deps.Onnx != nil {
			if res, err := r.deps.Onnx.Describe([]byte(img.Data), img.Format, "auto"); err == nil {
				descriptions = append(descriptions, res.Text)
				continue
			}
		}
		log.WithField("session_id", sess.ID).Warn("wsproto: vision pre-processing failed for one image, continuing without it")
	}
	if len(descriptions) == 0 {
		return prompt.Prompt
	}
	var b strings.Builder
	b.WriteString("[Image Analysis]\n")
	for _, d := range descriptions {
		b.WriteString(d)
		b.WriteString("\n")
	}
	b.WriteString("[/Image Analysis]\n")
	b.WriteString(prompt.Prompt)
	return b.String()
}

// maybeCheckpoint submits a checkpoint if the policy says one is due. Errors
// are logged, never surfaced to the client: billing is best-effort from the
// session's perspective (spec §4.9, §5).
func (r *Router) maybeCheckpoint(ctx context.Context, sess *session.Session, forceClose bool) {
	if r.deps.Checkpoints == nil {
		return
	}
	now := time.Now()
	if !r.deps.Checkpoints.Due(sess.Cfg.JobID, now, forceClose) {
		return
	}
	if err := r.deps.Checkpoints.Submit(ctx, sess.Cfg.ChainID, sess.Cfg.JobID, proofInputsFor(sess), now); err != nil {
		log.WithField("session_id", sess.ID).WithError(err).Warn("wsproto: checkpoint submission failed")
	}
}

func (r *Router) handleSearchVectors(ctx context.Context, sender Sender, raw []byte) error {
	var msg SearchVectors
	if err := json.Unmarshal(raw, &msg); err != nil {
		sendError(sender, errs.New(errs.KindInternalError, "malformed searchVectors"))
		return nil
	}
	sess, err := r.deps.Sessions.Get(msg.SessionID)
	if err != nil {
		sendError(sender, err)
		return nil
	}
	handle := sess.VectorStoreHandle()
	idx, ok := handle.(*vectorindex.Index)
	if !ok || idx == nil {
		sendError(sender, errs.New(errs.KindEmptyDatabase, "no vector database attached to this session"))
		return nil
	}
	k := msg.K
	if k <= 0 {
		k = 5
	}
	hits, err := idx.Search(msg.QueryVector, k)
	if err != nil {
		sendError(sender, err)
		return nil
	}
	results := make([]ResultEntry, 0, len(hits))
	for _, h := range hits {
		if h.Score < msg.Threshold {
			continue
		}
		results = append(results, ResultEntry{Key: h.Key, Score: h.Score})
	}
	_ = sender.Send(VectorSearchResult{Type: "vector_search_result", SessionID: sess.ID, Results: results})
	return nil
}

func (r *Router) handleUploadVectors(ctx context.Context, sender Sender, raw []byte) error {
	var msg UploadVectors
	if err := json.Unmarshal(raw, &msg); err != nil {
		sendError(sender, errs.New(errs.KindInternalError, "malformed uploadVectors"))
		return nil
	}
	sess, err := r.deps.Sessions.Get(msg.SessionID)
	if err != nil {
		sendError(sender, err)
		return nil
	}
	if len(msg.Vectors) == 0 {
		sendError(sender, errs.New(errs.KindEmptyTexts, "no vectors provided"))
		return nil
	}
	handle := sess.VectorStoreHandle()
	idx, ok := handle.(*vectorindex.Index)
	if !ok || idx == nil {
		idx = vectorindex.NewEmptyIndex(sess.ID, len(msg.Vectors[0]))
		sess.AttachVectorStore(idx)
	}
	if err := idx.Add(msg.Vectors); err != nil {
		sendError(sender, err)
		return nil
	}
	_ = sender.Send(VectorLoadingStatus{Type: "vector_loading_status", SessionID: sess.ID, Status: "Ready"})
	return nil
}
