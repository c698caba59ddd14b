package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// VlmClient speaks an OpenAI-chat-completions dialect to the vision
// sidecar process (spec §4.4.2). Every method here returns (result, false)
// on any transport or parse failure so the caller falls through to the
// ONNX fallback — it never returns an error the caller must additionally
// branch on.
type VlmClient struct {
	baseURL string
	model   string
	hc      *http.Client
}

func NewVlmClient(baseURL, model string, timeout time.Duration) *VlmClient {
	return &VlmClient{baseURL: baseURL, model: model, hc: &http.Client{Timeout: timeout}}
}

type chatCompletionRequest struct {
	Model    string          `json:"model"`
	Messages []chatMessage   `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *VlmClient) call(ctx context.Context, prompt, imageDataURL string) (chatCompletionResponse, bool) {
	var out chatCompletionResponse
	content := prompt + "\n" + imageDataURL
	reqBody := chatCompletionRequest{Model: c.model, Messages: []chatMessage{{Role: "user", Content: content}}}
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return out, false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return out, false
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		log.WithError(err).Debug("vlm sidecar unreachable, falling back to onnx")
		return out, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.WithField("status", resp.StatusCode).Debug("vlm sidecar returned non-200, falling back to onnx")
		return out, false
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.WithError(err).Debug("vlm sidecar response unparsable, falling back to onnx")
		return out, false
	}
	return out, true
}

// OCR extracts text from imageDataURL. ok=false signals fall through.
func (c *VlmClient) OCR(ctx context.Context, imageDataURL, format string) (VisionResult, bool) {
	start := time.Now()
	resp, ok := c.call(ctx, "Extract all text from this image verbatim.", imageDataURL)
	if !ok || len(resp.Choices) == 0 {
		return VisionResult{}, false
	}
	return VisionResult{
		Text:         resp.Choices[0].Message.Content,
		Model:        c.model,
		ProcessingMs: time.Since(start).Milliseconds(),
		TokensUsed:   resp.Usage.TotalTokens,
	}, true
}

// Describe produces an image description at the requested detail level.
func (c *VlmClient) Describe(ctx context.Context, imageDataURL, format, detail, customPrompt string) (VisionResult, bool) {
	start := time.Now()
	prompt := customPrompt
	if prompt == "" {
		prompt = "Describe this image at " + detail + " detail."
	}
	resp, ok := c.call(ctx, prompt, imageDataURL)
	if !ok || len(resp.Choices) == 0 {
		return VisionResult{}, false
	}
	return VisionResult{
		Text:         resp.Choices[0].Message.Content,
		Model:        c.model,
		ProcessingMs: time.Since(start).Milliseconds(),
		TokensUsed:   resp.Usage.TotalTokens,
	}, true
}
