// Package inference composes the three backends a session routes through:
// the local LlmEngine, the HTTP VLM sidecar, and the ONNX CPU fallback
// (spec §4.4). Request/response shapes here are the Go-native equivalent
// of the teacher's core/ai.go TFRequest/TFResponse pair, specialized from
// a generic ML-service stub into the node's three concrete backends.
package inference

// ChatTemplate selects the prompt-formatting convention a model expects.
type ChatTemplate string

const (
	TemplateDefault ChatTemplate = "Default"
	TemplateLlama2  ChatTemplate = "Llama2"
	TemplateVicuna  ChatTemplate = "Vicuna"
	TemplateHarmony ChatTemplate = "Harmony"
	TemplateChatML  ChatTemplate = "ChatML"
	TemplateGlm4    ChatTemplate = "Glm4"
)

// ParseChatTemplate resolves a config string to a ChatTemplate, defaulting
// to TemplateDefault for anything unrecognized (spec §4.4.1).
func ParseChatTemplate(s string) ChatTemplate {
	switch ChatTemplate(s) {
	case TemplateLlama2, TemplateVicuna, TemplateHarmony, TemplateChatML, TemplateGlm4:
		return ChatTemplate(s)
	default:
		return TemplateDefault
	}
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one conversation turn fed into prompt rendering.
type ChatMessage struct {
	Role    Role
	Content string
}

// SamplerParams configures the sampler chain (spec §4.4.1): temperature →
// penalties → top_p → min_p → distributional-or-greedy, in that order.
type SamplerParams struct {
	Temperature   float32
	TopP          float32
	MinP          float32
	RepeatPenalty float32
	Seed          int64
}

// GenerateRequest is one LlmEngine.Generate/GenerateStream call.
type GenerateRequest struct {
	Prompt       string
	Messages     []ChatMessage
	ChatTemplate ChatTemplate
	StopTokens   []string
	MaxTokens    int
	Sampler      SamplerParams
}

// Token is one item of a generate_stream sequence.
type Token struct {
	Text string
	Done bool
}

// GenerateResult is a non-streaming generation's full output.
type GenerateResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// EmbedResult is one ONNX embed_batch row.
type EmbedResult struct {
	Vector []float32
}

// VisionResult is the normalized shape both the VLM sidecar and the ONNX
// fallback return for OCR/describe, differing only in Model/Provider (spec
// §4.4.2, §4.4.3).
type VisionResult struct {
	Text            string
	Model           string
	Provider        string // "host" for ONNX fallback, empty for VLM
	ProcessingMs     int64
	TokensUsed      int
}
