package inference

import "strings"

// defaultStops are the fixed per-template stop-token sets spec §4.4.1
// describes as overridable via env/config.
var defaultStops = map[ChatTemplate][]string{
	TemplateDefault: {"</s>"},
	TemplateLlama2:  {"</s>", "[INST]"},
	TemplateVicuna:  {"</s>", "USER:"},
	TemplateHarmony: {"<|end|>"},
	TemplateChatML:  {"<|im_end|>"},
	TemplateGlm4:    {"<|user|>", "<|observation|>"},
}

// StopTokens returns template's fixed stop set, or overrides if non-empty.
func StopTokens(template ChatTemplate, overrides []string) []string {
	if len(overrides) > 0 {
		return overrides
	}
	return defaultStops[template]
}

// RenderPrompt formats messages per template's convention. Single-prompt
// requests (Messages empty) pass Prompt through as the user turn.
func RenderPrompt(req GenerateRequest) string {
	messages := req.Messages
	if len(messages) == 0 && req.Prompt != "" {
		messages = []ChatMessage{{Role: RoleUser, Content: req.Prompt}}
	}
	switch req.ChatTemplate {
	case TemplateGlm4:
		return renderGlm4(messages)
	case TemplateChatML:
		return renderChatML(messages)
	case TemplateLlama2:
		return renderLlama2(messages)
	case TemplateVicuna:
		return renderVicuna(messages)
	case TemplateHarmony:
		return renderHarmony(messages)
	default:
		return renderDefault(messages)
	}
}

// renderGlm4 follows the exact layout spec §4.4.1 mandates, injecting a
// default system message when none is supplied.
func renderGlm4(messages []ChatMessage) string {
	var b strings.Builder
	sys := "You are a helpful assistant."
	rest := messages
	if len(messages) > 0 && messages[0].Role == RoleSystem {
		sys = messages[0].Content
		rest = messages[1:]
	}
	b.WriteString("<|system|>\n")
	b.WriteString(sys)
	b.WriteString("\n")
	for _, m := range rest {
		switch m.Role {
		case RoleUser:
			b.WriteString("<|user|>\n")
			b.WriteString(m.Content)
			b.WriteString("\n")
		case RoleAssistant:
			b.WriteString("<|assistant|>\n")
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
	}
	b.WriteString("<|assistant|>\n")
	return b.String()
}

func renderChatML(messages []ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString("<|im_start|>")
		b.WriteString(string(m.Role))
		b.WriteString("\n")
		b.WriteString(m.Content)
		b.WriteString("<|im_end|>\n")
	}
	b.WriteString("<|im_start|>assistant\n")
	return b.String()
}

func renderLlama2(messages []ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			b.WriteString("<<SYS>>\n")
			b.WriteString(m.Content)
			b.WriteString("\n<</SYS>>\n\n")
		case RoleUser:
			b.WriteString("[INST] ")
			b.WriteString(m.Content)
			b.WriteString(" [/INST]")
		case RoleAssistant:
			b.WriteString(" ")
			b.WriteString(m.Content)
			b.WriteString(" </s>")
		}
	}
	return b.String()
}

func renderVicuna(messages []ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			b.WriteString(m.Content)
			b.WriteString("\n\n")
		case RoleUser:
			b.WriteString("USER: ")
			b.WriteString(m.Content)
			b.WriteString("\n")
		case RoleAssistant:
			b.WriteString("ASSISTANT: ")
			b.WriteString(m.Content)
			b.WriteString("</s>\n")
		}
	}
	b.WriteString("ASSISTANT: ")
	return b.String()
}

func renderHarmony(messages []ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("<|end|>\n")
	}
	return b.String()
}

func renderDefault(messages []ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}
