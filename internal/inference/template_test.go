package inference

import (
	"strings"
	"testing"
)

func TestGlm4TemplateExactFormat(t *testing.T) {
	req := GenerateRequest{
		ChatTemplate: TemplateGlm4,
		Messages: []ChatMessage{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
		},
	}
	got := RenderPrompt(req)
	want := "<|system|>\nYou are a helpful assistant.\n<|user|>\nhi\n<|assistant|>\nhello\n<|assistant|>\n"
	if got != want {
		t.Fatalf("glm4 template mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestGlm4TemplateUsesProvidedSystemMessage(t *testing.T) {
	req := GenerateRequest{
		ChatTemplate: TemplateGlm4,
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: "Be terse."},
			{Role: RoleUser, Content: "hi"},
		},
	}
	got := RenderPrompt(req)
	if !strings.HasPrefix(got, "<|system|>\nBe terse.\n") {
		t.Fatalf("expected custom system message preserved, got %q", got)
	}
}

func TestParseChatTemplateUnknownDefaultsToDefault(t *testing.T) {
	if got := ParseChatTemplate("not-a-template"); got != TemplateDefault {
		t.Fatalf("expected TemplateDefault, got %v", got)
	}
}

func TestStopTokensOverride(t *testing.T) {
	got := StopTokens(TemplateGlm4, []string{"CUSTOM"})
	if len(got) != 1 || got[0] != "CUSTOM" {
		t.Fatalf("expected override to win, got %v", got)
	}
}

func TestStopTokensDefaultWhenNoOverride(t *testing.T) {
	got := StopTokens(TemplateChatML, nil)
	if len(got) == 0 {
		t.Fatal("expected a default stop set for ChatML")
	}
}
