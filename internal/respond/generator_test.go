package respond

import (
	"context"
	"errors"
	"strings"
	"testing"

	"dealerpilot/internal/domain"
	"dealerpilot/internal/integrations/llm"
)

type fakeProvider struct {
	response string
	err      error
	calls    int
}

func (f *fakeProvider) Complete(_ context.Context, _ llm.Request) (string, llm.Usage, error) {
	f.calls++
	if f.err != nil {
		return "", llm.Usage{}, f.err
	}
	return f.response, llm.Usage{InputTokens: 100, OutputTokens: 50}, nil
}

func TestGenerateHappyPath(t *testing.T) {
	g := &Generator{Provider: &fakeProvider{response: `{"response": "We have three in stock!", "escalate": false}`}}

	result := g.Generate(context.Background(), GenerateInput{
		CustomerMessage: "Do you have any hybrids?",
		Template:        "You work for {dealership}.",
		PersonaArgs:     map[string]any{"dealership": "Hilltop Motors"},
		DealershipName:  "Hilltop Motors",
	})

	if result.Response != "We have three in stock!" {
		t.Fatalf("unexpected response: %q", result.Response)
	}
	if result.ShouldEscalate {
		t.Fatal("expected no escalation")
	}
	if result.UsedFallback {
		t.Fatal("expected no fallback")
	}
}

func TestGenerateFallbackIsDeterministic(t *testing.T) {
	g := &Generator{Provider: &fakeProvider{err: errors.New("rate limited")}}

	inputs := []string{"Do you have hybrids?", "what color options?", ""}
	for _, msg := range inputs {
		result := g.Generate(context.Background(), GenerateInput{CustomerMessage: msg})
		if result.Response != FallbackResponse {
			t.Fatalf("expected canned fallback for %q, got %q", msg, result.Response)
		}
		if !result.ShouldEscalate {
			t.Fatalf("fallback must always escalate (input %q)", msg)
		}
		if result.Reason != FallbackReason {
			t.Fatalf("expected reason %q, got %q", FallbackReason, result.Reason)
		}
		if !result.UsedFallback {
			t.Fatal("expected UsedFallback flag")
		}
	}
}

func TestGenerateMalformedCompletionFallsBack(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"not json", "Sure, we have three hybrids in stock!"},
		{"missing escalate", `{"response": "hi"}`},
		{"missing response", `{"escalate": false}`},
		{"empty response", `{"response": "  ", "escalate": false}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &Generator{Provider: &fakeProvider{response: tt.response}}
			result := g.Generate(context.Background(), GenerateInput{CustomerMessage: "hello"})
			if result.Response != FallbackResponse {
				t.Fatalf("expected fallback, got %q", result.Response)
			}
			if !result.ShouldEscalate {
				t.Fatal("fallback must escalate")
			}
		})
	}
}

func TestGenerateFencedJSONAccepted(t *testing.T) {
	g := &Generator{Provider: &fakeProvider{response: "```json\n{\"response\": \"hi there\", \"escalate\": false}\n```"}}
	result := g.Generate(context.Background(), GenerateInput{CustomerMessage: "hello"})
	if result.Response != "hi there" {
		t.Fatalf("expected fenced JSON to parse, got %q", result.Response)
	}
}

func TestGenerateEscalationOR(t *testing.T) {
	tests := []struct {
		name         string
		message      string
		modelJSON    string
		wantEscalate bool
	}{
		{"neither", "what colors?", `{"response": "r", "escalate": false}`, false},
		{"model only", "what colors?", `{"response": "r", "escalate": true, "reason": "purchase intent"}`, true},
		{"keyword only", "let me talk to a manager", `{"response": "r", "escalate": false}`, true},
		{"both", "best price please", `{"response": "r", "escalate": true, "reason": "pricing"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &Generator{Provider: &fakeProvider{response: tt.modelJSON}}
			result := g.Generate(context.Background(), GenerateInput{CustomerMessage: tt.message})
			if result.ShouldEscalate != tt.wantEscalate {
				t.Fatalf("escalate = %v, want %v", result.ShouldEscalate, tt.wantEscalate)
			}
		})
	}
}

func TestGenerateKeywordEscalationGetsReason(t *testing.T) {
	g := &Generator{Provider: &fakeProvider{response: `{"response": "r", "escalate": false}`}}
	result := g.Generate(context.Background(), GenerateInput{CustomerMessage: "I want your best price"})
	if !result.ShouldEscalate {
		t.Fatal("expected keyword-forced escalation")
	}
	if result.Reason == "" {
		t.Fatal("expected a reason for keyword-forced escalation")
	}
}

func TestBuildSystemPromptIncludesBlocks(t *testing.T) {
	inventory := []domain.Vehicle{
		{Year: 2024, Make: "Toyota", Model: "RAV4", Trim: "XLE", Price: 3250000},
	}
	prompt := BuildSystemPrompt("You work for {dealership}.", map[string]any{
		"dealership": "Hilltop Motors",
		"urls":       []any{"https://hilltop.example/specials"},
	}, "Hilltop Motors", inventory)

	for _, want := range []string{
		"You work for Hilltop Motors.",
		"2024 Toyota RAV4 XLE ($32500)",
		"https://hilltop.example/specials",
		"Respond with JSON only",
		"Compliance rules:",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("system prompt missing %q:\n%s", want, prompt)
		}
	}
}
