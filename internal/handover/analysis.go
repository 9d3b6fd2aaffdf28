package handover

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"dealerpilot/internal/domain"
	"dealerpilot/internal/integrations/llm"
)

const analysisMaxTokens = 2048

func formatTranscript(transcript []domain.TranscriptEntry) string {
	if len(transcript) == 0 {
		return "(no messages)"
	}
	var b strings.Builder
	for _, entry := range transcript {
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", entry.SentAt.Format("2006-01-02 15:04"), entry.From, entry.Body))
	}
	return b.String()
}

// analyzeInsights extracts customer insights from the full transcript:
// timeline/urgency, budget sensitivity, preferences, lifestyle signals,
// trade-in signals, financing questions. An empty transcript yields an
// empty list, not an error.
func analyzeInsights(ctx context.Context, provider llm.Provider, transcript []domain.TranscriptEntry) ([]domain.CustomerInsight, llm.Usage, error) {
	if len(transcript) == 0 {
		return nil, llm.Usage{}, nil
	}

	systemPrompt := `You analyze car-dealership customer conversations and extract insights a
salesperson needs before taking over.

Look for:
- purchase timeline and urgency signals
- budget sensitivity and price concerns
- vehicle preferences (body style, features, colors)
- lifestyle signals (family, commute, towing, hobbies)
- current vehicle and trade-in signals
- financing questions

Each insight has a short snake_case key, a concise value, and a confidence
between 0 and 1. Only include insights actually supported by the
conversation.

Respond with JSON only (no markdown):
[{"key": "purchase_timeline", "value": "wants to buy this week", "confidence": 0.9}, ...]`

	responseText, usage, err := provider.Complete(ctx, llm.Request{
		System:    systemPrompt,
		Turns:     []llm.Turn{{Role: "user", Content: "Conversation transcript:\n" + formatTranscript(transcript)}},
		MaxTokens: analysisMaxTokens,
	})
	if err != nil {
		return nil, usage, err
	}

	var insights []domain.CustomerInsight
	if err := json.Unmarshal([]byte(llm.TrimFences(responseText)), &insights); err != nil {
		return nil, usage, fmt.Errorf("parsing insights response: %w", err)
	}
	return insights, usage, nil
}

// analyzeVehicleInterests cross-references the transcript against the
// dealership's recent active inventory. Mentions that match no inventory
// row are still returned, with vin omitted.
func analyzeVehicleInterests(ctx context.Context, provider llm.Provider, transcript []domain.TranscriptEntry, inventory []domain.Vehicle) ([]domain.VehicleInterest, llm.Usage, error) {
	if len(transcript) == 0 {
		return nil, llm.Usage{}, nil
	}

	var inventoryLines strings.Builder
	for _, v := range inventory {
		inventoryLines.WriteString(fmt.Sprintf("- %d %s %s %s (VIN %s)\n", v.Year, v.Make, v.Model, v.Trim, v.VIN))
	}
	inventoryBlock := "none on file"
	if inventoryLines.Len() > 0 {
		inventoryBlock = inventoryLines.String()
	}

	systemPrompt := fmt.Sprintf(`You identify which vehicles a dealership customer is interested in.

Current inventory:
%s

Cross-reference the conversation against the inventory. When a mention
matches an inventory row, include its VIN. Mentions with no inventory match
are still returned, without a vin field. Set confidence between 0 and 1.

Respond with JSON only (no markdown):
[{"make": "Toyota", "model": "RAV4", "year": 2024, "trim": "XLE", "vin": "...", "confidence": 0.85}, ...]`, inventoryBlock)

	responseText, usage, err := provider.Complete(ctx, llm.Request{
		System:    systemPrompt,
		Turns:     []llm.Turn{{Role: "user", Content: "Conversation transcript:\n" + formatTranscript(transcript)}},
		MaxTokens: analysisMaxTokens,
	})
	if err != nil {
		return nil, usage, err
	}

	var interests []domain.VehicleInterest
	if err := json.Unmarshal([]byte(llm.TrimFences(responseText)), &interests); err != nil {
		return nil, usage, fmt.Errorf("parsing vehicle interests response: %w", err)
	}
	return interests, usage, nil
}

// summarizeConversation produces the 2-3 paragraph narrative oriented
// toward why human help is needed now.
func summarizeConversation(ctx context.Context, provider llm.Provider, transcript []domain.TranscriptEntry, escalationReason string) (string, llm.Usage, error) {
	systemPrompt := `You write handover summaries for dealership sales staff taking over a
conversation from an AI assistant.

Write 2-3 short paragraphs covering what the customer wants, what has been
discussed so far, and why human help is needed now. Plain text only, no
markdown, no preamble.`

	userPrompt := fmt.Sprintf("Escalation reason: %s\n\nConversation transcript:\n%s",
		escalationReason, formatTranscript(transcript))

	responseText, usage, err := provider.Complete(ctx, llm.Request{
		System:    systemPrompt,
		Turns:     []llm.Turn{{Role: "user", Content: userPrompt}},
		MaxTokens: analysisMaxTokens,
	})
	if err != nil {
		return "", usage, err
	}
	return strings.TrimSpace(responseText), usage, nil
}

// suggestApproach synthesizes personalized sales-engagement guidance from
// the insights, vehicle interests and transcript.
func suggestApproach(ctx context.Context, provider llm.Provider, transcript []domain.TranscriptEntry, insights []domain.CustomerInsight, interests []domain.VehicleInterest) (string, llm.Usage, error) {
	var insightLines strings.Builder
	for _, in := range insights {
		insightLines.WriteString(fmt.Sprintf("- %s: %s (confidence %.2f)\n", in.Key, in.Value, in.Confidence))
	}
	if insightLines.Len() == 0 {
		insightLines.WriteString("none\n")
	}
	var interestLines strings.Builder
	for _, vi := range interests {
		interestLines.WriteString(fmt.Sprintf("- %d %s %s %s\n", vi.Year, vi.Make, vi.Model, vi.Trim))
	}
	if interestLines.Len() == 0 {
		interestLines.WriteString("none\n")
	}

	systemPrompt := `You coach dealership salespeople on how to engage a specific customer.

Write 1-2 short paragraphs of personalized guidance: how to open, what to
emphasize, what to avoid. Ground every recommendation in the insights and
vehicle interests provided. Plain text only, no markdown.`

	userPrompt := fmt.Sprintf("Customer insights:\n%s\nVehicle interests:\n%s\nConversation transcript:\n%s",
		insightLines.String(), interestLines.String(), formatTranscript(transcript))

	responseText, usage, err := provider.Complete(ctx, llm.Request{
		System:    systemPrompt,
		Turns:     []llm.Turn{{Role: "user", Content: userPrompt}},
		MaxTokens: analysisMaxTokens,
	})
	if err != nil {
		return "", usage, err
	}
	return strings.TrimSpace(responseText), usage, nil
}
