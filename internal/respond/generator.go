package respond

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"dealerpilot/internal/domain"
	"dealerpilot/internal/integrations/llm"
)

// FallbackResponse is the canned customer-facing reply used whenever the
// provider fails or returns a malformed completion. The customer never
// sees a raw provider error.
const FallbackResponse = "Thanks for your patience! I want to make sure you get exactly the help you " +
	"need, so let me connect you with one of our team members who can assist you directly. " +
	"Someone will be with you shortly."

// FallbackReason accompanies every fallback reply.
const FallbackReason = "processing error"

type GenerateInput struct {
	CustomerMessage string
	History         []llm.Turn // prior turns, oldest first
	Template        string
	PersonaArgs     map[string]any
	DealershipName  string
	Inventory       []domain.Vehicle
}

type GenerateResult struct {
	Response       string
	ShouldEscalate bool
	Reason         string
	Usage          llm.Usage
	UsedFallback   bool
}

type Generator struct {
	Provider    llm.Provider
	MaxTokens   int
	Temperature float64
}

// completion is the mandated structured output. Escalate is a pointer so
// a completion missing the field is distinguishable from escalate=false
// and treated as malformed.
type completion struct {
	Response string `json:"response"`
	Escalate *bool  `json:"escalate"`
	Reason   string `json:"reason"`
}

// Generate builds the full system prompt, requests a structured completion
// and merges the model's escalation judgment with the keyword classifier.
// The final decision is a logical OR: the keyword path can force an
// escalation the model missed but never suppresses one the model raised.
func (g *Generator) Generate(ctx context.Context, in GenerateInput) GenerateResult {
	forced := ShouldForceEscalate(in.CustomerMessage)

	systemPrompt := BuildSystemPrompt(in.Template, in.PersonaArgs, in.DealershipName, in.Inventory)

	turns := append([]llm.Turn{}, in.History...)
	turns = append(turns, llm.Turn{Role: "user", Content: in.CustomerMessage})

	responseText, usage, err := g.Provider.Complete(ctx, llm.Request{
		System:      systemPrompt,
		Turns:       turns,
		MaxTokens:   g.MaxTokens,
		Temperature: g.Temperature,
	})
	if err != nil {
		log.Printf("respond generate fallback cause=provider err=%v", err)
		return fallbackResult(usage)
	}

	parsed, err := parseCompletion(responseText)
	if err != nil {
		log.Printf("respond generate fallback cause=malformed err=%v", err)
		return fallbackResult(usage)
	}

	escalate := *parsed.Escalate || forced
	reason := parsed.Reason
	if forced && reason == "" {
		reason = "customer message matched escalation keywords"
	}
	return GenerateResult{
		Response:       parsed.Response,
		ShouldEscalate: escalate,
		Reason:         reason,
		Usage:          usage,
	}
}

func fallbackResult(usage llm.Usage) GenerateResult {
	return GenerateResult{
		Response:       FallbackResponse,
		ShouldEscalate: true,
		Reason:         FallbackReason,
		Usage:          usage,
		UsedFallback:   true,
	}
}

func parseCompletion(responseText string) (completion, error) {
	responseText = llm.TrimFences(responseText)

	var c completion
	if err := json.Unmarshal([]byte(responseText), &c); err != nil {
		truncated := responseText
		if len(truncated) > 512 {
			truncated = truncated[:512] + fmt.Sprintf("... [truncated, total_length=%d]", len(responseText))
		}
		return c, fmt.Errorf("parsing completion: %w (truncated response: %s)", err, truncated)
	}
	if strings.TrimSpace(c.Response) == "" {
		return c, fmt.Errorf("completion missing required field 'response'")
	}
	if c.Escalate == nil {
		return c, fmt.Errorf("completion missing required field 'escalate'")
	}
	return c, nil
}

// BuildSystemPrompt merges the (persona-filled) template with the fixed
// system-level instruction blocks: tone rules, compliance rules, the JSON
// output contract and current inventory context.
func BuildSystemPrompt(template string, args map[string]any, dealershipName string, inventory []domain.Vehicle) string {
	filled := FillTemplate(template, args)

	var inventoryBlock strings.Builder
	if len(inventory) > 0 {
		inventoryBlock.WriteString("\nCurrent inventory (most recent listings):\n")
		for _, v := range inventory {
			line := fmt.Sprintf("- %d %s %s", v.Year, v.Make, v.Model)
			if v.Trim != "" {
				line += " " + v.Trim
			}
			if v.Price > 0 {
				line += fmt.Sprintf(" ($%d)", v.Price/100)
			}
			inventoryBlock.WriteString(line + "\n")
		}
	}

	urlsBlock := ""
	if urls, ok := args["urls"]; ok {
		urlsBlock = "\nReference links you may share with the customer:\n" + formatArg(urls) + "\n"
	}

	return fmt.Sprintf(`%s

You are a customer engagement assistant for %s.

Tone rules:
- Warm, concise and professional; never pushy.
- Answer in at most three short paragraphs.
- Never invent vehicles, prices or promotions not listed below.

Compliance rules:
- Never quote financing terms, APRs or monthly payments.
- Never commit to a final sale price; pricing conversations go to a human.
- Never request social security numbers or full payment-card details.
%s%s
Respond with JSON only (no markdown):
{"response": "your reply to the customer", "escalate": false, "reason": "only when escalate is true"}

Set "escalate" to true when the customer should be handed to a human:
price negotiation, explicit requests for a person, legal or competitor
threats, or clear readiness to purchase.`,
		strings.TrimSpace(filled), dealershipName, inventoryBlock.String(), urlsBlock)
}
