package engage

import (
	"context"
	"database/sql"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"dealerpilot/internal/abtest"
	"dealerpilot/internal/domain"
	"dealerpilot/internal/handover"
	"dealerpilot/internal/integrations/llm"
	"dealerpilot/internal/respond"
	"dealerpilot/internal/storage/sqlite"
)

// pipelineProvider serves both the reply prompt and the dossier analysis
// prompts, routing on the system prompt.
type pipelineProvider struct {
	replyJSON  string
	replyCalls int
}

func (p *pipelineProvider) Complete(_ context.Context, req llm.Request) (string, llm.Usage, error) {
	usage := llm.Usage{InputTokens: 150, OutputTokens: 60}
	switch {
	case strings.Contains(req.System, "customer engagement assistant"):
		p.replyCalls++
		return p.replyJSON, usage, nil
	case strings.Contains(req.System, "extract insights"):
		return `[]`, usage, nil
	case strings.Contains(req.System, "vehicles a dealership customer"):
		return `[]`, usage, nil
	case strings.Contains(req.System, "handover summaries"):
		return "Summary.", usage, nil
	case strings.Contains(req.System, "coach dealership salespeople"):
		return "Approach.", usage, nil
	}
	return "", usage, nil
}

func newTestService(t *testing.T, provider llm.Provider) (*Service, *sql.DB) {
	t.Helper()
	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "engage_test.db"))
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	err = sqlite.InsertDealership(db, domain.Dealership{
		ID:           "dlr-1",
		Name:         "Hilltop Motors",
		BaseTemplate: "You work for {dealership}.",
		PersonaArgs:  `{"dealership": "Hilltop Motors"}`,
		StaffEmails:  "sales@hilltop.example",
	})
	if err != nil {
		t.Fatalf("InsertDealership: %v", err)
	}

	selector := abtest.NewSelector(db, rand.New(rand.NewSource(1)), 0)
	metrics := abtest.NewMetrics(db)
	generator := &respond.Generator{Provider: provider, MaxTokens: 1024, Temperature: 0.3}
	builder := handover.NewBuilder(db, provider, nil, nil)
	return NewService(db, selector, metrics, generator, builder), db
}

func TestHandleInboundNewConversation(t *testing.T) {
	provider := &pipelineProvider{replyJSON: `{"response": "Happy to help!", "escalate": false}`}
	svc, db := newTestService(t, provider)

	result, err := svc.HandleInbound(context.Background(), InboundRequest{
		DealershipID: "dlr-1",
		CustomerName: "Dana",
		Message:      "What colors does the RAV4 come in?",
	})
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if result.ConversationID == "" {
		t.Fatal("expected a new conversation id")
	}
	if result.ResponseText != "Happy to help!" {
		t.Fatalf("response = %q", result.ResponseText)
	}
	if result.ShouldEscalate {
		t.Fatal("benign message must not escalate")
	}
	if result.Status != domain.StatusActive {
		t.Fatalf("status = %q, want active", result.Status)
	}
	if result.MetricID != "" {
		t.Fatal("base-template turns must not record metrics")
	}

	messages, err := sqlite.GetMessagesByConversation(db, result.ConversationID)
	if err != nil {
		t.Fatalf("GetMessagesByConversation: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("messages = %d, want customer + assistant", len(messages))
	}
	if !messages[0].IsFromCustomer || messages[1].IsFromCustomer {
		t.Fatalf("unexpected message roles: %+v", messages)
	}
}

func TestHandleInboundEscalates(t *testing.T) {
	provider := &pipelineProvider{replyJSON: `{"response": "Let me connect you with our team.", "escalate": true, "reason": "pricing request"}`}
	svc, db := newTestService(t, provider)

	result, err := svc.HandleInbound(context.Background(), InboundRequest{
		DealershipID: "dlr-1",
		Message:      "What's your best price on the RAV4?",
	})
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if !result.ShouldEscalate {
		t.Fatal("expected escalation")
	}
	if result.Status != domain.StatusEscalated {
		t.Fatalf("status = %q, want escalated", result.Status)
	}
	if result.Dossier == nil {
		t.Fatal("escalation must produce a dossier")
	}

	conv, err := sqlite.GetConversationByID(db, result.ConversationID)
	if err != nil {
		t.Fatalf("GetConversationByID: %v", err)
	}
	if conv.Status != domain.StatusEscalated {
		t.Fatalf("stored status = %q, want escalated", conv.Status)
	}
}

func TestHandleInboundEscalatedHold(t *testing.T) {
	provider := &pipelineProvider{replyJSON: `{"response": "Hello!", "escalate": false}`}
	svc, db := newTestService(t, provider)

	err := sqlite.InsertConversation(db, domain.Conversation{
		ID:           "conv-esc",
		DealershipID: "dlr-1",
		Status:       domain.StatusEscalated,
	})
	if err != nil {
		t.Fatalf("InsertConversation: %v", err)
	}

	result, err := svc.HandleInbound(context.Background(), InboundRequest{
		DealershipID:   "dlr-1",
		ConversationID: "conv-esc",
		Message:        "Any update?",
	})
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if result.ResponseText != escalatedHoldResponse {
		t.Fatalf("response = %q, want hold response", result.ResponseText)
	}
	if provider.replyCalls != 0 {
		t.Fatalf("escalated conversations must not reach the model, calls = %d", provider.replyCalls)
	}

	// The customer message is still persisted for staff context.
	messages, err := sqlite.GetMessagesByConversation(db, "conv-esc")
	if err != nil {
		t.Fatalf("GetMessagesByConversation: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(messages))
	}
}

func TestHandleInboundRecordsMetricsForVariantTurns(t *testing.T) {
	provider := &pipelineProvider{replyJSON: `{"response": "Hi!", "escalate": false}`}
	svc, db := newTestService(t, provider)

	control, err := abtest.CreateVariant(db, "dlr-1", "control", "", "Control template for {dealership}.")
	if err != nil {
		t.Fatalf("CreateVariant: %v", err)
	}
	if err := abtest.SetControl(db, "dlr-1", control.ID); err != nil {
		t.Fatalf("SetControl: %v", err)
	}

	result, err := svc.HandleInbound(context.Background(), InboundRequest{
		DealershipID: "dlr-1",
		Message:      "Do you have hybrids?",
	})
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if result.MetricID == "" {
		t.Fatal("variant turns must record metrics")
	}

	rec, err := sqlite.GetMetricsByID(db, result.MetricID)
	if err != nil {
		t.Fatalf("GetMetricsByID: %v", err)
	}
	if rec.VariantID != control.ID {
		t.Fatalf("metric variant = %q, want %q", rec.VariantID, control.ID)
	}
	if rec.ConversationID != result.ConversationID {
		t.Fatalf("metric conversation = %q, want %q", rec.ConversationID, result.ConversationID)
	}
}

func TestHandleInboundValidation(t *testing.T) {
	provider := &pipelineProvider{replyJSON: `{"response": "Hi!", "escalate": false}`}
	svc, db := newTestService(t, provider)

	if _, err := svc.HandleInbound(context.Background(), InboundRequest{DealershipID: "dlr-1"}); err == nil {
		t.Fatal("expected error for empty message")
	}
	if _, err := svc.HandleInbound(context.Background(), InboundRequest{DealershipID: "nope", Message: "hi"}); err == nil {
		t.Fatal("expected error for unknown dealership")
	}

	err := sqlite.InsertDealership(db, domain.Dealership{ID: "dlr-2", Name: "Other"})
	if err != nil {
		t.Fatalf("InsertDealership: %v", err)
	}
	err = sqlite.InsertConversation(db, domain.Conversation{ID: "conv-1", DealershipID: "dlr-1", Status: domain.StatusActive})
	if err != nil {
		t.Fatalf("InsertConversation: %v", err)
	}
	if _, err := svc.HandleInbound(context.Background(), InboundRequest{
		DealershipID:   "dlr-2",
		ConversationID: "conv-1",
		Message:        "hi",
	}); err == nil {
		t.Fatal("expected cross-dealership conversation access to fail")
	}
}

func TestHandleHandoverRequestDefaultReason(t *testing.T) {
	provider := &pipelineProvider{}
	svc, db := newTestService(t, provider)

	err := sqlite.InsertConversation(db, domain.Conversation{
		ID:           "conv-1",
		DealershipID: "dlr-1",
		CustomerName: "Dana",
		Status:       domain.StatusActive,
	})
	if err != nil {
		t.Fatalf("InsertConversation: %v", err)
	}
	if err := sqlite.InsertMessage(db, domain.Message{
		ID:             "msg-1",
		ConversationID: "conv-1",
		Body:           "I'd like to talk to someone",
		IsFromCustomer: true,
		Channel:        "web",
	}); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	dossier, err := svc.HandleHandoverRequest(context.Background(), "conv-1", "")
	if err != nil {
		t.Fatalf("HandleHandoverRequest: %v", err)
	}
	if dossier.EscalationReason != "manual handover request" {
		t.Fatalf("reason = %q, want default", dossier.EscalationReason)
	}
}

func TestParsePersonaArgs(t *testing.T) {
	if got := parsePersonaArgs(""); got != nil {
		t.Fatalf("empty input must yield nil, got %v", got)
	}
	if got := parsePersonaArgs("not json"); got != nil {
		t.Fatalf("malformed input must yield nil, got %v", got)
	}
	got := parsePersonaArgs(`{"dealership": "Hilltop Motors"}`)
	if got["dealership"] != "Hilltop Motors" {
		t.Fatalf("parsePersonaArgs = %v", got)
	}
}
