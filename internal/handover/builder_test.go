package handover

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"dealerpilot/internal/domain"
	"dealerpilot/internal/integrations/llm"
	"dealerpilot/internal/storage/sqlite"
)

// routingProvider answers each analysis prompt by matching on its system
// prompt, so one fake serves the whole battery.
type routingProvider struct {
	insightsJSON  string
	interestsJSON string
	summary       string
	approach      string
	failAll       bool
	failApproach  bool
}

func (p *routingProvider) Complete(_ context.Context, req llm.Request) (string, llm.Usage, error) {
	if p.failAll {
		return "", llm.Usage{}, errors.New("provider unavailable")
	}
	usage := llm.Usage{InputTokens: 200, OutputTokens: 80}
	switch {
	case strings.Contains(req.System, "extract insights"):
		return p.insightsJSON, usage, nil
	case strings.Contains(req.System, "vehicles a dealership customer"):
		return p.interestsJSON, usage, nil
	case strings.Contains(req.System, "handover summaries"):
		return p.summary, usage, nil
	case strings.Contains(req.System, "coach dealership salespeople"):
		if p.failApproach {
			return "", llm.Usage{}, errors.New("approach unavailable")
		}
		return p.approach, usage, nil
	}
	return "", llm.Usage{}, errors.New("unexpected prompt")
}

type recordingDeliverer struct {
	dossiers []domain.HandoverDossier
	err      error
}

func (d *recordingDeliverer) DeliverDossier(_ context.Context, _ domain.Dealership, dossier domain.HandoverDossier) error {
	d.dossiers = append(d.dossiers, dossier)
	return d.err
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "handover_test.db"))
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedConversation(t *testing.T, db *sql.DB) (dealershipID, conversationID string) {
	t.Helper()
	dealershipID = "dlr-1"
	conversationID = "conv-1"
	err := sqlite.InsertDealership(db, domain.Dealership{
		ID:          dealershipID,
		Name:        "Hilltop Motors",
		FromAddress: "ai@hilltop.example",
		StaffEmails: "sales@hilltop.example",
	})
	if err != nil {
		t.Fatalf("InsertDealership: %v", err)
	}
	err = sqlite.InsertConversation(db, domain.Conversation{
		ID:              conversationID,
		DealershipID:    dealershipID,
		CustomerName:    "Dana",
		CustomerContact: "dana@example.com",
		Status:          domain.StatusActive,
	})
	if err != nil {
		t.Fatalf("InsertConversation: %v", err)
	}
	for _, m := range []domain.Message{
		{ID: "msg-1", ConversationID: conversationID, Body: "Do you have a RAV4 hybrid? I need one today", IsFromCustomer: true, Channel: "web"},
		{ID: "msg-2", ConversationID: conversationID, Body: "We have a 2024 RAV4 XLE in stock!", IsFromCustomer: false, Channel: "web"},
	} {
		if err := sqlite.InsertMessage(db, m); err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
	}
	return dealershipID, conversationID
}

func TestBuildHappyPath(t *testing.T) {
	db := newTestDB(t)
	dealershipID, conversationID := seedConversation(t, db)

	provider := &routingProvider{
		insightsJSON:  `[{"key": "purchase_timeline", "value": "needs a vehicle today", "confidence": 0.9}]`,
		interestsJSON: `[{"make": "Toyota", "model": "RAV4", "year": 2024, "trim": "XLE", "confidence": 0.85}]`,
		summary:       "Dana is shopping for a RAV4 hybrid and wants one today.",
		approach:      "Open by confirming the RAV4 hybrid is available for a same-day test drive.",
	}
	deliverer := &recordingDeliverer{}
	builder := NewBuilder(db, provider, deliverer, nil)

	dossier, err := builder.Build(context.Background(), BuildRequest{
		ConversationID:   conversationID,
		DealershipID:     dealershipID,
		CustomerName:     "Dana",
		CustomerContact:  "dana@example.com",
		EscalationReason: "ready to purchase",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if dossier.ID == domain.FallbackDossierID {
		t.Fatal("expected a full dossier, got the degraded build")
	}
	if dossier.Urgency != domain.UrgencyHigh {
		t.Fatalf("urgency = %q, want high", dossier.Urgency)
	}
	if len(dossier.Transcript) != 2 {
		t.Fatalf("transcript entries = %d, want 2", len(dossier.Transcript))
	}
	if dossier.Transcript[0].From != "customer" || dossier.Transcript[1].From != "assistant" {
		t.Fatalf("unexpected transcript roles: %+v", dossier.Transcript)
	}

	stored, err := sqlite.GetLatestDossierByConversation(db, conversationID)
	if err != nil {
		t.Fatalf("GetLatestDossierByConversation: %v", err)
	}
	if stored.ID != dossier.ID {
		t.Fatalf("stored dossier id = %q, want %q", stored.ID, dossier.ID)
	}
	if !stored.IsEmailSent {
		t.Fatal("expected dossier marked email-sent after delivery")
	}

	conv, err := sqlite.GetConversationByID(db, conversationID)
	if err != nil {
		t.Fatalf("GetConversationByID: %v", err)
	}
	if conv.Status != domain.StatusEscalated {
		t.Fatalf("conversation status = %q, want escalated", conv.Status)
	}

	if len(deliverer.dossiers) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(deliverer.dossiers))
	}
}

func TestBuildDegradedNeverFails(t *testing.T) {
	db := newTestDB(t)
	dealershipID, conversationID := seedConversation(t, db)

	deliverer := &recordingDeliverer{}
	builder := NewBuilder(db, &routingProvider{failAll: true}, deliverer, nil)

	dossier, err := builder.Build(context.Background(), BuildRequest{
		ConversationID:   conversationID,
		DealershipID:     dealershipID,
		CustomerName:     "Dana",
		EscalationReason: "processing error",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if dossier == nil {
		t.Fatal("Build must always return a dossier")
	}
	if dossier.ID != domain.FallbackDossierID {
		t.Fatalf("dossier id = %q, want %q", dossier.ID, domain.FallbackDossierID)
	}
	if dossier.Urgency != domain.UrgencyHigh {
		t.Fatalf("degraded urgency = %q, want high", dossier.Urgency)
	}
	if dossier.SuggestedApproach == "" || dossier.Summary == "" {
		t.Fatal("degraded dossier must still carry summary and approach text")
	}
	if len(dossier.Transcript) != 2 {
		t.Fatalf("degraded dossier transcript entries = %d, want 2", len(dossier.Transcript))
	}

	// Degraded builds are delivered but never persisted.
	if _, err := sqlite.GetLatestDossierByConversation(db, conversationID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected no stored dossier, got err=%v", err)
	}
	if len(deliverer.dossiers) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(deliverer.dossiers))
	}

	conv, err := sqlite.GetConversationByID(db, conversationID)
	if err != nil {
		t.Fatalf("GetConversationByID: %v", err)
	}
	if conv.Status != domain.StatusEscalated {
		t.Fatalf("conversation status = %q, want escalated", conv.Status)
	}
}

func TestBuildApproachFailureDegrades(t *testing.T) {
	db := newTestDB(t)
	dealershipID, conversationID := seedConversation(t, db)

	provider := &routingProvider{
		insightsJSON:  `[]`,
		interestsJSON: `[]`,
		summary:       "Summary.",
		failApproach:  true,
	}
	builder := NewBuilder(db, provider, nil, nil)

	dossier, err := builder.Build(context.Background(), BuildRequest{
		ConversationID: conversationID,
		DealershipID:   dealershipID,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if dossier.ID != domain.FallbackDossierID {
		t.Fatalf("dossier id = %q, want %q", dossier.ID, domain.FallbackDossierID)
	}
}

func TestBuildTranscriptIsPointInTimeSnapshot(t *testing.T) {
	db := newTestDB(t)
	dealershipID, conversationID := seedConversation(t, db)

	provider := &routingProvider{
		insightsJSON:  `[]`,
		interestsJSON: `[]`,
		summary:       "Summary.",
		approach:      "Approach.",
	}
	builder := NewBuilder(db, provider, nil, nil)

	dossier, err := builder.Build(context.Background(), BuildRequest{
		ConversationID: conversationID,
		DealershipID:   dealershipID,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(dossier.Transcript) != 2 {
		t.Fatalf("transcript entries = %d, want 2", len(dossier.Transcript))
	}

	// Conversation activity after the build must not change what staff saw.
	if err := sqlite.InsertMessage(db, domain.Message{
		ID:             "msg-3",
		ConversationID: conversationID,
		Body:           "One more thing, what about financing?",
		IsFromCustomer: true,
		Channel:        "web",
	}); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	stored, err := sqlite.GetLatestDossierByConversation(db, conversationID)
	if err != nil {
		t.Fatalf("GetLatestDossierByConversation: %v", err)
	}
	if len(stored.Transcript) != 2 {
		t.Fatalf("stored transcript entries = %d, want the 2 captured at build time", len(stored.Transcript))
	}
	for _, entry := range stored.Transcript {
		if entry.Body == "One more thing, what about financing?" {
			t.Fatal("message sent after the build leaked into the stored transcript")
		}
	}
}

func TestBuildDeliveryFailureDoesNotMarkSent(t *testing.T) {
	db := newTestDB(t)
	dealershipID, conversationID := seedConversation(t, db)

	provider := &routingProvider{
		insightsJSON:  `[]`,
		interestsJSON: `[]`,
		summary:       "Summary.",
		approach:      "Approach.",
	}
	deliverer := &recordingDeliverer{err: errors.New("smtp down")}
	builder := NewBuilder(db, provider, deliverer, nil)

	dossier, err := builder.Build(context.Background(), BuildRequest{
		ConversationID: conversationID,
		DealershipID:   dealershipID,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if dossier.IsEmailSent {
		t.Fatal("failed delivery must not mark the dossier email-sent")
	}

	stored, err := sqlite.GetLatestDossierByConversation(db, conversationID)
	if err != nil {
		t.Fatalf("GetLatestDossierByConversation: %v", err)
	}
	if stored.IsEmailSent {
		t.Fatal("stored dossier must not be email-sent after a failed delivery")
	}
}
