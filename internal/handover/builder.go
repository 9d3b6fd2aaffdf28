package handover

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"dealerpilot/internal/domain"
	"dealerpilot/internal/integrations/llm"
	"dealerpilot/internal/storage/sqlite"
)

// inventoryLimit caps how many recent inventory rows feed the vehicle
// interest analysis.
const inventoryLimit = 50

// fallbackApproach is the generic guidance used when analysis degrades.
const fallbackApproach = "Review the conversation transcript before reaching out. Open by acknowledging " +
	"the customer's last message, confirm what they are looking for, and offer a call or visit."

// Deliverer hands a finished dossier to the email collaborator.
type Deliverer interface {
	DeliverDossier(ctx context.Context, dealership domain.Dealership, dossier domain.HandoverDossier) error
}

// Alerter posts a short staff notification about the handover, e.g. to a
// Slack channel.
type Alerter interface {
	AlertHandover(ctx context.Context, dealership domain.Dealership, dossier domain.HandoverDossier) error
}

// Builder assembles handover dossiers. A build never propagates analysis
// errors: staff always receive a dossier, degraded if necessary.
type Builder struct {
	db       *sql.DB
	provider llm.Provider
	mailer   Deliverer // optional
	alerter  Alerter   // optional
}

func NewBuilder(db *sql.DB, provider llm.Provider, mailer Deliverer, alerter Alerter) *Builder {
	return &Builder{db: db, provider: provider, mailer: mailer, alerter: alerter}
}

type BuildRequest struct {
	ConversationID   string
	DealershipID     string
	CustomerName     string
	CustomerContact  string
	EscalationReason string
}

// Build runs the analysis battery over the conversation, assembles and
// persists the dossier, transitions the conversation to escalated, and
// hands the result to the delivery collaborators. The returned dossier is
// never nil; the error reports persistence failures only.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*domain.HandoverDossier, error) {
	transcript := b.snapshotTranscript(req.ConversationID)

	var customerMessages []string
	for _, entry := range transcript {
		if entry.From == "customer" {
			customerMessages = append(customerMessages, entry.Body)
		}
	}

	inventory, err := sqlite.GetRecentActiveVehicles(b.db, req.DealershipID, inventoryLimit)
	if err != nil {
		log.Printf("handover inventory load conversation=%s err=%v (continuing without inventory)", req.ConversationID, err)
	}

	// Independent analyses fan out concurrently; all must finish before
	// assembly.
	var wg sync.WaitGroup
	var (
		insights    []domain.CustomerInsight
		insightsErr error
		interests   []domain.VehicleInterest
		interestErr error
		summary     string
		summaryErr  error
	)
	var usage llm.Usage
	var usageMu sync.Mutex
	addUsage := func(u llm.Usage) {
		usageMu.Lock()
		usage.Add(u)
		usageMu.Unlock()
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		var u llm.Usage
		insights, u, insightsErr = analyzeInsights(ctx, b.provider, transcript)
		addUsage(u)
	}()
	go func() {
		defer wg.Done()
		var u llm.Usage
		interests, u, interestErr = analyzeVehicleInterests(ctx, b.provider, transcript, inventory)
		addUsage(u)
	}()
	go func() {
		defer wg.Done()
		var u llm.Usage
		summary, u, summaryErr = summarizeConversation(ctx, b.provider, transcript, req.EscalationReason)
		addUsage(u)
	}()
	wg.Wait()

	if insightsErr != nil || interestErr != nil || summaryErr != nil {
		log.Printf("handover degraded conversation=%s insights_err=%v interests_err=%v summary_err=%v",
			req.ConversationID, insightsErr, interestErr, summaryErr)
		return b.finish(ctx, fallbackDossier(req, transcript), false)
	}

	approach, approachUsage, err := suggestApproach(ctx, b.provider, transcript, insights, interests)
	addUsage(approachUsage)
	if err != nil {
		log.Printf("handover degraded conversation=%s approach_err=%v", req.ConversationID, err)
		return b.finish(ctx, fallbackDossier(req, transcript), false)
	}

	log.Printf("handover analyses done conversation=%s insights=%d interests=%d tokens=%d",
		req.ConversationID, len(insights), len(interests), usage.TotalTokens())

	dossier := domain.HandoverDossier{
		ID:                uuid.NewString(),
		ConversationID:    req.ConversationID,
		DealershipID:      req.DealershipID,
		CustomerName:      req.CustomerName,
		CustomerContact:   req.CustomerContact,
		Summary:           summary,
		Insights:          insights,
		VehicleInterests:  interests,
		SuggestedApproach: approach,
		Urgency:           DetermineUrgency(insights, customerMessages),
		EscalationReason:  req.EscalationReason,
		Transcript:        transcript,
		CreatedAt:         time.Now(),
	}
	return b.finish(ctx, dossier, true)
}

// snapshotTranscript copies the conversation's messages at this point in
// time. A load failure degrades to an empty transcript rather than
// blocking the handover.
func (b *Builder) snapshotTranscript(conversationID string) []domain.TranscriptEntry {
	messages, err := sqlite.GetMessagesByConversation(b.db, conversationID)
	if err != nil {
		log.Printf("handover transcript load conversation=%s err=%v", conversationID, err)
		return nil
	}
	transcript := make([]domain.TranscriptEntry, 0, len(messages))
	for _, m := range messages {
		from := "assistant"
		if m.IsFromCustomer {
			from = "customer"
		}
		transcript = append(transcript, domain.TranscriptEntry{From: from, Body: m.Body, SentAt: m.CreatedAt})
	}
	return transcript
}

// fallbackDossier satisfies the full dossier schema with safe defaults.
// Urgency defaults to high: when analysis failed, staff should look
// sooner, not later.
func fallbackDossier(req BuildRequest, transcript []domain.TranscriptEntry) domain.HandoverDossier {
	return domain.HandoverDossier{
		ID:                domain.FallbackDossierID,
		ConversationID:    req.ConversationID,
		DealershipID:      req.DealershipID,
		CustomerName:      req.CustomerName,
		CustomerContact:   req.CustomerContact,
		Summary:           "Automatic analysis was unavailable for this conversation. Please review the transcript below.",
		Insights:          []domain.CustomerInsight{},
		VehicleInterests:  []domain.VehicleInterest{},
		SuggestedApproach: fallbackApproach,
		Urgency:           domain.UrgencyHigh,
		EscalationReason:  req.EscalationReason,
		Transcript:        transcript,
		CreatedAt:         time.Now(),
	}
}

// finish persists the dossier (degraded builds carry the sentinel id and
// are not persisted), marks the conversation escalated, and hands the
// dossier to the delivery collaborators. Delivery failures are logged and
// reflected in the returned dossier, never re-raised.
func (b *Builder) finish(ctx context.Context, dossier domain.HandoverDossier, persist bool) (*domain.HandoverDossier, error) {
	var persistErr error
	if persist {
		if err := sqlite.InsertDossier(b.db, dossier); err != nil {
			persistErr = fmt.Errorf("inserting dossier: %w", err)
			log.Printf("handover persist conversation=%s err=%v", dossier.ConversationID, err)
		}
	}

	if err := sqlite.SetConversationStatus(b.db, dossier.ConversationID, domain.StatusEscalated); err != nil {
		log.Printf("handover status update conversation=%s err=%v", dossier.ConversationID, err)
	}

	dealership, err := sqlite.GetDealershipByID(b.db, dossier.DealershipID)
	if err != nil {
		log.Printf("handover dealership load dealership=%s err=%v (skipping delivery)", dossier.DealershipID, err)
		return &dossier, persistErr
	}

	if b.mailer != nil {
		if err := b.mailer.DeliverDossier(ctx, dealership, dossier); err != nil {
			log.Printf("handover email delivery conversation=%s err=%v", dossier.ConversationID, err)
		} else {
			dossier.IsEmailSent = true
			dossier.EmailSentAt = time.Now()
			if persist && persistErr == nil {
				if err := sqlite.MarkDossierEmailSent(b.db, dossier.ID); err != nil {
					log.Printf("handover email tracking dossier=%s err=%v", dossier.ID, err)
				}
			}
		}
	}

	if b.alerter != nil {
		if err := b.alerter.AlertHandover(ctx, dealership, dossier); err != nil {
			log.Printf("handover slack alert conversation=%s err=%v", dossier.ConversationID, err)
		}
	}

	return &dossier, persistErr
}
