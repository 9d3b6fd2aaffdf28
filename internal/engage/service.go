package engage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"dealerpilot/internal/abtest"
	"dealerpilot/internal/domain"
	"dealerpilot/internal/handover"
	"dealerpilot/internal/integrations/llm"
	"dealerpilot/internal/respond"
	"dealerpilot/internal/storage/sqlite"
)

// escalatedHoldResponse is returned for messages arriving after a
// conversation has been handed to a human; the AI never takes a turn on an
// escalated conversation.
const escalatedHoldResponse = "Thanks for your message! One of our team members is handling this " +
	"conversation and will get back to you shortly."

// promptInventoryLimit caps inventory rows included in reply prompts.
// Smaller than the dossier's cross-reference window; replies only need
// enough context to avoid inventing vehicles.
const promptInventoryLimit = 20

// Service wires the reply pipeline: keyword classifier, variant selector,
// response generator, metrics recorder and handover builder.
type Service struct {
	db        *sql.DB
	selector  *abtest.Selector
	metrics   *abtest.Metrics
	generator *respond.Generator
	builder   *handover.Builder
}

func NewService(db *sql.DB, selector *abtest.Selector, metrics *abtest.Metrics, generator *respond.Generator, builder *handover.Builder) *Service {
	return &Service{db: db, selector: selector, metrics: metrics, generator: generator, builder: builder}
}

type InboundRequest struct {
	DealershipID    string
	ConversationID  string // empty starts a new conversation
	CustomerName    string
	CustomerContact string
	Message         string
	Channel         string
}

type InboundResult struct {
	ConversationID   string
	ResponseText     string
	Status           string
	ShouldEscalate   bool
	EscalationReason string
	MetricID         string
	Dossier          *domain.HandoverDossier
}

// HandleInbound routes a new customer message through the pipeline,
// creating the conversation when no id is supplied.
func (s *Service) HandleInbound(ctx context.Context, req InboundRequest) (InboundResult, error) {
	var result InboundResult
	if req.Message == "" {
		return result, fmt.Errorf("empty message")
	}

	dealership, err := sqlite.GetDealershipByID(s.db, req.DealershipID)
	if err != nil {
		return result, fmt.Errorf("loading dealership %s: %w", req.DealershipID, err)
	}

	var conv domain.Conversation
	if req.ConversationID == "" {
		conv = domain.Conversation{
			ID:              uuid.NewString(),
			DealershipID:    req.DealershipID,
			CustomerName:    req.CustomerName,
			CustomerContact: req.CustomerContact,
			Status:          domain.StatusActive,
		}
		if err := sqlite.InsertConversation(s.db, conv); err != nil {
			return result, fmt.Errorf("creating conversation: %w", err)
		}
	} else {
		conv, err = sqlite.GetConversationByID(s.db, req.ConversationID)
		if err != nil {
			return result, fmt.Errorf("loading conversation %s: %w", req.ConversationID, err)
		}
		if conv.DealershipID != req.DealershipID {
			return result, fmt.Errorf("conversation %s belongs to another dealership", req.ConversationID)
		}
	}

	return s.takeTurn(ctx, dealership, conv, req.Message, req.Channel)
}

type ReplyResult struct {
	ResponseText     string
	ShouldEscalate   bool
	EscalationReason string
	Dossier          *domain.HandoverDossier
}

// HandleReply processes a follow-up message on an existing conversation.
func (s *Service) HandleReply(ctx context.Context, conversationID, message string) (ReplyResult, error) {
	var result ReplyResult
	conv, err := sqlite.GetConversationByID(s.db, conversationID)
	if err != nil {
		return result, fmt.Errorf("loading conversation %s: %w", conversationID, err)
	}
	dealership, err := sqlite.GetDealershipByID(s.db, conv.DealershipID)
	if err != nil {
		return result, fmt.Errorf("loading dealership %s: %w", conv.DealershipID, err)
	}

	inbound, err := s.takeTurn(ctx, dealership, conv, message, "web")
	if err != nil {
		return result, err
	}
	return ReplyResult{
		ResponseText:     inbound.ResponseText,
		ShouldEscalate:   inbound.ShouldEscalate,
		EscalationReason: inbound.EscalationReason,
		Dossier:          inbound.Dossier,
	}, nil
}

// HandleHandoverRequest forces a dossier build for a conversation, e.g.
// when staff pull a conversation manually.
func (s *Service) HandleHandoverRequest(ctx context.Context, conversationID, reason string) (*domain.HandoverDossier, error) {
	conv, err := sqlite.GetConversationByID(s.db, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation %s: %w", conversationID, err)
	}
	if reason == "" {
		reason = "manual handover request"
	}
	return s.builder.Build(ctx, handover.BuildRequest{
		ConversationID:   conv.ID,
		DealershipID:     conv.DealershipID,
		CustomerName:     conv.CustomerName,
		CustomerContact:  conv.CustomerContact,
		EscalationReason: reason,
	})
}

// takeTurn persists the customer message, generates the AI turn, records
// metrics for experiment turns, and triggers the handover build when the
// turn escalates.
func (s *Service) takeTurn(ctx context.Context, dealership domain.Dealership, conv domain.Conversation, message, channel string) (InboundResult, error) {
	result := InboundResult{ConversationID: conv.ID, Status: conv.Status}

	if channel == "" {
		channel = "web"
	}
	customerMsg := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Body:           message,
		IsFromCustomer: true,
		Channel:        channel,
	}
	if err := sqlite.InsertMessage(s.db, customerMsg); err != nil {
		return result, fmt.Errorf("persisting customer message: %w", err)
	}
	if err := sqlite.TouchConversation(s.db, conv.ID); err != nil {
		log.Printf("engage touch conversation=%s err=%v", conv.ID, err)
	}

	// Escalation is one-directional: once a human owns the conversation
	// the AI holds instead of replying.
	if conv.Status == domain.StatusEscalated || conv.Status == domain.StatusCompleted {
		result.ResponseText = escalatedHoldResponse
		return result, nil
	}

	history := s.loadHistory(conv.ID, customerMsg.ID)

	variant := s.selector.SelectOrNone(dealership.ID)
	template := dealership.BaseTemplate
	if variant != nil {
		template = variant.Template
	}

	personaArgs := parsePersonaArgs(dealership.PersonaArgs)

	inventory, err := sqlite.GetRecentActiveVehicles(s.db, dealership.ID, promptInventoryLimit)
	if err != nil {
		log.Printf("engage inventory load dealership=%s err=%v (continuing without inventory)", dealership.ID, err)
	}

	start := time.Now()
	gen := s.generator.Generate(ctx, respond.GenerateInput{
		CustomerMessage: message,
		History:         history,
		Template:        template,
		PersonaArgs:     personaArgs,
		DealershipName:  dealership.Name,
		Inventory:       inventory,
	})
	latencyMs := time.Since(start).Milliseconds()

	assistantMsg := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Body:           gen.Response,
		IsFromCustomer: false,
		Channel:        channel,
	}
	if err := sqlite.InsertMessage(s.db, assistantMsg); err != nil {
		return result, fmt.Errorf("persisting assistant message: %w", err)
	}

	// Only experiment turns are tracked; base-template turns carry no
	// variant to compare against. A metrics write failure never blocks
	// the reply.
	if variant != nil {
		metricID, err := s.metrics.Track(variant.ID, conv.ID, assistantMsg.ID, latencyMs, len(message), len(gen.Response), gen.ShouldEscalate)
		if err != nil {
			log.Printf("engage metrics conversation=%s variant=%s err=%v", conv.ID, variant.ID, err)
		} else {
			result.MetricID = metricID
		}
	}

	result.ResponseText = gen.Response
	result.ShouldEscalate = gen.ShouldEscalate
	result.EscalationReason = gen.Reason

	if gen.ShouldEscalate {
		dossier, err := s.builder.Build(ctx, handover.BuildRequest{
			ConversationID:   conv.ID,
			DealershipID:     dealership.ID,
			CustomerName:     conv.CustomerName,
			CustomerContact:  conv.CustomerContact,
			EscalationReason: gen.Reason,
		})
		if err != nil {
			log.Printf("engage handover conversation=%s err=%v", conv.ID, err)
		}
		result.Dossier = dossier
		result.Status = domain.StatusEscalated
	} else {
		result.Status = domain.StatusActive
	}
	return result, nil
}

// loadHistory returns prior turns oldest first, excluding the message just
// persisted for this turn.
func (s *Service) loadHistory(conversationID, excludeMessageID string) []llm.Turn {
	messages, err := sqlite.GetMessagesByConversation(s.db, conversationID)
	if err != nil {
		log.Printf("engage history load conversation=%s err=%v (continuing without history)", conversationID, err)
		return nil
	}
	var turns []llm.Turn
	for _, m := range messages {
		if m.ID == excludeMessageID {
			continue
		}
		role := "assistant"
		if m.IsFromCustomer {
			role = "user"
		}
		turns = append(turns, llm.Turn{Role: role, Content: m.Body})
	}
	return turns
}

func parsePersonaArgs(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		log.Printf("engage persona args parse err=%v (continuing without persona args)", err)
		return nil
	}
	return args
}
