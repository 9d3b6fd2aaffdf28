package slackalert

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/slack-go/slack"

	"dealerpilot/internal/domain"
)

// Notifier posts short handover alerts to a staff Slack channel. The full
// briefing goes by email; the alert just gets eyes on it fast.
type Notifier struct {
	api       *slack.Client
	channelID string
}

func NewNotifier(botToken, channelID string) *Notifier {
	return &Notifier{api: slack.New(botToken), channelID: channelID}
}

func (n *Notifier) AlertHandover(_ context.Context, dealership domain.Dealership, dossier domain.HandoverDossier) error {
	customer := dossier.CustomerName
	if strings.TrimSpace(customer) == "" {
		customer = "a customer"
	}
	msg := fmt.Sprintf(":rotating_light: *Handover at %s*: %s (urgency: %s)\nReason: %s\nConversation: %s",
		dealership.Name, customer, dossier.Urgency, dossier.EscalationReason, dossier.ConversationID)

	_, _, err := n.api.PostMessage(n.channelID, slack.MsgOptionText(msg, false))
	if err != nil {
		return fmt.Errorf("posting handover alert: %w", err)
	}
	log.Printf("slack handover alert channel=%s conversation=%s", n.channelID, dossier.ConversationID)
	return nil
}
