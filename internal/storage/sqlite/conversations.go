package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"dealerpilot/internal/domain"
)

// --- Conversations ---

func InsertConversation(db *sql.DB, c domain.Conversation) error {
	_, err := db.Exec(
		`INSERT INTO conversations (id, dealership_id, customer_name, customer_contact, status, assigned_agent)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.DealershipID, c.CustomerName, c.CustomerContact, c.Status, c.AssignedAgent,
	)
	return err
}

func GetConversationByID(db *sql.DB, id string) (domain.Conversation, error) {
	var c domain.Conversation
	err := db.QueryRow(
		`SELECT id, dealership_id, customer_name, customer_contact, status, assigned_agent, created_at, updated_at
		 FROM conversations WHERE id = ?`,
		id,
	).Scan(&c.ID, &c.DealershipID, &c.CustomerName, &c.CustomerContact, &c.Status, &c.AssignedAgent, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// TouchConversation bumps updated_at; called on every new message.
func TouchConversation(db *sql.DB, id string) error {
	_, err := db.Exec(`UPDATE conversations SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

func SetConversationStatus(db *sql.DB, id, status string) error {
	res, err := db.Exec(
		`UPDATE conversations SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, id,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("conversation %s not found", id)
	}
	return nil
}

func AssignConversationAgent(db *sql.DB, id, agent string) error {
	_, err := db.Exec(
		`UPDATE conversations SET assigned_agent = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		agent, id,
	)
	return err
}

// --- Messages ---

func InsertMessage(db *sql.DB, m domain.Message) error {
	_, err := db.Exec(
		`INSERT INTO messages (id, conversation_id, body, is_from_customer, channel, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Body, boolToInt(m.IsFromCustomer), m.Channel, m.Metadata,
	)
	return err
}

// GetMessagesByConversation returns the conversation's messages oldest
// first.
func GetMessagesByConversation(db *sql.DB, conversationID string) ([]domain.Message, error) {
	rows, err := db.Query(
		`SELECT id, conversation_id, body, is_from_customer, channel, metadata, created_at
		 FROM messages
		 WHERE conversation_id = ?
		 ORDER BY created_at, id`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var fromCustomer int
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Body, &fromCustomer, &m.Channel, &m.Metadata, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.IsFromCustomer = fromCustomer != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Handover Dossiers ---

func InsertDossier(db *sql.DB, d domain.HandoverDossier) error {
	insights, err := json.Marshal(d.Insights)
	if err != nil {
		return fmt.Errorf("marshaling insights: %w", err)
	}
	interests, err := json.Marshal(d.VehicleInterests)
	if err != nil {
		return fmt.Errorf("marshaling vehicle interests: %w", err)
	}
	transcript, err := json.Marshal(d.Transcript)
	if err != nil {
		return fmt.Errorf("marshaling transcript: %w", err)
	}
	_, err = db.Exec(
		`INSERT INTO handover_dossiers
		 (id, conversation_id, dealership_id, customer_name, customer_contact, summary,
		  insights, vehicle_interests, suggested_approach, urgency, escalation_reason, transcript, is_email_sent)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		d.ID, d.ConversationID, d.DealershipID, d.CustomerName, d.CustomerContact, d.Summary,
		string(insights), string(interests), d.SuggestedApproach, d.Urgency, d.EscalationReason, string(transcript),
	)
	return err
}

// GetLatestDossierByConversation returns the most recent dossier for the
// conversation (latest-wins when a conversation was handed over more than
// once).
func GetLatestDossierByConversation(db *sql.DB, conversationID string) (domain.HandoverDossier, error) {
	row := db.QueryRow(
		`SELECT id, conversation_id, dealership_id, customer_name, customer_contact, summary,
		        insights, vehicle_interests, suggested_approach, urgency, escalation_reason, transcript,
		        is_email_sent, email_sent_at, created_at
		 FROM handover_dossiers
		 WHERE conversation_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		conversationID,
	)
	return scanDossier(row.Scan)
}

func MarkDossierEmailSent(db *sql.DB, id string) error {
	_, err := db.Exec(
		`UPDATE handover_dossiers SET is_email_sent = 1, email_sent_at = CURRENT_TIMESTAMP WHERE id = ?`,
		id,
	)
	return err
}

// GetUnsentDossiers feeds the scheduler's email retry sweep.
func GetUnsentDossiers(db *sql.DB, limit int) ([]domain.HandoverDossier, error) {
	rows, err := db.Query(
		`SELECT id, conversation_id, dealership_id, customer_name, customer_contact, summary,
		        insights, vehicle_interests, suggested_approach, urgency, escalation_reason, transcript,
		        is_email_sent, email_sent_at, created_at
		 FROM handover_dossiers
		 WHERE is_email_sent = 0
		 ORDER BY created_at
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.HandoverDossier
	for rows.Next() {
		d, err := scanDossier(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDossier(scan func(...any) error) (domain.HandoverDossier, error) {
	var d domain.HandoverDossier
	var insights, interests, transcript string
	var emailSent int
	var emailSentAt sql.NullTime
	err := scan(&d.ID, &d.ConversationID, &d.DealershipID, &d.CustomerName, &d.CustomerContact, &d.Summary,
		&insights, &interests, &d.SuggestedApproach, &d.Urgency, &d.EscalationReason, &transcript,
		&emailSent, &emailSentAt, &d.CreatedAt)
	if err != nil {
		return d, err
	}
	d.IsEmailSent = emailSent != 0
	if emailSentAt.Valid {
		d.EmailSentAt = emailSentAt.Time
	}
	if err := json.Unmarshal([]byte(insights), &d.Insights); err != nil {
		return d, fmt.Errorf("unmarshaling insights: %w", err)
	}
	if err := json.Unmarshal([]byte(interests), &d.VehicleInterests); err != nil {
		return d, fmt.Errorf("unmarshaling vehicle interests: %w", err)
	}
	if err := json.Unmarshal([]byte(transcript), &d.Transcript); err != nil {
		return d, fmt.Errorf("unmarshaling transcript: %w", err)
	}
	return d, nil
}
