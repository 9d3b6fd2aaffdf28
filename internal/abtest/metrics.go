package abtest

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"dealerpilot/internal/domain"
	"dealerpilot/internal/storage/sqlite"
)

// Metrics records per-turn experiment outcomes. Exactly one row is created
// per AI turn that used a selected variant; turns served by the
// dealership's base template are not tracked.
type Metrics struct {
	db *sql.DB
}

func NewMetrics(db *sql.DB) *Metrics {
	return &Metrics{db: db}
}

// EstimateTokens is a deterministic character-length approximation, good
// enough for relative comparison across variants. Not a billing figure.
func EstimateTokens(messageLen, responseLen int) int64 {
	return int64(messageLen+responseLen) / 4
}

func (m *Metrics) Track(variantID, conversationID, messageID string, latencyMs int64, messageLen, responseLen int, wasEscalated bool) (string, error) {
	rec := domain.PromptMetrics{
		ID:             uuid.NewString(),
		VariantID:      variantID,
		ConversationID: conversationID,
		MessageID:      messageID,
		LatencyMs:      latencyMs,
		TokenEstimate:  EstimateTokens(messageLen, responseLen),
		MessageLength:  messageLen,
		ResponseLength: responseLen,
		WasEscalated:   wasEscalated,
	}
	if err := sqlite.InsertMetrics(m.db, rec); err != nil {
		return "", fmt.Errorf("inserting metrics: %w", err)
	}
	return rec.ID, nil
}

// UpdateSuccess records the out-of-band success outcome. A missing metric
// id is reported as an error, never a panic.
func (m *Metrics) UpdateSuccess(id string, wasSuccessful bool) error {
	return sqlite.UpdateMetricsSuccess(m.db, id, wasSuccessful)
}

func (m *Metrics) UpdateRating(id string, rating int) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("rating %d out of range 1-5", rating)
	}
	return sqlite.UpdateMetricsRating(m.db, id, rating)
}
