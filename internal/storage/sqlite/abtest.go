package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"dealerpilot/internal/domain"
)

// --- Prompt Variants ---

func InsertVariant(db *sql.DB, v domain.PromptVariant) error {
	_, err := db.Exec(
		`INSERT INTO prompt_variants (id, dealership_id, name, description, template, is_control, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.DealershipID, v.Name, v.Description, v.Template, boolToInt(v.IsControl), boolToInt(v.IsActive),
	)
	return err
}

func GetVariantByID(db *sql.DB, id string) (domain.PromptVariant, error) {
	row := db.QueryRow(
		`SELECT id, dealership_id, name, description, template, is_control, is_active, created_at
		 FROM prompt_variants WHERE id = ?`,
		id,
	)
	return scanVariant(row)
}

func GetControlVariant(db *sql.DB, dealershipID string) (domain.PromptVariant, error) {
	row := db.QueryRow(
		`SELECT id, dealership_id, name, description, template, is_control, is_active, created_at
		 FROM prompt_variants
		 WHERE dealership_id = ? AND is_control = 1 AND is_active = 1
		 LIMIT 1`,
		dealershipID,
	)
	return scanVariant(row)
}

// SetControlVariant clears the previous control holder and assigns the new
// one in a single transaction so the per-dealership exclusivity invariant
// holds even under concurrent reassignment.
func SetControlVariant(db *sql.DB, dealershipID, variantID string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE prompt_variants SET is_control = 0 WHERE dealership_id = ? AND is_control = 1`,
		dealershipID,
	); err != nil {
		return err
	}
	res, err := tx.Exec(
		`UPDATE prompt_variants SET is_control = 1 WHERE id = ? AND dealership_id = ?`,
		variantID, dealershipID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("variant %s not found for dealership %s", variantID, dealershipID)
	}
	return tx.Commit()
}

// DeactivateVariant soft-deletes a variant. Variants are never hard-deleted
// because metrics rows reference them.
func DeactivateVariant(db *sql.DB, id string) error {
	_, err := db.Exec(`UPDATE prompt_variants SET is_active = 0 WHERE id = ?`, id)
	return err
}

func scanVariant(row *sql.Row) (domain.PromptVariant, error) {
	var v domain.PromptVariant
	var control, active int
	err := row.Scan(&v.ID, &v.DealershipID, &v.Name, &v.Description, &v.Template, &control, &active, &v.CreatedAt)
	if err != nil {
		return v, err
	}
	v.IsControl = control != 0
	v.IsActive = active != 0
	return v, nil
}

// --- Experiments ---

// InsertExperiment stores the experiment and its variant assignments
// atomically.
func InsertExperiment(db *sql.DB, exp domain.PromptExperiment, assignments []domain.ExperimentVariant) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var endAt any
	if !exp.EndAt.IsZero() {
		endAt = exp.EndAt
	}
	if _, err := tx.Exec(
		`INSERT INTO prompt_experiments (id, dealership_id, name, description, start_at, end_at, is_active, conclusion)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		exp.ID, exp.DealershipID, exp.Name, exp.Description, exp.StartAt, endAt, boolToInt(exp.IsActive), exp.Conclusion,
	); err != nil {
		return err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO experiment_variants (id, experiment_id, variant_id, traffic_allocation)
		 VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ev := range assignments {
		if _, err := stmt.Exec(ev.ID, ev.ExperimentID, ev.VariantID, ev.TrafficAllocation); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetActiveExperiments returns experiments for the dealership whose time
// window contains now and whose is_active flag is set.
func GetActiveExperiments(db *sql.DB, dealershipID string, now time.Time) ([]domain.PromptExperiment, error) {
	rows, err := db.Query(
		`SELECT id, dealership_id, name, description, start_at, end_at, is_active, conclusion, created_at
		 FROM prompt_experiments
		 WHERE dealership_id = ? AND is_active = 1
		   AND start_at <= ?
		   AND (end_at IS NULL OR end_at >= ?)
		 ORDER BY created_at, id`,
		dealershipID, now, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PromptExperiment
	for rows.Next() {
		var exp domain.PromptExperiment
		var active int
		var endAt sql.NullTime
		if err := rows.Scan(&exp.ID, &exp.DealershipID, &exp.Name, &exp.Description,
			&exp.StartAt, &endAt, &active, &exp.Conclusion, &exp.CreatedAt); err != nil {
			return nil, err
		}
		exp.IsActive = active != 0
		if endAt.Valid {
			exp.EndAt = endAt.Time
		}
		out = append(out, exp)
	}
	return out, rows.Err()
}

// GetActiveExperimentVariants returns the experiment's assignments joined
// with their variants, keeping only variants still flagged active. Order is
// fixed so weighted selection walks a stable sequence.
func GetActiveExperimentVariants(db *sql.DB, experimentID string) ([]domain.PromptVariant, []int, error) {
	rows, err := db.Query(
		`SELECT v.id, v.dealership_id, v.name, v.description, v.template, v.is_control, v.is_active, v.created_at,
		        ev.traffic_allocation
		 FROM experiment_variants ev
		 JOIN prompt_variants v ON v.id = ev.variant_id
		 WHERE ev.experiment_id = ? AND v.is_active = 1
		 ORDER BY ev.id`,
		experimentID,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var variants []domain.PromptVariant
	var weights []int
	for rows.Next() {
		var v domain.PromptVariant
		var control, active, weight int
		if err := rows.Scan(&v.ID, &v.DealershipID, &v.Name, &v.Description, &v.Template,
			&control, &active, &v.CreatedAt, &weight); err != nil {
			return nil, nil, err
		}
		v.IsControl = control != 0
		v.IsActive = active != 0
		variants = append(variants, v)
		weights = append(weights, weight)
	}
	return variants, weights, rows.Err()
}

// CloseExperiment deactivates the experiment and records conclusion notes.
func CloseExperiment(db *sql.DB, id, conclusion string) error {
	res, err := db.Exec(
		`UPDATE prompt_experiments SET is_active = 0, end_at = CURRENT_TIMESTAMP, conclusion = ? WHERE id = ?`,
		conclusion, id,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("experiment %s not found", id)
	}
	return nil
}

// --- Prompt Metrics ---

func InsertMetrics(db *sql.DB, m domain.PromptMetrics) error {
	_, err := db.Exec(
		`INSERT INTO prompt_metrics
		 (id, variant_id, conversation_id, message_id, latency_ms, token_estimate, message_length, response_length, was_escalated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.VariantID, m.ConversationID, m.MessageID, m.LatencyMs, m.TokenEstimate,
		m.MessageLength, m.ResponseLength, boolToInt(m.WasEscalated),
	)
	return err
}

func UpdateMetricsSuccess(db *sql.DB, id string, wasSuccessful bool) error {
	res, err := db.Exec(`UPDATE prompt_metrics SET was_successful = ? WHERE id = ?`, boolToInt(wasSuccessful), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("metrics %s: %w", id, ErrNotFound)
	}
	return nil
}

func UpdateMetricsRating(db *sql.DB, id string, rating int) error {
	res, err := db.Exec(`UPDATE prompt_metrics SET rating = ? WHERE id = ?`, rating, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("metrics %s: %w", id, ErrNotFound)
	}
	return nil
}

func GetMetricsByID(db *sql.DB, id string) (domain.PromptMetrics, error) {
	var m domain.PromptMetrics
	var escalated int
	var successful, rating sql.NullInt64
	err := db.QueryRow(
		`SELECT id, variant_id, conversation_id, message_id, latency_ms, token_estimate,
		        message_length, response_length, was_escalated, was_successful, rating, created_at
		 FROM prompt_metrics WHERE id = ?`,
		id,
	).Scan(&m.ID, &m.VariantID, &m.ConversationID, &m.MessageID, &m.LatencyMs, &m.TokenEstimate,
		&m.MessageLength, &m.ResponseLength, &escalated, &successful, &rating, &m.CreatedAt)
	if err != nil {
		return m, err
	}
	m.WasEscalated = escalated != 0
	if successful.Valid {
		b := successful.Int64 != 0
		m.WasSuccessful = &b
	}
	if rating.Valid {
		r := int(rating.Int64)
		m.Rating = &r
	}
	return m, nil
}

// VariantStats aggregates per-variant outcomes for experiment analysis.
type VariantStats struct {
	VariantID      string
	VariantName    string
	Turns          int
	Escalations    int
	Successes      int
	RatedTurns     int
	AvgRating      float64
	AvgLatencyMs   float64
	EscalationRate float64
}

func GetVariantStats(db *sql.DB, dealershipID string, since time.Time) ([]VariantStats, error) {
	rows, err := db.Query(
		`SELECT v.id, v.name, COUNT(m.id),
		        COALESCE(SUM(m.was_escalated), 0),
		        COALESCE(SUM(CASE WHEN m.was_successful = 1 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN m.rating IS NOT NULL THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(m.rating), 0),
		        COALESCE(AVG(m.latency_ms), 0)
		 FROM prompt_variants v
		 JOIN prompt_metrics m ON m.variant_id = v.id
		 WHERE v.dealership_id = ? AND m.created_at >= ?
		 GROUP BY v.id, v.name
		 ORDER BY COUNT(m.id) DESC`,
		dealershipID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VariantStats
	for rows.Next() {
		var s VariantStats
		if err := rows.Scan(&s.VariantID, &s.VariantName, &s.Turns, &s.Escalations,
			&s.Successes, &s.RatedTurns, &s.AvgRating, &s.AvgLatencyMs); err != nil {
			return nil, err
		}
		if s.Turns > 0 {
			s.EscalationRate = float64(s.Escalations) / float64(s.Turns)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func GetDealershipIDsWithMetrics(db *sql.DB, since time.Time) ([]string, error) {
	rows, err := db.Query(
		`SELECT DISTINCT v.dealership_id
		 FROM prompt_variants v
		 JOIN prompt_metrics m ON m.variant_id = v.id
		 WHERE m.created_at >= ?`,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
