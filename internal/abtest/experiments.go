package abtest

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dealerpilot/internal/domain"
	"dealerpilot/internal/storage/sqlite"
)

// Allocation assigns a traffic percentage to a variant at experiment
// creation time.
type Allocation struct {
	VariantID         string
	TrafficAllocation int
}

// CreateExperiment validates and stores a new experiment. Allocations must
// sum to exactly 100 here even though selection renormalizes; authoring
// mistakes should fail loudly, selection should never fail.
func CreateExperiment(db *sql.DB, dealershipID, name, description string, startAt, endAt time.Time, allocations []Allocation) (domain.PromptExperiment, error) {
	var exp domain.PromptExperiment
	if len(allocations) == 0 {
		return exp, fmt.Errorf("experiment needs at least one variant allocation")
	}

	total := 0
	for _, a := range allocations {
		if a.TrafficAllocation < 0 || a.TrafficAllocation > 100 {
			return exp, fmt.Errorf("allocation %d for variant %s out of range 0-100", a.TrafficAllocation, a.VariantID)
		}
		total += a.TrafficAllocation
	}
	if total != 100 {
		return exp, fmt.Errorf("allocations sum to %d, must sum to 100", total)
	}

	for _, a := range allocations {
		v, err := sqlite.GetVariantByID(db, a.VariantID)
		if err != nil {
			return exp, fmt.Errorf("variant %s: %w", a.VariantID, err)
		}
		if v.DealershipID != dealershipID {
			return exp, fmt.Errorf("variant %s belongs to another dealership", a.VariantID)
		}
	}

	if startAt.IsZero() {
		startAt = time.Now()
	}
	exp = domain.PromptExperiment{
		ID:           uuid.NewString(),
		DealershipID: dealershipID,
		Name:         name,
		Description:  description,
		StartAt:      startAt,
		EndAt:        endAt,
		IsActive:     true,
	}
	assignments := make([]domain.ExperimentVariant, 0, len(allocations))
	for _, a := range allocations {
		assignments = append(assignments, domain.ExperimentVariant{
			ID:                uuid.NewString(),
			ExperimentID:      exp.ID,
			VariantID:         a.VariantID,
			TrafficAllocation: a.TrafficAllocation,
		})
	}
	if err := sqlite.InsertExperiment(db, exp, assignments); err != nil {
		return exp, fmt.Errorf("inserting experiment: %w", err)
	}
	return exp, nil
}

// CloseExperiment deactivates the experiment and records conclusion notes.
func CloseExperiment(db *sql.DB, id, conclusion string) error {
	return sqlite.CloseExperiment(db, id, conclusion)
}

// CreateVariant stores a new prompt variant. Control status is assigned
// separately through SetControl so exclusivity stays in one code path.
func CreateVariant(db *sql.DB, dealershipID, name, description, template string) (domain.PromptVariant, error) {
	v := domain.PromptVariant{
		ID:           uuid.NewString(),
		DealershipID: dealershipID,
		Name:         name,
		Description:  description,
		Template:     template,
		IsActive:     true,
	}
	if err := sqlite.InsertVariant(db, v); err != nil {
		return v, fmt.Errorf("inserting variant: %w", err)
	}
	return v, nil
}

// SetControl atomically moves control status to the given variant,
// clearing the previous holder in the same transaction.
func SetControl(db *sql.DB, dealershipID, variantID string) error {
	return sqlite.SetControlVariant(db, dealershipID, variantID)
}

// DeactivateVariant soft-deletes a variant from future selection.
func DeactivateVariant(db *sql.DB, variantID string) error {
	return sqlite.DeactivateVariant(db, variantID)
}
