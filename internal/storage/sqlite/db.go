package sqlite

import (
	"database/sql"
	"errors"

	_ "github.com/mattn/go-sqlite3"

	"dealerpilot/internal/domain"
)

// ErrNotFound marks updates that matched no row, so callers can tell a
// missing id from a store failure.
var ErrNotFound = errors.New("row not found")

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS dealerships (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		base_template TEXT NOT NULL DEFAULT '',
		persona_args  TEXT NOT NULL DEFAULT '{}',
		from_address  TEXT NOT NULL DEFAULT '',
		staff_emails  TEXT NOT NULL DEFAULT '',
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS prompt_variants (
		id            TEXT PRIMARY KEY,
		dealership_id TEXT NOT NULL,
		name          TEXT NOT NULL,
		description   TEXT NOT NULL DEFAULT '',
		template      TEXT NOT NULL,
		is_control    INTEGER NOT NULL DEFAULT 0,
		is_active     INTEGER NOT NULL DEFAULT 1,
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_variants_dealership ON prompt_variants(dealership_id);

	CREATE TABLE IF NOT EXISTS prompt_experiments (
		id            TEXT PRIMARY KEY,
		dealership_id TEXT NOT NULL,
		name          TEXT NOT NULL,
		description   TEXT NOT NULL DEFAULT '',
		start_at      DATETIME NOT NULL,
		end_at        DATETIME,
		is_active     INTEGER NOT NULL DEFAULT 1,
		conclusion    TEXT NOT NULL DEFAULT '',
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_experiments_dealership ON prompt_experiments(dealership_id);

	CREATE TABLE IF NOT EXISTS experiment_variants (
		id                 TEXT PRIMARY KEY,
		experiment_id      TEXT NOT NULL,
		variant_id         TEXT NOT NULL,
		traffic_allocation INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ev_experiment ON experiment_variants(experiment_id);

	CREATE TABLE IF NOT EXISTS prompt_metrics (
		id              TEXT PRIMARY KEY,
		variant_id      TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		message_id      TEXT NOT NULL,
		latency_ms      INTEGER NOT NULL,
		token_estimate  INTEGER NOT NULL,
		message_length  INTEGER NOT NULL,
		response_length INTEGER NOT NULL,
		was_escalated   INTEGER NOT NULL DEFAULT 0,
		was_successful  INTEGER,
		rating          INTEGER,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_metrics_variant ON prompt_metrics(variant_id);

	CREATE TABLE IF NOT EXISTS conversations (
		id               TEXT PRIMARY KEY,
		dealership_id    TEXT NOT NULL,
		customer_name    TEXT NOT NULL DEFAULT '',
		customer_contact TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL DEFAULT 'active',
		assigned_agent   TEXT NOT NULL DEFAULT '',
		created_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_dealership ON conversations(dealership_id);

	CREATE TABLE IF NOT EXISTS messages (
		id               TEXT PRIMARY KEY,
		conversation_id  TEXT NOT NULL,
		body             TEXT NOT NULL,
		is_from_customer INTEGER NOT NULL DEFAULT 0,
		channel          TEXT NOT NULL DEFAULT 'web',
		metadata         TEXT NOT NULL DEFAULT '',
		created_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);

	CREATE TABLE IF NOT EXISTS handover_dossiers (
		id                 TEXT PRIMARY KEY,
		conversation_id    TEXT NOT NULL,
		dealership_id      TEXT NOT NULL,
		customer_name      TEXT NOT NULL DEFAULT '',
		customer_contact   TEXT NOT NULL DEFAULT '',
		summary            TEXT NOT NULL DEFAULT '',
		insights           TEXT NOT NULL DEFAULT '[]',
		vehicle_interests  TEXT NOT NULL DEFAULT '[]',
		suggested_approach TEXT NOT NULL DEFAULT '',
		urgency            TEXT NOT NULL DEFAULT 'low',
		escalation_reason  TEXT NOT NULL DEFAULT '',
		transcript         TEXT NOT NULL DEFAULT '[]',
		is_email_sent      INTEGER NOT NULL DEFAULT 0,
		email_sent_at      DATETIME,
		created_at         DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_dossiers_conversation ON handover_dossiers(conversation_id, created_at);

	CREATE TABLE IF NOT EXISTS vehicles (
		id            TEXT PRIMARY KEY,
		dealership_id TEXT NOT NULL,
		make          TEXT NOT NULL,
		model         TEXT NOT NULL,
		year          INTEGER NOT NULL,
		trim          TEXT NOT NULL DEFAULT '',
		vin           TEXT NOT NULL DEFAULT '',
		price_cents   INTEGER NOT NULL DEFAULT 0,
		is_active     INTEGER NOT NULL DEFAULT 1,
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_vehicles_dealership ON vehicles(dealership_id, created_at);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func InsertDealership(db *sql.DB, d domain.Dealership) error {
	_, err := db.Exec(
		`INSERT INTO dealerships (id, name, base_template, persona_args, from_address, staff_emails)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.BaseTemplate, d.PersonaArgs, d.FromAddress, d.StaffEmails,
	)
	return err
}

func GetDealershipByID(db *sql.DB, id string) (domain.Dealership, error) {
	var d domain.Dealership
	err := db.QueryRow(
		`SELECT id, name, base_template, persona_args, from_address, staff_emails, created_at
		 FROM dealerships WHERE id = ?`,
		id,
	).Scan(&d.ID, &d.Name, &d.BaseTemplate, &d.PersonaArgs, &d.FromAddress, &d.StaffEmails, &d.CreatedAt)
	return d, err
}

func InsertVehicle(db *sql.DB, v domain.Vehicle) error {
	_, err := db.Exec(
		`INSERT INTO vehicles (id, dealership_id, make, model, year, trim, vin, price_cents, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.DealershipID, v.Make, v.Model, v.Year, v.Trim, v.VIN, v.Price, boolToInt(v.IsActive),
	)
	return err
}

// GetRecentActiveVehicles returns up to limit of the dealership's newest
// active inventory rows, used as cross-reference context for vehicle
// interest analysis.
func GetRecentActiveVehicles(db *sql.DB, dealershipID string, limit int) ([]domain.Vehicle, error) {
	rows, err := db.Query(
		`SELECT id, dealership_id, make, model, year, trim, vin, price_cents, is_active, created_at
		 FROM vehicles
		 WHERE dealership_id = ? AND is_active = 1
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		dealershipID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Vehicle
	for rows.Next() {
		var v domain.Vehicle
		var active int
		if err := rows.Scan(&v.ID, &v.DealershipID, &v.Make, &v.Model, &v.Year, &v.Trim, &v.VIN, &v.Price, &active, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.IsActive = active != 0
		out = append(out, v)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
