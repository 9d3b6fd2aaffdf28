package domain

import "time"

// Conversation lifecycle statuses. Escalation is one-directional: once a
// conversation reaches StatusEscalated it never returns to AI ownership.
const (
	StatusActive    = "active"
	StatusWaiting   = "waiting"
	StatusEscalated = "escalated"
	StatusCompleted = "completed"
)

// Handover urgency levels.
const (
	UrgencyLow    = "low"
	UrgencyMedium = "medium"
	UrgencyHigh   = "high"
)

type Dealership struct {
	ID           string
	Name         string
	BaseTemplate string // fallback system prompt template when no variant is selected
	PersonaArgs  string // JSON object of placeholder values merged into templates
	FromAddress  string
	StaffEmails  string // comma-separated handover recipients
	CreatedAt    time.Time
}

type PromptVariant struct {
	ID           string
	DealershipID string
	Name         string
	Description  string
	Template     string // may contain {key} or {{key}} placeholder tokens
	IsControl    bool
	IsActive     bool
	CreatedAt    time.Time
}

type PromptExperiment struct {
	ID           string
	DealershipID string
	Name         string
	Description  string
	StartAt      time.Time
	EndAt        time.Time // zero value = open-ended
	IsActive     bool
	Conclusion   string // set on close
	CreatedAt    time.Time
}

// ExperimentVariant links an experiment to a variant with a relative
// traffic weight. Allocations are validated to sum to 100 at authoring
// time but are renormalized at selection time, so drift (e.g. after a
// variant is deactivated) never breaks selection.
type ExperimentVariant struct {
	ID                string
	ExperimentID      string
	VariantID         string
	TrafficAllocation int // 0-100
}

// PromptMetrics is one row per AI turn generated with a selected variant.
// Created once, then updated at most twice out-of-band: the success flag
// and the customer rating. Never deleted.
type PromptMetrics struct {
	ID             string
	VariantID      string
	ConversationID string
	MessageID      string
	LatencyMs      int64
	TokenEstimate  int64 // character-length heuristic, not a billing figure
	MessageLength  int
	ResponseLength int
	WasEscalated   bool
	WasSuccessful  *bool
	Rating         *int // 1-5
	CreatedAt      time.Time
}

type Conversation struct {
	ID              string
	DealershipID    string
	CustomerName    string
	CustomerContact string
	Status          string
	AssignedAgent   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Message struct {
	ID             string
	ConversationID string
	Body           string
	IsFromCustomer bool
	Channel        string // "web", "sms", ...
	Metadata       string // optional JSON blob
	CreatedAt      time.Time
}

type CustomerInsight struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

type VehicleInterest struct {
	Make       string  `json:"make"`
	Model      string  `json:"model"`
	Year       int     `json:"year"`
	Trim       string  `json:"trim,omitempty"`
	VIN        string  `json:"vin,omitempty"`
	Confidence float64 `json:"confidence"`
}

// TranscriptEntry is a point-in-time copy of one message, embedded in the
// dossier so later conversation activity cannot change what staff saw.
type TranscriptEntry struct {
	From   string    `json:"from"` // "customer" or "assistant"
	Body   string    `json:"body"`
	SentAt time.Time `json:"sent_at"`
}

type HandoverDossier struct {
	ID                string
	ConversationID    string
	DealershipID      string
	CustomerName      string
	CustomerContact   string
	Summary           string
	Insights          []CustomerInsight
	VehicleInterests  []VehicleInterest
	SuggestedApproach string
	Urgency           string
	EscalationReason  string
	Transcript        []TranscriptEntry
	IsEmailSent       bool
	EmailSentAt       time.Time
	CreatedAt         time.Time
}

// FallbackDossierID marks a dossier produced by the degraded build path.
const FallbackDossierID = "fallback"

type Vehicle struct {
	ID           string
	DealershipID string
	Make         string
	Model        string
	Year         int
	Trim         string
	VIN          string
	Price        int64 // cents
	IsActive     bool
	CreatedAt    time.Time
}
