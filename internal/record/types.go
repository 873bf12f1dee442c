package record

import (
	"context"
	"time"
)

// TurnRecord is one persisted patient or assistant turn.
type TurnRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	PatientID string    `json:"patient_id,omitempty"`
	Flow      string    `json:"flow"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// EscalationRecord marks a session as handed to a human nurse.
type EscalationRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	PatientID string    `json:"patient_id,omitempty"`
	Flow      string    `json:"flow"`
	Urgency   string    `json:"urgency"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// TriageRecord is a persisted triage assessment.
type TriageRecord struct {
	ID                string    `json:"id"`
	PatientID         string    `json:"patient_id,omitempty"`
	Symptoms          string    `json:"symptoms"`
	ESILevel          int       `json:"esi_level"`
	Reasoning         string    `json:"reasoning"`
	RecommendedAction string    `json:"recommended_action"`
	EscalateToNurse   bool      `json:"escalate_to_nurse"`
	RedFlags          []string  `json:"red_flags"`
	CreatedAt         time.Time `json:"created_at"`
}

// Recorder is the write-only persistence collaborator of the nurse flows.
type Recorder interface {
	SaveTurn(ctx context.Context, r TurnRecord) error
	MarkEscalated(ctx context.Context, r EscalationRecord) error
	SaveTriage(ctx context.Context, r TriageRecord) error
	Close() error
}

// EscalationLister feeds the nurse dashboard. Both recorders implement it.
type EscalationLister interface {
	RecentEscalations(ctx context.Context, limit int) ([]EscalationRecord, error)
}
