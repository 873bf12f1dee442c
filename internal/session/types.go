package session

import (
	"errors"
	"time"
)

type Role string

const (
	RolePatient   Role = "patient"
	RoleAssistant Role = "assistant"
)

// Flow identifies which conversational flow owns a session. It never changes
// after creation.
type Flow string

const (
	FlowGeneral  Flow = "general_chat"
	FlowIntake   Flow = "intake"
	FlowTriage   Flow = "triage"
	FlowFollowup Flow = "followup"
)

var ErrNotFound = errors.New("session not found")

type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Session struct {
	ID                string         `json:"session_id"`
	Flow              Flow           `json:"flow"`
	PatientID         string         `json:"patient_id,omitempty"`
	AppointmentReason string         `json:"appointment_reason,omitempty"`
	FollowupType      string         `json:"followup_type,omitempty"`
	FollowupContext   string         `json:"followup_context,omitempty"`
	History           []Turn         `json:"history"`
	CollectedData     map[string]any `json:"collected_data,omitempty"`
	Complete          bool           `json:"complete"`
	Escalated         bool           `json:"escalated"`
	EscalationReason  string         `json:"escalation_reason,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// PatientTurns returns the patient-authored texts in insertion order.
func (s *Session) PatientTurns() []string {
	out := make([]string, 0, len(s.History))
	for _, t := range s.History {
		if t.Role == RolePatient {
			out = append(out, t.Text)
		}
	}
	return out
}

// Repository is the session capability injected into every flow.
type Repository interface {
	// GetOrCreate returns the session stored under id, or creates one. An
	// unknown non-empty id is adopted as the new session's id; an empty id
	// gets a fresh uuid.
	GetOrCreate(id string, flow Flow) (s *Session, created bool)
	Create(s Session) *Session
	Get(id string) (*Session, error)
	AppendTurn(id string, role Role, text string) error
	Update(id string, fn func(*Session)) error
	Delete(id string) bool
	// Lock serializes flow operations on one session id. The returned func
	// releases the lock.
	Lock(id string) func()
	Len() int
}

func clone(s *Session) *Session {
	c := *s
	if s.History != nil {
		c.History = append([]Turn(nil), s.History...)
	}
	if s.CollectedData != nil {
		c.CollectedData = make(map[string]any, len(s.CollectedData))
		for k, v := range s.CollectedData {
			c.CollectedData[k] = v
		}
	}
	return &c
}
