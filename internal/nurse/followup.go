package nurse

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/antoniostano/careflow/internal/session"
)

type StartFollowupRequest struct {
	PatientID             string       `json:"patient_id"`
	DischargeDate         string       `json:"discharge_date"`
	FollowupType          FollowupType `json:"followup_type,omitempty"`
	DischargeInstructions string       `json:"discharge_instructions,omitempty"`
	Medications           []string     `json:"medications,omitempty"`
}

// FollowupStatus is the read view of a follow-up session.
type FollowupStatus struct {
	SessionID    string       `json:"session_id"`
	PatientID    string       `json:"patient_id"`
	FollowupType FollowupType `json:"followup_type"`
	Complete     bool         `json:"complete"`
	Escalated    bool         `json:"escalated"`
	MessageCount int          `json:"message_count"`
}

// Followup runs post-discharge check-ins. The discharge context travels with
// every model call of the session.
type Followup struct {
	core
}

func NewFollowup(d Deps) *Followup {
	return &Followup{core: newCore(d, "followup")}
}

// GreetingFor returns the greeting of a follow-up type, defaulting to the
// 24-hour check-in for unknown types.
func GreetingFor(t FollowupType) (FollowupType, string) {
	if g, ok := followupGreetings[t]; ok {
		return t, g
	}
	return Followup24Hour, followupGreetings[Followup24Hour]
}

// DischargeContext serializes the discharge details sent with each call.
func DischargeContext(req StartFollowupRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Patient ID: %s\nDischarge date: %s\n", req.PatientID, req.DischargeDate)
	if strings.TrimSpace(req.DischargeInstructions) != "" {
		fmt.Fprintf(&b, "Discharge instructions: %s\n", req.DischargeInstructions)
	}
	if len(req.Medications) > 0 {
		fmt.Fprintf(&b, "Medications: %s\n", strings.Join(req.Medications, ", "))
	}
	return b.String()
}

func (f *Followup) Start(_ context.Context, req StartFollowupRequest) (Reply, error) {
	if strings.TrimSpace(req.PatientID) == "" {
		return Reply{}, fmt.Errorf("%w: patient_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.DischargeDate) == "" {
		return Reply{}, fmt.Errorf("%w: discharge_date is required", ErrInvalidInput)
	}

	kind, greeting := GreetingFor(req.FollowupType)
	s := f.sessions.Create(session.Session{
		ID:              uuid.NewString(),
		Flow:            session.FlowFollowup,
		PatientID:       req.PatientID,
		FollowupType:    string(kind),
		FollowupContext: DischargeContext(req),
		History: []session.Turn{
			{Role: session.RoleAssistant, Text: greeting, Timestamp: nowUTC()},
		},
	})
	f.metrics.SetActiveSessions(f.sessions.Len())
	f.recordTurn(s, session.RoleAssistant, greeting, s.CreatedAt)
	f.log.Info().
		Str("session_id", s.ID).
		Str("patient_id", s.PatientID).
		Str("followup_type", string(kind)).
		Msg("follow-up started")

	return Reply{SessionID: s.ID, Message: greeting}, nil
}

func (f *Followup) ProcessMessage(ctx context.Context, id, message string) (Reply, error) {
	if strings.TrimSpace(message) == "" {
		return Reply{}, ErrEmptyMessage
	}
	unlock := f.sessions.Lock(id)
	defer unlock()

	s, err := f.sessions.Get(id)
	if err != nil {
		return Reply{}, err
	}
	if s.Flow != session.FlowFollowup {
		return Reply{}, fmt.Errorf("follow-up message on %s session %s: %w", s.Flow, s.ID, ErrFlowMismatch)
	}
	flow := string(session.FlowFollowup)
	f.logInbound(flow, s.ID, message)

	if reply, done, err := f.emergency(s, message); done {
		return reply, err
	}
	if reply, done, err := f.turnLimit(s, message); done {
		return reply, err
	}

	system := FollowupSystem
	if s.FollowupContext != "" {
		system += "\n\nPatient context:\n" + s.FollowupContext
	}
	text, err := f.generate(ctx, flow, system, withMessage(s.History, message))
	if err != nil {
		f.modelFailed(flow, s.ID, err)
		return Reply{SessionID: s.ID, Message: FollowupFallback, Complete: s.Complete}, nil
	}
	reply := f.sanitize(flow, s.ID, text)

	complete := FollowupComplete(reply)
	if err := f.appendExchange(s, message, reply, func(cur *session.Session) {
		if complete {
			cur.Complete = true
		}
	}); err != nil {
		return Reply{}, err
	}
	if complete {
		f.log.Info().Str("session_id", s.ID).Msg("follow-up complete")
	}
	return Reply{SessionID: s.ID, Message: reply, Complete: complete || s.Complete}, nil
}

func (f *Followup) Status(id string) (FollowupStatus, error) {
	s, err := f.sessions.Get(id)
	if err != nil {
		return FollowupStatus{}, err
	}
	if s.Flow != session.FlowFollowup {
		return FollowupStatus{}, fmt.Errorf("follow-up status of %s session %s: %w", s.Flow, s.ID, session.ErrNotFound)
	}
	return FollowupStatus{
		SessionID:    s.ID,
		PatientID:    s.PatientID,
		FollowupType: FollowupType(s.FollowupType),
		Complete:     s.Complete,
		Escalated:    s.Escalated,
		MessageCount: len(s.History),
	}, nil
}
