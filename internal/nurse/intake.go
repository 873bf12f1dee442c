package nurse

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/antoniostano/careflow/internal/llm"
	"github.com/antoniostano/careflow/internal/session"
)

type StartIntakeRequest struct {
	PatientID         string `json:"patient_id,omitempty"`
	AppointmentReason string `json:"appointment_reason,omitempty"`
}

// IntakeStatus is the read view of an intake session.
type IntakeStatus struct {
	SessionID     string         `json:"session_id"`
	PatientID     string         `json:"patient_id,omitempty"`
	Complete      bool           `json:"complete"`
	CollectedData map[string]any `json:"collected_data"`
	MessageCount  int            `json:"message_count"`
}

// Intake runs pre-visit questionnaires. A session moves from collecting to
// complete once IntakeComplete fires on a model reply.
type Intake struct {
	core
}

func NewIntake(d Deps) *Intake {
	return &Intake{core: newCore(d, "intake")}
}

// Start opens an intake session seeded with the greeting.
func (in *Intake) Start(_ context.Context, req StartIntakeRequest) (Reply, error) {
	greeting := IntakeGreeting
	if reason := strings.TrimSpace(req.AppointmentReason); reason != "" {
		greeting = fmt.Sprintf(intakeReasonGreeting, reason)
	}

	s := in.sessions.Create(session.Session{
		ID:                uuid.NewString(),
		Flow:              session.FlowIntake,
		PatientID:         strings.TrimSpace(req.PatientID),
		AppointmentReason: strings.TrimSpace(req.AppointmentReason),
		History: []session.Turn{
			{Role: session.RoleAssistant, Text: greeting, Timestamp: nowUTC()},
		},
		CollectedData: map[string]any{},
	})
	in.metrics.SetActiveSessions(in.sessions.Len())
	in.recordTurn(s, session.RoleAssistant, greeting, s.CreatedAt)
	in.log.Info().Str("session_id", s.ID).Str("patient_id", s.PatientID).Msg("intake started")

	return Reply{SessionID: s.ID, Message: greeting}, nil
}

// ProcessMessage handles one patient answer.
func (in *Intake) ProcessMessage(ctx context.Context, id, message string) (Reply, error) {
	if strings.TrimSpace(message) == "" {
		return Reply{}, ErrEmptyMessage
	}
	unlock := in.sessions.Lock(id)
	defer unlock()

	s, err := in.sessions.Get(id)
	if err != nil {
		return Reply{}, err
	}
	if s.Flow != session.FlowIntake {
		return Reply{}, fmt.Errorf("intake message on %s session %s: %w", s.Flow, s.ID, ErrFlowMismatch)
	}
	flow := string(session.FlowIntake)
	in.logInbound(flow, s.ID, message)

	if reply, done, err := in.emergency(s, message); done {
		return reply, err
	}
	if reply, done, err := in.turnLimit(s, message); done {
		return reply, err
	}

	text, err := in.generate(ctx, flow, IntakeSystem, withMessage(s.History, message))
	if err != nil {
		in.modelFailed(flow, s.ID, err)
		return Reply{SessionID: s.ID, Message: IntakeFallback, Complete: s.Complete}, nil
	}
	reply := in.sanitize(flow, s.ID, text)

	if !IntakeComplete(reply) {
		if err := in.appendExchange(s, message, reply, nil); err != nil {
			return Reply{}, err
		}
		return Reply{SessionID: s.ID, Message: reply, Complete: s.Complete}, nil
	}

	if err := in.appendExchange(s, message, reply, func(cur *session.Session) {
		cur.Complete = true
	}); err != nil {
		return Reply{}, err
	}
	current, err := in.sessions.Get(s.ID)
	if err != nil {
		return Reply{}, err
	}
	summary := in.summarize(ctx, current)
	if err := in.sessions.Update(s.ID, func(cur *session.Session) {
		cur.CollectedData = summary
	}); err != nil {
		return Reply{}, err
	}
	in.log.Info().Str("session_id", s.ID).Int("fields", len(summary)).Msg("intake complete")

	return Reply{SessionID: s.ID, Message: reply, Complete: true, IntakeSummary: summary}, nil
}

// summarize extracts the structured intake fields from the full transcript.
// When the call fails or yields no object, the transcript itself is kept.
func (in *Intake) summarize(ctx context.Context, s *session.Session) map[string]any {
	transcript := Transcript(s.History)
	prompt := "Extract structured intake data from this conversation as JSON:\n" +
		transcript + "\n\n" +
		"Return JSON with keys: chief_complaint, history_of_present_illness, " +
		"current_medications (list), allergies (list), past_medical_history (list), " +
		"family_history, social_history, review_of_systems"

	fallback := map[string]any{"raw_conversation": transcript}
	text, err := in.generate(ctx, "intake_summary", intakeSummarySystem, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		in.modelFailed("intake_summary", s.ID, err)
		return fallback
	}
	data := llm.ExtractJSON(text)
	if len(data) == 0 {
		in.log.Warn().Str("session_id", s.ID).Msg("intake summary unparseable; keeping raw conversation")
		return fallback
	}
	return data
}

// Status reports an intake session.
func (in *Intake) Status(id string) (IntakeStatus, error) {
	s, err := in.sessions.Get(id)
	if err != nil {
		return IntakeStatus{}, err
	}
	if s.Flow != session.FlowIntake {
		return IntakeStatus{}, fmt.Errorf("intake status of %s session %s: %w", s.Flow, s.ID, session.ErrNotFound)
	}
	data := s.CollectedData
	if data == nil {
		data = map[string]any{}
	}
	return IntakeStatus{
		SessionID:     s.ID,
		PatientID:     s.PatientID,
		Complete:      s.Complete,
		CollectedData: data,
		MessageCount:  len(s.History),
	}, nil
}

// Transcript serializes history as "ROLE: text" lines.
func Transcript(history []session.Turn) string {
	lines := make([]string, 0, len(history))
	for _, t := range history {
		lines = append(lines, strings.ToUpper(string(t.Role))+": "+t.Text)
	}
	return strings.Join(lines, "\n")
}
