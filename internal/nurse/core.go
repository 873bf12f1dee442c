package nurse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/antoniostano/careflow/internal/llm"
	"github.com/antoniostano/careflow/internal/notify"
	"github.com/antoniostano/careflow/internal/observability"
	"github.com/antoniostano/careflow/internal/record"
	"github.com/antoniostano/careflow/internal/safety"
	"github.com/antoniostano/careflow/internal/session"
)

// ErrInvalidInput is wrapped by every validation error returned before a
// message reaches the safety gate.
var ErrInvalidInput = errors.New("invalid input")

var (
	ErrEmptyMessage  = fmt.Errorf("%w: message cannot be empty", ErrInvalidInput)
	ErrEmptySymptoms = fmt.Errorf("%w: symptoms cannot be empty", ErrInvalidInput)
	ErrFlowMismatch  = fmt.Errorf("%w: session belongs to another flow", ErrInvalidInput)
)

const (
	DefaultCallTimeout = 45 * time.Second
	DefaultMaxTurns    = 40

	logPreviewRunes = 80
)

// Deps are the collaborators shared by every flow. Sessions and Model are
// required; the rest may be left zero.
type Deps struct {
	Sessions session.Repository
	Model    llm.Generator
	Recorder record.Recorder
	Notifier notify.Notifier
	Metrics  *observability.Metrics
	Logger   zerolog.Logger

	// CallTimeout bounds each model call on top of the caller's context.
	CallTimeout time.Duration
	// MaxTurns caps patient turns per session.
	MaxTurns int
}

// Reply is the plain result of one patient-facing turn.
type Reply struct {
	SessionID        string         `json:"session_id"`
	Message          string         `json:"message"`
	Escalation       bool           `json:"escalation"`
	EscalationReason string         `json:"escalation_reason,omitempty"`
	Urgency          safety.Urgency `json:"urgency,omitempty"`
	Complete         bool           `json:"complete"`
	IntakeSummary    map[string]any `json:"intake_summary,omitempty"`
}

type core struct {
	sessions    session.Repository
	model       llm.Generator
	recorder    record.Recorder
	notifier    notify.Notifier
	metrics     *observability.Metrics
	log         zerolog.Logger
	callTimeout time.Duration
	maxTurns    int
}

func newCore(d Deps, component string) core {
	timeout := d.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	maxTurns := d.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return core{
		sessions:    d.Sessions,
		model:       d.Model,
		recorder:    d.Recorder,
		notifier:    d.Notifier,
		metrics:     d.Metrics,
		log:         d.Logger.With().Str("component", component).Logger(),
		callTimeout: timeout,
		maxTurns:    maxTurns,
	}
}

// generate runs one bounded model call and records its latency.
func (c *core) generate(ctx context.Context, flow string, system string, history []llm.Message) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	start := time.Now()
	text, err := c.model.Generate(callCtx, system, history)
	c.metrics.ObserveModelLatency(flow, time.Since(start))
	return text, err
}

func (c *core) modelFailed(flow, sessionID string, err error) {
	provider := llm.ProviderOf(err)
	c.metrics.IncModelFailure(provider, flow)
	c.log.Error().
		Err(err).
		Str("flow", flow).
		Str("session_id", sessionID).
		Str("provider", provider).
		Msg("model call failed; returning fallback text")
}

// sanitize passes model output through the safety gate before it can be
// stored or returned.
func (c *core) sanitize(flow, sessionID, text string) string {
	safe, violations := safety.CheckResponseSafety(text)
	if safe {
		return text
	}
	c.metrics.IncUnsafeResponse(flow)
	c.log.Warn().
		Str("flow", flow).
		Str("session_id", sessionID).
		Strs("violations", violations).
		Msg("model reply matched unsafe pattern; disclaimer appended")
	return safety.SanitizeResponse(text)
}

// appendExchange stores a patient message and the reply to it in one update.
func (c *core) appendExchange(s *session.Session, patientText, assistantText string, mutate func(*session.Session)) error {
	now := time.Now().UTC()
	err := c.sessions.Update(s.ID, func(cur *session.Session) {
		cur.History = append(cur.History,
			session.Turn{Role: session.RolePatient, Text: patientText, Timestamp: now},
			session.Turn{Role: session.RoleAssistant, Text: assistantText, Timestamp: now},
		)
		if mutate != nil {
			mutate(cur)
		}
	})
	if err != nil {
		return err
	}
	c.recordTurn(s, session.RolePatient, patientText, now)
	c.recordTurn(s, session.RoleAssistant, assistantText, now)
	return nil
}

func (c *core) recordTurn(s *session.Session, role session.Role, text string, at time.Time) {
	if c.recorder == nil {
		return
	}
	// Persistence must not hold up or fail a patient-facing turn.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.recorder.SaveTurn(ctx, record.TurnRecord{
		SessionID: s.ID,
		PatientID: s.PatientID,
		Flow:      string(s.Flow),
		Role:      string(role),
		Content:   text,
		CreatedAt: at,
	})
	if err != nil {
		c.log.Warn().Err(err).Str("session_id", s.ID).Msg("record turn failed")
	}
}

// escalate flags the session, persists the escalation and notifies the
// nurse dashboard.
func (c *core) escalate(s *session.Session, urgency safety.Urgency, reason string) {
	c.metrics.IncEscalation(string(urgency))
	if s.ID != "" {
		if err := c.sessions.Update(s.ID, func(cur *session.Session) {
			cur.Escalated = true
			cur.EscalationReason = reason
		}); err != nil {
			c.log.Warn().Err(err).Str("session_id", s.ID).Msg("flag session escalated failed")
		}
	}
	c.log.Warn().
		Str("flow", string(s.Flow)).
		Str("session_id", s.ID).
		Str("urgency", string(urgency)).
		Str("reason", reason).
		Msg("conversation escalated to nurse")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if c.recorder != nil {
		if err := c.recorder.MarkEscalated(ctx, record.EscalationRecord{
			SessionID: s.ID,
			PatientID: s.PatientID,
			Flow:      string(s.Flow),
			Urgency:   string(urgency),
			Reason:    reason,
		}); err != nil {
			c.log.Warn().Err(err).Str("session_id", s.ID).Msg("record escalation failed")
		}
	}
	if c.notifier != nil {
		if err := c.notifier.Publish(ctx, notify.Escalation{
			SessionID: s.ID,
			PatientID: s.PatientID,
			Flow:      string(s.Flow),
			Urgency:   string(urgency),
			Reason:    reason,
			At:        time.Now().UTC(),
		}); err != nil {
			c.log.Warn().Err(err).Str("session_id", s.ID).Msg("publish escalation failed")
		}
	}
}

// emergency handles the keyword short-circuit shared by every conversational
// flow. The model is never consulted on this path.
func (c *core) emergency(s *session.Session, message string) (Reply, bool, error) {
	hit, kw := safety.CheckEmergency(message)
	if !hit {
		return Reply{}, false, nil
	}
	c.metrics.IncEmergencyBypass(string(s.Flow))
	if err := c.appendExchange(s, message, safety.EmergencyResponse, nil); err != nil {
		return Reply{}, true, err
	}
	reason := "Emergency keyword: " + kw
	c.escalate(s, safety.UrgencyImmediate, reason)
	return Reply{
		SessionID:        s.ID,
		Message:          safety.EmergencyResponse,
		Escalation:       true,
		EscalationReason: reason,
		Urgency:          safety.UrgencyImmediate,
		Complete:         s.Complete,
	}, true, nil
}

// turnLimit ends sessions that reached the patient turn ceiling.
func (c *core) turnLimit(s *session.Session, message string) (Reply, bool, error) {
	if len(s.PatientTurns()) < c.maxTurns {
		return Reply{}, false, nil
	}
	c.log.Info().
		Str("flow", string(s.Flow)).
		Str("session_id", s.ID).
		Int("max_turns", c.maxTurns).
		Msg("session reached turn limit")
	err := c.appendExchange(s, message, TurnLimitMessage, func(cur *session.Session) {
		cur.Complete = true
	})
	if err != nil {
		return Reply{}, true, err
	}
	return Reply{SessionID: s.ID, Message: TurnLimitMessage, Complete: true}, true, nil
}

func (c *core) logInbound(flow, sessionID, message string) {
	c.metrics.IncFlowMessage(flow)
	c.log.Debug().
		Str("flow", flow).
		Str("session_id", sessionID).
		Str("preview", safety.Preview(message, logPreviewRunes)).
		Msg("patient message")
}

func toMessages(history []session.Turn) []llm.Message {
	out := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		role := llm.RoleUser
		if t.Role == session.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: t.Text})
	}
	return out
}

func withMessage(history []session.Turn, message string) []llm.Message {
	return append(toMessages(history), llm.Message{Role: llm.RoleUser, Content: message})
}

func nowUTC() time.Time { return time.Now().UTC() }
