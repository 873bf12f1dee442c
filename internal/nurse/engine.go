package nurse

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/antoniostano/careflow/internal/safety"
	"github.com/antoniostano/careflow/internal/session"
)

// ChatRequest is one inbound general-chat message.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	// SystemPrompt replaces the default nurse directive when set.
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// Engine drives general chat: safety gate, session bookkeeping, the model
// call and the fallback policy.
type Engine struct {
	core
}

func NewEngine(d Deps) *Engine {
	return &Engine{core: newCore(d, "chat_engine")}
}

// Chat processes one message. Errors are returned only for invalid input and
// session bookkeeping; model failures yield ChatFallback.
func (e *Engine) Chat(ctx context.Context, req ChatRequest) (Reply, error) {
	message := req.Message
	if strings.TrimSpace(message) == "" {
		return Reply{}, ErrEmptyMessage
	}

	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		id = uuid.NewString()
	}
	unlock := e.sessions.Lock(id)
	defer unlock()

	s, created := e.sessions.GetOrCreate(id, session.FlowGeneral)
	if created {
		e.metrics.SetActiveSessions(e.sessions.Len())
	}
	if s.Flow != session.FlowGeneral {
		// An emergency is answered on whichever session the id names.
		if reply, done, err := e.emergency(s, message); done {
			return reply, err
		}
		return Reply{}, fmt.Errorf("chat on %s session %s: %w", s.Flow, s.ID, ErrFlowMismatch)
	}
	flow := string(session.FlowGeneral)
	e.logInbound(flow, s.ID, message)

	if reply, done, err := e.emergency(s, message); done {
		return reply, err
	}
	if reply, done, err := e.turnLimit(s, message); done {
		return reply, err
	}

	if decision := safety.ShouldEscalate(message, s.PatientTurns()); decision.Escalate {
		if err := e.appendExchange(s, message, decision.Response, nil); err != nil {
			return Reply{}, err
		}
		e.escalate(s, decision.Urgency, decision.Reason)
		return Reply{
			SessionID:        s.ID,
			Message:          decision.Response,
			Escalation:       true,
			EscalationReason: decision.Reason,
			Urgency:          decision.Urgency,
		}, nil
	}

	system := req.SystemPrompt
	if strings.TrimSpace(system) == "" {
		system = VirtualNurseSystem
	}
	text, err := e.generate(ctx, flow, system, withMessage(s.History, message))
	if err != nil {
		e.modelFailed(flow, s.ID, err)
		e.recordTurn(s, session.RolePatient, message, nowUTC())
		e.recordTurn(s, session.RoleAssistant, ChatFallback, nowUTC())
		return Reply{SessionID: s.ID, Message: ChatFallback, Urgency: safety.UrgencyNone}, nil
	}

	reply := e.sanitize(flow, s.ID, text)
	if len(s.History) == 0 {
		reply = safety.AIDisclosure + "\n\n" + reply
	}
	if err := e.appendExchange(s, message, reply, nil); err != nil {
		return Reply{}, err
	}
	return Reply{SessionID: s.ID, Message: reply, Urgency: safety.UrgencyNone}, nil
}

// History returns the turns of a general-chat session in insertion order.
func (e *Engine) History(id string) ([]session.Turn, error) {
	s, err := e.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	return s.History, nil
}

// EndSession removes a session. It reports false when none existed.
func (e *Engine) EndSession(id string) bool {
	unlock := e.sessions.Lock(id)
	defer unlock()
	ok := e.sessions.Delete(id)
	if ok {
		e.metrics.SetActiveSessions(e.sessions.Len())
	}
	return ok
}
