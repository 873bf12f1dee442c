package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeChatMessage  MessageType = "chat_message"
	TypeEndSession   MessageType = "end_session"
	TypeSessionReady MessageType = "session_ready"
	TypeChatReply    MessageType = "chat_reply"
	TypeSessionEnded MessageType = "session_ended"
	TypeEscalation   MessageType = "escalation"
	TypeErrorEvent   MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ChatMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Message   string      `json:"message"`
}

type EndSession struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type SessionReady struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type ChatReply struct {
	Type             MessageType `json:"type"`
	SessionID        string      `json:"session_id"`
	Message          string      `json:"message"`
	Escalation       bool        `json:"escalation"`
	EscalationReason string      `json:"escalation_reason,omitempty"`
	Urgency          string      `json:"urgency,omitempty"`
}

type SessionEnded struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Removed   bool        `json:"removed"`
}

// EscalationEvent is pushed to nurse dashboards.
type EscalationEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	PatientID string      `json:"patient_id,omitempty"`
	Flow      string      `json:"flow"`
	Urgency   string      `json:"urgency"`
	Reason    string      `json:"reason"`
	At        time.Time   `json:"at"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeChatMessage:
		var msg ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Message) == "" {
			return nil, errors.New("invalid chat_message: message is required")
		}
		return msg, nil
	case TypeEndSession:
		var msg EndSession
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.SessionID) == "" {
			return nil, errors.New("invalid end_session: session_id is required")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
