package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/careflow/internal/nurse"
	"github.com/antoniostano/careflow/internal/protocol"
)

const (
	wsWriteWait  = 10 * time.Second
	wsReadWait   = 120 * time.Second
	wsPingPeriod = 50 * time.Second
	wsReadLimit  = 64 << 10
)

// handleChatWS runs a general chat conversation over a websocket. The
// session id comes from the session_id query parameter or is generated, and
// is announced in the first frame.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, cancel, conn, outbound)
	}()

	send := func(msg any) bool {
		select {
		case <-ctx.Done():
			return false
		case outbound <- msg:
			return true
		}
	}
	send(protocol.SessionReady{Type: protocol.TypeSessionReady, SessionID: sessionID})

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadWait))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			if !send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Detail:    err.Error(),
			}) {
				break
			}
			continue
		}

		var out any
		switch m := parsed.(type) {
		case protocol.ChatMessage:
			s.metrics.IncWSMessage("inbound", string(m.Type))
			if m.SessionID != "" {
				sessionID = m.SessionID
			}
			out = s.chatOverWS(ctx, sessionID, m.Message)
		case protocol.EndSession:
			s.metrics.IncWSMessage("inbound", string(m.Type))
			out = protocol.SessionEnded{
				Type:      protocol.TypeSessionEnded,
				SessionID: m.SessionID,
				Removed:   s.opts.Engine.EndSession(m.SessionID),
			}
		}
		if out != nil && !send(out) {
			break
		}
	}

	cancel()
	<-writerDone
}

func (s *Server) chatOverWS(ctx context.Context, sessionID, message string) any {
	reply, err := s.opts.Engine.Chat(ctx, nurse.ChatRequest{SessionID: sessionID, Message: message})
	if err != nil {
		code, retryable := "internal_error", true
		if errors.Is(err, nurse.ErrInvalidInput) {
			code, retryable = "invalid_request", false
		}
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("websocket chat failed")
		return protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      code,
			Retryable: retryable,
			Detail:    err.Error(),
		}
	}
	return protocol.ChatReply{
		Type:             protocol.TypeChatReply,
		SessionID:        reply.SessionID,
		Message:          reply.Message,
		Escalation:       reply.Escalation,
		EscalationReason: reply.EscalationReason,
		Urgency:          string(reply.Urgency),
	}
}

// handleEscalationStream pushes live escalation events to a nurse dashboard
// until the client disconnects.
func (s *Server) handleEscalationStream(w http.ResponseWriter, r *http.Request) {
	if s.opts.Notifier == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "escalation notifications not configured")
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events, err := s.opts.Notifier.Subscribe(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	outbound := make(chan any, 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, cancel, conn, outbound)
	}()

	// Reads only drive control frames and detect disconnects.
	go func() {
		defer cancel()
		conn.SetReadLimit(4 << 10)
		_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsReadWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case e, ok := <-events:
			if !ok {
				break loop
			}
			msg := protocol.EscalationEvent{
				Type:      protocol.TypeEscalation,
				SessionID: e.SessionID,
				PatientID: e.PatientID,
				Flow:      e.Flow,
				Urgency:   e.Urgency,
				Reason:    e.Reason,
				At:        e.At,
			}
			select {
			case outbound <- msg:
			case <-ctx.Done():
				break loop
			}
		}
	}
	cancel()
	<-writerDone
}

// writeLoop is the only writer on conn. It pings periodically and cancels
// the connection context on the first write failure.
func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, outbound <-chan any) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				cancel()
				return
			}
		case msg := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				s.log.Debug().Err(err).Msg("websocket write failed")
				cancel()
				return
			}
			if t, ok := messageTypeOf(msg); ok {
				s.metrics.IncWSMessage("outbound", string(t))
			}
		}
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.SessionReady:
		return m.Type, true
	case protocol.ChatReply:
		return m.Type, true
	case protocol.SessionEnded:
		return m.Type, true
	case protocol.EscalationEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
