package nurse

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/antoniostano/careflow/internal/safety"
	"github.com/antoniostano/careflow/internal/session"
)

func TestIntakeStartGreeting(t *testing.T) {
	f := newFixture(t, &fakeModel{})
	in := NewIntake(f.deps)
	ctx := context.Background()

	plain, err := in.Start(ctx, StartIntakeRequest{PatientID: "p1"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if plain.Message != IntakeGreeting {
		t.Fatalf("Message = %q, want default greeting", plain.Message)
	}

	withReason, _ := in.Start(ctx, StartIntakeRequest{AppointmentReason: "knee pain"})
	if !strings.HasPrefix(withReason.Message, "Hello! I see you're here for: knee pain. ") {
		t.Fatalf("Message = %q, want reason greeting", withReason.Message)
	}

	status, err := in.Status(plain.SessionID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.PatientID != "p1" || status.Complete || status.MessageCount != 1 {
		t.Fatalf("Status() = %+v", status)
	}
	if status.CollectedData == nil {
		t.Fatalf("CollectedData = nil, want empty map")
	}
}

func TestIntakeUnknownSession(t *testing.T) {
	f := newFixture(t, &fakeModel{})
	in := NewIntake(f.deps)
	_, err := in.ProcessMessage(context.Background(), "missing", "hello")
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if _, err := in.Status("missing"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Status() error = %v, want ErrNotFound", err)
	}
}

func TestIntakeCompletionStoresExtractedSummary(t *testing.T) {
	model := &fakeModel{replies: []string{
		"Any allergies?",
		"Thank you. Let me summarize what you told me.",
		"```json\n{\"chief_complaint\": \"cough\", \"allergies\": [\"penicillin\"]}\n```",
	}}
	f := newFixture(t, model)
	in := NewIntake(f.deps)
	ctx := context.Background()
	started, _ := in.Start(ctx, StartIntakeRequest{})

	first, err := in.ProcessMessage(ctx, started.SessionID, "a cough")
	if err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}
	if first.Complete {
		t.Fatalf("complete after first answer")
	}
	done, err := in.ProcessMessage(ctx, started.SessionID, "penicillin")
	if err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}
	if !done.Complete {
		t.Fatalf("reply = %+v, want complete", done)
	}
	if done.IntakeSummary["chief_complaint"] != "cough" {
		t.Fatalf("IntakeSummary = %v", done.IntakeSummary)
	}

	summaryCall := model.call(2)
	if summaryCall.system != intakeSummarySystem {
		t.Fatalf("summary system = %q", summaryCall.system)
	}
	prompt := summaryCall.history[0].Content
	if !strings.Contains(prompt, "PATIENT: penicillin\nASSISTANT: Thank you. Let me summarize") {
		t.Fatalf("summary prompt missing transcript: %q", prompt)
	}
	if first := model.call(0); first.system != IntakeSystem {
		t.Fatalf("intake system = %q", first.system)
	}

	status, _ := in.Status(started.SessionID)
	if !status.Complete || status.CollectedData["chief_complaint"] != "cough" || status.MessageCount != 5 {
		t.Fatalf("Status() = %+v", status)
	}
}

func TestIntakeUnparseableSummaryKeepsTranscript(t *testing.T) {
	model := &fakeModel{replies: []string{"That covers everything, thank you!", "sorry, no json"}}
	f := newFixture(t, model)
	in := NewIntake(f.deps)
	ctx := context.Background()
	started, _ := in.Start(ctx, StartIntakeRequest{})

	done, err := in.ProcessMessage(ctx, started.SessionID, "headache")
	if err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}
	s, _ := f.store.Get(started.SessionID)
	want := Transcript(s.History)
	if done.IntakeSummary["raw_conversation"] != want {
		t.Fatalf("raw_conversation = %v, want %q", done.IntakeSummary["raw_conversation"], want)
	}
}

func TestIntakeEmergencyShortCircuits(t *testing.T) {
	model := &fakeModel{}
	f := newFixture(t, model)
	in := NewIntake(f.deps)
	ctx := context.Background()
	started, _ := in.Start(ctx, StartIntakeRequest{})

	reply, err := in.ProcessMessage(ctx, started.SessionID, "I think I'm having a STROKE")
	if err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}
	if reply.Message != safety.EmergencyResponse || !reply.Escalation {
		t.Fatalf("reply = %+v, want emergency response", reply)
	}
	if model.callCount() != 0 {
		t.Fatalf("model calls = %d, want 0", model.callCount())
	}
	if ev := f.nextEvent(t); ev.Flow != string(session.FlowIntake) {
		t.Fatalf("event flow = %q, want intake", ev.Flow)
	}
}

func TestIntakeModelFailureFallback(t *testing.T) {
	f := newFixture(t, &fakeModel{err: errors.New("connection refused")})
	in := NewIntake(f.deps)
	ctx := context.Background()
	started, _ := in.Start(ctx, StartIntakeRequest{})

	reply, err := in.ProcessMessage(ctx, started.SessionID, "back pain")
	if err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}
	if reply.Message != IntakeFallback {
		t.Fatalf("Message = %q, want intake fallback", reply.Message)
	}
	status, _ := in.Status(started.SessionID)
	if status.MessageCount != 1 {
		t.Fatalf("MessageCount = %d, want 1", status.MessageCount)
	}
}

func TestIntakeStatusRejectsOtherFlows(t *testing.T) {
	f := newFixture(t, &fakeModel{})
	reply, _ := NewEngine(f.deps).Chat(context.Background(), ChatRequest{Message: "hello"})
	if _, err := NewIntake(f.deps).Status(reply.SessionID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Status() error = %v, want ErrNotFound", err)
	}
}
