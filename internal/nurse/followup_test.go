package nurse

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestFollowupGreetingByType(t *testing.T) {
	tests := []struct {
		in   FollowupType
		want FollowupType
	}{
		{in: Followup24Hour, want: Followup24Hour},
		{in: Followup7Day, want: Followup7Day},
		{in: Followup30Day, want: Followup30Day},
		{in: "weekly", want: Followup24Hour},
		{in: "", want: Followup24Hour},
	}
	f := newFixture(t, &fakeModel{})
	fu := NewFollowup(f.deps)
	for _, tc := range tests {
		reply, err := fu.Start(context.Background(), StartFollowupRequest{
			PatientID:     "p1",
			DischargeDate: "2026-10-01",
			FollowupType:  tc.in,
		})
		if err != nil {
			t.Fatalf("Start(%q) error = %v", tc.in, err)
		}
		if reply.Message != followupGreetings[tc.want] {
			t.Fatalf("Start(%q) greeting = %q, want %s template", tc.in, reply.Message, tc.want)
		}
		status, _ := fu.Status(reply.SessionID)
		if status.FollowupType != tc.want {
			t.Fatalf("Status().FollowupType = %q, want %q", status.FollowupType, tc.want)
		}
	}
}

func TestFollowupStartValidation(t *testing.T) {
	f := newFixture(t, &fakeModel{})
	fu := NewFollowup(f.deps)
	if _, err := fu.Start(context.Background(), StartFollowupRequest{DischargeDate: "2026-10-01"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Start() error = %v, want ErrInvalidInput", err)
	}
	if _, err := fu.Start(context.Background(), StartFollowupRequest{PatientID: "p1"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Start() error = %v, want ErrInvalidInput", err)
	}
}

func TestDischargeContext(t *testing.T) {
	got := DischargeContext(StartFollowupRequest{
		PatientID:             "p9",
		DischargeDate:         "2026-10-01",
		DischargeInstructions: "Keep the wound dry",
		Medications:           []string{"amoxicillin", "ibuprofen"},
	})
	want := "Patient ID: p9\nDischarge date: 2026-10-01\nDischarge instructions: Keep the wound dry\nMedications: amoxicillin, ibuprofen\n"
	if got != want {
		t.Fatalf("DischargeContext() = %q, want %q", got, want)
	}
}

func TestFollowupSendsContextAndDetectsCompletion(t *testing.T) {
	model := &fakeModel{replies: []string{"Are you taking your medications?", "Glad to hear you're doing well. Take care!"}}
	f := newFixture(t, model)
	fu := NewFollowup(f.deps)
	ctx := context.Background()
	started, _ := fu.Start(ctx, StartFollowupRequest{PatientID: "p1", DischargeDate: "2026-10-01", FollowupType: Followup7Day})

	first, err := fu.ProcessMessage(ctx, started.SessionID, "feeling better")
	if err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}
	if first.Complete {
		t.Fatalf("complete too early")
	}
	if sys := model.call(0).system; !strings.HasPrefix(sys, FollowupSystem+"\n\nPatient context:\nPatient ID: p1\n") {
		t.Fatalf("system = %q, want follow-up directive with context", sys)
	}
	if h := model.call(0).history; len(h) != 2 || h[0].Content != followupGreetings[Followup7Day] {
		t.Fatalf("history sent = %+v, want greeting then message", h)
	}

	done, _ := fu.ProcessMessage(ctx, started.SessionID, "yes, all of them")
	if !done.Complete {
		t.Fatalf("reply = %+v, want complete", done)
	}
	status, _ := fu.Status(started.SessionID)
	if !status.Complete || status.MessageCount != 5 {
		t.Fatalf("Status() = %+v", status)
	}
}

func TestFollowupModelFailureFallback(t *testing.T) {
	f := newFixture(t, &fakeModel{err: context.DeadlineExceeded})
	fu := NewFollowup(f.deps)
	ctx := context.Background()
	started, _ := fu.Start(ctx, StartFollowupRequest{PatientID: "p1", DischargeDate: "2026-10-01"})

	reply, err := fu.ProcessMessage(ctx, started.SessionID, "a bit sore")
	if err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}
	if reply.Message != FollowupFallback {
		t.Fatalf("Message = %q, want follow-up fallback", reply.Message)
	}
}

func TestFollowupEmergency(t *testing.T) {
	model := &fakeModel{}
	f := newFixture(t, model)
	fu := NewFollowup(f.deps)
	ctx := context.Background()
	started, _ := fu.Start(ctx, StartFollowupRequest{PatientID: "p1", DischargeDate: "2026-10-01"})

	reply, _ := fu.ProcessMessage(ctx, started.SessionID, "I have shortness of breath")
	if !reply.Escalation || model.callCount() != 0 {
		t.Fatalf("reply = %+v calls = %d, want emergency without model", reply, model.callCount())
	}
	status, _ := fu.Status(started.SessionID)
	if !status.Escalated {
		t.Fatalf("Status().Escalated = false, want true")
	}
}
