package nurse

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/antoniostano/careflow/internal/llm"
	"github.com/antoniostano/careflow/internal/notify"
	"github.com/antoniostano/careflow/internal/record"
	"github.com/antoniostano/careflow/internal/session"
)

type modelCall struct {
	system  string
	history []llm.Message
}

// fakeModel replays scripted replies in order, repeating the last one.
type fakeModel struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   []modelCall
}

func (m *fakeModel) Generate(_ context.Context, system string, history []llm.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, modelCall{system: system, history: append([]llm.Message(nil), history...)})
	if m.err != nil {
		return "", m.err
	}
	if len(m.replies) == 0 {
		return "ok", nil
	}
	reply := m.replies[0]
	if len(m.replies) > 1 {
		m.replies = m.replies[1:]
	}
	return reply, nil
}

func (m *fakeModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *fakeModel) call(i int) modelCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[i]
}

type fixture struct {
	deps     Deps
	store    *session.MemoryStore
	model    *fakeModel
	recorder *record.InMemoryRecorder
	events   <-chan notify.Escalation
}

func newFixture(t *testing.T, model *fakeModel) fixture {
	t.Helper()
	store := session.NewMemoryStore(100, time.Hour)
	rec := record.NewInMemoryRecorder()
	n := notify.NewLocal()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	events, err := n.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	return fixture{
		deps: Deps{
			Sessions:    store,
			Model:       model,
			Recorder:    rec,
			Notifier:    n,
			Logger:      zerolog.Nop(),
			CallTimeout: time.Second,
			MaxTurns:    DefaultMaxTurns,
		},
		store:    store,
		model:    model,
		recorder: rec,
		events:   events,
	}
}

func (f fixture) nextEvent(t *testing.T) notify.Escalation {
	t.Helper()
	select {
	case e := <-f.events:
		return e
	case <-time.After(time.Second):
		t.Fatalf("no escalation event published")
		return notify.Escalation{}
	}
}
