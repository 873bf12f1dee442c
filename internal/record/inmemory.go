package record

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRecorder keeps records in process for local/dev use and tests.
type InMemoryRecorder struct {
	mu          sync.RWMutex
	turns       map[string][]TurnRecord
	escalations []EscalationRecord
	triages     []TriageRecord
}

func NewInMemoryRecorder() *InMemoryRecorder {
	return &InMemoryRecorder{turns: make(map[string][]TurnRecord)}
}

func (r *InMemoryRecorder) SaveTurn(_ context.Context, rec TurnRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	r.turns[rec.SessionID] = append(r.turns[rec.SessionID], rec)
	return nil
}

func (r *InMemoryRecorder) MarkEscalated(_ context.Context, rec EscalationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	r.escalations = append(r.escalations, rec)
	return nil
}

func (r *InMemoryRecorder) SaveTriage(_ context.Context, rec TriageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.RedFlags = append([]string(nil), rec.RedFlags...)
	r.triages = append(r.triages, rec)
	return nil
}

// RecentEscalations returns the newest escalations first.
func (r *InMemoryRecorder) RecentEscalations(_ context.Context, limit int) ([]EscalationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > len(r.escalations) {
		limit = len(r.escalations)
	}
	out := make([]EscalationRecord, 0, limit)
	for i := len(r.escalations) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.escalations[i])
	}
	return out, nil
}

// Turns returns the recorded turns of one session in insertion order.
func (r *InMemoryRecorder) Turns(sessionID string) []TurnRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]TurnRecord(nil), r.turns[sessionID]...)
}

// Triages returns every recorded triage assessment.
func (r *InMemoryRecorder) Triages() []TriageRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]TriageRecord(nil), r.triages...)
}

func (r *InMemoryRecorder) Close() error { return nil }
