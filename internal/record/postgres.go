package record

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRecorder persists conversation turns, escalations and triage
// assessments in PostgreSQL.
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

func NewPostgresRecorder(ctx context.Context, databaseURL string) (*PostgresRecorder, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresRecorder{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			patient_id TEXT NOT NULL DEFAULT '',
			flow TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_turns_session_created ON conversation_turns (session_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS escalations (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			patient_id TEXT NOT NULL DEFAULT '',
			flow TEXT NOT NULL,
			urgency TEXT NOT NULL,
			reason TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_escalations_created ON escalations (created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS triage_assessments (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL DEFAULT '',
			symptoms TEXT NOT NULL,
			esi_level SMALLINT NOT NULL CHECK (esi_level BETWEEN 1 AND 5),
			reasoning TEXT NOT NULL,
			recommended_action TEXT NOT NULL,
			escalate_to_nurse BOOLEAN NOT NULL,
			red_flags TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (r *PostgresRecorder) SaveTurn(ctx context.Context, rec TurnRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO conversation_turns (id, session_id, patient_id, flow, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.SessionID, rec.PatientID, rec.Flow, rec.Role, rec.Content, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

func (r *PostgresRecorder) MarkEscalated(ctx context.Context, rec EscalationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO escalations (id, session_id, patient_id, flow, urgency, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.SessionID, rec.PatientID, rec.Flow, rec.Urgency, rec.Reason, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("mark escalated: %w", err)
	}
	return nil
}

func (r *PostgresRecorder) SaveTriage(ctx context.Context, rec TriageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.RedFlags == nil {
		rec.RedFlags = []string{}
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO triage_assessments
		 (id, patient_id, symptoms, esi_level, reasoning, recommended_action, escalate_to_nurse, red_flags, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.PatientID, rec.Symptoms, rec.ESILevel, rec.Reasoning,
		rec.RecommendedAction, rec.EscalateToNurse, rec.RedFlags, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save triage: %w", err)
	}
	return nil
}

func (r *PostgresRecorder) RecentEscalations(ctx context.Context, limit int) ([]EscalationRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, patient_id, flow, urgency, reason, created_at
		 FROM escalations ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query escalations: %w", err)
	}
	defer rows.Close()

	items := make([]EscalationRecord, 0, limit)
	for rows.Next() {
		var e EscalationRecord
		if err := rows.Scan(&e.ID, &e.SessionID, &e.PatientID, &e.Flow, &e.Urgency, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan escalation row: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate escalation rows: %w", err)
	}
	return items, nil
}

// Ping checks database connectivity for readiness probes.
func (r *PostgresRecorder) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRecorder) Close() error {
	r.pool.Close()
	return nil
}
