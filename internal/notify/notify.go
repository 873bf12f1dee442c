package notify

import (
	"context"
	"strings"
	"time"
)

// Escalation is the dashboard event emitted when a session is handed to a
// human nurse.
type Escalation struct {
	SessionID string    `json:"session_id"`
	PatientID string    `json:"patient_id,omitempty"`
	Flow      string    `json:"flow"`
	Urgency   string    `json:"urgency"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// Notifier publishes escalations and lets dashboards follow them live.
type Notifier interface {
	Publish(ctx context.Context, e Escalation) error
	// Subscribe delivers escalations until ctx is cancelled, then closes the
	// returned channel.
	Subscribe(ctx context.Context) (<-chan Escalation, error)
	Close() error
}

// New creates a postgres LISTEN/NOTIFY notifier when a database is
// configured, otherwise an in-process broadcaster.
func New(ctx context.Context, databaseURL, channel string) (Notifier, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewLocal(), nil
	}
	return NewPostgresNotifier(ctx, databaseURL, channel)
}
