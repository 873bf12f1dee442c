package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

const DefaultChannel = "nurse_escalations"

// PostgresNotifier sends escalations with NOTIFY and follows them with a
// pq.Listener, so every API replica sees every escalation.
type PostgresNotifier struct {
	db          *sql.DB
	databaseURL string
	channel     string
	log         zerolog.Logger
}

func NewPostgresNotifier(ctx context.Context, databaseURL, channel string) (*PostgresNotifier, error) {
	if strings.TrimSpace(channel) == "" {
		channel = DefaultChannel
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresNotifier{
		db:          db,
		databaseURL: databaseURL,
		channel:     channel,
		log:         zerolog.Nop(),
	}, nil
}

// WithLogger sets the logger used for listener connection events.
func (n *PostgresNotifier) WithLogger(l zerolog.Logger) *PostgresNotifier {
	n.log = l
	return n
}

func (n *PostgresNotifier) Publish(ctx context.Context, e Escalation) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal escalation: %w", err)
	}
	stmt := fmt.Sprintf("NOTIFY %s, %s", pq.QuoteIdentifier(n.channel), pq.QuoteLiteral(string(payload)))
	if _, err := n.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("notify %s: %w", n.channel, err)
	}
	return nil
}

func (n *PostgresNotifier) Subscribe(ctx context.Context) (<-chan Escalation, error) {
	listener := pq.NewListener(n.databaseURL, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			n.log.Warn().Err(err).Int("event", int(ev)).Msg("escalation listener event")
		}
	})
	if err := listener.Listen(n.channel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("listen %s: %w", n.channel, err)
	}

	out := make(chan Escalation, subscriberBuffer)
	go func() {
		defer func() {
			_ = listener.Close()
			close(out)
		}()
		ping := time.NewTicker(90 * time.Second)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				_ = listener.Ping()
			case note := <-listener.Notify:
				// nil after a reconnect; events sent while disconnected are lost.
				if note == nil {
					continue
				}
				var e Escalation
				if err := json.Unmarshal([]byte(note.Extra), &e); err != nil {
					n.log.Warn().Err(err).Msg("drop malformed escalation notification")
					continue
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (n *PostgresNotifier) Close() error {
	return n.db.Close()
}
