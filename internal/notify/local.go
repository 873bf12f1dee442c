package notify

import (
	"context"
	"sync"
)

const subscriberBuffer = 32

// Local fans escalations out to in-process subscribers. Slow subscribers
// miss events rather than block publishers.
type Local struct {
	mu     sync.Mutex
	subs   map[chan Escalation]struct{}
	closed bool
}

func NewLocal() *Local {
	return &Local{subs: make(map[chan Escalation]struct{})}
}

func (l *Local) Publish(_ context.Context, e Escalation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ch := range l.subs {
		select {
		case ch <- e:
		default:
		}
	}
	return nil
}

func (l *Local) Subscribe(ctx context.Context) (<-chan Escalation, error) {
	ch := make(chan Escalation, subscriberBuffer)
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		close(ch)
		return ch, nil
	}
	l.subs[ch] = struct{}{}
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.remove(ch)
	}()
	return ch, nil
}

func (l *Local) remove(ch chan Escalation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.subs[ch]; ok {
		delete(l.subs, ch)
		close(ch)
	}
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for ch := range l.subs {
		delete(l.subs, ch)
		close(ch)
	}
	return nil
}
