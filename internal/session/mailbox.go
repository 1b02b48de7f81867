package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Message is one push delivered to a session.
type Message struct {
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"ts"`
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Mailbox stores recent messages and wakes pollers when new ones arrive.
// When full, the oldest message is dropped.
type Mailbox struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []Message
	nextSeq  uint64
	dropped  uint64
	closed   bool
}

// NewMailbox constructs a bounded mailbox.
func NewMailbox(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = 256
	}
	m := &Mailbox{capacity: capacity}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Put appends a message for channel.
func (m *Mailbox) Put(channel string, payload any) error {
	raw, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", channel, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.nextSeq++
	if len(m.buffer) == m.capacity {
		copy(m.buffer, m.buffer[1:])
		m.buffer = m.buffer[:m.capacity-1]
		m.dropped++
	}
	m.buffer = append(m.buffer, Message{
		Seq:       m.nextSeq,
		Timestamp: time.Now().UTC(),
		Channel:   channel,
		Payload:   raw,
	})
	m.cond.Broadcast()
	return nil
}

// Fetch returns messages with sequence greater than since. When wait is true,
// Fetch blocks until at least one message is available, the mailbox closes,
// or ctx ends. The returned sequence is the cursor for the next call.
func (m *Mailbox) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]Message, uint64, error) {
	if limit <= 0 || limit > m.capacity {
		limit = m.capacity
	}

	cancelWait := make(chan struct{})
	if wait && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				m.mu.Lock()
				m.cond.Broadcast()
				m.mu.Unlock()
			case <-cancelWait:
			}
		}()
	}
	defer close(cancelWait)

	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		msgs, next := m.snapshotLocked(since, limit)
		if len(msgs) > 0 || !wait {
			return msgs, next, nil
		}
		if m.closed {
			return nil, next, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, next, err
		}
		m.cond.Wait()
	}
}

// Dropped reports how many messages were discarded because the mailbox was full.
func (m *Mailbox) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Len returns the number of buffered messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffer)
}

// Close rejects further messages and releases pollers.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
}

func (m *Mailbox) snapshotLocked(since uint64, limit int) ([]Message, uint64) {
	start := len(m.buffer)
	for i, msg := range m.buffer {
		if msg.Seq > since {
			start = i
			break
		}
	}
	if start == len(m.buffer) {
		return nil, m.nextSeq
	}
	end := min(start+limit, len(m.buffer))
	out := make([]Message, end-start)
	copy(out, m.buffer[start:end])
	return out, out[len(out)-1].Seq
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}
