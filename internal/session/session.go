package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"workerhub/internal/logging"
	"workerhub/internal/push"
)

var (
	// ErrClosed is returned when delivering to or polling a closed session.
	ErrClosed = errors.New("session closed")
	// ErrNotFound is returned for unknown session IDs.
	ErrNotFound = errors.New("session not found")
)

// Session is one display target.
type Session struct {
	id      string
	label   string
	opened  time.Time
	mailbox *Mailbox

	mu       sync.Mutex
	lastSeen time.Time
	closed   bool
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Label returns the client-supplied label.
func (s *Session) Label() string { return s.label }

// Alive reports whether the session still accepts messages.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Deliver appends a push to the session's mailbox.
func (s *Session) Deliver(channel string, payload any) error {
	if !s.Alive() {
		return ErrClosed
	}
	return s.mailbox.Put(channel, payload)
}

// Poll returns queued messages after since, optionally waiting for new ones.
func (s *Session) Poll(ctx context.Context, since uint64, limit int, wait bool) ([]Message, uint64, error) {
	s.touch()
	msgs, next, err := s.mailbox.Fetch(ctx, since, limit, wait)
	s.touch()
	return msgs, next, err
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.mailbox.Close()
}

// Info is a status snapshot of one session.
type Info struct {
	ID       string    `json:"id"`
	Label    string    `json:"label,omitempty"`
	Primary  bool      `json:"primary"`
	Opened   time.Time `json:"opened"`
	LastSeen time.Time `json:"lastSeen"`
	Queued   int       `json:"queued"`
	Dropped  uint64    `json:"dropped"`
}

// Manager owns the set of open sessions.
type Manager struct {
	capacity    int
	idleTimeout time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	order    []*Session
	primary  *Session
	onClose  []func(*Session)
}

// NewManager builds a session manager. Mailboxes hold capacity messages and
// sessions idle longer than idleTimeout are closed by Reap.
func NewManager(capacity int, idleTimeout time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		capacity:    capacity,
		idleTimeout: idleTimeout,
		logger:      logging.NewComponentLogger(logger, "sessions"),
		sessions:    make(map[string]*Session),
	}
}

// OnClose registers fn to run after a session is closed.
func (m *Manager) OnClose(fn func(*Session)) {
	m.mu.Lock()
	m.onClose = append(m.onClose, fn)
	m.mu.Unlock()
}

// Open creates a session. The first session, or one opened with primary set,
// becomes the primary target.
func (m *Manager) Open(label string, primary bool) *Session {
	now := time.Now()
	s := &Session{
		id:       uuid.NewString(),
		label:    label,
		opened:   now,
		lastSeen: now,
		mailbox:  NewMailbox(m.capacity),
	}
	m.mu.Lock()
	m.sessions[s.id] = s
	m.order = append(m.order, s)
	if primary || m.primary == nil {
		m.primary = s
	}
	isPrimary := m.primary == s
	m.mu.Unlock()

	m.logger.Info("session opened",
		logging.String(logging.FieldEventType, "session_opened"),
		logging.String(logging.FieldSessionID, s.id),
		logging.String("label", label),
		logging.Bool("primary", isPrimary),
	)
	return s
}

// Get returns the open session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Close closes and forgets the session with id.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.sessions, id)
	for i, candidate := range m.order {
		if candidate == s {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	var promoted *Session
	if m.primary == s {
		m.primary = nil
		if len(m.order) > 0 {
			m.primary = m.order[0]
			promoted = m.primary
		}
	}
	hooks := append([]func(*Session){}, m.onClose...)
	m.mu.Unlock()

	s.close()
	for _, fn := range hooks {
		fn(s)
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "session_closed"),
		logging.String(logging.FieldSessionID, id),
	}
	if promoted != nil {
		attrs = append(attrs, logging.String("promoted_primary", promoted.id))
	}
	m.logger.Info("session closed", logging.Args(attrs...)...)
	return nil
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	for _, s := range m.Sessions() {
		_ = m.Close(s.ID())
	}
}

// Primary returns the current primary session.
func (m *Manager) Primary() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.primary, m.primary != nil
}

// Sessions returns the open sessions in the order they were opened.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Session(nil), m.order...)
}

// Destinations returns every live session as a push destination.
func (m *Manager) Destinations() []push.Destination {
	sessions := m.Sessions()
	out := make([]push.Destination, 0, len(sessions))
	for _, s := range sessions {
		if s.Alive() {
			out = append(out, s)
		}
	}
	return out
}

// PrimaryDestination returns the primary session as a push destination.
func (m *Manager) PrimaryDestination() (push.Destination, bool) {
	s, ok := m.Primary()
	if !ok {
		return nil, false
	}
	return s, true
}

// Reap closes sessions that have not polled within the idle timeout and
// returns their IDs.
func (m *Manager) Reap(now time.Time) []string {
	if m.idleTimeout <= 0 {
		return nil
	}
	var stale []string
	for _, s := range m.Sessions() {
		if now.Sub(s.idleSince()) > m.idleTimeout {
			stale = append(stale, s.ID())
		}
	}
	for _, id := range stale {
		if err := m.Close(id); err == nil {
			m.logger.Info("idle session reaped",
				logging.String(logging.FieldEventType, "session_reaped"),
				logging.String(logging.FieldSessionID, id),
			)
		}
	}
	return stale
}

// List returns status snapshots sorted by open time.
func (m *Manager) List() []Info {
	sessions := m.Sessions()
	primary, _ := m.Primary()
	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, Info{
			ID:       s.id,
			Label:    s.label,
			Primary:  s == primary,
			Opened:   s.opened,
			LastSeen: s.idleSince(),
			Queued:   s.mailbox.Len(),
			Dropped:  s.mailbox.Dropped(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Opened.Before(out[j].Opened) })
	return out
}
