package session

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"cutline/internal/domain"
	"cutline/internal/logging"
	"cutline/internal/metrics"
)

// Summary is the listing view of a session.
type Summary struct {
	ID            string              `json:"id"`
	CreatedAt     time.Time           `json:"created_at"`
	Tracks        int                 `json:"tracks"`
	TotalDuration int                 `json:"total_duration"`
	State         domain.EditingState `json:"status"`
}

// Manager owns the live sessions. Sessions exist until deleted.
type Manager struct {
	cfg    Config
	clock  clockwork.Clock
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

type ManagerOptions struct {
	Config Config
	Clock  clockwork.Clock
	Logger *slog.Logger
}

func NewManager(opts ManagerOptions) *Manager {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		cfg:      opts.Config,
		clock:    clock,
		logger:   logging.WithComponent(logging.OrNop(opts.Logger), "sessions"),
		sessions: map[string]*Session{},
	}
}

func (m *Manager) Create() *Session {
	s := newSession(uuid.NewString(), m.cfg, m.clock, m.logger)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	metrics.ActiveSessions.Inc()
	m.logger.Info("session created", "session_id", s.ID)
	return s
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	metrics.ActiveSessions.Dec()
	m.logger.Info("session deleted", "session_id", id)
	return nil
}

// List summarises every session, oldest first.
func (m *Manager) List() []Summary {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	out := make([]Summary, 0, len(all))
	for _, s := range all {
		sum := Summary{ID: s.ID, CreatedAt: s.CreatedAt}
		_ = s.Do(func(st *State) error {
			sum.Tracks = len(st.Engine().Tracks())
			sum.TotalDuration = st.Engine().TotalDuration()
			sum.State = st.Status().State
			return nil
		})
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
