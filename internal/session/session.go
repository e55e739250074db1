package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"cutline/internal/directive"
	"cutline/internal/domain"
	"cutline/internal/engine"
	"cutline/internal/logging"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrAgentConflict   = errors.New("role already held by another agent")
	ErrInvalidAgent    = errors.New("invalid agent")
	ErrInvalidAsset    = errors.New("invalid asset")
)

// Config is what every new session is built from.
type Config struct {
	FrameRate     int
	OverlapPolicy engine.OverlapPolicy
	HistoryLimit  int
	Directives    directive.Settings
	// Handlers is passed through to each session's executor.
	Handlers map[domain.DirectiveKind]directive.Handler
}

// Session is one independent editing workspace. All access goes through Do,
// which serialises requests against the same session.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	clock    clockwork.Clock
	logger   *slog.Logger
	engine   *engine.Engine
	executor *directive.Executor
	assets   map[string]domain.GeneratedAsset
	order    []string
	agents   map[domain.AgentRole]domain.Agent
}

func newSession(id string, cfg Config, clock clockwork.Clock, logger *slog.Logger) *Session {
	s := &Session{
		ID:        id,
		CreatedAt: clock.Now().UTC(),
		clock:     clock,
		logger:    logging.WithSession(logger, id),
		assets:    map[string]domain.GeneratedAsset{},
		agents:    map[domain.AgentRole]domain.Agent{},
	}
	s.engine = engine.New(engine.Options{
		FrameRate:     cfg.FrameRate,
		OverlapPolicy: cfg.OverlapPolicy,
		HistoryLimit:  cfg.HistoryLimit,
		Clock:         clock,
	})
	s.executor = directive.NewExecutor(s.engine, assetView{s}, directive.Options{
		Settings: cfg.Directives,
		Logger:   s.logger,
		Clock:    clock,
		Handlers: cfg.Handlers,
	})
	return s
}

// Do runs fn with exclusive access to the session state.
func (s *Session) Do(fn func(st *State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&State{s: s})
}

// State is the session view handed to Do callbacks. It must not escape
// the callback.
type State struct {
	s *Session
}

func (st *State) SessionID() string             { return st.s.ID }
func (st *State) Engine() *engine.Engine        { return st.s.engine }
func (st *State) Executor() *directive.Executor { return st.s.executor }
func (st *State) Logger() *slog.Logger          { return st.s.logger }

// RegisterAgent binds agentID to role. Each role is held by at most one
// agent; registering the holder again is a no-op.
func (st *State) RegisterAgent(role domain.AgentRole, agentID string) (domain.Agent, error) {
	if agentID == "" {
		return domain.Agent{}, fmt.Errorf("%w: agent id is required", ErrInvalidAgent)
	}
	if !role.Valid() {
		return domain.Agent{}, fmt.Errorf("%w: unknown role %q", ErrInvalidAgent, role)
	}
	if held, ok := st.s.agents[role]; ok {
		if held.ID == agentID {
			return held, nil
		}
		return domain.Agent{}, fmt.Errorf("%w: %s is held by %s", ErrAgentConflict, role, held.ID)
	}
	agent := domain.Agent{ID: agentID, Role: role, RegisteredAt: st.s.clock.Now().UTC()}
	st.s.agents[role] = agent
	st.s.logger.Info("agent registered", "agent_id", agentID, "role", string(role))
	return agent, nil
}

// Agent returns the holder of role.
func (st *State) Agent(role domain.AgentRole) (domain.Agent, bool) {
	a, ok := st.s.agents[role]
	return a, ok
}

// Agents lists registered agents ordered by role.
func (st *State) Agents() []domain.Agent {
	out := make([]domain.Agent, 0, len(st.s.agents))
	for _, a := range st.s.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out
}

// SubmitAsset stores a generated asset. It needs a known kind and a payload.
func (st *State) SubmitAsset(asset domain.GeneratedAsset) (domain.GeneratedAsset, error) {
	if !asset.Kind.Valid() {
		return domain.GeneratedAsset{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidAsset, asset.Kind)
	}
	if len(asset.Data) == 0 && asset.URL == "" {
		return domain.GeneratedAsset{}, fmt.Errorf("%w: data or url is required", ErrInvalidAsset)
	}
	if asset.Metadata.Duration < 0 {
		return domain.GeneratedAsset{}, fmt.Errorf("%w: duration must be >= 0", ErrInvalidAsset)
	}
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	if _, exists := st.s.assets[asset.ID]; !exists {
		st.s.order = append(st.s.order, asset.ID)
	}
	asset.CreatedAt = st.s.clock.Now().UTC()
	st.s.assets[asset.ID] = asset
	st.s.logger.Info("asset submitted", "asset_id", asset.ID, "kind", string(asset.Kind), "agent_id", asset.AgentID)
	return asset, nil
}

func (st *State) Asset(id string) (domain.GeneratedAsset, bool) {
	a, ok := st.s.assets[id]
	return a, ok
}

// Assets lists assets in submission order.
func (st *State) Assets() []domain.GeneratedAsset {
	return st.s.assetList()
}

func (st *State) Status() domain.EditingStatus {
	return st.s.executor.Status(st.s.ID, st.s.assetList())
}

// ExecuteNext runs the next pending directive.
func (st *State) ExecuteNext(ctx context.Context) directive.Result {
	return st.s.executor.ExecuteNext(ctx)
}

func (s *Session) assetList() []domain.GeneratedAsset {
	out := make([]domain.GeneratedAsset, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.assets[id])
	}
	return out
}

// assetView lets the executor read assets while the session lock is held.
type assetView struct{ s *Session }

func (v assetView) Asset(id string) (domain.GeneratedAsset, bool) {
	a, ok := v.s.assets[id]
	return a, ok
}
