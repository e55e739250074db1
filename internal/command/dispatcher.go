package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"cutline/internal/assets"
	"cutline/internal/auth"
	"cutline/internal/domain"
	"cutline/internal/events"
	"cutline/internal/logging"
	"cutline/internal/media"
	"cutline/internal/metrics"
	"cutline/internal/repo"
	"cutline/internal/session"
)

// Journal records successful mutating calls.
type Journal interface {
	Record(ctx context.Context, e events.Entry) error
}

// EventSource reads the journal back for session.events.
type EventSource interface {
	LatestEvents(ctx context.Context, limit int, cursor int64, f repo.EventFilter) ([]domain.Event, error)
}

type Options struct {
	Sessions *session.Manager
	Media    media.Resolver
	Registry assets.Registry
	Journal  Journal
	Events   EventSource
	Policy   auth.Policy
	Logger   *slog.Logger
}

// Dispatcher routes envelope requests to the closed set of methods.
type Dispatcher struct {
	sessions *session.Manager
	media    media.Resolver
	registry assets.Registry
	journal  Journal
	events   EventSource
	policy   auth.Policy
	logger   *slog.Logger
	methods  map[string]method
}

type method struct {
	run func(ctx context.Context, c *call, params []byte) (any, error)
}

// call carries per-request state through a handler.
type call struct {
	d         *Dispatcher
	method    string
	principal auth.Principal
	entries   []events.Entry
}

func (c *call) record(sessionID, entityKind, entityID string, payload events.Payload) {
	c.entries = append(c.entries, events.Entry{
		Type:       c.method,
		SessionID:  sessionID,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    c.principal.AgentID,
		Payload:    payload,
	})
}

// inSession runs fn under the session lock.
func (c *call) inSession(id string, fn func(st *session.State) error) error {
	s, err := c.d.sessions.Get(id)
	if err != nil {
		return err
	}
	return s.Do(fn)
}

func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		sessions: opts.Sessions,
		media:    opts.Media,
		registry: opts.Registry,
		journal:  opts.Journal,
		events:   opts.Events,
		policy:   opts.Policy,
		logger:   logging.WithComponent(logging.OrNop(opts.Logger), "dispatch"),
		methods:  map[string]method{},
	}
	if d.sessions == nil {
		d.sessions = session.NewManager(session.ManagerOptions{Logger: opts.Logger})
	}
	if d.registry == nil {
		d.registry = assets.Nop{}
	}
	if d.journal == nil {
		d.journal = events.Nop{}
	}
	d.registerAll()
	return d
}

// register binds a method name to a typed handler. Params are decoded
// strictly into C and validated before fn runs.
func register[C Command](d *Dispatcher, name string, fn func(ctx context.Context, c *call, cmd C) (any, error)) {
	d.methods[name] = method{run: func(ctx context.Context, c *call, params []byte) (any, error) {
		var cmd C
		if len(params) > 0 {
			dec := json.NewDecoder(bytes.NewReader(params))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&cmd); err != nil {
				return nil, newError(CodeInvalidParams, "%s: %v", name, err)
			}
		}
		if err := cmd.Validate(); err != nil {
			return nil, newError(CodeInvalidParams, "%s: %v", name, err)
		}
		return fn(ctx, c, cmd)
	}}
}

// Methods lists the recognised method names.
func (d *Dispatcher) Methods() []string {
	out := make([]string, 0, len(d.methods))
	for name := range d.methods {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (d *Dispatcher) Sessions() *session.Manager { return d.sessions }

// Handle decodes a raw request body and dispatches it. It always returns a
// response, including for malformed input.
func (d *Dispatcher) Handle(ctx context.Context, body []byte) Response {
	var raw struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Params map[string]any  `json:"params"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&raw); err != nil {
		return Response{Error: newError(CodeParseError, "parse request: %v", err)}
	}
	req := Request{Method: raw.Method, Params: raw.Params}
	if len(raw.ID) > 0 && string(raw.ID) != "null" {
		if err := json.Unmarshal(raw.ID, &req.ID); err != nil {
			return Response{Error: newError(CodeInvalidRequest, "id must be a string")}
		}
	}
	return d.Dispatch(ctx, req)
}

// Dispatch runs one request. The caller's principal is read from ctx.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	started := time.Now()
	resp := d.dispatch(ctx, req)
	resp.ID = req.ID

	outcome := "ok"
	switch {
	case resp.Error != nil:
		outcome = resp.Error.Code.String()
	case isFailure(resp.Result):
		outcome = "failure"
	}
	label := req.Method
	if _, ok := d.methods[label]; !ok {
		label = "unknown"
	}
	metrics.RPCRequestsTotal.WithLabelValues(label, outcome).Inc()
	metrics.RPCDuration.WithLabelValues(label).Observe(time.Since(started).Seconds())
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) Response {
	name := strings.TrimSpace(req.Method)
	if name == "" {
		return Response{Error: newError(CodeInvalidRequest, "method is required")}
	}
	m, ok := d.methods[name]
	if !ok {
		return Response{Error: newError(CodeUnknownMethod, "unknown method %q", name)}
	}
	principal, _ := auth.PrincipalFromContext(ctx)
	if err := d.policy.Authorize(principal, name); err != nil {
		return Response{Error: newError(CodeForbidden, "%v", err)}
	}

	var params []byte
	if req.Params != nil {
		raw, err := json.Marshal(req.Params)
		if err != nil {
			return Response{Error: newError(CodeInvalidParams, "encode params: %v", err)}
		}
		params = raw
	}

	c := &call{d: d, method: name, principal: principal}
	logger := d.logger.With("method", name, "agent_id", principal.AgentID)
	if req.ID != "" {
		logger = logging.WithRequestID(logger, req.ID)
	}
	result, err := m.run(ctx, c, params)
	if err != nil {
		return d.errorResponse(logger, err)
	}
	for _, e := range c.entries {
		if jerr := d.journal.Record(ctx, e); jerr != nil {
			logger.Warn("journal write failed", "error", jerr)
		}
	}
	logger.Debug("call handled")
	return Response{Result: result}
}

func (d *Dispatcher) errorResponse(logger *slog.Logger, err error) Response {
	var envErr *Error
	if errors.As(err, &envErr) {
		return Response{Error: envErr}
	}
	if errors.Is(err, session.ErrSessionNotFound) {
		return Response{Error: newError(CodeSessionNotFound, "%v", err)}
	}
	if reason, ok := Reason(err); ok {
		logger.Debug("call rejected", "reason", reason, "error", err)
		return Response{Result: Failure{Success: false, Reason: reason, Message: err.Error()}}
	}
	logger.Error("call failed", "error", err)
	return Response{Error: newError(CodeInternal, "%v", err)}
}

func isFailure(result any) bool {
	switch r := result.(type) {
	case Failure:
		return true
	case ExecuteResult:
		return !r.Success
	}
	return false
}

type done struct {
	Success bool `json:"success"`
}

var succeeded = done{Success: true}
