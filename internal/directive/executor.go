package directive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"cutline/internal/domain"
	"cutline/internal/engine"
	"cutline/internal/logging"
	"cutline/internal/metrics"
)

// Timeline is the slice of the timeline engine that directive handlers drive.
type Timeline interface {
	Frames(seconds float64) int
	TotalDuration() int
	CreateTrack(name string, kind domain.TrackKind) domain.Track
	Track(trackID string) (domain.Track, bool)
	FindTrack(kind domain.TrackKind, name string) (domain.Track, bool)
	FirstTrack(kind domain.TrackKind) (domain.Track, bool)
	LocateItem(itemID string) (string, domain.Item, bool)
	UpdateTrack(trackID string, upd engine.TrackUpdate) (domain.Track, error)
	AddItem(trackID string, item domain.Item, insertFrame *int) (domain.Item, error)
	SplitItem(trackID, itemID string, splitFrame int) (domain.Item, error)
	RemoveItem(trackID, itemID string) error
	SetItemProperties(trackID, itemID string, props engine.ItemProperties) (domain.Item, error)
}

// AssetLookup resolves generated assets referenced by directives.
type AssetLookup interface {
	Asset(id string) (domain.GeneratedAsset, bool)
}

// Handler applies one directive to the timeline.
type Handler func(ctx context.Context, d domain.Directive) error

// Settings carries the track names and defaults the handlers use.
type Settings struct {
	TextTrack                string
	MusicTrack               string
	SFXTrack                 string
	TransitionTrack          string
	DefaultTextSeconds       float64
	DefaultTransitionSeconds float64
	DefaultAudioSeconds      float64
	CanvasWidth              float64
	CanvasHeight             float64
}

func DefaultSettings() Settings {
	return Settings{
		TextTrack:                "Text Overlays",
		MusicTrack:               "Music",
		SFXTrack:                 "Sound Effects",
		TransitionTrack:          "Transitions",
		DefaultTextSeconds:       3,
		DefaultTransitionSeconds: 1,
		DefaultAudioSeconds:      10,
		CanvasWidth:              1920,
		CanvasHeight:             1080,
	}
}

type Options struct {
	Settings Settings
	Logger   *slog.Logger
	Clock    clockwork.Clock
	// Handlers overrides the built-in handler for a kind. A nil handler
	// leaves the kind unimplemented.
	Handlers map[domain.DirectiveKind]Handler
}

// Result reports one ExecuteNext call.
type Result struct {
	Success     bool                 `json:"success"`
	DirectiveID string               `json:"directive_id,omitempty"`
	Kind        domain.DirectiveKind `json:"kind,omitempty"`
	Message     string               `json:"message"`
	Err         error                `json:"-"`
}

// Executor drains a session's directive queue one directive per call. It
// is not safe for concurrent use.
type Executor struct {
	timeline Timeline
	assets   AssetLookup
	settings Settings
	logger   *slog.Logger
	clock    clockwork.Clock
	handlers map[domain.DirectiveKind]Handler

	queue      Queue
	completed  []string
	failed     []domain.FailedDirective
	submitted  int
	lastFailed bool
}

func NewExecutor(timeline Timeline, assets AssetLookup, opts Options) *Executor {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	settings := opts.Settings
	if settings == (Settings{}) {
		settings = DefaultSettings()
	}
	x := &Executor{
		timeline: timeline,
		assets:   assets,
		settings: settings,
		logger:   logging.WithComponent(logging.OrNop(opts.Logger), "executor"),
		clock:    clock,
	}
	x.handlers = map[domain.DirectiveKind]Handler{
		domain.DirectiveAddText:       x.addText,
		domain.DirectiveAddBGM:        x.addBGM,
		domain.DirectiveAddSFX:        x.addSFX,
		domain.DirectiveAddTransition: x.addTransition,
		domain.DirectiveApplyEffect:   x.applyEffect,
		domain.DirectiveCutSequence:   x.cutSequence,
	}
	for kind, h := range opts.Handlers {
		if h == nil {
			delete(x.handlers, kind)
			continue
		}
		x.handlers[kind] = h
	}
	return x
}

// Submit validates every directive, then enqueues them all. Nothing is
// enqueued when any directive is invalid.
func (x *Executor) Submit(submittedBy string, ds []domain.Directive) ([]domain.Directive, error) {
	if len(ds) == 0 {
		return nil, fmt.Errorf("%w: no directives given", ErrInvalidDirective)
	}
	now := x.clock.Now().UTC()
	accepted := make([]domain.Directive, len(ds))
	for i, d := range ds {
		if err := Validate(d); err != nil {
			return nil, fmt.Errorf("directive %d: %w", i, err)
		}
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		d.SubmittedBy = submittedBy
		d.SubmittedAt = now
		accepted[i] = d
	}
	x.queue.Push(accepted...)
	x.submitted += len(accepted)
	x.logger.Debug("directives queued", "count", len(accepted), "pending", x.queue.Len(), "submitted_by", submittedBy)
	return accepted, nil
}

// ExecuteNext pops the highest-priority directive and applies it. A failed
// directive is dropped from the queue and recorded as failed.
func (x *Executor) ExecuteNext(ctx context.Context) Result {
	d, ok := x.queue.Pop()
	if !ok {
		return Result{Success: false, Message: "No pending directives", Err: ErrNoPendingDirectives}
	}
	logger := x.logger.With("directive_id", d.ID, "kind", string(d.Kind))

	err := x.run(ctx, d)
	if err != nil {
		x.failed = append(x.failed, domain.FailedDirective{ID: d.ID, Kind: string(d.Kind), Reason: err.Error()})
		x.lastFailed = true
		metrics.DirectivesExecuted.WithLabelValues(string(d.Kind), "failed").Inc()
		logger.Warn("directive failed", "error", err)
		return Result{
			Success:     false,
			DirectiveID: d.ID,
			Kind:        d.Kind,
			Message:     fmt.Sprintf("Directive %s (%s) failed: %v", d.ID, d.Kind, err),
			Err:         err,
		}
	}
	x.completed = append(x.completed, d.ID)
	x.lastFailed = false
	metrics.DirectivesExecuted.WithLabelValues(string(d.Kind), "completed").Inc()
	logger.Info("directive executed", "completed", len(x.completed), "pending", x.queue.Len())
	return Result{
		Success:     true,
		DirectiveID: d.ID,
		Kind:        d.Kind,
		Message:     fmt.Sprintf("Executed %s directive %s", d.Kind, d.ID),
	}
}

func (x *Executor) run(ctx context.Context, d domain.Directive) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h, ok := x.handlers[d.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnimplemented, d.Kind)
	}
	return h(ctx, d)
}

// Status summarises progress. Failed directives count toward neither step.
func (x *Executor) Status(sessionID string, assets []domain.GeneratedAsset) domain.EditingStatus {
	st := domain.EditingStatus{
		SessionID:           sessionID,
		CurrentStep:         len(x.completed),
		TotalSteps:          len(x.completed) + x.queue.Len(),
		CompletedDirectives: append([]string{}, x.completed...),
		PendingDirectives:   x.queue.IDs(),
		FailedDirectives:    append([]domain.FailedDirective(nil), x.failed...),
		GeneratedAssets:     assets,
	}
	if st.GeneratedAssets == nil {
		st.GeneratedAssets = []domain.GeneratedAsset{}
	}
	switch {
	case x.submitted == 0:
		st.State = domain.StateIdle
		st.Message = "Waiting for directives"
	case x.queue.Len() > 0:
		st.State = domain.StateProcessing
		st.Message = fmt.Sprintf("%d of %d directives completed", st.CurrentStep, st.TotalSteps)
	case x.lastFailed:
		last := x.failed[len(x.failed)-1]
		st.State = domain.StateError
		st.Message = fmt.Sprintf("Directive %s failed: %s", last.ID, last.Reason)
	default:
		st.State = domain.StateCompleted
		st.Message = "All directives completed"
	}
	return st
}

func (x *Executor) Pending() []domain.Directive      { return x.queue.Pending() }
func (x *Executor) Completed() []string              { return append([]string(nil), x.completed...) }
func (x *Executor) Failed() []domain.FailedDirective { return append([]domain.FailedDirective(nil), x.failed...) }

// IsUnimplemented reports whether err came from a kind with no handler.
func IsUnimplemented(err error) bool { return errors.Is(err, ErrUnimplemented) }
