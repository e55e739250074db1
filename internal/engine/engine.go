package engine

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"cutline/internal/domain"
	"cutline/internal/metrics"
)

const DefaultFrameRate = 30

// Options configures a timeline.
type Options struct {
	FrameRate     int
	OverlapPolicy OverlapPolicy
	HistoryLimit  int
	Clock         clockwork.Clock
}

// Engine owns one multitrack timeline and its undo history. It is not safe
// for concurrent use; callers serialise access per session.
type Engine struct {
	opts   Options
	clock  clockwork.Clock
	tracks []*domain.Track
	log    *OpLog
	total  int
}

func New(opts Options) *Engine {
	if opts.FrameRate <= 0 {
		opts.FrameRate = DefaultFrameRate
	}
	if opts.OverlapPolicy == "" {
		opts.OverlapPolicy = OverlapCascade
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		opts:  opts,
		clock: clock,
		log:   NewOpLog(opts.HistoryLimit),
	}
}

func (e *Engine) FrameRate() int              { return e.opts.FrameRate }
func (e *Engine) OverlapPolicy() OverlapPolicy { return e.opts.OverlapPolicy }

// Frames converts seconds to frames at the timeline frame rate.
func (e *Engine) Frames(seconds float64) int {
	return int(math.Round(seconds * float64(e.opts.FrameRate)))
}

// TrackUpdate carries the track attributes to change; nil fields are kept.
type TrackUpdate struct {
	Name    *string
	Locked  *bool
	Visible *bool
	Volume  *float64
}

// ItemProperties carries placement and transform edits; nil fields are kept.
type ItemProperties struct {
	X        *float64
	Y        *float64
	Width    *float64
	Height   *float64
	Opacity  *float64
	Scale    *float64
	Rotation *float64
}

func (p ItemProperties) empty() bool {
	return p.X == nil && p.Y == nil && p.Width == nil && p.Height == nil &&
		p.Opacity == nil && p.Scale == nil && p.Rotation == nil
}

func (e *Engine) CreateTrack(name string, kind domain.TrackKind) domain.Track {
	t := &domain.Track{
		ID:      uuid.NewString(),
		Name:    name,
		Kind:    kind,
		Items:   []domain.Item{},
		Visible: true,
	}
	e.tracks = append(e.tracks, t)
	return t.Clone()
}

func (e *Engine) DeleteTrack(trackID string) error {
	for i, t := range e.tracks {
		if t.ID != trackID {
			continue
		}
		ids := make([]string, 0, len(t.Items))
		for _, it := range t.Items {
			ids = append(ids, it.ID)
		}
		e.tracks = append(e.tracks[:i], e.tracks[i+1:]...)
		e.log.Purge(trackID, ids...)
		e.recompute()
		return nil
	}
	return fmt.Errorf("%w: %s", ErrTrackNotFound, trackID)
}

func (e *Engine) UpdateTrack(trackID string, upd TrackUpdate) (domain.Track, error) {
	t, err := e.track(trackID)
	if err != nil {
		return domain.Track{}, err
	}
	if upd.Volume != nil {
		if t.Kind != domain.TrackAudio {
			return domain.Track{}, fmt.Errorf("%w: volume applies to audio tracks only", ErrInvalidTrack)
		}
		if *upd.Volume < 0 {
			return domain.Track{}, fmt.Errorf("%w: volume must be >= 0", ErrInvalidTrack)
		}
	}
	if upd.Name != nil {
		t.Name = *upd.Name
	}
	if upd.Locked != nil {
		t.Locked = *upd.Locked
	}
	if upd.Visible != nil {
		t.Visible = *upd.Visible
	}
	if upd.Volume != nil {
		v := *upd.Volume
		t.Volume = &v
	}
	return t.Clone(), nil
}

func (e *Engine) AddItem(trackID string, item domain.Item, insertFrame *int) (domain.Item, error) {
	t, err := e.mutableTrack(trackID)
	if err != nil {
		return domain.Item{}, err
	}
	if insertFrame != nil {
		item.Start = *insertFrame
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if err := validateItem(item); err != nil {
		return domain.Item{}, err
	}
	if _, _, ok := e.locate(item.ID); ok {
		return domain.Item{}, fmt.Errorf("%w: duplicate item id %s", ErrInvalidItem, item.ID)
	}
	resolved, displaced := ResolveOverlaps(t.Items, item, e.opts.OverlapPolicy)
	t.Items = append(resolved, item.Clone())
	e.recompute()
	stored := item.Clone()
	e.record(domain.OpAdd, trackID, item.ID, domain.OperationParams{
		NewStart:    item.Start,
		NewDuration: item.Duration,
		NewTrackID:  trackID,
		OldIndex:    len(t.Items) - 1,
		Item:        &stored,
		Displaced:   displaced,
	})
	return item.Clone(), nil
}

// MoveItem changes an item's start and optionally its track. An empty
// newTrackID keeps the item on its current track.
func (e *Engine) MoveItem(trackID, itemID string, newStart int, newTrackID string) error {
	src, err := e.mutableTrack(trackID)
	if err != nil {
		return err
	}
	idx := indexOf(src, itemID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	dst := src
	if newTrackID != "" && newTrackID != trackID {
		if dst, err = e.mutableTrack(newTrackID); err != nil {
			return err
		}
	}
	if newStart < 0 {
		return fmt.Errorf("%w: start must be >= 0", ErrInvalidRange)
	}
	item := src.Items[idx]
	oldStart := item.Start
	item.Start = newStart

	var displaced []domain.ItemChange
	if dst == src {
		others := removeAt(src.Items, idx)
		var resolved []domain.Item
		resolved, displaced = ResolveOverlaps(others, item, e.opts.OverlapPolicy)
		src.Items = insertAt(resolved, idx, item)
	} else {
		src.Items = removeAt(src.Items, idx)
		var resolved []domain.Item
		resolved, displaced = ResolveOverlaps(dst.Items, item, e.opts.OverlapPolicy)
		dst.Items = append(resolved, item)
	}
	e.recompute()
	e.record(domain.OpMove, trackID, itemID, domain.OperationParams{
		OldStart:    oldStart,
		NewStart:    newStart,
		OldDuration: item.Duration,
		NewDuration: item.Duration,
		OldTrackID:  src.ID,
		NewTrackID:  dst.ID,
		OldIndex:    idx,
		Displaced:   displaced,
	})
	return nil
}

// TrimItem adjusts an item's in and/or out point. Durations are clamped to a
// one frame minimum rather than rejected.
func (e *Engine) TrimItem(trackID, itemID string, newStart, newEnd *int) error {
	t, err := e.mutableTrack(trackID)
	if err != nil {
		return err
	}
	idx := indexOf(t, itemID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	if newStart == nil && newEnd == nil {
		return fmt.Errorf("%w: trim needs a new start or end", ErrInvalidRange)
	}
	if newStart != nil && *newStart < 0 {
		return fmt.Errorf("%w: start must be >= 0", ErrInvalidRange)
	}
	item := t.Items[idx]
	oldStart, oldDuration, oldEnd := item.Start, item.Duration, item.End()
	if newStart != nil {
		shift := *newStart - item.Start
		item.Start = *newStart
		item.Duration = max(1, item.Duration-shift)
	}
	if newEnd != nil {
		item.Duration = max(1, *newEnd-item.Start)
	}

	var displaced []domain.ItemChange
	if item.Start < oldStart || item.End() > oldEnd {
		var resolved []domain.Item
		resolved, displaced = ResolveOverlaps(removeAt(t.Items, idx), item, e.opts.OverlapPolicy)
		t.Items = insertAt(resolved, idx, item)
	} else {
		t.Items[idx] = item
	}
	e.recompute()
	e.record(domain.OpTrim, trackID, itemID, domain.OperationParams{
		OldStart:    oldStart,
		NewStart:    item.Start,
		OldDuration: oldDuration,
		NewDuration: item.Duration,
		OldIndex:    idx,
		Displaced:   displaced,
	})
	return nil
}

// SplitItem cuts an item in two at splitFrame and returns the second part.
// splitFrame must lie strictly inside the item.
func (e *Engine) SplitItem(trackID, itemID string, splitFrame int) (domain.Item, error) {
	t, err := e.mutableTrack(trackID)
	if err != nil {
		return domain.Item{}, err
	}
	idx := indexOf(t, itemID)
	if idx < 0 {
		return domain.Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	first := &t.Items[idx]
	if splitFrame <= first.Start || splitFrame >= first.End() {
		return domain.Item{}, fmt.Errorf("%w: split frame %d outside (%d, %d)", ErrInvalidRange, splitFrame, first.Start, first.End())
	}
	oldDuration := first.Duration
	second := first.Clone()
	second.ID = uuid.NewString()
	second.Start = splitFrame
	second.Duration = first.End() - splitFrame
	first.Duration = splitFrame - first.Start
	newDuration := first.Duration

	t.Items = insertAt(t.Items, idx+1, second)
	e.recompute()
	stored := second.Clone()
	e.record(domain.OpSplit, trackID, itemID, domain.OperationParams{
		OldStart:     second.Start - newDuration,
		NewStart:     second.Start - newDuration,
		OldDuration:  oldDuration,
		NewDuration:  newDuration,
		OldIndex:     idx,
		SplitFrame:   splitFrame,
		SecondItemID: second.ID,
		Item:         &stored,
	})
	return second.Clone(), nil
}

func (e *Engine) RemoveItem(trackID, itemID string) error {
	t, err := e.mutableTrack(trackID)
	if err != nil {
		return err
	}
	idx := indexOf(t, itemID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	removed := t.Items[idx].Clone()
	t.Items = removeAt(t.Items, idx)
	e.recompute()
	e.record(domain.OpDelete, trackID, itemID, domain.OperationParams{
		OldStart:    removed.Start,
		OldDuration: removed.Duration,
		OldTrackID:  trackID,
		OldIndex:    idx,
		Item:        &removed,
	})
	return nil
}

// SetItemProperties edits placement and visual transform. It is not an
// undoable operation and leaves the redo stack alone.
func (e *Engine) SetItemProperties(trackID, itemID string, props ItemProperties) (domain.Item, error) {
	t, err := e.mutableTrack(trackID)
	if err != nil {
		return domain.Item{}, err
	}
	idx := indexOf(t, itemID)
	if idx < 0 {
		return domain.Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	if props.empty() {
		return domain.Item{}, fmt.Errorf("%w: no properties given", ErrInvalidItem)
	}
	if props.Opacity != nil && (*props.Opacity < 0 || *props.Opacity > 1) {
		return domain.Item{}, fmt.Errorf("%w: opacity must be within [0,1]", ErrInvalidItem)
	}
	if props.Scale != nil && *props.Scale <= 0 {
		return domain.Item{}, fmt.Errorf("%w: scale must be > 0", ErrInvalidItem)
	}
	if (props.Width != nil && *props.Width < 0) || (props.Height != nil && *props.Height < 0) {
		return domain.Item{}, fmt.Errorf("%w: size must be >= 0", ErrInvalidItem)
	}
	it := &t.Items[idx]
	setIf(&it.Placement.X, props.X)
	setIf(&it.Placement.Y, props.Y)
	setIf(&it.Placement.Width, props.Width)
	setIf(&it.Placement.Height, props.Height)
	if props.Opacity != nil || props.Scale != nil || props.Rotation != nil {
		if it.Transform == nil {
			it.Transform = &domain.Transform{Opacity: 1, Scale: 1}
		}
		setIf(&it.Transform.Opacity, props.Opacity)
		setIf(&it.Transform.Scale, props.Scale)
		setIf(&it.Transform.Rotation, props.Rotation)
	}
	return it.Clone(), nil
}

// TotalDuration is the end frame of the last item on any track, or 0.
func (e *Engine) TotalDuration() int { return e.total }

// ActiveItems returns the items of visible tracks that cover frame.
func (e *Engine) ActiveItems(frame int) []domain.Item {
	var out []domain.Item
	for _, t := range e.tracks {
		if !t.Visible {
			continue
		}
		for _, it := range t.Items {
			if it.Contains(frame) {
				out = append(out, it.Clone())
			}
		}
	}
	return out
}

func (e *Engine) Tracks() []domain.Track {
	out := make([]domain.Track, len(e.tracks))
	for i, t := range e.tracks {
		out[i] = t.Clone()
	}
	return out
}

func (e *Engine) Track(trackID string) (domain.Track, bool) {
	for _, t := range e.tracks {
		if t.ID == trackID {
			return t.Clone(), true
		}
	}
	return domain.Track{}, false
}

// FindTrack returns the first track of kind whose name matches, ignoring case.
func (e *Engine) FindTrack(kind domain.TrackKind, name string) (domain.Track, bool) {
	for _, t := range e.tracks {
		if t.Kind == kind && strings.EqualFold(t.Name, name) {
			return t.Clone(), true
		}
	}
	return domain.Track{}, false
}

// FirstTrack returns the first track of kind in track order.
func (e *Engine) FirstTrack(kind domain.TrackKind) (domain.Track, bool) {
	for _, t := range e.tracks {
		if t.Kind == kind {
			return t.Clone(), true
		}
	}
	return domain.Track{}, false
}

// LocateItem finds the track holding itemID.
func (e *Engine) LocateItem(itemID string) (string, domain.Item, bool) {
	t, idx, ok := e.locate(itemID)
	if !ok {
		return "", domain.Item{}, false
	}
	return t.ID, t.Items[idx].Clone(), true
}

func (e *Engine) History() []domain.EditOperation { return e.log.Entries() }
func (e *Engine) UndoDepth() int                   { return e.log.UndoLen() }
func (e *Engine) RedoDepth() int                   { return e.log.RedoLen() }

func (e *Engine) track(trackID string) (*domain.Track, error) {
	for _, t := range e.tracks {
		if t.ID == trackID {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTrackNotFound, trackID)
}

func (e *Engine) mutableTrack(trackID string) (*domain.Track, error) {
	t, err := e.track(trackID)
	if err != nil {
		return nil, err
	}
	if t.Locked {
		return nil, fmt.Errorf("%w: %s", ErrTrackLocked, trackID)
	}
	return t, nil
}

func (e *Engine) locate(itemID string) (*domain.Track, int, bool) {
	for _, t := range e.tracks {
		if idx := indexOf(t, itemID); idx >= 0 {
			return t, idx, true
		}
	}
	return nil, -1, false
}

func (e *Engine) recompute() {
	total := 0
	for _, t := range e.tracks {
		for _, it := range t.Items {
			if end := it.End(); end > total {
				total = end
			}
		}
	}
	e.total = total
}

func (e *Engine) record(kind domain.OperationKind, trackID, itemID string, params domain.OperationParams) {
	e.log.Record(domain.EditOperation{
		ID:        uuid.NewString(),
		Kind:      kind,
		TrackID:   trackID,
		ItemID:    itemID,
		Timestamp: e.clock.Now().UTC(),
		Params:    params,
	})
	metrics.EditOperations.WithLabelValues(string(kind)).Inc()
}

func validateItem(it domain.Item) error {
	if !it.Kind.Valid() {
		return fmt.Errorf("%w: unknown media kind %q", ErrInvalidItem, it.Kind)
	}
	if it.Start < 0 {
		return fmt.Errorf("%w: start must be >= 0", ErrInvalidItem)
	}
	if it.Duration < 1 {
		return fmt.Errorf("%w: duration must be >= 1 frame", ErrInvalidItem)
	}
	if tr := it.Transform; tr != nil {
		if tr.Opacity < 0 || tr.Opacity > 1 {
			return fmt.Errorf("%w: opacity must be within [0,1]", ErrInvalidItem)
		}
		if tr.Scale < 0 {
			return fmt.Errorf("%w: scale must be >= 0", ErrInvalidItem)
		}
	}
	return nil
}

func indexOf(t *domain.Track, itemID string) int {
	for i, it := range t.Items {
		if it.ID == itemID {
			return i
		}
	}
	return -1
}

func removeAt(items []domain.Item, idx int) []domain.Item {
	out := make([]domain.Item, 0, len(items)-1)
	out = append(out, items[:idx]...)
	return append(out, items[idx+1:]...)
}

func insertAt(items []domain.Item, idx int, it domain.Item) []domain.Item {
	if idx > len(items) {
		idx = len(items)
	}
	out := make([]domain.Item, 0, len(items)+1)
	out = append(out, items[:idx]...)
	out = append(out, it)
	return append(out, items[idx:]...)
}

func setIf(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}
