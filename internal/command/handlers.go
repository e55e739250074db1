package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cutline/internal/directive"
	"cutline/internal/domain"
	"cutline/internal/engine"
	"cutline/internal/events"
	"cutline/internal/media"
	"cutline/internal/metrics"
	"cutline/internal/repo"
	"cutline/internal/session"
)

// Reason maps an expected failure to the reason reported in a Failure
// result. Unknown errors are not expected failures.
func Reason(err error) (string, bool) {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason, true
		}
	}
	return "", false
}

var reasons = []struct {
	err    error
	reason string
}{
	{engine.ErrTrackNotFound, "track_not_found"},
	{engine.ErrItemNotFound, "item_not_found"},
	{engine.ErrTrackLocked, "track_locked"},
	{engine.ErrInvalidRange, "invalid_range"},
	{engine.ErrInvalidItem, "invalid_item"},
	{engine.ErrInvalidTrack, "invalid_track"},
	{engine.ErrNothingToUndo, "nothing_to_undo"},
	{engine.ErrNothingToRedo, "nothing_to_redo"},
	{directive.ErrAssetNotFound, "asset_not_found"},
	{directive.ErrNoPendingDirectives, "no_pending_directives"},
	{directive.ErrUnimplemented, "unimplemented"},
	{directive.ErrInvalidDirective, "invalid_directive"},
	{media.ErrNotFound, "media_not_found"},
	{session.ErrAgentConflict, "agent_conflict"},
	{session.ErrInvalidAgent, "invalid_agent"},
	{session.ErrInvalidAsset, "invalid_asset"},
}

type SessionCreated struct {
	SessionID string `json:"session_id"`
	CreatedAt string `json:"created_at"`
}

type Sessions struct {
	Sessions []session.Summary `json:"sessions"`
}

type EventPage struct {
	Events     []domain.Event `json:"events"`
	NextCursor int64          `json:"next_cursor,omitempty"`
}

type TrackResult struct {
	Success bool         `json:"success"`
	Track   domain.Track `json:"track"`
}

type ItemResult struct {
	Success bool        `json:"success"`
	TrackID string      `json:"track_id"`
	Item    domain.Item `json:"item"`
}

type SplitResult struct {
	Success bool        `json:"success"`
	TrackID string      `json:"track_id"`
	First   domain.Item `json:"first"`
	Second  domain.Item `json:"second"`
}

// Timeline is the full read view of a session's timeline.
type Timeline struct {
	SessionID     string         `json:"session_id"`
	FrameRate     int            `json:"frame_rate"`
	OverlapPolicy string         `json:"overlap_policy"`
	TotalDuration int            `json:"total_duration"`
	Tracks        []domain.Track `json:"tracks"`
	UndoDepth     int            `json:"undo_depth"`
	RedoDepth     int            `json:"redo_depth"`
}

type ActiveItems struct {
	Frame int           `json:"frame"`
	Items []domain.Item `json:"items"`
}

type HistoryResult struct {
	Success   bool                 `json:"success"`
	Operation domain.EditOperation `json:"operation"`
}

type AgentResult struct {
	Success bool         `json:"success"`
	Agent   domain.Agent `json:"agent"`
}

type DirectivesAccepted struct {
	Success      bool     `json:"success"`
	DirectiveIDs []string `json:"directive_ids"`
	Pending      int      `json:"pending"`
}

type AssetAccepted struct {
	Success    bool             `json:"success"`
	AssetID    string           `json:"asset_id"`
	Kind       domain.AssetKind `json:"kind"`
	Registered bool             `json:"registered"`
}

type ExecuteResult struct {
	Success     bool                 `json:"success"`
	DirectiveID string               `json:"directive_id,omitempty"`
	Kind        domain.DirectiveKind `json:"kind,omitempty"`
	Message     string               `json:"message"`
	Reason      string               `json:"reason,omitempty"`
}

func (d *Dispatcher) registerAll() {
	register(d, "session.create", d.sessionCreate)
	register(d, "session.delete", d.sessionDelete)
	register(d, "session.list", d.sessionList)
	register(d, "session.events", d.sessionEvents)

	register(d, "edit.create_track", d.createTrack)
	register(d, "edit.delete_track", d.deleteTrack)
	register(d, "edit.update_track", d.updateTrack)
	register(d, "edit.add_media", d.addMedia)
	register(d, "edit.move_clip", d.moveClip)
	register(d, "edit.trim_clip", d.trimClip)
	register(d, "edit.split_clip", d.splitClip)
	register(d, "edit.delete_clip", d.deleteClip)
	register(d, "edit.set_properties", d.setProperties)
	register(d, "edit.add_text", d.addText)
	register(d, "edit.get_timeline", d.getTimeline)
	register(d, "edit.get_active_items", d.getActiveItems)
	register(d, "edit.undo", d.undo)
	register(d, "edit.redo", d.redo)

	register(d, "agent.register", d.registerAgent)
	register(d, "agent.submit_directives", d.submitDirectives)
	register(d, "agent.submit_asset", d.submitAsset)
	register(d, "agent.get_status", d.getStatus)
	register(d, "agent.execute_next", d.executeNext)
}

func (d *Dispatcher) sessionCreate(_ context.Context, c *call, _ SessionCreate) (any, error) {
	s := d.sessions.Create()
	c.record(s.ID, "session", s.ID, nil)
	return SessionCreated{SessionID: s.ID, CreatedAt: s.CreatedAt.Format(time.RFC3339Nano)}, nil
}

func (d *Dispatcher) sessionDelete(_ context.Context, c *call, cmd SessionDelete) (any, error) {
	if err := d.sessions.Delete(cmd.SessionID); err != nil {
		return nil, err
	}
	c.record(cmd.SessionID, "session", cmd.SessionID, nil)
	return succeeded, nil
}

func (d *Dispatcher) sessionList(_ context.Context, _ *call, _ SessionList) (any, error) {
	return Sessions{Sessions: d.sessions.List()}, nil
}

func (d *Dispatcher) sessionEvents(ctx context.Context, _ *call, cmd SessionEvents) (any, error) {
	page := EventPage{Events: []domain.Event{}}
	if d.events == nil {
		return page, nil
	}
	limit := cmd.Limit
	if limit == 0 {
		limit = 50
	}
	evs, err := d.events.LatestEvents(ctx, limit+1, cmd.Cursor, repo.EventFilter{SessionID: cmd.SessionID, Type: cmd.Type})
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	if len(evs) > limit {
		evs = evs[:limit]
		page.NextCursor = evs[limit-1].ID
	}
	page.Events = append(page.Events, evs...)
	return page, nil
}

func (d *Dispatcher) createTrack(_ context.Context, c *call, cmd CreateTrack) (any, error) {
	var res TrackResult
	err := c.inSession(cmd.SessionID, func(st *session.State) error {
		res = TrackResult{Success: true, Track: st.Engine().CreateTrack(cmd.Name, cmd.Kind)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.record(cmd.SessionID, "track", res.Track.ID, events.Payload{"name": res.Track.Name, "kind": res.Track.Kind})
	return res, nil
}

func (d *Dispatcher) deleteTrack(_ context.Context, c *call, cmd DeleteTrack) (any, error) {
	err := c.inSession(cmd.SessionID, func(st *session.State) error {
		return st.Engine().DeleteTrack(cmd.TrackID)
	})
	if err != nil {
		return nil, err
	}
	c.record(cmd.SessionID, "track", cmd.TrackID, nil)
	return succeeded, nil
}

func (d *Dispatcher) updateTrack(_ context.Context, c *call, cmd UpdateTrack) (any, error) {
	var res TrackResult
	err := c.inSession(cmd.SessionID, func(st *session.State) error {
		t, err := st.Engine().UpdateTrack(cmd.TrackID, engine.TrackUpdate{
			Name:    cmd.Name,
			Locked:  cmd.Locked,
			Visible: cmd.Visible,
			Volume:  cmd.Volume,
		})
		res = TrackResult{Success: true, Track: t}
		return err
	})
	if err != nil {
		return nil, err
	}
	c.record(cmd.SessionID, "track", cmd.TrackID, events.Payload{"locked": res.Track.Locked, "visible": res.Track.Visible})
	return res, nil
}

func (d *Dispatcher) addMedia(ctx context.Context, c *call, cmd AddMedia) (any, error) {
	var file *media.File
	if cmd.MediaID != "" {
		f, err := d.resolveMedia(ctx, cmd.MediaID)
		if err != nil {
			return nil, err
		}
		file = &f
	}

	var res ItemResult
	err := c.inSession(cmd.SessionID, func(st *session.State) error {
		eng := st.Engine()
		it := domain.Item{ID: cmd.ItemID, Kind: cmd.Kind, Source: cmd.Source, Transform: cmd.Transform}
		if cmd.Start != nil {
			it.Start = *cmd.Start
		}
		if cmd.Placement != nil {
			it.Placement = *cmd.Placement
		}
		if file != nil {
			if it.Kind == "" {
				it.Kind = file.Type
			}
			if it.Source == "" {
				it.Source = file.URL
			}
			if cmd.Placement == nil {
				it.Placement = domain.Placement{Width: file.Width, Height: file.Height}
			}
			it.Duration = max(1, eng.Frames(file.Duration))
		}
		if cmd.Duration != nil {
			it.Duration = *cmd.Duration
		}
		placed, err := eng.AddItem(cmd.TrackID, it, nil)
		res = ItemResult{Success: true, TrackID: cmd.TrackID, Item: placed}
		return err
	})
	if err != nil {
		return nil, err
	}
	c.record(cmd.SessionID, "item", res.Item.ID, events.Payload{
		"track_id": cmd.TrackID, "kind": res.Item.Kind, "start": res.Item.Start, "duration": res.Item.Duration,
	})
	return res, nil
}

func (d *Dispatcher) resolveMedia(ctx context.Context, id string) (media.File, error) {
	if d.media == nil {
		return media.File{}, newError(CodeInvalidParams, "media_id given but no media resolver is configured")
	}
	f, err := d.media.GetMediaFile(ctx, id)
	if err != nil {
		if !errors.Is(err, media.ErrNotFound) {
			metrics.CollaboratorErrors.WithLabelValues("media").Inc()
		}
		return media.File{}, err
	}
	if !f.Type.Valid() {
		return media.File{}, fmt.Errorf("%w: media %s has type %q", engine.ErrInvalidItem, id, f.Type)
	}
	return f, nil
}

func (d *Dispatcher) moveClip(_ context.Context, c *call, cmd MoveClip) (any, error) {
	var res ItemResult
	err := c.inSession(cmd.SessionID, func(st *session.State) error {
		if err := st.Engine().MoveItem(cmd.TrackID, cmd.ItemID, *cmd.NewStart, cmd.NewTrackID); err != nil {
			return err
		}
		res = itemAfter(st.Engine(), cmd.ItemID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.record(cmd.SessionID, "item", cmd.ItemID, events.Payload{"track_id": res.TrackID, "start": res.Item.Start})
	return res, nil
}

func (d *Dispatcher) trimClip(_ context.Context, c *call, cmd TrimClip) (any, error) {
	var res ItemResult
	err := c.inSession(cmd.SessionID, func(st *session.State) error {
		if err := st.Engine().TrimItem(cmd.TrackID, cmd.ItemID, cmd.NewStart, cmd.NewEnd); err != nil {
			return err
		}
		res = itemAfter(st.Engine(), cmd.ItemID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.record(cmd.SessionID, "item", cmd.ItemID, events.Payload{"start": res.Item.Start, "duration": res.Item.Duration})
	return res, nil
}

func (d *Dispatcher) splitClip(_ context.Context, c *call, cmd SplitClip) (any, error) {
	var res SplitResult
	err := c.inSession(cmd.SessionID, func(st *session.State) error {
		second, err := st.Engine().SplitItem(cmd.TrackID, cmd.ItemID, *cmd.Frame)
		if err != nil {
			return err
		}
		first := itemAfter(st.Engine(), cmd.ItemID)
		res = SplitResult{Success: true, TrackID: cmd.TrackID, First: first.Item, Second: second}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.record(cmd.SessionID, "item", cmd.ItemID, events.Payload{"frame": *cmd.Frame, "second_item_id": res.Second.ID})
	return res, nil
}

func (d *Dispatcher) deleteClip(_ context.Context, c *call, cmd DeleteClip) (any, error) {
	err := c.inSession(cmd.SessionID, func(st *session.State) error {
		return st.Engine().RemoveItem(cmd.TrackID, cmd.ItemID)
	})
	if err != nil {
		return nil, err
	}
	c.record(cmd.SessionID, "item", cmd.ItemID, events.Payload{"track_id": cmd.TrackID})
	return succeeded, nil
}

func (d *Dispatcher) setProperties(_ context.Context, c *call, cmd SetProperties) (any, error) {
	var res ItemResult
	err := c.inSession(cmd.SessionID, func(st *session.State) error {
		it, err := st.Engine().SetItemProperties(cmd.TrackID, cmd.ItemID, engine.ItemProperties{
			X:        cmd.X,
			Y:        cmd.Y,
			Width:    cmd.Width,
			Height:   cmd.Height,
			Opacity:  cmd.Opacity,
			Scale:    cmd.Scale,
			Rotation: cmd.Rotation,
		})
		res = ItemResult{Success: true, TrackID: cmd.TrackID, Item: it}
		return err
	})
	if err != nil {
		return nil, err
	}
	c.record(cmd.SessionID, "item", cmd.ItemID, nil)
	return res, nil
}

func (d *Dispatcher) addText(_ context.Context, c *call, cmd AddText) (any, error) {
	var res ItemResult
	err := c.inSession(cmd.SessionID, func(st *session.State) error {
		trackID, it, err := st.Executor().PlaceText(cmd.params())
		res = ItemResult{Success: true, TrackID: trackID, Item: it}
		return err
	})
	if err != nil {
		return nil, err
	}
	c.record(cmd.SessionID, "item", res.Item.ID, events.Payload{"track_id": res.TrackID, "text": cmd.Text})
	return res, nil
}

func (d *Dispatcher) getTimeline(_ context.Context, c *call, cmd GetTimeline) (any, error) {
	var view Timeline
	err := c.inSession(cmd.SessionID, func(st *session.State) error {
		eng := st.Engine()
		view = Timeline{
			SessionID:     st.SessionID(),
			FrameRate:     eng.FrameRate(),
			OverlapPolicy: string(eng.OverlapPolicy()),
			TotalDuration: eng.TotalDuration(),
			Tracks:        eng.Tracks(),
			UndoDepth:     eng.UndoDepth(),
			RedoDepth:     eng.RedoDepth(),
		}
		return nil
	})
	return view, err
}

func (d *Dispatcher) getActiveItems(_ context.Context, c *call, cmd GetActiveItems) (any, error) {
	res := ActiveItems{Frame: *cmd.Frame}
	err := c.inSession(cmd.SessionID, func(st *session.State) error {
		res.Items = st.Engine().ActiveItems(*cmd.Frame)
		return nil
	})
	if res.Items == nil {
		res.Items = []domain.Item{}
	}
	return res, err
}

func (d *Dispatcher) undo(_ context.Context, c *call, cmd Undo) (any, error) {
	return d.history(c, cmd.SessionID, (*engine.Engine).Undo)
}

func (d *Dispatcher) redo(_ context.Context, c *call, cmd Redo) (any, error) {
	return d.history(c, cmd.SessionID, (*engine.Engine).Redo)
}

func (d *Dispatcher) history(c *call, sessionID string, step func(*engine.Engine) (domain.EditOperation, error)) (any, error) {
	var op domain.EditOperation
	err := c.inSession(sessionID, func(st *session.State) error {
		var err error
		op, err = step(st.Engine())
		return err
	})
	if err != nil {
		return nil, err
	}
	c.record(sessionID, "operation", op.ID, events.Payload{"kind": op.Kind, "item_id": op.ItemID})
	return HistoryResult{Success: true, Operation: op}, nil
}

func (d *Dispatcher) registerAgent(_ context.Context, c *call, cmd RegisterAgent) (any, error) {
	agentID := cmd.AgentID
	if agentID == "" {
		agentID = c.principal.AgentID
	}
	var res AgentResult
	err := c.inSession(cmd.SessionID, func(st *session.State) error {
		a, err := st.RegisterAgent(cmd.Role, agentID)
		res = AgentResult{Success: true, Agent: a}
		return err
	})
	if err != nil {
		return nil, err
	}
	c.record(cmd.SessionID, "agent", res.Agent.ID, events.Payload{"role": res.Agent.Role})
	return res, nil
}

func (d *Dispatcher) submitDirectives(_ context.Context, c *call, cmd SubmitDirectives) (any, error) {
	var res DirectivesAccepted
	err := c.inSession(cmd.SessionID, func(st *session.State) error {
		by := c.principal.AgentID
		if by == "" {
			if dir, ok := st.Agent(domain.RoleDirector); ok {
				by = dir.ID
			}
		}
		accepted, err := st.Executor().Submit(by, cmd.Directives)
		if err != nil {
			return err
		}
		res = DirectivesAccepted{Success: true, DirectiveIDs: make([]string, len(accepted)), Pending: len(st.Executor().Pending())}
		for i, dv := range accepted {
			res.DirectiveIDs[i] = dv.ID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.record(cmd.SessionID, "directive", "", events.Payload{"directive_ids": res.DirectiveIDs})
	return res, nil
}

func (d *Dispatcher) submitAsset(ctx context.Context, c *call, cmd SubmitAsset) (any, error) {
	asset := cmd.Asset
	if asset.AgentID == "" {
		asset.AgentID = c.principal.AgentID
	}
	var stored domain.GeneratedAsset
	err := c.inSession(cmd.SessionID, func(st *session.State) error {
		var err error
		stored, err = st.SubmitAsset(asset)
		return err
	})
	if err != nil {
		return nil, err
	}

	res := AssetAccepted{Success: true, AssetID: stored.ID, Kind: stored.Kind, Registered: true}
	if err := d.registry.Register(ctx, cmd.SessionID, stored); err != nil {
		res.Registered = false
		metrics.CollaboratorErrors.WithLabelValues("assets").Inc()
		d.logger.Warn("asset registry rejected asset", "session_id", cmd.SessionID, "asset_id", stored.ID, "error", err)
	}
	c.record(cmd.SessionID, "asset", stored.ID, events.Payload{"kind": stored.Kind, "agent_id": stored.AgentID})
	return res, nil
}

func (d *Dispatcher) getStatus(_ context.Context, c *call, cmd GetStatus) (any, error) {
	var status domain.EditingStatus
	err := c.inSession(cmd.SessionID, func(st *session.State) error {
		status = st.Status()
		return nil
	})
	return status, err
}

func (d *Dispatcher) executeNext(ctx context.Context, c *call, cmd ExecuteNext) (any, error) {
	var res ExecuteResult
	err := c.inSession(cmd.SessionID, func(st *session.State) error {
		r := st.ExecuteNext(ctx)
		res = ExecuteResult{Success: r.Success, DirectiveID: r.DirectiveID, Kind: r.Kind, Message: r.Message}
		if r.Err != nil {
			res.Reason = "directive_failed"
			if reason, ok := Reason(r.Err); ok {
				res.Reason = reason
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.DirectiveID != "" {
		c.record(cmd.SessionID, "directive", res.DirectiveID, events.Payload{"kind": res.Kind, "success": res.Success})
	}
	return res, nil
}

// itemAfter reads an item back after a mutation that may have moved it.
func itemAfter(eng *engine.Engine, itemID string) ItemResult {
	trackID, it, _ := eng.LocateItem(itemID)
	return ItemResult{Success: true, TrackID: trackID, Item: it}
}
