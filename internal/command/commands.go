package command

import (
	"errors"
	"fmt"
	"strings"

	"cutline/internal/directive"
	"cutline/internal/domain"
)

// Command is the typed parameter set of one method.
type Command interface {
	Validate() error
}

var errInvalid = errors.New("invalid params")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalid, fmt.Sprintf(format, args...))
}

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return invalid("%s is required", field)
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

type SessionRef struct {
	SessionID string `json:"session_id"`
}

func (c SessionRef) Validate() error { return required("session_id", c.SessionID) }

type SessionCreate struct{}

func (SessionCreate) Validate() error { return nil }

type SessionDelete struct {
	SessionRef
}

type SessionList struct{}

func (SessionList) Validate() error { return nil }

type SessionEvents struct {
	SessionID string `json:"session_id,omitempty"`
	Type      string `json:"type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Cursor    int64  `json:"cursor,omitempty"`
}

func (c SessionEvents) Validate() error {
	if c.Limit < 0 || c.Limit > 1000 {
		return invalid("limit must be within [0,1000]")
	}
	if c.Cursor < 0 {
		return invalid("cursor must be >= 0")
	}
	return nil
}

type CreateTrack struct {
	SessionRef
	Name string           `json:"name"`
	Kind domain.TrackKind `json:"kind"`
}

func (c CreateTrack) Validate() error {
	if err := c.SessionRef.Validate(); err != nil {
		return err
	}
	if !c.Kind.Valid() {
		return invalid("kind must be video, audio or subtitle")
	}
	return nil
}

type TrackRef struct {
	SessionRef
	TrackID string `json:"track_id"`
}

func (c TrackRef) Validate() error {
	return firstErr(c.SessionRef.Validate(), required("track_id", c.TrackID))
}

type DeleteTrack struct {
	TrackRef
}

type UpdateTrack struct {
	TrackRef
	Name    *string  `json:"name,omitempty"`
	Locked  *bool    `json:"locked,omitempty"`
	Visible *bool    `json:"visible,omitempty"`
	Volume  *float64 `json:"volume,omitempty"`
}

func (c UpdateTrack) Validate() error {
	if err := c.TrackRef.Validate(); err != nil {
		return err
	}
	if c.Name == nil && c.Locked == nil && c.Visible == nil && c.Volume == nil {
		return invalid("nothing to update")
	}
	if c.Volume != nil && *c.Volume < 0 {
		return invalid("volume must be >= 0")
	}
	return nil
}

// AddMedia places an item on a track. With media_id the media resolver
// supplies source, kind and default duration; otherwise they are given.
type AddMedia struct {
	TrackRef
	ItemID    string            `json:"item_id,omitempty"`
	MediaID   string            `json:"media_id,omitempty"`
	Source    string            `json:"source,omitempty"`
	Kind      domain.MediaKind  `json:"kind,omitempty"`
	Start     *int              `json:"start,omitempty"`
	Duration  *int              `json:"duration,omitempty"`
	Placement *domain.Placement `json:"placement,omitempty"`
	Transform *domain.Transform `json:"transform,omitempty"`
}

func (c AddMedia) Validate() error {
	if err := c.TrackRef.Validate(); err != nil {
		return err
	}
	if c.MediaID == "" {
		if c.Source == "" {
			return invalid("media_id or source is required")
		}
		if !c.Kind.Valid() {
			return invalid("kind is required without media_id")
		}
		if c.Duration == nil {
			return invalid("duration is required without media_id")
		}
	}
	if c.Kind != "" && !c.Kind.Valid() {
		return invalid("unknown kind %q", c.Kind)
	}
	if c.Start != nil && *c.Start < 0 {
		return invalid("start must be >= 0")
	}
	if c.Duration != nil && *c.Duration < 1 {
		return invalid("duration must be >= 1 frame")
	}
	return nil
}

type ItemRef struct {
	TrackRef
	ItemID string `json:"item_id"`
}

func (c ItemRef) Validate() error {
	return firstErr(c.TrackRef.Validate(), required("item_id", c.ItemID))
}

type MoveClip struct {
	ItemRef
	NewStart   *int   `json:"new_start"`
	NewTrackID string `json:"new_track_id,omitempty"`
}

func (c MoveClip) Validate() error {
	if err := c.ItemRef.Validate(); err != nil {
		return err
	}
	if c.NewStart == nil {
		return invalid("new_start is required")
	}
	if *c.NewStart < 0 {
		return invalid("new_start must be >= 0")
	}
	return nil
}

type TrimClip struct {
	ItemRef
	NewStart *int `json:"new_start,omitempty"`
	NewEnd   *int `json:"new_end,omitempty"`
}

func (c TrimClip) Validate() error {
	if err := c.ItemRef.Validate(); err != nil {
		return err
	}
	if c.NewStart == nil && c.NewEnd == nil {
		return invalid("new_start or new_end is required")
	}
	return nil
}

type SplitClip struct {
	ItemRef
	Frame *int `json:"frame"`
}

func (c SplitClip) Validate() error {
	if err := c.ItemRef.Validate(); err != nil {
		return err
	}
	if c.Frame == nil {
		return invalid("frame is required")
	}
	return nil
}

type DeleteClip struct {
	ItemRef
}

type SetProperties struct {
	ItemRef
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
	Width    *float64 `json:"width,omitempty"`
	Height   *float64 `json:"height,omitempty"`
	Opacity  *float64 `json:"opacity,omitempty"`
	Scale    *float64 `json:"scale,omitempty"`
	Rotation *float64 `json:"rotation,omitempty"`
}

func (c SetProperties) Validate() error {
	if err := c.ItemRef.Validate(); err != nil {
		return err
	}
	if c.X == nil && c.Y == nil && c.Width == nil && c.Height == nil && c.Opacity == nil && c.Scale == nil && c.Rotation == nil {
		return invalid("no properties given")
	}
	return nil
}

// AddText places a text overlay. Times are seconds.
type AddText struct {
	SessionRef
	Text      string            `json:"text"`
	TrackID   string            `json:"track_id,omitempty"`
	StartTime *float64          `json:"start_time,omitempty"`
	EndTime   *float64          `json:"end_time,omitempty"`
	Position  *domain.Placement `json:"position,omitempty"`
}

func (c AddText) Validate() error {
	if err := c.SessionRef.Validate(); err != nil {
		return err
	}
	return directive.Validate(domain.Directive{Kind: domain.DirectiveAddText, Params: c.params()})
}

func (c AddText) params() domain.DirectiveParams {
	return domain.DirectiveParams{
		Text:      c.Text,
		TrackID:   c.TrackID,
		StartTime: c.StartTime,
		EndTime:   c.EndTime,
		Position:  c.Position,
	}
}

type GetTimeline struct {
	SessionRef
}

type GetActiveItems struct {
	SessionRef
	Frame *int `json:"frame"`
}

func (c GetActiveItems) Validate() error {
	if err := c.SessionRef.Validate(); err != nil {
		return err
	}
	if c.Frame == nil || *c.Frame < 0 {
		return invalid("frame must be >= 0")
	}
	return nil
}

type Undo struct {
	SessionRef
}

type Redo struct {
	SessionRef
}

// RegisterAgent binds a role. AgentID defaults to the authenticated caller.
type RegisterAgent struct {
	SessionRef
	Role    domain.AgentRole `json:"role"`
	AgentID string           `json:"agent_id,omitempty"`
}

func (c RegisterAgent) Validate() error {
	if err := c.SessionRef.Validate(); err != nil {
		return err
	}
	if !c.Role.Valid() {
		return invalid("unknown role %q", c.Role)
	}
	return nil
}

type SubmitDirectives struct {
	SessionRef
	Directives []domain.Directive `json:"directives"`
}

func (c SubmitDirectives) Validate() error {
	if err := c.SessionRef.Validate(); err != nil {
		return err
	}
	if len(c.Directives) == 0 {
		return invalid("directives must not be empty")
	}
	for i, d := range c.Directives {
		if err := directive.Validate(d); err != nil {
			return invalid("directive %d: %v", i, err)
		}
	}
	return nil
}

type SubmitAsset struct {
	SessionRef
	Asset domain.GeneratedAsset `json:"asset"`
}

func (c SubmitAsset) Validate() error {
	if err := c.SessionRef.Validate(); err != nil {
		return err
	}
	if !c.Asset.Kind.Valid() {
		return invalid("asset.kind must be one of bgm, sfx, tts, image, video")
	}
	if len(c.Asset.Data) == 0 && c.Asset.URL == "" {
		return invalid("asset.data or asset.url is required")
	}
	return nil
}

type GetStatus struct {
	SessionRef
}

type ExecuteNext struct {
	SessionRef
}
