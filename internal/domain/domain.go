package domain

import "time"

type TrackKind string

const (
	TrackVideo    TrackKind = "video"
	TrackAudio    TrackKind = "audio"
	TrackSubtitle TrackKind = "subtitle"
)

func (k TrackKind) Valid() bool {
	switch k {
	case TrackVideo, TrackAudio, TrackSubtitle:
		return true
	}
	return false
}

type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
	MediaImage MediaKind = "image"
	MediaText  MediaKind = "text"
)

func (k MediaKind) Valid() bool {
	switch k {
	case MediaVideo, MediaAudio, MediaImage, MediaText:
		return true
	}
	return false
}

type Track struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Kind    TrackKind `json:"kind" enum:"video,audio,subtitle"`
	Items   []Item    `json:"items"`
	Locked  bool      `json:"locked"`
	Visible bool      `json:"visible"`
	Volume  *float64  `json:"volume,omitempty"`
}

// Clone returns a deep copy so callers never alias engine state.
func (t Track) Clone() Track {
	out := t
	out.Items = make([]Item, len(t.Items))
	for i, it := range t.Items {
		out.Items[i] = it.Clone()
	}
	if t.Volume != nil {
		v := *t.Volume
		out.Volume = &v
	}
	return out
}

type Placement struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Transform struct {
	Opacity  float64 `json:"opacity"`
	Scale    float64 `json:"scale"`
	Rotation float64 `json:"rotation"`
}

type Item struct {
	ID        string     `json:"id"`
	Kind      MediaKind  `json:"kind" enum:"video,audio,image,text"`
	Source    string     `json:"source"`
	Start     int        `json:"start"`
	Duration  int        `json:"duration"`
	Placement Placement  `json:"placement"`
	Transform *Transform `json:"transform,omitempty"`
}

// End is the first frame after the item's occupied interval [Start, End).
func (i Item) End() int { return i.Start + i.Duration }

// Contains reports whether frame lies inside the occupied interval.
func (i Item) Contains(frame int) bool { return frame >= i.Start && frame < i.End() }

func (i Item) Clone() Item {
	out := i
	if i.Transform != nil {
		tr := *i.Transform
		out.Transform = &tr
	}
	return out
}

type OperationKind string

const (
	OpAdd    OperationKind = "add"
	OpMove   OperationKind = "move"
	OpTrim   OperationKind = "trim"
	OpSplit  OperationKind = "split"
	OpDelete OperationKind = "delete"
)

// Span is the positional part of an item.
type Span struct {
	Start    int `json:"start"`
	Duration int `json:"duration"`
}

// ItemChange records a neighbour moved or shrunk by overlap resolution.
type ItemChange struct {
	ItemID string `json:"item_id"`
	Before Span   `json:"before"`
	After  Span   `json:"after"`
}

type OperationParams struct {
	OldStart     int          `json:"old_start"`
	NewStart     int          `json:"new_start"`
	OldDuration  int          `json:"old_duration"`
	NewDuration  int          `json:"new_duration"`
	OldTrackID   string       `json:"old_track_id,omitempty"`
	NewTrackID   string       `json:"new_track_id,omitempty"`
	OldIndex     int          `json:"old_index"`
	SplitFrame   int          `json:"split_frame,omitempty"`
	SecondItemID string       `json:"second_item_id,omitempty"`
	Item         *Item        `json:"item,omitempty"`
	Displaced    []ItemChange `json:"displaced,omitempty"`
}

type EditOperation struct {
	ID        string          `json:"id"`
	Kind      OperationKind   `json:"kind" enum:"add,move,trim,split,delete"`
	TrackID   string          `json:"track_id"`
	ItemID    string          `json:"item_id"`
	Timestamp time.Time       `json:"timestamp"`
	Params    OperationParams `json:"params"`
}

type DirectiveKind string

const (
	DirectiveCutSequence   DirectiveKind = "cut_sequence"
	DirectiveAddBGM        DirectiveKind = "add_bgm"
	DirectiveAddSFX        DirectiveKind = "add_sfx"
	DirectiveAddText       DirectiveKind = "add_text"
	DirectiveAddTransition DirectiveKind = "add_transition"
	DirectiveApplyEffect   DirectiveKind = "apply_effect"
)

var DirectiveKinds = []DirectiveKind{
	DirectiveCutSequence,
	DirectiveAddBGM,
	DirectiveAddSFX,
	DirectiveAddText,
	DirectiveAddTransition,
	DirectiveApplyEffect,
}

func (k DirectiveKind) Valid() bool {
	for _, known := range DirectiveKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Effect is a partial transform; nil fields are left untouched.
type Effect struct {
	Opacity  *float64 `json:"opacity,omitempty"`
	Scale    *float64 `json:"scale,omitempty"`
	Rotation *float64 `json:"rotation,omitempty"`
}

type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// DirectiveParams is the typed parameter bag of a directive. Times are seconds.
type DirectiveParams struct {
	StartTime  *float64    `json:"start_time,omitempty"`
	EndTime    *float64    `json:"end_time,omitempty"`
	Text       string      `json:"text,omitempty"`
	Position   *Placement  `json:"position,omitempty"`
	AssetID    string      `json:"asset_id,omitempty"`
	Source     string      `json:"source,omitempty"`
	TrackID    string      `json:"track_id,omitempty"`
	ItemID     string      `json:"item_id,omitempty"`
	Cuts       []float64   `json:"cuts,omitempty"`
	Remove     []TimeRange `json:"remove,omitempty"`
	Transition string      `json:"transition,omitempty"`
	Duration   *float64    `json:"duration,omitempty"`
	Effect     *Effect     `json:"effect,omitempty"`
	Volume     *float64    `json:"volume,omitempty"`
}

type Directive struct {
	ID          string          `json:"id"`
	Kind        DirectiveKind   `json:"kind" enum:"cut_sequence,add_bgm,add_sfx,add_text,add_transition,apply_effect"`
	Priority    int             `json:"priority"`
	Description string          `json:"description,omitempty"`
	Params      DirectiveParams `json:"params"`
	SubmittedBy string          `json:"submitted_by,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

type AssetKind string

const (
	AssetBGM   AssetKind = "bgm"
	AssetSFX   AssetKind = "sfx"
	AssetTTS   AssetKind = "tts"
	AssetImage AssetKind = "image"
	AssetVideo AssetKind = "video"
)

func (k AssetKind) Valid() bool {
	switch k {
	case AssetBGM, AssetSFX, AssetTTS, AssetImage, AssetVideo:
		return true
	}
	return false
}

type AssetMetadata struct {
	Duration float64 `json:"duration,omitempty"`
	Filename string  `json:"filename,omitempty"`
	MimeType string  `json:"mime_type,omitempty"`
}

type GeneratedAsset struct {
	ID        string        `json:"id"`
	Kind      AssetKind     `json:"kind" enum:"bgm,sfx,tts,image,video"`
	AgentID   string        `json:"agent_id"`
	Data      []byte        `json:"data,omitempty"`
	URL       string        `json:"url,omitempty"`
	Metadata  AssetMetadata `json:"metadata"`
	CreatedAt time.Time     `json:"created_at"`
}

// Reference is how timeline items point at the asset: its URL when it has
// one, otherwise an asset handle.
func (a GeneratedAsset) Reference() string {
	if a.URL != "" {
		return a.URL
	}
	return "asset:" + a.ID
}

type AgentRole string

const (
	RoleDirector       AgentRole = "director"
	RoleMusicGenerator AgentRole = "music_generator"
	RoleSFXGenerator   AgentRole = "sfx_generator"
	RoleVoiceGenerator AgentRole = "voice_generator"
	RoleImageGenerator AgentRole = "image_generator"
	RoleVideoGenerator AgentRole = "video_generator"
	RoleEditor         AgentRole = "editor"
)

func (r AgentRole) Valid() bool {
	switch r {
	case RoleDirector, RoleMusicGenerator, RoleSFXGenerator, RoleVoiceGenerator,
		RoleImageGenerator, RoleVideoGenerator, RoleEditor:
		return true
	}
	return false
}

type Agent struct {
	ID           string    `json:"id"`
	Role         AgentRole `json:"role"`
	RegisteredAt time.Time `json:"registered_at"`
}

type EditingState string

const (
	StateIdle       EditingState = "idle"
	StateProcessing EditingState = "processing"
	StateCompleted  EditingState = "completed"
	StateError      EditingState = "error"
)

type FailedDirective struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

type EditingStatus struct {
	SessionID           string            `json:"session_id"`
	CurrentStep         int               `json:"current_step"`
	TotalSteps          int               `json:"total_steps"`
	State               EditingState      `json:"status" enum:"idle,processing,completed,error"`
	Message             string            `json:"message"`
	CompletedDirectives []string          `json:"completed_directives"`
	PendingDirectives   []string          `json:"pending_directives"`
	FailedDirectives    []FailedDirective `json:"failed_directives,omitempty"`
	GeneratedAssets     []GeneratedAsset  `json:"generated_assets"`
}

// Event is a journal row.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey authenticates an agent. Only the key hash is stored.
type APIKey struct {
	ID        string   `json:"id"`
	AgentID   string   `json:"agent_id"`
	Name      string   `json:"name,omitempty"`
	KeyHash   string   `json:"key_hash"`
	Roles     []string `json:"roles,omitempty"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}
