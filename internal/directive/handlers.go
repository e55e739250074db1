package directive

import (
	"context"
	"fmt"
	"sort"

	"cutline/internal/domain"
	"cutline/internal/engine"
)

func (x *Executor) ensureTrack(kind domain.TrackKind, name string) domain.Track {
	if t, ok := x.timeline.FindTrack(kind, name); ok {
		return t
	}
	return x.timeline.CreateTrack(name, kind)
}

func seconds(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

// span converts a start/end pair in seconds into a start frame and a
// duration of at least one frame.
func (x *Executor) span(start, end float64) (int, int) {
	s := x.timeline.Frames(start)
	return s, max(1, x.timeline.Frames(end)-s)
}

func (x *Executor) addText(_ context.Context, d domain.Directive) error {
	_, _, err := x.PlaceText(d.Params)
	return err
}

// PlaceText adds a text overlay on the text track, creating the track on
// first use. It returns the track id and the placed item.
func (x *Executor) PlaceText(p domain.DirectiveParams) (string, domain.Item, error) {
	start := seconds(p.StartTime, 0)
	end := seconds(p.EndTime, start+x.settings.DefaultTextSeconds)
	startFrame, duration := x.span(start, end)

	placement := domain.Placement{
		X:      0,
		Y:      x.settings.CanvasHeight * 0.8,
		Width:  x.settings.CanvasWidth,
		Height: x.settings.CanvasHeight * 0.2,
	}
	if p.Position != nil {
		placement = *p.Position
	}
	track, err := x.textTrack(p.TrackID)
	if err != nil {
		return "", domain.Item{}, err
	}
	it, err := x.timeline.AddItem(track.ID, domain.Item{
		Kind:      domain.MediaText,
		Source:    p.Text,
		Start:     startFrame,
		Duration:  duration,
		Placement: placement,
	}, nil)
	return track.ID, it, err
}

func (x *Executor) textTrack(trackID string) (domain.Track, error) {
	if trackID == "" {
		return x.ensureTrack(domain.TrackSubtitle, x.settings.TextTrack), nil
	}
	t, ok := x.timeline.Track(trackID)
	if !ok {
		return domain.Track{}, fmt.Errorf("%w: %s", engine.ErrTrackNotFound, trackID)
	}
	return t, nil
}

func (x *Executor) addBGM(ctx context.Context, d domain.Directive) error {
	return x.addAudio(ctx, d, x.settings.MusicTrack, domain.AssetBGM)
}

func (x *Executor) addSFX(ctx context.Context, d domain.Directive) error {
	return x.addAudio(ctx, d, x.settings.SFXTrack, domain.AssetSFX, domain.AssetTTS)
}

func (x *Executor) addAudio(_ context.Context, d domain.Directive, trackName string, kinds ...domain.AssetKind) error {
	p := d.Params
	source := p.Source
	var assetSeconds float64
	if p.AssetID != "" {
		asset, ok := x.assets.Asset(p.AssetID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrAssetNotFound, p.AssetID)
		}
		if !kindIn(asset.Kind, kinds) {
			return fmt.Errorf("%w: asset %s is %s, %s needs %v", ErrInvalidDirective, asset.ID, asset.Kind, d.Kind, kinds)
		}
		source = asset.Reference()
		assetSeconds = asset.Metadata.Duration
	}

	start := seconds(p.StartTime, 0)
	startFrame := x.timeline.Frames(start)
	var duration int
	switch {
	case p.EndTime != nil:
		_, duration = x.span(start, *p.EndTime)
	case assetSeconds > 0:
		duration = max(1, x.timeline.Frames(assetSeconds))
	case x.timeline.TotalDuration() > startFrame:
		duration = x.timeline.TotalDuration() - startFrame
	default:
		duration = max(1, x.timeline.Frames(x.settings.DefaultAudioSeconds))
	}

	track := x.ensureTrack(domain.TrackAudio, trackName)
	if _, err := x.timeline.AddItem(track.ID, domain.Item{
		Kind:     domain.MediaAudio,
		Source:   source,
		Start:    startFrame,
		Duration: duration,
	}, nil); err != nil {
		return err
	}
	if p.Volume != nil {
		if _, err := x.timeline.UpdateTrack(track.ID, engine.TrackUpdate{Volume: p.Volume}); err != nil {
			return err
		}
	}
	return nil
}

func (x *Executor) addTransition(_ context.Context, d domain.Directive) error {
	p := d.Params
	name := p.Transition
	if name == "" {
		name = "crossfade"
	}
	length := seconds(p.Duration, x.settings.DefaultTransitionSeconds)
	cut := seconds(p.StartTime, 0)
	start := max(0, cut-length/2)
	startFrame, duration := x.span(start, start+length)

	track := x.ensureTrack(domain.TrackVideo, x.settings.TransitionTrack)
	_, err := x.timeline.AddItem(track.ID, domain.Item{
		Kind:     domain.MediaVideo,
		Source:   "transition:" + name,
		Start:    startFrame,
		Duration: duration,
	}, nil)
	return err
}

func (x *Executor) applyEffect(_ context.Context, d domain.Directive) error {
	p := d.Params
	props := effectProperties(p)

	if p.ItemID != "" {
		trackID := p.TrackID
		if trackID == "" {
			found, _, ok := x.timeline.LocateItem(p.ItemID)
			if !ok {
				return fmt.Errorf("%w: %s", engine.ErrItemNotFound, p.ItemID)
			}
			trackID = found
		}
		_, err := x.timeline.SetItemProperties(trackID, p.ItemID, props)
		return err
	}

	track, err := x.targetTrack(p.TrackID)
	if err != nil {
		return err
	}
	from, to := 0, x.timeline.TotalDuration()
	if p.StartTime != nil {
		from = x.timeline.Frames(*p.StartTime)
	}
	if p.EndTime != nil {
		to = x.timeline.Frames(*p.EndTime)
	}
	applied := 0
	for _, it := range track.Items {
		if it.End() <= from || it.Start >= to {
			continue
		}
		if _, err := x.timeline.SetItemProperties(track.ID, it.ID, props); err != nil {
			return err
		}
		applied++
	}
	if applied == 0 {
		return fmt.Errorf("%w: no items on track %s in range", engine.ErrItemNotFound, track.Name)
	}
	return nil
}

func effectProperties(p domain.DirectiveParams) engine.ItemProperties {
	var props engine.ItemProperties
	if e := p.Effect; e != nil {
		props.Opacity = e.Opacity
		props.Scale = e.Scale
		props.Rotation = e.Rotation
	}
	if pos := p.Position; pos != nil {
		props.X, props.Y = &pos.X, &pos.Y
		props.Width, props.Height = &pos.Width, &pos.Height
	}
	return props
}

// cutSequence splits at every cut point and at the bounds of every removal
// range, then removes the items lying fully inside a removal range.
func (x *Executor) cutSequence(_ context.Context, d domain.Directive) error {
	p := d.Params
	track, err := x.targetTrack(p.TrackID)
	if err != nil {
		return err
	}

	cuts := append([]float64(nil), p.Cuts...)
	for _, r := range p.Remove {
		cuts = append(cuts, r.Start, r.End)
	}
	sort.Float64s(cuts)
	for _, c := range cuts {
		frame := x.timeline.Frames(c)
		current, ok := x.timeline.Track(track.ID)
		if !ok {
			return fmt.Errorf("%w: %s", engine.ErrTrackNotFound, track.ID)
		}
		for _, it := range current.Items {
			if frame > it.Start && frame < it.End() {
				if _, err := x.timeline.SplitItem(track.ID, it.ID, frame); err != nil {
					return err
				}
				break
			}
		}
	}

	for _, r := range p.Remove {
		from, to := x.timeline.Frames(r.Start), x.timeline.Frames(r.End)
		current, ok := x.timeline.Track(track.ID)
		if !ok {
			return fmt.Errorf("%w: %s", engine.ErrTrackNotFound, track.ID)
		}
		for _, it := range current.Items {
			if it.Start >= from && it.End() <= to {
				if err := x.timeline.RemoveItem(track.ID, it.ID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// targetTrack returns the named track, or the first video track.
func (x *Executor) targetTrack(trackID string) (domain.Track, error) {
	if trackID != "" {
		t, ok := x.timeline.Track(trackID)
		if !ok {
			return domain.Track{}, fmt.Errorf("%w: %s", engine.ErrTrackNotFound, trackID)
		}
		return t, nil
	}
	t, ok := x.timeline.FirstTrack(domain.TrackVideo)
	if !ok {
		return domain.Track{}, fmt.Errorf("%w: no video track", engine.ErrTrackNotFound)
	}
	return t, nil
}

func kindIn(k domain.AssetKind, kinds []domain.AssetKind) bool {
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}
