package directive

import (
	"fmt"

	"cutline/internal/domain"
)

// Validate checks a directive's kind and the parameters its handler needs.
// Asset references are resolved at execution time, not here.
func Validate(d domain.Directive) error {
	if !d.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDirective, d.Kind)
	}
	p := d.Params
	if p.StartTime != nil && *p.StartTime < 0 {
		return fmt.Errorf("%w: start_time must be >= 0", ErrInvalidDirective)
	}
	if p.EndTime != nil {
		start := 0.0
		if p.StartTime != nil {
			start = *p.StartTime
		}
		if *p.EndTime <= start {
			return fmt.Errorf("%w: end_time must be after start_time", ErrInvalidDirective)
		}
	}
	if p.Duration != nil && *p.Duration <= 0 {
		return fmt.Errorf("%w: duration must be > 0", ErrInvalidDirective)
	}
	if p.Volume != nil && *p.Volume < 0 {
		return fmt.Errorf("%w: volume must be >= 0", ErrInvalidDirective)
	}

	switch d.Kind {
	case domain.DirectiveAddText:
		if p.Text == "" {
			return fmt.Errorf("%w: add_text needs text", ErrInvalidDirective)
		}
	case domain.DirectiveAddBGM, domain.DirectiveAddSFX:
		if p.AssetID == "" && p.Source == "" {
			return fmt.Errorf("%w: %s needs asset_id or source", ErrInvalidDirective, d.Kind)
		}
	case domain.DirectiveAddTransition:
		if p.StartTime == nil {
			return fmt.Errorf("%w: add_transition needs start_time at the cut", ErrInvalidDirective)
		}
	case domain.DirectiveApplyEffect:
		if p.Effect == nil && p.Position == nil {
			return fmt.Errorf("%w: apply_effect needs effect or position", ErrInvalidDirective)
		}
		if e := p.Effect; e != nil {
			if e.Opacity == nil && e.Scale == nil && e.Rotation == nil && p.Position == nil {
				return fmt.Errorf("%w: apply_effect has nothing to apply", ErrInvalidDirective)
			}
			if e.Opacity != nil && (*e.Opacity < 0 || *e.Opacity > 1) {
				return fmt.Errorf("%w: opacity must be within [0,1]", ErrInvalidDirective)
			}
			if e.Scale != nil && *e.Scale <= 0 {
				return fmt.Errorf("%w: scale must be > 0", ErrInvalidDirective)
			}
		}
	case domain.DirectiveCutSequence:
		if len(p.Cuts) == 0 && len(p.Remove) == 0 {
			return fmt.Errorf("%w: cut_sequence needs cuts or remove ranges", ErrInvalidDirective)
		}
		for _, c := range p.Cuts {
			if c < 0 {
				return fmt.Errorf("%w: cut points must be >= 0", ErrInvalidDirective)
			}
		}
		for _, r := range p.Remove {
			if r.Start < 0 || r.End <= r.Start {
				return fmt.Errorf("%w: remove range [%g,%g) is empty", ErrInvalidDirective, r.Start, r.End)
			}
		}
	}
	return nil
}
