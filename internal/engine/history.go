package engine

import (
	"fmt"

	"cutline/internal/domain"
	"cutline/internal/metrics"
)

// Undo reverts the most recent recorded operation, restoring any neighbours
// that overlap resolution moved. A locked track leaves the entry in place.
func (e *Engine) Undo() (domain.EditOperation, error) {
	op, ok := e.log.peekUndo()
	if !ok {
		return domain.EditOperation{}, ErrNothingToUndo
	}
	if err := e.revert(&op); err != nil {
		return domain.EditOperation{}, err
	}
	e.log.popUndo()
	e.log.pushRedo(op)
	e.recompute()
	metrics.EditOperations.WithLabelValues("undo").Inc()
	return op, nil
}

// Redo re-applies the most recently undone operation from its recorded
// after-state.
func (e *Engine) Redo() (domain.EditOperation, error) {
	op, ok := e.log.peekRedo()
	if !ok {
		return domain.EditOperation{}, ErrNothingToRedo
	}
	if err := e.replay(&op); err != nil {
		return domain.EditOperation{}, err
	}
	e.log.popRedo()
	e.log.pushUndo(op)
	e.recompute()
	metrics.EditOperations.WithLabelValues("redo").Inc()
	return op, nil
}

func (e *Engine) revert(op *domain.EditOperation) error {
	switch op.Kind {
	case domain.OpAdd:
		t, idx, err := e.itemOn(op.TrackID, op.ItemID)
		if err != nil {
			return err
		}
		keepProperties(op, t.Items[idx])
		t.Items = removeAt(t.Items, idx)
		restoreSpans(t, op.Params.Displaced, false)
	case domain.OpMove:
		src, err := e.mutableTrack(op.Params.OldTrackID)
		if err != nil {
			return err
		}
		dst, idx, err := e.itemOn(op.Params.NewTrackID, op.ItemID)
		if err != nil {
			return err
		}
		item := dst.Items[idx]
		item.Start = op.Params.OldStart
		if src == dst {
			dst.Items[idx] = item
		} else {
			dst.Items = removeAt(dst.Items, idx)
			src.Items = insertAt(src.Items, op.Params.OldIndex, item)
		}
		restoreSpans(dst, op.Params.Displaced, false)
	case domain.OpTrim:
		t, idx, err := e.itemOn(op.TrackID, op.ItemID)
		if err != nil {
			return err
		}
		t.Items[idx].Start = op.Params.OldStart
		t.Items[idx].Duration = op.Params.OldDuration
		restoreSpans(t, op.Params.Displaced, false)
	case domain.OpSplit:
		t, idx, err := e.itemOn(op.TrackID, op.ItemID)
		if err != nil {
			return err
		}
		second := indexOf(t, op.Params.SecondItemID)
		if second < 0 {
			return fmt.Errorf("%w: %s", ErrItemNotFound, op.Params.SecondItemID)
		}
		keepProperties(op, t.Items[second])
		t.Items[idx].Duration = op.Params.OldDuration
		t.Items = removeAt(t.Items, second)
	case domain.OpDelete:
		t, err := e.mutableTrack(op.TrackID)
		if err != nil {
			return err
		}
		if op.Params.Item == nil {
			return fmt.Errorf("%w: delete entry has no item snapshot", ErrInvalidItem)
		}
		t.Items = insertAt(t.Items, op.Params.OldIndex, op.Params.Item.Clone())
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
	return nil
}

func (e *Engine) replay(op *domain.EditOperation) error {
	switch op.Kind {
	case domain.OpAdd:
		t, err := e.mutableTrack(op.TrackID)
		if err != nil {
			return err
		}
		if op.Params.Item == nil {
			return fmt.Errorf("%w: add entry has no item snapshot", ErrInvalidItem)
		}
		restoreSpans(t, op.Params.Displaced, true)
		t.Items = insertAt(t.Items, op.Params.OldIndex, op.Params.Item.Clone())
	case domain.OpMove:
		src, idx, err := e.itemOn(op.Params.OldTrackID, op.ItemID)
		if err != nil {
			return err
		}
		dst, err := e.mutableTrack(op.Params.NewTrackID)
		if err != nil {
			return err
		}
		item := src.Items[idx]
		item.Start = op.Params.NewStart
		if src == dst {
			src.Items[idx] = item
		} else {
			src.Items = removeAt(src.Items, idx)
			dst.Items = append(dst.Items, item)
		}
		restoreSpans(dst, op.Params.Displaced, true)
	case domain.OpTrim:
		t, idx, err := e.itemOn(op.TrackID, op.ItemID)
		if err != nil {
			return err
		}
		t.Items[idx].Start = op.Params.NewStart
		t.Items[idx].Duration = op.Params.NewDuration
		restoreSpans(t, op.Params.Displaced, true)
	case domain.OpSplit:
		t, idx, err := e.itemOn(op.TrackID, op.ItemID)
		if err != nil {
			return err
		}
		if op.Params.Item == nil {
			return fmt.Errorf("%w: split entry has no item snapshot", ErrInvalidItem)
		}
		t.Items[idx].Duration = op.Params.NewDuration
		t.Items = insertAt(t.Items, idx+1, op.Params.Item.Clone())
	case domain.OpDelete:
		t, idx, err := e.itemOn(op.TrackID, op.ItemID)
		if err != nil {
			return err
		}
		keepProperties(op, t.Items[idx])
		t.Items = removeAt(t.Items, idx)
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
	return nil
}

// itemOn resolves an unlocked track and the index of itemID on it.
func (e *Engine) itemOn(trackID, itemID string) (*domain.Track, int, error) {
	t, err := e.mutableTrack(trackID)
	if err != nil {
		return nil, -1, err
	}
	idx := indexOf(t, itemID)
	if idx < 0 {
		return nil, -1, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	return t, idx, nil
}

// restoreSpans puts displaced neighbours back to their before (or after)
// spans. Items no longer on the track are skipped.
func restoreSpans(t *domain.Track, changes []domain.ItemChange, forward bool) {
	for _, c := range changes {
		idx := indexOf(t, c.ItemID)
		if idx < 0 {
			continue
		}
		span := c.Before
		if forward {
			span = c.After
		}
		t.Items[idx].Start = span.Start
		t.Items[idx].Duration = span.Duration
	}
}

// keepProperties carries placement and transform edits made while an item was
// on the timeline into the snapshot that will re-insert it.
func keepProperties(op *domain.EditOperation, current domain.Item) {
	if op.Params.Item == nil {
		return
	}
	snap := op.Params.Item.Clone()
	snap.Placement = current.Placement
	snap.Transform = current.Clone().Transform
	op.Params.Item = &snap
}
