package engine

import "cutline/internal/domain"

const DefaultHistoryLimit = 100

// OpLog is a linear undo history: a capped undo stack and a redo stack.
type OpLog struct {
	limit int
	undo  []domain.EditOperation
	redo  []domain.EditOperation
}

func NewOpLog(limit int) *OpLog {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &OpLog{limit: limit}
}

// Record appends a fresh mutation and discards the redo branch.
func (l *OpLog) Record(op domain.EditOperation) {
	l.pushUndo(op)
	l.redo = nil
}

func (l *OpLog) pushUndo(op domain.EditOperation) {
	l.undo = append(l.undo, op)
	if over := len(l.undo) - l.limit; over > 0 {
		l.undo = append([]domain.EditOperation(nil), l.undo[over:]...)
	}
}

func (l *OpLog) peekUndo() (domain.EditOperation, bool) {
	if len(l.undo) == 0 {
		return domain.EditOperation{}, false
	}
	return l.undo[len(l.undo)-1], true
}

func (l *OpLog) popUndo() {
	l.undo = l.undo[:len(l.undo)-1]
}

func (l *OpLog) peekRedo() (domain.EditOperation, bool) {
	if len(l.redo) == 0 {
		return domain.EditOperation{}, false
	}
	return l.redo[len(l.redo)-1], true
}

func (l *OpLog) popRedo() {
	l.redo = l.redo[:len(l.redo)-1]
}

func (l *OpLog) pushRedo(op domain.EditOperation) {
	l.redo = append(l.redo, op)
}

// Purge drops every entry that touches trackID or one of itemIDs, the items
// that were on the track when it was removed. An item may have reached the
// track through a move, so its earlier entries name another track.
func (l *OpLog) Purge(trackID string, itemIDs ...string) {
	gone := make(map[string]bool, len(itemIDs))
	for _, id := range itemIDs {
		gone[id] = true
	}
	keep := func(ops []domain.EditOperation) []domain.EditOperation {
		out := ops[:0]
		for _, op := range ops {
			if op.TrackID == trackID || op.Params.OldTrackID == trackID || op.Params.NewTrackID == trackID {
				continue
			}
			if gone[op.ItemID] || (op.Params.SecondItemID != "" && gone[op.Params.SecondItemID]) {
				continue
			}
			out = append(out, op)
		}
		return out
	}
	l.undo = keep(l.undo)
	l.redo = keep(l.redo)
}

// Entries returns the undo stack, oldest first.
func (l *OpLog) Entries() []domain.EditOperation {
	return append([]domain.EditOperation(nil), l.undo...)
}

func (l *OpLog) UndoLen() int { return len(l.undo) }
func (l *OpLog) RedoLen() int { return len(l.redo) }
func (l *OpLog) Limit() int   { return l.limit }
