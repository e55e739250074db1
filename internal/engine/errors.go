package engine

import "errors"

var (
	ErrTrackNotFound = errors.New("track not found")
	ErrItemNotFound  = errors.New("item not found")
	ErrTrackLocked   = errors.New("track is locked")
	ErrInvalidRange  = errors.New("invalid range")
	ErrInvalidItem   = errors.New("invalid item")
	ErrInvalidTrack  = errors.New("invalid track")
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)
