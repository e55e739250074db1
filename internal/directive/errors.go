package directive

import "errors"

var (
	ErrInvalidDirective    = errors.New("invalid directive")
	ErrUnimplemented       = errors.New("directive kind not implemented")
	ErrAssetNotFound       = errors.New("asset not found")
	ErrNoPendingDirectives = errors.New("no pending directives")
)
