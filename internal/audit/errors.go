package audit

import "errors"

var (
	ErrSequenceConflict  = errors.New("audit sequence already taken")
	ErrEntryNotFound     = errors.New("audit entry not found")
	ErrAppendContention  = errors.New("audit append retries exhausted")
	ErrInvalidRange      = errors.New("invalid audit range")
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrInvalidEvent      = errors.New("invalid audit event")
)
