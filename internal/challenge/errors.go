package challenge

import "errors"

var (
	ErrOwnerHintEmpty   = errors.New("owner hint cannot be empty")
	ErrUnknownIcon      = errors.New("unknown target icon")
	ErrChallengeIDEmpty = errors.New("challenge id cannot be empty")
	ErrInvalidLayout    = errors.New("grid cannot hold the requested targets and honeytraps")
)
