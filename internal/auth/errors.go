package auth

import "errors"

var (
	ErrChallengeIDEmpty = errors.New("challenge id cannot be empty")
)
