package call

import "errors"

var (
	ErrClientUnavailable = errors.New("call: rtc client unavailable")
	ErrJoinFailure       = errors.New("call: failed to join channel")
	ErrPublishFailure    = errors.New("call: failed to publish tracks")
	ErrCallInProgress    = errors.New("call: a call lifecycle is already in progress")
)
