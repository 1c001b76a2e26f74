package call

import "errors"

var (
	ErrNotInCall     = errors.New("not in a call")
	ErrNoVideo       = errors.New("no video track, call is audio-only")
	ErrBusy          = errors.New("media request already in progress")
	ErrManagerClosed = errors.New("call manager closed")
)

// MediaError reports a failed local media operation. Op names the request
// ("getUserMedia", "getDisplayMedia").
type MediaError struct {
	Op  string
	Err error
}

func (e *MediaError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *MediaError) Unwrap() error {
	return e.Err
}
