package media

import "errors"

var (
	// ErrDeviceUnavailable means a requested capture device is missing or busy.
	ErrDeviceUnavailable = errors.New("media device unavailable")
	// ErrCancelled means the user backed out of picking a screen.
	ErrCancelled = errors.New("media request cancelled")
)
