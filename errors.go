package serial

import "errors"

// ErrPortClosed is returned by any operation on a Port after Close.
var ErrPortClosed = errors.New("serial: port closed")

// ErrPortShutdown is returned by ReadContext and WriteContext after
// Shutdown. The configuration surface stays usable in this state.
var ErrPortShutdown = errors.New("serial: port shut down")
