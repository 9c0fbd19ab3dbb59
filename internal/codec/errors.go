package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrAgain is returned by Context.ReceiveFrame when the codec needs
	// more input before it can emit another frame.
	ErrAgain = errors.New("codec: needs more input")

	// ErrEOF is returned by Context.ReceiveFrame once a drained codec has
	// no more frames, and by Context.SendPacket when the codec was
	// already drained.
	ErrEOF = errors.New("codec: end of stream")
)

// InitializationError is returned when a codec context cannot be
// allocated, configured or opened. It is fatal for the track.
type InitializationError struct {
	Description string
	Err         error
}

func (e *InitializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("codec init: %s: %v", e.Description, e.Err)
	}
	return "codec init: " + e.Description
}

func (e *InitializationError) Unwrap() error { return e.Err }

// DecoderError is returned when a single decode or drain call fails.
type DecoderError struct {
	Code int
	Err  error
}

func (e *DecoderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decoder error (code %d): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("decoder error (code %d)", e.Code)
}

func (e *DecoderError) Unwrap() error { return e.Err }

// ResultCode extracts a numeric result code from err, if the error
// carries one, and returns -1 otherwise.
func ResultCode(err error) int {
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	var de *DecoderError
	if errors.As(err, &de) {
		return de.Code
	}
	return -1
}
