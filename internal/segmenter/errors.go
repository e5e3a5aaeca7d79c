package segmenter

import (
	"errors"
	"fmt"

	"github.com/bluenviron/livefmp4/internal/fmp4"
	"github.com/bluenviron/livefmp4/internal/segmentbuffer"
)

// errors.
var (
	ErrUnknownTrack  = errors.New("unknown track")
	ErrTooManyTracks = errors.New("too many tracks")
	ErrClosed        = errors.New("presentation is closed")

	// returned when a video track lost its pending samples and
	// a non-keyframe sample is provided.
	ErrKeyframeRequired = errors.New("a keyframe is required")

	// aliases of lower level errors, so that callers only need to import this package.
	ErrCapacityExceeded   = segmentbuffer.ErrCapacityExceeded
	ErrLayoutViolation    = fmp4.ErrLayoutViolation
	ErrInvalidCodecConfig = fmp4.ErrInvalidCodecConfig
)

// DeliveryError is returned when a Sink fails.
type DeliveryError struct {
	TrackID int
	Name    string
	Err     error
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery of '%s' (track %d) failed: %v", e.Name, e.TrackID, e.Err)
}

// Unwrap returns the Sink error.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}
