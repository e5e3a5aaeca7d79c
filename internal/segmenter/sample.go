package segmenter

import (
	"time"
)

// SampleFlags are flags of a sample.
type SampleFlags uint8

// sample flags.
const (
	SampleFlagKeyframe SampleFlags = 1 << iota
)

// Sample is an elementary stream sample.
// A sample with a nil Payload is the end-of-input sentinel.
type Sample struct {
	Payload []byte
	PTS     time.Duration
	DTS     time.Duration
	Flags   SampleFlags
}

// IsKeyframe returns whether the sample is a random access point.
func (s *Sample) IsKeyframe() bool {
	return (s.Flags & SampleFlagKeyframe) != 0
}

// IsEndOfInput returns whether the sample is the end-of-input sentinel.
func (s *Sample) IsEndOfInput() bool {
	return s.Payload == nil
}
