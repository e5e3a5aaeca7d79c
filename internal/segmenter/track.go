package segmenter

import (
	"time"

	"github.com/bluenviron/livefmp4/internal/fmp4"
	"github.com/bluenviron/livefmp4/internal/segmentbuffer"
)

// TrackState is the state of a track with respect to the open fragment.
type TrackState int

// track states.
const (
	TrackStateIdle TrackState = iota
	TrackStateAccumulating
	TrackStateCutting
)

// String implements fmt.Stringer.
func (s TrackState) String() string {
	switch s {
	case TrackStateIdle:
		return "idle"
	case TrackStateAccumulating:
		return "accumulating"
	case TrackStateCutting:
		return "cutting"
	}
	return "unknown"
}

// Track is an elementary stream of a Presentation.
type Track struct {
	ID     int
	Prefix string
	Codec  fmp4.Codec

	// video
	Width  int
	Height int

	// audio
	ChannelCount int
	SampleSize   int
	SampleRate   int

	TimeScale uint32

	// payloads of pending samples
	buf *segmentbuffer.Buffer

	state        TrackState
	pending      []*pendingSample
	anchorPTS    time.Duration
	anchorDTS    time.Duration
	lastDTS      time.Duration
	lastDuration uint32
	byteCount    int
	index        []fmp4.IndexEntry

	// set when pending video samples were dropped
	awaitKeyframe bool

	// protected by Presentation.mutex
	bitrate int
	records []FragmentRecord
}

// State returns the state of the track.
func (t *Track) State() TrackState {
	return t.state
}

// IsVideo returns whether the track is a video track.
func (t *Track) IsVideo() bool {
	return t.Codec.IsVideo()
}

func (t *Track) initTrack() *fmp4.InitTrack {
	return &fmp4.InitTrack{
		ID:           t.ID,
		TimeScale:    t.TimeScale,
		Codec:        t.Codec,
		Width:        t.Width,
		Height:       t.Height,
		ChannelCount: t.ChannelCount,
		SampleSize:   t.SampleSize,
		Bitrate:      t.bitrate,
	}
}

func (t *Track) ticks(v time.Duration) int64 {
	return durationGoToMp4(v, t.TimeScale)
}

// duration of a sample whose successor is unknown.
func (t *Track) fallbackDuration() uint32 {
	if t.lastDuration != 0 {
		return t.lastDuration
	}
	switch t.Codec.(type) {
	case *fmp4.CodecMPEG4Audio, fmp4.CodecMPEG4Audio:
		return mpeg4AudioSamplesPerFrame
	}
	return 0
}
