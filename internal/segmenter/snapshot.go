package segmenter

import (
	"time"

	"github.com/google/uuid"

	"github.com/bluenviron/livefmp4/internal/fmp4"
)

const minRefreshInterval = 1 * time.Second

// TrackSnapshot is an immutable copy of the state of a Track.
type TrackSnapshot struct {
	ID           int
	Prefix       string
	Codec        fmp4.Codec
	Width        int
	Height       int
	ChannelCount int
	SampleRate   int
	TimeScale    uint32
	Bitrate      int
	Records      []FragmentRecord
}

// IsVideo returns whether the track is a video track.
func (t *TrackSnapshot) IsVideo() bool {
	return t.Codec.IsVideo()
}

// Snapshot is an immutable copy of the state of a Presentation.
type Snapshot struct {
	ID                  uuid.UUID
	Name                string
	Mode                Mode
	Closed              bool
	CreationTime        time.Time
	PublishTime         time.Time
	RetentionWindow     int
	PublishedDuration   time.Duration
	MaxFragmentDuration time.Duration
	InitName            string

	// decode time of the first fragment ever published.
	Origin time.Duration

	// sequence number of the first advertised fragment.
	FirstSequence uint32

	// advertised fragments.
	Fragments []FragmentRecord

	Tracks []*TrackSnapshot
}

// RefreshInterval returns the interval after which clients should reload the manifest.
func (s *Snapshot) RefreshInterval() time.Duration {
	if s.MaxFragmentDuration < minRefreshInterval {
		return minRefreshInterval
	}
	return s.MaxFragmentDuration
}

// BufferDepth returns the time span that clients can rewind.
func (s *Snapshot) BufferDepth() time.Duration {
	n := s.RetentionWindow
	if n < 1 {
		n = 1
	}
	return s.RefreshInterval() * time.Duration(n)
}

// Bitrate returns the sum of bitrates of all tracks.
func (s *Snapshot) Bitrate() int {
	ret := 0
	for _, t := range s.Tracks {
		ret += t.Bitrate
	}
	return ret
}

// Snapshot returns an immutable copy of the state of the presentation.
// It can be called concurrently with ingest.
func (p *Presentation) Snapshot() *Snapshot {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	s := &Snapshot{
		ID:                  p.id,
		Name:                p.Name,
		Mode:                p.Mode,
		Closed:              p.closed,
		CreationTime:        p.creationTime,
		PublishTime:         p.publishTime,
		RetentionWindow:     p.RetentionWindow,
		PublishedDuration:   p.publishedDuration,
		MaxFragmentDuration: p.maxFragmentDuration,
		InitName:            p.initName(),
		Origin:              p.origin,
		FirstSequence:       p.nextSequence,
		Fragments:           append([]FragmentRecord(nil), p.fragments...),
		Tracks:              make([]*TrackSnapshot, len(p.tracks)),
	}

	if len(s.Fragments) != 0 {
		s.FirstSequence = s.Fragments[0].Sequence
	}

	for i, t := range p.tracks {
		s.Tracks[i] = &TrackSnapshot{
			ID:           t.ID,
			Prefix:       t.Prefix,
			Codec:        t.Codec,
			Width:        t.Width,
			Height:       t.Height,
			ChannelCount: t.ChannelCount,
			SampleRate:   t.SampleRate,
			TimeScale:    t.TimeScale,
			Bitrate:      t.bitrate,
			Records:      append([]FragmentRecord(nil), t.records...),
		}
	}

	return s
}
