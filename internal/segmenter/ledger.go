package segmenter

import (
	"fmt"
	"time"

	"github.com/bluenviron/livefmp4/internal/fmp4"
)

type pendingSample struct {
	pts      time.Duration
	dts      time.Duration
	keyframe bool

	// position inside the track buffer
	sourceOffset int
	size         int

	// position inside the shared fragment payload
	offset int
}

// append stages a sample into the track buffer and assigns its shared payload offset.
func (t *Track) append(s *Sample, offset int) error {
	sourceOffset := t.buf.Tell()

	_, err := t.buf.Write(s.Payload)
	if err != nil {
		return fmt.Errorf("track %d: %w", t.ID, err)
	}

	if len(t.pending) == 0 {
		t.anchorPTS = s.PTS
		t.anchorDTS = s.DTS
		t.state = TrackStateAccumulating
	}

	t.pending = append(t.pending, &pendingSample{
		pts:          s.PTS,
		dts:          s.DTS,
		keyframe:     !t.IsVideo() || s.IsKeyframe(),
		sourceOffset: sourceOffset,
		size:         len(s.Payload),
		offset:       offset,
	})
	t.lastDTS = s.DTS
	t.byteCount += len(s.Payload)

	return nil
}

// sampleDurations computes the duration of pending samples, in timescale units.
// next is the sample that triggered the cut, if it belongs to this track.
func (t *Track) sampleDurations(next *Sample) []uint32 {
	n := len(t.pending)
	ret := make([]uint32, n)

	delta := func(a time.Duration, b time.Duration) uint32 {
		d := t.ticks(b) - t.ticks(a)
		if d < 0 {
			return 0
		}
		return uint32(d)
	}

	for i := 0; i < n-1; i++ {
		ret[i] = delta(t.pending[i].dts, t.pending[i+1].dts)
	}

	switch {
	case next != nil:
		ret[n-1] = delta(t.pending[n-1].dts, next.DTS)

	case n >= 2:
		ret[n-1] = ret[n-2]

	default:
		ret[n-1] = t.fallbackDuration()
	}

	return ret
}

// fragmentTrack converts pending samples into a fmp4.FragmentTrack.
func (t *Track) fragmentTrack(next *Sample) *fmp4.FragmentTrack {
	durations := t.sampleDurations(next)

	samples := make([]*fmp4.Sample, len(t.pending))
	for i, ps := range t.pending {
		samples[i] = &fmp4.Sample{
			Duration:        durations[i],
			PTSOffset:       int32(t.ticks(ps.pts) - t.ticks(ps.dts)),
			IsNonSyncSample: !ps.keyframe,
			Size:            ps.size,
			Offset:          ps.offset,
			SourceOffset:    ps.sourceOffset,
		}
	}

	baseTime := t.ticks(t.anchorDTS)
	if baseTime < 0 {
		baseTime = 0
	}

	return &fmp4.FragmentTrack{
		ID:        t.ID,
		TimeScale: t.TimeScale,
		IsVideo:   t.IsVideo(),
		BaseTime:  uint64(baseTime),
		Samples:   samples,
		Source:    t.buf,
	}
}

// reset clears the ledger after a cut or a discarded fragment.
func (t *Track) reset() {
	t.pending = t.pending[:0]
	t.anchorPTS = 0
	t.anchorDTS = 0
	t.byteCount = 0
	t.buf.Reset()
	t.state = TrackStateIdle
}
