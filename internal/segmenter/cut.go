package segmenter

import (
	"fmt"
	"time"

	"github.com/bluenviron/livefmp4/internal/fmp4"
	"github.com/bluenviron/livefmp4/internal/logger"
)

type cutReason int

const (
	cutReasonNone cutReason = iota
	cutReasonEndOfInput
	cutReasonKeyframe
	cutReasonTargetDuration
)

func (p *Presentation) hasPending() bool {
	for _, t := range p.tracks {
		if len(t.pending) != 0 {
			return true
		}
	}
	return false
}

func (p *Presentation) hasPendingVideo() bool {
	for _, t := range p.tracks {
		if t.IsVideo() && len(t.pending) != 0 {
			return true
		}
	}
	return false
}

// cutReason decides whether the open fragment must be cut before s is accepted.
func (p *Presentation) cutReason(track *Track, s *Sample) cutReason {
	if s.IsEndOfInput() {
		return cutReasonEndOfInput
	}

	if !p.hasPending() {
		return cutReasonNone
	}

	if track.IsVideo() {
		if s.IsKeyframe() && (s.DTS-p.fragmentStart) >= p.MinFragmentDuration {
			return cutReasonKeyframe
		}
		return cutReasonNone
	}

	if !p.hasPendingVideo() &&
		len(track.pending) != 0 &&
		(s.DTS-track.anchorDTS) >= p.TargetDuration {
		return cutReasonTargetDuration
	}

	return cutReasonNone
}

// activeTracks returns tracks with pending samples, video tracks first.
func (p *Presentation) activeTracks() []*Track {
	var ret []*Track

	for _, t := range p.tracks {
		if t.IsVideo() && len(t.pending) != 0 {
			ret = append(ret, t)
		}
	}

	for _, t := range p.tracks {
		if !t.IsVideo() && len(t.pending) != 0 {
			ret = append(ret, t)
		}
	}

	return ret
}

// discard drops the open fragment.
func (p *Presentation) discard() {
	for _, t := range p.tracks {
		t.reset()
	}
	p.nextOffset = 0
	p.fragmentStart = 0
}

// drop discards the open fragment after a failure.
// Video tracks that lose pending samples refuse further samples until a keyframe.
func (p *Presentation) drop() {
	for _, t := range p.tracks {
		if t.IsVideo() && len(t.pending) != 0 {
			t.awaitKeyframe = true
		}
	}
	p.discard()
}

// cut serializes and delivers the open fragment.
// trigger and next are the track and sample that caused the cut, if any.
// The open fragment is reset even when the cut fails.
func (p *Presentation) cut(trigger *Track, next *Sample) (err error) {
	active := p.activeTracks()
	if len(active) == 0 {
		return nil
	}

	defer func() {
		if err != nil {
			p.drop()
		} else {
			p.discard()
		}
	}()

	for _, t := range active {
		t.state = TrackStateCutting
	}

	fragTracks := make([]*fmp4.FragmentTrack, len(active))
	for i, t := range active {
		if t == trigger {
			fragTracks[i] = t.fragmentTrack(next)
		} else {
			fragTracks[i] = t.fragmentTrack(nil)
		}
	}

	frag := &fmp4.Fragment{
		SequenceNumber: p.nextSequence,
		Tracks:         fragTracks,
		SegmentType:    p.Mode == ModeLive,
		SegmentIndex:   p.Mode == ModeLive,
	}

	p.out.Reset()
	err = frag.Marshal(p.out)
	if err != nil {
		return fmt.Errorf("unable to write fragment %d: %w", p.nextSequence, err)
	}

	payload := append([]byte(nil), p.out.Bytes()...)

	leading := active[0]
	leadingDuration := durationMp4ToGo(int64(fragTracks[0].Duration()), leading.TimeScale)
	name := fmt.Sprintf("%s-%d.m4s", p.Name, leading.anchorDTS.Milliseconds())

	err = p.Sink.OnFragment(&Delivery{
		Kind:     DeliveryMedia,
		TrackID:  leading.ID,
		Payload:  payload,
		PTS:      leading.anchorPTS,
		DTS:      leading.anchorDTS,
		Duration: leadingDuration,
		Name:     name,
	})
	if err != nil {
		return &DeliveryError{TrackID: leading.ID, Name: name, Err: err}
	}

	p.commit(active, fragTracks, name, len(payload), leadingDuration)

	p.Log(logger.Debug, "fragment %s delivered (%d bytes, %d tracks, %v)",
		name, len(payload), len(active), leadingDuration)

	return nil
}

// commit updates history and accumulators after a successful delivery.
func (p *Presentation) commit(
	active []*Track,
	fragTracks []*fmp4.FragmentTrack,
	name string,
	size int,
	duration time.Duration,
) {
	for i, t := range active {
		ft := fragTracks[i]

		t.lastDuration = ft.Samples[len(ft.Samples)-1].Duration

		if p.Mode == ModeOnDemand {
			t.index = append(t.index, fmp4.IndexEntry{
				Time:       ft.BaseTime,
				MoofOffset: p.mediaBytes,
			})
		}
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	seq := p.nextSequence

	if seq == 1 {
		p.origin = active[0].anchorDTS
	}

	window := p.RetentionWindow
	if p.Mode != ModeLive {
		window = 0
	}

	for i, t := range active {
		trackDuration := durationMp4ToGo(int64(fragTracks[i].Duration()), t.TimeScale)

		t.records, _ = appendRecord(t.records, FragmentRecord{
			Start:    t.anchorDTS,
			Duration: trackDuration,
			Name:     name,
			Size:     size,
			Sequence: seq,
		}, window)

		if trackDuration > 0 {
			br := int(int64(t.byteCount) * 8 * int64(time.Second) / int64(trackDuration))
			if br > t.bitrate {
				t.bitrate = br
			}
		}
	}

	var dropped int
	p.fragments, dropped = appendRecord(p.fragments, FragmentRecord{
		Start:    active[0].anchorDTS,
		Duration: duration,
		Name:     name,
		Size:     size,
		Sequence: seq,
	}, window)

	if dropped != 0 {
		p.Log(logger.Debug, "%d fragments left the window", dropped)
	}

	p.nextSequence++
	p.mediaBytes += uint64(size)
	p.publishTime = p.timeNow().UTC()
	p.publishedDuration += duration

	if duration > p.maxFragmentDuration {
		p.maxFragmentDuration = duration
	}
}
