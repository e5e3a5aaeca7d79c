package manifest

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/zencoder/go-dash/v3/mpd"

	"github.com/bluenviron/livefmp4/internal/fmp4"
	"github.com/bluenviron/livefmp4/internal/segmenter"
)

const (
	dashTimescale     = 1000
	dashMediaTemplate = "$RepresentationID$-$Time$.m4s"
	dashInitTemplate  = "$RepresentationID$-init.mp4"
)

type mpdInteger interface {
	~int64 | ~uint64
}

func setInteger[T mpdInteger](dst *T, v int64) {
	*dst = T(v)
}

func setIntegerPtr[T mpdInteger](dst **T, v int64) {
	x := T(v)
	*dst = &x
}

func formatDuration(d time.Duration) string {
	return "PT" + strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "S"
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.999Z")
}

// segmentTimeline converts records into (t, d) pairs, collapsing repeats.
func segmentTimeline(records []segmenter.FragmentRecord) *mpd.SegmentTimeline {
	tl := &mpd.SegmentTimeline{}

	var prev *mpd.SegmentTimelineSegment
	var prevDuration int64
	var prevEnd int64

	for _, rec := range records {
		t := rec.Start.Milliseconds()
		d := rec.Duration.Milliseconds()

		if prev != nil && prevEnd == t && prevDuration == d {
			if prev.RepeatCount == nil {
				prev.RepeatCount = new(int)
			}
			*prev.RepeatCount++
			prevEnd = t + d
			continue
		}

		s := &mpd.SegmentTimelineSegment{}
		setInteger(&s.Duration, d)
		if prev == nil || prevEnd != t {
			setIntegerPtr(&s.StartTime, t)
		}

		tl.Segments = append(tl.Segments, s)
		prev = s
		prevDuration = d
		prevEnd = t + d
	}

	return tl
}

func newMPD(s *segmenter.Snapshot) *mpd.MPD {
	minBufferTime := formatDuration(s.RefreshInterval())

	if s.Mode != segmenter.ModeLive {
		return mpd.NewMPD(mpd.DASH_PROFILE_LIVE, formatDuration(s.PublishedDuration), minBufferTime)
	}

	m := mpd.NewDynamicMPD(mpd.DASH_PROFILE_LIVE, formatTime(s.CreationTime), minBufferTime,
		mpd.AttrPublishTime(formatTime(s.PublishTime)),
		mpd.AttrMinimumUpdatePeriod(formatDuration(s.RefreshInterval())))

	depth := formatDuration(s.BufferDepth())
	m.TimeShiftBufferDepth = &depth

	return m
}

func buildMPD(s *segmenter.Snapshot) (*mpd.MPD, error) {
	m := newMPD(s)
	m.GetCurrentPeriod().ID = "0"

	codecs := make([]fmp4.Codec, len(s.Tracks))
	var video *segmenter.TrackSnapshot
	var audio *segmenter.TrackSnapshot

	for i, t := range s.Tracks {
		codecs[i] = t.Codec

		if t.IsVideo() {
			if video == nil {
				video = t
			}
		} else if audio == nil {
			audio = t
		}
	}

	var as *mpd.AdaptationSet
	var err error

	if video != nil {
		as, err = m.AddNewAdaptationSetVideoWithID("0", "video/mp4", "progressive", true, 1)
		if err != nil {
			return nil, err
		}

		var rep *mpd.Representation
		rep, err = as.AddNewRepresentationVideo(int64(s.Bitrate()), joinCodecParameters(codecs), s.Name,
			"", int64(video.Width), int64(video.Height))
		if err != nil {
			return nil, err
		}
		rep.FrameRate = nil
	} else {
		as, err = m.AddNewAdaptationSetAudioWithID("0", "audio/mp4", true, 1, "und")
		if err != nil {
			return nil, err
		}

		_, err = as.AddNewRepresentationAudio(int64(audio.SampleRate), int64(s.Bitrate()),
			joinCodecParameters(codecs), s.Name)
		if err != nil {
			return nil, err
		}
	}

	tpl, err := as.SetNewSegmentTemplate(0, dashInitTemplate, dashMediaTemplate, 0, dashTimescale)
	if err != nil {
		return nil, err
	}
	tpl.Duration = nil
	tpl.StartNumber = nil
	setIntegerPtr(&tpl.PresentationTimeOffset, s.Origin.Milliseconds())
	tpl.SegmentTimeline = segmentTimeline(s.Fragments)

	return m, nil
}

// RenderDASH writes a DASH MPD that describes a presentation.
// Fragments carry all tracks, therefore the MPD contains a single adaptation set
// with a single muxed representation, instead of one representation per track.
// The adaptation set is a video one when at least one video track is present.
func RenderDASH(w io.Writer, s *segmenter.Snapshot) (int, error) {
	if len(s.Tracks) == 0 {
		return 0, fmt.Errorf("presentation has no tracks")
	}

	m, err := buildMPD(s)
	if err != nil {
		return 0, err
	}

	str, err := m.WriteToString()
	if err != nil {
		return 0, err
	}

	return io.WriteString(w, str)
}
