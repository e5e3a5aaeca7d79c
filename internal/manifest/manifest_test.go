package manifest

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bluenviron/livefmp4/internal/segmenter"
	"github.com/bluenviron/livefmp4/internal/test"
)

type testMPD struct {
	Type                      string `xml:"type,attr"`
	AvailabilityStartTime     string `xml:"availabilityStartTime,attr"`
	PublishTime               string `xml:"publishTime,attr"`
	MinimumUpdatePeriod       string `xml:"minimumUpdatePeriod,attr"`
	TimeShiftBufferDepth      string `xml:"timeShiftBufferDepth,attr"`
	MediaPresentationDuration string `xml:"mediaPresentationDuration,attr"`
	Periods                   []struct {
		AdaptationSets []struct {
			MimeType        string `xml:"mimeType,attr"`
			SegmentTemplate struct {
				Timescale              int64  `xml:"timescale,attr"`
				PresentationTimeOffset int64  `xml:"presentationTimeOffset,attr"`
				Media                  string `xml:"media,attr"`
				Initialization         string `xml:"initialization,attr"`
				SegmentTimeline        struct {
					Segments []struct {
						T *int64 `xml:"t,attr"`
						D int64  `xml:"d,attr"`
						R *int   `xml:"r,attr"`
					} `xml:"S"`
				} `xml:"SegmentTimeline"`
			} `xml:"SegmentTemplate"`
			Representations []struct {
				ID                string `xml:"id,attr"`
				Codecs            string `xml:"codecs,attr"`
				Bandwidth         int    `xml:"bandwidth,attr"`
				Width             int    `xml:"width,attr"`
				Height            int    `xml:"height,attr"`
				AudioSamplingRate int    `xml:"audioSamplingRate,attr"`
			} `xml:"Representation"`
		} `xml:"AdaptationSet"`
	} `xml:"Period"`
}

func testSnapshot(mode segmenter.Mode) *segmenter.Snapshot {
	rec := func(startMS int, durMS int, seq uint32) segmenter.FragmentRecord {
		return segmenter.FragmentRecord{
			Start:    time.Duration(startMS) * time.Millisecond,
			Duration: time.Duration(durMS) * time.Millisecond,
			Name:     "stream-" + strconv.Itoa(startMS) + ".m4s",
			Sequence: seq,
		}
	}

	return &segmenter.Snapshot{
		ID:                  uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		Name:                "stream",
		Mode:                mode,
		CreationTime:        time.Date(2010, 1, 1, 12, 0, 0, 0, time.UTC),
		PublishTime:         time.Date(2010, 1, 1, 12, 0, 8, 0, time.UTC),
		RetentionWindow:     3,
		PublishedDuration:   7500 * time.Millisecond,
		MaxFragmentDuration: 2 * time.Second,
		InitName:            "stream-init.mp4",
		FirstSequence:       4,
		Fragments: []segmenter.FragmentRecord{
			rec(0, 2000, 4),
			rec(2000, 2000, 5),
			rec(4000, 2000, 6),
			rec(6000, 1500, 7),
		},
		Tracks: []*segmenter.TrackSnapshot{
			{
				ID:        1,
				Prefix:    "video",
				Codec:     test.CodecH264,
				Width:     1280,
				Height:    720,
				TimeScale: 90000,
				Bitrate:   1000000,
			},
			{
				ID:           2,
				Prefix:       "audio",
				Codec:        test.CodecMPEG4Audio,
				ChannelCount: 2,
				SampleRate:   48000,
				TimeScale:    48000,
				Bitrate:      128000,
			},
		},
	}
}

func TestCodecParameters(t *testing.T) {
	require.Equal(t, "avc1.42c028", CodecParameters(test.CodecH264))
	require.Equal(t, "mp4a.40.2", CodecParameters(test.CodecMPEG4Audio))
	require.Equal(t, "avc1.42c028", CodecParameters(*test.CodecH264))
	require.Equal(t, "mp4a.40.2", CodecParameters(*test.CodecMPEG4Audio))
}

func TestSegmentTimeline(t *testing.T) {
	rec := func(start int, dur int) segmenter.FragmentRecord {
		return segmenter.FragmentRecord{
			Start:    time.Duration(start) * time.Millisecond,
			Duration: time.Duration(dur) * time.Millisecond,
		}
	}

	tl := segmentTimeline([]segmenter.FragmentRecord{
		rec(1000, 500),
		rec(1500, 500),
		rec(2000, 700),
		rec(3000, 700), // gap
	})

	require.Len(t, tl.Segments, 3)

	require.EqualValues(t, 1000, *tl.Segments[0].StartTime)
	require.EqualValues(t, 500, tl.Segments[0].Duration)
	require.Equal(t, 1, *tl.Segments[0].RepeatCount)

	require.Nil(t, tl.Segments[1].StartTime)
	require.EqualValues(t, 700, tl.Segments[1].Duration)
	require.Nil(t, tl.Segments[1].RepeatCount)

	require.EqualValues(t, 3000, *tl.Segments[2].StartTime)
}

func TestRenderDASHLive(t *testing.T) {
	var buf bytes.Buffer
	n, err := RenderDASH(&buf, testSnapshot(segmenter.ModeLive))
	require.NoError(t, err)
	require.Equal(t, buf.Len(), n)
	require.True(t, bytes.HasPrefix(buf.Bytes(), []byte("<?xml")))

	var m testMPD
	err = xml.Unmarshal(buf.Bytes(), &m)
	require.NoError(t, err)

	require.Equal(t, "dynamic", m.Type)
	require.Equal(t, "2010-01-01T12:00:00Z", m.AvailabilityStartTime)
	require.Equal(t, "2010-01-01T12:00:08Z", m.PublishTime)
	require.Equal(t, "PT2S", m.MinimumUpdatePeriod)
	require.Equal(t, "PT6S", m.TimeShiftBufferDepth)
	require.Equal(t, "", m.MediaPresentationDuration)

	require.Len(t, m.Periods, 1)
	require.Len(t, m.Periods[0].AdaptationSets, 1)
	as := m.Periods[0].AdaptationSets[0]
	require.Equal(t, "video/mp4", as.MimeType)
	// tracks are muxed into a single representation
	require.Len(t, as.Representations, 1)

	rep := as.Representations[0]
	require.Equal(t, "stream", rep.ID)
	require.Equal(t, "avc1.42c028,mp4a.40.2", rep.Codecs)
	require.Equal(t, 1128000, rep.Bandwidth)
	require.Equal(t, 1280, rep.Width)
	require.Equal(t, 720, rep.Height)

	tpl := as.SegmentTemplate
	require.Equal(t, int64(1000), tpl.Timescale)
	require.Equal(t, "$RepresentationID$-$Time$.m4s", tpl.Media)
	require.Equal(t, "$RepresentationID$-init.mp4", tpl.Initialization)

	require.Len(t, tpl.SegmentTimeline.Segments, 2)
	require.Equal(t, int64(0), *tpl.SegmentTimeline.Segments[0].T)
	require.Equal(t, int64(2000), tpl.SegmentTimeline.Segments[0].D)
	require.Equal(t, 2, *tpl.SegmentTimeline.Segments[0].R)
	require.Equal(t, int64(1500), tpl.SegmentTimeline.Segments[1].D)
}

func TestRenderDASHOnDemand(t *testing.T) {
	var buf bytes.Buffer
	_, err := RenderDASH(&buf, testSnapshot(segmenter.ModeOnDemand))
	require.NoError(t, err)

	var m testMPD
	err = xml.Unmarshal(buf.Bytes(), &m)
	require.NoError(t, err)

	require.Equal(t, "static", m.Type)
	require.Equal(t, "PT7.5S", m.MediaPresentationDuration)
	require.Equal(t, "", m.MinimumUpdatePeriod)
	require.Equal(t, "", m.TimeShiftBufferDepth)
}

func TestRenderDASHAudioOnly(t *testing.T) {
	snap := testSnapshot(segmenter.ModeLive)
	snap.Tracks = snap.Tracks[1:]

	var buf bytes.Buffer
	_, err := RenderDASH(&buf, snap)
	require.NoError(t, err)

	var m testMPD
	err = xml.Unmarshal(buf.Bytes(), &m)
	require.NoError(t, err)

	as := m.Periods[0].AdaptationSets[0]
	require.Equal(t, "audio/mp4", as.MimeType)
	require.Equal(t, "mp4a.40.2", as.Representations[0].Codecs)
	require.Equal(t, 48000, as.Representations[0].AudioSamplingRate)
}

func TestRenderDASHNoTracks(t *testing.T) {
	var buf bytes.Buffer
	_, err := RenderDASH(&buf, &segmenter.Snapshot{})
	require.Error(t, err)
}

func TestRenderHLS(t *testing.T) {
	var buf bytes.Buffer
	n, err := RenderHLS(&buf, testSnapshot(segmenter.ModeLive))
	require.NoError(t, err)
	require.Equal(t, buf.Len(), n)

	pl := buf.String()
	require.Contains(t, pl, "#EXTM3U\n")
	require.Contains(t, pl, "#EXT-X-TARGETDURATION:2\n")
	require.Contains(t, pl, "#EXT-X-MEDIA-SEQUENCE:4\n")
	require.Contains(t, pl, "#EXT-X-MAP:URI=\"stream-init.mp4\"\n")
	require.Contains(t, pl, "stream-6000.m4s\n")
	require.NotContains(t, pl, "#EXT-X-ENDLIST")

	_, err = RenderHLS(&buf, &segmenter.Snapshot{})
	require.Error(t, err)
}

func TestRenderRetention(t *testing.T) {
	const window = 3
	const extra = 2

	p := &segmenter.Presentation{
		Mode:            segmenter.ModeLive,
		RetentionWindow: window,
		Sink:            segmenter.SinkFunc(func(*segmenter.Delivery) error { return nil }),
		Parent:          test.NilLogger,
	}
	err := p.Initialize()
	require.NoError(t, err)

	videoID, err := p.AddVideoTrack("video", test.CodecH264, 1280, 720)
	require.NoError(t, err)

	for i := 0; i < window+extra+1; i++ {
		err = p.Input(videoID, &segmenter.Sample{
			Payload: []byte{1, 2, 3, 4},
			PTS:     time.Duration(i) * time.Second,
			DTS:     time.Duration(i) * time.Second,
			Flags:   segmenter.SampleFlagKeyframe,
		})
		require.NoError(t, err)
	}

	snap := p.Snapshot()
	require.Len(t, snap.Fragments, window)

	var buf bytes.Buffer
	_, err = RenderHLS(&buf, snap)
	require.NoError(t, err)

	pl := buf.String()
	require.NotContains(t, pl, "stream-0.m4s")
	require.NotContains(t, pl, "stream-1000.m4s")
	require.Contains(t, pl, "stream-2000.m4s")
	require.Contains(t, pl, "stream-4000.m4s")

	buf.Reset()
	_, err = RenderDASH(&buf, snap)
	require.NoError(t, err)

	var m testMPD
	err = xml.Unmarshal(buf.Bytes(), &m)
	require.NoError(t, err)

	tl := m.Periods[0].AdaptationSets[0].SegmentTemplate.SegmentTimeline
	require.Len(t, tl.Segments, 1)
	require.Equal(t, int64(2000), *tl.Segments[0].T)
	require.Equal(t, window-1, *tl.Segments[0].R)
	require.Equal(t, int64(0), m.Periods[0].AdaptationSets[0].SegmentTemplate.PresentationTimeOffset)
}
