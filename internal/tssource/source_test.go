package tssource

import (
	"bytes"
	"context"
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
	"github.com/stretchr/testify/require"

	"github.com/bluenviron/livefmp4/internal/fmp4"
	"github.com/bluenviron/livefmp4/internal/segmenter"
	"github.com/bluenviron/livefmp4/internal/test"
)

func writeTestStream(t *testing.T, frames int) []byte {
	var buf bytes.Buffer

	videoTrack := &mpegts.Track{
		Codec: &mpegts.CodecH264{},
	}
	audioTrack := &mpegts.Track{
		Codec: &mpegts.CodecMPEG4Audio{
			Config: mpeg4audio.AudioSpecificConfig{
				Type:         mpeg4audio.ObjectTypeAACLC,
				SampleRate:   48000,
				ChannelCount: 2,
			},
		},
	}

	w := &mpegts.Writer{W: &buf, Tracks: []*mpegts.Track{videoTrack, audioTrack}}
	err := w.Initialize()
	require.NoError(t, err)

	for i := 0; i < frames; i++ {
		ts := int64(90000 + i*3600)

		var au [][]byte
		if i%25 == 0 {
			au = [][]byte{test.SPSH264, test.PPSH264, {0x65, 1, 2, 3}}
		} else {
			au = [][]byte{{0x41, 4, 5}}
		}

		err = w.WriteH264(videoTrack, ts, ts, au)
		require.NoError(t, err)

		// 1024 samples at 48khz are 1920 ticks
		err = w.WriteMPEG4Audio(audioTrack, int64(90000+i*1920*2), [][]byte{{1, 2}, {3, 4}})
		require.NoError(t, err)
	}

	return buf.Bytes()
}

func TestSource(t *testing.T) {
	var deliveries []*segmenter.Delivery

	p := &segmenter.Presentation{
		Sink: segmenter.SinkFunc(func(d *segmenter.Delivery) error {
			deliveries = append(deliveries, d)
			return nil
		}),
		Parent: test.NilLogger,
	}
	err := p.Initialize()
	require.NoError(t, err)

	s := &Source{
		R:            bytes.NewReader(writeTestStream(t, 50)),
		Presentation: p,
		Parent:       test.NilLogger,
	}
	err = s.Initialize()
	require.NoError(t, err)
	defer s.Close()

	err = s.Run(context.Background())
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(deliveries), 4)
	require.Equal(t, "video-init.mp4", deliveries[0].Name)
	require.Equal(t, "audio-init.mp4", deliveries[1].Name)

	var media []*segmenter.Delivery
	for _, d := range deliveries {
		if d.Kind == segmenter.DeliveryMedia {
			media = append(media, d)
		}
	}
	require.Len(t, media, 2)

	videoSamples := 0

	for i, d := range media {
		tracks, err2 := fmp4.ReadFragment(d.Payload)
		require.NoError(t, err2)
		require.Len(t, tracks, 2)
		require.Equal(t, 1, tracks[0].ID)
		require.Equal(t, 2, tracks[1].ID)

		// parameters and delimiters are stripped from the access unit
		require.Equal(t, []byte{0, 0, 0, 4, 0x65, 1, 2, 3}, tracks[0].Samples[0].Payload)
		require.False(t, tracks[0].Samples[0].IsNonSyncSample())

		if i == 0 {
			require.Equal(t, []byte{0, 0, 0, 3, 0x41, 4, 5}, tracks[0].Samples[1].Payload)
			require.True(t, tracks[0].Samples[1].IsNonSyncSample())
			require.Equal(t, uint32(3600), tracks[0].Samples[1].Duration)
		}

		videoSamples += len(tracks[0].Samples)
		require.NotEmpty(t, tracks[1].Samples)
	}

	require.Equal(t, 50, videoSamples)

	snap := p.Snapshot()
	require.Equal(t, 1920, snap.Tracks[0].Width)
	require.Equal(t, 1080, snap.Tracks[0].Height)
	require.Equal(t, 48000, snap.Tracks[1].SampleRate)
	require.Equal(t, 2, snap.Tracks[1].ChannelCount)
}

func TestSourceWaitsForParameters(t *testing.T) {
	var buf bytes.Buffer

	track := &mpegts.Track{
		Codec: &mpegts.CodecH264{},
	}

	w := &mpegts.Writer{W: &buf, Tracks: []*mpegts.Track{track}}
	err := w.Initialize()
	require.NoError(t, err)

	// non-IDR frames that precede the first IDR are discarded
	for i := 0; i < 3; i++ {
		err = w.WriteH264(track, int64(i*3600), int64(i*3600), [][]byte{{0x41, 1}})
		require.NoError(t, err)
	}

	for i := 3; i < 6; i++ {
		au := [][]byte{{0x41, 1}}
		if i == 3 {
			au = [][]byte{test.SPSH264, test.PPSH264, {0x65, 1}}
		}
		err = w.WriteH264(track, int64(i*3600), int64(i*3600), au)
		require.NoError(t, err)
	}

	var media []*segmenter.Delivery

	p := &segmenter.Presentation{
		Sink: segmenter.SinkFunc(func(d *segmenter.Delivery) error {
			if d.Kind == segmenter.DeliveryMedia {
				media = append(media, d)
			}
			return nil
		}),
		Parent: test.NilLogger,
	}
	err = p.Initialize()
	require.NoError(t, err)

	s := &Source{
		R:            &buf,
		Presentation: p,
		Parent:       test.NilLogger,
	}
	err = s.Initialize()
	require.NoError(t, err)
	defer s.Close()

	err = s.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, uint64(3), s.DiscardedCount())
	require.Len(t, media, 1)

	tracks, err := fmp4.ReadFragment(media[0].Payload)
	require.NoError(t, err)
	require.Len(t, tracks[0].Samples, 3)
}

func TestSourceNoSupportedCodecs(t *testing.T) {
	var buf bytes.Buffer

	track := &mpegts.Track{
		Codec: &mpegts.CodecOpus{ChannelCount: 2},
	}

	w := &mpegts.Writer{W: &buf, Tracks: []*mpegts.Track{track}}
	err := w.Initialize()
	require.NoError(t, err)

	err = w.WriteOpus(track, 0, [][]byte{{1, 2, 3}})
	require.NoError(t, err)

	s := &Source{
		R:            &buf,
		Presentation: nil,
		Parent:       test.NilLogger,
	}
	err = s.Initialize()
	require.ErrorIs(t, err, errNoSupportedCodecs)
}
