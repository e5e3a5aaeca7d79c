// Package tssource contains a MPEG-TS source that feeds a presentation.
package tssource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/bluenviron/livefmp4/internal/counterdumper"
	"github.com/bluenviron/livefmp4/internal/fmp4"
	"github.com/bluenviron/livefmp4/internal/logger"
	"github.com/bluenviron/livefmp4/internal/segmenter"
)

const audioSampleSize = 16

var errNoSupportedCodecs = errors.New(
	"the stream doesn't contain any supported codec, which are currently H265, H264, MPEG-4 Audio")

type sourcePresentation interface {
	AddVideoTrack(prefix string, codec fmp4.Codec, width int, height int) (int, error)
	AddAudioTrack(prefix string, codec fmp4.Codec, channelCount int, sampleSize int, sampleRate int) (int, error)
	Input(trackID int, s *segmenter.Sample) error
}

func trackPrefix(base string, count int) string {
	if count == 0 {
		return base
	}
	return fmt.Sprintf("%s%d", base, count+1)
}

// Source reads a MPEG-TS stream and feeds its tracks to a presentation.
// Tracks are added to the presentation once the parameters of all video tracks
// are known. Samples that precede that moment are discarded.
type Source struct {
	R            io.Reader
	Presentation sourcePresentation

	// called when the presentation rejects a sample.
	OnInputError func(error)

	Parent logger.Writer

	reader         *mpegts.Reader
	td             *mpegts.TimeDecoder
	tracks         []*sourceTrack
	started        bool
	decodeErrors   *counterdumper.CounterDumper
	discardedCount *counterdumper.CounterDumper
}

// Initialize initializes a Source.
// It reads the stream until its tracks are known.
func (s *Source) Initialize() error {
	s.reader = &mpegts.Reader{R: s.R}
	err := s.reader.Initialize()
	if err != nil {
		return err
	}

	s.td = &mpegts.TimeDecoder{}
	s.td.Initialize()

	videoCount := 0
	audioCount := 0

	for _, track := range s.reader.Tracks() {
		var st *sourceTrack

		switch codec := track.Codec.(type) {
		case *mpegts.CodecH264:
			st = &sourceTrack{ts: track, prefix: trackPrefix("video", videoCount), video: true}
			videoCount++

			s.reader.OnDataH264(track, func(pts int64, dts int64, au [][]byte) error {
				return s.onH264(st, pts, dts, au)
			})

		case *mpegts.CodecH265:
			st = &sourceTrack{ts: track, prefix: trackPrefix("video", videoCount), video: true}
			videoCount++

			s.reader.OnDataH265(track, func(pts int64, dts int64, au [][]byte) error {
				return s.onH265(st, pts, dts, au)
			})

		case *mpegts.CodecMPEG4Audio:
			st = &sourceTrack{
				ts:     track,
				prefix: trackPrefix("audio", audioCount),
				codec:  &fmp4.CodecMPEG4Audio{Config: codec.Config},
			}
			audioCount++

			s.reader.OnDataMPEG4Audio(track, func(pts int64, aus [][]byte) error {
				return s.onMPEG4Audio(st, pts, aus)
			})

		default:
			s.Log(logger.Warn, "skipping track with PID %d (unsupported codec %T)", track.PID, track.Codec)
			continue
		}

		s.tracks = append(s.tracks, st)
	}

	if len(s.tracks) == 0 {
		return errNoSupportedCodecs
	}

	s.decodeErrors = &counterdumper.CounterDumper{
		OnReport: func(val uint64) {
			s.Log(logger.Warn, "%d decode %s", val, pluralize(val, "error", "errors"))
		},
	}
	s.decodeErrors.Start()

	s.discardedCount = &counterdumper.CounterDumper{
		OnReport: func(val uint64) {
			s.Log(logger.Warn, "%d %s discarded", val, pluralize(val, "sample was", "samples were"))
		},
	}
	s.discardedCount.Start()

	s.reader.OnDecodeError(func(err error) {
		s.Log(logger.Debug, "decode error: %v", err)
		s.decodeErrors.Increase()
	})

	// audio-only streams can start immediately
	err = s.maybeStart()
	if err != nil {
		s.Close()
		return err
	}

	return nil
}

// Close closes the Source.
func (s *Source) Close() {
	s.decodeErrors.Stop()
	s.discardedCount.Stop()
}

// Log implements logger.Writer.
func (s *Source) Log(level logger.Level, format string, args ...interface{}) {
	s.Parent.Log(level, "[source] "+format, args...)
}

// Run reads the stream until its end, then cuts the open fragment.
func (s *Source) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := s.reader.Read()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) || errors.Is(err, io.EOF) {
				return s.endOfInput()
			}
			return err
		}
	}
}

// DiscardedCount returns the number of samples that were not accepted.
func (s *Source) DiscardedCount() uint64 {
	return s.discardedCount.Total()
}

func (s *Source) endOfInput() error {
	if !s.started {
		return fmt.Errorf("stream ended before parameters of all tracks were received")
	}

	s.Log(logger.Info, "end of stream")

	return s.Presentation.Input(s.tracks[0].id, &segmenter.Sample{})
}

func (s *Source) maybeStart() error {
	if s.started {
		return nil
	}

	for _, t := range s.tracks {
		if t.codec == nil {
			return nil
		}
	}

	for _, t := range s.tracks {
		var err error

		if t.video {
			t.id, err = s.Presentation.AddVideoTrack(t.prefix, t.codec, t.width, t.height)
		} else {
			conf := t.codec.(*fmp4.CodecMPEG4Audio).Config
			t.id, err = s.Presentation.AddAudioTrack(t.prefix, t.codec,
				conf.ChannelCount, audioSampleSize, conf.SampleRate)
		}

		if err != nil {
			return err
		}
	}

	s.started = true
	s.Log(logger.Info, "stream is ready (%d %s)", len(s.tracks), pluralize(uint64(len(s.tracks)), "track", "tracks"))

	return nil
}

func (s *Source) input(t *sourceTrack, sample *segmenter.Sample) error {
	err := s.Presentation.Input(t.id, sample)
	if err != nil {
		if s.OnInputError != nil {
			s.OnInputError(err)
		}

		if errors.Is(err, segmenter.ErrClosed) {
			return err
		}

		s.Log(logger.Debug, "track %s: %v", t.prefix, err)
		s.discardedCount.Increase()
	}

	return nil
}

func (s *Source) onVideo(
	t *sourceTrack,
	pts int64,
	dts int64,
	au [][]byte,
	randomAccess bool,
	fillCodec func() error,
) error {
	pts = s.td.Decode(pts)
	dts = s.td.Decode(dts)

	if t.codec == nil {
		if !randomAccess {
			s.discardedCount.Increase()
			return nil
		}

		err := fillCodec()
		if err != nil {
			s.Log(logger.Warn, "track %s: invalid parameters: %v", t.prefix, err)
			return nil
		}

		if t.codec == nil {
			s.discardedCount.Increase()
			return nil
		}

		err = s.maybeStart()
		if err != nil {
			return err
		}
	} else if t.paramsChanged() {
		s.Log(logger.Warn, "track %s: parameter change is not supported, new parameters are ignored", t.prefix)
		t.resetParams()
	}

	if !s.started {
		s.discardedCount.Increase()
		return nil
	}

	if len(au) == 0 {
		return nil
	}

	sample, err := videoSample(au, randomAccess, pts, dts)
	if err != nil {
		s.Log(logger.Warn, "track %s: %v", t.prefix, err)
		return nil
	}

	return s.input(t, sample)
}

func (s *Source) onH264(t *sourceTrack, pts int64, dts int64, au [][]byte) error {
	randomAccess := h264.IsRandomAccess(au)
	return s.onVideo(t, pts, dts, t.filterH264(au), randomAccess, t.fillH264Codec)
}

func (s *Source) onH265(t *sourceTrack, pts int64, dts int64, au [][]byte) error {
	randomAccess := h265.IsRandomAccess(au)
	return s.onVideo(t, pts, dts, t.filterH265(au), randomAccess, t.fillH265Codec)
}

func (s *Source) onMPEG4Audio(t *sourceTrack, pts int64, aus [][]byte) error {
	pts = s.td.Decode(pts)

	if !s.started {
		s.discardedCount.Add(uint64(len(aus)))
		return nil
	}

	sampleRate := time.Duration(t.codec.(*fmp4.CodecMPEG4Audio).Config.SampleRate)
	base := ticksToDuration(pts)

	for i, au := range aus {
		ts := base + time.Duration(i*mpeg4audio.SamplesPerAccessUnit)*time.Second/sampleRate

		err := s.input(t, &segmenter.Sample{
			Payload: au,
			PTS:     ts,
			DTS:     ts,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func pluralize(v uint64, singular string, plural string) string {
	if v == 1 {
		return singular
	}
	return plural
}
