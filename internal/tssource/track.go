package tssource

import (
	"bytes"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/bluenviron/livefmp4/internal/fmp4"
	"github.com/bluenviron/livefmp4/internal/segmenter"
)

const mpegtsClockRate = 90000

func ticksToDuration(v int64) time.Duration {
	return time.Duration(v) * time.Second / mpegtsClockRate
}

type sourceTrack struct {
	ts     *mpegts.Track
	prefix string
	video  bool

	// filled when parameters are known
	codec  fmp4.Codec
	width  int
	height int

	// in-band parameters
	vps []byte
	sps []byte
	pps []byte

	// assigned by the presentation
	id int
}

// filterH264 removes parameters and delimiters from an access unit
// and stores parameters.
func (t *sourceTrack) filterH264(au [][]byte) [][]byte {
	ret := make([][]byte, 0, len(au))

	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}

		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			t.sps = nalu
			continue

		case h264.NALUTypePPS:
			t.pps = nalu
			continue

		case h264.NALUTypeAccessUnitDelimiter:
			continue
		}

		ret = append(ret, nalu)
	}

	return ret
}

func (t *sourceTrack) filterH265(au [][]byte) [][]byte {
	ret := make([][]byte, 0, len(au))

	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}

		switch h265.NALUType((nalu[0] >> 1) & 0b111111) {
		case h265.NALUType_VPS_NUT:
			t.vps = nalu
			continue

		case h265.NALUType_SPS_NUT:
			t.sps = nalu
			continue

		case h265.NALUType_PPS_NUT:
			t.pps = nalu
			continue

		case h265.NALUType_AUD_NUT:
			continue
		}

		ret = append(ret, nalu)
	}

	return ret
}

// fillH264Codec fills the codec when all parameters are available.
func (t *sourceTrack) fillH264Codec() error {
	if t.sps == nil || t.pps == nil {
		return nil
	}

	var sps h264.SPS
	err := sps.Unmarshal(t.sps)
	if err != nil {
		return err
	}

	t.codec = &fmp4.CodecH264{
		SPS: [][]byte{t.sps},
		PPS: [][]byte{t.pps},
	}
	t.width = sps.Width()
	t.height = sps.Height()
	return nil
}

func (t *sourceTrack) fillH265Codec() error {
	if t.vps == nil || t.sps == nil || t.pps == nil {
		return nil
	}

	var sps h265.SPS
	err := sps.Unmarshal(t.sps)
	if err != nil {
		return err
	}

	t.codec = &fmp4.CodecH265{
		VPS: t.vps,
		SPS: t.sps,
		PPS: t.pps,
	}
	t.width = sps.Width()
	t.height = sps.Height()
	return nil
}

// paramsChanged returns whether in-band parameters differ from the ones of the codec.
func (t *sourceTrack) paramsChanged() bool {
	switch codec := t.codec.(type) {
	case *fmp4.CodecH264:
		return !bytes.Equal(codec.SPS[0], t.sps) || !bytes.Equal(codec.PPS[0], t.pps)

	case *fmp4.CodecH265:
		return !bytes.Equal(codec.VPS, t.vps) ||
			!bytes.Equal(codec.SPS, t.sps) ||
			!bytes.Equal(codec.PPS, t.pps)
	}
	return false
}

func (t *sourceTrack) resetParams() {
	switch codec := t.codec.(type) {
	case *fmp4.CodecH264:
		t.sps = codec.SPS[0]
		t.pps = codec.PPS[0]

	case *fmp4.CodecH265:
		t.vps = codec.VPS
		t.sps = codec.SPS
		t.pps = codec.PPS
	}
}

func videoSample(au [][]byte, randomAccess bool, pts int64, dts int64) (*segmenter.Sample, error) {
	payload, err := h264.AVCC(au).Marshal()
	if err != nil {
		return nil, err
	}

	s := &segmenter.Sample{
		Payload: payload,
		PTS:     ticksToDuration(pts),
		DTS:     ticksToDuration(dts),
	}
	if randomAccess {
		s.Flags = segmenter.SampleFlagKeyframe
	}

	return s, nil
}
