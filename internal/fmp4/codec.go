package fmp4

import (
	"bytes"
	"errors"
	"fmt"

	gomp4 "github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// ErrInvalidCodecConfig is returned when a decoder configuration is missing or malformed.
var ErrInvalidCodecConfig = errors.New("invalid codec configuration")

// Codec is the decoder configuration of a track.
type Codec interface {
	// IsVideo returns whether the codec carries video.
	IsVideo() bool

	// Validate checks the decoder configuration.
	Validate() error

	marshalSampleEntry(w *mp4Writer, track *InitTrack) error
}

// CodecH264 is a H264 codec.
type CodecH264 struct {
	SPS [][]byte
	PPS [][]byte
}

// IsVideo implements Codec.
func (CodecH264) IsVideo() bool {
	return true
}

// Validate implements Codec.
func (c CodecH264) Validate() error {
	if len(c.SPS) == 0 || len(c.SPS[0]) == 0 {
		return fmt.Errorf("%w: H264 SPS not provided", ErrInvalidCodecConfig)
	}

	if len(c.PPS) == 0 || len(c.PPS[0]) == 0 {
		return fmt.Errorf("%w: H264 PPS not provided", ErrInvalidCodecConfig)
	}

	// profile compatibility is read from the third byte
	if len(c.SPS[0]) < 4 {
		return fmt.Errorf("%w: H264 SPS is too short", ErrInvalidCodecConfig)
	}

	var sps h264.SPS
	err := sps.Unmarshal(c.SPS[0])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCodecConfig, err)
	}

	return nil
}

func (c CodecH264) parsedSPS() *h264.SPS {
	var sps h264.SPS
	sps.Unmarshal(c.SPS[0]) //nolint:errcheck
	return &sps
}

// CodecH264FromAVCC decodes a AVCDecoderConfigurationRecord.
func CodecH264FromAVCC(record []byte) (*CodecH264, error) {
	var avcc gomp4.AVCDecoderConfiguration
	avcc.SetType(gomp4.BoxTypeAvcC())

	_, err := gomp4.Unmarshal(bytes.NewReader(record), uint64(len(record)), &avcc, gomp4.Context{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCodecConfig, err)
	}

	c := &CodecH264{}

	for _, ps := range avcc.SequenceParameterSets {
		c.SPS = append(c.SPS, ps.NALUnit)
	}

	for _, ps := range avcc.PictureParameterSets {
		c.PPS = append(c.PPS, ps.NALUnit)
	}

	err = c.Validate()
	if err != nil {
		return nil, err
	}

	return c, nil
}

// CodecH265 is a H265 codec.
type CodecH265 struct {
	VPS []byte
	SPS []byte
	PPS []byte
}

// IsVideo implements Codec.
func (CodecH265) IsVideo() bool {
	return true
}

// Validate implements Codec.
func (c CodecH265) Validate() error {
	if len(c.VPS) == 0 {
		return fmt.Errorf("%w: H265 VPS not provided", ErrInvalidCodecConfig)
	}

	if len(c.SPS) == 0 {
		return fmt.Errorf("%w: H265 SPS not provided", ErrInvalidCodecConfig)
	}

	if len(c.PPS) == 0 {
		return fmt.Errorf("%w: H265 PPS not provided", ErrInvalidCodecConfig)
	}

	// general constraint indicator is read from bytes 7 to 12
	if len(c.SPS) < 13 {
		return fmt.Errorf("%w: H265 SPS is too short", ErrInvalidCodecConfig)
	}

	var sps h265.SPS
	err := sps.Unmarshal(c.SPS)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCodecConfig, err)
	}

	return nil
}

func (c CodecH265) parsedSPS() *h265.SPS {
	var sps h265.SPS
	sps.Unmarshal(c.SPS) //nolint:errcheck
	return &sps
}

// CodecMPEG4Audio is a MPEG-4 Audio codec.
type CodecMPEG4Audio struct {
	Config mpeg4audio.AudioSpecificConfig
}

// IsVideo implements Codec.
func (CodecMPEG4Audio) IsVideo() bool {
	return false
}

// Validate implements Codec.
func (c CodecMPEG4Audio) Validate() error {
	if c.Config.SampleRate <= 0 {
		return fmt.Errorf("%w: invalid MPEG-4 Audio sample rate", ErrInvalidCodecConfig)
	}

	_, err := c.Config.Marshal()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCodecConfig, err)
	}

	return nil
}

// CodecMPEG4AudioFromASC decodes a AudioSpecificConfig.
func CodecMPEG4AudioFromASC(asc []byte) (*CodecMPEG4Audio, error) {
	c := &CodecMPEG4Audio{}

	err := c.Config.Unmarshal(asc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCodecConfig, err)
	}

	return c, nil
}
