// Package test contains test utilities.
package test

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/bluenviron/livefmp4/internal/fmp4"
)

// SPSH264 is a H264 SPS (1920x1080 baseline).
var SPSH264 = []byte{
	0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
	0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
	0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9, 0x20,
}

// PPSH264 is a H264 PPS.
var PPSH264 = []byte{0x08, 0x06, 0x07, 0x08}

// CodecH264 is a test H264 codec.
var CodecH264 = &fmp4.CodecH264{
	SPS: [][]byte{SPSH264},
	PPS: [][]byte{PPSH264},
}

// ConfigMPEG4Audio is a test MPEG-4 audio configuration.
var ConfigMPEG4Audio = mpeg4audio.AudioSpecificConfig{
	Type:         mpeg4audio.ObjectTypeAACLC,
	SampleRate:   48000,
	ChannelCount: 2,
}

// CodecMPEG4Audio is a test MPEG-4 audio codec.
var CodecMPEG4Audio = &fmp4.CodecMPEG4Audio{
	Config: ConfigMPEG4Audio,
}
