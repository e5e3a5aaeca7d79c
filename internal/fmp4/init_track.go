package fmp4

import (
	gomp4 "github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
)

const defaultBitrate = 1000000

// InitTrack is a track of Init.
type InitTrack struct {
	ID        int
	TimeScale uint32
	Codec     Codec

	// video
	Width  int
	Height int

	// audio
	ChannelCount int
	SampleSize   int

	// bitrate hint, in bits per second.
	// It defaults to 1Mbit/s.
	Bitrate int
}

func (track *InitTrack) bitrate() uint32 {
	if track.Bitrate <= 0 {
		return defaultBitrate
	}
	return uint32(track.Bitrate)
}

func (track *InitTrack) marshal(w *mp4Writer) error {
	/*
		trak
		- tkhd
		- mdia
		  - mdhd
		  - hdlr
		  - minf
		    - vmhd (video)
		    - smhd (audio)
		    - dinf
		      - dref
		        - url
		    - stbl
		      - stsd
		        - avc1 (h264)
		          - avcC
		          - btrt
		        - hev1 (h265)
		          - hvcC
		          - btrt
		        - mp4a (mpeg4audio)
		          - esds
		          - btrt
		      - stts
		      - stsc
		      - stsz
		      - stco
	*/

	isVideo := track.Codec.IsVideo()

	_, err := w.writeBox(&gomp4.Trak{}, func() error { // <trak>
		var err2 error

		if isVideo {
			_, err2 = w.writeBox(&gomp4.Tkhd{ // <tkhd/>
				FullBox: gomp4.FullBox{
					Flags: [3]byte{0, 0, 3},
				},
				TrackID: uint32(track.ID),
				Width:   uint32(track.Width * 65536),
				Height:  uint32(track.Height * 65536),
				Matrix:  [9]int32{0x10000, 0, 0, 0, 0x10000, 0, 0, 0, 0x40000000},
			}, nil)
		} else {
			_, err2 = w.writeBox(&gomp4.Tkhd{ // <tkhd/>
				FullBox: gomp4.FullBox{
					Flags: [3]byte{0, 0, 3},
				},
				TrackID:        uint32(track.ID),
				AlternateGroup: 1,
				Volume:         256,
				Matrix:         [9]int32{0x10000, 0, 0, 0, 0x10000, 0, 0, 0, 0x40000000},
			}, nil)
		}
		if err2 != nil {
			return err2
		}

		_, err2 = w.writeBox(&gomp4.Mdia{}, func() error { // <mdia>
			return track.marshalMdia(w)
		}) // </mdia>
		return err2
	}) // </trak>
	return err
}

func (track *InitTrack) marshalMdia(w *mp4Writer) error {
	isVideo := track.Codec.IsVideo()

	_, err := w.writeBox(&gomp4.Mdhd{ // <mdhd/>
		Timescale: track.TimeScale,
		Language:  [3]byte{'u', 'n', 'd'},
	}, nil)
	if err != nil {
		return err
	}

	if isVideo {
		_, err = w.writeBox(&gomp4.Hdlr{ // <hdlr/>
			HandlerType: [4]byte{'v', 'i', 'd', 'e'},
			Name:        "VideoHandler",
		}, nil)
	} else {
		_, err = w.writeBox(&gomp4.Hdlr{ // <hdlr/>
			HandlerType: [4]byte{'s', 'o', 'u', 'n'},
			Name:        "SoundHandler",
		}, nil)
	}
	if err != nil {
		return err
	}

	_, err = w.writeBox(&gomp4.Minf{}, func() error { // <minf>
		var err2 error

		if isVideo {
			_, err2 = w.writeBox(&gomp4.Vmhd{ // <vmhd/>
				FullBox: gomp4.FullBox{
					Flags: [3]byte{0, 0, 1},
				},
			}, nil)
		} else {
			_, err2 = w.writeBox(&gomp4.Smhd{}, nil) // <smhd/>
		}
		if err2 != nil {
			return err2
		}

		_, err2 = w.writeBox(&gomp4.Dinf{}, func() error { // <dinf>
			_, err3 := w.writeBox(&gomp4.Dref{ // <dref>
				EntryCount: 1,
			}, func() error {
				_, err4 := w.writeBox(&gomp4.Url{ // <url/>
					FullBox: gomp4.FullBox{
						Flags: [3]byte{0, 0, 1},
					},
				}, nil)
				return err4
			}) // </dref>
			return err3
		}) // </dinf>
		if err2 != nil {
			return err2
		}

		_, err2 = w.writeBox(&gomp4.Stbl{}, func() error { // <stbl>
			return track.marshalStbl(w)
		}) // </stbl>
		return err2
	}) // </minf>
	return err
}

func (track *InitTrack) marshalStbl(w *mp4Writer) error {
	_, err := w.writeBox(&gomp4.Stsd{ // <stsd>
		EntryCount: 1,
	}, func() error {
		return track.Codec.marshalSampleEntry(w, track)
	}) // </stsd>
	if err != nil {
		return err
	}

	for _, box := range []gomp4.IImmutableBox{
		&gomp4.Stts{}, // <stts/>
		&gomp4.Stsc{}, // <stsc/>
		&gomp4.Stsz{}, // <stsz/>
		&gomp4.Stco{}, // <stco/>
	} {
		_, err = w.writeBox(box, nil)
		if err != nil {
			return err
		}
	}

	return nil
}

func (track *InitTrack) writeBtrt(w *mp4Writer) error {
	_, err := w.writeBox(&gomp4.Btrt{ // <btrt/>
		MaxBitrate: track.bitrate(),
		AvgBitrate: track.bitrate(),
	}, nil)
	return err
}

func (track *InitTrack) visualSampleEntry(typ gomp4.BoxType) *gomp4.VisualSampleEntry {
	return &gomp4.VisualSampleEntry{
		SampleEntry: gomp4.SampleEntry{
			AnyTypeBox: gomp4.AnyTypeBox{
				Type: typ,
			},
			DataReferenceIndex: 1,
		},
		Width:           uint16(track.Width),
		Height:          uint16(track.Height),
		Horizresolution: 4718592,
		Vertresolution:  4718592,
		FrameCount:      1,
		Depth:           24,
		PreDefined3:     -1,
	}
}

func (c CodecH264) marshalSampleEntry(w *mp4Writer, track *InitTrack) error {
	sps := c.parsedSPS()

	avcc := &gomp4.AVCDecoderConfiguration{
		AnyTypeBox: gomp4.AnyTypeBox{
			Type: gomp4.BoxTypeAvcC(),
		},
		ConfigurationVersion:       1,
		Profile:                    sps.ProfileIdc,
		ProfileCompatibility:       c.SPS[0][2],
		Level:                      sps.LevelIdc,
		LengthSizeMinusOne:         3,
		NumOfSequenceParameterSets: uint8(len(c.SPS)),
		NumOfPictureParameterSets:  uint8(len(c.PPS)),
	}

	for _, ps := range c.SPS {
		avcc.SequenceParameterSets = append(avcc.SequenceParameterSets, gomp4.AVCParameterSet{
			Length:  uint16(len(ps)),
			NALUnit: ps,
		})
	}

	for _, ps := range c.PPS {
		avcc.PictureParameterSets = append(avcc.PictureParameterSets, gomp4.AVCParameterSet{
			Length:  uint16(len(ps)),
			NALUnit: ps,
		})
	}

	_, err := w.writeBox(track.visualSampleEntry(gomp4.BoxTypeAvc1()), func() error { // <avc1>
		_, err2 := w.writeBox(avcc, nil) // <avcC/>
		if err2 != nil {
			return err2
		}

		return track.writeBtrt(w)
	}) // </avc1>
	return err
}

func (c CodecH265) marshalSampleEntry(w *mp4Writer, track *InitTrack) error {
	sps := c.parsedSPS()

	hvcc := &gomp4.HvcC{
		ConfigurationVersion:        1,
		GeneralProfileIdc:           sps.ProfileTierLevel.GeneralProfileIdc,
		GeneralProfileCompatibility: sps.ProfileTierLevel.GeneralProfileCompatibilityFlag,
		GeneralConstraintIndicator: [6]uint8{
			c.SPS[7], c.SPS[8], c.SPS[9],
			c.SPS[10], c.SPS[11], c.SPS[12],
		},
		GeneralLevelIdc:      sps.ProfileTierLevel.GeneralLevelIdc,
		ChromaFormatIdc:      uint8(sps.ChromaFormatIdc),
		BitDepthLumaMinus8:   uint8(sps.BitDepthLumaMinus8),
		BitDepthChromaMinus8: uint8(sps.BitDepthChromaMinus8),
		NumTemporalLayers:    1,
		LengthSizeMinusOne:   3,
		NumOfNaluArrays:      3,
		NaluArrays: []gomp4.HEVCNaluArray{
			{
				NaluType: byte(h265.NALUType_VPS_NUT),
				NumNalus: 1,
				Nalus: []gomp4.HEVCNalu{{
					Length:  uint16(len(c.VPS)),
					NALUnit: c.VPS,
				}},
			},
			{
				NaluType: byte(h265.NALUType_SPS_NUT),
				NumNalus: 1,
				Nalus: []gomp4.HEVCNalu{{
					Length:  uint16(len(c.SPS)),
					NALUnit: c.SPS,
				}},
			},
			{
				NaluType: byte(h265.NALUType_PPS_NUT),
				NumNalus: 1,
				Nalus: []gomp4.HEVCNalu{{
					Length:  uint16(len(c.PPS)),
					NALUnit: c.PPS,
				}},
			},
		},
	}

	_, err := w.writeBox(track.visualSampleEntry(gomp4.BoxTypeHev1()), func() error { // <hev1>
		_, err2 := w.writeBox(hvcc, nil) // <hvcC/>
		if err2 != nil {
			return err2
		}

		return track.writeBtrt(w)
	}) // </hev1>
	return err
}

func (c CodecMPEG4Audio) marshalSampleEntry(w *mp4Writer, track *InitTrack) error {
	enc, err := c.Config.Marshal()
	if err != nil {
		return err
	}

	channelCount := track.ChannelCount
	if channelCount == 0 {
		channelCount = c.Config.ChannelCount
	}

	sampleSize := track.SampleSize
	if sampleSize == 0 {
		sampleSize = 16
	}

	_, err = w.writeBox(&gomp4.AudioSampleEntry{ // <mp4a>
		SampleEntry: gomp4.SampleEntry{
			AnyTypeBox: gomp4.AnyTypeBox{
				Type: gomp4.BoxTypeMp4a(),
			},
			DataReferenceIndex: 1,
		},
		ChannelCount: uint16(channelCount),
		SampleSize:   uint16(sampleSize),
		SampleRate:   uint32(c.Config.SampleRate * 65536),
	}, func() error {
		_, err2 := w.writeBox(&gomp4.Esds{ // <esds/>
			Descriptors: []gomp4.Descriptor{
				{
					Tag:  gomp4.ESDescrTag,
					Size: 32 + uint32(len(enc)),
					ESDescriptor: &gomp4.ESDescriptor{
						ESID: uint16(track.ID),
					},
				},
				{
					Tag:  gomp4.DecoderConfigDescrTag,
					Size: 18 + uint32(len(enc)),
					DecoderConfigDescriptor: &gomp4.DecoderConfigDescriptor{
						ObjectTypeIndication: 0x40,
						StreamType:           0x05,
						UpStream:             false,
						Reserved:             true,
						MaxBitrate:           track.bitrate(),
						AvgBitrate:           track.bitrate(),
					},
				},
				{
					Tag:  gomp4.DecSpecificInfoTag,
					Size: uint32(len(enc)),
					Data: enc,
				},
				{
					Tag:  gomp4.SLConfigDescrTag,
					Size: 1,
					Data: []byte{0x02},
				},
			},
		}, nil)
		if err2 != nil {
			return err2
		}

		return track.writeBtrt(w)
	}) // </mp4a>
	return err
}
