package fmp4

import (
	"bytes"
	"fmt"

	gomp4 "github.com/abema/go-mp4"
)

// InitInfo describes a track of an initialization segment.
type InitInfo struct {
	ID         int
	TimeScale  uint32
	SampleType string
}

// ReadInit reads track informations from an initialization segment.
func ReadInit(byts []byte) ([]*InitInfo, error) {
	var tracks []*InitInfo
	var cur *InitInfo

	_, err := gomp4.ReadBoxStructure(bytes.NewReader(byts), func(h *gomp4.ReadHandle) (interface{}, error) {
		switch h.BoxInfo.Type.String() {
		case "trak":
			cur = &InitInfo{}
			tracks = append(tracks, cur)

		case "tkhd":
			if cur == nil {
				return nil, fmt.Errorf("unexpected box 'tkhd'")
			}

			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			cur.ID = int(box.(*gomp4.Tkhd).TrackID)

		case "mdhd":
			if cur == nil {
				return nil, fmt.Errorf("unexpected box 'mdhd'")
			}

			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			cur.TimeScale = box.(*gomp4.Mdhd).Timescale

		case "avc1", "hev1", "mp4a":
			if cur == nil {
				return nil, fmt.Errorf("unexpected box '%s'", h.BoxInfo.Type.String())
			}
			cur.SampleType = h.BoxInfo.Type.String()
			return nil, nil
		}

		return h.Expand()
	})
	if err != nil {
		return nil, err
	}

	if len(tracks) == 0 {
		return nil, fmt.Errorf("no tracks found")
	}

	return tracks, nil
}

// ReadSample is a sample decoded from a fragment.
type ReadSample struct {
	Duration  uint32
	PTSOffset int32
	Flags     uint32
	Payload   []byte
}

// IsNonSyncSample returns whether the sample is not a random access point.
func (s *ReadSample) IsNonSyncSample() bool {
	return (s.Flags & sampleFlagIsNonSyncSample) != 0
}

// ReadTrack is a track decoded from a fragment.
type ReadTrack struct {
	ID       int
	BaseTime uint64
	RunCount int
	Samples  []*ReadSample
}

// ReadFragment decodes a fragment.
func ReadFragment(byts []byte) ([]*ReadTrack, error) {
	type readState int

	const (
		waitingMoof readState = iota
		waitingTraf
		waitingTfhd
		waitingTfdt
		waitingTrun
	)

	state := waitingMoof
	var moofOffset uint64
	var curTrack *ReadTrack
	var tracks []*ReadTrack
	var tfhd *gomp4.Tfhd

	_, err := gomp4.ReadBoxStructure(bytes.NewReader(byts), func(h *gomp4.ReadHandle) (interface{}, error) {
		switch h.BoxInfo.Type.String() {
		case "styp", "sidx":
			if state != waitingMoof {
				return nil, fmt.Errorf("unexpected box '%s'", h.BoxInfo.Type.String())
			}
			return nil, nil

		case "moof":
			if state != waitingMoof {
				return nil, fmt.Errorf("unexpected box 'moof'")
			}

			moofOffset = h.BoxInfo.Offset
			state = waitingTraf

		case "traf":
			if state != waitingTraf && state != waitingTrun {
				return nil, fmt.Errorf("unexpected box 'traf'")
			}

			curTrack = &ReadTrack{}
			tracks = append(tracks, curTrack)
			state = waitingTfhd

		case "tfhd":
			if state != waitingTfhd {
				return nil, fmt.Errorf("unexpected box 'tfhd'")
			}

			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			tfhd = box.(*gomp4.Tfhd)

			curTrack.ID = int(tfhd.TrackID)
			state = waitingTfdt

		case "tfdt":
			if state != waitingTfdt {
				return nil, fmt.Errorf("unexpected box 'tfdt'")
			}

			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			tfdt := box.(*gomp4.Tfdt)

			if tfdt.FullBox.Version != 1 {
				return nil, fmt.Errorf("unsupported tfdt version")
			}

			curTrack.BaseTime = tfdt.BaseMediaDecodeTimeV1
			state = waitingTrun

		case "trun":
			if state != waitingTrun {
				return nil, fmt.Errorf("unexpected box 'trun'")
			}

			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			trun := box.(*gomp4.Trun)

			err = readTrun(byts, moofOffset, tfhd, trun, curTrack)
			if err != nil {
				return nil, err
			}

		case "mdat":
			if state != waitingTrun {
				return nil, fmt.Errorf("unexpected box 'mdat'")
			}
			state = waitingMoof
			return nil, nil
		}

		return h.Expand()
	})
	if err != nil {
		return nil, err
	}

	if state != waitingMoof {
		return nil, fmt.Errorf("mdat is missing")
	}

	return tracks, nil
}

func readTrun(byts []byte, moofOffset uint64, tfhd *gomp4.Tfhd, trun *gomp4.Trun, track *ReadTrack) error {
	flags := uint32(trun.Flags[0])<<16 | uint32(trun.Flags[1])<<8 | uint32(trun.Flags[2])
	if (flags & trunFlagDataOffsetPresent) == 0 {
		return fmt.Errorf("unsupported trun without data offset")
	}

	pos := moofOffset + uint64(trun.DataOffset)

	for i := range trun.Entries {
		e := &trun.Entries[i]
		s := &ReadSample{
			Duration:  e.SampleDuration,
			PTSOffset: e.SampleCompositionTimeOffsetV1,
			Flags:     e.SampleFlags,
		}

		if (flags & trunFlagSampleDurationPresent) == 0 {
			s.Duration = tfhd.DefaultSampleDuration
		}
		if (flags & trunFlagSampleFlagsPresent) == 0 {
			if i == 0 && (flags&trunFlagFirstSampleFlagsPresent) != 0 {
				s.Flags = trun.FirstSampleFlags
			} else {
				s.Flags = tfhd.DefaultSampleFlags
			}
		}

		size := e.SampleSize
		if (flags & trunFlagSampleSizePresent) == 0 {
			size = tfhd.DefaultSampleSize
		}

		if pos+uint64(size) > uint64(len(byts)) {
			return fmt.Errorf("sample payload is out of bounds")
		}

		s.Payload = byts[pos : pos+uint64(size)]
		pos += uint64(size)

		track.Samples = append(track.Samples, s)
	}

	track.RunCount++
	return nil
}
