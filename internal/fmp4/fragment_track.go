package fmp4

import (
	gomp4 "github.com/abema/go-mp4"
)

const (
	tfhdFlagDefaultSampleDurationPresent = 0x08
	tfhdFlagDefaultSampleSizePresent     = 0x10
	tfhdFlagDefaultSampleFlagsPresent    = 0x20
	tfhdFlagDefaultBaseIsMoof            = 0x20000

	trunFlagDataOffsetPresent                      = 0x01
	trunFlagFirstSampleFlagsPresent                = 0x04
	trunFlagSampleDurationPresent                  = 0x100
	trunFlagSampleSizePresent                      = 0x200
	trunFlagSampleFlagsPresent                     = 0x400
	trunFlagSampleCompositionTimeOffsetPresentOrV1 = 0x800

	sampleFlagIsNonSyncSample   = 1 << 16
	sampleFlagDependsOnOthers   = 1 << 24
	sampleFlagDependsOnNoOthers = 2 << 24
)

// PayloadSource provides the payload of samples.
type PayloadSource interface {
	ReadRange(off int, n int) ([]byte, error)
}

// Sample is a sample of a FragmentTrack.
type Sample struct {
	Duration        uint32
	PTSOffset       int32
	IsNonSyncSample bool
	Size            int

	// position of the payload inside the fragment payload.
	// It is shared among all tracks of a fragment.
	Offset int

	// position of the payload inside the track PayloadSource.
	SourceOffset int
}

func (s *Sample) flags(isVideo bool) uint32 {
	if !isVideo {
		return sampleFlagDependsOnNoOthers
	}
	if s.IsNonSyncSample {
		return sampleFlagDependsOnOthers | sampleFlagIsNonSyncSample
	}
	return sampleFlagDependsOnNoOthers
}

// FragmentTrack is a track of Fragment.
type FragmentTrack struct {
	ID        int
	TimeScale uint32
	IsVideo   bool

	// decode time of the first sample, in timescale units.
	BaseTime uint64

	// samples, in payload order.
	Samples []*Sample

	Source PayloadSource
}

// Duration returns the sum of sample durations, in timescale units.
func (ft *FragmentTrack) Duration() uint64 {
	var d uint64
	for _, s := range ft.Samples {
		d += uint64(s.Duration)
	}
	return d
}

type trackDefaults struct {
	duration uint32
	size     uint32
	flags    uint32
}

func (ft *FragmentTrack) defaults() trackDefaults {
	d := trackDefaults{
		duration: ft.Samples[0].Duration,
		size:     uint32(ft.Samples[0].Size),
	}

	if ft.IsVideo {
		d.flags = sampleFlagDependsOnOthers | sampleFlagIsNonSyncSample
	} else {
		d.flags = sampleFlagDependsOnNoOthers
	}

	return d
}

// run is a sequence of samples whose payloads are contiguous.
type run struct {
	samples []*Sample
}

// buildRuns splits samples into runs.
// A new run is started every time a sample does not immediately follow the previous one.
func buildRuns(samples []*Sample) []*run {
	var runs []*run
	var cur *run

	for i, s := range samples {
		if i == 0 || samples[i-1].Offset+samples[i-1].Size != s.Offset {
			cur = &run{}
			runs = append(runs, cur)
		}
		cur.samples = append(cur.samples, s)
	}

	return runs
}

func (r *run) trun(defaults trackDefaults, isVideo bool) *gomp4.Trun {
	durationPresent := false
	sizePresent := false
	ctsPresent := false
	firstFlagsDiverge := false
	otherFlagsDiverge := false

	for i, s := range r.samples {
		if s.Duration != defaults.duration {
			durationPresent = true
		}
		if uint32(s.Size) != defaults.size {
			sizePresent = true
		}
		if s.PTSOffset != 0 {
			ctsPresent = true
		}
		if s.flags(isVideo) != defaults.flags {
			if i == 0 {
				firstFlagsDiverge = true
			} else {
				otherFlagsDiverge = true
			}
		}
	}

	flags := trunFlagDataOffsetPresent
	if durationPresent {
		flags |= trunFlagSampleDurationPresent
	}
	if sizePresent {
		flags |= trunFlagSampleSizePresent
	}
	if ctsPresent {
		flags |= trunFlagSampleCompositionTimeOffsetPresentOrV1
	}
	switch {
	case otherFlagsDiverge:
		flags |= trunFlagSampleFlagsPresent
	case firstFlagsDiverge:
		flags |= trunFlagFirstSampleFlagsPresent
	}

	trun := &gomp4.Trun{
		FullBox: gomp4.FullBox{
			Version: 1,
			Flags:   [3]byte{0, byte(flags >> 8), byte(flags)},
		},
		SampleCount: uint32(len(r.samples)),
		Entries:     make([]gomp4.TrunEntry, len(r.samples)),
	}

	if (flags & trunFlagFirstSampleFlagsPresent) != 0 {
		trun.FirstSampleFlags = r.samples[0].flags(isVideo)
	}

	for i, s := range r.samples {
		trun.Entries[i] = gomp4.TrunEntry{
			SampleDuration:                s.Duration,
			SampleSize:                    uint32(s.Size),
			SampleFlags:                   s.flags(isVideo),
			SampleCompositionTimeOffsetV1: s.PTSOffset,
		}
	}

	return trun
}

type trafInfo struct {
	runs       []*run
	truns      []*gomp4.Trun
	trunOffset []int
}

func (ft *FragmentTrack) marshal(w *mp4Writer) (*trafInfo, error) {
	/*
		traf
		- tfhd
		- tfdt
		- trun
		- trun
		- ...
	*/

	defaults := ft.defaults()
	info := &trafInfo{
		runs: buildRuns(ft.Samples),
	}

	_, err := w.writeBox(&gomp4.Traf{}, func() error { // <traf>
		flags := tfhdFlagDefaultBaseIsMoof |
			tfhdFlagDefaultSampleDurationPresent |
			tfhdFlagDefaultSampleSizePresent |
			tfhdFlagDefaultSampleFlagsPresent

		_, err2 := w.writeBox(&gomp4.Tfhd{ // <tfhd/>
			FullBox: gomp4.FullBox{
				Flags: [3]byte{byte(flags >> 16), byte(flags >> 8), byte(flags)},
			},
			TrackID:               uint32(ft.ID),
			DefaultSampleDuration: defaults.duration,
			DefaultSampleSize:     defaults.size,
			DefaultSampleFlags:    defaults.flags,
		}, nil)
		if err2 != nil {
			return err2
		}

		_, err2 = w.writeBox(&gomp4.Tfdt{ // <tfdt/>
			FullBox: gomp4.FullBox{
				Version: 1,
			},
			BaseMediaDecodeTimeV1: ft.BaseTime,
		}, nil)
		if err2 != nil {
			return err2
		}

		for _, r := range info.runs {
			trun := r.trun(defaults, ft.IsVideo)

			off, err3 := w.writeBox(trun, nil) // <trun/>
			if err3 != nil {
				return err3
			}

			info.truns = append(info.truns, trun)
			info.trunOffset = append(info.trunOffset, off)
		}

		return nil
	}) // </traf>
	if err != nil {
		return nil, err
	}

	return info, nil
}
