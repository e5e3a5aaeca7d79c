package fmp4

import (
	"errors"
	"fmt"
	"io"
	"sort"

	gomp4 "github.com/abema/go-mp4"
)

// ErrLayoutViolation is returned when sample payloads do not match their declared offsets.
var ErrLayoutViolation = errors.New("fragment layout violation")

func layoutViolation(format string, args ...interface{}) error {
	err := fmt.Errorf("%w: %s", ErrLayoutViolation, fmt.Sprintf(format, args...))
	if panicOnLayoutViolation {
		panic(err)
	}
	return err
}

// Fragment is a fragment of a fragmented MP4 (a moof and a mdat).
type Fragment struct {
	SequenceNumber uint32
	Tracks         []*FragmentTrack

	// prepend a segment type (styp).
	SegmentType bool

	// prepend a segment index (sidx).
	SegmentIndex bool
}

func (f *Fragment) referenceTrack() *FragmentTrack {
	for _, track := range f.Tracks {
		if track.IsVideo {
			return track
		}
	}
	return f.Tracks[0]
}

func (f *Fragment) sidx() *gomp4.Sidx {
	ref := f.referenceTrack()

	earliest := int64(ref.BaseTime) + int64(ref.Samples[0].PTSOffset)
	if earliest < 0 {
		earliest = 0
	}

	startsWithSAP := !ref.Samples[0].IsNonSyncSample
	var sapType uint32
	if startsWithSAP {
		sapType = 1
	}

	return &gomp4.Sidx{
		FullBox: gomp4.FullBox{
			Version: 1,
		},
		ReferenceID:                uint32(ref.ID),
		Timescale:                  ref.TimeScale,
		EarliestPresentationTimeV1: uint64(earliest),
		FirstOffsetV1:              0,
		ReferenceCount:             1,
		References: []gomp4.SidxReference{{
			ReferenceType:      false,
			ReferencedSize:     0, // filled after the mdat is written
			SubsegmentDuration: uint32(ref.Duration()),
			StartsWithSAP:      startsWithSAP,
			SAPType:            sapType,
		}},
	}
}

// Marshal encodes a fragment.
func (f *Fragment) Marshal(w io.WriteSeeker) error {
	/*
		- styp (optional)
		- sidx (optional)
		- moof
		  - mfhd
		  - traf (video)
		  - traf (audio)
		  - ...
		- mdat
	*/

	if len(f.Tracks) == 0 {
		return fmt.Errorf("fragment has no tracks")
	}

	for _, track := range f.Tracks {
		if len(track.Samples) == 0 {
			return fmt.Errorf("track %d has no samples", track.ID)
		}
	}

	mw := newMP4Writer(w)

	if f.SegmentType {
		_, err := mw.writeBox(&gomp4.Styp{ // <styp/>
			MajorBrand: [4]byte{'m', 's', 'd', 'h'},
			CompatibleBrands: []gomp4.CompatibleBrandElem{
				{CompatibleBrand: [4]byte{'m', 's', 'd', 'h'}},
				{CompatibleBrand: [4]byte{'m', 's', 'i', 'x'}},
			},
		}, nil)
		if err != nil {
			return err
		}
	}

	var sidx *gomp4.Sidx
	var sidxOffset int

	if f.SegmentIndex {
		sidx = f.sidx()

		var err error
		sidxOffset, err = mw.writeBox(sidx, nil) // <sidx/>
		if err != nil {
			return err
		}
	}

	infos := make([]*trafInfo, len(f.Tracks))

	moofOffset, err := mw.writeBox(&gomp4.Moof{}, func() error { // <moof>
		_, err2 := mw.writeBox(&gomp4.Mfhd{ // <mfhd/>
			SequenceNumber: f.SequenceNumber,
		}, nil)
		if err2 != nil {
			return err2
		}

		for i, track := range f.Tracks {
			infos[i], err2 = track.marshal(mw)
			if err2 != nil {
				return err2
			}
		}

		return nil
	}) // </moof>
	if err != nil {
		return err
	}

	moofEnd, err := mw.tell()
	if err != nil {
		return err
	}
	moofSize := moofEnd - moofOffset

	// data offsets are relative to the start of moof
	for _, info := range infos {
		for i, r := range info.runs {
			trun := info.truns[i]
			trun.DataOffset = int32(moofSize + 8 + r.samples[0].Offset)

			err = mw.rewriteBox(info.trunOffset[i], trun)
			if err != nil {
				return err
			}
		}
	}

	_, err = mw.writeBox(&gomp4.Mdat{}, func() error { // <mdat>
		return f.writePayload(mw)
	}) // </mdat>
	if err != nil {
		return err
	}

	if sidx != nil {
		var end int
		end, err = mw.tell()
		if err != nil {
			return err
		}

		sidx.References[0].ReferencedSize = uint32(end - moofOffset)

		err = mw.rewriteBox(sidxOffset, sidx)
		if err != nil {
			return err
		}
	}

	return nil
}

type mergedSample struct {
	*Sample
	track *FragmentTrack
}

// writePayload merges the payloads of all tracks in shared offset order.
func (f *Fragment) writePayload(mw *mp4Writer) error {
	var merged []mergedSample
	for _, track := range f.Tracks {
		for _, s := range track.Samples {
			merged = append(merged, mergedSample{s, track})
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Offset < merged[j].Offset
	})

	start, err := mw.tell()
	if err != nil {
		return err
	}

	for _, s := range merged {
		var pos int
		pos, err = mw.tell()
		if err != nil {
			return err
		}

		if (pos - start) != s.Offset {
			return layoutViolation("sample of track %d declared at offset %d, written at %d",
				s.track.ID, s.Offset, pos-start)
		}

		var byts []byte
		byts, err = s.track.Source.ReadRange(s.SourceOffset, s.Size)
		if err != nil {
			return err
		}

		err = mw.write(byts)
		if err != nil {
			return err
		}
	}

	return nil
}
