package fmp4

import (
	"io"

	gomp4 "github.com/abema/go-mp4"
)

// IndexEntry is a random access point of a track.
type IndexEntry struct {
	// decode time, in timescale units.
	Time uint64

	// position of the moof, relative to the start of the file.
	MoofOffset uint64
}

// IndexTrack is a track of Index.
type IndexTrack struct {
	ID      int
	Entries []IndexEntry
}

// Index is a movie fragment random access index.
type Index struct {
	Tracks []*IndexTrack
}

// Marshal encodes an index.
func (i *Index) Marshal(w io.WriteSeeker) error {
	/*
		- mfra
		  - tfra
		  - tfra
		  - ...
		  - mfro
	*/

	mw := newMP4Writer(w)

	var mfro *gomp4.Mfro
	var mfroOffset int

	mfraOffset, err := mw.writeBox(&gomp4.Mfra{}, func() error { // <mfra>
		for _, track := range i.Tracks {
			tfra := &gomp4.Tfra{
				FullBox: gomp4.FullBox{
					Version: 1,
				},
				TrackID:       uint32(track.ID),
				NumberOfEntry: uint32(len(track.Entries)),
				Entries:       make([]gomp4.TfraEntry, len(track.Entries)),
			}

			for j, e := range track.Entries {
				tfra.Entries[j] = gomp4.TfraEntry{
					TimeV1:       e.Time,
					MoofOffsetV1: e.MoofOffset,
					TrafNumber:   1,
					TrunNumber:   1,
					SampleNumber: 1,
				}
			}

			_, err2 := mw.writeBox(tfra, nil) // <tfra/>
			if err2 != nil {
				return err2
			}
		}

		mfro = &gomp4.Mfro{}

		var err2 error
		mfroOffset, err2 = mw.writeBox(mfro, nil) // <mfro/>
		return err2
	}) // </mfra>
	if err != nil {
		return err
	}

	end, err := mw.tell()
	if err != nil {
		return err
	}

	mfro.Size = uint32(end - mfraOffset)
	return mw.rewriteBox(mfroOffset, mfro)
}
