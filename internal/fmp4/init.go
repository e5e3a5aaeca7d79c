// Package fmp4 contains a fragmented MP4 writer and reader.
package fmp4

import (
	"io"

	gomp4 "github.com/abema/go-mp4"
)

// Init is a fragmented MP4 initialization segment.
type Init struct {
	Tracks []*InitTrack
}

// Marshal encodes an initialization segment.
func (i *Init) Marshal(w io.WriteSeeker) error {
	/*
		- ftyp
		- moov
		  - mvhd
		  - trak
		  - trak
		  - ...
		  - mvex
		    - trex
		    - trex
		    - ...
	*/

	mw := newMP4Writer(w)

	_, err := mw.writeBox(&gomp4.Ftyp{ // <ftyp/>
		MajorBrand:   [4]byte{'i', 's', 'o', '5'},
		MinorVersion: 512,
		CompatibleBrands: []gomp4.CompatibleBrandElem{
			{CompatibleBrand: [4]byte{'i', 's', 'o', '6'}},
			{CompatibleBrand: [4]byte{'m', 'p', '4', '1'}},
			{CompatibleBrand: [4]byte{'d', 'a', 's', 'h'}},
			{CompatibleBrand: [4]byte{'c', 'm', 'f', 'c'}},
		},
	}, nil)
	if err != nil {
		return err
	}

	_, err = mw.writeBox(&gomp4.Moov{}, func() error { // <moov>
		_, err2 := mw.writeBox(&gomp4.Mvhd{ // <mvhd/>
			Timescale:   1000,
			Rate:        65536,
			Volume:      256,
			Matrix:      [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000},
			NextTrackID: 4294967295,
		}, nil)
		if err2 != nil {
			return err2
		}

		for _, track := range i.Tracks {
			err2 = track.marshal(mw)
			if err2 != nil {
				return err2
			}
		}

		_, err2 = mw.writeBox(&gomp4.Mvex{}, func() error { // <mvex>
			for _, track := range i.Tracks {
				_, err3 := mw.writeBox(&gomp4.Trex{ // <trex/>
					TrackID:                       uint32(track.ID),
					DefaultSampleDescriptionIndex: 1,
				}, nil)
				if err3 != nil {
					return err3
				}
			}
			return nil
		}) // </mvex>
		return err2
	}) // </moov>
	return err
}
