package fmp4

import (
	"bytes"
	"testing"

	gomp4 "github.com/abema/go-mp4"
	"github.com/stretchr/testify/require"

	"github.com/bluenviron/livefmp4/internal/segmentbuffer"
)

func TestIndexMarshal(t *testing.T) {
	idx := &Index{
		Tracks: []*IndexTrack{
			{
				ID: 1,
				Entries: []IndexEntry{
					{Time: 0, MoofOffset: 800},
					{Time: 90000, MoofOffset: 5000},
				},
			},
			{
				ID: 2,
				Entries: []IndexEntry{
					{Time: 0, MoofOffset: 800},
				},
			},
		},
	}

	var buf segmentbuffer.Buffer
	err := idx.Marshal(&buf)
	require.NoError(t, err)
	require.NoError(t, ValidateBoxSizes(buf.Bytes()))

	testMP4(t, buf.Bytes(), []gomp4.BoxPath{
		{gomp4.BoxTypeMfra()},
		{gomp4.BoxTypeMfra(), gomp4.BoxTypeTfra()},
		{gomp4.BoxTypeMfra(), gomp4.BoxTypeTfra()},
		{gomp4.BoxTypeMfra(), gomp4.BoxTypeMfro()},
	})

	var tfras []*gomp4.Tfra
	var mfro *gomp4.Mfro

	_, err = gomp4.ReadBoxStructure(bytes.NewReader(buf.Bytes()), func(h *gomp4.ReadHandle) (interface{}, error) {
		switch h.BoxInfo.Type {
		case gomp4.BoxTypeTfra():
			box, _, err2 := h.ReadPayload()
			if err2 != nil {
				return nil, err2
			}
			tfras = append(tfras, box.(*gomp4.Tfra))
			return nil, nil

		case gomp4.BoxTypeMfro():
			box, _, err2 := h.ReadPayload()
			if err2 != nil {
				return nil, err2
			}
			mfro = box.(*gomp4.Mfro)
			return nil, nil
		}
		return h.Expand()
	})
	require.NoError(t, err)

	require.Len(t, tfras, 2)
	require.Equal(t, uint32(2), tfras[0].NumberOfEntry)
	require.Equal(t, uint64(5000), tfras[0].Entries[1].MoofOffsetV1)
	require.Equal(t, uint64(90000), tfras[0].Entries[1].TimeV1)
	require.Equal(t, uint32(buf.Len()), mfro.Size)
}
