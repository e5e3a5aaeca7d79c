package fmp4

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateBoxSizes(t *testing.T) {
	for _, ca := range []struct {
		name string
		byts []byte
		ok   bool
	}{
		{
			"valid nested",
			[]byte{
				0x00, 0x00, 0x00, 0x18, 'm', 'o', 'o', 'f',
				0x00, 0x00, 0x00, 0x10, 'm', 'f', 'h', 'd',
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01,
				0x00, 0x00, 0x00, 0x09, 'm', 'd', 'a', 't',
				0x01,
			},
			true,
		},
		{
			"child overflows parent",
			[]byte{
				0x00, 0x00, 0x00, 0x10, 'm', 'o', 'o', 'f',
				0x00, 0x00, 0x00, 0x10, 'm', 'f', 'h', 'd',
			},
			false,
		},
		{
			"size smaller than header",
			[]byte{
				0x00, 0x00, 0x00, 0x04, 'm', 'd', 'a', 't',
			},
			false,
		},
		{
			"truncated header",
			[]byte{
				0x00, 0x00, 0x00, 0x08, 'm', 'd', 'a', 't',
				0x00, 0x00,
			},
			false,
		},
		{
			"size beyond end",
			[]byte{
				0x00, 0x00, 0x00, 0x10, 'm', 'd', 'a', 't',
				0x01,
			},
			false,
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			err := ValidateBoxSizes(ca.byts)
			if ca.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}
