package fmp4

import (
	"encoding/binary"
	"fmt"
)

var containerBoxes = map[string]struct{}{
	"moov": {},
	"trak": {},
	"mdia": {},
	"minf": {},
	"dinf": {},
	"stbl": {},
	"mvex": {},
	"moof": {},
	"traf": {},
	"mfra": {},
}

// ValidateBoxSizes checks that the sizes of all boxes, including nested boxes
// of container types, exactly cover their parent.
// It uses size arithmetic only and does not decode any payload.
func ValidateBoxSizes(byts []byte) error {
	return validateRange(byts, 0, len(byts), "")
}

func validateRange(byts []byte, start int, end int, parent string) error {
	pos := start

	for pos < end {
		if end-pos < 8 {
			return fmt.Errorf("truncated box header at %d (in '%s')", pos, parent)
		}

		size := int(binary.BigEndian.Uint32(byts[pos:]))
		typ := string(byts[pos+4 : pos+8])
		headerSize := 8

		if size == 1 {
			if end-pos < 16 {
				return fmt.Errorf("truncated box header at %d (in '%s')", pos, parent)
			}
			size = int(binary.BigEndian.Uint64(byts[pos+8:]))
			headerSize = 16
		}

		if size < headerSize {
			return fmt.Errorf("box '%s' at %d has invalid size %d", typ, pos, size)
		}

		if pos+size > end {
			return fmt.Errorf("box '%s' at %d overflows its parent '%s'", typ, pos, parent)
		}

		if _, ok := containerBoxes[typ]; ok {
			err := validateRange(byts, pos+headerSize, pos+size, typ)
			if err != nil {
				return err
			}
		}

		pos += size
	}

	return nil
}
