package manifest

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/bluenviron/livefmp4/internal/fmp4"
)

func encodeProfileSpace(v uint8) string {
	switch v {
	case 1:
		return "A"
	case 2:
		return "B"
	case 3:
		return "C"
	}
	return ""
}

func encodeCompatibilityFlag(v [32]bool) string {
	var o uint32
	for i, b := range v {
		if b {
			o |= 1 << i
		}
	}
	return fmt.Sprintf("%x", o)
}

func encodeGeneralTierFlag(v uint8) string {
	if v > 0 {
		return "H"
	}
	return "L"
}

func encodeGeneralConstraintIndicatorFlags(v *h265.SPS_ProfileTierLevel) string {
	var ret []string

	var o1 uint8
	if v.GeneralProgressiveSourceFlag {
		o1 |= 1 << 7
	}
	if v.GeneralInterlacedSourceFlag {
		o1 |= 1 << 6
	}
	if v.GeneralNonPackedConstraintFlag {
		o1 |= 1 << 5
	}
	if v.GeneralFrameOnlyConstraintFlag {
		o1 |= 1 << 4
	}
	if v.GeneralMax12bitConstraintFlag {
		o1 |= 1 << 3
	}
	if v.GeneralMax10bitConstraintFlag {
		o1 |= 1 << 2
	}
	if v.GeneralMax8bitConstraintFlag {
		o1 |= 1 << 1
	}
	if v.GeneralMax422ChromeConstraintFlag {
		o1 |= 1 << 0
	}

	ret = append(ret, fmt.Sprintf("%x", o1))

	var o2 uint8
	if v.GeneralMax420ChromaConstraintFlag {
		o2 |= 1 << 7
	}
	if v.GeneralMaxMonochromeConstraintFlag {
		o2 |= 1 << 6
	}
	if v.GeneralIntraConstraintFlag {
		o2 |= 1 << 5
	}
	if v.GeneralOnePictureOnlyConstraintFlag {
		o2 |= 1 << 4
	}
	if v.GeneralLowerBitRateConstraintFlag {
		o2 |= 1 << 3
	}
	if v.GeneralMax14BitConstraintFlag {
		o2 |= 1 << 2
	}

	if o2 != 0 {
		ret = append(ret, fmt.Sprintf("%x", o2))
	}

	return strings.Join(ret, ".")
}

// CodecParameters returns the RFC 6381 codec string of a codec.
func CodecParameters(codec fmp4.Codec) string {
	switch codec := codec.(type) {
	case fmp4.CodecH264:
		return CodecParameters(&codec)

	case fmp4.CodecH265:
		return CodecParameters(&codec)

	case fmp4.CodecMPEG4Audio:
		return CodecParameters(&codec)

	case *fmp4.CodecH264:
		if len(codec.SPS) != 0 && len(codec.SPS[0]) >= 4 {
			return "avc1." + hex.EncodeToString(codec.SPS[0][1:4])
		}

	case *fmp4.CodecH265:
		var sps h265.SPS
		err := sps.Unmarshal(codec.SPS)
		if err == nil {
			// sample entry is hev1
			return "hev1." +
				encodeProfileSpace(sps.ProfileTierLevel.GeneralProfileSpace) +
				strconv.FormatInt(int64(sps.ProfileTierLevel.GeneralProfileIdc), 10) + "." +
				encodeCompatibilityFlag(sps.ProfileTierLevel.GeneralProfileCompatibilityFlag) + "." +
				encodeGeneralTierFlag(sps.ProfileTierLevel.GeneralTierFlag) +
				strconv.FormatInt(int64(sps.ProfileTierLevel.GeneralLevelIdc), 10) + "." +
				encodeGeneralConstraintIndicatorFlags(&sps.ProfileTierLevel)
		}

	case *fmp4.CodecMPEG4Audio:
		// https://developer.mozilla.org/en-US/docs/Web/Media/Formats/codecs_parameter
		return "mp4a.40." + strconv.FormatInt(int64(codec.Config.Type), 10)
	}

	return ""
}

func joinCodecParameters(tracks []fmp4.Codec) string {
	var ret []string
	for _, c := range tracks {
		if v := CodecParameters(c); v != "" {
			ret = append(ret, v)
		}
	}
	return strings.Join(ret, ",")
}
