package manifest

import (
	"fmt"
	"io"
	"math"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/bluenviron/livefmp4/internal/segmenter"
)

func targetDuration(records []segmenter.FragmentRecord) int {
	ret := 0

	// EXTINF, when rounded to the nearest integer, must be <= EXT-X-TARGETDURATION
	for _, rec := range records {
		v := int(math.Round(rec.Duration.Seconds()))
		if v > ret {
			ret = v
		}
	}

	if ret < 1 {
		ret = 1
	}

	return ret
}

// RenderHLS writes a HLS media playlist that describes a presentation.
func RenderHLS(w io.Writer, s *segmenter.Snapshot) (int, error) {
	if len(s.Fragments) == 0 {
		return 0, fmt.Errorf("no fragments have been published yet")
	}

	pl := &playlist.Media{
		Version:             7,
		IndependentSegments: true,
		TargetDuration:      targetDuration(s.Fragments),
		MediaSequence:       int(s.FirstSequence),
		Endlist:             s.Closed,
		Map: &playlist.MediaMap{
			URI: s.InitName,
		},
	}

	for _, rec := range s.Fragments {
		pl.Segments = append(pl.Segments, &playlist.MediaSegment{
			Duration: rec.Duration,
			URI:      rec.Name,
		})
	}

	byts, err := pl.Marshal()
	if err != nil {
		return 0, err
	}

	return w.Write(byts)
}
