package delivery

import (
	"time"

	"github.com/google/uuid"

	"github.com/bluenviron/livefmp4/internal/manifest"
	"github.com/bluenviron/livefmp4/internal/segmenter"
)

type apiFragment struct {
	Sequence uint32  `json:"sequence"`
	Name     string  `json:"name"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Size     int     `json:"size"`
}

type apiTrack struct {
	ID           int           `json:"id"`
	Prefix       string        `json:"prefix"`
	Codec        string        `json:"codec"`
	Width        int           `json:"width,omitempty"`
	Height       int           `json:"height,omitempty"`
	ChannelCount int           `json:"channelCount,omitempty"`
	SampleRate   int           `json:"sampleRate,omitempty"`
	Bitrate      int           `json:"bitrate"`
	Fragments    []apiFragment `json:"fragments"`
}

type apiPresentation struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Mode         string     `json:"mode"`
	Closed       bool       `json:"closed"`
	CreationTime time.Time  `json:"creationTime"`
	PublishTime  time.Time  `json:"publishTime"`
	Bitrate      int        `json:"bitrate"`
	Tracks       []apiTrack `json:"tracks"`
}

func newAPIFragments(records []segmenter.FragmentRecord) []apiFragment {
	ret := make([]apiFragment, len(records))
	for i, rec := range records {
		ret[i] = apiFragment{
			Sequence: rec.Sequence,
			Name:     rec.Name,
			Start:    rec.Start.Seconds(),
			Duration: rec.Duration.Seconds(),
			Size:     rec.Size,
		}
	}
	return ret
}

func newAPIPresentation(snap *segmenter.Snapshot) *apiPresentation {
	ret := &apiPresentation{
		ID:           snap.ID,
		Name:         snap.Name,
		Mode:         snap.Mode.String(),
		Closed:       snap.Closed,
		CreationTime: snap.CreationTime,
		PublishTime:  snap.PublishTime,
		Bitrate:      snap.Bitrate(),
		Tracks:       []apiTrack{},
	}

	for _, t := range snap.Tracks {
		ret.Tracks = append(ret.Tracks, apiTrack{
			ID:           t.ID,
			Prefix:       t.Prefix,
			Codec:        manifest.CodecParameters(t.Codec),
			Width:        t.Width,
			Height:       t.Height,
			ChannelCount: t.ChannelCount,
			SampleRate:   t.SampleRate,
			Bitrate:      t.Bitrate,
			Fragments:    newAPIFragments(t.Records),
		})
	}

	return ret
}
