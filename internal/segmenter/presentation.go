// Package segmenter contains a live fragmented MP4 segmenter.
package segmenter

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bluenviron/livefmp4/internal/fmp4"
	"github.com/bluenviron/livefmp4/internal/logger"
	"github.com/bluenviron/livefmp4/internal/segmentbuffer"
)

// MaxTracks is the maximum number of tracks of a Presentation.
const MaxTracks = 8

const (
	defaultName            = "stream"
	defaultRetentionWindow = 5
	defaultTargetDuration  = 2 * time.Second
)

// Presentation turns samples of one or more tracks into fragmented MP4 deliveries.
//
// Input, AddVideoTrack, AddAudioTrack and Close must be called from a single goroutine.
// Snapshot and CombinedInit can be called from any goroutine.
type Presentation struct {
	Mode Mode

	// prefix of names of media fragments, combined init and index.
	// It defaults to "stream".
	Name string

	// number of advertised fragments in live mode.
	// It defaults to 5.
	RetentionWindow int

	// duration after which a fragment without video is cut.
	// It defaults to 2 seconds.
	TargetDuration time.Duration

	// minimum duration of a fragment before a keyframe can cut it.
	// Zero means that every keyframe cuts.
	MinFragmentDuration time.Duration

	// ceiling of the per-track and output buffers.
	// It defaults to segmentbuffer.DefaultCapacity.
	SegmentMaxSize int

	// growth increment of buffers.
	// It defaults to segmentbuffer.DefaultGrowStep.
	SegmentGrowStep int

	Sink   Sink
	Parent logger.Writer

	timeNow func() time.Time

	id           uuid.UUID
	creationTime time.Time
	out          *segmentbuffer.Buffer

	// open fragment
	nextOffset    int
	fragmentStart time.Duration

	// written bytes of media fragments, used by the random access index
	mediaBytes uint64

	mutex               sync.RWMutex
	closed              bool
	tracks              []*Track
	fragments           []FragmentRecord
	origin              time.Duration
	nextSequence        uint32
	publishTime         time.Time
	publishedDuration   time.Duration
	maxFragmentDuration time.Duration
}

// Initialize initializes Presentation.
func (p *Presentation) Initialize() error {
	if p.Mode != ModeLive && p.Mode != ModeOnDemand {
		return fmt.Errorf("invalid mode: %v", p.Mode)
	}
	if p.Sink == nil {
		return fmt.Errorf("sink not provided")
	}
	if p.Name == "" {
		p.Name = defaultName
	}
	if p.RetentionWindow == 0 {
		p.RetentionWindow = defaultRetentionWindow
	}
	if p.RetentionWindow < 0 {
		return fmt.Errorf("invalid retention window: %d", p.RetentionWindow)
	}
	if p.TargetDuration == 0 {
		p.TargetDuration = defaultTargetDuration
	}
	if p.SegmentMaxSize == 0 {
		p.SegmentMaxSize = segmentbuffer.DefaultCapacity
	}
	if p.SegmentGrowStep == 0 {
		p.SegmentGrowStep = segmentbuffer.DefaultGrowStep
	}
	if p.timeNow == nil {
		p.timeNow = time.Now
	}

	p.id = uuid.New()
	p.creationTime = p.timeNow().UTC()
	p.publishTime = p.creationTime
	p.nextSequence = 1
	p.out = p.newBuffer()

	p.Log(logger.Debug, "created (%v mode)", p.Mode)

	return nil
}

// Log implements logger.Writer.
func (p *Presentation) Log(level logger.Level, format string, args ...interface{}) {
	if p.Parent != nil {
		p.Parent.Log(level, "[presentation "+p.Name+"] "+format, args...)
	}
}

func (p *Presentation) newBuffer() *segmentbuffer.Buffer {
	return &segmentbuffer.Buffer{
		Capacity: p.SegmentMaxSize,
		GrowStep: p.SegmentGrowStep,
	}
}

func (p *Presentation) initName() string {
	return p.Name + "-init.mp4"
}

// AddVideoTrack adds a video track and delivers its initialization segment.
func (p *Presentation) AddVideoTrack(prefix string, codec fmp4.Codec, width int, height int) (int, error) {
	if codec == nil || !codec.IsVideo() {
		return 0, fmt.Errorf("%w: not a video codec", ErrInvalidCodecConfig)
	}
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("%w: invalid size %dx%d", ErrInvalidCodecConfig, width, height)
	}

	return p.addTrack(&Track{
		Prefix:    prefix,
		Codec:     codec,
		Width:     width,
		Height:    height,
		TimeScale: videoTimeScale,
	})
}

// AddAudioTrack adds an audio track and delivers its initialization segment.
func (p *Presentation) AddAudioTrack(
	prefix string,
	codec fmp4.Codec,
	channelCount int,
	sampleSize int,
	sampleRate int,
) (int, error) {
	if codec == nil || codec.IsVideo() {
		return 0, fmt.Errorf("%w: not an audio codec", ErrInvalidCodecConfig)
	}
	if channelCount <= 0 {
		return 0, fmt.Errorf("%w: invalid channel count %d", ErrInvalidCodecConfig, channelCount)
	}
	if sampleRate <= 0 {
		return 0, fmt.Errorf("%w: invalid sample rate %d", ErrInvalidCodecConfig, sampleRate)
	}

	return p.addTrack(&Track{
		Prefix:       prefix,
		Codec:        codec,
		ChannelCount: channelCount,
		SampleSize:   sampleSize,
		SampleRate:   sampleRate,
		TimeScale:    uint32(sampleRate),
	})
}

func (p *Presentation) addTrack(t *Track) (int, error) {
	if p.closed {
		return 0, ErrClosed
	}
	if len(p.tracks) >= MaxTracks {
		return 0, ErrTooManyTracks
	}
	if t.Prefix == "" {
		return 0, fmt.Errorf("track prefix is empty")
	}
	for _, other := range p.tracks {
		if other.Prefix == t.Prefix {
			return 0, fmt.Errorf("track prefix '%s' is already in use", t.Prefix)
		}
	}

	err := t.Codec.Validate()
	if err != nil {
		return 0, err
	}

	t.ID = len(p.tracks) + 1
	t.buf = p.newBuffer()

	init := &fmp4.Init{Tracks: []*fmp4.InitTrack{t.initTrack()}}

	p.out.Reset()
	err = init.Marshal(p.out)
	if err != nil {
		return 0, err
	}

	name := t.Prefix + "-init.mp4"

	err = p.Sink.OnFragment(&Delivery{
		Kind:    DeliveryInit,
		TrackID: t.ID,
		Payload: append([]byte(nil), p.out.Bytes()...),
		Name:    name,
	})
	if err != nil {
		return 0, &DeliveryError{TrackID: t.ID, Name: name, Err: err}
	}

	p.mutex.Lock()
	p.tracks = append(p.tracks, t)
	p.mutex.Unlock()

	p.Log(logger.Info, "added track %d (%s)", t.ID, t.Prefix)

	return t.ID, nil
}

// Track returns a track by ID.
func (p *Presentation) Track(id int) (*Track, error) {
	if id < 1 || id > len(p.tracks) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTrack, id)
	}
	return p.tracks[id-1], nil
}

// Input feeds a sample of a track.
// A nil sample, or a sample with a nil payload, cuts the open fragment.
//
// When the cut that precedes a sample fails, the sample still opens
// the next fragment and the error of the cut is returned.
func (p *Presentation) Input(trackID int, s *Sample) error {
	if p.closed {
		return ErrClosed
	}

	track, err := p.Track(trackID)
	if err != nil {
		return err
	}

	if s == nil {
		s = &Sample{}
	}

	if s.Payload != nil && len(s.Payload) == 0 {
		return fmt.Errorf("track %d: empty payload", trackID)
	}

	if track.awaitKeyframe && !s.IsEndOfInput() && !s.IsKeyframe() {
		return fmt.Errorf("track %d: %w", trackID, ErrKeyframeRequired)
	}

	var cutErr error

	switch p.cutReason(track, s) {
	case cutReasonEndOfInput:
		return p.cut(nil, nil)

	case cutReasonKeyframe, cutReasonTargetDuration:
		cutErr = p.cut(track, s)
	}

	if !p.hasPending() {
		p.fragmentStart = s.DTS
	}

	err = track.append(s, p.nextOffset)
	if err != nil {
		p.drop()
		if cutErr != nil {
			return cutErr
		}
		return err
	}

	p.nextOffset += len(s.Payload)

	if track.IsVideo() && s.IsKeyframe() {
		track.awaitKeyframe = false
	}

	return cutErr
}

// CombinedInit returns an initialization segment that contains all tracks.
func (p *Presentation) CombinedInit() ([]byte, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return p.combinedInit()
}

func (p *Presentation) combinedInit() ([]byte, error) {
	if len(p.tracks) == 0 {
		return nil, fmt.Errorf("presentation has no tracks")
	}

	init := &fmp4.Init{
		Tracks: make([]*fmp4.InitTrack, len(p.tracks)),
	}
	for i, t := range p.tracks {
		init.Tracks[i] = t.initTrack()
	}

	var buf segmentbuffer.Buffer
	err := init.Marshal(&buf)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Close flushes the open fragment and, in on-demand mode, delivers the random access index.
func (p *Presentation) Close() error {
	if p.closed {
		return nil
	}

	err := p.cut(nil, nil)

	p.mutex.Lock()
	p.closed = true
	p.mutex.Unlock()

	if err != nil {
		p.Log(logger.Warn, "final cut failed: %v", err)
		return err
	}

	if p.Mode == ModeOnDemand && p.mediaBytes != 0 {
		err = p.deliverIndex()
		if err != nil {
			p.Log(logger.Warn, "index delivery failed: %v", err)
			return err
		}
	}

	p.Log(logger.Debug, "closed")

	return nil
}

func (p *Presentation) deliverIndex() error {
	init, err := p.CombinedInit()
	if err != nil {
		return err
	}

	idx := &fmp4.Index{}
	for _, t := range p.tracks {
		if len(t.index) == 0 {
			continue
		}

		it := &fmp4.IndexTrack{
			ID:      t.ID,
			Entries: make([]fmp4.IndexEntry, len(t.index)),
		}
		for i, e := range t.index {
			it.Entries[i] = fmp4.IndexEntry{
				Time:       e.Time,
				MoofOffset: uint64(len(init)) + e.MoofOffset,
			}
		}
		idx.Tracks = append(idx.Tracks, it)
	}

	p.out.Reset()
	err = idx.Marshal(p.out)
	if err != nil {
		return err
	}

	name := p.Name + "-index.mfra"

	err = p.Sink.OnFragment(&Delivery{
		Kind:     DeliveryIndex,
		Payload:  append([]byte(nil), p.out.Bytes()...),
		Duration: p.publishedDuration,
		Name:     name,
	})
	if err != nil {
		return &DeliveryError{Name: name, Err: err}
	}

	return nil
}
