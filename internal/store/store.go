// Package store contains an in-memory storage of deliveries.
package store

import (
	"errors"
	"sync"
	"time"

	"github.com/bluenviron/livefmp4/internal/logger"
	"github.com/bluenviron/livefmp4/internal/segmenter"
)

const defaultRetention = 10

// ErrNotFound is returned when a file is not present.
var ErrNotFound = errors.New("file not found")

// File is a stored delivery.
type File struct {
	Name    string
	Kind    segmenter.DeliveryKind
	Payload []byte
	ModTime time.Time
}

// Store keeps deliveries in memory and serves them by name.
// Init segments and indexes are kept until Close.
// Only the newest Retention media fragments are kept, in order to allow
// clients that downloaded an older manifest to fetch fragments that are
// no longer advertised.
type Store struct {
	Retention int
	Parent    logger.Writer

	timeNow func() time.Time

	mutex      sync.RWMutex
	files      map[string]*File
	media      []string
	evictCount uint64
}

// Initialize initializes a Store.
func (s *Store) Initialize() error {
	if s.Retention < 0 {
		return errors.New("invalid retention")
	}
	if s.Retention == 0 {
		s.Retention = defaultRetention
	}
	if s.timeNow == nil {
		s.timeNow = time.Now
	}

	s.files = make(map[string]*File)

	return nil
}

// Close releases all stored files.
func (s *Store) Close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.files = make(map[string]*File)
	s.media = nil
}

// Log implements logger.Writer.
func (s *Store) Log(level logger.Level, format string, args ...interface{}) {
	if s.Parent != nil {
		s.Parent.Log(level, "[store] "+format, args...)
	}
}

// OnFragment implements segmenter.Sink.
func (s *Store) OnFragment(d *segmenter.Delivery) error {
	if d.Name == "" {
		return errors.New("delivery has no name")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, existing := s.files[d.Name]

	s.files[d.Name] = &File{
		Name:    d.Name,
		Kind:    d.Kind,
		Payload: d.Payload,
		ModTime: s.timeNow(),
	}

	if d.Kind != segmenter.DeliveryMedia || existing {
		s.Log(logger.Debug, "stored %s '%s' (%d bytes)", d.Kind, d.Name, len(d.Payload))
		return nil
	}

	s.media = append(s.media, d.Name)

	if len(s.media) > s.Retention {
		n := len(s.media) - s.Retention
		for _, name := range s.media[:n] {
			delete(s.files, name)
			s.Log(logger.Debug, "evicted '%s'", name)
		}
		s.media = append([]string(nil), s.media[n:]...)
		s.evictCount += uint64(n)
	}

	return nil
}

// Get returns a stored file.
func (s *Store) Get(name string) (*File, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	f, ok := s.files[name]
	if !ok {
		return nil, ErrNotFound
	}
	return f, nil
}

// MediaNames returns names of stored media fragments, from the oldest to the newest.
func (s *Store) MediaNames() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return append([]string(nil), s.media...)
}

// EvictCount returns the number of media fragments removed so far.
func (s *Store) EvictCount() uint64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.evictCount
}
