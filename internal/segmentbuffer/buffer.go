// Package segmentbuffer contains a seekable, capacity-bounded byte buffer.
package segmentbuffer

import (
	"errors"
	"fmt"
	"io"
)

const (
	// DefaultCapacity is the default hard ceiling of a Buffer.
	DefaultCapacity = 100 * 1024 * 1024

	// DefaultGrowStep is the default growth increment of a Buffer.
	DefaultGrowStep = 1024 * 1024
)

var (
	// ErrCapacityExceeded is returned when an operation would exceed the buffer capacity.
	ErrCapacityExceeded = errors.New("segment buffer capacity exceeded")

	// ErrOutOfRange is returned when an operation falls outside the written region.
	ErrOutOfRange = errors.New("segment buffer position out of range")
)

// Buffer is a growable byte buffer with a hard ceiling.
// It keeps a read/write position and a high-water mark, which is the
// number of bytes that have been written so far.
//
// Buffer implements io.ReadWriteSeeker.
type Buffer struct {
	// maximum size.
	// It defaults to DefaultCapacity.
	Capacity int

	// growth increment.
	// It defaults to DefaultGrowStep.
	GrowStep int

	storage []byte
	pos     int
	length  int
}

func (b *Buffer) capacity() int {
	if b.Capacity <= 0 {
		return DefaultCapacity
	}
	return b.Capacity
}

func (b *Buffer) growStep() int {
	if b.GrowStep <= 0 {
		return DefaultGrowStep
	}
	return b.GrowStep
}

func (b *Buffer) grow(required int) {
	if required <= len(b.storage) {
		return
	}

	step := b.growStep()
	newSize := ((required + step - 1) / step) * step
	if c := b.capacity(); newSize > c {
		newSize = c
	}

	storage := make([]byte, newSize)
	copy(storage, b.storage[:b.length])
	b.storage = storage
}

// Write implements io.Writer.
// Writes are all-or-nothing: if the data does not fit, nothing is written.
func (b *Buffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > b.capacity() {
		return 0, fmt.Errorf("%w: writing %d bytes at %d, capacity is %d",
			ErrCapacityExceeded, len(p), b.pos, b.capacity())
	}

	b.grow(end)

	// bytes skipped by a forward seek read as zeros
	if b.pos > b.length {
		clear(b.storage[b.length:b.pos])
	}

	copy(b.storage[b.pos:], p)
	b.pos = end

	if b.pos > b.length {
		b.length = b.pos
	}

	return len(p), nil
}

// Read implements io.Reader.
// Reads never return less than requested: reading past the high-water mark fails
// with ErrOutOfRange. At the high-water mark, the error also wraps io.EOF.
func (b *Buffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if b.pos >= b.length {
		return 0, fmt.Errorf("%w: reading at %d, length is %d: %w",
			ErrOutOfRange, b.pos, b.length, io.EOF)
	}

	end := b.pos + len(p)
	if end > b.length {
		return 0, fmt.Errorf("%w: reading %d bytes at %d, length is %d",
			ErrOutOfRange, len(p), b.pos, b.length)
	}

	copy(p, b.storage[b.pos:end])
	b.pos = end
	return len(p), nil
}

// Seek implements io.Seeker.
func (b *Buffer) Seek(offset int64, whence int) (int64, error) {
	var base int64

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(b.pos)
	case io.SeekEnd:
		base = int64(b.length)
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}

	target := base + offset
	if target < 0 {
		return 0, fmt.Errorf("%w: seeking to %d", ErrOutOfRange, target)
	}
	if target >= int64(b.capacity()) {
		return 0, fmt.Errorf("%w: seeking to %d, capacity is %d",
			ErrCapacityExceeded, target, b.capacity())
	}

	b.pos = int(target)
	return target, nil
}

// Tell returns the current position.
func (b *Buffer) Tell() int {
	return b.pos
}

// Len returns the high-water mark.
func (b *Buffer) Len() int {
	return b.length
}

// Bytes returns the written region.
// The slice is valid until the next call to Write or Reset.
func (b *Buffer) Bytes() []byte {
	return b.storage[:b.length]
}

// ReadRange returns a copy of n bytes starting at off.
func (b *Buffer) ReadRange(off int, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+n > b.length {
		return nil, fmt.Errorf("%w: range [%d, %d), length is %d",
			ErrOutOfRange, off, off+n, b.length)
	}

	ret := make([]byte, n)
	copy(ret, b.storage[off:off+n])
	return ret, nil
}

// WriteTo implements io.WriterTo.
// It writes the region between the current position and the high-water mark.
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	if b.pos >= b.length {
		return 0, nil
	}

	n, err := w.Write(b.storage[b.pos:b.length])
	b.pos += n
	return int64(n), err
}

// Reset repositions to zero and clears the high-water mark.
// Allocated storage is kept.
func (b *Buffer) Reset() {
	b.pos = 0
	b.length = 0
}
