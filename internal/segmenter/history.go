package segmenter

import (
	"time"
)

// FragmentRecord describes a published fragment.
type FragmentRecord struct {
	// decode time of the first sample.
	Start time.Duration

	// sum of sample durations.
	// It includes the duration of the last sample, that is the distance
	// between its decode time and the decode time of the next fragment.
	Duration time.Duration

	Name     string
	Size     int
	Sequence uint32
}

// appendRecord appends a record and trims the list to window entries.
// window <= 0 disables trimming.
// It returns the trimmed list and the number of dropped records.
func appendRecord(records []FragmentRecord, rec FragmentRecord, window int) ([]FragmentRecord, int) {
	records = append(records, rec)

	if window <= 0 || len(records) <= window {
		return records, 0
	}

	dropped := len(records) - window

	return append([]FragmentRecord(nil), records[dropped:]...), dropped
}
