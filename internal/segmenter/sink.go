package segmenter

import (
	"time"
)

// DeliveryKind is the kind of a delivery.
type DeliveryKind int

// delivery kinds.
const (
	DeliveryInit DeliveryKind = iota
	DeliveryMedia
	DeliveryIndex
)

// String implements fmt.Stringer.
func (k DeliveryKind) String() string {
	switch k {
	case DeliveryInit:
		return "init"
	case DeliveryMedia:
		return "media"
	case DeliveryIndex:
		return "index"
	}
	return "unknown"
}

// Delivery is a piece of output handed to a Sink.
type Delivery struct {
	Kind DeliveryKind

	// track that owns the delivery.
	// For media fragments this is the leading track of the fragment.
	TrackID int

	Payload  []byte
	PTS      time.Duration
	DTS      time.Duration
	Duration time.Duration

	// suggested file name.
	Name string
}

// Sink receives deliveries.
// Payload is owned by the Sink after OnFragment is called.
type Sink interface {
	OnFragment(*Delivery) error
}

// SinkFunc is a function that implements Sink.
type SinkFunc func(*Delivery) error

// OnFragment implements Sink.
func (f SinkFunc) OnFragment(d *Delivery) error {
	return f(d)
}
