package segmenter

// Mode is a delivery mode.
type Mode int

// delivery modes.
const (
	// ModeLive publishes fragments as they are cut and advertises
	// a bounded window of them.
	ModeLive Mode = iota

	// ModeOnDemand advertises every fragment and writes a random
	// access index when the presentation is closed.
	ModeOnDemand
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModeOnDemand:
		return "ondemand"
	}
	return "unknown"
}
