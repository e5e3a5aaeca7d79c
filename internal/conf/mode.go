package conf

import (
	"encoding/json"
	"fmt"

	"github.com/bluenviron/livefmp4/internal/segmenter"
)

// Mode is the mode parameter.
type Mode segmenter.Mode

// MarshalJSON implements json.Marshaler.
func (m Mode) MarshalJSON() ([]byte, error) {
	switch segmenter.Mode(m) {
	case segmenter.ModeLive, segmenter.ModeOnDemand:
		return json.Marshal(segmenter.Mode(m).String())
	}
	return nil, fmt.Errorf("invalid mode: %v", int(m))
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Mode) UnmarshalJSON(b []byte) error {
	var in string
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	switch in {
	case "live":
		*m = Mode(segmenter.ModeLive)

	case "ondemand":
		*m = Mode(segmenter.ModeOnDemand)

	default:
		return fmt.Errorf("invalid mode: '%s'", in)
	}

	return nil
}

// UnmarshalEnv implements env.Unmarshaler.
func (m *Mode) UnmarshalEnv(_ string, v string) error {
	return m.UnmarshalJSON([]byte(`"` + v + `"`))
}
