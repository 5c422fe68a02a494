package lights

import (
	"errors"
	"fmt"
	"strings"
)

// Request is the wire form of a light change used by tool calls and action
// blocks.
type Request struct {
	TargetType string `json:"targetType"`
	TargetID   string `json:"targetId"`
	TargetName string `json:"targetName"`
	State      string `json:"state"` // "on", "off" or empty
	Brightness *int   `json:"brightness"`
	Color      string `json:"color"`
}

// Command validates r and converts it to a controller command. Brightness
// is clamped to 0..100.
func (r Request) Command() (Command, error) {
	if r.TargetID == "" && strings.TrimSpace(r.TargetName) == "" {
		return Command{}, errors.New("targetId or targetName is required")
	}
	var st State
	switch strings.ToLower(strings.TrimSpace(r.State)) {
	case "on":
		on := true
		st.On = &on
	case "off":
		off := false
		st.On = &off
	case "":
	default:
		return Command{}, fmt.Errorf("state must be on or off, got %q", r.State)
	}
	if r.Brightness != nil {
		b := min(max(*r.Brightness, 0), 100)
		st.Brightness = &b
	}
	st.Color = strings.TrimSpace(r.Color)
	if st.On == nil && st.Brightness == nil && st.Color == "" {
		return Command{}, errors.New("nothing to change")
	}
	return Command{
		TargetType: strings.ToLower(r.TargetType),
		TargetID:   r.TargetID,
		TargetName: r.TargetName,
		State:      st,
	}, nil
}
