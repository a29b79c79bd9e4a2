package policy

import (
	"fmt"
	"strings"
)

// Mode indicates whether a filter lets alerts through when evaluation fails.
type Mode string

const (
	// ModeFailOpen delivers the alert when the filter errors.
	ModeFailOpen Mode = "fail-open"
	// ModeFailClosed drops the alert when the filter errors.
	ModeFailClosed Mode = "fail-closed"
)

// DefaultMode is applied when an endpoint does not name a posture.
const DefaultMode = ModeFailOpen

// ParseMode converts a textual representation into a Mode constant. An empty
// value selects DefaultMode.
func ParseMode(value string) (Mode, error) {
	mode := Mode(strings.TrimSpace(strings.ToLower(value)))
	if mode == "" {
		return DefaultMode, nil
	}
	if !mode.IsValid() {
		return "", fmt.Errorf("invalid failure posture %q", value)
	}
	return mode, nil
}

// IsValid reports whether the mode is recognised.
func (m Mode) IsValid() bool {
	switch m {
	case ModeFailClosed, ModeFailOpen:
		return true
	default:
		return false
	}
}
