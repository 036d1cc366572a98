// Package status defines the canonical playback status record and the
// pure mappers that produce it from the two device-side encodings, the
// CSV get:status reply and the OSC push feed. Consumers never learn
// which producer a record came from.
package status

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownStateCode is returned for state codes outside 0..2.
	// Unknown codes are never guessed into a valid state.
	ErrUnknownStateCode = errors.New("unknown state code")
	// ErrMalformedField is returned when a status field does not parse.
	ErrMalformedField = errors.New("malformed status field")
	// ErrUnmappedAddress is returned for OSC addresses that do not carry
	// a full status payload.
	ErrUnmappedAddress = errors.New("unmapped osc address")
)

type State string

const (
	Stopped State = "stopped"
	Playing State = "playing"
	Paused  State = "paused"
)

// FromCode maps the device state code to its canonical state. 0, 1 and 2
// are the only codes the protocol defines.
func FromCode(code int) (State, error) {
	switch code {
	case 0:
		return Stopped, nil
	case 1:
		return Playing, nil
	case 2:
		return Paused, nil
	default:
		return "", fmt.Errorf("%w: %d", ErrUnknownStateCode, code)
	}
}

// Status is one canonical playback observation. ClipIndex is 1-based for
// cuelist compositions and -1 for timeline compositions.
type Status struct {
	Composition string  `json:"composition"`
	State       State   `json:"state"`
	Time        float64 `json:"time"`
	Frame       int     `json:"frame"`
	ClipIndex   int     `json:"clipIndex"`
	Duration    float64 `json:"duration"`
}
