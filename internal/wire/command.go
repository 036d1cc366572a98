// Package wire implements the line-based ExaPlay control protocol:
// comma-separated ASCII commands terminated by CR, single-line replies
// terminated by CRLF.
package wire

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

var (
	// ErrInvalidCommand marks commands rejected before any I/O.
	ErrInvalidCommand = errors.New("invalid command")
	// ErrMalformedResponse marks device replies that do not parse.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrDeviceError marks replies the device itself flagged with ERR.
	ErrDeviceError = errors.New("device error")
)

type Verb string

const (
	VerbPlay       Verb = "play"
	VerbPause      Verb = "pause"
	VerbStop       Verb = "stop"
	VerbSetCueTime Verb = "set:cuetime"
	VerbSetCue     Verb = "set:cue"
	VerbSetVolume  Verb = "set:vol"
	VerbGetVolume  Verb = "get:vol"
	VerbGetStatus  Verb = "get:status"
	VerbGetVersion Verb = "get:ver"
)

// Command is one control message addressed to the device. Commands are
// built through the typed constructors, which validate parameters before
// anything reaches the session queue.
type Command struct {
	Verb        Verb
	Composition string
	args        []string
	raw         string
}

func Play(composition string) Command {
	return Command{Verb: VerbPlay, Composition: composition}
}

func Pause(composition string) Command {
	return Command{Verb: VerbPause, Composition: composition}
}

func Stop(composition string) Command {
	return Command{Verb: VerbStop, Composition: composition}
}

// SetCueTime seeks the composition to an absolute time in seconds.
func SetCueTime(composition string, seconds float64) Command {
	return Command{
		Verb:        VerbSetCueTime,
		Composition: composition,
		args:        []string{formatSeconds(seconds)},
	}
}

// SetCue jumps to a cue by 1-based index.
func SetCue(composition string, index int) Command {
	return Command{
		Verb:        VerbSetCue,
		Composition: composition,
		args:        []string{strconv.Itoa(index)},
	}
}

// SetVolume sets the composition volume as a 0..100 percentage.
func SetVolume(composition string, percent int) Command {
	return Command{
		Verb:        VerbSetVolume,
		Composition: composition,
		args:        []string{strconv.Itoa(percent)},
	}
}

func GetVolume(composition string) Command {
	return Command{Verb: VerbGetVolume, Composition: composition}
}

func GetStatus(composition string) Command {
	return Command{Verb: VerbGetStatus, Composition: composition}
}

// GetVersion targets the device rather than a composition.
func GetVersion() Command {
	return Command{Verb: VerbGetVersion}
}

// Raw wraps an operator-supplied line for passthrough. The line is sent
// verbatim apart from framing; only line discipline is enforced.
func Raw(line string) Command {
	return Command{raw: strings.TrimSpace(line)}
}

// IsRaw reports whether the command bypasses the typed constructors.
func (c Command) IsRaw() bool {
	return c.raw != ""
}

// String renders the unframed wire line, for logs and reply envelopes.
func (c Command) String() string {
	if c.raw != "" {
		return c.raw
	}
	parts := []string{string(c.Verb)}
	if c.Composition != "" {
		parts = append(parts, c.Composition)
	}
	parts = append(parts, c.args...)
	return strings.Join(parts, ",")
}

// Encode frames the command for the device: the rendered line plus a
// trailing CR. Validation runs first so a bad command never produces
// bytes.
func (c Command) Encode() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return append([]byte(c.String()), '\r'), nil
}

// Validate checks the command shape and parameter ranges without side
// effects. Raw commands are checked for line discipline only.
func (c Command) Validate() error {
	if c.raw != "" {
		if strings.ContainsAny(c.raw, "\r\n") {
			return fmt.Errorf("%w: raw command must be a single line", ErrInvalidCommand)
		}
		for _, r := range c.raw {
			if unicode.IsControl(r) {
				return fmt.Errorf("%w: raw command contains control characters", ErrInvalidCommand)
			}
		}
		return nil
	}

	switch c.Verb {
	case VerbGetVersion:
		if c.Composition != "" || len(c.args) != 0 {
			return fmt.Errorf("%w: %s takes no arguments", ErrInvalidCommand, c.Verb)
		}
		return nil
	case VerbPlay, VerbPause, VerbStop, VerbGetVolume, VerbGetStatus:
		if len(c.args) != 0 {
			return fmt.Errorf("%w: %s takes no parameters", ErrInvalidCommand, c.Verb)
		}
		return validateComposition(c.Composition)
	case VerbSetCueTime:
		if err := validateComposition(c.Composition); err != nil {
			return err
		}
		if len(c.args) != 1 {
			return fmt.Errorf("%w: %s requires one parameter", ErrInvalidCommand, c.Verb)
		}
		seconds, err := strconv.ParseFloat(c.args[0], 64)
		if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
			return fmt.Errorf("%w: cuetime %q is not a finite number", ErrInvalidCommand, c.args[0])
		}
		if seconds < 0 {
			return fmt.Errorf("%w: cuetime must be >= 0, got %s", ErrInvalidCommand, c.args[0])
		}
		return nil
	case VerbSetCue:
		if err := validateComposition(c.Composition); err != nil {
			return err
		}
		if len(c.args) != 1 {
			return fmt.Errorf("%w: %s requires one parameter", ErrInvalidCommand, c.Verb)
		}
		index, err := strconv.Atoi(c.args[0])
		if err != nil {
			return fmt.Errorf("%w: cue index %q is not an integer", ErrInvalidCommand, c.args[0])
		}
		if index < 1 {
			return fmt.Errorf("%w: cue index must be >= 1, got %d", ErrInvalidCommand, index)
		}
		return nil
	case VerbSetVolume:
		if err := validateComposition(c.Composition); err != nil {
			return err
		}
		if len(c.args) != 1 {
			return fmt.Errorf("%w: %s requires one parameter", ErrInvalidCommand, c.Verb)
		}
		percent, err := strconv.Atoi(c.args[0])
		if err != nil {
			return fmt.Errorf("%w: volume %q is not an integer", ErrInvalidCommand, c.args[0])
		}
		if percent < 0 || percent > 100 {
			return fmt.Errorf("%w: volume must be within 0..100, got %d", ErrInvalidCommand, percent)
		}
		return nil
	case "":
		return fmt.Errorf("%w: empty command", ErrInvalidCommand)
	default:
		return fmt.Errorf("%w: unknown verb %q", ErrInvalidCommand, c.Verb)
	}
}

// ParseCommand decodes a framed or unframed command line back into a
// Command. Canonical commands round-trip through Encode and ParseCommand
// unchanged.
func ParseCommand(line []byte) (Command, error) {
	text := strings.TrimRight(string(line), "\r\n")
	if text == "" {
		return Command{}, fmt.Errorf("%w: empty command", ErrInvalidCommand)
	}
	parts := strings.Split(text, ",")
	cmd := Command{Verb: Verb(parts[0])}
	if len(parts) > 1 {
		cmd.Composition = parts[1]
	}
	if len(parts) > 2 {
		cmd.args = parts[2:]
	}
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

func validateComposition(name string) error {
	if name == "" {
		return fmt.Errorf("%w: composition name must not be empty", ErrInvalidCommand)
	}
	if strings.ContainsRune(name, ',') {
		return fmt.Errorf("%w: composition name must not contain commas", ErrInvalidCommand)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: composition name contains control characters", ErrInvalidCommand)
		}
	}
	return nil
}

func formatSeconds(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', -1, 64)
}
