package status

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MapCSV decodes a get:status reply line, the 5-field CSV
// state,time,frame,clipIndex,duration. Fields tolerate surrounding
// whitespace; anything else fails closed.
func MapCSV(composition, line string) (Status, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 5 {
		return Status{}, fmt.Errorf("%w: expected 5 fields, got %d", ErrMalformedField, len(parts))
	}

	code, err := fieldInt(parts[0], "state")
	if err != nil {
		return Status{}, err
	}
	state, err := FromCode(code)
	if err != nil {
		return Status{}, err
	}
	seconds, err := fieldFloat(parts[1], "time")
	if err != nil {
		return Status{}, err
	}
	frame, err := fieldInt(parts[2], "frame")
	if err != nil {
		return Status{}, err
	}
	clipIndex, err := fieldInt(parts[3], "clipIndex")
	if err != nil {
		return Status{}, err
	}
	duration, err := fieldFloat(parts[4], "duration")
	if err != nil {
		return Status{}, err
	}

	return Status{
		Composition: composition,
		State:       state,
		Time:        seconds,
		Frame:       frame,
		ClipIndex:   clipIndex,
		Duration:    duration,
	}, nil
}

// MapOSC decodes a pushed status message. The composition is keyed by
// the address /{prefix}/status/{composition}; the arguments carry the
// same five fields as the CSV form. Addresses for other leaf types
// (cuetime, cueframe) carry no state and are not mapped.
func MapOSC(address string, args []interface{}) (Status, error) {
	segments := strings.Split(strings.Trim(address, "/"), "/")
	if len(segments) != 3 || segments[1] != "status" || segments[2] == "" {
		return Status{}, fmt.Errorf("%w: %s", ErrUnmappedAddress, address)
	}
	if len(args) != 5 {
		return Status{}, fmt.Errorf("%w: expected 5 arguments, got %d", ErrMalformedField, len(args))
	}

	code, err := argInt(args[0], "state")
	if err != nil {
		return Status{}, err
	}
	state, err := FromCode(code)
	if err != nil {
		return Status{}, err
	}
	seconds, err := argFloat(args[1], "time")
	if err != nil {
		return Status{}, err
	}
	frame, err := argInt(args[2], "frame")
	if err != nil {
		return Status{}, err
	}
	clipIndex, err := argInt(args[3], "clipIndex")
	if err != nil {
		return Status{}, err
	}
	duration, err := argFloat(args[4], "duration")
	if err != nil {
		return Status{}, err
	}

	return Status{
		Composition: segments[2],
		State:       state,
		Time:        seconds,
		Frame:       frame,
		ClipIndex:   clipIndex,
		Duration:    duration,
	}, nil
}

func fieldInt(raw, field string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not an integer", ErrMalformedField, field, strings.TrimSpace(raw))
	}
	return value, nil
}

func fieldFloat(raw, field string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: %s %q is not a number", ErrMalformedField, field, strings.TrimSpace(raw))
	}
	return value, nil
}

// OSC libraries surface int32/float32 arguments; some senders widen
// them. Integer fields accept floats only when they carry an integral
// value.
func argInt(arg interface{}, field string) (int, error) {
	switch v := arg.(type) {
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case int:
		return v, nil
	case float32:
		if float64(v) == math.Trunc(float64(v)) {
			return int(v), nil
		}
	case float64:
		if v == math.Trunc(v) {
			return int(v), nil
		}
	}
	return 0, fmt.Errorf("%w: %s %v is not an integer", ErrMalformedField, field, arg)
}

func argFloat(arg interface{}, field string) (float64, error) {
	switch v := arg.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	}
	return 0, fmt.Errorf("%w: %s %v is not a number", ErrMalformedField, field, arg)
}
