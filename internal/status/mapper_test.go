package status

import (
	"errors"
	"testing"
)

func TestMapCSV(t *testing.T) {
	got, err := MapCSV("comp1", "1,15.65,939,2,300.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Status{Composition: "comp1", State: Playing, Time: 15.65, Frame: 939, ClipIndex: 2, Duration: 300.0}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestMapCSVStates(t *testing.T) {
	cases := []struct {
		line string
		want State
	}{
		{"0,0.0,0,-1,120.0", Stopped},
		{"1,3.2,80,1,60.0", Playing},
		{"2,3.2,80,1,60.0", Paused},
	}
	for _, tc := range cases {
		got, err := MapCSV("comp1", tc.line)
		if err != nil {
			t.Fatalf("map %q: %v", tc.line, err)
		}
		if got.State != tc.want {
			t.Fatalf("map %q: got state %q, want %q", tc.line, got.State, tc.want)
		}
	}
}

func TestMapCSVUnknownStateFailsClosed(t *testing.T) {
	for _, code := range []string{"3", "9", "-1", "42"} {
		_, err := MapCSV("comp1", code+",0.0,0,-1,0.0")
		if !errors.Is(err, ErrUnknownStateCode) {
			t.Fatalf("state %s: expected ErrUnknownStateCode, got %v", code, err)
		}
	}
}

func TestMapCSVWhitespaceTolerant(t *testing.T) {
	got, err := MapCSV("comp1", " 1 , 15.65 , 939 , 2 , 300.0 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.State != Playing || got.Frame != 939 {
		t.Fatalf("unexpected status: %+v", got)
	}
}

func TestMapCSVMalformed(t *testing.T) {
	cases := []string{
		"1,15.65,939,2",           // too few fields
		"1,15.65,939,2,300.0,7",   // too many fields
		"x,15.65,939,2,300.0",     // state not an integer
		"1,abc,939,2,300.0",       // time not a number
		"1,15.65,9.5,2,300.0",     // frame not an integer
		"1,15.65,939,two,300.0",   // clip index not an integer
		"1,15.65,939,2,",          // empty duration
		"",                        // empty line
	}
	for _, line := range cases {
		if _, err := MapCSV("comp1", line); !errors.Is(err, ErrMalformedField) {
			t.Fatalf("map %q: expected ErrMalformedField, got %v", line, err)
		}
	}
}

func TestMapOSC(t *testing.T) {
	got, err := MapOSC("/exaplay/status/comp1", []interface{}{int32(0), float32(0.0), int32(0), int32(-1), float32(0.0)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Status{Composition: "comp1", State: Stopped, Time: 0, Frame: 0, ClipIndex: -1, Duration: 0}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestMapOSCWidenedArguments(t *testing.T) {
	got, err := MapOSC("/exaplay/status/comp2", []interface{}{int64(1), 42.5, 80, int64(2), 120})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.State != Playing || got.Time != 42.5 || got.ClipIndex != 2 || got.Duration != 120 {
		t.Fatalf("unexpected status: %+v", got)
	}
}

func TestMapOSCRejects(t *testing.T) {
	fullArgs := []interface{}{int32(0), float32(0), int32(0), int32(-1), float32(0)}

	if _, err := MapOSC("/exaplay/cuetime/comp1", fullArgs); !errors.Is(err, ErrUnmappedAddress) {
		t.Fatalf("expected ErrUnmappedAddress for cuetime leaf, got %v", err)
	}
	if _, err := MapOSC("/exaplay/status", fullArgs); !errors.Is(err, ErrUnmappedAddress) {
		t.Fatalf("expected ErrUnmappedAddress for missing composition, got %v", err)
	}
	if _, err := MapOSC("/exaplay/status/comp1", fullArgs[:3]); !errors.Is(err, ErrMalformedField) {
		t.Fatalf("expected ErrMalformedField for short args, got %v", err)
	}
	if _, err := MapOSC("/exaplay/status/comp1", []interface{}{int32(7), float32(0), int32(0), int32(-1), float32(0)}); !errors.Is(err, ErrUnknownStateCode) {
		t.Fatalf("expected ErrUnknownStateCode, got %v", err)
	}
	if _, err := MapOSC("/exaplay/status/comp1", []interface{}{"playing", float32(0), int32(0), int32(-1), float32(0)}); !errors.Is(err, ErrMalformedField) {
		t.Fatalf("expected ErrMalformedField for string state, got %v", err)
	}
	if _, err := MapOSC("/exaplay/status/comp1", []interface{}{int32(1), float32(0), 3.7, int32(-1), float32(0)}); !errors.Is(err, ErrMalformedField) {
		t.Fatalf("expected ErrMalformedField for fractional frame, got %v", err)
	}
}
