package wire

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// AckReply is the device acknowledgement for transport and set commands.
const AckReply = "OK"

// Reply is one undecoded response line tagged with its arrival time.
// Shape-specific parsing happens at the caller, so transport retries
// never depend on what a reply means.
type Reply struct {
	Line string
	At   time.Time
}

// DecodeReply validates the framing-stripped response line. Replies the
// device flags with ERR come back with ErrDeviceError and must not be
// retried; undecodable lines come back with ErrMalformedResponse.
func DecodeReply(line []byte, at time.Time) (Reply, error) {
	text := strings.TrimRight(string(line), "\r\n")
	if !utf8.ValidString(text) {
		return Reply{}, fmt.Errorf("%w: response is not valid UTF-8", ErrMalformedResponse)
	}
	reply := Reply{Line: text, At: at}
	if strings.HasPrefix(text, "ERR") {
		return reply, fmt.Errorf("%w: %s", ErrDeviceError, text)
	}
	return reply, nil
}

// ParseVersion extracts the bare version from a get:ver reply, tolerating
// "Version:" style prefixes some firmware revisions prepend.
func ParseVersion(r Reply) (string, error) {
	cleaned := strings.TrimSpace(r.Line)
	for _, prefix := range []string{"version:", "ver:"} {
		if len(cleaned) >= len(prefix) && strings.EqualFold(cleaned[:len(prefix)], prefix) {
			cleaned = strings.TrimSpace(cleaned[len(prefix):])
			break
		}
	}
	if cleaned == "" {
		return "", fmt.Errorf("%w: empty version reply", ErrMalformedResponse)
	}
	return cleaned, nil
}

// ParseVolume extracts the 0..100 volume value from a get:vol reply.
// Some firmware revisions prefix the value with a label, so only the
// last colon-separated segment is parsed.
func ParseVolume(r Reply) (int, error) {
	text := r.Line
	if i := strings.LastIndexByte(text, ':'); i >= 0 {
		text = text[i+1:]
	}
	value, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, fmt.Errorf("%w: volume reply %q is not an integer", ErrMalformedResponse, r.Line)
	}
	if value < 0 || value > 100 {
		return 0, fmt.Errorf("%w: volume %d outside 0..100", ErrMalformedResponse, value)
	}
	return value, nil
}
