package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/showctl/exabridge/internal/journal"
	"github.com/showctl/exabridge/internal/session"
	"github.com/showctl/exabridge/internal/status"
	"github.com/showctl/exabridge/internal/wire"
)

const maxBodyBytes = 64 << 10

// GenericReply echoes the wire line that was sent and the device's
// verbatim answer.
type GenericReply struct {
	Sent  string `json:"sent"`
	Reply string `json:"reply"`
}

type VersionResponse struct {
	ExaplayVersion string `json:"exaplayVersion"`
}

type VolumeResponse struct {
	Value int `json:"value"`
}

type CueTimeRequest struct {
	Seconds float64 `json:"seconds"`
}

type CueRequest struct {
	Index int `json:"index"`
}

type VolumeRequest struct {
	Value int `json:"value"`
}

type CommandRequest struct {
	Raw string `json:"raw"`
}

// ErrorResponse is the uniform error envelope. Command is the wire
// line that failed, when one was involved.
type ErrorResponse struct {
	Error   string `json:"error"`
	Command string `json:"command,omitempty"`
	TraceID string `json:"traceId"`
}

func (s *Service) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil && !s.deps.Ready() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Service) handleVersion(w http.ResponseWriter, r *http.Request) {
	cmd := wire.GetVersion()
	reply, ok := s.submit(w, r, cmd)
	if !ok {
		return
	}
	version, err := wire.ParseVersion(reply)
	if err != nil {
		s.writeError(w, r, err, cmd.String())
		return
	}
	s.writeJSON(w, http.StatusOK, VersionResponse{ExaplayVersion: version})
}

func (s *Service) handleConnection(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Device.Stats())
}

// handleTransport serves play, pause and stop, which differ only in
// the command they build.
func (s *Service) handleTransport(build func(string) wire.Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.ack(w, r, build(chi.URLParam(r, "name")))
	}
}

func (s *Service) handleCueTime(w http.ResponseWriter, r *http.Request) {
	var req CueTimeRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.ack(w, r, wire.SetCueTime(chi.URLParam(r, "name"), req.Seconds))
}

func (s *Service) handleCue(w http.ResponseWriter, r *http.Request) {
	var req CueRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.ack(w, r, wire.SetCue(chi.URLParam(r, "name"), req.Index))
}

func (s *Service) handleGetVolume(w http.ResponseWriter, r *http.Request) {
	cmd := wire.GetVolume(chi.URLParam(r, "name"))
	reply, ok := s.submit(w, r, cmd)
	if !ok {
		return
	}
	value, err := wire.ParseVolume(reply)
	if err != nil {
		s.writeError(w, r, err, cmd.String())
		return
	}
	s.writeJSON(w, http.StatusOK, VolumeResponse{Value: value})
}

func (s *Service) handleSetVolume(w http.ResponseWriter, r *http.Request) {
	var req VolumeRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.ack(w, r, wire.SetVolume(chi.URLParam(r, "name"), req.Value))
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	cmd := wire.GetStatus(name)
	reply, ok := s.submit(w, r, cmd)
	if !ok {
		return
	}
	st, err := status.MapCSV(name, reply.Line)
	if err != nil {
		s.writeError(w, r, err, cmd.String())
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.writeErrorStatus(w, r, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw), "")
			return
		}
		if parsed > 1000 {
			parsed = 1000
		}
		limit = parsed
	}
	records, err := s.deps.Journal.ListComposition(r.Context(), chi.URLParam(r, "name"), limit)
	if err != nil {
		s.writeErrorStatus(w, r, http.StatusInternalServerError, err.Error(), "")
		return
	}
	if records == nil {
		records = []journal.Record{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Service) handleRawCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.ack(w, r, wire.Raw(req.Raw))
}

// ack submits the command and answers with the GenericReply envelope.
func (s *Service) ack(w http.ResponseWriter, r *http.Request, cmd wire.Command) {
	reply, ok := s.submit(w, r, cmd)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, GenericReply{Sent: cmd.String(), Reply: reply.Line})
}

func (s *Service) submit(w http.ResponseWriter, r *http.Request, cmd wire.Command) (wire.Reply, bool) {
	reply, err := s.deps.Device.Submit(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err, cmd.String())
		return wire.Reply{}, false
	}
	return reply, true
}

func (s *Service) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		s.writeErrorStatus(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), "")
		return false
	}
	return true
}

func (s *Service) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to encode response", slogError(err))
	}
}

func (s *Service) writeError(w http.ResponseWriter, r *http.Request, err error, command string) {
	s.writeErrorStatus(w, r, statusForError(err), err.Error(), command)
}

func (s *Service) writeErrorStatus(w http.ResponseWriter, r *http.Request, code int, msg, command string) {
	if code >= http.StatusInternalServerError {
		s.log.Warn("request failed",
			slog.Int("status", code),
			slog.String("command", command),
			slog.String("error", msg))
	}
	s.writeJSON(w, code, ErrorResponse{
		Error:   msg,
		Command: command,
		TraceID: requestIDFrom(r.Context()),
	})
}

// statusForError maps the command pipeline's error taxonomy onto HTTP.
// Unreachable devices answer 504 when the underlying transport failure
// was a timeout and 502 otherwise, so callers can tell a dead host
// from a refusing one.
func statusForError(err error) int {
	var netErr net.Error
	switch {
	case errors.Is(err, wire.ErrInvalidCommand):
		return http.StatusUnprocessableEntity
	case errors.Is(err, wire.ErrDeviceError):
		return http.StatusUnprocessableEntity
	case errors.Is(err, wire.ErrMalformedResponse),
		errors.Is(err, status.ErrMalformedField),
		errors.Is(err, status.ErrUnknownStateCode):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrUnreachable):
		if errors.As(err, &netErr) && netErr.Timeout() {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
