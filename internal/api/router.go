package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/showctl/exabridge/internal/wire"
)

const defaultCommandRate = 60

// Router assembles the handler tree. Exposed so tests can drive the
// routes without a listener.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/version", s.handleVersion)
		r.Get("/connection", s.handleConnection)
		r.Get("/events/status", s.handleEventStream)

		r.Route("/compositions/{name}", func(r chi.Router) {
			r.Post("/play", s.handleTransport(wire.Play))
			r.Post("/pause", s.handleTransport(wire.Pause))
			r.Post("/stop", s.handleTransport(wire.Stop))
			r.Post("/cuetime", s.handleCueTime)
			r.Post("/cue", s.handleCue)
			r.Get("/volume", s.handleGetVolume)
			r.Post("/volume", s.handleSetVolume)
			r.Get("/status", s.handleStatus)
			r.Get("/history", s.handleHistory)
		})

		rate := s.cfg.CommandRatePerMin
		if rate <= 0 {
			rate = defaultCommandRate
		}
		r.With(httprate.LimitByIP(rate, time.Minute)).
			Post("/exaplay/command", s.handleRawCommand)
	})

	return r
}

type ctxKey int

const requestIDKey ctxKey = iota

// requestID tags every request with an id for the error envelope and
// the request log. Inbound X-Request-ID is honored so upstream proxies
// can correlate.
func (s *Service) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func (s *Service) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", requestIDFrom(r.Context())))
	})
}

// authenticate enforces the static bearer token. Requests without
// credentials get 401, requests with the wrong token get 403. An empty
// configured token disables the check.
func (s *Service) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			s.writeErrorStatus(w, r, http.StatusUnauthorized, "missing bearer token", "")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.APIToken)) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			s.writeErrorStatus(w, r, http.StatusForbidden, "invalid api token", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
