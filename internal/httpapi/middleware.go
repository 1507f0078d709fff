package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/spacebrew-go/internal/metrics"
)

type claimsKey struct{}

// devClientID identifies requests when authentication is disabled
const devClientID = "dev-client"

var devClaims = &JWTClaims{ClientID: devClientID, IsAdmin: true}

// Middleware wraps handlers with authentication, logging and recovery.
type Middleware struct {
	jwtAuth *JWTAuth
	noAuth  bool
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewMiddleware creates a new middleware instance
func NewMiddleware(jwtAuth *JWTAuth, noAuth bool, logger zerolog.Logger, m *metrics.Metrics) *Middleware {
	return &Middleware{
		jwtAuth: jwtAuth,
		noAuth:  noAuth,
		logger:  logger,
		metrics: m,
	}
}

// AuthRequired accepts any valid token.
func (m *Middleware) AuthRequired(next http.HandlerFunc) http.HandlerFunc {
	return m.authenticate(next, false)
}

// AdminRequired accepts only tokens carrying admin claims. With
// authentication disabled every request is an admin.
func (m *Middleware) AdminRequired(next http.HandlerFunc) http.HandlerFunc {
	return m.authenticate(next, true)
}

func (m *Middleware) authenticate(next http.HandlerFunc, admin bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, status, msg := m.claimsFor(r)
		if claims == nil {
			writeError(w, msg, status)
			return
		}
		if admin && !claims.IsAdmin {
			writeError(w, "Admin privileges required", http.StatusForbidden)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	}
}

// claimsFor resolves the caller's claims, or the status and message to reject
// the request with.
func (m *Middleware) claimsFor(r *http.Request) (*JWTClaims, int, string) {
	if m.noAuth {
		return devClaims, 0, ""
	}
	raw := bearerToken(r)
	if raw == "" {
		return nil, http.StatusUnauthorized, "Authorization header required"
	}
	claims, err := m.jwtAuth.ValidateToken(raw)
	if err != nil {
		return nil, http.StatusUnauthorized, "Invalid token: " + err.Error()
	}
	return claims, 0, ""
}

// CORS allows browser admin consoles on other origins.
func (m *Middleware) CORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

// ContentType defaults responses to JSON; streaming handlers override it.
func (m *Middleware) ContentType(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next(w, r)
	}
}

// Logging records the status and duration of every request.
func (m *Middleware) Logging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(rec, r)

		elapsed := timer.Duration()
		m.metrics.ObserveRequest(r.Method, strconv.Itoa(rec.status), elapsed)
		m.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", elapsed).
			Msg("http request")
	}
}

// Recovery turns a handler panic into a 500 response.
func (m *Middleware) Recovery(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				m.logger.Error().Interface("panic", p).Str("path", r.URL.Path).Msg("handler panicked")
				writeError(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

// statusRecorder captures the response status. It forwards Flush so
// server-sent event streams keep working behind Logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// bearerToken accepts both "Bearer <token>" and a bare token.
func bearerToken(r *http.Request) string {
	return strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
}

// requestClaims returns the claims AuthRequired or AdminRequired attached,
// or nil outside those middlewares.
func requestClaims(r *http.Request) *JWTClaims {
	claims, _ := r.Context().Value(claimsKey{}).(*JWTClaims)
	return claims
}

// GetClientID returns the authenticated client id of the request.
func GetClientID(r *http.Request) string {
	if claims := requestClaims(r); claims != nil {
		return claims.ClientID
	}
	return ""
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}

func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// headers are already sent, so an encoding failure cannot be reported
	_ = json.NewEncoder(w).Encode(data)
}
