package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/spacebrew-go/internal/pollbuffer"
	"github.com/rmacdonaldsmith/spacebrew-go/internal/topology"
	pubtopology "github.com/rmacdonaldsmith/spacebrew-go/pkg/topology"
)

// ErrStreamBehind is returned to the manager when an admin stream cannot
// keep up and a notification is dropped
var ErrStreamBehind = errors.New("admin stream is not keeping up")

// Handlers contains all HTTP request handlers
type Handlers struct {
	manager *topology.Manager
	jwtAuth *JWTAuth
	link    *Link
	logger  zerolog.Logger

	keepalive    time.Duration
	streamBuffer int
	sequence     atomic.Int64
}

// NewHandlers creates a new handlers instance
func NewHandlers(manager *topology.Manager, jwtAuth *JWTAuth, link *Link, logger zerolog.Logger) *Handlers {
	return &Handlers{
		manager:      manager,
		jwtAuth:      jwtAuth,
		link:         link,
		logger:       logger,
		keepalive:    DefaultKeepalive,
		streamBuffer: DefaultStreamBuffer,
	}
}

// Auth endpoints

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req AuthRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if err := h.validateAuthRequest(&req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// clientId-based authentication; the "admin" id gets admin claims
	isAdmin := req.ClientID == "admin"

	token, expiresAt, err := h.jwtAuth.GenerateToken(req.ClientID, isAdmin)
	if err != nil {
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, AuthResponse{
		Token:     token,
		ClientID:  req.ClientID,
		ExpiresAt: expiresAt,
	}, http.StatusOK)
}

// Topology endpoints

// ListClients handles GET /api/v1/clients
func (h *Handlers) ListClients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, ClientsResponse{Clients: h.manager.GetClients()}, http.StatusOK)
}

// GetClient handles GET /api/v1/clients/{id}
func (h *Handlers) GetClient(w http.ResponseWriter, r *http.Request, id string) {
	client, ok := h.manager.Client(id)
	if !ok {
		writeError(w, fmt.Sprintf("client %s not found", id), http.StatusNotFound)
		return
	}
	writeJSON(w, client, http.StatusOK)
}

// DeleteClient handles DELETE /api/v1/clients/{id}
func (h *Handlers) DeleteClient(w http.ResponseWriter, r *http.Request, id string) {
	if !h.manager.RemoveClient(topology.LeafByID(id)) {
		writeError(w, fmt.Sprintf("client %s not found", id), http.StatusNotFound)
		return
	}
	writeJSON(w, RemoveResponse{Removed: true}, http.StatusOK)
}

// ListRoutes handles GET /api/v1/routes
func (h *Handlers) ListRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, RoutesResponse{Routes: h.manager.GetRoutes()}, http.StatusOK)
}

// AddRoute handles POST /api/v1/routes. A route equal to a registered one
// is reported with added=false.
func (h *Handlers) AddRoute(w http.ResponseWriter, r *http.Request) {
	var def pubtopology.RouteDefinition
	if !h.decodeJSON(w, r, &def) {
		return
	}

	route, err := topology.ParseRoute(def)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !h.manager.AddRoute(route) {
		writeJSON(w, AddRouteResponse{Added: false}, http.StatusOK)
		return
	}
	snapshot := route.Snapshot()
	writeJSON(w, AddRouteResponse{Added: true, Route: &snapshot}, http.StatusCreated)
}

// DeleteRoute handles DELETE /api/v1/routes/{id}
func (h *Handlers) DeleteRoute(w http.ResponseWriter, r *http.Request, id string) {
	if !h.manager.RemoveRoute(topology.RouteByID(id)) {
		writeError(w, fmt.Sprintf("route %s not found", id), http.StatusNotFound)
		return
	}
	writeJSON(w, RemoveResponse{Removed: true}, http.StatusOK)
}

// ListConnections handles GET /api/v1/connections
func (h *Handlers) ListConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, ConnectionsResponse{Connections: h.manager.GetConnections()}, http.StatusOK)
}

// Stats handles GET /api/v1/stats
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, StatsResponse{Stats: h.manager.Stats(), LinkClients: h.link.Len()}, http.StatusOK)
}

// StreamAdmin handles GET /api/v1/admin/stream. The request registers an
// admin for its lifetime and receives every notification as a server-sent
// event named after the notification kind. ?no_msgs=true suppresses
// published payloads.
func (h *Handlers) StreamAdmin(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	events := make(chan pubtopology.Notification, h.streamBuffer)
	admin, err := topology.NewAdmin(pubtopology.AdminSinkFunc(func(n pubtopology.Notification) error {
		select {
		case events <- n:
			return nil
		default:
			return ErrStreamBehind
		}
	}), map[string]any{"no_msgs": r.URL.Query().Get("no_msgs")})
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(": admin stream established\n\n")); err != nil {
		return
	}
	flusher.Flush()

	h.manager.AddAdmin(admin)
	defer h.manager.RemoveAdmin(admin)
	h.logger.Debug().Str("admin_id", admin.ID()).Str("client_id", GetClientID(r)).Msg("admin stream opened")

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug().Str("admin_id", admin.ID()).Msg("admin stream closed")
			return
		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case n := <-events:
			msg := AdminStreamMessage{
				Sequence:     h.sequence.Add(1),
				Timestamp:    time.Now().UTC(),
				Notification: n,
			}
			if err := h.writeSSEMessage(w, string(n.Kind), msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Link endpoints

// LinkRegister handles POST /api/v1/link/clients
func (h *Handlers) LinkRegister(w http.ResponseWriter, r *http.Request) {
	var req LinkRegisterRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	client, err := h.link.Register(req.Config, pubtopology.Metadata{"ip": remoteIP(r)})
	switch {
	case errors.Is(err, ErrLinkNameRequired):
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ErrLinkNameTaken), errors.Is(err, ErrClientExists):
		writeError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, LinkRegisterResponse{
		ClientID: client.ID(),
		LeafID:   client.Leaf().ID(),
		Name:     client.Name(),
	}, http.StatusCreated)
}

// LinkPoll handles GET /api/v1/link/clients/{id}/messages. Clients
// registered with brief, or requests with ?format=brief, get the compact
// text format.
func (h *Handlers) LinkPoll(w http.ResponseWriter, r *http.Request, id string) {
	brief := r.URL.Query().Get("format") == "brief"

	client, msgs, err := h.link.Poll(id)
	if err != nil {
		if brief {
			h.writeBrief(w, briefError(id, err.Error()), http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}

	if brief || client.Brief() {
		h.writeBrief(w, briefFormat(id, msgs), http.StatusOK)
		return
	}
	writeJSON(w, LinkMessagesResponse{ClientID: id, Messages: msgs}, http.StatusOK)
}

// LinkPublish handles POST /api/v1/link/clients/{id}/publish
func (h *Handlers) LinkPublish(w http.ResponseWriter, r *http.Request, id string) {
	var req LinkPublishRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	n, err := h.link.Publish(id, req.Messages)
	if err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, LinkPublishResponse{Published: n}, http.StatusOK)
}

// LinkUnregister handles DELETE /api/v1/link/clients/{id}
func (h *Handlers) LinkUnregister(w http.ResponseWriter, r *http.Request, id string) {
	if !h.link.Unregister(id) {
		writeError(w, pollbuffer.ErrUnknownClient.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, RemoveResponse{Removed: true}, http.StatusOK)
}

// Health endpoint

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	stats := h.manager.Stats()
	writeJSON(w, HealthResponse{
		Healthy:     true,
		Clients:     stats.Clients,
		Routes:      stats.Routes,
		Connections: stats.Connections,
		Admins:      stats.Admins,
		LinkClients: h.link.Len(),
		Message:     "ok",
	}, http.StatusOK)
}

// Helper methods

// decodeJSON decodes the request body into v, writing a 400 on failure
func (h *Handlers) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := h.validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// validateJSON validates that the request has a JSON content type
func (h *Handlers) validateJSON(r *http.Request) error {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		return errors.New("Content-Type must be application/json")
	}
	return nil
}

// validateAuthRequest validates authentication request fields
func (h *Handlers) validateAuthRequest(req *AuthRequest) error {
	if req.ClientID == "" {
		return errors.New("clientId is required")
	}
	if len(req.ClientID) < 2 {
		return errors.New("clientId must be at least 2 characters")
	}
	return nil
}

// writeSSEMessage writes data as a named server-sent event
func (h *Handlers) writeSSEMessage(w http.ResponseWriter, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE message: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	return err
}

func (h *Handlers) writeBrief(w http.ResponseWriter, body string, statusCode int) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = w.Write([]byte(body))
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
