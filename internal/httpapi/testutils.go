package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rmacdonaldsmith/spacebrew-go/internal/topology"
)

// TestServerSetup holds common test dependencies
type TestServerSetup struct {
	Manager *topology.Manager
	Server  *Server
	Auth    *JWTAuth
}

// NewTestServerSetup creates a manager and an HTTP server around it
func NewTestServerSetup(t *testing.T, config Config) *TestServerSetup {
	t.Helper()

	if config.SecretKey == "" {
		config.SecretKey = "test-secret-key"
	}
	manager := topology.NewManager()
	server := NewServer(manager, config)
	if server == nil {
		t.Fatal("Expected server to be created, got nil")
	}

	return &TestServerSetup{
		Manager: manager,
		Server:  server,
		Auth:    server.jwtAuth,
	}
}

// Close unregisters every poll client
func (setup *TestServerSetup) Close() {
	_ = setup.Server.link.Close()
}

// GenerateTestToken creates a JWT token for testing
func (setup *TestServerSetup) GenerateTestToken(t *testing.T, clientID string, isAdmin bool) string {
	t.Helper()

	token, _, err := setup.Auth.GenerateToken(clientID, isAdmin)
	if err != nil {
		t.Fatalf("Failed to generate test token: %v", err)
	}
	return token
}

// Do sends a request through the routed handler. body is JSON-encoded
// unless it is nil.
func (setup *TestServerSetup) Do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	setup.Server.Handler().ServeHTTP(w, req)
	return w
}

// DecodeResponse decodes a JSON response body into v
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()

	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v. Body: %s", err, w.Body.String())
	}
}

// ExpectStatus fails the test when the response status differs
func ExpectStatus(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()

	if w.Code != status {
		t.Fatalf("Expected status %d (%s), got %d. Body: %s", status, http.StatusText(status), w.Code, w.Body.String())
	}
}
