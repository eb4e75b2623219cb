package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/dominotes/internal/auth"
	"github.com/MarcoPoloResearchLab/dominotes/internal/database"
	"github.com/MarcoPoloResearchLab/dominotes/internal/notes"
	"github.com/MarcoPoloResearchLab/dominotes/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const testCookieName = "authenticated"

type testServer struct {
	handler    http.Handler
	sessions   *auth.SessionManager
	realtime   *RealtimeDispatcher
	credential *users.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "server.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	notesService, err := notes.NewService(notes.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build notes service: %v", err)
	}
	credentials, err := users.NewService(users.ServiceConfig{Database: db, HashCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("failed to build credential service: %v", err)
	}
	sessions, err := auth.NewSessionManager(auth.SessionManagerConfig{
		SigningSecret: []byte("test-signing-secret"),
		CookieName:    testCookieName,
		TTL:           time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build session manager: %v", err)
	}
	dispatcher := NewRealtimeDispatcher()

	handler, err := NewHTTPHandler(Dependencies{
		NotesService: notesService,
		Credentials:  credentials,
		Sessions:     sessions,
		Realtime:     dispatcher,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return &testServer{handler: handler, sessions: sessions, realtime: dispatcher, credential: credentials}
}

func (s *testServer) sessionCookie(t *testing.T) *http.Cookie {
	t.Helper()
	token, _, err := s.sessions.IssueToken()
	if err != nil {
		t.Fatalf("failed to issue session token: %v", err)
	}
	return &http.Cookie{Name: testCookieName, Value: token}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, cookie *http.Cookie, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch typed := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(typed))
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	if cookie != nil {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func findCookie(recorder *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}
