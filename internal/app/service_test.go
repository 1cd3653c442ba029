package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"slate/api/internal/authpw"
	"slate/api/internal/authz"
	"slate/api/internal/config"
	"slate/api/internal/invite"
	"slate/api/internal/progress"
	"slate/api/internal/store"
)

// fakeMailer satisfies both the app mailer and invite.Mailer. It records
// invitation sends so tests can assert delivery happened.
type fakeMailer struct {
	mu          sync.Mutex
	invitesSent []string
}

func (m *fakeMailer) IsConfigured() bool { return false }

func (m *fakeMailer) SendVerificationEmail(ctx context.Context, to, userName, verificationURL string) error {
	return nil
}

func (m *fakeMailer) SendPasswordResetEmail(ctx context.Context, to, userName, resetURL string) error {
	return nil
}

func (m *fakeMailer) SendInvitation(ctx context.Context, toAddress, inviteLink, teamName, inviterName, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invitesSent = append(m.invitesSent, toAddress)
	return nil
}

type testEnv struct {
	store   *fakeStore
	mailer  *fakeMailer
	service *Service
	server  *HTTPServer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fs := newFakeStore()
	mail := &fakeMailer{}
	cfg := config.Config{
		JWTSecret:    "test-secret",
		AccessTTL:    15 * time.Minute,
		RefreshTTL:   24 * time.Hour,
		AppBaseURL:   "http://localhost:5173",
		EmailTimeout: time.Second,
	}
	authzService := authz.New(fs)
	service := NewService(cfg, Deps{
		Store:    fs,
		Sessions: fs,
		Authz:    authzService,
		Invites:  invite.New(fs, authzService, mail, cfg.AppBaseURL, 7, cfg.EmailTimeout),
		Progress: progress.New(fs),
		AuthPW:   authpw.NewService(fs),
		Mailer:   mail,
	})
	return &testEnv{
		store:   fs,
		mailer:  mail,
		service: service,
		server:  NewHTTPServer(service, "*"),
	}
}

func (e *testEnv) addUser(id, name, email string) {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	e.store.users[id] = store.User{ID: id, DisplayName: name, Email: email, IsEmailVerified: true}
}

func (e *testEnv) addTeam(teamID, name, ownerID string) {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	e.store.teams[teamID] = store.Team{ID: teamID, Name: name, OwnerUserID: &ownerID}
	e.store.memberships[teamID] = map[string]string{ownerID: "owner"}
}

func (e *testEnv) addMember(teamID, userID, role string) {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	e.store.memberships[teamID][userID] = role
}

func (e *testEnv) addProject(projectID, name, teamID string) {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	e.store.projects[projectID] = store.Project{ID: projectID, Name: name, OwnerTeamID: teamID}
}

// bearer mints a real access token for the user via the session path.
func (e *testEnv) bearer(t *testing.T, userID string) string {
	t.Helper()
	session, err := e.service.CreateSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("create session for %s: %v", userID, err)
	}
	return "Bearer " + session.Token
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return payload
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body: %s)", rec.Code, want, rec.Body.String())
	}
}

func wantCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) map[string]any {
	t.Helper()
	wantStatus(t, rec, status)
	payload := decodeJSON(t, rec)
	if payload["code"] != code {
		t.Fatalf("error code = %v, want %s (body: %s)", payload["code"], code, rec.Body.String())
	}
	return payload
}
