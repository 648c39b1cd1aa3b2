package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kanban/api/internal/auth"
	"kanban/api/internal/store"
)

func doRequest(t *testing.T, handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func tokenFor(t *testing.T, svc *Service, user store.User) string {
	t.Helper()
	session, err := svc.CreateSession(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session.Token
}

func TestSignUpVerifySignInFlow(t *testing.T) {
	fs := newFakeStore()
	handler := NewHTTPServer(newTestService(fs), "*").Handler()

	rr := doRequest(t, handler, http.MethodPost, "/api/auth/signup", "",
		`{"name":"  Avery  ","email":"Avery@Example.com","password":"correct-horse"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	verification, _ := payload["devVerificationToken"].(string)
	if verification == "" {
		t.Fatal("expected devVerificationToken without SMTP")
	}

	rr = doRequest(t, handler, http.MethodPost, "/api/auth/signin", "",
		`{"email":"avery@example.com","password":"correct-horse"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 before verification, got %d", rr.Code)
	}
	if decodeResponse(t, rr)["code"] != "EMAIL_NOT_VERIFIED" {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}

	rr = doRequest(t, handler, http.MethodPost, "/api/auth/verify-email", "", `{"token":"`+verification+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on verify, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, handler, http.MethodPost, "/api/auth/signin", "",
		`{"email":"avery@example.com","password":"wrong-password"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", rr.Code)
	}

	rr = doRequest(t, handler, http.MethodPost, "/api/auth/signin", "",
		`{"email":"avery@example.com","password":"correct-horse"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on signin, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload = decodeResponse(t, rr)
	token, _ := payload["accessToken"].(string)
	refreshToken, _ := payload["refreshToken"].(string)
	if token == "" || refreshToken == "" {
		t.Fatalf("expected tokens, got %v", payload)
	}
	if payload["userName"] != "Avery" {
		t.Fatalf("expected trimmed name, got %v", payload["userName"])
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/session", token, "")
	if decodeResponse(t, rr)["authenticated"] != true {
		t.Fatalf("expected authenticated session, got %s", rr.Body.String())
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("usr_1", "Avery", "avery@example.com")
	handler := NewHTTPServer(newTestService(fs), "*").Handler()

	rr := doRequest(t, handler, http.MethodPost, "/api/auth/signup", "",
		`{"name":"Avery","email":"avery@example.com","password":"correct-horse"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", rr.Code, rr.Body.String())
	}
	if decodeResponse(t, rr)["code"] != "EMAIL_EXISTS" {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestSignUpValidationDetails(t *testing.T) {
	handler := NewHTTPServer(newTestService(newFakeStore()), "*").Handler()

	rr := doRequest(t, handler, http.MethodPost, "/api/auth/signup", "",
		`{"name":"Avery","email":"not-an-email","password":"short"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	details, _ := decodeResponse(t, rr)["details"].(map[string]any)
	if details["email"] == nil || details["password"] == nil {
		t.Fatalf("expected email and password details, got %v", details)
	}
}

func TestSignInRejectsInvalidBody(t *testing.T) {
	handler := NewHTTPServer(newTestService(newFakeStore()), "*").Handler()

	rr := doRequest(t, handler, http.MethodPost, "/api/auth/signin", "", `{"email":`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	if decodeResponse(t, rr)["code"] != "INVALID_BODY" {
		t.Fatalf("expected code INVALID_BODY, got %s", rr.Body.String())
	}
}

func TestSessionRefreshRotatesToken(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	user := fs.addUser("usr_1", "Avery", "avery@example.com")
	session, err := svc.CreateSession(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	handler := NewHTTPServer(svc, "*").Handler()

	rr := doRequest(t, handler, http.MethodPost, "/api/session/refresh", "", `{"refreshToken":"`+session.RefreshToken+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["refreshToken"] == session.RefreshToken || payload["refreshToken"] == "" {
		t.Fatalf("expected a new refresh token, got %v", payload["refreshToken"])
	}

	rr = doRequest(t, handler, http.MethodPost, "/api/session/refresh", "", `{"refreshToken":"`+session.RefreshToken+`"}`)
	assertUnauthorizedCode(t, rr)
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	user := fs.addUser("usr_1", "Avery", "avery@example.com")
	token := tokenFor(t, svc, user)
	handler := NewHTTPServer(svc, "*").Handler()

	rr := doRequest(t, handler, http.MethodGet, "/api/boards", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 before logout, got %d", rr.Code)
	}

	rr = doRequest(t, handler, http.MethodPost, "/api/session/logout", token, `{}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on logout, got %d", rr.Code)
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/boards", token, "")
	assertUnauthorizedCode(t, rr)
}

func TestAnonymousBoardListIsEmpty(t *testing.T) {
	handler := NewHTTPServer(newTestService(newFakeStore()), "*").Handler()

	rr := doRequest(t, handler, http.MethodGet, "/api/boards", "", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := decodeResponse(t, rr)
	items, ok := payload["resource"].([]any)
	if payload["type"] != "boards" || !ok || len(items) != 0 {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestBoardsWithInvalidBearerReturnsUnauthorized(t *testing.T) {
	handler := NewHTTPServer(newTestService(newFakeStore()), "*").Handler()

	rr := doRequest(t, handler, http.MethodGet, "/api/boards", "definitely-not-a-token", "")

	assertUnauthorizedCode(t, rr)
}

func TestBoardsWithExpiredBearerReturnsUnauthorized(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("usr_1", "Avery", "avery@example.com")
	handler := NewHTTPServer(newTestService(fs), "*").Handler()

	token, err := auth.IssueToken([]byte("test-secret"), auth.NewClaims("usr_1", "Avery", "jti-expired", time.Now().Add(-1*time.Minute)))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	rr := doRequest(t, handler, http.MethodGet, "/api/boards", token, "")

	assertUnauthorizedCode(t, rr)
}

func TestBoardsWithTokenForDeletedUserReturnsUnauthorized(t *testing.T) {
	handler := NewHTTPServer(newTestService(newFakeStore()), "*").Handler()

	token, err := auth.IssueToken([]byte("test-secret"), auth.NewClaims("usr_gone", "Ghost", "jti-1", time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	rr := doRequest(t, handler, http.MethodGet, "/api/boards", token, "")

	assertUnauthorizedCode(t, rr)
}

func TestCreateBoardWithoutSessionReturnsUnauthorized(t *testing.T) {
	handler := NewHTTPServer(newTestService(newFakeStore()), "*").Handler()

	rr := doRequest(t, handler, http.MethodPost, "/api/boards", "", `{"title":"Sprint 1"}`)

	assertUnauthorizedCode(t, rr)
}

func assertUnauthorizedCode(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected code UNAUTHORIZED, got %v", payload["code"])
	}
}

func TestPasswordResetEndsExistingSessions(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	user := fs.addUser("usr_1", "Avery", "avery@example.com")
	session, err := svc.CreateSession(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	handler := NewHTTPServer(svc, "*").Handler()

	rr := doRequest(t, handler, http.MethodPost, "/api/auth/reset-password/request", "", `{"email":"avery@example.com"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	resetToken, _ := decodeResponse(t, rr)["devResetToken"].(string)
	if resetToken == "" {
		t.Fatal("expected a dev reset token without SMTP")
	}

	rr = doRequest(t, handler, http.MethodPost, "/api/auth/reset-password", "", `{"token":"`+resetToken+`","newPassword":"battery-staple"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, handler, http.MethodPost, "/api/session/refresh", "", `{"refreshToken":"`+session.RefreshToken+`"}`)
	assertUnauthorizedCode(t, rr)

	rr = doRequest(t, handler, http.MethodPost, "/api/auth/signin", "", `{"email":"avery@example.com","password":"battery-staple"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected sign in with the new password, got %d body=%s", rr.Code, rr.Body.String())
	}
}
