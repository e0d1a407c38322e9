package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"collabpad/core"
	"collabpad/stores/memory"
)

func setupAuth(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
	InitAuth()
}

func TestCreateAndParseJWT(t *testing.T) {
	setupAuth(t)

	user := &core.User{
		Subject:   "local:alice",
		Login:     "alice",
		Name:      "Alice",
		AvatarURL: "https://example.com/a.png",
	}
	token, err := createJWT(user)
	if err != nil {
		t.Fatalf("createJWT() failed: %v", err)
	}

	claims, err := ParseJWT(token)
	if err != nil {
		t.Fatalf("ParseJWT() failed: %v", err)
	}
	if claims.Subject != "local:alice" || claims.Login != "alice" || claims.Name != "Alice" {
		t.Errorf("Claims mismatch: %+v", claims)
	}
}

func TestParseJWT_RejectsGarbage(t *testing.T) {
	setupAuth(t)

	if _, err := ParseJWT("not-a-token"); err == nil {
		t.Error("ParseJWT() should reject malformed tokens")
	}
}

func TestParseJWT_RejectsWrongSecret(t *testing.T) {
	setupAuth(t)
	token, err := createJWT(&core.User{Subject: "local:alice", Login: "alice"})
	if err != nil {
		t.Fatalf("createJWT() failed: %v", err)
	}

	jwtSecret = []byte("rotated-secret")
	if _, err := ParseJWT(token); err == nil {
		t.Error("ParseJWT() should reject tokens signed with another secret")
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestSignupAndLogin(t *testing.T) {
	setupAuth(t)
	store := memory.NewStore()

	rec := postJSON(t, HandleSignup(store), `{"login":"alice","name":"Alice","password":"correct horse"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Signup status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}

	var signupResp struct {
		Token string     `json:"token"`
		User  *core.User `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &signupResp); err != nil {
		t.Fatalf("Failed to decode signup response: %v", err)
	}
	if signupResp.Token == "" {
		t.Error("Signup should return a token")
	}
	if signupResp.User.Subject != "local:alice" {
		t.Errorf("Signup subject mismatch: %q", signupResp.User.Subject)
	}

	claims, err := ParseJWT(signupResp.Token)
	if err != nil {
		t.Fatalf("Signup token does not parse: %v", err)
	}
	if claims.Subject != "local:alice" {
		t.Errorf("Token subject mismatch: %q", claims.Subject)
	}

	rec = postJSON(t, HandleLogin(store), `{"login":"alice","password":"correct horse"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Login status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	rec = postJSON(t, HandleLogin(store), `{"login":"alice","password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Bad password status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	rec = postJSON(t, HandleLogin(store), `{"login":"nobody","password":"whatever"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Unknown login status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestSignup_Validation(t *testing.T) {
	setupAuth(t)
	store := memory.NewStore()

	rec := postJSON(t, HandleSignup(store), `{"login":"","password":"long enough"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Empty login status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = postJSON(t, HandleSignup(store), `{"login":"bob","password":"short"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Short password status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = postJSON(t, HandleSignup(store), `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Invalid JSON status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestSignup_DuplicateLogin(t *testing.T) {
	setupAuth(t)
	store := memory.NewStore()

	rec := postJSON(t, HandleSignup(store), `{"login":"alice","password":"correct horse"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("First signup failed: %d", rec.Code)
	}

	rec = postJSON(t, HandleSignup(store), `{"login":"alice","password":"another pass"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("Duplicate signup status = %d, want %d", rec.Code, http.StatusConflict)
	}
}
