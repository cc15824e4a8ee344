package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-accounts/internal/config"
	"github.com/tendant/simple-accounts/pkg/auth"
	"github.com/tendant/simple-accounts/pkg/media"
	"github.com/tendant/simple-accounts/pkg/repository/memstore"
)

type recordingMailer struct {
	mu      sync.Mutex
	fail    bool
	confirm map[string]string
	reset   map[string]string
}

func newRecordingMailer() *recordingMailer {
	return &recordingMailer{confirm: map[string]string{}, reset: map[string]string{}}
}

func (m *recordingMailer) SendConfirmation(_ context.Context, to, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp: connection refused")
	}
	m.confirm[to] = token
	return nil
}

func (m *recordingMailer) SendPasswordReset(_ context.Context, to, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp: connection refused")
	}
	m.reset[to] = token
	return nil
}

func (m *recordingMailer) setFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

func (m *recordingMailer) confirmation(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirm[to]
}

func (m *recordingMailer) passwordReset(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reset[to]
}

type harness struct {
	t        *testing.T
	handler  http.Handler
	mailer   *recordingMailer
	accounts *auth.AccountService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	store := memstore.New()
	mailer := newRecordingMailer()
	pictures, err := media.NewFileStore(t.TempDir(), "http://localhost/media")
	require.NoError(t, err)

	accounts := auth.NewAccountService(logger, store.Accounts(), store.Tokens(), store, mailer, auth.AccountConfig{
		AuthTokenTTL:          24 * time.Hour,
		PasswordResetTokenTTL: time.Hour,
		TokenBytes:            32,
		Email:                 auth.EmailRules{Strict: true},
		PasswordPolicy:        auth.DefaultPasswordPolicy(),
	})
	profiles := auth.NewProfileService(logger, store.Accounts(), store.Tokens(), store, pictures, auth.ProfileConfig{
		MaxPictureSize: 1 << 10,
		Email:          auth.EmailRules{Strict: true},
	})

	handler := NewRouter(RouterConfig{
		Logger:          logger,
		AccountService:  accounts,
		ProfileService:  profiles,
		RateLimit:       config.RateLimitConfig{Enabled: false},
		MaxRequestBytes: 1 << 16,
		MaxUploadBytes:  1 << 16,
		MediaHandler:    pictures.Handler(),
	})

	return &harness{t: t, handler: handler, mailer: mailer, accounts: accounts}
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), "body: %s", w.Body.String())
	return v
}

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields"`
}

type userBody struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	FullName       string `json:"full_name"`
	ProfilePicture string `json:"profile_picture"`
	IsActive       bool   `json:"is_active"`
}

type loginBody struct {
	Token string   `json:"token"`
	User  userBody `json:"user"`
}

func registration(email, password string) map[string]string {
	return map[string]string{
		"email":                 email,
		"first_name":            "Ada",
		"last_name":             "Lovelace",
		"password":              password,
		"password_confirmation": password,
	}
}

// activeUser registers, confirms and logs in a user, returning the auth token
// and account id.
func (h *harness) activeUser(email, password string) (string, string) {
	h.t.Helper()

	w := h.do(http.MethodPost, "/v1/accounts/register", "", registration(email, password))
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())

	w = h.do(http.MethodPost, "/v1/accounts/confirm", "", map[string]string{"token": h.mailer.confirmation(email)})
	require.Equal(h.t, http.StatusOK, w.Code, w.Body.String())

	w = h.do(http.MethodPost, "/v1/accounts/login", "", map[string]string{"email": email, "password": password})
	require.Equal(h.t, http.StatusOK, w.Code, w.Body.String())
	login := decode[loginBody](h.t, w)
	return login.Token, login.User.ID
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegistrationLifecycle(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/v1/accounts/register", "", registration("Ada@Example.com", "correct-horse"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	user := decode[userBody](t, w)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.Equal(t, "Ada Lovelace", user.FullName)
	assert.False(t, user.IsActive)

	// Inactive accounts cannot log in.
	w = h.do(http.MethodPost, "/v1/accounts/login", "", map[string]string{"email": "ada@example.com", "password": "correct-horse"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	token := h.mailer.confirmation("ada@example.com")
	require.NotEmpty(t, token)

	w = h.do(http.MethodGet, "/v1/accounts/confirm?token="+token, "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[userBody](t, w).IsActive)

	w = h.do(http.MethodGet, "/v1/accounts/confirm?token="+token, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(http.MethodPost, "/v1/accounts/login", "", map[string]string{"email": "ADA@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	login := decode[loginBody](t, w)
	require.NotEmpty(t, login.Token)

	// A second login returns the same live token.
	w = h.do(http.MethodPost, "/v1/accounts/login", "", map[string]string{"email": "ada@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, login.Token, decode[loginBody](t, w).Token)

	w = h.do(http.MethodGet, "/v1/users/me", login.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, user.ID, decode[userBody](t, w).ID)

	w = h.do(http.MethodPost, "/v1/accounts/logout", login.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodGet, "/v1/users/me", login.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegister_Validation(t *testing.T) {
	h := newHarness(t)
	h.activeUser("taken@example.com", "correct-horse")

	mismatch := registration("new@example.com", "correct-horse")
	mismatch["password_confirmation"] = "other-horse"

	tests := []struct {
		name      string
		body      any
		wantField string
	}{
		{name: "password mismatch", body: mismatch, wantField: "password_confirmation"},
		{name: "duplicate email ignoring case", body: registration("TAKEN@example.com", "correct-horse"), wantField: "email"},
		{name: "invalid email", body: registration("not-an-email", "correct-horse"), wantField: "email"},
		{name: "short password", body: registration("short@example.com", "short"), wantField: "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(http.MethodPost, "/v1/accounts/register", "", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			body := decode[errorBody](t, w)
			assert.Equal(t, "validation failed", body.Error)
			assert.Contains(t, body.Fields, tt.wantField)
		})
	}
}

func TestRegister_NotificationFailureLeavesNoAccount(t *testing.T) {
	h := newHarness(t)
	h.mailer.setFail(true)

	w := h.do(http.MethodPost, "/v1/accounts/register", "", registration("ada@example.com", "correct-horse"))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	h.mailer.setFail(false)
	w = h.do(http.MethodPost, "/v1/accounts/register", "", registration("ada@example.com", "correct-horse"))
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestResendConfirmation(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/v1/accounts/register", "", registration("ada@example.com", "correct-horse"))
	require.Equal(t, http.StatusCreated, w.Code)
	first := h.mailer.confirmation("ada@example.com")

	w = h.do(http.MethodPost, "/v1/accounts/confirm/resend", "", map[string]string{"email": "ada@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	second := h.mailer.confirmation("ada@example.com")
	require.NotEqual(t, first, second)

	// The replaced token is dead.
	w = h.do(http.MethodPost, "/v1/accounts/confirm", "", map[string]string{"token": first})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = h.do(http.MethodPost, "/v1/accounts/confirm", "", map[string]string{"token": second})
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodPost, "/v1/accounts/confirm/resend", "", map[string]string{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPasswordReset(t *testing.T) {
	h := newHarness(t)
	authToken, _ := h.activeUser("ada@example.com", "correct-horse")

	w := h.do(http.MethodPost, "/v1/accounts/password/reset-request", "", map[string]string{"email": "nobody@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, h.mailer.passwordReset("nobody@example.com"))

	w = h.do(http.MethodPost, "/v1/accounts/password/reset-request", "", map[string]string{"email": "ada@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	token := h.mailer.passwordReset("ada@example.com")
	require.NotEmpty(t, token)

	w = h.do(http.MethodGet, "/v1/accounts/password/reset?token="+token, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = h.do(http.MethodGet, "/v1/accounts/password/reset?token=bogus", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(http.MethodPost, "/v1/accounts/password/reset", "", map[string]string{
		"token": token, "password": "new-password", "password_confirmation": "different",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPost, "/v1/accounts/password/reset", "", map[string]string{
		"token": token, "password": "new-password", "password_confirmation": "new-password",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The reset ended the existing session and consumed the token.
	w = h.do(http.MethodGet, "/v1/users/me", authToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = h.do(http.MethodPost, "/v1/accounts/password/reset", "", map[string]string{
		"token": token, "password": "newer-password", "password_confirmation": "newer-password",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(http.MethodPost, "/v1/accounts/login", "", map[string]string{"email": "ada@example.com", "password": "correct-horse"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = h.do(http.MethodPost, "/v1/accounts/login", "", map[string]string{"email": "ada@example.com", "password": "new-password"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChangePassword(t *testing.T) {
	h := newHarness(t)
	token, _ := h.activeUser("ada@example.com", "correct-horse")

	w := h.do(http.MethodPost, "/v1/accounts/password/change", "", map[string]string{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodPost, "/v1/accounts/password/change", token, map[string]string{
		"old_password": "wrong", "new_password": "new-password", "new_password_confirmation": "new-password",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[errorBody](t, w).Fields, "old_password")

	w = h.do(http.MethodPost, "/v1/accounts/password/change", token, map[string]string{
		"old_password": "correct-horse", "new_password": "new-password", "new_password_confirmation": "new-password",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = h.do(http.MethodPost, "/v1/accounts/login", "", map[string]string{"email": "ada@example.com", "password": "new-password"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUsers_Permissions(t *testing.T) {
	h := newHarness(t)
	adaToken, adaID := h.activeUser("ada@example.com", "correct-horse")
	bobToken, bobID := h.activeUser("bob@example.com", "correct-horse")

	_, err := h.accounts.CreateSuperuser(context.Background(), "root@example.com", "root-password")
	require.NoError(t, err)
	w := h.do(http.MethodPost, "/v1/accounts/login", "", map[string]string{"email": "root@example.com", "password": "root-password"})
	require.Equal(t, http.StatusOK, w.Code)
	rootToken := decode[loginBody](t, w).Token

	w = h.do(http.MethodGet, "/v1/users/"+adaID, bobToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = h.do(http.MethodGet, "/v1/users/not-a-uuid", bobToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(http.MethodPatch, "/v1/users/"+adaID, bobToken, map[string]string{"first_name": "Mallory"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(http.MethodPatch, "/v1/users/"+adaID, adaToken, map[string]string{"first_name": "Augusta"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Augusta Lovelace", decode[userBody](t, w).FullName)

	w = h.do(http.MethodPut, "/v1/users/"+adaID, adaToken, map[string]string{"first_name": "Ada"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[errorBody](t, w).Fields, "email")

	w = h.do(http.MethodPatch, "/v1/users/"+adaID, adaToken, map[string]string{"email": "BOB@example.com"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[errorBody](t, w).Fields, "email")

	w = h.do(http.MethodPatch, "/v1/users/"+bobID, rootToken, map[string]string{"last_name": "Builder"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodDelete, "/v1/users/"+adaID, bobToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(http.MethodDelete, "/v1/users/"+bobID, bobToken, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = h.do(http.MethodGet, "/v1/users/me", bobToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = h.do(http.MethodGet, "/v1/users/"+bobID, adaToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUsers_List(t *testing.T) {
	h := newHarness(t)
	token, _ := h.activeUser("ada@example.com", "correct-horse")
	h.activeUser("bob@example.com", "correct-horse")

	w := h.do(http.MethodGet, "/v1/users?limit=1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[struct {
		Count   int        `json:"count"`
		Limit   int        `json:"limit"`
		Results []userBody `json:"results"`
	}](t, w)
	assert.Equal(t, 2, page.Count)
	assert.Equal(t, 1, page.Limit)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "ada@example.com", page.Results[0].Email)

	w = h.do(http.MethodGet, "/v1/users?limit=abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodGet, "/v1/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func (h *harness) upload(token, filename string, data []byte) *httptest.ResponseRecorder {
	h.t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("picture", filename)
	require.NoError(h.t, err)
	_, err = part.Write(data)
	require.NoError(h.t, err)
	require.NoError(h.t, mw.Close())

	req := httptest.NewRequest(http.MethodPut, "/v1/users/me/picture", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Token "+token)
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func TestUsers_Picture(t *testing.T) {
	h := newHarness(t)
	token, _ := h.activeUser("ada@example.com", "correct-horse")

	w := h.upload(token, "avatar.txt", []byte("hello"))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[errorBody](t, w).Fields, "picture")

	w = h.upload(token, "avatar.png", []byte("definitely not an image"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.upload(token, "avatar.png", bytes.Repeat([]byte("a"), 2<<10))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.upload(token, "avatar.png", pngHeader)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	user := decode[userBody](t, w)
	require.True(t, strings.HasPrefix(user.ProfilePicture, "http://localhost/media/"), user.ProfilePicture)

	key := strings.TrimPrefix(user.ProfilePicture, "http://localhost/media/")
	w = h.do(http.MethodGet, "/media/"+key, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pngHeader, w.Body.Bytes())

	w = h.do(http.MethodDelete, "/v1/users/me/picture", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[userBody](t, w).ProfilePicture)

	w = h.do(http.MethodGet, "/media/"+key, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
