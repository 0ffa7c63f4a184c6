package platform

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) (http.Handler, *Service) {
	t.Helper()
	svc := newTestService(t)
	h := NewHandler(svc, CookieSettings{Name: "session_token", Secure: true}, 1<<16)
	return h.Router([]string{"http://localhost:5173"}), svc
}

func do(h http.Handler, method, target, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLoginEndpoints(t *testing.T) {
	h, svc := newTestHandler(t)
	register(t, svc, "Inès", "ines@example.com", "pw")

	for _, path := range []string{"/login", "/auth", "/api/login"} {
		t.Run(path, func(t *testing.T) {
			rec := do(h, http.MethodPost, path, `{"email":"ines@example.com","password":"pw"}`)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "Inès", body["username"])
			assert.Equal(t, "ines", body["slug"])
			assert.NotEmpty(t, body["token"])
			assert.NotEmpty(t, body["expires_at"])
			assert.Contains(t, body, "profile_picture")
			assert.NotContains(t, body, "password")

			cookies := rec.Result().Cookies()
			require.Len(t, cookies, 1)
			c := cookies[0]
			assert.Equal(t, "session_token", c.Name)
			assert.Equal(t, body["token"], c.Value)
			assert.True(t, c.HttpOnly)
			assert.True(t, c.Secure)
			assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
		})
	}
}

func TestLoginErrors(t *testing.T) {
	h, svc := newTestHandler(t)
	register(t, svc, "Hugo", "hugo@example.com", "pw")

	rec := do(h, http.MethodPost, "/login", `{"password":"pw"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/login", `{"email":"hugo@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/login", `{"email":"hugo@example.com","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"invalid credentials"}`, rec.Body.String())

	rec = do(h, http.MethodPost, "/login", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/login", `{"username":"Hugo","password":"pw"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMeWithCookieAndBearer(t *testing.T) {
	h, svc := newTestHandler(t)
	register(t, svc, "Lucie", "lucie@example.com", "pw")

	rec := do(h, http.MethodGet, "/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	login := do(h, http.MethodPost, "/api/login", `{"email":"lucie@example.com","password":"pw"}`)
	require.Equal(t, http.StatusOK, login.Code)
	cookie := login.Result().Cookies()[0]

	rec = do(h, http.MethodGet, "/me", "", func(r *http.Request) { r.AddCookie(cookie) })
	require.Equal(t, http.StatusOK, rec.Code)
	var me UserView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "Lucie", me.Username)

	rec = do(h, http.MethodGet, "/api/me", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+cookie.Value)
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodPost, "/logout", "", func(r *http.Request) { r.AddCookie(cookie) })
	assert.Equal(t, http.StatusNoContent, rec.Code)
	expired := rec.Result().Cookies()
	require.Len(t, expired, 1)
	assert.True(t, expired[0].MaxAge < 0)

	rec = do(h, http.MethodGet, "/me", "", func(r *http.Request) { r.AddCookie(cookie) })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutWithoutSession(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := do(h, http.MethodPost, "/logout", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRegisterEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(h, http.MethodPost, "/register",
		`{"username":"Théo","email":"theo@example.com","password":"pw","profile_picture":"https://img.example.com/t.png"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created UserView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "theo", created.Slug)
	require.NotNil(t, created.ProfilePicture)
	assert.Equal(t, []string{RoleUser}, created.Roles)

	rec = do(h, http.MethodPost, "/register", `{"username":"Théo","email":"nope","password":"pw"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body violationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Violations, Violation{Field: "username", Message: "violation.username.not_unique"})
	assert.Contains(t, body.Violations, Violation{Field: "email", Message: "violation.email.wrong_format"})
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := do(h, http.MethodOptions, "/login", "", func(r *http.Request) {
		r.Header.Set("Origin", "http://localhost:5173")
		r.Header.Set("Access-Control-Request-Method", "POST")
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}
