package platform

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"lnm/internal/httpserver"
	"lnm/internal/logging"

	"github.com/gorilla/mux"
)

// CookieSettings controls the session cookie.
type CookieSettings struct {
	Name   string
	Domain string
	Secure bool
}

// Handler exposes the Service over HTTP.
type Handler struct {
	svc          *Service
	cookie       CookieSettings
	maxBodyBytes int64
}

// NewHandler creates the HTTP surface.
func NewHandler(svc *Service, cookie CookieSettings, maxBodyBytes int64) *Handler {
	if cookie.Name == "" {
		cookie.Name = "session_token"
	}
	return &Handler{svc: svc, cookie: cookie, maxBodyBytes: maxBodyBytes}
}

// Router builds the routes, wrapped with CORS for the given origins.
func (h *Handler) Router(allowedOrigins []string) http.Handler {
	r := mux.NewRouter()
	for _, path := range []string{"/login", "/auth", "/api/login"} {
		r.HandleFunc(path, h.handleLogin).Methods(http.MethodPost)
	}
	r.HandleFunc("/logout", h.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/api/logout", h.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/me", h.handleMe).Methods(http.MethodGet)
	r.HandleFunc("/api/me", h.handleMe).Methods(http.MethodGet)
	r.HandleFunc("/register", h.handleRegister).Methods(http.MethodPost)
	return httpserver.CORS(allowedOrigins)(r)
}

type loginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	UserView
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpserver.DecodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		httpserver.WriteError(w, httpserver.StatusForDecodeError(err), err.Error())
		return
	}
	identifier := strings.TrimSpace(req.Email)
	if identifier == "" {
		identifier = strings.TrimSpace(req.Username)
	}
	if identifier == "" {
		httpserver.WriteError(w, http.StatusBadRequest, "email is required")
		return
	}
	if req.Password == "" {
		httpserver.WriteError(w, http.StatusBadRequest, "password is required")
		return
	}

	audit := logging.AuditFor(logging.CategoryAuth, httpserver.GetRequestID(r.Context()))
	res, err := h.svc.Login(r.Context(), identifier, req.Password)
	audit.Login(identifier, r.RemoteAddr, err)
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		httpserver.WriteError(w, http.StatusUnauthorized, "invalid credentials")
		return
	case errors.Is(err, ErrUserDisabled):
		httpserver.WriteError(w, http.StatusForbidden, "account disabled")
		return
	case err != nil:
		httpserver.RequestLogger(r, logging.CategoryAuth).Error("login failed: %v", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	http.SetCookie(w, h.sessionCookie(res.Token, res.ExpiresAt))
	httpserver.WriteJSON(w, http.StatusOK, loginResponse{
		UserView:  res.User.View(),
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := h.token(r); token != "" {
		err := h.svc.Logout(r.Context(), token)
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			httpserver.RequestLogger(r, logging.CategoryAuth).Error("logout failed: %v", err)
			httpserver.WriteError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		logging.AuditFor(logging.CategoryAuth, httpserver.GetRequestID(r.Context())).Log(logging.AuditEvent{
			EventType:  logging.AuditLogout,
			RemoteAddr: r.RemoteAddr,
			Success:    err == nil,
		})
	}
	http.SetCookie(w, h.expiredCookie())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Authenticate(r.Context(), h.token(r))
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionExpired),
		errors.Is(err, ErrUserDisabled), errors.Is(err, ErrUserNotFound):
		httpserver.WriteError(w, http.StatusUnauthorized, "not authenticated")
		return
	case err != nil:
		httpserver.RequestLogger(r, logging.CategoryAuth).Error("authenticate: %v", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, u.View())
}

type violationResponse struct {
	Error      string      `json:"error"`
	Violations []Violation `json:"violations"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in RegisterInput
	if err := httpserver.DecodeJSON(w, r, h.maxBodyBytes, &in); err != nil {
		httpserver.WriteError(w, httpserver.StatusForDecodeError(err), err.Error())
		return
	}
	u, err := h.svc.Register(r.Context(), in)
	var verrs ValidationErrors
	switch {
	case errors.As(err, &verrs):
		httpserver.WriteJSON(w, http.StatusUnprocessableEntity, violationResponse{
			Error:      "validation failed",
			Violations: verrs,
		})
		return
	case err != nil:
		httpserver.RequestLogger(r, logging.CategoryPlatform).Error("register: %v", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, u.View())
}

// token reads the session token from the Authorization header or the cookie.
func (h *Handler) token(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if scheme, value, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value)
		}
	}
	if c, err := r.Cookie(h.cookie.Name); err == nil {
		return c.Value
	}
	return ""
}

func (h *Handler) sessionCookie(token string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     h.cookie.Name,
		Value:    token,
		Path:     "/",
		Domain:   h.cookie.Domain,
		Expires:  expires,
		MaxAge:   int(expires.Sub(h.svc.now()).Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (h *Handler) expiredCookie() *http.Cookie {
	return &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		Domain:   h.cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}
