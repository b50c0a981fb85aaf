package auth

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	cierrors "certinv/internal/errors"
	"certinv/internal/httputil"
	"certinv/internal/logger"
	"certinv/internal/validation"
)

const CookieName = "certinv_session"

const DefaultSessionTTL = 12 * time.Hour

// User is a configured account.
type User struct {
	Email        string
	PasswordHash string
	TOTPSecret   string
}

type session struct {
	email     string
	expiresAt time.Time
}

// SessionStore keeps login sessions in memory, keyed by an opaque cookie token.
type SessionStore struct {
	mu            sync.Mutex
	users         map[string]User
	sessions      map[string]session
	ttl           time.Duration
	secureCookies bool
	now           func() time.Time
}

func NewSessionStore(users []User, ttl time.Duration, secureCookies bool) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	byEmail := make(map[string]User, len(users))
	for _, user := range users {
		byEmail[normalizeEmail(user.Email)] = user
	}
	return &SessionStore{
		users:         byEmail,
		sessions:      make(map[string]session),
		ttl:           ttl,
		secureCookies: secureCookies,
		now:           time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func createToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Authenticate checks the password and, when the user has a TOTP secret, the code.
func (s *SessionStore) Authenticate(email, password, code string) (*Identity, error) {
	user, ok := s.users[normalizeEmail(email)]
	if !ok {
		rejectUnknown(password)
		return nil, cierrors.ErrInvalidCredentials
	}
	if !checkPassword(user.PasswordHash, password) || !validTOTP(user.TOTPSecret, code) {
		return nil, cierrors.ErrInvalidCredentials
	}
	return &Identity{Email: user.Email}, nil
}

// Start opens a session for identity and returns its token and expiry.
func (s *SessionStore) Start(identity *Identity) (string, time.Time, error) {
	token, err := createToken()
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := s.now().Add(s.ttl)
	s.mu.Lock()
	s.sessions[token] = session{email: identity.Email, expiresAt: expiresAt}
	s.mu.Unlock()
	return token, expiresAt, nil
}

// Resolve returns the identity behind token; expired sessions are dropped.
func (s *SessionStore) Resolve(token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, cierrors.ErrUnauthorized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[token]
	if !ok {
		return nil, cierrors.ErrUnauthorized
	}
	if s.now().After(current.expiresAt) {
		delete(s.sessions, token)
		return nil, cierrors.ErrSessionExpired
	}
	return &Identity{Email: current.email}, nil
}

func (s *SessionStore) End(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// Prune drops expired sessions and reports how many remain.
func (s *SessionStore) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for token, current := range s.sessions {
		if now.After(current.expiresAt) {
			delete(s.sessions, token)
		}
	}
	return len(s.sessions)
}

// Middleware attaches the session identity, if any, to the request context.
// It never rejects a request; operations decide whether identity is required.
func (s *SessionStore) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(CookieName)
		if err == nil {
			if identity, resolveErr := s.Resolve(cookie.Value); resolveErr == nil {
				r = r.WithContext(WithIdentity(r.Context(), identity))
			}
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Code     string `json:"code"`
}

func (s *SessionStore) login(w http.ResponseWriter, r *http.Request) {
	var payload loginRequest
	if err := validation.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, cierrors.Message(err))
		return
	}
	identity, err := s.Authenticate(payload.Email, payload.Password, payload.Code)
	if err != nil {
		logger.HTTPError(r.Method, r.URL.Path, http.StatusUnauthorized, err).
			Str("client_ip", httputil.ClientIP(r, false)).
			Msg("login rejected")
		httputil.WriteError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	token, expiresAt, err := s.Start(identity)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}
	http.SetCookie(w, &http.Cookie{Name: CookieName, Value: token, Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode, Secure: s.secureCookies, Expires: expiresAt})
	httputil.WriteJSON(w, http.StatusOK, identity)
}

func (s *SessionStore) logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(CookieName); err == nil {
		s.End(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: CookieName, Value: "", Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode, Secure: s.secureCookies, Expires: time.Unix(0, 0), MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func me(w http.ResponseWriter, r *http.Request) {
	identity := FromContext(r.Context())
	if identity == nil {
		httputil.WriteError(w, http.StatusUnauthorized, cierrors.Message(cierrors.ErrUnauthorized))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, identity)
}

// RegisterRoutes mounts the login, logout and me endpoints. The router must
// already run s.Middleware.
func (s *SessionStore) RegisterRoutes(router chi.Router) {
	router.Post("/api/auth/login", s.login)
	router.Post("/api/auth/logout", s.logout)
	router.Get("/api/auth/me", me)
}
