package middleware

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/forgo/trellis/internal/model"
	"github.com/forgo/trellis/pkg/jwt"
)

// Authentication errors returned by the built-in backends
var (
	ErrInvalidAuthHeader  = errors.New("invalid authorization header")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// User is the identity attached to a request
type User interface {
	IsAuthenticated() bool
	DisplayName() string
	Identity() string
}

// SimpleUser is an authenticated user known only by name
type SimpleUser struct {
	Username string
}

func (u SimpleUser) IsAuthenticated() bool { return true }
func (u SimpleUser) DisplayName() string   { return u.Username }
func (u SimpleUser) Identity() string      { return u.Username }

// UnauthenticatedUser is attached when no credentials were presented
type UnauthenticatedUser struct{}

func (UnauthenticatedUser) IsAuthenticated() bool { return false }
func (UnauthenticatedUser) DisplayName() string   { return "" }
func (UnauthenticatedUser) Identity() string      { return "" }

// AuthCredentials lists the scopes granted to the request
type AuthCredentials struct {
	Scopes []string
}

// Has reports whether every scope is granted.
func (c AuthCredentials) Has(scopes ...string) bool {
	for _, want := range scopes {
		found := false
		for _, s := range c.Scopes {
			if s == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// AuthBackend resolves the credentials of a request. A request without
// credentials yields a nil user and a nil error.
type AuthBackend interface {
	Authenticate(r *http.Request) (*AuthCredentials, User, error)
}

// AuthBackendFunc adapts a function to AuthBackend
type AuthBackendFunc func(r *http.Request) (*AuthCredentials, User, error)

func (f AuthBackendFunc) Authenticate(r *http.Request) (*AuthCredentials, User, error) {
	return f(r)
}

type authState struct {
	creds AuthCredentials
	user  User
}

// Authentication attaches the backend's user and credentials to the request
// context. A backend error is passed to onError, which defaults to a 400
// response carrying the error text.
func Authentication(backend AuthBackend, onError ErrorHandler) Middleware {
	if onError == nil {
		onError = defaultAuthError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, user, err := backend.Authenticate(r)
			if err != nil {
				onError(w, r, err)
				return
			}

			state := &authState{creds: AuthCredentials{}, user: UnauthenticatedUser{}}
			if user != nil {
				state.user = user
				if creds != nil {
					state.creds = AuthCredentials{Scopes: append([]string(nil), creds.Scopes...)}
				}
			}

			ctx := context.WithValue(r.Context(), AuthKey, state)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func defaultAuthError(w http.ResponseWriter, r *http.Request, err error) {
	httpErr, _ := model.NewHTTPError(http.StatusBadRequest, model.WithDetail(err.Error()))
	Raise(w, r, httpErr)
}

// GetUser extracts the request's user; UnauthenticatedUser when absent
func GetUser(ctx context.Context) User {
	if state, ok := ctx.Value(AuthKey).(*authState); ok {
		return state.user
	}
	return UnauthenticatedUser{}
}

// GetAuth extracts the request's credentials
func GetAuth(ctx context.Context) AuthCredentials {
	if state, ok := ctx.Value(AuthKey).(*authState); ok {
		return state.creds
	}
	return AuthCredentials{}
}

// BasicAuthBackend checks HTTP Basic credentials against bcrypt hashes
type BasicAuthBackend struct {
	users  map[string][]byte
	scopes []string
}

// NewBasicAuthBackend builds a backend from user name to bcrypt hash pairs.
// Authenticated users are granted scopes, or "authenticated" when none are
// given.
func NewBasicAuthBackend(users map[string]string, scopes ...string) *BasicAuthBackend {
	if len(scopes) == 0 {
		scopes = []string{"authenticated"}
	}
	b := &BasicAuthBackend{users: make(map[string][]byte, len(users)), scopes: scopes}
	for name, hash := range users {
		b.users[name] = []byte(hash)
	}
	return b
}

// HashPassword returns a bcrypt hash suitable for NewBasicAuthBackend.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (b *BasicAuthBackend) Authenticate(r *http.Request) (*AuthCredentials, User, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil, nil
	}

	scheme, encoded, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Basic") {
		return nil, nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, nil, ErrInvalidAuthHeader
	}
	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return nil, nil, ErrInvalidAuthHeader
	}

	hash, known := b.users[username]
	if !known {
		return nil, nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	return &AuthCredentials{Scopes: append([]string(nil), b.scopes...)}, SimpleUser{Username: username}, nil
}

// TokenValidator validates bearer tokens
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*AuthCredentials, User, error)
}

// BearerBackend authenticates "Authorization: Bearer <token>" headers
type BearerBackend struct {
	Validator TokenValidator
}

func (b BearerBackend) Authenticate(r *http.Request) (*AuthCredentials, User, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil, nil
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, nil, nil
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, nil, ErrInvalidAuthHeader
	}

	return b.Validator.ValidateToken(r.Context(), token)
}

// TokenUser is a user identified by a verified token
type TokenUser struct {
	Subject string
	Name    string
}

func (u TokenUser) IsAuthenticated() bool { return true }
func (u TokenUser) Identity() string      { return u.Subject }

func (u TokenUser) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Subject
}

// JWTValidator validates bearer tokens signed by a jwt.Service. The scope
// claim becomes the request's credentials.
type JWTValidator struct {
	Service *jwt.Service
}

func (v JWTValidator) ValidateToken(_ context.Context, token string) (*AuthCredentials, User, error) {
	claims, err := v.Service.Validate(token)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	return &AuthCredentials{Scopes: claims.Scopes()}, TokenUser{Subject: claims.Subject, Name: claims.Name}, nil
}

// FirstOf tries backends in order. The first one that finds a user or
// fails decides the result.
func FirstOf(backends ...AuthBackend) AuthBackend {
	return AuthBackendFunc(func(r *http.Request) (*AuthCredentials, User, error) {
		for _, b := range backends {
			creds, user, err := b.Authenticate(r)
			if err != nil || user != nil {
				return creds, user, err
			}
		}
		return nil, nil, nil
	})
}

// RequireOption configures Requires
type RequireOption func(*requireConfig)

type requireConfig struct {
	status    int
	redirect  string
	challenge string
}

// WithStatus sets the status raised when scopes are missing (default 403).
func WithStatus(code int) RequireOption {
	return func(c *requireConfig) { c.status = code }
}

// WithRedirect sends callers lacking scopes to location with a "next"
// query parameter pointing back at the original URL.
func WithRedirect(location string) RequireOption {
	return func(c *requireConfig) { c.redirect = location }
}

// WithChallenge sets the WWW-Authenticate header of the rejection, e.g.
// `Basic realm="api"`.
func WithChallenge(challenge string) RequireOption {
	return func(c *requireConfig) { c.challenge = challenge }
}

// Requires rejects requests whose credentials lack any of scopes. WebSocket
// handshakes are refused with close code 1008.
func Requires(scopes []string, opts ...RequireOption) Middleware {
	cfg := requireConfig{status: http.StatusForbidden}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetAuth(r.Context()).Has(scopes...) {
				next.ServeHTTP(w, r)
				return
			}

			switch {
			case isWebSocket(r):
				Raise(w, r, model.NewWebSocketError(websocket.ClosePolicyViolation, "missing required scope"))
			case cfg.redirect != "":
				query := url.Values{"next": []string{requestURL(r)}}
				Raise(w, r, model.SeeOther(cfg.redirect+"?"+query.Encode()))
			default:
				var opts []model.HTTPErrorOption
				if cfg.challenge != "" {
					opts = append(opts, model.WithHeader("WWW-Authenticate", cfg.challenge))
				}
				err, nerr := model.NewHTTPError(cfg.status, opts...)
				if nerr != nil {
					err = model.InternalServerError()
				}
				Raise(w, r, err)
			}
		})
	}
}

func requestURL(r *http.Request) string {
	u := *r.URL
	if u.Host == "" {
		u.Host = r.Host
	}
	if u.Scheme == "" {
		u.Scheme = "http"
		if r.TLS != nil {
			u.Scheme = "https"
		}
	}
	return u.String()
}
