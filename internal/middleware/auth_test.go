package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/forgo/trellis/internal/model"
	"github.com/forgo/trellis/pkg/jwt"
)

// ============================================================================
// Test Helpers
// ============================================================================

type mockValidator struct {
	validateFunc func(token string) (*AuthCredentials, User, error)
}

func (m *mockValidator) ValidateToken(_ context.Context, token string) (*AuthCredentials, User, error) {
	return m.validateFunc(token)
}

func newTestRequest(authHeader string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	return req
}

func basicHeader(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

func testBasicBackend(t *testing.T) *BasicAuthBackend {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewBasicAuthBackend(map[string]string{"alice": string(hash)}, "authenticated", "admin")
}

func withAuth(r *http.Request, user User, scopes ...string) *http.Request {
	ctx := context.WithValue(r.Context(), AuthKey, &authState{creds: AuthCredentials{Scopes: scopes}, user: user})
	return r.WithContext(ctx)
}

// ============================================================================
// Authentication() Middleware Tests
// ============================================================================

func TestAuthentication_NoCredentials_Unauthenticated(t *testing.T) {
	t.Parallel()

	handler := &captureHandler{}
	rr := httptest.NewRecorder()

	Authentication(testBasicBackend(t), nil)(handler).ServeHTTP(rr, newTestRequest(""))

	require.True(t, handler.called)
	user := GetUser(handler.ctx)
	assert.False(t, user.IsAuthenticated())
	assert.Empty(t, GetAuth(handler.ctx).Scopes)
}

func TestAuthentication_ValidBasic_AttachesUser(t *testing.T) {
	t.Parallel()

	handler := &captureHandler{}
	rr := httptest.NewRecorder()

	Authentication(testBasicBackend(t), nil)(handler).ServeHTTP(rr, newTestRequest(basicHeader("alice", "secret")))

	require.True(t, handler.called)
	user := GetUser(handler.ctx)
	assert.True(t, user.IsAuthenticated())
	assert.Equal(t, "alice", user.DisplayName())
	assert.Equal(t, []string{"authenticated", "admin"}, GetAuth(handler.ctx).Scopes)
}

func TestAuthentication_WrongPassword_Returns400(t *testing.T) {
	t.Parallel()

	handler := &captureHandler{}
	rr := httptest.NewRecorder()

	Authentication(testBasicBackend(t), nil)(handler).ServeHTTP(rr, newTestRequest(basicHeader("alice", "wrong")))

	assert.False(t, handler.called)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), ErrInvalidCredentials.Error())
}

func TestAuthentication_MalformedBasic_Returns400(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()

	Authentication(testBasicBackend(t), nil)(&captureHandler{}).ServeHTTP(rr, newTestRequest("Basic !!!notbase64"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAuthentication_OtherScheme_Ignored(t *testing.T) {
	t.Parallel()

	handler := &captureHandler{}

	Authentication(testBasicBackend(t), nil)(handler).ServeHTTP(httptest.NewRecorder(), newTestRequest("Bearer abc"))

	require.True(t, handler.called)
	assert.False(t, GetUser(handler.ctx).IsAuthenticated())
}

func TestAuthentication_CustomOnError(t *testing.T) {
	t.Parallel()

	backend := AuthBackendFunc(func(r *http.Request) (*AuthCredentials, User, error) {
		return nil, nil, errors.New("backend down")
	})
	onError := func(w http.ResponseWriter, r *http.Request, err error) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("custom: " + err.Error()))
	}
	rr := httptest.NewRecorder()

	Authentication(backend, onError)(&captureHandler{}).ServeHTTP(rr, newTestRequest(""))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "custom: backend down", rr.Body.String())
}

func TestAuthentication_CopiesScopes(t *testing.T) {
	t.Parallel()

	shared := &AuthCredentials{Scopes: []string{"read"}}
	backend := AuthBackendFunc(func(r *http.Request) (*AuthCredentials, User, error) {
		return shared, SimpleUser{Username: "bob"}, nil
	})
	handler := &captureHandler{}

	Authentication(backend, nil)(handler).ServeHTTP(httptest.NewRecorder(), newTestRequest(""))
	shared.Scopes[0] = "write"

	assert.Equal(t, []string{"read"}, GetAuth(handler.ctx).Scopes)
}

// ============================================================================
// Bearer Backend Tests
// ============================================================================

func TestBearerBackend_ValidToken(t *testing.T) {
	t.Parallel()

	backend := BearerBackend{Validator: &mockValidator{
		validateFunc: func(token string) (*AuthCredentials, User, error) {
			assert.Equal(t, "tok-123", token)
			return &AuthCredentials{Scopes: []string{"api"}}, SimpleUser{Username: "svc"}, nil
		},
	}}

	creds, user, err := backend.Authenticate(newTestRequest("Bearer tok-123"))

	require.NoError(t, err)
	assert.Equal(t, "svc", user.Identity())
	assert.True(t, creds.Has("api"))
}

func TestBearerBackend_EmptyToken(t *testing.T) {
	t.Parallel()

	backend := BearerBackend{Validator: &mockValidator{}}

	_, _, err := backend.Authenticate(newTestRequest("Bearer  "))

	assert.ErrorIs(t, err, ErrInvalidAuthHeader)
}

func TestBearerBackend_NoHeader(t *testing.T) {
	t.Parallel()

	backend := BearerBackend{Validator: &mockValidator{}}

	creds, user, err := backend.Authenticate(newTestRequest(""))

	assert.NoError(t, err)
	assert.Nil(t, creds)
	assert.Nil(t, user)
}

// ============================================================================
// JWT Validator Tests
// ============================================================================

func newJWTService(t *testing.T) *jwt.Service {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return jwt.NewWithKey(key, "trellis", time.Minute)
}

func TestJWTValidator_ScopesBecomeCredentials(t *testing.T) {
	t.Parallel()

	svc := newJWTService(t)
	token, err := svc.Sign(jwt.Claims{Subject: "user-7", Name: "Grace", Scope: "authenticated admin"})
	require.NoError(t, err)

	handler := &captureHandler{}
	backend := BearerBackend{Validator: JWTValidator{Service: svc}}
	Authentication(backend, nil)(handler).ServeHTTP(httptest.NewRecorder(), newTestRequest("Bearer "+token))

	require.True(t, handler.called)
	user := GetUser(handler.ctx)
	assert.Equal(t, "user-7", user.Identity())
	assert.Equal(t, "Grace", user.DisplayName())
	assert.True(t, GetAuth(handler.ctx).Has("authenticated", "admin"))
}

func TestJWTValidator_InvalidToken(t *testing.T) {
	t.Parallel()

	_, _, err := JWTValidator{Service: newJWTService(t)}.ValidateToken(context.Background(), "not.a.token")

	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.ErrorIs(t, err, jwt.ErrInvalidToken)
}

func TestTokenUser_DisplayNameFallsBackToSubject(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "user-7", TokenUser{Subject: "user-7"}.DisplayName())
}

// ============================================================================
// FirstOf Tests
// ============================================================================

func TestFirstOf_FallsThroughToMatchingBackend(t *testing.T) {
	t.Parallel()

	bearer := BearerBackend{Validator: &mockValidator{validateFunc: func(string) (*AuthCredentials, User, error) {
		return &AuthCredentials{Scopes: []string{"api"}}, SimpleUser{Username: "svc"}, nil
	}}}
	backend := FirstOf(bearer, testBasicBackend(t))

	_, user, err := backend.Authenticate(newTestRequest(basicHeader("alice", "secret")))
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Identity())

	_, user, err = backend.Authenticate(newTestRequest("Bearer tok"))
	require.NoError(t, err)
	assert.Equal(t, "svc", user.Identity())

	_, user, err = backend.Authenticate(newTestRequest(""))
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestFirstOf_ErrorStops(t *testing.T) {
	t.Parallel()

	called := false
	failing := AuthBackendFunc(func(*http.Request) (*AuthCredentials, User, error) {
		return nil, nil, ErrInvalidCredentials
	})
	never := AuthBackendFunc(func(*http.Request) (*AuthCredentials, User, error) {
		called = true
		return nil, nil, nil
	})

	_, _, err := FirstOf(failing, never).Authenticate(newTestRequest(""))

	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.False(t, called)
}

// ============================================================================
// Context Helper Tests
// ============================================================================

func TestGetUser_Missing_ReturnsUnauthenticated(t *testing.T) {
	t.Parallel()

	user := GetUser(context.Background())

	assert.Equal(t, UnauthenticatedUser{}, user)
	assert.Empty(t, user.Identity())
}

func TestAuthCredentials_Has(t *testing.T) {
	t.Parallel()

	creds := AuthCredentials{Scopes: []string{"a", "b"}}

	assert.True(t, creds.Has())
	assert.True(t, creds.Has("a"))
	assert.True(t, creds.Has("b", "a"))
	assert.False(t, creds.Has("a", "c"))
}

func TestHashPassword_RoundTrip(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("pw")
	require.NoError(t, err)

	backend := NewBasicAuthBackend(map[string]string{"u": hash})
	creds, _, err := backend.Authenticate(newTestRequest(basicHeader("u", "pw")))

	require.NoError(t, err)
	assert.Equal(t, []string{"authenticated"}, creds.Scopes)
}

// ============================================================================
// Requires() Tests
// ============================================================================

func TestRequires_ScopePresent_Proceeds(t *testing.T) {
	t.Parallel()

	handler := &captureHandler{}
	rr := httptest.NewRecorder()

	Requires([]string{"admin"})(handler).ServeHTTP(rr, withAuth(newTestRequest(""), SimpleUser{Username: "a"}, "admin"))

	assert.True(t, handler.called)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequires_ScopeMissing_Returns403(t *testing.T) {
	t.Parallel()

	handler := &captureHandler{}
	rr := httptest.NewRecorder()

	Requires([]string{"admin"})(handler).ServeHTTP(rr, withAuth(newTestRequest(""), SimpleUser{Username: "a"}, "read"))

	assert.False(t, handler.called)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRequires_CustomStatus(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()

	Requires([]string{"authenticated"}, WithStatus(http.StatusNotFound))(&captureHandler{}).ServeHTTP(rr, newTestRequest(""))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRequires_Challenge_SetsHeader(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	Requires([]string{"authenticated"}, WithStatus(http.StatusUnauthorized), WithChallenge(`Basic realm="api"`))(&captureHandler{}).ServeHTTP(rr, newTestRequest(""))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, `Basic realm="api"`, rr.Header().Get("WWW-Authenticate"))
}

func TestRequires_Redirect_CarriesNext(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "http://example.com/admin?tab=1", nil)
	rr := httptest.NewRecorder()

	Requires([]string{"authenticated"}, WithRedirect("/login"))(&captureHandler{}).ServeHTTP(rr, req)

	require.Equal(t, http.StatusSeeOther, rr.Code)
	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/login", loc.Path)
	assert.Equal(t, "http://example.com/admin?tab=1", loc.Query().Get("next"))
}

func TestRequires_WebSocket_RaisesPolicyViolation(t *testing.T) {
	t.Parallel()

	var raised error
	boundary := Exceptions(OnType[*model.WebSocketError](NewExceptionHandlers(), func(w http.ResponseWriter, r *http.Request, err error) {
		raised = err
		w.WriteHeader(http.StatusForbidden)
	}))

	req := newTestRequest("")
	req.Header.Set("Upgrade", "websocket")
	rr := httptest.NewRecorder()

	boundary(Requires([]string{"authenticated"})(&captureHandler{})).ServeHTTP(rr, req)

	var wsErr *model.WebSocketError
	require.ErrorAs(t, raised, &wsErr)
	assert.Equal(t, 1008, wsErr.Code)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}
