package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/app"
	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/handlers"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

// fakeAuthService mints predictable tokens and validates against a fixed
// set, so middleware behavior can be asserted without storage.
type fakeAuthService struct {
	issued   int
	issueErr error
	valid    map[string]bool
}

func (f *fakeAuthService) Issue(_ context.Context) (*models.UserToken, error) {
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	f.issued++
	now := time.Now().UTC()
	return &models.UserToken{
		Token:      fmt.Sprintf("usr_minted_%d", f.issued),
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(time.Hour),
	}, nil
}

func (f *fakeAuthService) Validate(_ context.Context, token string) (*models.UserToken, error) {
	if !f.valid[token] {
		return nil, interfaces.ErrInvalidToken
	}
	return &models.UserToken{
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}, nil
}

func (f *fakeAuthService) PurgeExpired(_ context.Context) (int, error) {
	return 0, nil
}

func newMiddlewareServer(auth interfaces.AuthService) *Server {
	return &Server{
		app: &app.App{
			Config:      common.NewDefaultConfig(),
			Logger:      arbor.NewLogger(),
			AuthService: auth,
		},
	}
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestAuthedMintsTokenOnFirstContact(t *testing.T) {
	auth := &fakeAuthService{}
	s := newMiddlewareServer(auth)

	var gotUserID string
	handler := s.authed(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = handlers.UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/active", nil))

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "usr_minted_1", gotUserID, "handler must see the freshly minted token")

	cookie := findCookie(rec.Result(), "doceo_user")
	require.NotNil(t, cookie, "first contact must set the user cookie")
	assert.Equal(t, "usr_minted_1", cookie.Value)
	assert.Equal(t, "/", cookie.Path)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Expires.After(time.Now()), "minted cookie must not be pre-expired")
}

func TestAuthedAcceptsValidToken(t *testing.T) {
	auth := &fakeAuthService{valid: map[string]bool{"usr_known": true}}
	s := newMiddlewareServer(auth)

	var gotUserID string
	handler := s.authed(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = handlers.UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/active", nil)
	req.AddCookie(&http.Cookie{Name: "doceo_user", Value: "usr_known"})
	rec := httptest.NewRecorder()
	handler(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "usr_known", gotUserID)
	assert.Zero(t, auth.issued, "a valid cookie must not mint a new token")
	assert.Nil(t, findCookie(rec.Result(), "doceo_user"), "no Set-Cookie on an already identified request")
}

func TestAuthedRejectsInvalidToken(t *testing.T) {
	auth := &fakeAuthService{}
	s := newMiddlewareServer(auth)

	nextCalled := false
	handler := s.authed(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/active", nil)
	req.AddCookie(&http.Cookie{Name: "doceo_user", Value: "usr_forged"})
	rec := httptest.NewRecorder()
	handler(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, nextCalled)
	assert.Contains(t, rec.Body.String(), "Invalid or expired user token")

	cookie := findCookie(rec.Result(), "doceo_user")
	require.NotNil(t, cookie, "rejection must clear the stale cookie")
	assert.Empty(t, cookie.Value)
	assert.True(t, cookie.Expires.Before(time.Now()), "clearing cookie must be expired")
}

func TestAuthedEmptyCookieMintsFresh(t *testing.T) {
	auth := &fakeAuthService{}
	s := newMiddlewareServer(auth)

	var gotUserID string
	handler := s.authed(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = handlers.UserIDFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/active", nil)
	req.AddCookie(&http.Cookie{Name: "doceo_user", Value: ""})
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, "usr_minted_1", gotUserID, "an empty cookie value counts as first contact")
}

func TestAuthedIssueFailure(t *testing.T) {
	auth := &fakeAuthService{issueErr: errors.New("storage offline")}
	s := newMiddlewareServer(auth)

	nextCalled := false
	handler := s.authed(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/active", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, nextCalled)
	assert.Nil(t, findCookie(rec.Result(), "doceo_user"))
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	s := newMiddlewareServer(&fakeAuthService{})

	innerCalled := false
	handler := s.withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		innerCalled = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/jobs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, innerCalled, "preflight must not reach the route handler")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Last-Event-ID")
}

func TestCORSHeadersOnNormalRequests(t *testing.T) {
	s := newMiddlewareServer(&fakeAuthService{})

	handler := s.withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryMiddlewareReturnsJSON500(t *testing.T) {
	s := newMiddlewareServer(&fakeAuthService{})

	handler := s.withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Internal server error")
}

func TestResponseWriterStatusAndFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusTeapot)
	assert.Equal(t, http.StatusTeapot, rw.statusCode)
	assert.Equal(t, http.StatusTeapot, rec.Code)

	// SSE handlers flush after every frame; the wrapper must forward it.
	rw.Flush()
	assert.True(t, rec.Flushed)
}
