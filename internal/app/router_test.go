package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitbridge/kitbridge/internal/approvals"
	"github.com/kitbridge/kitbridge/internal/auth"
	"github.com/kitbridge/kitbridge/internal/gate"
	"github.com/kitbridge/kitbridge/internal/observability"
	"github.com/kitbridge/kitbridge/internal/principal"
	"github.com/kitbridge/kitbridge/internal/token"
	"github.com/kitbridge/kitbridge/internal/view"
	"github.com/kitbridge/kitbridge/jobs"
)

type memRepo struct {
	principal.Repository
	byEmail map[string]*principal.Principal
}

func (m *memRepo) FindByEmail(_ context.Context, kind principal.Kind, email string) (*principal.Principal, error) {
	if p, ok := m.byEmail[string(kind)+"|"+principal.NormalizeEmail(email)]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, principal.ErrNotFound
}

func (m *memRepo) FindByID(_ context.Context, kind principal.Kind, id int64) (*principal.Principal, error) {
	for _, p := range m.byEmail {
		if p.Kind == kind && p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, principal.ErrNotFound
}

func (m *memRepo) ListPending(context.Context, principal.Kind) ([]principal.Principal, error) {
	return nil, nil
}

func newTestRouter(t *testing.T, health func(*http.Request) error) (http.Handler, *observability.Metrics) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hash, err := principal.HashPassword("school-password")
	require.NoError(t, err)
	repo := &memRepo{byEmail: map[string]*principal.Principal{
		"school|north@x.io": {ID: 1, Kind: principal.KindSchool, DisplayID: "SCH-00000001", Name: "North High", Email: "north@x.io", PasswordHash: hash, Verified: true, AdminVerified: true},
	}}
	signer, err := token.NewSigner("router-test-secret-router-test-secret")
	require.NoError(t, err)
	metrics := observability.NewMetrics()
	g := gate.New(gate.Config{Verifier: signer, Logger: logger, Metrics: metrics})
	engine, err := view.NewEngine()
	require.NoError(t, err)
	cfg := &Config{AppEnv: "development", AppRequestTimeout: 0}

	router := NewRouter(RouterParams{
		Logger: logger,
		Config: cfg,
		Gate:   g,
		Pages:  view.NewPages(engine, logger),
		AuthHandler: auth.NewHandler(auth.HandlerConfig{
			Logger:  logger,
			Service: auth.NewService(auth.ServiceConfig{Repo: repo, Signer: signer, BaseURL: "http://localhost:8080", Logger: logger, Metrics: metrics}),
			Gate:    g,
		}),
		ApprovalsHandler: approvals.NewHandler(approvals.NewService(repo, logger), g, logger),
		JobHandler:       jobs.NewHandler(nil, logger),
		Metrics:          metrics,
		HealthCheck:      health,
	})
	return router, metrics
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	rr := serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	down, _ := newTestRouter(t, func(*http.Request) error { return errors.New("pg down") })
	rr = serve(down, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestProtectedPageRedirectsToLogin(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	for path, login := range map[string]string{
		"/schools":              "/login",
		"/schools/equipment":    "/login",
		"/admin":                "/admin/login",
		"/donors/history":       "/donors/login",
		"/governing-body/board": "/governing-body/login",
	} {
		rr := serve(router, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusFound, rr.Code, path)
		assert.Equal(t, login, rr.Header().Get("Location"), path)
	}
}

func TestLoginThenLandingPage(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/schools/login", strings.NewReader(`{"email":"North@X.io","password":"school-password"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := serve(router, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var session *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == "auth_token" {
			session = c
		}
	}
	require.NotNil(t, session)

	req = httptest.NewRequest(http.MethodGet, "/schools", nil)
	req.AddCookie(session)
	rr = serve(router, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "SCH-00000001")

	req = httptest.NewRequest(http.MethodGet, "/login", nil)
	req.AddCookie(session)
	rr = serve(router, req)
	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/schools", rr.Header().Get("Location"))

	// The school cookie grants nothing on the admin side.
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(session)
	rr = serve(router, req)
	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/admin/login", rr.Header().Get("Location"))

	body := serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil)).Body.String()
	assert.Contains(t, body, `kitbridge_login_attempts_total{kind="school",outcome="success"} 1`)
}

func TestPublicRoutes(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = serve(router, httptest.NewRequest(http.MethodGet, "/donors/login", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = serve(router, httptest.NewRequest(http.MethodGet, "/static/css/app.css", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "public, max-age=3600", rr.Header().Get("Cache-Control"))
	assert.Equal(t, "text/css; charset=utf-8", rr.Header().Get("Content-Type"))

	rr = serve(router, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = serve(router, httptest.NewRequest(http.MethodGet, "/api/admin/approvals/school", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
