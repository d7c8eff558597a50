package view

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitbridge/kitbridge/internal/gate"
	"github.com/kitbridge/kitbridge/internal/principal"
	"github.com/kitbridge/kitbridge/internal/token"
)

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine()
	assert.NoError(t, err, "Templates should parse without error")
	assert.NotNil(t, engine)
}

func newPagesRouter(t *testing.T, ctx context.Context) http.Handler {
	t.Helper()
	engine, err := NewEngine()
	require.NoError(t, err)
	r := chi.NewRouter()
	if ctx != nil {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(context.WithValue(ctx, chi.RouteCtxKey, chi.RouteContext(req.Context()))))
			})
		})
	}
	NewPages(engine, nil).MountRoutes(r)
	return r
}

func TestIndexListsPortals(t *testing.T) {
	rr := httptest.NewRecorder()
	newPagesRouter(t, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	for _, d := range principal.Descriptors() {
		assert.Contains(t, rr.Body.String(), `href="`+d.LoginPath+`"`)
	}
}

func TestLoginPageShowsError(t *testing.T) {
	rr := httptest.NewRecorder()
	newPagesRouter(t, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/donors/login?error=pending_approval", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), `action="/api/donors/login"`)
	assert.Contains(t, rr.Body.String(), "awaiting administrator approval")

	rr = httptest.NewRecorder()
	newPagesRouter(t, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/login?error=%3Cscript%3E", nil))
	assert.Contains(t, rr.Body.String(), "Something went wrong")
	assert.NotContains(t, rr.Body.String(), "<script>")
}

func TestLandingPageRequiresClaims(t *testing.T) {
	rr := httptest.NewRecorder()
	newPagesRouter(t, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/schools", nil))
	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/login", rr.Header().Get("Location"))
}

func TestLandingPageRendersClaims(t *testing.T) {
	expires := time.Date(2026, 11, 15, 10, 0, 0, 0, time.UTC)
	claims := &token.Claims{
		Identity: token.Identity{PrincipalID: 7, SecondaryID: "GOV-1A2B3C4D", Email: "board@x.io", Role: principal.KindGoverningBody},
		Purpose:  token.PurposeSession,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	ctx := gate.ContextWithClaims(context.Background(), claims)

	rr := httptest.NewRecorder()
	newPagesRouter(t, ctx).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/governing-body", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "GOV-1A2B3C4D")
	assert.Contains(t, body, "board@x.io")
	assert.Contains(t, body, "15 Nov 2026 10:00")
	assert.Contains(t, body, `action="/api/governing-body/logout"`)

	// Claims of another kind do not render this landing page.
	rr = httptest.NewRecorder()
	newPagesRouter(t, ctx).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/donors", nil))
	assert.Equal(t, http.StatusFound, rr.Code)
}
