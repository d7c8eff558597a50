// Package gate classifies inbound requests against the role route table
// before any page handler runs.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kitbridge/kitbridge/internal/observability"
	"github.com/kitbridge/kitbridge/internal/platform/httpx"
	"github.com/kitbridge/kitbridge/internal/principal"
	"github.com/kitbridge/kitbridge/internal/token"
)

var (
	// ErrNoCookie indicates the role cookie is absent or empty.
	ErrNoCookie = errors.New("session cookie missing")
	// ErrRoleMismatch indicates the token belongs to a different kind.
	ErrRoleMismatch = errors.New("session role mismatch")
	// ErrRevoked indicates the token was revoked before expiry.
	ErrRevoked = errors.New("session revoked")
)

// Verifier validates session tokens.
type Verifier interface {
	Verify(raw string) (*token.Claims, error)
}

// Revocations answers whether a token id has been revoked.
type Revocations interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Outcome is the result of classifying a request.
type Outcome int

const (
	Allowed Outcome = iota
	RedirectLogin
	RedirectHome
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case RedirectLogin:
		return "redirect_login"
	case RedirectHome:
		return "redirect_home"
	default:
		return "unknown"
	}
}

// Decision is the gate's verdict for a single request.
type Decision struct {
	Outcome  Outcome
	Location string
	// ClearCookie names a stale cookie that must be deleted.
	ClearCookie string
	Claims      *token.Claims
	Kind        principal.Kind
	Reason      string
}

// Config carries Gate dependencies.
type Config struct {
	Verifier      Verifier
	Revocations   Revocations
	Logger        *slog.Logger
	Metrics       *observability.Metrics
	SecureCookies bool
	// Rules overrides DefaultRules when non-empty.
	Rules []Rule
}

// Gate enforces the route table.
type Gate struct {
	rules         table
	verifier      Verifier
	revocations   Revocations
	logger        *slog.Logger
	metrics       *observability.Metrics
	secureCookies bool
}

// New constructs a Gate.
func New(cfg Config) *Gate {
	rules := cfg.Rules
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		rules:         newTable(rules),
		verifier:      cfg.Verifier,
		revocations:   cfg.Revocations,
		logger:        logger,
		metrics:       cfg.Metrics,
		secureCookies: cfg.SecureCookies,
	}
}

// Classify decides what happens to r. It never fails: every error is
// folded into a redirect or a pass-through.
func (g *Gate) Classify(r *http.Request) Decision {
	rule, ok := g.rules.match(r.URL.Path)
	if !ok {
		return Decision{Outcome: Allowed, Reason: "unmatched"}
	}
	desc, err := principal.Describe(rule.Kind)
	if err != nil {
		g.logger.Error("gate rule references unknown kind", slog.String("kind", string(rule.Kind)))
		return Decision{Outcome: Allowed, Reason: "unmatched"}
	}

	claims, err := g.Authenticate(r, desc)
	switch rule.Access {
	case LoginPage:
		if err == nil {
			return Decision{Outcome: RedirectHome, Location: desc.HomePath, Claims: claims, Kind: desc.Kind, Reason: "authenticated"}
		}
		return Decision{Outcome: Allowed, Kind: desc.Kind, Reason: reason(err)}
	case Protected:
		if err == nil {
			return Decision{Outcome: Allowed, Claims: claims, Kind: desc.Kind, Reason: "ok"}
		}
		d := Decision{Outcome: RedirectLogin, Location: desc.LoginPath, Kind: desc.Kind, Reason: reason(err)}
		if !errors.Is(err, ErrNoCookie) && !errors.Is(err, ErrRoleMismatch) {
			d.ClearCookie = desc.Cookie
		}
		return d
	default:
		return Decision{Outcome: Allowed, Reason: "unmatched"}
	}
}

// Authenticate reads desc's cookie from r and returns its verified claims.
func (g *Gate) Authenticate(r *http.Request, desc principal.Descriptor) (*token.Claims, error) {
	cookie, err := r.Cookie(desc.Cookie)
	if err != nil || cookie.Value == "" {
		return nil, ErrNoCookie
	}
	claims, err := g.safeVerify(cookie.Value)
	if err != nil {
		return nil, err
	}
	if claims.Role != desc.Kind {
		return nil, ErrRoleMismatch
	}
	if g.revocations != nil {
		revoked, err := g.revocations.IsRevoked(r.Context(), claims.RegisteredClaims.ID)
		if err != nil {
			g.logger.Error("gate denylist lookup", slog.Any("error", err))
			return nil, ErrRevoked
		}
		if revoked {
			return nil, ErrRevoked
		}
	}
	return claims, nil
}

func (g *Gate) safeVerify(raw string) (claims *token.Claims, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error("gate verifier panic", slog.Any("panic", rec))
			claims, err = nil, fmt.Errorf("%w: verifier panic", token.ErrMalformed)
		}
	}()
	if g.verifier == nil {
		return nil, fmt.Errorf("%w: no verifier configured", token.ErrSignatureInvalid)
	}
	return g.verifier.Verify(raw)
}

// Middleware applies Classify to every request, redirecting with 302 or
// passing the request on with claims in its context.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.Classify(r)
		if d.Kind != "" {
			g.metrics.ObserveGate(string(d.Kind), d.Outcome.String(), d.Reason)
		}
		switch d.Outcome {
		case RedirectLogin, RedirectHome:
			if d.Outcome == RedirectLogin && d.Reason != reason(ErrNoCookie) {
				g.logger.Info("gate redirect",
					slog.String("path", r.URL.Path),
					slog.String("kind", string(d.Kind)),
					slog.String("reason", d.Reason),
				)
			}
			if d.ClearCookie != "" {
				ClearSessionCookie(w, d.ClearCookie, g.secureCookies)
			}
			http.Redirect(w, r, d.Location, http.StatusFound)
			return
		}
		if d.Claims != nil {
			r = r.WithContext(ContextWithClaims(r.Context(), d.Claims))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireKind guards JSON APIs: requests without a valid token of kind get
// 401 instead of a redirect.
func (g *Gate) RequireKind(kind principal.Kind) func(http.Handler) http.Handler {
	desc := principal.MustDescribe(kind)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := g.Authenticate(r, desc)
			if err != nil {
				g.metrics.ObserveGate(string(kind), "unauthorized", reason(err))
				httpx.Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

func reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoCookie):
		return "no_cookie"
	case errors.Is(err, ErrRoleMismatch):
		return "role_mismatch"
	case errors.Is(err, ErrRevoked):
		return "revoked"
	default:
		return token.Kind(err)
	}
}
