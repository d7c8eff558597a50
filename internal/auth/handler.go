package auth

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/kitbridge/kitbridge/internal/gate"
	"github.com/kitbridge/kitbridge/internal/platform/httpx"
	"github.com/kitbridge/kitbridge/internal/principal"
)

// Revoker records logged-out tokens until they expire.
type Revoker interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
}

// HandlerConfig collects Handler dependencies.
type HandlerConfig struct {
	Logger  *slog.Logger
	Service *Service
	Gate    *gate.Gate
	Revoker Revoker
	// SecureCookies sets the Secure attribute on session cookies.
	SecureCookies bool
	// Debug includes internal error detail in 500 responses.
	Debug bool
	// LoginRateLimit caps login and register attempts per IP per minute.
	LoginRateLimit int
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger        *slog.Logger
	service       *Service
	gate          *gate.Gate
	revoker       Revoker
	validator     *validator.Validate
	secureCookies bool
	debug         bool
	rateLimit     int
}

// NewHandler constructs a Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:        logger,
		service:       cfg.Service,
		gate:          cfg.Gate,
		revoker:       cfg.Revoker,
		validator:     validator.New(),
		secureCookies: cfg.SecureCookies,
		debug:         cfg.Debug,
		rateLimit:     cfg.LoginRateLimit,
	}
}

// MountRoutes registers one route group per principal kind.
func (h *Handler) MountRoutes(r chi.Router) {
	for _, d := range principal.Descriptors() {
		r.Route("/"+d.Segment, func(r chi.Router) {
			limited := r.With(h.limiter())
			limited.Post("/login", h.login(d))
			if d.SelfRegister {
				limited.Post("/register", h.register(d))
			}
			r.Get("/session", h.session(d))
			r.Post("/logout", h.logout(d))
		})
	}
	r.Get("/verify-email", h.verifyEmail)
}

func (h *Handler) limiter() func(http.Handler) http.Handler {
	if h.rateLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(h.rateLimit, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Error(w, http.StatusTooManyRequests, "Too many attempts, try again later")
		}),
	)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) login(d principal.Descriptor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form := isFormPost(r)
		var req loginRequest
		if form {
			if err := r.ParseForm(); err != nil {
				httpx.Error(w, http.StatusBadRequest, "Invalid request body")
				return
			}
			req = loginRequest{Email: r.PostFormValue("email"), Password: r.PostFormValue("password")}
		} else if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Error(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		var sess *Session
		err := h.validator.Struct(req)
		if err != nil {
			err = ErrMissingFields
		} else {
			sess, err = h.service.Login(r.Context(), d.Kind, req.Email, req.Password)
		}

		if form {
			if err != nil {
				h.logFailure(r, d, err)
				http.Redirect(w, r, d.LoginPath+"?error="+url.QueryEscape(outcome(err)), http.StatusSeeOther)
				return
			}
			gate.SetSessionCookie(w, d.Cookie, sess.Token, h.secureCookies)
			http.Redirect(w, r, d.HomePath, http.StatusSeeOther)
			return
		}
		if err != nil {
			h.writeError(w, r, d, err)
			return
		}
		gate.SetSessionCookie(w, d.Cookie, sess.Token, h.secureCookies)
		httpx.JSON(w, http.StatusOK, map[string]any{
			"success":     true,
			d.ResponseKey: sess.Principal.Profile(),
		})
	}
}

func (h *Handler) session(d principal.Descriptor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := h.gate.Authenticate(r, d)
		if err != nil {
			if !errors.Is(err, gate.ErrNoCookie) {
				gate.ClearSessionCookie(w, d.Cookie, h.secureCookies)
			}
			httpx.JSON(w, http.StatusUnauthorized, map[string]any{"authenticated": false})
			return
		}
		p, err := h.service.Profile(r.Context(), claims)
		if err != nil {
			if errors.Is(err, ErrTokenInvalid) {
				gate.ClearSessionCookie(w, d.Cookie, h.secureCookies)
				httpx.JSON(w, http.StatusUnauthorized, map[string]any{"authenticated": false})
				return
			}
			h.writeError(w, r, d, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			d.ResponseKey:   p.Profile(),
		})
	}
}

func (h *Handler) logout(d principal.Descriptor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.revoker != nil {
			if claims, err := h.gate.Authenticate(r, d); err == nil {
				if err := h.revoker.Revoke(r.Context(), claims.RegisteredClaims.ID, claims.ExpiresAt.Time); err != nil {
					h.logger.Warn("revoke session", slog.String("kind", string(d.Kind)), slog.Any("error", err))
				}
			}
		}
		gate.ClearSessionCookie(w, d.Cookie, h.secureCookies)
		if isFormPost(r) {
			http.Redirect(w, r, d.LoginPath, http.StatusSeeOther)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

type registerRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Phone    string `json:"phone" validate:"omitempty,max=32"`
}

func (h *Handler) register(d principal.Descriptor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Error(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := h.validator.Struct(req); err != nil {
			fields := make(map[string]string)
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				for _, fieldErr := range verrs {
					fields[strings.ToLower(fieldErr.Field())] = fieldErr.Tag()
				}
			}
			httpx.JSON(w, http.StatusBadRequest, map[string]any{
				"error":  "Invalid registration details",
				"fields": fields,
			})
			return
		}
		p, err := h.service.Register(r.Context(), d.Kind, RegisterInput{
			Name:     req.Name,
			Email:    req.Email,
			Password: req.Password,
			Phone:    req.Phone,
		})
		if err != nil {
			h.writeError(w, r, d, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, map[string]any{
			"success":     true,
			d.ResponseKey: p.Profile(),
		})
	}
}

func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		httpx.Error(w, http.StatusBadRequest, "Invalid or expired verification link")
		return
	}
	p, err := h.service.VerifyEmail(r.Context(), raw)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			httpx.Error(w, http.StatusBadRequest, "Invalid or expired verification link")
			return
		}
		h.writeError(w, r, principal.Descriptor{}, err)
		return
	}
	d := principal.MustDescribe(p.Kind)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"loginPath": d.LoginPath,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, d principal.Descriptor, err error) {
	switch {
	case errors.Is(err, ErrMissingFields):
		httpx.Error(w, http.StatusBadRequest, "Email and password are required")
	case errors.Is(err, ErrInvalidCredentials):
		httpx.Error(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, ErrEmailNotVerified):
		httpx.Error(w, http.StatusUnauthorized, "Please verify your email before logging in")
	case errors.Is(err, ErrPendingApproval):
		httpx.Error(w, http.StatusUnauthorized, "Your account is awaiting administrator approval")
	case errors.Is(err, ErrTokenInvalid):
		httpx.Error(w, http.StatusUnauthorized, "Invalid or expired session")
	case errors.Is(err, ErrRegistrationClosed):
		httpx.Error(w, http.StatusNotFound, "Not found")
	case errors.Is(err, principal.ErrDuplicateEmail):
		httpx.Error(w, http.StatusConflict, "An account with this email already exists")
	default:
		h.logFailure(r, d, err)
		if h.debug {
			httpx.ErrorWithDetail(w, http.StatusInternalServerError, "Internal server error", err.Error())
			return
		}
		httpx.Error(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *Handler) logFailure(r *http.Request, d principal.Descriptor, err error) {
	level := slog.LevelInfo
	if errors.Is(err, ErrStoreUnavailable) || outcome(err) == "error" {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "auth request failed",
		slog.String("path", r.URL.Path),
		slog.String("kind", string(d.Kind)),
		slog.String("outcome", outcome(err)),
		slog.Any("error", err),
	)
}

func isFormPost(r *http.Request) bool {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return ct == "application/x-www-form-urlencoded" || ct == "multipart/form-data"
}
