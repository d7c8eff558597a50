package view

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kitbridge/kitbridge/internal/gate"
	"github.com/kitbridge/kitbridge/internal/principal"
)

var loginErrors = map[string]string{
	"missing_fields":      "Email and password are required.",
	"invalid_credentials": "Invalid email or password.",
	"email_not_verified":  "Please verify your email before signing in.",
	"pending_approval":    "Your account is awaiting administrator approval.",
	"store_unavailable":   "Sign-in is temporarily unavailable. Please try again.",
	"error":               "Something went wrong. Please try again.",
}

// Pages serves the login and landing pages that the session gate redirects to.
type Pages struct {
	engine *Engine
	logger *slog.Logger
}

// NewPages constructs Pages.
func NewPages(engine *Engine, logger *slog.Logger) *Pages {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pages{engine: engine, logger: logger}
}

// MountRoutes registers the index page plus a login and landing page per
// principal kind. Landing pages expect the gate middleware upstream.
func (p *Pages) MountRoutes(r chi.Router) {
	r.Get("/", p.index)
	for _, d := range principal.Descriptors() {
		r.Get(d.LoginPath, p.login(d))
		r.Get(d.HomePath, p.landing(d))
	}
}

func (p *Pages) index(w http.ResponseWriter, r *http.Request) {
	p.render(w, r, "pages/index.html", TemplateData{
		Title: "Welcome",
		Data:  principal.Descriptors(),
	})
}

type loginData struct {
	Action string
}

func (p *Pages) login(d principal.Descriptor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flash := ""
		if code := r.URL.Query().Get("error"); code != "" {
			flash = loginErrors[code]
			if flash == "" {
				flash = loginErrors["error"]
			}
		}
		p.render(w, r, "pages/login.html", TemplateData{
			Title: d.Title + " sign in",
			Flash: flash,
			Data:  loginData{Action: "/api/" + d.Segment + "/login"},
		})
	}
}

type landingData struct {
	DisplayID    string
	Email        string
	ExpiresAt    time.Time
	LogoutAction string
}

func (p *Pages) landing(d principal.Descriptor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := gate.ClaimsFromContext(r.Context())
		if claims == nil || claims.Role != d.Kind {
			http.Redirect(w, r, d.LoginPath, http.StatusFound)
			return
		}
		data := landingData{
			DisplayID:    claims.SecondaryID,
			Email:        claims.Email,
			LogoutAction: "/api/" + d.Segment + "/logout",
		}
		if claims.ExpiresAt != nil {
			data.ExpiresAt = claims.ExpiresAt.Time
		}
		p.render(w, r, "pages/landing.html", TemplateData{
			Title: d.Title + " dashboard",
			Data:  data,
		})
	}
}

func (p *Pages) render(w http.ResponseWriter, r *http.Request, name string, data TemplateData) {
	data.CurrentPath = r.URL.Path
	if err := p.engine.Render(w, name, data); err != nil {
		p.logger.Error("render page", slog.String("template", name), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
