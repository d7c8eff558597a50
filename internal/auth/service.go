package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/kitbridge/kitbridge/internal/observability"
	"github.com/kitbridge/kitbridge/internal/principal"
	"github.com/kitbridge/kitbridge/internal/token"
	"github.com/kitbridge/kitbridge/jobs"
)

// VerificationQueue hands verification mails to the background worker.
type VerificationQueue interface {
	EnqueueVerificationEmail(ctx context.Context, payload jobs.VerificationEmailPayload) error
}

// ServiceConfig collects Service dependencies.
type ServiceConfig struct {
	Repo    principal.Repository
	Signer  *token.Signer
	Queue   VerificationQueue
	BaseURL string
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Service wraps the authentication rules shared by every principal kind.
type Service struct {
	repo    principal.Repository
	signer  *token.Signer
	queue   VerificationQueue
	baseURL string
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewService constructs a new Service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    cfg.Repo,
		signer:  cfg.Signer,
		queue:   cfg.Queue,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

// Session is the result of a successful login.
type Session struct {
	Token     string
	Claims    *token.Claims
	Principal *principal.Principal
}

// Login authenticates email/password for the given kind and mints a session
// token. It never writes to the store.
func (s *Service) Login(ctx context.Context, kind principal.Kind, email, password string) (*Session, error) {
	sess, err := s.login(ctx, kind, email, password)
	s.metrics.ObserveLogin(string(kind), outcome(err))
	return sess, err
}

func (s *Service) login(ctx context.Context, kind principal.Kind, email, password string) (*Session, error) {
	desc, err := principal.Describe(kind)
	if err != nil {
		return nil, err
	}
	email = principal.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrMissingFields
	}

	p, err := s.repo.FindByEmail(ctx, kind, email)
	if err != nil {
		if errors.Is(err, principal.ErrNotFound) {
			principal.BurnComparison(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if desc.RequireEmailVerified && !p.Verified {
		return nil, ErrEmailNotVerified
	}
	if desc.RequireAdminApproval && !p.AdminVerified {
		return nil, ErrPendingApproval
	}
	if !principal.ComparePassword(p.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	raw, claims, err := s.signer.Issue(token.IdentityOf(p))
	if err != nil {
		return nil, fmt.Errorf("auth: issue token: %w", err)
	}
	return &Session{Token: raw, Claims: claims, Principal: p}, nil
}

// Profile loads the principal behind verified session claims.
func (s *Service) Profile(ctx context.Context, claims *token.Claims) (*principal.Principal, error) {
	p, err := s.repo.FindByID(ctx, claims.Role, claims.PrincipalID)
	if err != nil {
		if errors.Is(err, principal.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return p, nil
}

// RegisterInput carries self-registration details.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Phone    string
}

// Register creates an unverified principal and queues its verification mail.
func (s *Service) Register(ctx context.Context, kind principal.Kind, in RegisterInput) (*principal.Principal, error) {
	desc, err := principal.Describe(kind)
	if err != nil {
		return nil, err
	}
	if !desc.SelfRegister {
		return nil, ErrRegistrationClosed
	}
	hash, err := principal.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	p, err := s.repo.Create(ctx, kind, principal.NewPrincipal{
		DisplayID:    desc.NewDisplayID(),
		Name:         strings.TrimSpace(in.Name),
		Email:        principal.NormalizeEmail(in.Email),
		Phone:        strings.TrimSpace(in.Phone),
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, principal.ErrDuplicateEmail) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	if err := s.sendVerification(ctx, desc, p); err != nil {
		s.logger.Error("queue verification email",
			slog.String("kind", string(kind)),
			slog.Int64("id", p.ID),
			slog.Any("error", err),
		)
	}
	return p, nil
}

func (s *Service) sendVerification(ctx context.Context, desc principal.Descriptor, p *principal.Principal) error {
	if s.queue == nil {
		return errors.New("verification queue not configured")
	}
	raw, _, err := s.signer.IssueVerification(token.IdentityOf(p))
	if err != nil {
		return err
	}
	link := s.baseURL + "/api/verify-email?token=" + url.QueryEscape(raw)
	return s.queue.EnqueueVerificationEmail(ctx, jobs.VerificationEmailPayload{
		To:        p.Email,
		Name:      p.Name,
		Kind:      desc.Title,
		Link:      link,
		LoginPath: s.baseURL + desc.LoginPath,
	})
}

// VerifyEmail consumes a verification token and marks its principal verified.
func (s *Service) VerifyEmail(ctx context.Context, raw string) (*principal.Principal, error) {
	claims, err := s.signer.VerifyEmailToken(raw)
	if err != nil {
		s.logger.Info("verification token rejected", slog.String("reason", token.Kind(err)))
		return nil, ErrTokenInvalid
	}
	if err := s.repo.MarkVerified(ctx, claims.Role, claims.PrincipalID); err != nil {
		if errors.Is(err, principal.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return s.Profile(ctx, claims)
}
