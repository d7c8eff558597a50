package auth_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kitbridge/kitbridge/internal/auth"
	"github.com/kitbridge/kitbridge/internal/principal"
	"github.com/kitbridge/kitbridge/internal/token"
	"github.com/kitbridge/kitbridge/jobs"
	_ "github.com/kitbridge/kitbridge/testing"
)

const testSecret = "auth-test-secret-auth-test-secret"

type stubRepo struct {
	mu         sync.Mutex
	principals []*principal.Principal
	err        error
	writes     int
}

func (s *stubRepo) add(t *testing.T, kind principal.Kind, email, password string, verified, approved bool) *principal.Principal {
	t.Helper()
	hash, err := principal.HashPassword(password)
	require.NoError(t, err)
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &principal.Principal{
		ID:            int64(len(s.principals) + 1),
		Kind:          kind,
		DisplayID:     principal.MustDescribe(kind).NewDisplayID(),
		Name:          "Test " + string(kind),
		Email:         principal.NormalizeEmail(email),
		PasswordHash:  hash,
		Verified:      verified,
		AdminVerified: approved,
	}
	s.principals = append(s.principals, p)
	return p
}

func (s *stubRepo) FindByEmail(ctx context.Context, kind principal.Kind, email string) (*principal.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, p := range s.principals {
		if p.Kind == kind && p.Email == principal.NormalizeEmail(email) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, principal.ErrNotFound
}

func (s *stubRepo) FindByID(ctx context.Context, kind principal.Kind, id int64) (*principal.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, p := range s.principals {
		if p.Kind == kind && p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, principal.ErrNotFound
}

func (s *stubRepo) Create(ctx context.Context, kind principal.Kind, in principal.NewPrincipal) (*principal.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, p := range s.principals {
		if p.Kind == kind && p.Email == in.Email {
			return nil, principal.ErrDuplicateEmail
		}
	}
	s.writes++
	p := &principal.Principal{
		ID:            int64(len(s.principals) + 1),
		Kind:          kind,
		DisplayID:     in.DisplayID,
		Name:          in.Name,
		Email:         in.Email,
		Phone:         in.Phone,
		PasswordHash:  in.PasswordHash,
		Verified:      in.Verified,
		AdminVerified: in.AdminVerified,
	}
	s.principals = append(s.principals, p)
	cp := *p
	return &cp, nil
}

func (s *stubRepo) MarkVerified(ctx context.Context, kind principal.Kind, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.principals {
		if p.Kind == kind && p.ID == id {
			s.writes++
			p.Verified = true
			return nil
		}
	}
	return principal.ErrNotFound
}

func (s *stubRepo) Approve(ctx context.Context, kind principal.Kind, id int64) error {
	return errors.New("not used")
}

func (s *stubRepo) ListPending(ctx context.Context, kind principal.Kind) ([]principal.Principal, error) {
	return nil, errors.New("not used")
}

type stubQueue struct {
	payloads []jobs.VerificationEmailPayload
	err      error
}

func (q *stubQueue) EnqueueVerificationEmail(ctx context.Context, payload jobs.VerificationEmailPayload) error {
	if q.err != nil {
		return q.err
	}
	q.payloads = append(q.payloads, payload)
	return nil
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(t *testing.T, repo *stubRepo, queue *stubQueue, c *clock) (*auth.Service, *token.Signer) {
	t.Helper()
	if c == nil {
		c = &clock{now: time.Now()}
	}
	signer, err := token.NewSigner(testSecret, token.WithClock(c.Now))
	require.NoError(t, err)
	cfg := auth.ServiceConfig{
		Repo:    repo,
		Signer:  signer,
		BaseURL: "https://kitbridge.test/",
		Logger:  discardLogger(),
	}
	if queue != nil {
		cfg.Queue = queue
	}
	return auth.NewService(cfg), signer
}
