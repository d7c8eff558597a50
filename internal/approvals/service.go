package approvals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kitbridge/kitbridge/internal/platform/httpx"
	"github.com/kitbridge/kitbridge/internal/principal"
)

// ErrNotApprovable indicates the kind never needs administrator approval.
var ErrNotApprovable = fmt.Errorf("%w: kind does not require approval", httpx.ErrValidation)

// Pending is a principal waiting for administrator approval.
type Pending struct {
	ID        int64     `json:"id"`
	DisplayID string    `json:"displayId"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service lists and approves principals.
type Service struct {
	repo   principal.Repository
	logger *slog.Logger
}

// NewService constructs the approvals service.
func NewService(repo principal.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

func approvable(kind principal.Kind) error {
	d, err := principal.Describe(kind)
	if err != nil {
		return fmt.Errorf("%w: %w", httpx.ErrNotFound, err)
	}
	if !d.RequireAdminApproval {
		return ErrNotApprovable
	}
	return nil
}

// ListPending returns principals of kind awaiting approval, oldest first.
func (s *Service) ListPending(ctx context.Context, kind principal.Kind) ([]Pending, error) {
	if err := approvable(kind); err != nil {
		return nil, err
	}
	found, err := s.repo.ListPending(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("list pending %s: %w", kind, err)
	}
	out := make([]Pending, 0, len(found))
	for _, p := range found {
		out = append(out, Pending{
			ID:        p.ID,
			DisplayID: p.DisplayID,
			Name:      p.Name,
			Email:     p.Email,
			Phone:     p.Phone,
			Verified:  p.Verified,
			CreatedAt: p.CreatedAt,
		})
	}
	return out, nil
}

// Approve marks the principal as approved. approver is the acting admin's
// display id, used for the audit log line.
func (s *Service) Approve(ctx context.Context, kind principal.Kind, id int64, approver string) error {
	if err := approvable(kind); err != nil {
		return err
	}
	if err := s.repo.Approve(ctx, kind, id); err != nil {
		if errors.Is(err, principal.ErrNotFound) {
			return fmt.Errorf("%w: %w", httpx.ErrNotFound, err)
		}
		return fmt.Errorf("approve %s %d: %w", kind, id, err)
	}
	s.logger.Info("principal approved",
		slog.String("kind", string(kind)),
		slog.Int64("id", id),
		slog.String("approver", approver),
	)
	return nil
}
