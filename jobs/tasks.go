package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeVerifyEmail sends the email verification link to a new registrant.
	TaskTypeVerifyEmail = "mail:verify-email"
)

// VerificationEmailPayload describes the information required to send a
// verification email.
type VerificationEmailPayload struct {
	To        string `json:"to"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Link      string `json:"link"`
	LoginPath string `json:"login_path"`
}

// NewVerificationEmailTask constructs an Asynq task.
func NewVerificationEmailTask(payload VerificationEmailPayload) (*asynq.Task, error) {
	if payload.To == "" || payload.Link == "" {
		return nil, errors.New("jobs: verification email requires recipient and link")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeVerifyEmail, data), nil
}

// MailObserver counts delivered and failed mail.
type MailObserver interface {
	ObserveMail(result string)
}

// NewVerificationEmailHandler processes TaskTypeVerifyEmail tasks.
func NewVerificationEmailHandler(mailer Mailer, observer MailObserver, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var payload VerificationEmailPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			observe(observer, "invalid")
			return fmt.Errorf("decode %s: %v: %w", TaskTypeVerifyEmail, err, asynq.SkipRetry)
		}
		msg, err := RenderVerificationEmail(payload)
		if err != nil {
			observe(observer, "invalid")
			return fmt.Errorf("render %s: %v: %w", TaskTypeVerifyEmail, err, asynq.SkipRetry)
		}
		if err := mailer.Send(ctx, msg); err != nil {
			observe(observer, "failed")
			logger.Warn("verification email failed", slog.String("to", payload.To), slog.Any("error", err))
			return err
		}
		observe(observer, "sent")
		logger.Info("verification email sent", slog.String("to", payload.To), slog.String("kind", payload.Kind))
		return nil
	}
}

func observe(observer MailObserver, result string) {
	if observer != nil {
		observer.ObserveMail(result)
	}
}
