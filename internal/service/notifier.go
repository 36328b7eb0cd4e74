package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/localmart/localmart-api/pkg/jobs"
)

// Mailer delivers password reset notifications. The actual transport (SMTP,
// SendGrid, ...) lives outside this service; LogMailer is the default and
// only writes the link to the log.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, link string) error
}

// LogMailer is a Mailer that records the reset link instead of sending it.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer constructs a LogMailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// SendPasswordReset logs the reset notification.
func (m *LogMailer) SendPasswordReset(ctx context.Context, email, link string) error {
	m.logger.Info("password reset notification",
		zap.String("email", email),
		zap.String("link", link),
	)
	return nil
}

const jobTypePasswordReset = "password_reset"

// PasswordResetNotification is the queue payload for reset emails.
type PasswordResetNotification struct {
	Email string
	Link  string
}

// NewResetQueue builds the notification queue that hands reset
// notifications to the mailer.
func NewResetQueue(mailer Mailer, cfg jobs.QueueConfig) *jobs.Queue {
	handler := func(ctx context.Context, job jobs.Job) error {
		payload, ok := job.Payload.(PasswordResetNotification)
		if !ok {
			return fmt.Errorf("unexpected payload type for job %s", job.ID)
		}
		return mailer.SendPasswordReset(ctx, payload.Email, payload.Link)
	}
	return jobs.NewQueue("password-reset", handler, cfg)
}

// QueueNotifier enqueues reset notifications for asynchronous delivery.
type QueueNotifier struct {
	queue *jobs.Queue
}

// NewQueueNotifier constructs a QueueNotifier.
func NewQueueNotifier(queue *jobs.Queue) *QueueNotifier {
	return &QueueNotifier{queue: queue}
}

// NotifyPasswordReset pushes a reset notification onto the queue.
func (n *QueueNotifier) NotifyPasswordReset(ctx context.Context, email, link string) error {
	return n.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobTypePasswordReset,
		Payload: PasswordResetNotification{Email: email, Link: link},
	})
}
