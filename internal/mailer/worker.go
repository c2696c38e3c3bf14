package mailer

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"unisocial-auth/internal/model"
	"unisocial-auth/internal/util"
)

// messageSource is the consuming side of the outbox topic.
type messageSource interface {
	Consume(ctx context.Context) (*kafka.Message, error)
}

// WorkerPool consumes OTP-mail outbox events and sends the emails. Send
// failures are logged and the message is skipped rather than retried forever;
// the user can re-register after the OTP window lapses.
type WorkerPool struct {
	consumer messageSource
	sender   Sender
	workers  int
}

func NewWorkerPool(consumer messageSource, sender Sender, workers int, logger *zap.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		consumer: consumer,
		sender:   sender,
		workers:  workers,
	}
}

// Run blocks until ctx is cancelled. All workers share one consumer-group
// reader, which serializes fetches but keeps SMTP sends concurrent.
func (p *WorkerPool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.workers; i++ {
		workerID := i
		g.Go(func() error {
			return p.runWorker(ctx, workerID)
		})
	}

	util.Info("Mailer workers started", zap.Int("workers", p.workers))
	return g.Wait()
}

func (p *WorkerPool) runWorker(ctx context.Context, workerID int) error {
	for {
		msg, err := p.consumer.Consume(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			util.Error("Mailer worker failed to consume",
				zap.Int("worker_id", workerID),
				zap.Error(err))
			continue
		}

		var mail model.OTPMailMessage
		if err := json.Unmarshal(msg.Value, &mail); err != nil {
			util.Error("Dropping malformed OTP mail message",
				zap.Int("worker_id", workerID),
				zap.Error(err))
			continue
		}

		if err := p.sender.SendOTP(mail.Email, mail.Code); err != nil {
			util.Error("Failed to send OTP mail",
				zap.Int("worker_id", workerID),
				zap.String("email", mail.Email),
				zap.Error(err))
			continue
		}

		util.Info("OTP mail sent",
			zap.Int("worker_id", workerID),
			zap.String("email", mail.Email))
	}
}
