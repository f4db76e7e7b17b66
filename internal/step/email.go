package step

import (
	"context"
	"time"

	"github.com/orion-services/activity/internal/notify"
	"github.com/orion-services/activity/internal/store"

	"go.uber.org/zap"
)

const (
	defaultSubject = "Orion activity update"
	defaultMessage = "There is an update in your writing activity."
)

// sendEmailNotification notifies the acting user. Delivery is best effort:
// a failure is logged and never fails the stage. Under an Outbox delivery
// waits for Flush.
type sendEmailNotification struct {
	log     *zap.Logger
	sender  notify.Sender
	timeout time.Duration
}

func (s sendEmailNotification) validate(*store.Document, string, store.Step) *Violation {
	return nil
}

func (s sendEmailNotification) execute(ctx context.Context, _ *store.Document, userID string, cfg store.Step) error {
	req := notify.Request{
		To:      []string{userID},
		Subject: cfg.Subject,
		Body:    cfg.Message,
	}
	if req.Subject == "" {
		req.Subject = defaultSubject
	}
	if req.Body == "" {
		req.Body = defaultMessage
	}

	if outbox := outboxFrom(ctx); outbox != nil {
		outbox.add(func(ctx context.Context) { s.deliver(ctx, userID, req) })
		return nil
	}
	s.deliver(ctx, userID, req)
	return nil
}

func (s sendEmailNotification) deliver(ctx context.Context, userID string, req notify.Request) {
	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.sender.SendNotification(sendCtx, req)
	if err != nil {
		s.log.Warn("notification delivery failed", zap.String("user", userID), zap.Error(err))
		return
	}
	s.log.Debug("notification sent", zap.String("user", userID), zap.String("status", res.Status))
}

func (s sendEmailNotification) settle(*store.Document, store.Step) bool {
	return false
}

func (s sendEmailNotification) isFinished([]store.Document, store.Step) (bool, error) {
	return true, nil
}
