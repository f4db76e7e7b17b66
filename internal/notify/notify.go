// Package notify delivers outbound notifications requested by workflow steps.
package notify

import (
	"context"
	"errors"
	"time"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = time.Second

var ErrNotConfigured = errors.New("notifier not configured")

// Request is one notification addressed to one or more users.
type Request struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// Response is what the delivery backend reported for a request.
type Response struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status,omitempty"`
}

// Sender delivers a notification. Implementations must honor ctx deadlines.
type Sender interface {
	SendNotification(ctx context.Context, req Request) (Response, error)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) SendNotification(context.Context, Request) (Response, error) {
	return Response{Status: "DISCARDED"}, nil
}
