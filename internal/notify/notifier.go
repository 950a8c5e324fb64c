package notify

import (
	"context"
)

//go:generate mockgen -source=$GOFILE -destination=notifier_mock.go -package=notify

// Notifier reports the outcome of control plane requests to operators.
// Calls never block the caller and never fail from its point of view.
type Notifier interface {
	NotifySuccess(endpoint string)
	NotifyFailure(err error, endpoint string)
	Close(ctx context.Context) error
}

// Noop is used when no webhook is configured.
type Noop struct{}

var _ Notifier = Noop{}

func (Noop) NotifySuccess(string)        {}
func (Noop) NotifyFailure(error, string) {}
func (Noop) Close(context.Context) error { return nil }
