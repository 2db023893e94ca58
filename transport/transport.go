// Package transport abstracts the topic based publish/subscribe layer the filter reads its inputs
// from and writes its outputs to.
package transport

import (
	"context"

	"github.com/pkg/errors"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("transport is closed")

// Handler receives the payload of one message. Handlers must not retain or modify payload after
// returning.
type Handler func(payload []byte)

// Subscription is an active subscription to a topic.
type Subscription interface {
	// Unsubscribe stops delivery to the handler. Messages published after it returns are not
	// delivered.
	Unsubscribe() error
}

// Bus is a publish/subscribe message bus keyed by topic name.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)
	Close() error
}
