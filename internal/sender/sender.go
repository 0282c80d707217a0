// Package sender abstracts delivery to the external channel integrations.
// The dispatcher only sees the Sender interface; concrete integrations
// (SMTP, SMS gateway, push service) live behind it and are mocked in tests.
package sender

import (
	"context"
	"fmt"

	"github.com/carepulse/notify/internal/domain"
)

// Response is the provider acknowledgement for one send.
type Response struct {
	// ProviderMsgID is the upstream message identifier, when the provider
	// returns one.
	ProviderMsgID string

	// Delivered reports a synchronous delivery acknowledgement. Channels
	// that only accept the message for later delivery (email, sms, push)
	// leave this false; delivery is then confirmed out of band.
	Delivered bool
}

// Sender delivers one notification over its channel.
type Sender interface {
	Send(ctx context.Context, n *domain.Notification) (*Response, error)
}

// Registry maps channels to their senders. Immutable after construction.
type Registry struct {
	senders map[domain.Channel]Sender
}

func NewRegistry(senders map[domain.Channel]Sender) *Registry {
	return &Registry{senders: senders}
}

// Get returns the sender for a channel.
func (r *Registry) Get(ch domain.Channel) (Sender, error) {
	s, ok := r.senders[ch]
	if !ok {
		return nil, &domain.PermanentError{Err: fmt.Errorf("no sender configured for channel %q", ch)}
	}
	return s, nil
}

// Renderer turns a template reference into message bodies. Rendering is an
// external collaborator; the core only consumes this narrow interface.
type Renderer interface {
	Render(name string, data map[string]any) (html, text string, err error)
}
