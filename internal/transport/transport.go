package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-backend/internal/config"
)

// EmailIDHeader carries the queue row id so webhooks can be matched before a
// transport message id is known.
const EmailIDHeader = "X-Outreach-Email-ID"

// Message is a fully rendered email addressed to one recipient.
type Message struct {
	EmailID    string
	CampaignID string
	FromName   string
	FromEmail  string
	ReplyTo    string
	To         string
	ToName     string
	Subject    string
	Body       string
}

// Transport hands a message to the delivery provider and returns the
// provider's message id.
type Transport interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// DeliveryError is a send failure reported by the provider.
type DeliveryError struct {
	Temporary bool
	Code      int
	Message   string
}

func (e *DeliveryError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("delivery failed (%d): %s", e.Code, e.Message)
	}
	return "delivery failed: " + e.Message
}

// IsTemporary reports whether err is a provider failure worth retrying later.
func IsTemporary(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Temporary
	}
	return false
}

func validate(msg Message) error {
	if msg.To == "" {
		return errors.New("recipient address is required")
	}
	if msg.FromEmail == "" {
		return errors.New("sender address is required")
	}
	return nil
}

// New builds the transport selected by cfg.Kind.
func New(cfg config.TransportConfig, log zerolog.Logger) (Transport, error) {
	switch cfg.Kind {
	case "smtp":
		return NewSMTPTransport(cfg.SMTP, cfg.Timeout, log)
	case "http":
		return NewHTTPTransport(cfg.HTTP.BaseURL, cfg.HTTP.APIKey, cfg.Timeout), nil
	case "mock", "":
		return NewMockTransport(cfg.Mock.FailureRate), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
}

func defaultTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}
