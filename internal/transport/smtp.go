package transport

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-msgauth/dkim"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-backend/internal/config"
)

// TLS modes understood by SMTPTransport.
const (
	TLSModeNone     = "none"
	TLSModeStartTLS = "starttls"
	TLSModeImplicit = "tls"
)

// SMTPTransport submits messages to a relay over SMTP, optionally DKIM signed.
type SMTPTransport struct {
	cfg     config.SMTPConfig
	timeout time.Duration
	dkimKey *rsa.PrivateKey
	logger  zerolog.Logger
	rootCAs *x509.CertPool

	dial func(ctx context.Context, network, addr string) (net.Conn, error)
	now  func() time.Time
}

func NewSMTPTransport(cfg config.SMTPConfig, timeout time.Duration, log zerolog.Logger) (*SMTPTransport, error) {
	t := &SMTPTransport{
		cfg:     cfg,
		timeout: defaultTimeout(timeout),
		logger:  log.With().Str("component", "smtp_transport").Logger(),
		dial:    (&net.Dialer{}).DialContext,
		now:     time.Now,
	}
	switch cfg.TLSMode {
	case "", TLSModeNone, TLSModeStartTLS, TLSModeImplicit:
	default:
		return nil, fmt.Errorf("unknown smtp tls mode %q", cfg.TLSMode)
	}
	if cfg.DKIM.Enabled() {
		key, err := LoadPrivateKey(cfg.DKIM.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load dkim key: %w", err)
		}
		t.dkimKey = key
	}
	return t, nil
}

func (t *SMTPTransport) Send(ctx context.Context, msg Message) (string, error) {
	if err := validate(msg); err != nil {
		return "", err
	}

	messageID := fmt.Sprintf("%s@%s", uuid.NewString(), t.messageDomain(msg.FromEmail))
	raw := BuildMIME(msg, messageID, t.now())
	if t.dkimKey != nil {
		var err error
		if raw, err = t.sign(raw); err != nil {
			return "", fmt.Errorf("dkim sign: %w", err)
		}
	}

	if err := t.deliver(ctx, msg, raw); err != nil {
		return "", err
	}

	t.logger.Debug().
		Str("email_id", msg.EmailID).
		Str("message_id", messageID).
		Msg("message accepted by relay")
	return messageID, nil
}

func (t *SMTPTransport) deliver(ctx context.Context, msg Message, raw []byte) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	conn, err := t.dial(ctx, "tcp", t.cfg.Addr())
	if err != nil {
		return &DeliveryError{Temporary: true, Message: fmt.Sprintf("connect %s: %v", t.cfg.Addr(), err)}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	tlsConfig := &tls.Config{ServerName: t.cfg.Host, MinVersion: tls.VersionTLS12, RootCAs: t.rootCAs}
	var client *smtp.Client
	switch t.cfg.TLSMode {
	case TLSModeImplicit:
		client = smtp.NewClient(tls.Client(conn, tlsConfig))
	case TLSModeStartTLS:
		// EHLO runs again over TLS, so Hello below is still allowed.
		client, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			if strings.Contains(err.Error(), "doesn't support STARTTLS") {
				return &DeliveryError{Message: "relay does not support STARTTLS"}
			}
			return smtpError("starttls", err)
		}
	default:
		client = smtp.NewClient(conn)
	}
	defer client.Close()

	helo := t.cfg.HeloName
	if helo == "" {
		helo = "localhost"
	}
	if err := client.Hello(helo); err != nil {
		return smtpError("hello", err)
	}

	if t.cfg.Username != "" {
		auth := sasl.NewPlainClient("", t.cfg.Username, t.cfg.Password)
		if err := client.Auth(auth); err != nil {
			return smtpError("auth", err)
		}
	}

	if err := client.SendMail(msg.FromEmail, []string{msg.To}, bytes.NewReader(raw)); err != nil {
		return smtpError("send", err)
	}

	if err := client.Quit(); err != nil {
		t.logger.Warn().Err(err).Str("email_id", msg.EmailID).Msg("quit after send failed")
	}
	return nil
}

func (t *SMTPTransport) sign(raw []byte) ([]byte, error) {
	opts := &dkim.SignOptions{
		Domain:                 t.cfg.DKIM.Domain,
		Selector:               t.cfg.DKIM.Selector,
		Signer:                 t.dkimKey,
		Hash:                   crypto.SHA256,
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
	}
	var signed bytes.Buffer
	if err := dkim.Sign(&signed, bytes.NewReader(raw), opts); err != nil {
		return nil, err
	}
	return signed.Bytes(), nil
}

func (t *SMTPTransport) messageDomain(from string) string {
	if t.cfg.DKIM.Domain != "" {
		return t.cfg.DKIM.Domain
	}
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		return from[i+1:]
	}
	return "localhost"
}

func smtpError(stage string, err error) error {
	var se *smtp.SMTPError
	if errors.As(err, &se) {
		return &DeliveryError{
			Temporary: se.Code >= 400 && se.Code < 500,
			Code:      se.Code,
			Message:   fmt.Sprintf("%s: %s", stage, se.Message),
		}
	}
	return &DeliveryError{Temporary: true, Message: fmt.Sprintf("%s: %v", stage, err)}
}

// BuildMIME renders msg as a single part text/plain RFC 5322 message.
func BuildMIME(msg Message, messageID string, at time.Time) []byte {
	from := mail.Address{Name: msg.FromName, Address: msg.FromEmail}
	to := mail.Address{Name: msg.ToName, Address: msg.To}

	var b bytes.Buffer
	header := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}
	header("From", from.String())
	header("To", to.String())
	if msg.ReplyTo != "" {
		header("Reply-To", (&mail.Address{Address: msg.ReplyTo}).String())
	}
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", at.Format(time.RFC1123Z))
	header("Message-ID", "<"+messageID+">")
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	header("Content-Transfer-Encoding", "8bit")
	if msg.EmailID != "" {
		header(EmailIDHeader, msg.EmailID)
	}
	b.WriteString("\r\n")

	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\r\n")
	}
	return b.Bytes()
}

// LoadPrivateKey reads a PKCS#1 or PKCS#8 RSA key in PEM form.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return ParsePrivateKey(data)
}

func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}
