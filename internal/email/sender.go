package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/internal/credential"
	"github.com/brandon/mailcore/internal/message"
	"github.com/brandon/mailcore/pkg/types"
)

// RecipientsError reports every recipient the server refused. Nothing was sent.
type RecipientsError struct {
	Rejected []string
	Err      error
}

func (e *RecipientsError) Error() string {
	return fmt.Sprintf("%d recipient(s) rejected: %v", len(e.Rejected), e.Err)
}

func (e *RecipientsError) Unwrap() error { return e.Err }

// Sender submits messages over SMTP for one account
type Sender struct {
	account   *config.AccountConfig
	creds     credential.Provider
	logger    *logrus.Logger
	tlsConfig *tls.Config
}

// SenderOption configures a Sender
type SenderOption func(*Sender)

// WithSenderLogger sets the sender logger
func WithSenderLogger(logger *logrus.Logger) SenderOption {
	return func(s *Sender) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTLSConfig overrides the TLS settings used for implicit TLS and STARTTLS
func WithTLSConfig(cfg *tls.Config) SenderOption {
	return func(s *Sender) {
		s.tlsConfig = cfg
	}
}

// NewSender creates a sender for an account
func NewSender(acc *config.AccountConfig, creds credential.Provider, opts ...SenderOption) (*Sender, error) {
	if acc == nil {
		return nil, fmt.Errorf("account config is required")
	}
	if creds == nil {
		return nil, fmt.Errorf("credential provider is required")
	}

	s := &Sender{
		account: acc,
		creds:   creds,
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tlsConfig == nil {
		s.tlsConfig = &tls.Config{
			ServerName: acc.SMTPHost,
			MinVersion: tls.VersionTLS12,
		}
	}
	return s, nil
}

// SetLogger sets the logger for the sender
func (s *Sender) SetLogger(logger *logrus.Logger) {
	s.logger = logger
}

func (s *Sender) log() *logrus.Entry {
	return s.logger.WithField("account", s.account.Name)
}

// implicitTLS is true for port 465, and for any port other than the
// submission port when the account asks for TLS
func (s *Sender) implicitTLS() bool {
	return s.account.SMTPPort == 465 || (s.account.SMTPTLS && s.account.SMTPPort != 587)
}

func (s *Sender) sender() types.Address {
	addr := s.account.EmailAddress
	if addr == "" {
		addr = s.account.SMTPUsername
	}
	return types.Address{Name: s.account.DisplayName, Email: addr}
}

// Send builds c and submits it. From defaults to the account identity.
// It returns the generated Message-ID.
func (s *Sender) Send(ctx context.Context, c message.Compose) (string, error) {
	if strings.TrimSpace(c.From.Email) == "" {
		c.From = s.sender()
	}
	recipients := c.Recipients()
	if len(recipients) == 0 {
		return "", fmt.Errorf("at least one recipient is required")
	}

	built, err := message.Build(c)
	if err != nil {
		return "", fmt.Errorf("failed to create message: %w", err)
	}
	for _, path := range built.Skipped {
		s.log().WithField("path", path).Warn("Skipping unreadable attachment")
	}

	client, err := s.open(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	if err := client.Mail(c.From.Email); err != nil {
		return "", fmt.Errorf("failed to set sender: %w", err)
	}

	var rejected []string
	var errs []error
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			rejected = append(rejected, rcpt)
			errs = append(errs, fmt.Errorf("%s: %w", rcpt, err))
		}
	}
	if len(rejected) > 0 {
		_ = client.Reset()
		_ = client.Quit()
		return "", &RecipientsError{Rejected: rejected, Err: errors.Join(errs...)}
	}

	w, err := client.Data()
	if err != nil {
		return "", fmt.Errorf("failed to send data command: %w", err)
	}
	if _, err := w.Write(built.Data); err != nil {
		return "", fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := client.Quit(); err != nil {
		s.log().WithError(err).Debug("QUIT after delivery failed")
	}

	s.log().WithFields(logrus.Fields{
		"message_id": built.MessageID,
		"recipients": len(recipients),
	}).Info("Message sent")
	return built.MessageID, nil
}

// SendReply sends c as a reply to the message identified by inReplyTo.
// references is the original's References chain, if known.
func (s *Sender) SendReply(ctx context.Context, inReplyTo string, references []string, c message.Compose) (string, error) {
	c.Subject = message.ReplySubject(c.Subject)
	if inReplyTo != "" {
		c.InReplyTo = inReplyTo
		c.References = appendReference(references, inReplyTo)
	}
	return s.Send(ctx, c)
}

// SendForward sends c with a forward subject
func (s *Sender) SendForward(ctx context.Context, c message.Compose) (string, error) {
	c.Subject = message.ForwardSubject(c.Subject)
	return s.Send(ctx, c)
}

func appendReference(refs []string, id string) []string {
	out := make([]string, 0, len(refs)+1)
	for _, r := range refs {
		if r != id {
			out = append(out, r)
		}
	}
	return append(out, id)
}

// TestConnection dials, authenticates and quits
func (s *Sender) TestConnection(ctx context.Context) (bool, error) {
	client, err := s.open(ctx)
	if err != nil {
		return false, err
	}
	defer client.Close()

	if err := client.Quit(); err != nil {
		return false, fmt.Errorf("failed to quit: %w", err)
	}
	return true, nil
}

// open returns an authenticated client. The caller closes it.
func (s *Sender) open(ctx context.Context) (*smtp.Client, error) {
	password, err := s.creds.Password(ctx, s.account, credential.SMTP)
	if err != nil {
		return nil, &ConnectError{Op: "resolve SMTP credentials", Err: err}
	}

	addr := s.account.SMTPAddr()
	var client *smtp.Client
	if s.implicitTLS() {
		conn, err := tls.Dial("tcp", addr, s.tlsConfig)
		if err != nil {
			return nil, &ConnectError{Op: "connect to SMTP server", Err: err}
		}
		client, err = smtp.NewClient(conn, s.account.SMTPHost)
		if err != nil {
			conn.Close()
			return nil, &ConnectError{Op: "create SMTP client", Err: err}
		}
	} else {
		client, err = smtp.Dial(addr)
		if err != nil {
			return nil, &ConnectError{Op: "connect to SMTP server", Err: err}
		}
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(s.tlsConfig); err != nil {
				client.Close()
				return nil, &ConnectError{Op: "start TLS", Err: err}
			}
		} else if s.account.SMTPTLS {
			client.Close()
			return nil, &ConnectError{Op: "start TLS", Err: errors.New("server does not offer STARTTLS")}
		}
	}

	auth := smtp.PlainAuth("", s.account.SMTPUsername, password, s.account.SMTPHost)
	if err := client.Auth(auth); err != nil {
		client.Close()
		return nil, &ConnectError{Op: "authenticate", Err: err}
	}

	s.log().WithFields(logrus.Fields{
		"host": s.account.SMTPHost,
		"port": s.account.SMTPPort,
	}).Debug("Connected to SMTP server")
	return client, nil
}
