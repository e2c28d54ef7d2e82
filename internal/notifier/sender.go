package notifier

import (
	"context"
	"errors"
	"time"

	"github.com/wneessen/go-mail"

	"medremind/internal/task/engine"
)

// Sender hands a rendered message to a transport.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

type smtpSender struct {
	cfg SMTPConfig
}

// NewSMTPSender sends over SMTP with mandatory STARTTLS (implicit TLS on 465).
func NewSMTPSender(cfg SMTPConfig) Sender {
	return &smtpSender{cfg: cfg}
}

func (s *smtpSender) Send(ctx context.Context, m Message) error {
	msg := mail.NewMsg()
	if err := msg.FromFormat(m.FromName, m.FromAddress); err != nil {
		return engine.NoRetry(err)
	}
	if err := msg.To(m.To); err != nil {
		return engine.NoRetry(err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextPlain, m.Text)
	msg.AddAlternativeString(mail.TypeTextHTML, m.HTML)

	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	port := s.cfg.Port
	if port <= 0 {
		port = 587
	}
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(s.cfg.Username),
		mail.WithPassword(s.cfg.Password),
		mail.WithTimeout(timeout),
	}
	if port == 465 {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	c, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return engine.NoRetry(err)
	}
	return classifySendErr(c.DialAndSendWithContext(ctx, msg))
}

const (
	busyBackoff     = 30 * time.Second // 421: server closing or overloaded
	tempFailBackoff = 10 * time.Second
)

// classifySendErr maps SMTP replies onto engine retry policy: 5xx is final,
// 4xx is retried after a server-friendly delay. Errors without an SMTP reply
// (dial, TLS) keep the engine's own backoff.
func classifySendErr(err error) error {
	if err == nil {
		return nil
	}
	var te interface{ IsTemp() bool }
	if !errors.As(err, &te) {
		return err
	}
	if !te.IsTemp() {
		return engine.NoRetry(err)
	}
	var ce interface{ ErrorCode() int }
	if errors.As(err, &ce) && ce.ErrorCode() == 421 {
		return engine.RetryAfter(err, busyBackoff)
	}
	return engine.RetryAfter(err, tempFailBackoff)
}
