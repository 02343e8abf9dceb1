package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	netmail "net/mail"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/Guizzs26/openmusic-export/internal/config"
	"github.com/Guizzs26/openmusic-export/internal/models"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var (
	// ErrPermanent marks a message the transport will never accept, retrying is pointless
	ErrPermanent      = errors.New("permanent delivery failure")
	ErrInvalidAddress = fmt.Errorf("%w: invalid recipient address", ErrPermanent)
)

const sessionTimeout = time.Minute

// SMTPSender delivers rendered exports over SMTP
type SMTPSender struct {
	host        string
	port        string
	from        string
	auth        smtp.Auth
	limiter     *rate.Limiter
	dialTimeout time.Duration
	logger      *slog.Logger
}

func NewSMTPSender(cfg config.SMTPConfig, logger *slog.Logger) *SMTPSender {
	s := &SMTPSender{
		host:        cfg.Host,
		port:        cfg.Port,
		from:        cfg.From,
		dialTimeout: cfg.DialTimeout,
		logger:      logger,
	}
	if cfg.User != "" {
		s.auth = smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	}
	if cfg.RatePerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	if s.dialTimeout <= 0 {
		s.dialTimeout = 10 * time.Second
	}
	return s
}

// Send mails body to the recipient as a playlist.json attachment and returns
// the Message-ID assigned to it. Errors wrap either ErrPermanent or models.ErrTransient.
func (s *SMTPSender) Send(ctx context.Context, to string, body string) (string, error) {
	addr, err := netmail.ParseAddress(to)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidAddress, to, err)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: mail rate limiter: %w", models.ErrTransient, err)
		}
	}

	deliveryID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.host)
	msg, err := buildMessage(s.from, addr.Address, deliveryID, body, time.Now())
	if err != nil {
		return "", fmt.Errorf("%w: build message: %v", ErrPermanent, err)
	}

	l := s.logger.With("to", addr.Address, "message_id", deliveryID)
	l.Debug("Sending export email", "smtp_host", s.host)

	if err := s.deliver(ctx, addr.Address, msg); err != nil {
		classified := classify(err)
		l.Warn("SMTP delivery failed", "error", classified, "permanent", errors.Is(classified, ErrPermanent))
		return "", classified
	}

	return deliveryID, nil
}

func (s *SMTPSender) deliver(ctx context.Context, to string, msg []byte) error {
	dialer := net.Dialer{Timeout: s.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(s.host, s.port))
	if err != nil {
		return err
	}

	deadline := time.Now().Add(sessionTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return err
		}
	}
	if s.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(s.auth); err != nil {
				return err
			}
		}
	}

	if err := c.Mail(s.from); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	return c.Quit()
}

// classify maps SMTP reply codes: 5xx is permanent except authentication
// failures, which are fixed by configuration and worth redelivering. Anything
// else (network, 4xx) is transient.
func classify(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch {
		case tpErr.Code == 530 || tpErr.Code == 534 || tpErr.Code == 535:
			return fmt.Errorf("%w: smtp auth %d: %s", models.ErrTransient, tpErr.Code, tpErr.Msg)
		case tpErr.Code >= 500:
			return fmt.Errorf("%w: smtp %d: %s", ErrPermanent, tpErr.Code, tpErr.Msg)
		default:
			return fmt.Errorf("%w: smtp %d: %s", models.ErrTransient, tpErr.Code, tpErr.Msg)
		}
	}
	return fmt.Errorf("%w: %w", models.ErrTransient, err)
}
