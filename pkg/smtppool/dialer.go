package smtppool

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// DefaultTimeout bounds every command issued on a pooled connection.
const DefaultTimeout = 30 * time.Second

// SMTPDialer opens authenticated sessions to a relay using implicit TLS
// (SMTPS, port 465).
type SMTPDialer struct {
	Host     string
	Port     int
	Username string
	Password string

	// LocalName is sent with EHLO. Defaults to "localhost".
	LocalName string
	// Timeout applies to connect and to each SMTP command. Defaults to DefaultTimeout.
	Timeout time.Duration
	// TLSConfig overrides the TLS settings used for implicit TLS.
	TLSConfig *tls.Config
	// PlainText skips TLS entirely. Only meant for local test relays.
	PlainText bool
}

// Addr returns host:port of the relay.
func (d *SMTPDialer) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Dial connects, greets and authenticates. Failures before authentication are
// reported as *ConnectError, rejected credentials as *AuthError.
func (d *SMTPDialer) Dial(ctx context.Context) (Transport, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	addr := d.Addr()
	netDialer := &net.Dialer{Timeout: timeout}

	var (
		conn net.Conn
		err  error
	)
	if d.PlainText {
		conn, err = netDialer.DialContext(ctx, "tcp", addr)
	} else {
		tlsDialer := &tls.Dialer{NetDialer: netDialer, Config: d.tlsConfig()}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}

	c := smtp.NewClient(conn)
	c.CommandTimeout = timeout
	c.SubmissionTimeout = timeout

	localName := d.LocalName
	if localName == "" {
		localName = "localhost"
	}
	if err := c.Hello(localName); err != nil {
		_ = c.Close()
		return nil, &ConnectError{Addr: addr, Err: err}
	}

	if d.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", d.Username, d.Password)); err != nil {
			_ = c.Close()
			var smtpErr *smtp.SMTPError
			if errors.As(err, &smtpErr) {
				return nil, &AuthError{User: d.Username, Err: err}
			}
			return nil, &ConnectError{Addr: addr, Err: err}
		}
	}

	return &smtpTransport{client: c}, nil
}

func (d *SMTPDialer) tlsConfig() *tls.Config {
	if d.TLSConfig != nil {
		return d.TLSConfig.Clone()
	}
	return &tls.Config{
		ServerName: d.Host,
		MinVersion: tls.VersionTLS12,
	}
}

type smtpTransport struct {
	client *smtp.Client
}

func (t *smtpTransport) Noop() error {
	return t.client.Noop()
}

func (t *smtpTransport) Send(from string, to []string, msg io.WriterTo) error {
	if err := t.client.Mail(from, nil); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := t.client.Rcpt(rcpt, nil); err != nil {
			return err
		}
	}
	w, err := t.client.Data()
	if err != nil {
		return err
	}
	if _, err := msg.WriteTo(w); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (t *smtpTransport) Close() error {
	if err := t.client.Quit(); err != nil {
		return errors.Join(err, t.client.Close())
	}
	return nil
}
