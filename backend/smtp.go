package backend

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"os"
	"strconv"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/ptgott/mailroom/message"
	"github.com/rs/zerolog/log"
)

// SMTP delivers messages to a mail relay over the SMTP protocol,
// optionally upgrading the connection with STARTTLS and authenticating
// with AUTH PLAIN. One SMTP backend holds at most one live connection.
type SMTP struct {
	settings Settings
	client   *smtp.Client
}

// Open dials the configured relay, upgrades to TLS if requested, and
// authenticates if credentials are configured. A no-op when the
// connection is already up.
func (b *SMTP) Open() error {
	if b.client != nil {
		return nil
	}

	addr := net.JoinHostPort(b.settings.Host, strconv.Itoa(b.settings.Port))
	conn, err := net.DialTimeout("tcp", addr, b.settings.Timeout)
	if err != nil {
		return &TransportError{Op: "dial " + addr, Err: err}
	}

	c, err := smtp.NewClient(conn, b.settings.Host)
	if err != nil {
		conn.Close()
		return &TransportError{Op: "smtp handshake", Err: err}
	}

	// The server needs a name to greet with; ours is close enough and
	// the fallback is what the standard library uses.
	name, err := os.Hostname()
	if err != nil {
		name = "localhost"
	}
	if err := c.Hello(name); err != nil {
		c.Close()
		return &TransportError{Op: "smtp EHLO", Err: err}
	}

	if b.settings.UseTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			c.Close()
			return &TransportError{
				Op:  "smtp STARTTLS",
				Err: errors.New("the server does not support STARTTLS"),
			}
		}
		err := c.StartTLS(&tls.Config{
			ServerName:         b.settings.Host,
			InsecureSkipVerify: b.settings.SkipVerify,
		})
		if err != nil {
			c.Close()
			return &TransportError{Op: "smtp STARTTLS", Err: err}
		}
	}

	if b.settings.Username != "" {
		auth := sasl.NewPlainClient(
			"",
			b.settings.Username,
			b.settings.Password,
		)
		if err := c.Auth(auth); err != nil {
			c.Close()
			return &TransportError{Op: "smtp AUTH", Err: err}
		}
	}

	b.client = c
	return nil
}

// Close ends the SMTP session. A no-op when there is no live
// connection.
func (b *SMTP) Close() error {
	if b.client == nil {
		return nil
	}
	err := b.client.Quit()
	b.client = nil
	if err != nil {
		return &TransportError{Op: "smtp QUIT", Err: err}
	}
	return nil
}

// Deliver sends each message over the session, opening a connection
// for the duration of the call if none is up. A rejected message
// resets the SMTP transaction and the batch moves on to the next one.
func (b *SMTP) Deliver(msgs []*message.Message) (int, error) {
	openedHere := b.client == nil
	if openedHere {
		if err := b.Open(); err != nil {
			if b.settings.FailSilently {
				log.Debug().
					Err(err).
					Msg("dropping a connection error: failing silently")
				return 0, nil
			}
			return 0, err
		}
		defer b.Close()
	}

	var sent int
	var errs []error
	for _, m := range msgs {
		raw, err := serialize(m, b.settings)
		if err != nil {
			errs = recordFailure(errs, err, b.settings)
			continue
		}
		if err := b.sendOne(m, raw); err != nil {
			// Clear the server-side transaction state so the rest of
			// the batch can still go through.
			_ = b.client.Reset()
			errs = recordFailure(errs, err, b.settings)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func (b *SMTP) sendOne(m *message.Message, raw []byte) error {
	if err := b.client.Mail(envelopeAddr(m.From), nil); err != nil {
		return &TransportError{Op: "smtp MAIL FROM", Err: err}
	}
	for _, rcpt := range m.Recipients() {
		if err := b.client.Rcpt(envelopeAddr(rcpt)); err != nil {
			return &TransportError{
				Op:  fmt.Sprintf("smtp RCPT TO %v", rcpt),
				Err: err,
			}
		}
	}
	w, err := b.client.Data()
	if err != nil {
		return &TransportError{Op: "smtp DATA", Err: err}
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return &TransportError{Op: "smtp data write", Err: err}
	}
	if err := w.Close(); err != nil {
		return &TransportError{Op: "smtp end of data", Err: err}
	}
	return nil
}

// envelopeAddr extracts the bare address from a possibly display-named
// address string for use in the SMTP envelope.
func envelopeAddr(s string) string {
	if a, err := mail.ParseAddress(s); err == nil {
		return a.Address
	}
	return s
}
