package smtptest

import (
	"io"
	"strings"
	"testing"

	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// InProcessServer must keep satisfying the contract tests program
// against.
var _ Server = (*InProcessServer)(nil)

// TestInProcessServer drives the server through the narrow Server
// contract with a raw SMTP client, the way a backend test consumes it.
func TestInProcessServer(t *testing.T) {
	ips := NewInProcessServer("", "")
	require.NoError(t, ips.Listen())

	var srv Server = ips
	go func() {
		// The error returned when the test closes the server isn't
		// interesting.
		_ = srv.Start()
	}()
	defer srv.Close()

	c, err := smtp.Dial(srv.Address())
	require.NoError(t, err)
	require.NoError(t, c.Hello("localhost"))
	require.NoError(t, c.Mail("a@example.com", nil))
	require.NoError(t, c.Rcpt("b@example.com"))

	w, err := c.Data()
	require.NoError(t, err)
	_, err = io.WriteString(w, "Subject: raw\r\n\r\nhello")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, c.Quit())

	bodies, err := srv.RetrieveEmails(0)
	require.NoError(t, err)
	require.Len(t, bodies, 1)
	assert.Contains(t, bodies[0], "hello")

	headers, body := SplitHeadersBody(bodies[0])
	assert.Contains(t, headers, "Subject: raw")
	assert.Equal(t, "hello", strings.TrimSpace(body))
	assert.Equal(t, "raw", Header(bodies[0], "Subject"))
}
