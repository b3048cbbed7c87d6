// Package dispatch provides the convenience entry points for sending
// mail: one call for a single message and one for a batch that shares
// a single backend session. Callers with more unusual needs can build
// message.Message values themselves and drive a backend.Backend
// directly.
package dispatch

import (
	"errors"

	"github.com/ptgott/mailroom/backend"
	"github.com/ptgott/mailroom/message"
)

// MessageSpec describes one message for SendBatch.
type MessageSpec struct {
	Subject string
	Body    string
	From    string
	To      []string
}

// Send builds a single plain-text message and delivers it through b,
// returning how many messages were sent: 1 or 0. When failSilently is
// set, delivery errors are swallowed and the count alone tells the
// caller what happened. Header safety violations surface regardless.
func Send(
	b backend.Backend,
	subject string,
	body string,
	from string,
	to []string,
	failSilently bool,
) (int, error) {
	m := &message.Message{
		Subject: subject,
		Body:    body,
		From:    from,
		To:      to,
	}
	return SendMessage(b, m, failSilently)
}

// SendMessage delivers one pre-built message through b.
func SendMessage(
	b backend.Backend,
	m *message.Message,
	failSilently bool,
) (int, error) {
	return deliver(b, []*message.Message{m}, failSilently)
}

// SendBatch builds one message per spec and delivers them all over a
// single backend session: if b is closed, the batch opens one
// connection, sends everything, and closes it, rather than paying for
// a connection per message. An already-open backend is reused and left
// open. Returns the number of messages confirmed sent.
func SendBatch(
	b backend.Backend,
	specs []MessageSpec,
	failSilently bool,
) (int, error) {
	msgs := make([]*message.Message, len(specs))
	for i, s := range specs {
		msgs[i] = &message.Message{
			Subject: s.Subject,
			Body:    s.Body,
			From:    s.From,
			To:      s.To,
		}
	}
	return deliver(b, msgs, failSilently)
}

// deliver hands the batch to the backend. Deliver on a closed backend
// already opens and closes one connection around the whole batch, so
// there is nothing more to manage here beyond the silent-failure
// policy.
func deliver(
	b backend.Backend,
	msgs []*message.Message,
	failSilently bool,
) (int, error) {
	n, err := b.Deliver(msgs)
	if err != nil && failSilently {
		// Header safety violations are composition-time programming
		// errors, not delivery failures, and are never silenced. A
		// batch can produce both kinds at once, so keep only the
		// violations rather than letting a delivery failure ride
		// along with them.
		err = errors.Join(headerViolations(err)...)
	}
	return n, err
}

// headerViolations extracts the header safety violations from a
// possibly joined delivery error. Returns nil when there are none.
func headerViolations(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range joined.Unwrap() {
			out = append(out, headerViolations(e)...)
		}
		return out
	}
	var he *message.HeaderError
	if errors.As(err, &he) {
		return []error{err}
	}
	return nil
}
