package backend

import (
	"github.com/ptgott/mailroom/message"
)

// Discard drops every message and reports it as delivered. Use it to
// disable mail sending entirely without touching calling code.
type Discard struct{}

// Open is a no-op.
func (b *Discard) Open() error { return nil }

// Close is a no-op.
func (b *Discard) Close() error { return nil }

// Deliver reports the whole batch as sent without doing anything.
func (b *Discard) Deliver(msgs []*message.Message) (int, error) {
	return len(msgs), nil
}
