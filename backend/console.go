package backend

import (
	"github.com/ptgott/mailroom/message"
)

// Console writes each serialized message to the configured output
// stream, normally standard output. Useful during development, when
// seeing the message is enough and a relay would be noise.
type Console struct {
	settings Settings
}

// Open is a no-op; the output stream is always ready.
func (b *Console) Open() error { return nil }

// Close is a no-op.
func (b *Console) Close() error { return nil }

// Deliver writes each message's serialized document, separated the
// same way the file backend separates them.
func (b *Console) Deliver(msgs []*message.Message) (int, error) {
	return streamMessages(b.settings.Out, msgs, b.settings)
}
