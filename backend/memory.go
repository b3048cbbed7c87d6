package backend

import (
	"errors"
	"sync"

	"github.com/ptgott/mailroom/message"
)

// Memory captures delivered messages in an in-process outbox so a test
// can inspect what the code under test sent. Each Memory instance owns
// its outbox; tests that share one across goroutines get the locking
// for free, but should call Reset between cases rather than letting
// the outbox accumulate.
type Memory struct {
	settings Settings
	mu       sync.Mutex
	outbox   []*message.Message
}

// Open is a no-op.
func (b *Memory) Open() error { return nil }

// Close is a no-op.
func (b *Memory) Close() error { return nil }

// Deliver validates each message by composing it, then appends it to
// the outbox. Messages that fail composition are not captured.
func (b *Memory) Deliver(msgs []*message.Message) (int, error) {
	var sent int
	var errs []error
	for _, m := range msgs {
		// Composing exercises the same header checks a real transport
		// would, so tests catch unsafe input.
		if _, err := compose(m, b.settings); err != nil {
			errs = recordFailure(errs, err, b.settings)
			continue
		}
		b.mu.Lock()
		b.outbox = append(b.outbox, m)
		b.mu.Unlock()
		sent++
	}
	return sent, errors.Join(errs...)
}

// Messages returns a copy of the outbox in delivery order.
func (b *Memory) Messages() []*message.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*message.Message, len(b.outbox))
	copy(out, b.outbox)
	return out
}

// Reset empties the outbox. Call this at the start of each test case.
func (b *Memory) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outbox = nil
}
