package backend

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ptgott/mailroom/message"
	"github.com/rs/zerolog/log"
)

// Kind selects a concrete backend implementation.
type Kind string

const (
	KindSMTP    Kind = "smtp"
	KindFile    Kind = "file"
	KindMemory  Kind = "memory"
	KindConsole Kind = "console"
	KindDiscard Kind = "discard"
	KindSpool   Kind = "spool"
)

// DefaultTimeout bounds connection attempts and sends for network
// backends when the user doesn't configure one.
const DefaultTimeout = 15 * time.Second

// Settings configures a backend. Only the fields relevant to the
// chosen Kind are consulted; New reports which ones its Kind requires.
type Settings struct {
	Kind Kind

	// Network settings for the SMTP backend.
	Host       string
	Port       int
	Username   string
	Password   string
	UseTLS     bool // upgrade the connection with STARTTLS
	SkipVerify bool // skip TLS certificate verification
	Timeout    time.Duration

	// Dir is the output directory for the file and spool backends.
	Dir string

	// Out receives serialized messages from the console backend.
	// Defaults to os.Stdout.
	Out io.Writer

	// DefaultFrom is applied to messages with no sender address.
	DefaultFrom string

	// FailSilently swallows delivery errors: failed messages are left
	// out of the success count instead of surfacing an error. Header
	// safety violations are programming errors, not delivery failures,
	// and surface regardless.
	FailSilently bool

	// MaxMessageSize caps the serialized size of a single message.
	// Zero means no cap.
	MaxMessageSize int64
}

// Backend hands batches of messages to one delivery mechanism. A
// backend holds at most one live connection and is not safe for
// concurrent use; callers that deliver from several goroutines need a
// backend each.
type Backend interface {
	// Open establishes the backend's connection or output resource.
	// Opening an already-open backend is a no-op.
	Open() error

	// Close releases the connection. Closing an already-closed backend
	// is a no-op.
	Close() error

	// Deliver hands each message in the batch to the transport and
	// returns the number confirmed sent. A message that fails doesn't
	// stop the rest of the batch. If the backend was closed, Deliver
	// opens it for this call only and closes it again before
	// returning.
	Deliver(msgs []*message.Message) (int, error)
}

// ConfigurationError indicates a backend can't be constructed from the
// given settings. It is never subject to FailSilently.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid backend configuration: " + e.Reason
}

// TransportError wraps a failure to connect, authenticate, or hand a
// message to the transport.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%v: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// New constructs the backend selected by s.Kind, validating that the
// settings the kind requires are present.
func New(s Settings) (Backend, error) {
	switch s.Kind {
	case KindSMTP:
		if s.Host == "" || s.Port == 0 {
			return nil, &ConfigurationError{
				Reason: "the smtp backend needs a host and port",
			}
		}
		if s.Timeout == 0 {
			s.Timeout = DefaultTimeout
		}
		return &SMTP{settings: s}, nil
	case KindFile:
		if s.Dir == "" {
			return nil, &ConfigurationError{
				Reason: "the file backend needs an output directory",
			}
		}
		return &File{settings: s}, nil
	case KindSpool:
		if s.Dir == "" {
			return nil, &ConfigurationError{
				Reason: "the spool backend needs a database directory",
			}
		}
		return &Spool{settings: s}, nil
	case KindMemory:
		return &Memory{settings: s}, nil
	case KindConsole:
		if s.Out == nil {
			s.Out = os.Stdout
		}
		return &Console{settings: s}, nil
	case KindDiscard:
		return &Discard{}, nil
	default:
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("unknown backend kind %q", s.Kind),
		}
	}
}

// compose applies the configured default sender and builds the
// message's document.
func compose(m *message.Message, s Settings) (*message.Document, error) {
	if m.From == "" {
		m.From = s.DefaultFrom
	}
	doc, err := m.Compose()
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// serialize composes and serializes one message, enforcing the size
// cap.
func serialize(m *message.Message, s Settings) ([]byte, error) {
	doc, err := compose(m, s)
	if err != nil {
		return nil, err
	}
	b, err := doc.Bytes()
	if err != nil {
		return nil, err
	}
	if s.MaxMessageSize > 0 && int64(len(b)) > s.MaxMessageSize {
		return nil, &TransportError{
			Op: "serialize message",
			Err: fmt.Errorf(
				"message is %v bytes, above the %v byte limit",
				len(b),
				s.MaxMessageSize,
			),
		}
	}
	return b, nil
}

// recordFailure folds one message's delivery error into the running
// error list for a batch, honoring FailSilently. Header safety
// violations always surface.
func recordFailure(errs []error, err error, s Settings) []error {
	var he *message.HeaderError
	if errors.As(err, &he) {
		return append(errs, err)
	}
	if s.FailSilently {
		log.Debug().
			Err(err).
			Msg("dropping a delivery error: failing silently")
		return errs
	}
	return append(errs, err)
}
