package backend

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ptgott/mailroom/message"
	"github.com/rs/zerolog/log"
)

// separator divides consecutive messages written to one stream so a
// reader can tell where one serialized document ends and the next
// begins.
const separator = "\n" + "-------------------------------------------------------------------------------" + "\n"

// File writes serialized messages to a file under the configured
// directory. Each open session gets its own file, named with a
// timestamp and a random suffix so concurrent sessions never collide.
type File struct {
	settings Settings
	f        *os.File
}

// Open creates the session's output file, and the output directory if
// it doesn't exist yet. A no-op when a file is already open.
func (b *File) Open() error {
	if b.f != nil {
		return nil
	}
	if err := os.MkdirAll(b.settings.Dir, 0o755); err != nil {
		return &TransportError{Op: "create the output directory", Err: err}
	}
	name := fmt.Sprintf(
		"%d-%v.msg",
		time.Now().UnixNano(),
		uuid.NewString(),
	)
	f, err := os.Create(filepath.Join(b.settings.Dir, name))
	if err != nil {
		return &TransportError{Op: "create the output file", Err: err}
	}
	b.f = f
	return nil
}

// Close finalizes the session's file. A no-op when no file is open.
func (b *File) Close() error {
	if b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	if err != nil {
		return &TransportError{Op: "close the output file", Err: err}
	}
	return nil
}

// Path returns the file the open session writes to, or an empty string
// when the session is closed.
func (b *File) Path() string {
	if b.f == nil {
		return ""
	}
	return b.f.Name()
}

// Deliver appends each message's serialized document to the session's
// file, creating one for the duration of the call if the session is
// closed.
func (b *File) Deliver(msgs []*message.Message) (int, error) {
	openedHere := b.f == nil
	if openedHere {
		if err := b.Open(); err != nil {
			if b.settings.FailSilently {
				log.Debug().
					Err(err).
					Msg("dropping a file backend error: failing silently")
				return 0, nil
			}
			return 0, err
		}
		defer b.Close()
	}
	return streamMessages(b.f, msgs, b.settings)
}

// streamMessages writes each message's serialized document plus the
// separator to w. Shared by the file and console backends.
func streamMessages(
	w io.Writer,
	msgs []*message.Message,
	s Settings,
) (int, error) {
	var sent int
	var errs []error
	for _, m := range msgs {
		raw, err := serialize(m, s)
		if err != nil {
			errs = recordFailure(errs, err, s)
			continue
		}
		if _, err := w.Write(raw); err != nil {
			errs = recordFailure(
				errs,
				&TransportError{Op: "write the message", Err: err},
				s,
			)
			continue
		}
		if _, err := io.WriteString(w, separator); err != nil {
			errs = recordFailure(
				errs,
				&TransportError{Op: "write the separator", Err: err},
				s,
			)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// SplitStream cuts the content of a message stream produced by the
// file or console backend back into individual serialized documents.
// Meant for tests and for tooling that inspects backend output.
func SplitStream(content string) []string {
	parts := strings.Split(content, separator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
