package message

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

const fallbackContentType = "application/octet-stream"

// HeaderError indicates that a string bound for a message header
// contains a line break. Accepting it would let the value smuggle
// additional headers or recipients into the message, so composition
// refuses the whole message instead.
type HeaderError struct {
	Value string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("header value must not contain newlines: %q", e.Value)
}

// CheckHeaderSafe returns a *HeaderError if v contains a carriage
// return or line feed. Body content is exempt from this check since
// bodies may legitimately span lines.
func CheckHeaderSafe(v string) error {
	if strings.ContainsAny(v, "\r\n") {
		return &HeaderError{Value: v}
	}
	return nil
}

// Attachment is a file to include in a message. ContentType may be
// left empty, in which case it is inferred from the Filename extension
// at composition time.
type Attachment struct {
	Filename    string
	Content     []byte
	ContentType string
}

// Alternative is an additional rendering of a message body under the
// "text" major type, e.g. an HTML counterpart to a plain-text body.
type Alternative struct {
	Content string
	Subtype string
}

// Message is a mutable email message. Construct one, set or attach
// whatever content it needs, then hand it to a backend, which composes
// and serializes it. The zero value is usable; only From and at least
// one recipient are required for delivery.
type Message struct {
	Subject string
	Body    string

	// ContentSubtype selects the subtype of the primary body under the
	// "text" major type. Empty means "plain".
	ContentSubtype string

	From string
	To   []string
	Cc   []string
	Bcc  []string

	// Headers are caller-supplied extra headers, written verbatim.
	// Values must already be header-safe; they are not run through
	// CheckHeaderSafe.
	Headers map[string]string

	Attachments  []Attachment
	Alternatives []Alternative
}

// Recipients returns the full transport-level recipient set: To, then
// Cc, then Bcc, in order. Duplicates are not removed; a caller that
// lists an address twice gets it delivered twice.
func (m *Message) Recipients() []string {
	r := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	r = append(r, m.To...)
	r = append(r, m.Cc...)
	r = append(r, m.Bcc...)
	return r
}

// Attach appends an attachment built from the given filename, content
// and content type. An empty contentType is inferred from the filename
// at composition time.
func (m *Message) Attach(filename string, content []byte, contentType string) {
	m.Attachments = append(m.Attachments, Attachment{
		Filename:    filename,
		Content:     content,
		ContentType: contentType,
	})
}

// AttachPart appends a pre-built attachment as-is.
func (m *Message) AttachPart(a Attachment) {
	m.Attachments = append(m.Attachments, a)
}

// AttachFile reads the file at path and attaches its content under the
// file's base name. Returns a filesystem error if the file can't be
// read.
func (m *Message) AttachFile(path string, contentType string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("can't read the attachment file: %v", err)
	}
	m.Attach(filepath.Base(path), b, contentType)
	return nil
}

// AddAlternative appends another rendering of the body. Readers render
// the last alternative they understand, so callers should add
// alternatives from least to most rich (plain text before HTML).
func (m *Message) AddAlternative(content string, subtype string) {
	m.Alternatives = append(m.Alternatives, Alternative{
		Content: content,
		Subtype: subtype,
	})
}

// Compose builds the transport-ready Document for the message. The
// subject, sender, and every recipient address must pass the header
// safety check or composition fails with a *HeaderError and no
// document is produced. Compose doesn't mutate the message and may be
// called repeatedly; repeated calls yield structurally equivalent
// documents.
func (m *Message) Compose() (*Document, error) {
	if err := CheckHeaderSafe(m.Subject); err != nil {
		return nil, err
	}
	if err := CheckHeaderSafe(m.From); err != nil {
		return nil, err
	}
	for _, a := range m.Recipients() {
		if err := CheckHeaderSafe(a); err != nil {
			return nil, err
		}
	}

	subtype := m.ContentSubtype
	if subtype == "" {
		subtype = "plain"
	}
	content := textPart(m.Body, subtype)

	// Alternatives nest the body inside an "alternative" container.
	// Attachments then wrap whatever we have so far in a "mixed"
	// container, so an alternative container with attachments ends up
	// as the first part of the mixed document.
	if len(m.Alternatives) > 0 {
		alt := &Part{
			ContentType: "multipart/alternative",
			Subparts:    []*Part{content},
		}
		for _, a := range m.Alternatives {
			alt.Subparts = append(alt.Subparts, textPart(a.Content, a.Subtype))
		}
		content = alt
	}

	if len(m.Attachments) > 0 {
		mixed := &Part{
			ContentType: "multipart/mixed",
			Subparts:    []*Part{content},
		}
		for _, a := range m.Attachments {
			mixed.Subparts = append(mixed.Subparts, attachmentPart(a))
		}
		content = mixed
	}

	// Bcc addresses deliberately never appear in the document headers;
	// they are carried only in the transport-level recipient set.
	return &Document{
		From:    m.From,
		To:      append([]string(nil), m.To...),
		Cc:      append([]string(nil), m.Cc...),
		Subject: m.Subject,
		Extra:   m.Headers,
		Root:    content,
	}, nil
}

func textPart(body string, subtype string) *Part {
	return &Part{
		ContentType: fmt.Sprintf("text/%s; charset=\"UTF-8\"", subtype),
		Encoding:    "quoted-printable",
		Body:        []byte(body),
	}
}

func attachmentPart(a Attachment) *Part {
	ct := a.ContentType
	if ct == "" {
		ct = mime.TypeByExtension(filepath.Ext(a.Filename))
	}
	if ct == "" {
		ct = fallbackContentType
	}
	return &Part{
		ContentType: ct,
		Encoding:    "base64",
		Filename:    a.Filename,
		Body:        a.Content,
	}
}
