package message

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"sort"
	"strings"
	"time"
)

// Part is one node of a composed document: either a leaf carrying a
// payload with a transfer encoding, or a multipart container whose
// Subparts are written in order.
type Part struct {
	// ContentType is the media type of the part. For containers this
	// is the bare multipart type ("multipart/mixed" or
	// "multipart/alternative"); the boundary parameter is chosen at
	// serialization time.
	ContentType string

	// Encoding is the transfer encoding for leaf parts:
	// "quoted-printable" for text, "base64" for binary, or empty.
	Encoding string

	// Filename, when set, marks the part as an attachment and is used
	// for its Content-Disposition header.
	Filename string

	Body     []byte
	Subparts []*Part
}

// Document is a transport-ready message: top-level headers plus a MIME
// part tree. It is produced by Message.Compose and consumed by
// delivery backends via WriteTo.
type Document struct {
	From    string
	To      []string
	Cc      []string
	Subject string
	Extra   map[string]string
	Root    *Part
}

// WriteTo serializes the document to w with CRLF line endings:
// headers, a blank line, then the encoded part tree. Each call picks
// fresh multipart boundaries and stamps a fresh Date and Message-ID,
// so two serializations are equivalent but not byte-identical.
// Implements io.WriterTo.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer

	writeHeader(&buf, "From", d.From)
	if len(d.To) > 0 {
		writeHeader(&buf, "To", strings.Join(d.To, ", "))
	}
	if len(d.Cc) > 0 {
		writeHeader(&buf, "Cc", strings.Join(d.Cc, ", "))
	}
	writeHeader(&buf, "Subject", d.Subject)
	writeHeader(&buf, "Date", time.Now().UTC().Format(time.RFC1123Z))
	writeHeader(&buf, "Message-ID", messageID(d.From))
	writeHeader(&buf, "MIME-Version", "1.0")

	// Sort extra header names so serialization order doesn't depend on
	// map iteration.
	names := make([]string, 0, len(d.Extra))
	for k := range d.Extra {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		writeHeader(&buf, k, d.Extra[k])
	}

	if err := writeRoot(&buf, d.Root); err != nil {
		return 0, err
	}

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// Bytes serializes the document into a fresh byte slice.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := d.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, name string, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(buf, "%s: %s\r\n", name, value)
}

// messageID builds a unique Message-ID using the domain of the sender
// address, falling back to "localhost" when there isn't one.
func messageID(from string) string {
	host := "localhost"
	if i := strings.LastIndex(from, "@"); i != -1 && i < len(from)-1 {
		host = strings.TrimSuffix(from[i+1:], ">")
	}
	var r [12]byte
	// rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(r[:])
	return fmt.Sprintf("<%d.%x@%s>", time.Now().UnixNano(), r, host)
}

// writeRoot writes the root part's Content-Type (and encoding) headers
// followed by the blank line and the encoded body.
func writeRoot(buf *bytes.Buffer, p *Part) error {
	if len(p.Subparts) > 0 {
		mw := multipart.NewWriter(buf)
		// The boundary must appear in the header before the multipart
		// body, so reserve it up front.
		fmt.Fprintf(
			buf,
			"Content-Type: %s; boundary=%q\r\n\r\n",
			p.ContentType,
			mw.Boundary(),
		)
		for _, sub := range p.Subparts {
			if err := writeSubpart(mw, sub); err != nil {
				return err
			}
		}
		return mw.Close()
	}

	fmt.Fprintf(buf, "Content-Type: %s\r\n", p.ContentType)
	if p.Encoding != "" {
		fmt.Fprintf(buf, "Content-Transfer-Encoding: %s\r\n", p.Encoding)
	}
	buf.WriteString("\r\n")
	return writePayload(buf, p)
}

// writeSubpart writes one child of a multipart container, recursing
// for nested containers (the alternative set inside a mixed document).
func writeSubpart(mw *multipart.Writer, p *Part) error {
	h := textproto.MIMEHeader{}

	if len(p.Subparts) > 0 {
		var nested bytes.Buffer
		nw := multipart.NewWriter(&nested)
		for _, sub := range p.Subparts {
			if err := writeSubpart(nw, sub); err != nil {
				return err
			}
		}
		if err := nw.Close(); err != nil {
			return err
		}
		h.Set("Content-Type", fmt.Sprintf(
			"%s; boundary=%q", p.ContentType, nw.Boundary(),
		))
		pw, err := mw.CreatePart(h)
		if err != nil {
			return err
		}
		_, err = pw.Write(nested.Bytes())
		return err
	}

	h.Set("Content-Type", p.ContentType)
	if p.Encoding != "" {
		h.Set("Content-Transfer-Encoding", p.Encoding)
	}
	if p.Filename != "" {
		h.Set("Content-Disposition", fmt.Sprintf(
			"attachment; filename=%q",
			mime.QEncoding.Encode("UTF-8", p.Filename),
		))
	}
	pw, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	return writePayload(pw, p)
}

func writePayload(w io.Writer, p *Part) error {
	switch p.Encoding {
	case "base64":
		return writeBase64(w, p.Body)
	case "quoted-printable":
		qw := quotedprintable.NewWriter(w)
		if _, err := qw.Write(p.Body); err != nil {
			return err
		}
		return qw.Close()
	default:
		_, err := w.Write(p.Body)
		return err
	}
}

// writeBase64 encodes b in lines of 76 characters, the longest a
// transfer-encoded line may be.
func writeBase64(w io.Writer, b []byte) error {
	const lineLen = 76
	enc := base64.StdEncoding.EncodeToString(b)
	for len(enc) > 0 {
		n := lineLen
		if n > len(enc) {
			n = len(enc)
		}
		if _, err := io.WriteString(w, enc[:n]+"\r\n"); err != nil {
			return err
		}
		enc = enc[n:]
	}
	return nil
}
