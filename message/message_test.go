package message

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckHeaderSafe(t *testing.T) {
	testCases := []struct {
		description   string
		input         string
		shouldBeError bool
	}{
		{
			description:   "plain value",
			input:         "Weekly report",
			shouldBeError: false,
		},
		{
			description:   "address with display name",
			input:         "\"Jo Smith\" <jo@example.com>",
			shouldBeError: false,
		},
		{
			description:   "embedded line feed",
			input:         "hello\nBcc: sneaky@example.com",
			shouldBeError: true,
		},
		{
			description:   "embedded carriage return",
			input:         "hello\rBcc: sneaky@example.com",
			shouldBeError: true,
		},
		{
			description:   "crlf pair",
			input:         "hello\r\nX-Extra: 1",
			shouldBeError: true,
		},
		{
			description:   "empty value",
			input:         "",
			shouldBeError: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			err := CheckHeaderSafe(tc.input)
			if (err != nil) != tc.shouldBeError {
				t.Errorf(
					"%v: unexpected error status--wanted %v but got %v with error %v",
					tc.description,
					tc.shouldBeError,
					err != nil,
					err,
				)
			}
		})
	}
}

func TestComposeRejectsUnsafeHeaders(t *testing.T) {
	testCases := []struct {
		description string
		message     Message
	}{
		{
			description: "newline in the subject",
			message: Message{
				Subject: "hi\nBcc: sneaky@example.com",
				From:    "a@example.com",
				To:      []string{"b@example.com"},
			},
		},
		{
			description: "carriage return in the sender",
			message: Message{
				Subject: "hi",
				From:    "a@example.com\rX-Extra: 1",
				To:      []string{"b@example.com"},
			},
		},
		{
			description: "newline in a to address",
			message: Message{
				Subject: "hi",
				From:    "a@example.com",
				To:      []string{"b@example.com\n"},
			},
		},
		{
			description: "newline in a bcc address",
			message: Message{
				Subject: "hi",
				From:    "a@example.com",
				To:      []string{"b@example.com"},
				Bcc:     []string{"c@example.com\nd@example.com"},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			doc, err := tc.message.Compose()
			var he *HeaderError
			require.True(t, errors.As(err, &he), "expected a HeaderError, got %v", err)
			assert.Nil(t, doc, "no document should be produced")
		})
	}
}

func TestComposeSinglePart(t *testing.T) {
	m := Message{
		Subject: "hi",
		Body:    "plain text",
		From:    "a@example.com",
		To:      []string{"b@example.com"},
	}
	doc, err := m.Compose()
	require.NoError(t, err)
	assert.Empty(t, doc.Root.Subparts)
	assert.Equal(t, "text/plain; charset=\"UTF-8\"", doc.Root.ContentType)
	assert.Equal(t, "plain text", string(doc.Root.Body))

	// Swapping the subtype changes the declared type without making
	// the document multipart.
	m.ContentSubtype = "html"
	m.Body = "<b>hi</b>"
	doc, err = m.Compose()
	require.NoError(t, err)
	assert.Empty(t, doc.Root.Subparts)
	assert.Equal(t, "text/html; charset=\"UTF-8\"", doc.Root.ContentType)
}

func TestComposeAlternatives(t *testing.T) {
	m := Message{
		Subject: "hi",
		Body:    "plain text",
		From:    "a@example.com",
		To:      []string{"b@example.com"},
	}
	m.AddAlternative("<b>hi</b>", "html")

	doc, err := m.Compose()
	require.NoError(t, err)
	assert.Equal(t, "multipart/alternative", doc.Root.ContentType)
	require.Len(t, doc.Root.Subparts, 2)
	assert.Equal(t, "plain text", string(doc.Root.Subparts[0].Body))
	assert.Equal(
		t,
		"text/html; charset=\"UTF-8\"",
		doc.Root.Subparts[1].ContentType,
	)
	assert.Equal(t, "<b>hi</b>", string(doc.Root.Subparts[1].Body))
}

func TestComposeAttachments(t *testing.T) {
	m := Message{
		Subject: "hi",
		Body:    "see attached",
		From:    "a@example.com",
		To:      []string{"b@example.com"},
	}
	m.Attach("first.pdf", []byte("%PDF-1.4 pretend"), "")
	m.Attach("second.xyz", []byte{0x01, 0x02}, "")

	doc, err := m.Compose()
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", doc.Root.ContentType)
	require.Len(t, doc.Root.Subparts, 3)

	assert.Equal(t, "see attached", string(doc.Root.Subparts[0].Body))
	assert.Equal(t, "application/pdf", doc.Root.Subparts[1].ContentType)
	assert.Equal(t, "first.pdf", doc.Root.Subparts[1].Filename)
	// No known media type for the extension, so we fall back to a
	// generic binary one.
	assert.Equal(
		t,
		"application/octet-stream",
		doc.Root.Subparts[2].ContentType,
	)
}

// An alternative set plus attachments should nest the alternative
// container as the first part of the mixed document.
func TestComposeAlternativesAndAttachments(t *testing.T) {
	m := Message{
		Subject: "hi",
		Body:    "plain text",
		From:    "a@example.com",
		To:      []string{"b@example.com"},
	}
	m.AddAlternative("<b>hi</b>", "html")
	m.AttachPart(Attachment{
		Filename:    "data.bin",
		Content:     []byte{0xde, 0xad},
		ContentType: "application/octet-stream",
	})

	doc, err := m.Compose()
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", doc.Root.ContentType)
	require.Len(t, doc.Root.Subparts, 2)
	assert.Equal(
		t,
		"multipart/alternative",
		doc.Root.Subparts[0].ContentType,
	)
	require.Len(t, doc.Root.Subparts[0].Subparts, 2)
	assert.Equal(t, "data.bin", doc.Root.Subparts[1].Filename)
}

func TestComposeIsIdempotent(t *testing.T) {
	m := Message{
		Subject: "hi",
		Body:    "plain text",
		From:    "a@example.com",
		To:      []string{"b@example.com"},
	}
	m.AddAlternative("<b>hi</b>", "html")
	m.Attach("first.pdf", []byte("%PDF-1.4 pretend"), "")

	doc1, err := m.Compose()
	require.NoError(t, err)
	doc2, err := m.Compose()
	require.NoError(t, err)

	// The part trees are fully comparable: boundaries and timestamps
	// only exist in the serialized form.
	assert.Equal(t, doc1.Root, doc2.Root)
	assert.Equal(t, doc1.To, doc2.To)
}

func TestRecipients(t *testing.T) {
	m := Message{
		To:  []string{"to1@example.com", "to2@example.com"},
		Cc:  []string{"cc@example.com", "to1@example.com"},
		Bcc: []string{"bcc@example.com"},
	}
	// Order is to, cc, bcc; duplicates are preserved.
	assert.Equal(t, []string{
		"to1@example.com",
		"to2@example.com",
		"cc@example.com",
		"to1@example.com",
		"bcc@example.com",
	}, m.Recipients())
}

func TestAttachFile(t *testing.T) {
	m := Message{}
	err := m.AttachFile("testdata/does-not-exist.txt", "")
	require.Error(t, err)
	assert.Empty(t, m.Attachments)
}

// TestWriteTo serializes a two-alternative message and parses the
// result back with mime/multipart to make sure a reader on the other
// end sees what we intended.
func TestWriteTo(t *testing.T) {
	m := Message{
		Subject: "The latest",
		Body:    "Hello this is my email body",
		From:    "me@example.com",
		To:      []string{"you@example.com"},
		Cc:      []string{"cc@example.com"},
		Bcc:     []string{"secret@example.com"},
		Headers: map[string]string{"X-Campaign": "spring"},
	}
	m.AddAlternative(
		"<html><body>Hello this is my email body.</body></html>",
		"html",
	)

	doc, err := m.Compose()
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := doc.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	raw := buf.String()
	s := strings.SplitN(raw, "\r\n\r\n", 2)
	require.Len(t, s, 2, "expecting a blank line after the headers")
	headers, body := s[0], s[1]

	assert.Contains(t, headers, "From: me@example.com")
	assert.Contains(t, headers, "To: you@example.com")
	assert.Contains(t, headers, "Cc: cc@example.com")
	assert.Contains(t, headers, "Subject: The latest")
	assert.Contains(t, headers, "X-Campaign: spring")
	assert.Contains(t, headers, "MIME-Version: 1.0")
	// Bcc recipients must never appear in the headers.
	assert.NotContains(t, raw, "secret@example.com")

	var ctLine string
	for _, l := range strings.Split(headers, "\r\n") {
		if strings.HasPrefix(l, "Content-Type: ") {
			ctLine = strings.TrimPrefix(l, "Content-Type: ")
		}
	}
	mediaType, params, err := mime.ParseMediaType(ctLine)
	require.NoError(t, err)
	assert.Equal(t, "multipart/alternative", mediaType)
	require.NotEmpty(t, params["boundary"])

	rdr := multipart.NewReader(strings.NewReader(body), params["boundary"])

	expectedParts := []string{
		"text/plain; charset=\"UTF-8\"",
		"text/html; charset=\"UTF-8\"",
	}
	var partCount int
	for {
		p, err := rdr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Less(t, partCount, len(expectedParts))
		assert.Equal(
			t,
			expectedParts[partCount],
			p.Header.Get("Content-Type"),
		)
		// mime/multipart decodes quoted-printable transparently, so
		// this is the original content.
		content, err := io.ReadAll(p)
		require.NoError(t, err)
		assert.Contains(t, string(content), "Hello this is my email body")
		partCount++
	}
	assert.Equal(t, len(expectedParts), partCount)
}

// Two serializations of the same document are equivalent but not
// byte-identical: each picks its own boundary and Message-ID.
func TestWriteToFreshBoundaries(t *testing.T) {
	m := Message{
		Subject: "hi",
		Body:    "plain text",
		From:    "a@example.com",
		To:      []string{"b@example.com"},
	}
	m.AddAlternative("<b>hi</b>", "html")

	doc, err := m.Compose()
	require.NoError(t, err)

	var one, two bytes.Buffer
	_, err = doc.WriteTo(&one)
	require.NoError(t, err)
	_, err = doc.WriteTo(&two)
	require.NoError(t, err)

	assert.NotEqual(t, one.String(), two.String())
	assert.Contains(t, one.String(), "plain text")
	assert.Contains(t, two.String(), "plain text")
}
