package smtptest

import "strings"

// SplitHeadersBody cuts a raw RFC 5322 message into its header block
// and body at the first blank line. If there is no blank line, the
// whole input is treated as headers. Meant for test assertions against
// captured messages.
func SplitHeadersBody(raw string) (headers string, body string) {
	parts := strings.SplitN(raw, "\r\n\r\n", 2)
	if len(parts) < 2 {
		return raw, ""
	}
	return parts[0], parts[1]
}

// Header returns the value of the first header with the given name in
// a raw message, or an empty string when the header is absent. Folded
// headers are not unfolded; tests that need that should parse the
// message properly instead.
func Header(raw string, name string) string {
	headers, _ := SplitHeadersBody(raw)
	for _, line := range strings.Split(headers, "\r\n") {
		if strings.HasPrefix(line, name+": ") {
			return strings.TrimPrefix(line, name+": ")
		}
	}
	return ""
}
