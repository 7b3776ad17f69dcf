package httpd

import (
	"bytes"
	"errors"
)

const maxHeaders = 32

var (
	errIncomplete     = errors.New("incomplete request head")
	errMalformed      = errors.New("malformed request")
	errTooManyHeaders = errors.New("too many headers")
)

var (
	crlf       = []byte("\r\n")
	terminator = []byte("\r\n\r\n")
	http10     = []byte("HTTP/1.0")
	http11     = []byte("HTTP/1.1")
)

// header slices point into the connection buffer and are only valid until the
// buffer is shifted for the next request.
type header struct {
	name  []byte
	value []byte
}

type request struct {
	method   []byte
	target   []byte
	proto    []byte
	headers  [maxHeaders]header
	nheaders int
}

func (r *request) reset() {
	r.method = nil
	r.target = nil
	r.proto = nil
	r.nheaders = 0
}

// path is the target without its query component.
func (r *request) path() []byte {
	if i := bytes.IndexByte(r.target, '?'); i >= 0 {
		return r.target[:i]
	}
	return r.target
}

func (r *request) header(name string) ([]byte, bool) {
	for i := 0; i < r.nheaders; i++ {
		h := &r.headers[i]
		if len(h.name) == len(name) && equalFoldString(h.name, name) {
			return h.value, true
		}
	}
	return nil, false
}

// wantsClose reports whether the connection must close after this exchange.
// HTTP/1.0 defaults to close unless keep-alive was asked for.
func (r *request) wantsClose() bool {
	v, ok := r.header("connection")
	if bytes.Equal(r.proto, http10) {
		return !ok || !containsFold(v, "keep-alive")
	}
	return ok && containsFold(v, "close")
}

func (r *request) acceptsBrotli() bool {
	v, ok := r.header("accept-encoding")
	return ok && bytes.Contains(v, []byte("br"))
}

func (r *request) etagMatches(etag []byte) bool {
	v, ok := r.header("if-none-match")
	if !ok {
		return false
	}
	return bytes.Equal(v, etag) || bytes.Contains(v, etag)
}

// parseRequest parses the request line and headers at the start of buf and
// returns the offset of the first byte after the header block.
func parseRequest(buf []byte, req *request) (int, error) {
	req.reset()

	start := emptyLines(buf)

	end := bytes.Index(buf[start:], terminator)
	if end < 0 {
		return 0, errIncomplete
	}
	end += start
	block := buf[start : end+len(crlf)]

	line, rest, _ := bytes.Cut(block, crlf)
	if err := parseRequestLine(line, req); err != nil {
		return 0, err
	}

	for len(rest) > 0 {
		line, rest, _ = bytes.Cut(rest, crlf)
		if len(line) == 0 {
			break
		}
		if req.nheaders == maxHeaders {
			return 0, errTooManyHeaders
		}

		// obsolete line folding is not supported
		if line[0] == ' ' || line[0] == '\t' {
			return 0, errMalformed
		}

		colon := bytes.IndexByte(line, ':')
		if colon <= 0 || !isToken(line[:colon]) {
			return 0, errMalformed
		}

		req.headers[req.nheaders] = header{
			name:  line[:colon],
			value: trimOWS(line[colon+1:]),
		}
		req.nheaders++
	}

	return end + len(terminator), nil
}

func parseRequestLine(line []byte, req *request) error {
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return errMalformed
	}
	sp2 := bytes.IndexByte(line[sp1+1:], ' ')
	if sp2 <= 0 {
		return errMalformed
	}
	sp2 += sp1 + 1

	method, target, proto := line[:sp1], line[sp1+1:sp2], line[sp2+1:]
	if !isToken(method) || !isTarget(target) {
		return errMalformed
	}
	if !bytes.Equal(proto, http11) && !bytes.Equal(proto, http10) {
		return errMalformed
	}

	req.method, req.target, req.proto = method, target, proto
	return nil
}

func trimOWS(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}

func isToken(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c <= ' ' || c >= 0x7f {
			return false
		}
		switch c {
		case '(', ')', ',', '/', ':', ';', '<', '=', '>', '?', '@', '[', '\\', ']', '{', '}', '"':
			return false
		}
	}
	return true
}

func isTarget(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c <= ' ' || c == 0x7f {
			return false
		}
	}
	return true
}

// equalFoldString compares ASCII case-insensitively against a lowercase name.
func equalFoldString(b []byte, lower string) bool {
	for i := 0; i < len(b); i++ {
		c := b[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != lower[i] {
			return false
		}
	}
	return true
}

// containsFold reports whether b contains the lowercase ASCII string sub,
// ignoring case.
func containsFold(b []byte, sub string) bool {
	n := len(sub)
	for i := 0; i+n <= len(b); i++ {
		if equalFoldString(b[i:i+n], sub) {
			return true
		}
	}
	return false
}

// emptyLines returns the length of the CRLFs preceding a request line.
// Stray empty lines between pipelined requests are ignored.
func emptyLines(buf []byte) int {
	n := 0
	for bytes.HasPrefix(buf[n:], crlf) {
		n += len(crlf)
	}
	return n
}

// parseContentLength parses a decimal Content-Length without allocating.
// Values above MaxBodySize saturate at MaxBodySize+1.
func parseContentLength(b []byte) (int, bool) {
	if len(b) == 0 {
		return 0, false
	}
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		if n <= MaxBodySize {
			n = n*10 + int(c-'0')
		}
	}
	if n > MaxBodySize {
		n = MaxBodySize + 1
	}
	return n, true
}
