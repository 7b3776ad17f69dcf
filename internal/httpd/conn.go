package httpd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"time"

	siteerrors "github.com/LiamSnow/liamsnow.com/internal/errors"
	"github.com/LiamSnow/liamsnow.com/internal/route"
)

var (
	methodGet  = []byte("GET")
	methodHead = []byte("HEAD")
	methodPost = []byte("POST")
)

// conn is the per-connection state. buf holds at most one request head plus
// whatever part of the next pipelined request has already arrived.
type conn struct {
	srv    *Server
	nc     net.Conn
	buf    []byte
	filled int
	req    request
}

// serve runs READING_HEADERS -> DISPATCH -> RESPONDING until the connection
// closes.
func (c *conn) serve() {
	for {
		if !c.readHead() {
			return
		}

		n, err := parseRequest(c.buf[:c.filled], &c.req)
		if err != nil {
			_ = c.write(route.BadRequest)
			return
		}

		if !c.dispatch(n) || c.req.wantsClose() {
			return
		}

		// shift the start of the next pipelined request to the front
		c.filled = copy(c.buf, c.buf[n:c.filled])
	}
}

// readHead reads until buf holds a complete request head. It reports false
// when the connection should close: EOF, timeout, or an oversized head.
func (c *conn) readHead() bool {
	scanned := 0
	for {
		if skip := emptyLines(c.buf[:c.filled]); skip > 0 {
			c.filled = copy(c.buf, c.buf[skip:c.filled])
			scanned = 0
		}

		from := scanned - (len(terminator) - 1)
		if from < 0 {
			from = 0
		}
		if bytes.Index(c.buf[from:c.filled], terminator) >= 0 {
			return true
		}
		scanned = c.filled

		if c.filled == len(c.buf) {
			_ = c.write(route.BadRequest)
			return false
		}

		_ = c.nc.SetReadDeadline(time.Now().Add(c.srv.timeout))
		n, err := c.nc.Read(c.buf[c.filled:])
		c.filled += n
		if err != nil {
			if n > 0 && errors.Is(err, io.EOF) {
				continue
			}
			return false
		}
	}
}

// dispatch answers one request. It reports whether the connection may be
// reused.
func (c *conn) dispatch(bodyOffset int) bool {
	method := c.req.method

	switch {
	case bytes.Equal(method, methodGet):
		return c.serveRoute(false)
	case bytes.Equal(method, methodHead):
		return c.serveRoute(true)
	case bytes.Equal(method, methodPost) && string(c.req.path()) == c.srv.updatePath:
		c.serveUpdate(bodyOffset)
		return false
	case bytes.Equal(method, methodPost):
		_ = c.write(route.NotFound)
		return false
	default:
		_ = c.write(route.MethodNotAllowed)
		return false
	}
}

func (c *conn) serveRoute(head bool) bool {
	r, ok := c.srv.store.Load().LookupBytes(c.req.path())
	if !ok {
		_ = c.write(route.NotFound)
		return false
	}

	var resp []byte
	switch {
	case c.req.etagMatches(r.ETag):
		resp = r.NotModified
	case c.req.acceptsBrotli():
		resp = r.Brotli
	default:
		resp = r.Identity
	}

	if head {
		resp = route.Head(resp)
	}

	return c.write(resp) == nil
}

func (c *conn) serveUpdate(bodyOffset int) {
	ctx := context.Background()
	logger := c.srv.logger

	u := c.srv.updater
	if u == nil || !u.Enabled() {
		_ = c.write(route.NotFound)
		return
	}

	v, ok := c.req.header("content-length")
	if !ok {
		_ = c.write(route.BadRequest)
		return
	}
	length, ok := parseContentLength(v)
	if !ok || length == 0 {
		_ = c.write(route.BadRequest)
		return
	}
	if length > MaxBodySize {
		_ = c.write(route.PayloadTooLarge)
		return
	}

	sig, ok := c.req.header(SignatureHeader)
	if !ok {
		logger.Warn(ctx, siteerrors.ErrMissingSignature, "Update rejected", "remote", c.nc.RemoteAddr().String())
		_ = c.write(route.BadRequest)
		return
	}
	// sig points into buf; the body is read into its own slice so it stays valid
	body := make([]byte, length)
	got := copy(body, c.buf[bodyOffset:c.filled])
	for got < length {
		_ = c.nc.SetReadDeadline(time.Now().Add(c.srv.timeout))
		n, err := c.nc.Read(body[got:])
		got += n
		if got == length {
			break
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				_ = c.write(route.BadRequest)
			}
			return
		}
	}

	if err := u.Verify(sig, body); err != nil {
		if !siteerrors.IsAuthError(err) {
			logger.Error(ctx, err, "Update verification failed")
			_ = c.write(route.InternalError)
			return
		}

		logger.Warn(ctx, err, "Update rejected", "remote", c.nc.RemoteAddr().String())
		switch {
		case errors.Is(err, siteerrors.ErrUpdateDisabled):
			_ = c.write(route.NotFound)
		case errors.Is(err, siteerrors.ErrMalformedSignature), errors.Is(err, siteerrors.ErrMissingSignature):
			_ = c.write(route.BadRequest)
		default:
			_ = c.write(route.Unauthorized)
		}
		return
	}

	if err := c.write(route.OK); err != nil {
		return
	}

	logger.Info(ctx, "Update accepted", "remote", c.nc.RemoteAddr().String())
	u.Trigger()
}

func (c *conn) write(b []byte) error {
	_ = c.nc.SetWriteDeadline(time.Now().Add(c.srv.timeout))
	_, err := c.nc.Write(b)
	return err
}
