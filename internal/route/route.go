// Package route turns finished content into pre-serialized HTTP responses.
//
// A Route holds every byte the server will ever write for one URL: the
// uncompressed 200, the brotli 200 and the 304. The serving path only picks
// one of them, so no header formatting happens per request.
package route

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/zeebo/xxh3"

	siteerrors "github.com/LiamSnow/liamsnow.com/internal/errors"
	"github.com/LiamSnow/liamsnow.com/internal/logging"
)

// Route is an immutable set of wire-ready responses for one URL.
// Brotli aliases Identity when compression did not shrink the body.
type Route struct {
	Identity    []byte
	Brotli      []byte
	NotModified []byte
	ETag        []byte
}

// HeaderTerminator separates the header block from the body.
var HeaderTerminator = []byte("\r\n\r\n")

const (
	cacheFonts  = "public, max-age=31536000, immutable"
	cacheImages = "public, max-age=86400"

	// payloads at or below this size are expected to grow under brotli
	worseSizeThreshold = 100
)

// Compiler builds Routes. Fast skips compression entirely, which is what the
// watcher uses to keep iterative rebuilds quick.
type Compiler struct {
	Fast   bool
	Logger logging.Logger
}

// Compile builds a Route without a logger.
func Compile(content []byte, mime string, fast bool) (*Route, error) {
	c := Compiler{Fast: fast}
	return c.Compile("", content, mime)
}

// Compile serializes content into the three response variants. The url is
// only used for log and error context.
func (c *Compiler) Compile(url string, content []byte, mime string) (*Route, error) {
	typ, subtype := splitMime(mime)
	cacheControl := cacheControlFor(typ)
	compress := !c.Fast && shouldCompress(typ, subtype)

	etag := formatETag(content)

	identity := serialize(content, mime, cacheControl, compress, "", etag)

	brotliResp := identity
	if compress {
		compressed, err := compressBrotli(content)
		if err != nil {
			return nil, siteerrors.NewBuildError(siteerrors.CodeCompress, "brotli compression failed", err).
				WithURL(url)
		}

		if len(compressed) < len(content) {
			brotliResp = serialize(compressed, mime, cacheControl, true, "br", etag)
		} else if len(content) > worseSizeThreshold && c.Logger != nil {
			c.Logger.Warn(context.Background(), nil, "Compression yielded a worse size",
				"url", url,
				"mime", mime,
				"original", len(content),
				"compressed", len(compressed),
			)
		}
	}

	return &Route{
		Identity:    identity,
		Brotli:      brotliResp,
		NotModified: serializeNotModified(etag),
		ETag:        []byte(etag),
	}, nil
}

// Body returns the bytes after the header terminator of a serialized response.
func Body(response []byte) []byte {
	i := bytes.Index(response, HeaderTerminator)
	if i < 0 {
		return nil
	}
	return response[i+len(HeaderTerminator):]
}

// Head returns the status line and headers of a serialized response,
// including the terminating blank line.
func Head(response []byte) []byte {
	i := bytes.Index(response, HeaderTerminator)
	if i < 0 {
		return response
	}
	return response[:i+len(HeaderTerminator)]
}

func formatETag(content []byte) string {
	return fmt.Sprintf("\"%016x\"", xxh3.Hash(content))
}

func splitMime(mime string) (string, string) {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	mime = strings.ToLower(strings.TrimSpace(mime))

	typ, subtype, _ := strings.Cut(mime, "/")
	return typ, subtype
}

func cacheControlFor(typ string) string {
	switch typ {
	case "font":
		return cacheFonts
	case "image":
		return cacheImages
	default:
		return ""
	}
}

// Already-compressed binaries (raster images, woff2 fonts) are never worth
// another pass.
func shouldCompress(typ, subtype string) bool {
	switch typ {
	case "text", "application":
		return true
	case "image":
		return subtype == "svg+xml" || subtype == "svg"
	default:
		return false
	}
}

func compressBrotli(input []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(input) / 2)

	w := brotli.NewWriterOptions(&buf, brotli.WriterOptions{
		Quality: brotli.BestCompression,
	})
	if _, err := w.Write(input); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func serialize(body []byte, contentType, cacheControl string, vary bool, encoding, etag string) []byte {
	buf := make([]byte, 0, len(body)+256)

	buf = append(buf, "HTTP/1.1 200 OK\r\n"...)
	buf = append(buf, "Content-Type: "...)
	buf = append(buf, contentType...)
	buf = append(buf, "\r\nContent-Length: "...)
	buf = strconv.AppendInt(buf, int64(len(body)), 10)
	buf = append(buf, "\r\nETag: "...)
	buf = append(buf, etag...)
	buf = append(buf, "\r\n"...)

	if encoding != "" {
		buf = append(buf, "Content-Encoding: "...)
		buf = append(buf, encoding...)
		buf = append(buf, "\r\n"...)
	}
	if cacheControl != "" {
		buf = append(buf, "Cache-Control: "...)
		buf = append(buf, cacheControl...)
		buf = append(buf, "\r\n"...)
	}
	if vary {
		buf = append(buf, "Vary: Accept-Encoding\r\n"...)
	}

	buf = append(buf, "\r\n"...)
	buf = append(buf, body...)

	return buf
}

func serializeNotModified(etag string) []byte {
	buf := make([]byte, 0, 64)

	buf = append(buf, "HTTP/1.1 304 Not Modified\r\n"...)
	buf = append(buf, "ETag: "...)
	buf = append(buf, etag...)
	buf = append(buf, "\r\nContent-Length: 0\r\n\r\n"...)

	return buf
}
