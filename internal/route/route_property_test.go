package route

import (
	"bytes"
	"io"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestCompileProperties validates the round-trip and fallback laws of Compile
func TestCompileProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(4242)
	parameters.MinSuccessfulTests = 60
	parameters.MaxSize = 2048

	properties := gopter.NewProperties(parameters)

	mimes := gen.OneConstOf(
		"text/html; charset=utf-8",
		"text/css",
		"application/javascript",
		"image/svg+xml",
		"image/png",
		"font/woff2",
	)

	// Property: the identity body is exactly the content
	properties.Property("identity body reassembles content", prop.ForAll(
		func(content []byte, mime string, fast bool) bool {
			r, err := Compile(content, mime, fast)
			if err != nil {
				return false
			}
			return bytes.Equal(Body(r.Identity), content)
		},
		gen.SliceOf(gen.UInt8()),
		mimes,
		gen.Bool(),
	))

	// Property: decoding the brotli variant yields the content
	properties.Property("brotli body decodes to content", prop.ForAll(
		func(content []byte, mime string) bool {
			r, err := Compile(content, mime, false)
			if err != nil {
				return false
			}

			body := Body(r.Brotli)
			if !bytes.Contains(Head(r.Brotli), []byte("Content-Encoding: br\r\n")) {
				return bytes.Equal(body, content)
			}

			decoded, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
			return err == nil && bytes.Equal(decoded, content)
		},
		gen.SliceOf(gen.OneConstOf(byte('a'), byte('b'), byte('<'), byte('>'), byte(' '), byte(0xff))),
		mimes,
	))

	// Property: without a strictly smaller encoding the brotli slot is the identity buffer
	properties.Property("fallback law", prop.ForAll(
		func(content []byte, mime string) bool {
			r, err := Compile(content, mime, false)
			if err != nil {
				return false
			}

			compressed := bytes.Contains(Head(r.Brotli), []byte("Content-Encoding: br\r\n"))
			if !compressed {
				return bytes.Equal(r.Brotli, r.Identity)
			}
			return len(Body(r.Brotli)) < len(content)
		},
		gen.SliceOf(gen.UInt8()),
		mimes,
	))

	// Property: compiling twice is byte-identical
	properties.Property("compile is idempotent", prop.ForAll(
		func(content []byte, mime string, fast bool) bool {
			a, errA := Compile(content, mime, fast)
			b, errB := Compile(content, mime, fast)
			if errA != nil || errB != nil {
				return false
			}
			return bytes.Equal(a.Identity, b.Identity) &&
				bytes.Equal(a.Brotli, b.Brotli) &&
				bytes.Equal(a.NotModified, b.NotModified) &&
				bytes.Equal(a.ETag, b.ETag)
		},
		gen.SliceOf(gen.UInt8()),
		mimes,
		gen.Bool(),
	))

	properties.TestingRun(t)
}
