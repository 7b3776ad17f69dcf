// Package builder produces the site's artifacts: a URL, the bytes served at
// it and their mime type.
package builder

import (
	"context"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	siteerrors "github.com/LiamSnow/liamsnow.com/internal/errors"
)

const (
	defaultMime = "text/plain; charset=utf-8"
	htmlMime    = "text/html; charset=utf-8"
)

// Artifact is one routable build output.
type Artifact struct {
	URL  string
	Body []byte
	Mime string
}

// Builder produces the complete artifact set for one build.
type Builder interface {
	Build(ctx context.Context) ([]Artifact, error)
}

// DirBuilder serves a directory tree as-is.
type DirBuilder struct {
	fs   afero.Fs
	root string
}

// NewDirBuilder creates a builder over root on fs. A nil fs uses the OS
// filesystem.
func NewDirBuilder(fs afero.Fs, root string) *DirBuilder {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &DirBuilder{fs: fs, root: filepath.Clean(root)}
}

// Build walks the root and returns one artifact per visible file, sorted by
// URL.
func (b *DirBuilder) Build(ctx context.Context) ([]Artifact, error) {
	var artifacts []Artifact

	err := afero.Walk(b.fs, b.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel != "." && Hidden(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}

		body, err := afero.ReadFile(b.fs, p)
		if err != nil {
			return err
		}

		artifacts = append(artifacts, Artifact{
			URL:  URLFor(rel),
			Body: body,
			Mime: MimeFor(rel),
		})
		return nil
	})
	if err != nil {
		return nil, siteerrors.NewBuildError(siteerrors.CodeReadContent, "reading content tree", err).WithPath(b.root)
	}

	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].URL < artifacts[j].URL })
	return artifacts, nil
}

// URLFor maps a slash-separated path relative to the content root to the
// URL it is served at.
//
//	index.html       -> /
//	blog/index.html  -> /blog
//	blog/post.html   -> /blog/post
//	style.css        -> /style.css
func URLFor(rel string) string {
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")

	switch {
	case rel == "index.html":
		return "/"
	case path.Base(rel) == "index.html":
		return "/" + path.Dir(rel)
	case path.Ext(rel) == ".html":
		return "/" + strings.TrimSuffix(rel, ".html")
	default:
		return "/" + rel
	}
}

// Hidden reports whether any segment of rel starts with an underscore.
// Such files are inputs to the build, not outputs.
func Hidden(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, "_") {
			return true
		}
	}
	return false
}

// MimeFor returns the Content-Type for a file name.
func MimeFor(name string) string {
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case ".html", ".htm":
		return htmlMime
	case "":
		return defaultMime
	}

	if typ := mime.TypeByExtension(ext); typ != "" {
		return typ
	}
	return defaultMime
}
