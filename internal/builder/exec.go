package builder

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	siteerrors "github.com/LiamSnow/liamsnow.com/internal/errors"
)

// ManifestEntry is one line item printed by an external build command.
type ManifestEntry struct {
	URL  string `yaml:"url"`
	File string `yaml:"file"`
	Mime string `yaml:"mime,omitempty"`
}

// Command runs a build command in dir and returns its standard output.
type Command func(ctx context.Context, dir string, argv []string) ([]byte, error)

// ExecBuilder runs an external static-site build and reads the files named
// by the YAML manifest it prints.
type ExecBuilder struct {
	fs      afero.Fs
	root    string
	argv    []string
	command Command
}

// NewExecBuilder creates a builder running the shell-split command in root.
func NewExecBuilder(fs afero.Fs, root, command string) *ExecBuilder {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &ExecBuilder{
		fs:      fs,
		root:    filepath.Clean(root),
		argv:    strings.Fields(command),
		command: runCommand,
	}
}

// WithCommand replaces process execution.
func (b *ExecBuilder) WithCommand(c Command) *ExecBuilder {
	b.command = c
	return b
}

// Build runs the command and loads every manifest entry. All unreadable
// entries are reported together.
func (b *ExecBuilder) Build(ctx context.Context) ([]Artifact, error) {
	if len(b.argv) == 0 {
		return nil, siteerrors.NewBuildError(siteerrors.CodeBuildCommand, "empty build command", nil)
	}

	out, err := b.command(ctx, b.root, b.argv)
	if err != nil {
		return nil, siteerrors.NewBuildError(siteerrors.CodeBuildCommand,
			fmt.Sprintf("%s failed", strings.Join(b.argv, " ")), err)
	}

	entries, err := ParseManifest(out)
	if err != nil {
		return nil, err
	}

	artifacts := make([]Artifact, 0, len(entries))
	var errs error
	for _, e := range entries {
		p := e.File
		if !filepath.IsAbs(p) {
			p = filepath.Join(b.root, p)
		}

		body, err := afero.ReadFile(b.fs, p)
		if err != nil {
			errs = multierr.Append(errs,
				siteerrors.NewBuildError(siteerrors.CodeReadContent, "reading build output", err).WithURL(e.URL).WithPath(p))
			continue
		}

		mimeType := e.Mime
		if mimeType == "" {
			mimeType = MimeFor(e.File)
		}
		artifacts = append(artifacts, Artifact{URL: e.URL, Body: body, Mime: mimeType})
	}
	if errs != nil {
		return nil, errs
	}
	return artifacts, nil
}

// ParseManifest decodes and validates a build manifest.
func ParseManifest(data []byte) ([]ManifestEntry, error) {
	var entries []ManifestEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, siteerrors.NewBuildError(siteerrors.CodeManifest, "decoding build manifest", err)
	}

	for i, e := range entries {
		if !strings.HasPrefix(e.URL, "/") {
			return nil, siteerrors.NewBuildError(siteerrors.CodeManifest,
				fmt.Sprintf("entry %d: url must start with /", i), nil).WithURL(e.URL)
		}
		if e.File == "" {
			return nil, siteerrors.NewBuildError(siteerrors.CodeManifest,
				fmt.Sprintf("entry %d: missing file", i), nil).WithURL(e.URL)
		}
	}
	return entries, nil
}

func runCommand(ctx context.Context, dir string, argv []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}
