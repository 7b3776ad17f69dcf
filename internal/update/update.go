// Package update implements the webhook-triggered self-update.
//
// A verified webhook starts a detached pull-then-build sequence. When both
// steps succeed the process exits on purpose so a supervisor relaunches the
// freshly built binary. Any failure leaves the running process untouched.
package update

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/atomic"

	siteerrors "github.com/LiamSnow/liamsnow.com/internal/errors"
	"github.com/LiamSnow/liamsnow.com/internal/logging"
)

const signaturePrefix = "sha256="

// Step is one external command of the update sequence.
type Step struct {
	Code string
	Name string
	Args []string
	Dir  string
}

func (s Step) String() string {
	return strings.TrimSpace(s.Name + " " + strings.Join(s.Args, " "))
}

// Runner executes a step.
type Runner func(ctx context.Context, step Step) error

// Config configures the update sequence.
type Config struct {
	Git       string
	Go        string
	BuildArgs []string
	WorkDir   string
}

// Service verifies webhooks and runs the update sequence.
type Service struct {
	secret  []byte
	steps   []Step
	run     Runner
	exit    func(code int)
	logger  logging.Logger
	running *atomic.Bool
}

// Option customizes a Service.
type Option func(*Service)

// WithRunner replaces command execution.
func WithRunner(r Runner) Option {
	return func(s *Service) { s.run = r }
}

// WithExit replaces os.Exit.
func WithExit(exit func(code int)) Option {
	return func(s *Service) { s.exit = exit }
}

// NewService creates the update service. An empty secret disables it.
func NewService(secret string, cfg Config, logger logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}

	s := &Service{
		secret:  []byte(secret),
		steps:   steps(cfg),
		run:     execRunner,
		exit:    os.Exit,
		logger:  logger.WithComponent("update"),
		running: atomic.NewBool(false),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func steps(cfg Config) []Step {
	git := cfg.Git
	if git == "" {
		git = "git"
	}
	goBin := cfg.Go
	if goBin == "" {
		goBin = "go"
	}
	args := cfg.BuildArgs
	if len(args) == 0 {
		args = []string{"build", "."}
	}

	return []Step{
		{Code: siteerrors.CodePullFailed, Name: git, Args: []string{"pull"}, Dir: cfg.WorkDir},
		{Code: siteerrors.CodeCompileFailed, Name: goBin, Args: args, Dir: cfg.WorkDir},
	}
}

// LoadSecret reads a webhook secret file, trimming surrounding whitespace.
func LoadSecret(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", siteerrors.NewIOError(siteerrors.CodeSecretFile, "reading webhook secret", err).WithPath(path)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", siteerrors.NewConfigError(siteerrors.CodeSecretFile, "webhook secret file is empty").WithPath(path)
	}
	return secret, nil
}

// Enabled reports whether a secret was configured.
func (s *Service) Enabled() bool {
	return len(s.secret) > 0
}

// Verify checks a "sha256=<hex>" signature against the HMAC-SHA256 of the
// raw body in constant time.
func (s *Service) Verify(signature, body []byte) error {
	if !s.Enabled() {
		return siteerrors.ErrUpdateDisabled
	}
	if len(signature) == 0 {
		return siteerrors.ErrMissingSignature
	}

	hexSig, ok := bytes.CutPrefix(signature, []byte(signaturePrefix))
	if !ok {
		return siteerrors.ErrMalformedSignature
	}

	expected := make([]byte, hex.DecodedLen(len(hexSig)))
	if _, err := hex.Decode(expected, hexSig); err != nil {
		return siteerrors.ErrMalformedSignature
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	if !hmac.Equal(expected, mac.Sum(nil)) {
		return siteerrors.ErrSignatureMismatch
	}
	return nil
}

// Trigger starts the update sequence in the background. A trigger that
// arrives while an update is already running is dropped.
func (s *Service) Trigger() {
	ctx := context.Background()
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn(ctx, nil, "Update already in progress, ignoring trigger")
		return
	}

	go func() {
		defer s.running.Store(false)
		if err := s.Run(ctx); err != nil {
			s.logger.Error(ctx, err, "Update failed")
		}
	}()
}

// Run performs the update sequence synchronously and exits the process on
// success.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info(ctx, "Starting self-update")

	for _, step := range s.steps {
		s.logger.Info(ctx, "Running update step", "command", step.String())
		if err := s.run(ctx, step); err != nil {
			return siteerrors.NewUpdateError(step.Code, fmt.Sprintf("%s failed", step.String()), err).
				WithComponent("update")
		}
	}

	s.logger.Info(ctx, "Update complete, exiting for restart")
	s.exit(0)
	return nil
}

func execRunner(ctx context.Context, step Step) error {
	cmd := exec.CommandContext(ctx, step.Name, step.Args...)
	cmd.Dir = step.Dir

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
