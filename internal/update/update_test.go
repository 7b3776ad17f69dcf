package update

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	siteerrors "github.com/LiamSnow/liamsnow.com/internal/errors"
)

const testSecret = "It's a Secret to Everybody"

func sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return []byte("sha256=" + hex.EncodeToString(mac.Sum(nil)))
}

func TestVerify(t *testing.T) {
	body := []byte("Hello, World!")
	svc := NewService(testSecret, Config{}, nil)

	testCases := []struct {
		name      string
		signature []byte
		body      []byte
		expected  error
	}{
		{"valid", sign(testSecret, body), body, nil},
		// the documented GitHub example signature for this secret and payload
		{"known vector", []byte("sha256=757107ea0eb2509fc211221cce984b8a37570b6d7586c22c46f4379c8b043e17"), body, nil},
		{"wrong secret", sign("other", body), body, siteerrors.ErrSignatureMismatch},
		{"tampered body", sign(testSecret, body), []byte("Hello, World?"), siteerrors.ErrSignatureMismatch},
		{"missing prefix", []byte(hex.EncodeToString([]byte("abc"))), body, siteerrors.ErrMalformedSignature},
		{"bad hex", []byte("sha256=zz"), body, siteerrors.ErrMalformedSignature},
		{"empty", nil, body, siteerrors.ErrMissingSignature},
		{"truncated digest", sign(testSecret, body)[:21], body, siteerrors.ErrSignatureMismatch},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Verify(tc.signature, tc.body)
			if tc.expected == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.expected)
			assert.True(t, siteerrors.IsAuthError(err))
		})
	}
}

func TestDisabledServiceRejectsEverything(t *testing.T) {
	svc := NewService("", Config{}, nil)
	body := []byte("payload")

	assert.False(t, svc.Enabled())
	assert.ErrorIs(t, svc.Verify(sign("", body), body), siteerrors.ErrUpdateDisabled)
}

type recorder struct {
	mu     sync.Mutex
	steps  []string
	fail   string
	exits  []int
	exited chan struct{}
}

func newRecorder() *recorder {
	return &recorder{exited: make(chan struct{}, 1)}
}

func (r *recorder) run(_ context.Context, step Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step.String())
	if step.Name == r.fail {
		return errors.New("exit status 1")
	}
	return nil
}

func (r *recorder) exit(code int) {
	r.mu.Lock()
	r.exits = append(r.exits, code)
	r.mu.Unlock()
	r.exited <- struct{}{}
}

func TestRunSuccessExits(t *testing.T) {
	rec := newRecorder()
	svc := NewService(testSecret, Config{Git: "git", Go: "go", BuildArgs: []string{"build", "-o", "site", "."}}, nil,
		WithRunner(rec.run), WithExit(rec.exit))

	require.NoError(t, svc.Run(context.Background()))
	assert.Equal(t, []string{"git pull", "go build -o site ."}, rec.steps)
	assert.Equal(t, []int{0}, rec.exits)
}

func TestRunFailureKeepsRunning(t *testing.T) {
	rec := newRecorder()
	rec.fail = "git"
	svc := NewService(testSecret, Config{}, nil, WithRunner(rec.run), WithExit(rec.exit))

	err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), siteerrors.CodePullFailed)
	assert.Contains(t, err.Error(), "component:update")
	assert.Equal(t, []string{"git pull"}, rec.steps, "build must not run after a failed pull")
	assert.Empty(t, rec.exits)
}

func TestTriggerRunsInBackground(t *testing.T) {
	rec := newRecorder()
	svc := NewService(testSecret, Config{}, nil, WithRunner(rec.run), WithExit(rec.exit))

	svc.Trigger()

	select {
	case <-rec.exited:
	case <-time.After(2 * time.Second):
		t.Fatal("update did not run")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.steps, 2)
	assert.Equal(t, []int{0}, rec.exits)
}

func TestTriggerIsSingleFlight(t *testing.T) {
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex

	runner := func(ctx context.Context, step Step) error {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return errors.New("stop here")
	}
	svc := NewService(testSecret, Config{}, nil, WithRunner(runner), WithExit(func(int) {}))

	svc.Trigger()
	require.Eventually(t, func() bool { return svc.running.Load() }, time.Second, 5*time.Millisecond)
	svc.Trigger()
	close(release)

	require.Eventually(t, func() bool { return !svc.running.Load() }, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestLoadSecret(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "secret")
	require.NoError(t, os.WriteFile(path, []byte("  hunter2\n"), 0o600))
	secret, err := LoadSecret(path)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", secret)

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0o600))
	_, err = LoadSecret(empty)
	assert.True(t, siteerrors.IsConfigError(err))

	_, err = LoadSecret(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
