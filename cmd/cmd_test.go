package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LiamSnow/liamsnow.com/internal/builder"
	"github.com/LiamSnow/liamsnow.com/internal/config"
	"github.com/LiamSnow/liamsnow.com/internal/logging"
)

func writeContent(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestBuildCommand(t *testing.T) {
	dir := writeContent(t, map[string]string{
		"index.html":       "<h1>home</h1>",
		"blog/index.html":  "<h1>blog</h1>",
		"_drafts/wip.html": "draft",
	})

	out, _, err := execute(t, "build", "--content", dir)
	require.NoError(t, err)

	assert.Contains(t, out, "URL")
	assert.Contains(t, out, "/blog")
	assert.NotContains(t, out, "wip")
	assert.Contains(t, out, "2 routes")
}

func TestBuildCommandReportsDuplicates(t *testing.T) {
	dir := writeContent(t, map[string]string{
		"about.html":       "one",
		"about/index.html": "two",
	})

	_, stderr, err := execute(t, "build", "--content", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 error(s)")
	assert.Contains(t, stderr, "build error:")
	assert.Contains(t, stderr, "url:/about")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("build failed with 1 error(s)")))

	v := viper.New()
	v.Set("server.port", 70000)
	_, err := config.LoadFrom(v)
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version", "--format", "json")
	require.NoError(t, err)

	var info map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "go_version")

	_, _, err = execute(t, "version", "--format", "xml")
	assert.Error(t, err)
	versionFormat = "text"
}

func TestNewBuilder(t *testing.T) {
	cfg := &config.Config{Content: config.ContentConfig{Root: "./content"}}
	assert.IsType(t, &builder.DirBuilder{}, newBuilder(cfg))

	cfg.Content.BuildCommand = "make site"
	assert.IsType(t, &builder.ExecBuilder{}, newBuilder(cfg))
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestServeEndToEnd(t *testing.T) {
	dir := writeContent(t, map[string]string{"index.html": "<html><head></head><body>hi</body></html>"})
	port := freePort(t)

	v := viper.New()
	v.Set("content.root", dir)
	v.Set("server.port", port)
	v.Set("server.workers", 2)
	v.Set("server.timeout", "500ms")
	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, logging.NewDiscardLogger()) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/"
	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = client.Get(url)
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html><head></head><body>hi</body></html>", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestServeFailsOnBrokenInitialBuild(t *testing.T) {
	v := viper.New()
	v.Set("content.root", filepath.Join(t.TempDir(), "missing"))
	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)

	err = serve(context.Background(), cfg, logging.NewDiscardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initial build failed")
}
