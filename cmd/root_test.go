package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			_, _ = w.Write([]byte(`<html><body><a href="/about.html">About</a></body></html>`))
		case "/about.html":
			_, _ = w.Write([]byte(`<html><body><a href="/">Home</a></body></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, in string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(strings.NewReader(in))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMirrorWithArguments(t *testing.T) {
	site := newSite(t)
	dir := t.TempDir()

	out, err := execute(t, "", site.URL, dir, "--no-progress", "--log-level", "error", "--workers", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "sitemirror dev")
	assert.Contains(t, out, "succeeded: 2 pages written")
	assert.FileExists(t, filepath.Join(dir, "index.html"))
	assert.FileExists(t, filepath.Join(dir, "about.html"))
	assert.FileExists(t, filepath.Join(dir, ".sitemirror.json"))
}

func TestMirrorPromptsForInput(t *testing.T) {
	site := newSite(t)
	dir := t.TempDir()

	out, err := execute(t, site.URL+"\n"+dir+"\n", "--no-progress", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, seedPrompt)
	assert.Contains(t, out, outputPrompt)
	assert.Less(t, strings.Index(out, "sitemirror dev"), strings.Index(out, seedPrompt))
	assert.FileExists(t, filepath.Join(dir, "about.html"))
}

func TestMirrorRejectsSingleArgument(t *testing.T) {
	_, err := execute(t, "", "https://example.com/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seedUrl and outputPath")
}

func TestMirrorPromptEOF(t *testing.T) {
	_, err := execute(t, "", "--no-progress")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed url")
}

func TestMirrorInvalidSeed(t *testing.T) {
	_, err := execute(t, "", "ftp://example.com/", t.TempDir(), "--no-progress", "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http or https")
}

func TestMirrorUnreachableSeedFails(t *testing.T) {
	site := newSite(t)
	dir := t.TempDir()

	out, err := execute(t, "", site.URL+"/missing/", dir, "--no-progress", "--log-level", "error", "--skip-failed-pages")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mirror aborted")
	assert.Contains(t, out, "failed: 0 pages written, 1 failed")
}

func TestMirrorInvalidFlagValue(t *testing.T) {
	_, err := execute(t, "", "https://example.com/", t.TempDir(), "--workers", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mirror.workers")
}

func TestMirrorConfigFile(t *testing.T) {
	site := newSite(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "sitemirror.yaml")
	body := "mirror:\n  seed: " + site.URL + "\n  output: " + dir + "\n  manifest: false\nprogress:\n  enabled: false\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))

	_, err := execute(t, "", "--config", cfgPath)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "index.html"))
	assert.NoFileExists(t, filepath.Join(dir, ".sitemirror.json"))
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "sitemirror dev\n", out)
}
