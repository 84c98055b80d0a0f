package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/coffersTech/nanosearch/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--env", "", "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestExplainJSON(t *testing.T) {
	out, err := run(t, "explain", "--json", "site:a OR site:b")
	require.NoError(t, err)

	var ex engine.Explanation
	require.NoError(t, json.Unmarshal([]byte(out), &ex))
	assert.Equal(t, "site:a OR site:b", ex.Parsed)
	assert.Equal(t, "site:/a|b/", ex.Optimized)
	assert.NotEmpty(t, ex.Changes)
}

func TestExplainTable(t *testing.T) {
	out, err := run(t, "explain", "golang", "AND", "-golang")
	require.NoError(t, err)
	assert.Contains(t, out, "optimized:  <false>")
	assert.Contains(t, out, "matches:    nothing")
	assert.Contains(t, out, "merge operands")

	out, err = run(t, "explain", "--", "-draft")
	require.NoError(t, err)
	assert.Contains(t, out, "optimized:  -draft")

	out, err = run(t, "explain", "--json", "golang", "-draft")
	require.NoError(t, err)
	assert.Contains(t, out, `"optimized": "golang AND -draft"`)

	_, err = run(t, "explain", `"open`)
	assert.ErrorIs(t, err, engine.ErrInvalidQuery)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "NanoSearch version "+Version)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "warn", "json")
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "k", 1)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = newLogger(&buf, "loud", "text")
	assert.Error(t, err)
	_, err = newLogger(&buf, "info", "xml")
	assert.Error(t, err)
}

func TestSelfNode(t *testing.T) {
	dir := t.TempDir()
	opts := &serveOptions{port: 9000}

	first, err := selfNode(dir, opts)
	require.NoError(t, err)
	assert.NotEmpty(t, first.NodeID)
	assert.Contains(t, first.URL, ":9000")

	again, err := selfNode(dir, opts)
	require.NoError(t, err)
	assert.Equal(t, first.NodeID, again.NodeID)
	saved, err := os.ReadFile(filepath.Join(dir, ".node-id"))
	require.NoError(t, err)
	assert.Equal(t, first.NodeID, string(saved))

	opts.nodeID, opts.advertise = "fixed", "https://search.example.com"
	n, err := selfNode(dir, opts)
	require.NoError(t, err)
	assert.Equal(t, "fixed", n.NodeID)
	assert.Equal(t, "https://search.example.com", n.URL)
}

func TestCleanPeers(t *testing.T) {
	assert.Equal(t, []string{"http://a", "http://b"}, cleanPeers([]string{" http://a", "", "http://b "}))
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("NANOSEARCH_LOG_FORMAT", "json")
	_, err := run(t, "version")
	require.NoError(t, err)

	t.Setenv("NANOSEARCH_LOG_FORMAT", "xml")
	_, err = run(t, "version")
	assert.Error(t, err)

	// A flag given on the command line wins over the environment.
	_, err = run(t, "--log-format", "text", "version")
	assert.NoError(t, err)

	t.Setenv("NANOSEARCH_LOG_FORMAT", "")
	t.Setenv("NANOSEARCH_PORT", "eighty")
	_, err = run(t, "serve", "--data", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid NANOSEARCH_PORT")
}
