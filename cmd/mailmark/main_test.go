package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/FranksOps/mailmark/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cli runs commands against one JSON store file.
type cli struct {
	t     *testing.T
	store string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	return &cli{t: t, store: filepath.Join(t.TempDir(), "records.json")}
}

func (c *cli) run(stdin string, args ...string) (string, error) {
	c.t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--storage", "json", "--dsn", c.store, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMessage_AddThenStats(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("", "message", `{"type":"addEmail","payload":{"domain":"www.github.com","email":"Octo.Cat@acme.io","description":"work"}}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"success": true`)

	out, err = c.run("", "stats", "--format", "json")
	require.NoError(t, err)

	var rep struct {
		DomainCount int `json:"domainCount"`
		Domains     []struct {
			Domain  string `json:"domain"`
			Records []struct {
				Email       string `json:"email"`
				Description string `json:"description"`
			} `json:"records"`
		} `json:"domains"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 1, rep.DomainCount)
	require.Len(t, rep.Domains, 1)
	assert.Equal(t, "github.com", rep.Domains[0].Domain)
	require.Len(t, rep.Domains[0].Records, 1)
	assert.Equal(t, "octo.cat@acme.io", rep.Domains[0].Records[0].Email)
	assert.Equal(t, "work", rep.Domains[0].Records[0].Description)
}

func TestMessage_Stdin(t *testing.T) {
	c := newCLI(t)
	out, err := c.run(`{"type":"getTrackingStatus"}`, "message", "-")
	require.NoError(t, err)
	assert.Contains(t, out, `"isPaused": false`)
}

func TestMessage_Errors(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("", "message", `{not json`)
	assert.Error(t, err)

	out, err := c.run("", "message", `{"type":"nope"}`)
	require.Error(t, err)
	assert.Contains(t, out, `"success": false`)
}

func TestRecord_OAuthURL(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("", "record", "https://accounts.google.com/o/oauth2/auth?client_id=x&login_hint=jane.doe%40gmail.com",
		"--page", "https://app.acme.io/login")
	require.NoError(t, err)

	var outcome struct {
		Recorded bool   `json:"recorded"`
		IsNew    bool   `json:"isNew"`
		Domain   string `json:"domain"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &outcome))
	assert.True(t, outcome.Recorded)
	assert.True(t, outcome.IsNew)
	assert.Equal(t, "acme.io", outcome.Domain)

	out, err = c.run("", "record", "https://acme.io/about")
	require.NoError(t, err)
	assert.Equal(t, "nothing recorded\n", out)
}

func TestRecord_BodyFile(t *testing.T) {
	c := newCLI(t)
	body := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(body, []byte(`{"user":{"email":"kate.bush@acme.io"}}`), 0o600))

	out, err := c.run("", "record", "https://api.acme.io/session", "--body", body, "--content-type", "application/json")
	require.NoError(t, err)
	assert.Contains(t, out, "kate.bush@acme.io")
}

func TestPauseResume(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("", "pause")
	require.NoError(t, err)
	assert.Equal(t, "tracking paused\n", out)

	out, err = c.run("", "record", "https://acme.io/login?email=hank.hill@acme.io")
	require.NoError(t, err)
	assert.Equal(t, "tracking is paused, nothing recorded\n", out)

	out, err = c.run("", "resume")
	require.NoError(t, err)
	assert.Equal(t, "tracking active\n", out)

	out, err = c.run("", "record", "https://acme.io/login?email=hank.hill@acme.io")
	require.NoError(t, err)
	assert.Contains(t, out, `"recorded": true`)
}

func TestClear(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("", "message", `{"type":"addEmail","payload":{"domain":"acme.io","email":"ivy.lee@acme.io"}}`)
	require.NoError(t, err)

	_, err = c.run("", "clear")
	assert.Error(t, err)

	out, err := c.run("", "clear", "--yes")
	require.NoError(t, err)
	assert.Equal(t, "all records cleared\n", out)

	out, err = c.run("", "stats", "--format", "csv")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(strings.TrimSpace(out), "\n")+1, "only the header remains")
}

func TestStats_OutputFile(t *testing.T) {
	c := newCLI(t)
	path := filepath.Join(t.TempDir(), "report.html")

	out, err := c.run("", "stats", "--format", "html", "--output", path)
	require.NoError(t, err)
	assert.Empty(t, out)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "<html")

	_, err = c.run("", "stats", "--format", "yaml")
	assert.Error(t, err)
}

func TestSync_RequiresRemote(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("", "sync")
	assert.ErrorIs(t, err, errSyncDisabled)
}

func TestSync_JSONRemote(t *testing.T) {
	c := newCLI(t)
	remote := filepath.Join(t.TempDir(), "remote.json")
	t.Setenv("MAILMARK_REMOTE_KIND", "json")
	t.Setenv("MAILMARK_REMOTE_DSN", remote)

	_, err := c.run("", "message", `{"type":"addEmail","payload":{"domain":"acme.io","email":"ivy.lee@acme.io"}}`)
	require.NoError(t, err)

	out, err := c.run("", "sync", "--strategy", "local_wins")
	require.NoError(t, err)
	assert.Contains(t, out, `"success": true`)
	assert.Contains(t, out, `"strategy": "local_wins"`)

	b, err := os.ReadFile(remote)
	require.NoError(t, err)
	assert.Contains(t, string(b), "ivy.lee@acme.io")
}

func TestScan_BadFingerprint(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("", "scan", "--fingerprint", "netscape", "https://acme.io")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	assert.Nil(t, closer)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, _, err = newLogger(config.LogConfig{Level: "loud"}, &buf)
	assert.Error(t, err)
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailmark.log")
	logger, closer, err := newLogger(config.LogConfig{Level: "info", File: path, MaxSizeMB: 1}, io.Discard)
	require.NoError(t, err)
	require.NotNil(t, closer)

	logger.Info("to file")
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "to file")
}

func TestImport_FromExport(t *testing.T) {
	src := newCLI(t)
	_, err := src.run("", "message", `{"type":"addEmail","payload":{"domain":"acme.io","email":"ivy.lee@acme.io","description":"team"}}`)
	require.NoError(t, err)

	export := filepath.Join(t.TempDir(), "export.csv")
	_, err = src.run("", "stats", "--format", "csv", "--output", export)
	require.NoError(t, err)

	dst := newCLI(t)
	out, err := dst.run("", "import", export)
	require.NoError(t, err)
	assert.Equal(t, "Imported 1 rows; store now holds 1 emails across 1 domains\n", out)

	out, err = dst.run("", "message", `{"type":"checkNewEmail","payload":{"domain":"acme.io","email":"ivy.lee@acme.io"}}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"isNew": false`)

	_, err = dst.run("", "import", export, "--on-conflict", "newest")
	assert.Error(t, err)
}
