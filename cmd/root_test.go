package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/municipal-sentinel/internal/config"
	"github.com/JakeFAU/municipal-sentinel/internal/pipeline"
	"github.com/JakeFAU/municipal-sentinel/internal/sentinel"
)

type fakeApp struct {
	summary pipeline.Summary
	runErr  error
	ran     int
	served  int
	closed  int
}

func (f *fakeApp) Run(context.Context) error {
	f.served++
	return nil
}

func (f *fakeApp) RunOnce(context.Context) (pipeline.Summary, error) {
	f.ran++
	return f.summary, f.runErr
}

func (f *fakeApp) Close(context.Context) error {
	f.closed++
	return nil
}

func withFakeApp(t *testing.T, app *fakeApp) *config.Config {
	t.Helper()
	var seen config.Config
	prev := newApp
	newApp = func(_ context.Context, cfg *config.Config) (App, error) {
		seen = *cfg
		return app, nil
	}
	t.Cleanup(func() { newApp = prev })
	return &seen
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\nauth:\n  cron_secret: s3cret\n"), 0o600))
	return path
}

func TestRunCommandPrintsSummary(t *testing.T) {
	app := &fakeApp{summary: pipeline.Summary{RunID: "run-7", Status: sentinel.RunCompleted, TotalTargets: 3}}
	seen := withFakeApp(t, app)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"run", "--config", writeConfig(t)})
	require.NoError(t, root.ExecuteContext(context.Background()))

	assert.Equal(t, 1, app.ran)
	assert.Equal(t, 1, app.closed)
	assert.Equal(t, 9191, seen.Server.Port)
	assert.Equal(t, "s3cret", seen.Auth.CronSecret)

	var summary map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	assert.Equal(t, "run-7", summary["runId"])
	assert.Equal(t, "completed", summary["status"])
}

func TestRunCommandReturnsPipelineError(t *testing.T) {
	app := &fakeApp{
		summary: pipeline.Summary{RunID: "run-8", Status: sentinel.RunFailed},
		runErr:  errors.New("notify digest: topic missing"),
	}
	withFakeApp(t, app)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run", "--config", writeConfig(t)})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topic missing")
	assert.Equal(t, 1, app.closed)
	assert.Contains(t, out.String(), `"failed"`)
}

func TestServeCommandRunsApp(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	root := newRootCmd()
	root.SetArgs([]string{"serve", "--config", writeConfig(t)})
	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Equal(t, 1, app.served)
	assert.Zero(t, app.closed, "Run owns shutdown")
}

func TestMissingConfigFileFails(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	root := newRootCmd()
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run", "--config", filepath.Join(t.TempDir(), "nope.yaml")})
	require.Error(t, root.ExecuteContext(context.Background()))
	assert.Zero(t, app.ran)
}
