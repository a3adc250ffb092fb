package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunFlow(t *testing.T) {
	env := newTestEnv(t, "text")
	env.seedStaging()

	out, err := execute(NewRunCommand(env.opts), projectDir, "promote")
	require.NoError(t, err)
	assert.Contains(t, out, "Run run-1 (flow promote): succeeded")
	assert.Contains(t, out, "staging -> prod")
	assert.Contains(t, out, "version.release")
	assert.Equal(t, []string{"move shop:staging:api -> shop:prod:api force=false"}, env.git.CallLog())

	out, err = execute(NewVersionCommand(env.opts), "show", projectDir, "prod")
	require.NoError(t, err)
	assert.Contains(t, out, "prod: 0.1.0")
}

func TestRunFlowJSON(t *testing.T) {
	env := newTestEnv(t, "json")

	out, err := execute(NewRunCommand(env.opts), projectDir, "patch")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		RunID  string    `json:"run_id"`
		Data   RunOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, "succeeded", resp.Data.Status)
	require.Len(t, resp.Data.Steps, 2)
	assert.Equal(t, "staging", resp.Data.Steps[0].TargetID)
	assert.Equal(t, "prod", resp.Data.Steps[1].TargetID)
}

func TestRunFlowTargetsSelection(t *testing.T) {
	env := newTestEnv(t, "json")

	out, err := execute(NewRunCommand(env.opts), projectDir, "patch", "--targets", "staging")
	require.NoError(t, err)

	var resp struct {
		Data RunOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Steps, 1)
	assert.Equal(t, "staging", resp.Data.Steps[0].TargetID)
}

func TestRunFlowFailureStopsAndRecords(t *testing.T) {
	env := newTestEnv(t, "text")

	out, err := execute(NewRunCommand(env.opts), projectDir, "broken")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "failed")

	out, err = execute(NewLogCommand(env.opts), "run-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Run run-1 (flow broken): failed")
	assert.Contains(t, out, "Actor: tester")
	assert.Contains(t, out, "source:target pair")
}

func TestRunUnknownFlow(t *testing.T) {
	env := newTestEnv(t, "text")

	out, err := execute(NewRunCommand(env.opts), projectDir, "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}

func TestRunInvalidTargets(t *testing.T) {
	env := newTestEnv(t, "text")

	_, err := execute(NewRunCommand(env.opts), projectDir, "promote", "--targets", "staging")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunNonExistentProjectDir(t *testing.T) {
	env := newTestEnv(t, "text")

	_, err := execute(NewRunCommand(env.opts), filepath.Join(t.TempDir(), "missing"), "promote")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "E005")
}

func TestRunCancelledContext(t *testing.T) {
	env := newTestEnv(t, "text")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cmd := NewRunCommand(env.opts)
	cmd.SetContext(ctx)
	_, err := execute(cmd, projectDir, "patch")
	require.Error(t, err)
}

func TestLogListsRuns(t *testing.T) {
	env := newTestEnv(t, "json")

	_, err := execute(NewRunCommand(env.opts), projectDir, "patch")
	require.NoError(t, err)
	_, err = execute(NewRunCommand(env.opts), projectDir, "patch")
	require.NoError(t, err)

	cmd := NewLogCommand(env.opts)
	out, err := execute(cmd, "--project", "shop")
	require.NoError(t, err)

	var resp struct {
		Data []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "run-2", resp.Data[0].ID)
	assert.Equal(t, "run-1", resp.Data[1].ID)
}

func TestLogRunRecordsJSON(t *testing.T) {
	env := newTestEnv(t, "json")

	_, err := execute(NewRunCommand(env.opts), projectDir, "patch")
	require.NoError(t, err)

	out, err := execute(NewLogCommand(env.opts), "run-1")
	require.NoError(t, err)

	var resp struct {
		Data RunLog `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "succeeded", resp.Data.Run.Status)
	assert.Equal(t, "tester", resp.Data.Run.Actor)
	require.Len(t, resp.Data.Actions, 2)
	assert.Equal(t, "version.patch", resp.Data.Actions[0].ActionType)
	assert.Equal(t, "staging", resp.Data.Actions[0].TargetID)
}

func TestLogUnknownRun(t *testing.T) {
	env := newTestEnv(t, "text")

	_, err := execute(NewRunCommand(env.opts), projectDir, "patch")
	require.NoError(t, err)

	out, err := execute(NewLogCommand(env.opts), "run-404")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}

func TestLogMissingDatabase(t *testing.T) {
	env := newTestEnv(t, "text")

	_, err := execute(NewLogCommand(env.opts), "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database not found")
}

func TestLogRequiresRunOrProject(t *testing.T) {
	env := newTestEnv(t, "text")

	_, err := execute(NewLogCommand(env.opts))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
