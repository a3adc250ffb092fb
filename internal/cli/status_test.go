package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestStatusText(t *testing.T) {
	env := newTestEnv(t, "text")
	env.seedStaging()

	out, err := execute(NewStatusCommand(env.opts), projectDir)
	require.NoError(t, err)
	assert.Contains(t, out, "TARGET")
	assert.Contains(t, out, "staging")
	assert.Contains(t, out, "prod")
	assert.Contains(t, out, "api")
	assert.Contains(t, out, "a1b2c3d4e5")
	assert.Contains(t, out, "idle")
}

func TestStatusJSONSingleTarget(t *testing.T) {
	env := newTestEnv(t, "json")
	env.seedStaging()

	out, err := execute(NewStatusCommand(env.opts), projectDir, "--target", "staging")
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   []TargetStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 1)

	ts := resp.Data[0]
	assert.Equal(t, "staging", ts.TargetID)
	assert.Equal(t, "env", ts.Type)
	assert.False(t, ts.Syncing)
	require.Len(t, ts.Streams, 1)
	assert.Equal(t, "api", ts.Streams[0].StreamID)
	assert.Equal(t, "git", ts.Streams[0].Type)
	assert.Equal(t, 1, ts.Streams[0].Changes)
	assert.Equal(t, 1, ts.Streams[0].Artifacts)
	assert.Equal(t, "a1b2c3d4e5", ts.Streams[0].Head)
}

func TestStatusYAMLAllTargets(t *testing.T) {
	env := newTestEnv(t, "yaml")

	out, err := execute(NewStatusCommand(env.opts), projectDir, "--resync")
	require.NoError(t, err)

	var resp struct {
		Status string `yaml:"status"`
		Data   []struct {
			TargetID string `yaml:"target_id"`
		} `yaml:"data"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "staging", resp.Data[0].TargetID)
	assert.Equal(t, "prod", resp.Data[1].TargetID)
}

func TestStatusUnknownTarget(t *testing.T) {
	env := newTestEnv(t, "text")

	out, err := execute(NewStatusCommand(env.opts), projectDir, "--target", "qa")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abc", shortID("abc"))
	assert.Equal(t, "0123456789ab", shortID("0123456789abcdef"))
	assert.Equal(t, "-", orDash(""))
}
