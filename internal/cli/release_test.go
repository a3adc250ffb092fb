package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rollout/internal/release"
)

func TestReleaseShowAfterPromote(t *testing.T) {
	env := newTestEnv(t, "text")
	env.seedStaging()

	_, err := execute(NewRunCommand(env.opts), projectDir, "promote")
	require.NoError(t, err)

	out, err := execute(NewReleaseCommand(env.opts), "show", projectDir, "prod")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "release_show_prod", []byte(out))
}

func TestReleaseStatusPersists(t *testing.T) {
	env := newTestEnv(t, "text")
	env.seedStaging()

	out, err := execute(NewReleaseCommand(env.opts), "status", projectDir, "staging", "approved")
	require.NoError(t, err)
	assert.Contains(t, out, "# Release (approved)")

	out, err = execute(NewReleaseCommand(env.opts), "show", projectDir, "staging")
	require.NoError(t, err)
	assert.Contains(t, out, "# Release (approved)")
	assert.Contains(t, out, "Fix login")

	env.opts.Format = FormatJSON
	out, err = execute(NewStatusCommand(env.opts), projectDir, "-t", "staging")
	require.NoError(t, err)
	var resp struct {
		Data []TargetStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "approved", resp.Data[0].ReleaseStatus)
}

func TestReleaseResetType(t *testing.T) {
	env := newTestEnv(t, "json")
	env.seedStaging()

	_, err := execute(NewReleaseCommand(env.opts), "show", projectDir, "staging")
	require.NoError(t, err)

	out, err := execute(NewReleaseCommand(env.opts), "reset", projectDir, "staging", release.SectionStream)
	require.NoError(t, err)

	var resp struct {
		Data release.Document `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Empty(t, resp.Data.Sections)
}

func TestReleaseUnknownTarget(t *testing.T) {
	env := newTestEnv(t, "text")

	out, err := execute(NewReleaseCommand(env.opts), "show", projectDir, "qa")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}
