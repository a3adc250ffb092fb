package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "project"), 0o755))
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_ResolvesProjectPath(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "ship.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "ship_to_live", s.Name)
	assert.Equal(t, filepath.Join("testdata", "project"), s.Project)
	require.Len(t, s.Setup, 1)
	assert.Equal(t, "c0ffee1234", s.Setup[0].Changes[0].ID)
	require.Len(t, s.Runs, 2)
	assert.Equal(t, "dev", s.Runs[1].Targets)
	assert.Len(t, s.Assertions, 8)
}

func TestLoadScenario_RejectsUnknownFields(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "unknown key"
project: project
runs:
  - flow: ship
assertion:
  - type: trace_count
    action: x
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "none.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "description: d\nproject: project\nruns: [{flow: f}]\nassertions: [{type: trace_count, action: a}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing project dir",
			content: "name: n\ndescription: d\nproject: elsewhere\nruns: [{flow: f}]\nassertions: [{type: trace_count, action: a}]\n",
			wantErr: "project directory not found",
		},
		{
			name:    "no runs",
			content: "name: n\ndescription: d\nproject: project\nruns: []\nassertions: [{type: trace_count, action: a}]\n",
			wantErr: "runs list is required",
		},
		{
			name:    "bad expect",
			content: "name: n\ndescription: d\nproject: project\nruns: [{flow: f, expect: maybe}]\nassertions: [{type: trace_count, action: a}]\n",
			wantErr: `unknown expect "maybe"`,
		},
		{
			name:    "seed without stream",
			content: "name: n\ndescription: d\nproject: project\nsetup: [{target: dev}]\nruns: [{flow: f}]\nassertions: [{type: trace_count, action: a}]\n",
			wantErr: "target and stream are required",
		},
		{
			name:    "unknown assertion",
			content: "name: n\ndescription: d\nproject: project\nruns: [{flow: f}]\nassertions: [{type: vibes}]\n",
			wantErr: `unknown assertion type "vibes"`,
		},
		{
			name:    "version without target",
			content: "name: n\ndescription: d\nproject: project\nruns: [{flow: f}]\nassertions: [{type: version, expect: 1.0.0}]\n",
			wantErr: "target is required for version",
		},
		{
			name:    "negative count",
			content: "name: n\ndescription: d\nproject: project\nruns: [{flow: f}]\nassertions: [{type: trace_count, action: a, count: -1}]\n",
			wantErr: "count must be non-negative",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
