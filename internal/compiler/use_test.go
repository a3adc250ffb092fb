package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolveCUE(t *testing.T, src string) (*Node, error) {
	t.Helper()
	n, err := FromCUE(compileCUE(t, src))
	require.NoError(t, err)
	return ResolveUses(n)
}

func TestResolveUses_AbsoluteTemplate(t *testing.T) {
	out, err := resolveCUE(t, `
templates: service: {
	type: "git.local"
	config: {path: "/srv/repo", history: 20}
}
targets: prod: streams: api: {
	use: "templates.service"
	config: history: 5
}
`)
	require.NoError(t, err)

	api := out.Interface().(map[string]any)["targets"].(map[string]any)["prod"].(map[string]any)["streams"].(map[string]any)["api"]
	assert.Equal(t, map[string]any{
		"type":   "git.local",
		"config": map[string]any{"path": "/srv/repo", "history": int64(5)},
	}, api)
}

func TestResolveUses_RelativeSibling(t *testing.T) {
	out, err := resolveCUE(t, `
targets: {
	staging: {versioning: "semver", config: region: "eu"}
	prod: {use: "%staging", config: tier: "gold"}
}
`)
	require.NoError(t, err)

	prod, _ := out.Fields["targets"].Get("prod")
	assert.Equal(t, map[string]any{
		"versioning": "semver",
		"config":     map[string]any{"region": "eu", "tier": "gold"},
	}, prod.Interface())
	_, hasUse := prod.Get(UseKey)
	assert.False(t, hasUse)
}

func TestResolveUses_ClimbsWithExtraPercent(t *testing.T) {
	out, err := resolveCUE(t, `
defaults: {type: "git"}
targets: prod: streams: api: {use: "%%%%defaults"}
`)
	require.NoError(t, err)
	api, _ := out.Fields["targets"].Fields["prod"].Fields["streams"].Get("api")
	assert.Equal(t, map[string]any{"type": "git"}, api.Interface())
}

func TestResolveUses_ChainedTemplates(t *testing.T) {
	out, err := resolveCUE(t, `
templates: {
	base: {type: "git", config: branch: "main"}
	service: {use: "templates.base", config: history: 10}
}
app: use: "templates.service"
`)
	require.NoError(t, err)
	app, _ := out.Get("app")
	assert.Equal(t, map[string]any{
		"type":   "git",
		"config": map[string]any{"branch": "main", "history": int64(10)},
	}, app.Interface())
}

func TestResolveUses_DoesNotModifyInput(t *testing.T) {
	in, err := FromCUE(compileCUE(t, `
templates: base: {type: "git"}
app: use: "templates.base"
`))
	require.NoError(t, err)

	_, err = ResolveUses(in)
	require.NoError(t, err)
	app, _ := in.Get("app")
	assert.Equal(t, []string{"use"}, app.Keys)
}

func TestResolveUses_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"cycle", `
templates: {
	a: use: "templates.b"
	b: use: "templates.a"
}`, "template reference cycle"},
		{"unknown", `app: use: "templates.missing"`, "unknown reference"},
		{"above root", `app: use: "%%%%x"`, "climbs above the root"},
		{"empty", `app: use: "%"`, "empty reference"},
		{"not a string", `app: use: 3`, "use must be a string path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolveCUE(t, tt.src)
			require.Error(t, err)
			assert.True(t, IsCompileError(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
