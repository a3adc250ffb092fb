package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rollout/internal/release"
)

const shopProject = `
project: {id: "shop", description: "Web shop"}

templates: gitStream: {
	type: "git.local"
	config: {path: "/srv/shop", history: 20}
	artifacts: ["summary"]
}

artifacts: {
	build: {type: "static", params: {value: "ok"}}
	summary: {type: "changes.summary", dependsOn: ["build"]}
}

targets: {
	staging: {
		versioning: "semver"
		streams: api: use: "templates.gitStream"
	}
	prod: {
		use: "%staging"
		versioningNamespace: "shop-prod"
		config: approval: true
	}
}

flows: promote: {
	description: "Promote staging to prod"
	targets: ["prod"]
	actions: [
		{type: "stream.move", targets: ["staging:prod"]},
		{id: "bump", type: "version.release", params: {part: "minor"}},
	]
}

release: sections: deploy: {allowedArtifacts: ["build"], denySystem: true}
`

func TestCompile_FullProject(t *testing.T) {
	res, err := Compile(compileCUE(t, shopProject))
	require.NoError(t, err)
	p := res.Project

	assert.Equal(t, "shop", p.ID)
	assert.Equal(t, "Web shop", p.Description)
	assert.Equal(t, []string{"staging", "prod"}, p.TargetIDs())

	prod, err := p.Target("prod")
	require.NoError(t, err)
	assert.Equal(t, DefaultTargetType, prod.Type)
	assert.Equal(t, "semver", prod.Versioning)
	assert.Equal(t, "shop-prod", prod.VersioningNamespace)
	assert.Equal(t, map[string]any{"approval": true}, prod.Config)

	api, err := p.Stream("prod", "api")
	require.NoError(t, err)
	assert.Equal(t, "git.local", api.Type)
	assert.Equal(t, []string{"summary"}, api.Artifacts)
	assert.Equal(t, map[string]any{"path": "/srv/shop", "history": int64(20)}, api.Config)
	assert.Equal(t, "shop:prod:api", api.Ref().Key())

	summary, err := p.Artifact("summary")
	require.NoError(t, err)
	assert.Equal(t, []string{"build"}, summary.DependsOn)

	flow, err := p.Flow("promote")
	require.NoError(t, err)
	require.Len(t, flow.Actions, 2)
	assert.Equal(t, "stream.move", flow.Actions[0].ID)
	assert.Equal(t, []string{"staging:prod"}, flow.Actions[0].Targets)
	assert.Equal(t, "bump", flow.Actions[1].ID)
	assert.Equal(t, "minor", flow.Actions[1].ParamString("part"))

	require.NotNil(t, res.ReleaseSchema)
	assert.Equal(t, release.Rule{AllowedArtifacts: []string{"build"}, DenySystem: true}, res.ReleaseSchema.Sections["deploy"])
}

func TestCompile_Defaults(t *testing.T) {
	res, err := Compile(compileCUE(t, `
project: id: "solo"
targets: dev: {}
flows: noop: actions: [{type: "sync"}]
`))
	require.NoError(t, err)

	dev, err := res.Project.Target("dev")
	require.NoError(t, err)
	assert.Equal(t, DefaultVersioning, dev.Versioning)
	assert.Empty(t, dev.Streams())
	assert.Equal(t, map[string]any{}, dev.Config)

	flow, err := res.Project.Flow("noop")
	require.NoError(t, err)
	assert.Equal(t, []string{"dev"}, flow.Targets)
	assert.Nil(t, res.ReleaseSchema)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"missing project", `targets: dev: {}`, "project"},
		{"missing id", `project: description: "x"
targets: dev: {}`, "project.id"},
		{"no targets", `project: id: "p"`, "targets"},
		{"stream without type", `project: id: "p"
targets: dev: streams: api: config: {}`, "targets.dev.streams.api.type"},
		{"actions not a list", `project: id: "p"
targets: dev: {}
flows: f: actions: {}`, "flows.f.actions"},
		{"duplicate action", `project: id: "p"
targets: dev: {}
flows: f: actions: [{type: "sync"}, {type: "sync"}]`, "flows.f.actions"},
		{"bad artifacts list", `project: id: "p"
targets: dev: streams: api: {type: "git", artifacts: "x"}`, "targets.dev.streams.api.artifacts"},
		{"denySystem not bool", `project: id: "p"
targets: dev: {}
release: sections: x: denySystem: "yes"`, "release.sections.x.denySystem"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(compileCUE(t, tt.src))
			require.Error(t, err)
			var ce *CompileError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestCompile_RejectsArtifactCycle(t *testing.T) {
	_, err := Compile(compileCUE(t, `
project: id: "p"
targets: dev: {}
artifacts: {
	a: {type: "static", dependsOn: ["b"]}
	b: {type: "static", dependsOn: ["a"]}
}
`))
	var ce *CycleError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"a", "b", "a"}, ce.Path)
}

func TestCompileError_Format(t *testing.T) {
	err := &CompileError{Field: "targets", Message: "bad"}
	assert.Equal(t, "targets: bad", err.Error())
}
