package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rollout/internal/ir"
)

func projectWithArtifacts(t *testing.T, arts ...*ir.Artifact) *ir.Project {
	t.Helper()
	p := ir.NewProject("shop")
	for _, a := range arts {
		require.NoError(t, p.AddArtifact(a))
	}
	return p
}

func TestDetectArtifactCycles_Empty(t *testing.T) {
	assert.Empty(t, DetectArtifactCycles(ir.NewProject("shop")))
}

func TestDetectArtifactCycles_DAG(t *testing.T) {
	p := projectWithArtifacts(t,
		&ir.Artifact{ID: "build", Type: "static"},
		&ir.Artifact{ID: "image", Type: "static", DependsOn: []string{"build"}},
		&ir.Artifact{ID: "notes", Type: "static", DependsOn: []string{"build", "image"}},
	)
	assert.Empty(t, DetectArtifactCycles(p))
}

func TestDetectArtifactCycles_TwoNodes(t *testing.T) {
	p := projectWithArtifacts(t,
		&ir.Artifact{ID: "a", Type: "static", DependsOn: []string{"b"}},
		&ir.Artifact{ID: "b", Type: "static", DependsOn: []string{"a"}},
		&ir.Artifact{ID: "c", Type: "static"},
	)
	cycles := DetectArtifactCycles(p)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"a", "b", "a"}, cycles[0].Path)
	assert.Equal(t, "artifact dependency cycle: a → b → a", cycles[0].Error())
}

func TestDetectArtifactCycles_SelfLoop(t *testing.T) {
	p := projectWithArtifacts(t, &ir.Artifact{ID: "x", Type: "static", DependsOn: []string{"x"}})
	cycles := DetectArtifactCycles(p)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"x", "x"}, cycles[0].Path)
}

func TestDetectArtifactCycles_DeclarationOrder(t *testing.T) {
	p := projectWithArtifacts(t,
		&ir.Artifact{ID: "p", Type: "static", DependsOn: []string{"q"}},
		&ir.Artifact{ID: "a", Type: "static", DependsOn: []string{"b"}},
		&ir.Artifact{ID: "b", Type: "static", DependsOn: []string{"c"}},
		&ir.Artifact{ID: "c", Type: "static", DependsOn: []string{"a"}},
		&ir.Artifact{ID: "q", Type: "static", DependsOn: []string{"p"}},
	)
	cycles := DetectArtifactCycles(p)
	require.Len(t, cycles, 2)
	assert.Equal(t, []string{"p", "q", "p"}, cycles[0].Path)
	assert.Equal(t, []string{"a", "b", "c", "a"}, cycles[1].Path)
}

func TestDetectArtifactCycles_IgnoresUnknownDeps(t *testing.T) {
	p := projectWithArtifacts(t, &ir.Artifact{ID: "a", Type: "static", DependsOn: []string{"ghost"}})
	assert.Empty(t, DetectArtifactCycles(p))
}
