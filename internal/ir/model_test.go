package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProject(t *testing.T) *Project {
	t.Helper()
	p := NewProject("shop")
	dev := NewTarget("dev", "env.k8s")
	require.NoError(t, dev.AddStream(NewStream("api", "git.github")))
	require.NoError(t, dev.AddStream(NewStream("web", "git")))
	require.NoError(t, p.AddTarget(dev))
	require.NoError(t, p.AddTarget(NewTarget("prod", "env")))
	return p
}

// TestProject_DeclarationOrder tests that targets and streams keep insertion order.
func TestProject_DeclarationOrder(t *testing.T) {
	p := newTestProject(t)

	assert.Equal(t, []string{"dev", "prod"}, p.TargetIDs())
	dev, err := p.Target("dev")
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "web"}, dev.StreamIDs())
}

// TestProject_RefsBoundOnAdd tests that refs are rebound when entities are attached.
func TestProject_RefsBoundOnAdd(t *testing.T) {
	p := newTestProject(t)

	s, err := p.Stream("dev", "api")
	require.NoError(t, err)
	assert.Equal(t, Ref{ProjectID: "shop", TargetID: "dev", StreamID: "api"}, s.Ref())
	assert.Equal(t, "shop:dev:api", s.Ref().Key())
	assert.Equal(t, "dev", s.Target().ID)
}

// TestProject_LookupNotFound tests NOT_FOUND errors for unknown ids.
func TestProject_LookupNotFound(t *testing.T) {
	p := newTestProject(t)

	_, err := p.Target("qa")
	assert.True(t, IsNotFound(err))

	_, err = p.Stream("dev", "worker")
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), `stream "worker"`)

	_, err = p.Flow("promote")
	assert.True(t, IsNotFound(err))

	_, err = p.Artifact("build")
	assert.True(t, IsNotFound(err))
}

// TestProject_DuplicateRejected tests that duplicate ids are refused.
func TestProject_DuplicateRejected(t *testing.T) {
	p := newTestProject(t)
	assert.Error(t, p.AddTarget(NewTarget("dev", "env")))

	dev, _ := p.Target("dev")
	assert.Error(t, dev.AddStream(NewStream("api", "git")))
}

// TestAssertType tests strict and dotted-prefix type matching.
func TestAssertType(t *testing.T) {
	p := newTestProject(t)
	s, _ := p.Stream("dev", "api")

	assert.NoError(t, s.AssertType("git", false))
	assert.NoError(t, s.AssertType("git.github", true))

	err := s.AssertType("git", true)
	require.Error(t, err)
	assert.True(t, IsTypeMismatch(err))
}

// TestMatchType tests the dotted-prefix rule.
func TestMatchType(t *testing.T) {
	assert.True(t, MatchType("git", "git", false))
	assert.True(t, MatchType("git", "git.github", false))
	assert.False(t, MatchType("git", "gitlab", false))
	assert.False(t, MatchType("git", "git.github", true))
	assert.False(t, MatchType("", "git", false))
}

// TestDirtyFlags tests mark and clear of target and stream dirty flags.
func TestDirtyFlags(t *testing.T) {
	p := newTestProject(t)
	dev, _ := p.Target("dev")
	api, _ := dev.Stream("api")

	assert.False(t, dev.IsDirty())
	dev.MarkDirty()
	api.MarkDirty()
	assert.True(t, dev.IsDirty())
	assert.True(t, api.IsDirty())

	dev.ClearDirty()
	assert.False(t, dev.IsDirty())
	assert.True(t, api.IsDirty(), "clearing the target must not clear its streams")

	assert.True(t, api.TakeDirty())
	assert.False(t, api.IsDirty())
	assert.False(t, api.TakeDirty())
	assert.False(t, dev.TakeDirty())
}

// TestTarget_Namespace tests the versioning namespace fallback.
func TestTarget_Namespace(t *testing.T) {
	tgt := NewTarget("dev", "env")
	assert.Equal(t, "dev", tgt.Namespace())

	tgt.VersioningNamespace = "shared"
	assert.Equal(t, "shared", tgt.Namespace())
}

// TestFlow_Action tests action lookup within a flow.
func TestFlow_Action(t *testing.T) {
	f := &Flow{ID: "promote", Actions: []*Action{{ID: "move", Type: "stream.move"}}}

	a, err := f.Action("move")
	require.NoError(t, err)
	assert.Equal(t, "stream.move", a.Type)

	_, err = f.Action("bump")
	assert.True(t, IsNotFound(err))
}
