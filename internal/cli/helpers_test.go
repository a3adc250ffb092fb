package cli

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/spf13/cobra"

	"github.com/roach88/rollout/internal/integration"
	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/testutil"
)

var projectDir = filepath.Join("testdata", "project")

// testEnv is one isolated CLI environment: its own database, a fake git
// integration and deterministic run ids.
type testEnv struct {
	opts *RootOptions
	git  *testutil.FakeStreamService
}

func newTestEnv(t *testing.T, format string) *testEnv {
	t.Helper()
	git := testutil.NewFakeStreamService()
	return &testEnv{
		git: git,
		opts: &RootOptions{
			Format:         format,
			DBPath:         filepath.Join(t.TempDir(), "rollout.db"),
			Actor:          "tester",
			IDGenerator:    testutil.NewSequenceIDs("run"),
			StreamServices: map[string]integration.StreamService{"git": git},
		},
	}
}

// seedStaging gives the staging api stream one commit.
func (e *testEnv) seedStaging() {
	ref := ir.Ref{ProjectID: "shop", TargetID: "staging", StreamID: "api"}
	st := ir.NewStreamState(ref)
	st.History.Change = []ir.HistoryEntry{{
		ID:          "a1b2c3d4e5",
		Type:        "git.commit",
		Description: "Fix login",
		Author:      "al",
		Time:        time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}}
	e.git.SetState(ref, st)
}

// execute runs cmd with args and returns what it wrote to stdout.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}
