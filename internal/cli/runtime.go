package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/rollout/internal/artifact"
	"github.com/roach88/rollout/internal/compiler"
	"github.com/roach88/rollout/internal/engine"
	"github.com/roach88/rollout/internal/instrument"
	"github.com/roach88/rollout/internal/integration"
	"github.com/roach88/rollout/internal/integration/gitlocal"
	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/release"
	"github.com/roach88/rollout/internal/snapshot"
	"github.com/roach88/rollout/internal/store"
	"github.com/roach88/rollout/internal/syncer"
	"github.com/roach88/rollout/internal/versioning"
)

// registries are the explicit type registries of one process.
type registries struct {
	integrations *integration.Registry
	strategies   *versioning.Registry
	producers    *artifact.Registry
	actions      *engine.ActionRegistry
}

func newRegistries(opts *RootOptions, metrics *instrument.Metrics, logger *slog.Logger) registries {
	integrations := integration.NewRegistry()
	integrations.Use(instrument.WrapStreamService(metrics, logger))
	integrations.Register(gitlocal.Type, gitlocal.New(logger))
	for typ, svc := range opts.StreamServices {
		integrations.Register(typ, svc)
	}
	return registries{
		integrations: integrations,
		strategies:   versioning.DefaultRegistry(),
		producers:    artifact.DefaultRegistry(),
		actions:      engine.NewActionRegistry(),
	}
}

// validateOptions lists the registered types for compiler.Validate.
// Action handlers are registered before this is called.
func (r registries) validateOptions() compiler.Options {
	return compiler.Options{
		Strategies:    r.strategies.IDs(),
		ActionTypes:   r.actions.Types(),
		StreamTypes:   r.integrations.Types(),
		ArtifactTypes: r.producers.Types(),
	}
}

// Runtime wires the stores, registries and engines for one project.
type Runtime struct {
	Project   *ir.Project
	Store     *store.Store
	Snapshots *snapshot.Store
	Metrics   *instrument.Metrics
	Vars      store.Vars
	Versions  *versioning.Engine
	Syncer    *syncer.Synchronizer
	Release   *release.Extension
	Engine    *engine.Engine
}

// OpenRuntime opens the database and snapshot store and assembles every
// component around the loaded project. Close releases the stores.
func OpenRuntime(opts *RootOptions, loaded *LoadResult) (*Runtime, error) {
	logger := slog.Default()
	project := loaded.Project

	if dir := filepath.Dir(opts.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	st, err := store.Open(opts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	snaps, err := snapshot.Open(snapshot.Config{
		Dir:      opts.StateDir,
		InMemory: opts.StateDir == "",
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	metrics := instrument.NewMetrics(nil)
	regs := newRegistries(opts, metrics, logger)
	vars := instrument.WrapStorage(st, metrics, logger)

	versions := versioning.New(vars, regs.strategies,
		versioning.WithCacheTTL(opts.CacheTTL),
		versioning.WithLogger(logger),
	)

	ext := release.NewExtension(release.NewRepository(vars),
		release.WithSchema(loaded.ReleaseSchema),
		release.WithLogger(logger),
	)
	bus := syncer.NewBus(logger)
	bus.Register(ext)

	seq, err := st.MaxSeq(context.Background())
	if err != nil {
		_ = snaps.Close()
		_ = st.Close()
		return nil, err
	}
	clock := syncer.NewClockAt(seq)
	syn := syncer.New(project, regs.integrations,
		syncer.WithVersions(versions),
		syncer.WithArtifacts(artifact.NewResolver(project, regs.producers, logger)),
		syncer.WithSnapshots(snaps),
		syncer.WithBus(bus),
		syncer.WithClock(clock),
		syncer.WithCacheTTL(opts.CacheTTL),
		syncer.WithLogger(logger),
	)

	engine.RegisterBuiltins(regs.actions, engine.Services{
		Versions:     versions,
		Integrations: regs.integrations,
		Syncer:       syn,
		Release:      ext,
		Vars:         vars,
		Logger:       logger,
	})

	idGen := opts.IDGenerator
	if idGen == nil {
		idGen = engine.UUIDv7Generator{}
	}
	eng := engine.New(project, regs.actions,
		engine.WithRunStore(st),
		engine.WithIDGenerator(idGen),
		engine.WithClock(clock),
		engine.WithMetrics(metrics),
		engine.WithLogger(logger),
	)

	logger.Debug("runtime ready",
		"project", project.ID,
		"db", opts.DBPath,
		"state_dir", opts.StateDir,
		"stream_types", regs.integrations.Types(),
	)

	return &Runtime{
		Project:   project,
		Store:     st,
		Snapshots: snaps,
		Metrics:   metrics,
		Vars:      vars,
		Versions:  versions,
		Syncer:    syn,
		Release:   ext,
		Engine:    eng,
	}, nil
}

// Close closes the snapshot store and the database.
func (r *Runtime) Close() error {
	return errors.Join(r.Snapshots.Close(), r.Store.Close())
}

// Target looks up a target of the project. Unknown ids are reported
// through formatter.
func (r *Runtime) Target(formatter *OutputFormatter, id string) (*ir.Target, error) {
	t, err := r.Project.Target(id)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, ErrCodeNotFound, err)
	}
	return t, nil
}

// Stream looks up a stream of a target. Unknown ids are reported through
// formatter.
func (r *Runtime) Stream(formatter *OutputFormatter, t *ir.Target, id string) (*ir.Stream, error) {
	s, err := t.Stream(id)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, ErrCodeNotFound, err)
	}
	return s, nil
}

// openProject loads dir and opens a runtime for it. Failures are reported
// through formatter and returned as exit errors.
func openProject(opts *RootOptions, formatter *OutputFormatter, dir string) (*Runtime, error) {
	loaded, err := LoadProject(dir)
	if err != nil {
		return nil, reportLoadError(formatter, err)
	}
	formatter.VerboseLog("Loaded project %s from %d CUE file(s)", loaded.Project.ID, loaded.FileCount)

	rt, err := OpenRuntime(opts, loaded)
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "failed to open stores", err)
	}
	return rt, nil
}

// reportLoadError writes a load failure and converts it to an exit error.
func reportLoadError(formatter *OutputFormatter, err error) error {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
		return WrapExitError(ExitCommandError, "failed to load project", err)
	}
	_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
	return WrapExitError(ExitCommandError, "failed to load project", err)
}

// closeRuntime closes rt, logging failures.
func closeRuntime(rt *Runtime) {
	if err := rt.Close(); err != nil {
		slog.Error("error closing runtime", "error", err)
	}
}
