package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/rollout/internal/integration"
	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/release"
	"github.com/roach88/rollout/internal/store"
	"github.com/roach88/rollout/internal/syncer"
	"github.com/roach88/rollout/internal/versioning"
)

// Built-in action types.
const (
	ActionVersionPatch    = "version.patch"
	ActionVersionRelease  = "version.release"
	ActionVersionRollback = "version.rollback"
	ActionVersionOverride = "version.override"
	ActionStreamMove      = "stream.move"
	ActionStreamBookmark  = "stream.bookmark"
	ActionStreamDetach    = "stream.detach"
	ActionSync            = "sync"
	ActionReleaseStatus   = "release.status"
	ActionReleaseReset    = "release.reset"
)

// KindBookmarks is the storage kind of the per-stream bookmark list.
const KindBookmarks = "bookmarks"

// BookmarkHistory bounds the recorded bookmarks per stream.
const BookmarkHistory = 20

// Action params read by the built-ins.
const (
	ParamStreams     = "streams"     // bool: version actions apply per stream
	ParamReleaseName = "releaseName" // string: prerelease identifier
	ParamForce       = "force"       // bool: allow non fast-forward moves
	ParamName        = "name"        // string: bookmark name
	ParamScopes      = "scopes"      // string or list: resync scopes
	ParamStatus      = "status"      // string: release status
	ParamType        = "type"        // string: release section type
	ParamSource      = "source"      // string: source target when no pair is given
)

// Services are the collaborators of the built-in actions.
type Services struct {
	Versions     *versioning.Engine
	Integrations *integration.Registry
	Syncer       *syncer.Synchronizer
	Release      *release.Extension
	Vars         store.Vars
	Logger       *slog.Logger
}

var errNoSource = errors.New("action needs a source:target pair or a source param")

// RegisterBuiltins registers every built-in action on r.
func RegisterBuiltins(r *ActionRegistry, svc Services) {
	if svc.Logger == nil {
		svc.Logger = slog.Default()
	}
	b := &builtins{svc: svc}
	r.Register(ActionVersionPatch, HandlerFunc(b.versionPatch))
	r.Register(ActionVersionRelease, HandlerFunc(b.versionRelease))
	r.Register(ActionVersionRollback, HandlerFunc(b.versionRollback))
	r.Register(ActionVersionOverride, HandlerFunc(b.versionOverride))
	r.Register(ActionStreamMove, HandlerFunc(b.streamMove))
	r.Register(ActionStreamBookmark, HandlerFunc(b.streamBookmark))
	r.Register(ActionStreamDetach, HandlerFunc(b.streamDetach))
	r.Register(ActionSync, HandlerFunc(b.sync))
	r.Register(ActionReleaseStatus, HandlerFunc(b.releaseStatus))
	r.Register(ActionReleaseReset, HandlerFunc(b.releaseReset))
}

type builtins struct {
	svc Services
}

func (b *builtins) versionPatch(ctx context.Context, c Call) error {
	p := versioning.Params{ReleaseName: c.Action.ParamString(ParamReleaseName)}
	return b.bump(ctx, c,
		func(t *ir.Target) (string, error) { return b.svc.Versions.Patch(ctx, t, p) },
		func(s *ir.Stream) (string, error) { return b.svc.Versions.PatchStream(ctx, s, p) },
	)
}

func (b *builtins) versionRelease(ctx context.Context, c Call) error {
	p := versioning.Params{ReleaseName: c.Action.ParamString(ParamReleaseName)}
	return b.bump(ctx, c,
		func(t *ir.Target) (string, error) { return b.svc.Versions.Release(ctx, t, p) },
		func(s *ir.Stream) (string, error) { return b.svc.Versions.ReleaseStream(ctx, s, p) },
	)
}

func (b *builtins) versionRollback(ctx context.Context, c Call) error {
	return b.bump(ctx, c,
		func(t *ir.Target) (string, error) {
			v, _, err := b.svc.Versions.Rollback(ctx, t)
			return v, err
		},
		func(s *ir.Stream) (string, error) {
			v, _, err := b.svc.Versions.RollbackStream(ctx, s)
			return v, err
		},
	)
}

// bump applies a version change to the target, or to each selected stream
// when the action sets "streams: true".
func (b *builtins) bump(ctx context.Context, c Call, target func(*ir.Target) (string, error), stream func(*ir.Stream) (string, error)) error {
	if !paramBool(c.Action, ParamStreams) {
		v, err := target(c.Target)
		if err != nil {
			return err
		}
		b.svc.Logger.Debug("target version changed", "run", c.RunID, "target", c.Target.ID, "version", v)
		c.Target.MarkDirty()
		return nil
	}
	for _, s := range c.Streams {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := stream(s)
		if err != nil {
			return fmt.Errorf("stream %q: %w", s.ID, err)
		}
		b.svc.Logger.Debug("stream version changed", "run", c.RunID, "target", c.Target.ID, "stream", s.ID, "version", v)
		s.MarkDirty()
	}
	return nil
}

func (b *builtins) versionOverride(ctx context.Context, c Call) error {
	if c.Source == nil {
		return errNoSource
	}
	if !paramBool(c.Action, ParamStreams) {
		if _, err := b.svc.Versions.Override(ctx, c.Source, c.Target); err != nil {
			return err
		}
		c.Target.MarkDirty()
		return nil
	}
	for _, dst := range c.Streams {
		src, err := c.Source.Stream(dst.ID)
		if err != nil {
			return err
		}
		if _, err := b.svc.Versions.OverrideStream(ctx, src, dst); err != nil {
			return fmt.Errorf("stream %q: %w", dst.ID, err)
		}
		dst.MarkDirty()
	}
	return nil
}

func (b *builtins) streamMove(ctx context.Context, c Call) error {
	if c.Source == nil {
		return errNoSource
	}
	opts := integration.MoveOptions{Force: paramBool(c.Action, ParamForce), Actor: c.Actor}
	for _, dst := range c.Streams {
		src, err := c.Source.Stream(dst.ID)
		if err != nil {
			return err
		}
		if err := dst.AssertType(src.Type, false); err != nil {
			return err
		}
		svc, err := b.svc.Integrations.ForStream(dst)
		if err != nil {
			return err
		}
		if err := svc.StreamMove(ctx, src, dst, opts); err != nil {
			return fmt.Errorf("move %s to %s: %w", src.Ref().Key(), dst.Ref().Key(), err)
		}
		dst.MarkDirty()
	}
	return nil
}

func (b *builtins) streamBookmark(ctx context.Context, c Call) error {
	for _, s := range c.Streams {
		name, err := b.bookmarkName(ctx, c, s)
		if err != nil {
			return err
		}
		svc, err := b.svc.Integrations.ForStream(s)
		if err != nil {
			return err
		}
		if err := svc.StreamBookmark(ctx, s, name); err != nil {
			return fmt.Errorf("bookmark %s: %w", s.Ref().Key(), err)
		}
		key := store.StreamKey(KindBookmarks, s.Ref().ProjectID, c.Target.Namespace(), s.ID)
		if _, err := b.svc.Vars.VarAdd(ctx, key, name, BookmarkHistory); err != nil {
			return err
		}
		s.MarkDirty()
	}
	return nil
}

// bookmarkName prefers the "name" param, then the stream's current
// version, then the run id.
func (b *builtins) bookmarkName(ctx context.Context, c Call, s *ir.Stream) (string, error) {
	if name := c.Action.ParamString(ParamName); name != "" {
		return name, nil
	}
	if b.svc.Versions != nil {
		v, ok, err := b.svc.Versions.GetCurrentStream(ctx, s, "")
		if err != nil {
			return "", err
		}
		if ok && v != "" {
			return v, nil
		}
	}
	return c.RunID, nil
}

func (b *builtins) streamDetach(ctx context.Context, c Call) error {
	for _, s := range c.Streams {
		svc, err := b.svc.Integrations.ForStream(s)
		if err != nil {
			return err
		}
		if err := svc.StreamDetach(ctx, s); err != nil {
			return fmt.Errorf("detach %s: %w", s.Ref().Key(), err)
		}
		s.MarkDirty()
	}
	return nil
}

// sync queues a resync of the selected streams and flushes the queue.
func (b *builtins) sync(ctx context.Context, c Call) error {
	req := ir.SyncRequest{
		TargetID:  c.Target.ID,
		StreamIDs: c.StreamIDs(),
		Scopes:    ir.ParseScopes(paramStrings(c.Action, ParamScopes)...),
	}
	if err := b.svc.Syncer.RequestSync(req); err != nil {
		return err
	}
	_, err := b.svc.Syncer.FlushPending(ctx)
	return err
}

func (b *builtins) releaseStatus(ctx context.Context, c Call) error {
	status := c.Action.ParamString(ParamStatus)
	if status == "" {
		return fmt.Errorf("%s: %q param is required", ActionReleaseStatus, ParamStatus)
	}
	if _, err := b.svc.Release.SetStatus(ctx, c.Target.Ref(), status); err != nil {
		return err
	}
	c.Target.MarkDirty()
	return nil
}

func (b *builtins) releaseReset(ctx context.Context, c Call) error {
	typ := c.Action.ParamString(ParamType)
	if typ == "" {
		return fmt.Errorf("%s: %q param is required", ActionReleaseReset, ParamType)
	}
	if _, err := b.svc.Release.ResetType(ctx, c.Target.Ref(), typ); err != nil {
		return err
	}
	c.Target.MarkDirty()
	return nil
}
