package gitlocal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/roach88/rollout/internal/integration"
	"github.com/roach88/rollout/internal/ir"
)

// Type is the stream type served by this integration.
const Type = "git"

// DefaultHistory is the number of commits read when the stream does not
// configure one.
const DefaultHistory = 50

// Entry types written into stream history.
const (
	EntryCommit = "git.commit"
	EntryTag    = "git.tag"
)

// ErrNotFastForward is returned by StreamMove when the target branch has
// commits the source does not, and Force is not set.
var ErrNotFastForward = errors.New("move is not a fast-forward")

// Service implements integration.StreamService.
type Service struct {
	logger *slog.Logger
}

var _ integration.StreamService = (*Service)(nil)

// New creates a Service. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

type location struct {
	path   string
	branch plumbing.ReferenceName
}

func locate(s *ir.Stream) (location, error) {
	path := s.ConfigString("path")
	if path == "" {
		return location{}, fmt.Errorf("stream %s: config key %q is required", s.Ref().Key(), "path")
	}
	branch := s.ConfigString("branch")
	if branch == "" {
		branch = s.Ref().TargetID
	}
	return location{path: path, branch: plumbing.NewBranchReferenceName(branch)}, nil
}

func historyLimit(s *ir.Stream) int {
	switch v := s.Config["history"].(type) {
	case int:
		if v > 0 {
			return v
		}
	case int64:
		if v > 0 {
			return int(v)
		}
	}
	return DefaultHistory
}

func open(loc location) (*git.Repository, error) {
	repo, err := git.PlainOpen(loc.path)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", loc.path, err)
	}
	return repo, nil
}

// head returns the commit hash of the stream's branch, or false when the
// branch does not exist.
func head(repo *git.Repository, loc location) (plumbing.Hash, bool, error) {
	ref, err := repo.Reference(loc.branch, true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return plumbing.ZeroHash, false, nil
	}
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("resolve %s: %w", loc.branch, err)
	}
	return ref.Hash(), true, nil
}

// StreamGetState reads the branch log into the change history and the
// tags on the branch head into the artifact history. A missing branch
// yields an empty state.
//
// The log walk runs only when scopes want changes and the tag scan only
// when they want artifacts. Empty scopes, "*" and "resync" want both.
func (s *Service) StreamGetState(ctx context.Context, stream *ir.Stream, scopes ir.Scopes) (*ir.StreamState, error) {
	loc, err := locate(stream)
	if err != nil {
		return nil, err
	}
	repo, err := open(loc)
	if err != nil {
		return nil, err
	}

	st := ir.NewStreamState(stream.Ref())
	hash, ok, err := head(repo, loc)
	if err != nil || !ok {
		return st, err
	}

	if wants(scopes, ir.ScopeChange) {
		if st.History.Change, err = readLog(ctx, repo, hash, historyLimit(stream)); err != nil {
			return nil, err
		}
	}
	if wants(scopes, ir.ScopeArtifact) {
		if st.History.Artifact, err = tagsAt(repo, hash); err != nil {
			return nil, err
		}
	}

	s.logger.Debug("git state read",
		"stream", stream.Ref().Key(), "branch", loc.branch.Short(), "head", hash.String(),
		"scopes", scopes.Strings(), "changes", len(st.History.Change))
	return st, nil
}

func wants(scopes ir.Scopes, x ir.Scope) bool {
	return scopes.Empty() || scopes.Wants(x) || scopes.Wants(ir.ScopeResync)
}

func readLog(ctx context.Context, repo *git.Repository, from plumbing.Hash, limit int) ([]ir.HistoryEntry, error) {
	iter, err := repo.Log(&git.LogOptions{From: from})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	out := []ir.HistoryEntry{}
	for len(out) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read log: %w", err)
		}
		out = append(out, commitEntry(c))
	}
	return out, nil
}

func commitEntry(c *object.Commit) ir.HistoryEntry {
	subject, _, _ := strings.Cut(strings.TrimSpace(c.Message), "\n")
	return ir.HistoryEntry{
		ID:          c.Hash.String(),
		Type:        EntryCommit,
		Author:      c.Author.Name,
		Description: subject,
		Metadata:    map[string]any{"email": c.Author.Email},
		Time:        c.Author.When.UTC(),
	}
}

func tagsAt(repo *git.Repository, hash plumbing.Hash) ([]ir.HistoryEntry, error) {
	iter, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	out := []ir.HistoryEntry{}
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		target := ref.Hash()
		if tag, err := repo.TagObject(ref.Hash()); err == nil {
			target = tag.Target
		}
		if target == hash {
			out = append(out, ir.HistoryEntry{ID: ref.Name().Short(), Type: EntryTag})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return out, nil
}

// StreamBookmark tags the branch head with name.
func (s *Service) StreamBookmark(ctx context.Context, stream *ir.Stream, name string) error {
	loc, err := locate(stream)
	if err != nil {
		return err
	}
	repo, err := open(loc)
	if err != nil {
		return err
	}
	hash, ok, err := head(repo, loc)
	if err != nil {
		return err
	}
	if !ok {
		return ir.NewNotFoundError("branch", loc.branch.Short(), stream.Ref())
	}
	if _, err := repo.CreateTag(name, hash, nil); err != nil {
		return fmt.Errorf("bookmark %s as %q: %w", stream.Ref().Key(), name, err)
	}
	s.logger.Info("stream bookmarked", "stream", stream.Ref().Key(), "tag", name, "head", hash.String())
	return nil
}

// StreamDetach deletes the stream's branch. Detaching a missing branch is
// a no-op.
func (s *Service) StreamDetach(ctx context.Context, stream *ir.Stream) error {
	loc, err := locate(stream)
	if err != nil {
		return err
	}
	repo, err := open(loc)
	if err != nil {
		return err
	}
	if err := repo.Storer.RemoveReference(loc.branch); err != nil {
		return fmt.Errorf("detach %s: %w", stream.Ref().Key(), err)
	}
	s.logger.Info("stream detached", "stream", stream.Ref().Key(), "branch", loc.branch.Short())
	return nil
}

// StreamMove points the target stream's branch at the source stream's
// head. Both streams must be git streams living in the same repository.
func (s *Service) StreamMove(ctx context.Context, source, target *ir.Stream, opts integration.MoveOptions) error {
	for _, stream := range []*ir.Stream{source, target} {
		if err := stream.AssertType(Type, false); err != nil {
			return err
		}
	}
	src, err := locate(source)
	if err != nil {
		return err
	}
	dst, err := locate(target)
	if err != nil {
		return err
	}
	if src.path != dst.path {
		return fmt.Errorf("move %s -> %s: streams live in different repositories", source.Ref().Key(), target.Ref().Key())
	}

	repo, err := open(src)
	if err != nil {
		return err
	}
	srcHash, ok, err := head(repo, src)
	if err != nil {
		return err
	}
	if !ok {
		return ir.NewNotFoundError("branch", src.branch.Short(), source.Ref())
	}

	dstHash, exists, err := head(repo, dst)
	if err != nil {
		return err
	}
	if exists && dstHash != srcHash && !opts.Force {
		ff, err := isAncestor(repo, dstHash, srcHash)
		if err != nil {
			return err
		}
		if !ff {
			return fmt.Errorf("move %s -> %s: %w", source.Ref().Key(), target.Ref().Key(), ErrNotFastForward)
		}
	}

	if err := repo.Storer.SetReference(plumbing.NewHashReference(dst.branch, srcHash)); err != nil {
		return fmt.Errorf("move %s -> %s: %w", source.Ref().Key(), target.Ref().Key(), err)
	}
	s.logger.Info("stream moved",
		"source", source.Ref().Key(), "target", target.Ref().Key(),
		"head", srcHash.String(), "force", opts.Force, "actor", opts.Actor)
	return nil
}

func isAncestor(repo *git.Repository, ancestor, of plumbing.Hash) (bool, error) {
	a, err := repo.CommitObject(ancestor)
	if err != nil {
		return false, fmt.Errorf("load commit %s: %w", ancestor, err)
	}
	b, err := repo.CommitObject(of)
	if err != nil {
		return false, fmt.Errorf("load commit %s: %w", of, err)
	}
	return a.IsAncestor(b)
}
