package syncer

import (
	"context"
	"slices"

	"github.com/roach88/rollout/internal/ir"
)

// RequestSync queues a batch resync of one target. Unknown targets and
// streams fail with NOT_FOUND.
func (s *Synchronizer) RequestSync(req ir.SyncRequest) error {
	target, err := s.project.Target(req.TargetID)
	if err != nil {
		return err
	}
	for _, id := range req.StreamIDs {
		if _, err := target.Stream(id); err != nil {
			return err
		}
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = s.now()
	}

	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pending = append(s.pending, req)
	s.logger.Debug("sync requested", "project", s.project.ID, "target", req.TargetID, "streams", req.StreamIDs)
	return nil
}

// Pending returns a copy of the queued requests.
func (s *Synchronizer) Pending() []ir.SyncRequest {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return slices.Clone(s.pending)
}

// FlushPending drains the queue. Requests for the same target are merged:
// stream lists are unioned (an empty list means every stream) and so are
// scopes. The named entities are marked dirty and each target is reread
// once, in first-request order. It returns the number of targets reread.
func (s *Synchronizer) FlushPending(ctx context.Context) (int, error) {
	s.pendingMu.Lock()
	queue := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	batches := mergeRequests(queue)
	for i, req := range batches {
		target, err := s.project.Target(req.TargetID)
		if err != nil {
			s.requeue(batches[i:])
			return i, err
		}
		if len(req.StreamIDs) == 0 {
			target.MarkDirty()
		}
		for _, id := range req.StreamIDs {
			stream, err := target.Stream(id)
			if err != nil {
				s.requeue(batches[i:])
				return i, err
			}
			stream.MarkDirty()
		}
		if _, err := s.RereadTarget(ctx, target, req.Scopes); err != nil {
			s.requeue(batches[i:])
			return i, err
		}
	}
	return len(batches), nil
}

func (s *Synchronizer) requeue(reqs []ir.SyncRequest) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pending = append(slices.Clone(reqs), s.pending...)
}

func mergeRequests(queue []ir.SyncRequest) []ir.SyncRequest {
	var out []ir.SyncRequest
	index := make(map[string]int)
	for _, req := range queue {
		i, ok := index[req.TargetID]
		if !ok {
			index[req.TargetID] = len(out)
			req.StreamIDs = slices.Clone(req.StreamIDs)
			out = append(out, req)
			continue
		}
		merged := &out[i]
		switch {
		case len(merged.StreamIDs) == 0:
		case len(req.StreamIDs) == 0:
			merged.StreamIDs = nil
		default:
			for _, id := range req.StreamIDs {
				if !slices.Contains(merged.StreamIDs, id) {
					merged.StreamIDs = append(merged.StreamIDs, id)
				}
			}
		}
		for _, sc := range req.Scopes {
			merged.Scopes = merged.Scopes.With(sc)
		}
	}
	return out
}
