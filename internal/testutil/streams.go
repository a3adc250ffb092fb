package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/rollout/internal/integration"
	"github.com/roach88/rollout/internal/ir"
)

// FakeStreamService is an in-memory integration.StreamService.
//
// StreamGetState returns a clone of the state set for the stream's ref (or
// an empty state) after Delay. GetCalls counts StreamGetState calls; other
// operations are appended to the call log.
type FakeStreamService struct {
	mu     sync.Mutex
	states map[string]*ir.StreamState
	calls  []string
	scopes []ir.Scopes

	Delay    time.Duration
	GetCalls atomic.Int64

	// GetErr, when set, fails StreamGetState.
	GetErr error

	// OnGet, when set, runs at the start of every StreamGetState call.
	OnGet func(s *ir.Stream)
}

var _ integration.StreamService = (*FakeStreamService)(nil)

// NewFakeStreamService creates an empty fake.
func NewFakeStreamService() *FakeStreamService {
	return &FakeStreamService{states: make(map[string]*ir.StreamState)}
}

// SetState sets the state returned for ref.
func (f *FakeStreamService) SetState(ref ir.Ref, st *ir.StreamState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[ref.Key()] = st.Clone()
}

// SetError sets or clears the StreamGetState error.
func (f *FakeStreamService) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetErr = err
}

// StreamGetState implements integration.StreamService.
func (f *FakeStreamService) StreamGetState(ctx context.Context, s *ir.Stream, scopes ir.Scopes) (*ir.StreamState, error) {
	f.GetCalls.Add(1)
	if f.OnGet != nil {
		f.OnGet(s)
	}
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.scopes = append(f.scopes, scopes)
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	st, ok := f.states[s.Ref().Key()]
	if !ok {
		return ir.NewStreamState(s.Ref()), nil
	}
	out := st.Clone()
	out.Ref = s.Ref()
	return out, nil
}

// StreamBookmark implements integration.StreamService.
func (f *FakeStreamService) StreamBookmark(_ context.Context, s *ir.Stream, name string) error {
	f.record(fmt.Sprintf("bookmark %s %s", s.Ref().Key(), name))
	return nil
}

// StreamDetach implements integration.StreamService.
func (f *FakeStreamService) StreamDetach(_ context.Context, s *ir.Stream) error {
	f.record("detach " + s.Ref().Key())
	return nil
}

// StreamMove implements integration.StreamService. The target takes a copy
// of the source's change history.
func (f *FakeStreamService) StreamMove(_ context.Context, source, target *ir.Stream, opts integration.MoveOptions) error {
	f.mu.Lock()
	src, ok := f.states[source.Ref().Key()]
	if ok {
		moved := src.Clone()
		moved.Ref = target.Ref()
		f.states[target.Ref().Key()] = moved
	}
	f.mu.Unlock()
	f.record(fmt.Sprintf("move %s -> %s force=%t", source.Ref().Key(), target.Ref().Key(), opts.Force))
	return nil
}

// CallLog returns the recorded non-read operations in call order.
func (f *FakeStreamService) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.calls...)
}

// ScopesSeen returns the scopes passed to StreamGetState in call order.
func (f *FakeStreamService) ScopesSeen() []ir.Scopes {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ir.Scopes{}, f.scopes...)
}

func (f *FakeStreamService) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}
