package ir

import (
	"fmt"
	"sync/atomic"
)

// Project is the root of the domain model. It is built by the compiler and
// read-only afterwards. Targets, flows and artifacts keep declaration order.
type Project struct {
	ID          string
	Description string

	targets       map[string]*Target
	targetOrder   []string
	flows         map[string]*Flow
	flowOrder     []string
	artifacts     map[string]*Artifact
	artifactOrder []string
}

// NewProject creates an empty project.
func NewProject(id string) *Project {
	return &Project{
		ID:        id,
		targets:   make(map[string]*Target),
		flows:     make(map[string]*Flow),
		artifacts: make(map[string]*Artifact),
	}
}

// Ref returns the project ref.
func (p *Project) Ref() Ref {
	return Ref{ProjectID: p.ID}
}

// AddTarget registers a target. The target's ref is rebound to this project.
func (p *Project) AddTarget(t *Target) error {
	if _, ok := p.targets[t.ID]; ok {
		return fmt.Errorf("duplicate target %q in project %q", t.ID, p.ID)
	}
	t.bind(p.ID)
	p.targets[t.ID] = t
	p.targetOrder = append(p.targetOrder, t.ID)
	return nil
}

// Target looks up a target by id.
func (p *Project) Target(id string) (*Target, error) {
	t, ok := p.targets[id]
	if !ok {
		return nil, NewNotFoundError("target", id, p.Ref())
	}
	return t, nil
}

// Targets returns targets in declaration order.
func (p *Project) Targets() []*Target {
	out := make([]*Target, 0, len(p.targetOrder))
	for _, id := range p.targetOrder {
		out = append(out, p.targets[id])
	}
	return out
}

// TargetIDs returns target ids in declaration order.
func (p *Project) TargetIDs() []string {
	return append([]string{}, p.targetOrder...)
}

// Stream looks up a stream by target and stream id.
func (p *Project) Stream(targetID, streamID string) (*Stream, error) {
	t, err := p.Target(targetID)
	if err != nil {
		return nil, err
	}
	return t.Stream(streamID)
}

// AddFlow registers a flow.
func (p *Project) AddFlow(f *Flow) error {
	if _, ok := p.flows[f.ID]; ok {
		return fmt.Errorf("duplicate flow %q in project %q", f.ID, p.ID)
	}
	p.flows[f.ID] = f
	p.flowOrder = append(p.flowOrder, f.ID)
	return nil
}

// Flow looks up a flow by id.
func (p *Project) Flow(id string) (*Flow, error) {
	f, ok := p.flows[id]
	if !ok {
		return nil, NewNotFoundError("flow", id, p.Ref())
	}
	return f, nil
}

// Flows returns flows in declaration order.
func (p *Project) Flows() []*Flow {
	out := make([]*Flow, 0, len(p.flowOrder))
	for _, id := range p.flowOrder {
		out = append(out, p.flows[id])
	}
	return out
}

// AddArtifact registers an artifact definition.
func (p *Project) AddArtifact(a *Artifact) error {
	if _, ok := p.artifacts[a.ID]; ok {
		return fmt.Errorf("duplicate artifact %q in project %q", a.ID, p.ID)
	}
	p.artifacts[a.ID] = a
	p.artifactOrder = append(p.artifactOrder, a.ID)
	return nil
}

// Artifact looks up an artifact definition by id.
func (p *Project) Artifact(id string) (*Artifact, error) {
	a, ok := p.artifacts[id]
	if !ok {
		return nil, NewNotFoundError("artifact", id, p.Ref())
	}
	return a, nil
}

// Artifacts returns artifact definitions in declaration order.
func (p *Project) Artifacts() []*Artifact {
	out := make([]*Artifact, 0, len(p.artifactOrder))
	for _, id := range p.artifactOrder {
		out = append(out, p.artifacts[id])
	}
	return out
}

// Target is an environment inside a project.
type Target struct {
	ID          string
	Type        string
	Description string

	// Versioning is the id of the versioning strategy ("semver", "none").
	Versioning string

	// VersioningNamespace lets several targets share one version.
	// Empty means the target id.
	VersioningNamespace string

	Config map[string]any

	ref         Ref
	streams     map[string]*Stream
	streamOrder []string
	dirty       atomic.Bool
}

// NewTarget creates a target with no streams.
func NewTarget(id, typ string) *Target {
	return &Target{
		ID:      id,
		Type:    typ,
		Config:  map[string]any{},
		ref:     Ref{TargetID: id},
		streams: make(map[string]*Stream),
	}
}

func (t *Target) bind(projectID string) {
	t.ref = Ref{ProjectID: projectID, TargetID: t.ID}
	for _, s := range t.streams {
		s.ref = t.ref.WithStream(s.ID)
	}
}

// Ref returns the target ref.
func (t *Target) Ref() Ref {
	return t.ref
}

// Namespace returns the key namespace used for versioning storage.
func (t *Target) Namespace() string {
	if t.VersioningNamespace != "" {
		return t.VersioningNamespace
	}
	return t.ID
}

// AddStream registers a stream on the target.
func (t *Target) AddStream(s *Stream) error {
	if _, ok := t.streams[s.ID]; ok {
		return fmt.Errorf("duplicate stream %q in target %q", s.ID, t.ID)
	}
	s.ref = t.ref.WithStream(s.ID)
	s.target = t
	t.streams[s.ID] = s
	t.streamOrder = append(t.streamOrder, s.ID)
	return nil
}

// Stream looks up a stream by id.
func (t *Target) Stream(id string) (*Stream, error) {
	s, ok := t.streams[id]
	if !ok {
		return nil, NewNotFoundError("stream", id, t.ref)
	}
	return s, nil
}

// Streams returns streams in declaration order.
func (t *Target) Streams() []*Stream {
	out := make([]*Stream, 0, len(t.streamOrder))
	for _, id := range t.streamOrder {
		out = append(out, t.streams[id])
	}
	return out
}

// StreamIDs returns stream ids in declaration order.
func (t *Target) StreamIDs() []string {
	return append([]string{}, t.streamOrder...)
}

// AssertType returns a TYPE_MISMATCH error unless the target type matches.
func (t *Target) AssertType(expected string, strict bool) error {
	if !MatchType(expected, t.Type, strict) {
		return NewTypeMismatchError("target", t.ID, expected, t.Type, t.ref)
	}
	return nil
}

// MarkDirty flags the target for recomputation on the next read.
func (t *Target) MarkDirty() { t.dirty.Store(true) }

// IsDirty reports whether the target must be recomputed.
func (t *Target) IsDirty() bool { return t.dirty.Load() }

// ClearDirty resets the dirty flag.
func (t *Target) ClearDirty() { t.dirty.Store(false) }

// TakeDirty clears the dirty flag and reports whether it was set. The
// synchronizer claims the flag before it starts a recompute, so a
// MarkDirty that lands while the recompute runs survives it.
func (t *Target) TakeDirty() bool { return t.dirty.Swap(false) }

// Stream is a deployable component inside a target.
type Stream struct {
	ID     string
	Type   string
	Config map[string]any

	// Artifacts lists the artifact ids resolved into this stream's history.
	Artifacts []string

	ref    Ref
	target *Target
	dirty  atomic.Bool
}

// NewStream creates a stream. It is bound to a target by Target.AddStream.
func NewStream(id, typ string) *Stream {
	return &Stream{
		ID:     id,
		Type:   typ,
		Config: map[string]any{},
		ref:    Ref{StreamID: id},
	}
}

// Ref returns the stream ref.
func (s *Stream) Ref() Ref {
	return s.ref
}

// Target returns the owning target, or nil before AddStream.
func (s *Stream) Target() *Target {
	return s.target
}

// ConfigString returns a string config value or "".
func (s *Stream) ConfigString(key string) string {
	if v, ok := s.Config[key].(string); ok {
		return v
	}
	return ""
}

// AssertType returns a TYPE_MISMATCH error unless the stream type matches.
func (s *Stream) AssertType(expected string, strict bool) error {
	if !MatchType(expected, s.Type, strict) {
		return NewTypeMismatchError("stream", s.ID, expected, s.Type, s.ref)
	}
	return nil
}

// MarkDirty flags the stream for recomputation on the next read.
func (s *Stream) MarkDirty() { s.dirty.Store(true) }

// IsDirty reports whether the stream must be recomputed.
func (s *Stream) IsDirty() bool { return s.dirty.Load() }

// ClearDirty resets the dirty flag.
func (s *Stream) ClearDirty() { s.dirty.Store(false) }

// TakeDirty clears the dirty flag and reports whether it was set.
func (s *Stream) TakeDirty() bool { return s.dirty.Swap(false) }

// Flow is a declared pipeline of actions over an ordered list of targets.
type Flow struct {
	ID          string
	Description string
	Targets     []string
	Actions     []*Action
}

// Action looks up an action in the flow.
func (f *Flow) Action(id string) (*Action, error) {
	for _, a := range f.Actions {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, NewNotFoundError("action", id, Ref{FlowID: f.ID})
}

// Action is one step of a flow. Targets may hold "source:target" pairs for
// cross-target actions.
type Action struct {
	ID          string
	Type        string
	Description string
	Targets     []string
	Params      map[string]any
}

// ParamString returns a string param or "".
func (a *Action) ParamString(key string) string {
	if v, ok := a.Params[key].(string); ok {
		return v
	}
	return ""
}

// Artifact is a derived fact computed by a producer after its dependencies.
type Artifact struct {
	ID        string
	Type      string
	DependsOn []string
	Params    map[string]any
}
