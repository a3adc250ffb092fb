package compiler

import (
	"errors"
	"fmt"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/release"
)

// Defaults applied when a definition leaves a field out.
const (
	DefaultTargetType = "env"
	DefaultVersioning = "none"
)

// Result is a compiled project definition.
type Result struct {
	Project *ir.Project

	// ReleaseSchema filters release documents; nil allows everything.
	ReleaseSchema *release.Schema
}

// Compile decodes, resolves and builds a CUE project definition.
func Compile(v cue.Value) (*Result, error) {
	tree, err := FromCUE(v)
	if err != nil {
		return nil, err
	}
	resolved, err := ResolveUses(tree)
	if err != nil {
		return nil, err
	}
	return Build(resolved)
}

// Build turns a resolved config tree into the domain model.
func Build(root *Node) (*Result, error) {
	if root == nil || root.Kind != KindMap {
		return nil, &CompileError{Field: "project", Message: "definition must be a struct"}
	}

	projNode, ok := root.Get("project")
	if !ok {
		return nil, &CompileError{Field: "project", Message: "project is required", Pos: root.Pos}
	}
	id, err := requiredString(projNode, "project", "id")
	if err != nil {
		return nil, err
	}
	p := ir.NewProject(id)
	if p.Description, err = optionalString(projNode, "project", "description", ""); err != nil {
		return nil, err
	}

	if err := buildArtifacts(p, root); err != nil {
		return nil, err
	}
	if err := buildTargets(p, root); err != nil {
		return nil, err
	}
	if err := buildFlows(p, root); err != nil {
		return nil, err
	}
	if cycles := DetectArtifactCycles(p); len(cycles) > 0 {
		return nil, cycles[0]
	}
	schema, err := buildReleaseSchema(root)
	if err != nil {
		return nil, err
	}
	return &Result{Project: p, ReleaseSchema: schema}, nil
}

func buildTargets(p *ir.Project, root *Node) error {
	targets, ok := root.Get("targets")
	if !ok {
		return &CompileError{Field: "targets", Message: "at least one target is required", Pos: root.Pos}
	}
	if err := expectMap(targets, "targets"); err != nil {
		return err
	}
	if len(targets.Keys) == 0 {
		return &CompileError{Field: "targets", Message: "at least one target is required", Pos: targets.Pos}
	}

	for _, tid := range targets.Keys {
		tn := targets.Fields[tid]
		field := "targets." + tid
		if err := expectMap(tn, field); err != nil {
			return err
		}
		typ, err := optionalString(tn, field, "type", DefaultTargetType)
		if err != nil {
			return err
		}
		t := ir.NewTarget(tid, typ)
		if t.Description, err = optionalString(tn, field, "description", ""); err != nil {
			return err
		}
		if t.Versioning, err = optionalString(tn, field, "versioning", DefaultVersioning); err != nil {
			return err
		}
		if t.VersioningNamespace, err = optionalString(tn, field, "versioningNamespace", ""); err != nil {
			return err
		}
		if t.Config, err = optionalMap(tn, field, "config"); err != nil {
			return err
		}

		if streams, ok := tn.Get("streams"); ok {
			if err := expectMap(streams, field+".streams"); err != nil {
				return err
			}
			for _, sid := range streams.Keys {
				s, err := buildStream(sid, streams.Fields[sid], field+".streams."+sid)
				if err != nil {
					return err
				}
				if err := t.AddStream(s); err != nil {
					return &CompileError{Field: field, Message: err.Error(), Pos: streams.Pos}
				}
			}
		}

		if err := p.AddTarget(t); err != nil {
			return &CompileError{Field: field, Message: err.Error(), Pos: tn.Pos}
		}
	}
	return nil
}

func buildStream(id string, n *Node, field string) (*ir.Stream, error) {
	if err := expectMap(n, field); err != nil {
		return nil, err
	}
	typ, err := requiredString(n, field, "type")
	if err != nil {
		return nil, err
	}
	s := ir.NewStream(id, typ)
	if s.Config, err = optionalMap(n, field, "config"); err != nil {
		return nil, err
	}
	if s.Artifacts, err = optionalStrings(n, field, "artifacts"); err != nil {
		return nil, err
	}
	return s, nil
}

func buildFlows(p *ir.Project, root *Node) error {
	flows, ok := root.Get("flows")
	if !ok {
		return nil
	}
	if err := expectMap(flows, "flows"); err != nil {
		return err
	}

	for _, fid := range flows.Keys {
		fn := flows.Fields[fid]
		field := "flows." + fid
		if err := expectMap(fn, field); err != nil {
			return err
		}
		f := &ir.Flow{ID: fid}
		var err error
		if f.Description, err = optionalString(fn, field, "description", ""); err != nil {
			return err
		}
		if f.Targets, err = optionalStrings(fn, field, "targets"); err != nil {
			return err
		}
		if f.Targets == nil {
			f.Targets = p.TargetIDs()
		}

		actions, ok := fn.Get("actions")
		if !ok || actions.Kind != KindList {
			return &CompileError{Field: field + ".actions", Message: "actions must be a list", Pos: fn.Pos}
		}
		for i, an := range actions.Items {
			a, err := buildAction(an, fmt.Sprintf("%s.actions[%d]", field, i))
			if err != nil {
				return err
			}
			if _, err := f.Action(a.ID); err == nil {
				return &CompileError{Field: field + ".actions", Message: fmt.Sprintf("duplicate action %q", a.ID), Pos: an.Pos}
			}
			f.Actions = append(f.Actions, a)
		}

		if err := p.AddFlow(f); err != nil {
			return &CompileError{Field: field, Message: err.Error(), Pos: fn.Pos}
		}
	}
	return nil
}

func buildAction(n *Node, field string) (*ir.Action, error) {
	if err := expectMap(n, field); err != nil {
		return nil, err
	}
	typ, err := requiredString(n, field, "type")
	if err != nil {
		return nil, err
	}
	a := &ir.Action{Type: typ}
	if a.ID, err = optionalString(n, field, "id", typ); err != nil {
		return nil, err
	}
	if a.Description, err = optionalString(n, field, "description", ""); err != nil {
		return nil, err
	}
	if a.Targets, err = optionalStrings(n, field, "targets"); err != nil {
		return nil, err
	}
	if a.Params, err = optionalMap(n, field, "params"); err != nil {
		return nil, err
	}
	return a, nil
}

func buildArtifacts(p *ir.Project, root *Node) error {
	arts, ok := root.Get("artifacts")
	if !ok {
		return nil
	}
	if err := expectMap(arts, "artifacts"); err != nil {
		return err
	}
	for _, aid := range arts.Keys {
		an := arts.Fields[aid]
		field := "artifacts." + aid
		if err := expectMap(an, field); err != nil {
			return err
		}
		typ, err := requiredString(an, field, "type")
		if err != nil {
			return err
		}
		a := &ir.Artifact{ID: aid, Type: typ}
		if a.DependsOn, err = optionalStrings(an, field, "dependsOn"); err != nil {
			return err
		}
		if a.Params, err = optionalMap(an, field, "params"); err != nil {
			return err
		}
		if err := p.AddArtifact(a); err != nil {
			return &CompileError{Field: field, Message: err.Error(), Pos: an.Pos}
		}
	}
	return nil
}

func buildReleaseSchema(root *Node) (*release.Schema, error) {
	rn, ok := root.Get("release")
	if !ok {
		return nil, nil
	}
	sections, ok := rn.Get("sections")
	if !ok {
		return nil, nil
	}
	if err := expectMap(sections, "release.sections"); err != nil {
		return nil, err
	}

	schema := &release.Schema{Sections: make(map[string]release.Rule, len(sections.Keys))}
	for _, typ := range sections.Keys {
		sn := sections.Fields[typ]
		field := "release.sections." + typ
		if err := expectMap(sn, field); err != nil {
			return nil, err
		}
		var rule release.Rule
		var err error
		if rule.AllowedArtifacts, err = optionalStrings(sn, field, "allowedArtifacts"); err != nil {
			return nil, err
		}
		if rule.AllowedChanges, err = optionalStrings(sn, field, "allowedChanges"); err != nil {
			return nil, err
		}
		if v, ok := sn.Get("denySystem"); ok {
			b, isBool := v.Value.(bool)
			if !isBool {
				return nil, &CompileError{Field: field + ".denySystem", Message: "must be a bool", Pos: v.Pos}
			}
			rule.DenySystem = b
		}
		schema.Sections[typ] = rule
	}
	return schema, nil
}

func expectMap(n *Node, field string) error {
	if n.Kind != KindMap {
		return &CompileError{Field: field, Message: "must be a struct", Pos: n.Pos}
	}
	return nil
}

func requiredString(n *Node, field, key string) (string, error) {
	v, ok := n.Get(key)
	if !ok {
		return "", &CompileError{Field: field + "." + key, Message: key + " is required", Pos: n.Pos}
	}
	s, isString := v.Value.(string)
	if v.Kind != KindScalar || !isString || s == "" {
		return "", &CompileError{Field: field + "." + key, Message: "must be a non-empty string", Pos: v.Pos}
	}
	return s, nil
}

func optionalString(n *Node, field, key, def string) (string, error) {
	if _, ok := n.Get(key); !ok {
		return def, nil
	}
	return requiredString(n, field, key)
}

func optionalStrings(n *Node, field, key string) ([]string, error) {
	v, ok := n.Get(key)
	if !ok {
		return nil, nil
	}
	if v.Kind != KindList {
		return nil, &CompileError{Field: field + "." + key, Message: "must be a list of strings", Pos: v.Pos}
	}
	out := make([]string, 0, len(v.Items))
	for _, item := range v.Items {
		s, isString := item.Value.(string)
		if item.Kind != KindScalar || !isString {
			return nil, &CompileError{Field: field + "." + key, Message: "must be a list of strings", Pos: item.Pos}
		}
		out = append(out, s)
	}
	return out, nil
}

func optionalMap(n *Node, field, key string) (map[string]any, error) {
	v, ok := n.Get(key)
	if !ok {
		return map[string]any{}, nil
	}
	if err := expectMap(v, field+"."+key); err != nil {
		return nil, err
	}
	return v.Interface().(map[string]any), nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsCompileError reports whether err is a *CompileError.
func IsCompileError(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
