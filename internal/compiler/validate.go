package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/rollout/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrUnknownTarget     = "E101" // flow or action names a target that does not exist
	ErrUnknownArtifact   = "E102" // stream or dependsOn names an unknown artifact
	ErrArtifactCycle     = "E103" // artifact dependencies form a cycle
	ErrUnknownStrategy   = "E104" // versioning strategy is not registered
	ErrUnknownAction     = "E105" // action type has no handler
	ErrEmptyFlow         = "E106" // flow has no actions or no targets
	ErrInvalidPair       = "E107" // malformed "source:target" pair
	ErrUnknownStreamType = "E108" // no integration serves the stream type
	ErrUnknownProducer   = "E109" // no producer serves the artifact type
)

// ValidationError represents a project validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Options lists what the runtime can serve. A nil list skips its check.
type Options struct {
	Strategies    []string
	ActionTypes   []string
	StreamTypes   []string
	ArtifactTypes []string
}

// Validate checks cross references of a compiled project.
// Returns all errors found (does not fail-fast).
func Validate(p *ir.Project, opts Options) []ValidationError {
	var errs []ValidationError

	for _, t := range p.Targets() {
		field := "targets." + t.ID
		if opts.Strategies != nil && !slices.Contains(opts.Strategies, t.Versioning) {
			errs = append(errs, ValidationError{
				Field:   field + ".versioning",
				Message: fmt.Sprintf("unknown versioning strategy %q", t.Versioning),
				Code:    ErrUnknownStrategy,
			})
		}
		for _, s := range t.Streams() {
			sfield := field + ".streams." + s.ID
			if opts.StreamTypes != nil && !matchesAny(opts.StreamTypes, s.Type) {
				errs = append(errs, ValidationError{
					Field:   sfield + ".type",
					Message: fmt.Sprintf("no integration for stream type %q", s.Type),
					Code:    ErrUnknownStreamType,
				})
			}
			for _, aid := range s.Artifacts {
				if _, err := p.Artifact(aid); err != nil {
					errs = append(errs, ValidationError{
						Field:   sfield + ".artifacts",
						Message: fmt.Sprintf("unknown artifact %q", aid),
						Code:    ErrUnknownArtifact,
					})
				}
			}
		}
	}

	for _, a := range p.Artifacts() {
		field := "artifacts." + a.ID
		if opts.ArtifactTypes != nil && !matchesAny(opts.ArtifactTypes, a.Type) {
			errs = append(errs, ValidationError{
				Field:   field + ".type",
				Message: fmt.Sprintf("no producer for artifact type %q", a.Type),
				Code:    ErrUnknownProducer,
			})
		}
		for _, dep := range a.DependsOn {
			if _, err := p.Artifact(dep); err != nil {
				errs = append(errs, ValidationError{
					Field:   field + ".dependsOn",
					Message: fmt.Sprintf("unknown artifact %q", dep),
					Code:    ErrUnknownArtifact,
				})
			}
		}
	}
	for _, c := range DetectArtifactCycles(p) {
		errs = append(errs, ValidationError{
			Field:   "artifacts." + c.Path[0],
			Message: c.Error(),
			Code:    ErrArtifactCycle,
		})
	}

	for _, f := range p.Flows() {
		errs = append(errs, validateFlow(p, f, opts)...)
	}
	return errs
}

func validateFlow(p *ir.Project, f *ir.Flow, opts Options) []ValidationError {
	var errs []ValidationError
	field := "flows." + f.ID

	if len(f.Actions) == 0 {
		errs = append(errs, ValidationError{Field: field + ".actions", Message: "flow has no actions", Code: ErrEmptyFlow})
	}
	if len(f.Targets) == 0 {
		errs = append(errs, ValidationError{Field: field + ".targets", Message: "flow has no targets", Code: ErrEmptyFlow})
	}
	for _, tid := range f.Targets {
		if _, err := p.Target(tid); err != nil {
			errs = append(errs, ValidationError{
				Field:   field + ".targets",
				Message: fmt.Sprintf("unknown target %q", tid),
				Code:    ErrUnknownTarget,
			})
		}
	}

	for i, a := range f.Actions {
		afield := fmt.Sprintf("%s.actions[%d]", field, i)
		if opts.ActionTypes != nil && !slices.Contains(opts.ActionTypes, a.Type) {
			errs = append(errs, ValidationError{
				Field:   afield + ".type",
				Message: fmt.Sprintf("unknown action type %q", a.Type),
				Code:    ErrUnknownAction,
			})
		}
		for _, entry := range a.Targets {
			ids := []string{entry}
			if strings.Contains(entry, ":") {
				src, dst, _ := strings.Cut(entry, ":")
				if src == "" || dst == "" || strings.Contains(dst, ":") {
					errs = append(errs, ValidationError{
						Field:   afield + ".targets",
						Message: fmt.Sprintf("malformed target pair %q", entry),
						Code:    ErrInvalidPair,
					})
					continue
				}
				ids = []string{src, dst}
			}
			for _, tid := range ids {
				if _, err := p.Target(tid); err != nil {
					errs = append(errs, ValidationError{
						Field:   afield + ".targets",
						Message: fmt.Sprintf("unknown target %q", tid),
						Code:    ErrUnknownTarget,
					})
				}
			}
		}
	}
	return errs
}

func matchesAny(registered []string, typ string) bool {
	for _, r := range registered {
		if ir.MatchType(r, typ, false) {
			return true
		}
	}
	return false
}
