package release

// Schema restricts what may be folded into sections, per section type.
type Schema struct {
	Sections map[string]Rule `json:"sections"`
}

// Rule is the allow-list for one section type. Nil lists allow everything;
// "*" inside a list also allows everything. An item matches by id or type.
type Rule struct {
	AllowedArtifacts []string `json:"allowed_artifacts,omitempty"`
	AllowedChanges   []string `json:"allowed_changes,omitempty"`

	// DenySystem drops items folded in by the system.
	DenySystem bool `json:"deny_system,omitempty"`
}

func (s *Schema) rule(sectionType string) Rule {
	if s == nil {
		return Rule{}
	}
	return s.Sections[sectionType]
}

func (r Rule) filter(in []Entry, allowed []string, isSystem bool) []Entry {
	if isSystem && r.DenySystem {
		return nil
	}
	if allowed == nil {
		return in
	}
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		set[a] = true
	}
	if set["*"] {
		return in
	}
	var out []Entry
	for _, e := range in {
		if set[e.ID] || (e.Type != "" && set[e.Type]) {
			out = append(out, e)
		}
	}
	return out
}
