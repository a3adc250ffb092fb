package versioning

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// InitialVersion seeds entities that have no version yet.
const InitialVersion = "0.1.0"

// Semver is the semantic versioning strategy.
type Semver struct{}

// ID implements Strategy.
func (Semver) ID() string { return "semver" }

// Seed implements Strategy.
func (Semver) Seed() string { return InitialVersion }

// Next implements Strategy.
//
//	patch      1.2.3 -> 1.2.4, 1.2.4-rc.0 -> 1.2.4
//	minor      1.2.3 -> 1.3.0
//	prepatch   1.2.3 -> 1.2.4-rc.0
//	preminor   1.2.3 -> 1.3.0-rc.0
//	prerelease 1.2.4-rc.0 -> 1.2.4-rc.1, 1.2.3 -> 1.2.4-rc.0
func (Semver) Next(current string, bump Bump, preID string) (string, error) {
	v, err := semver.NewVersion(current)
	if err != nil {
		return "", fmt.Errorf("parse version %q: %w", current, err)
	}
	base := semver.New(v.Major(), v.Minor(), v.Patch(), "", "")

	var next semver.Version
	switch bump {
	case BumpPatch:
		next = v.IncPatch()
	case BumpMinor:
		next = v.IncMinor()
	case BumpPrePatch:
		next, err = base.IncPatch().SetPrerelease(preIdentifier(preID, 0))
	case BumpPreMinor:
		next, err = base.IncMinor().SetPrerelease(preIdentifier(preID, 0))
	case BumpPrerelease:
		next, err = bumpPrerelease(v, preID)
	default:
		return "", fmt.Errorf("unsupported bump %v", bump)
	}
	if err != nil {
		return "", fmt.Errorf("bump %s %q: %w", bump, current, err)
	}
	return next.String(), nil
}

// bumpPrerelease increments the trailing numeric prerelease component when
// the identifier matches, restarts at <id>.0 when it differs, and starts a
// prepatch when v is not a prerelease.
func bumpPrerelease(v *semver.Version, preID string) (semver.Version, error) {
	pre := v.Prerelease()
	if pre == "" {
		base := semver.New(v.Major(), v.Minor(), v.Patch(), "", "")
		return base.IncPatch().SetPrerelease(preIdentifier(preID, 0))
	}

	parts := strings.Split(pre, ".")
	last := parts[len(parts)-1]
	ident := strings.Join(parts[:len(parts)-1], ".")
	if n, err := strconv.Atoi(last); err == nil && (preID == "" || ident == preID) {
		parts[len(parts)-1] = strconv.Itoa(n + 1)
		return v.SetPrerelease(strings.Join(parts, "."))
	}
	if preID == "" || pre == preID {
		return v.SetPrerelease(pre + ".0")
	}
	return v.SetPrerelease(preIdentifier(preID, 0))
}

func preIdentifier(id string, n int) string {
	if id == "" {
		return strconv.Itoa(n)
	}
	return id + "." + strconv.Itoa(n)
}

// Format implements Strategy. Placeholders: {major} {minor} {patch}
// {prerelease} {metadata} {version}.
func (Semver) Format(raw, format string) string {
	if format == "" {
		return raw
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return raw
	}
	return strings.NewReplacer(
		"{major}", strconv.FormatUint(v.Major(), 10),
		"{minor}", strconv.FormatUint(v.Minor(), 10),
		"{patch}", strconv.FormatUint(v.Patch(), 10),
		"{prerelease}", v.Prerelease(),
		"{metadata}", v.Metadata(),
		"{version}", v.String(),
	).Replace(format)
}

// None is the strategy for entities that carry no version.
type None struct{}

// ID implements Strategy.
func (None) ID() string { return "none" }

// Seed implements Strategy.
func (None) Seed() string { return "" }

// Next implements Strategy. The version never changes.
func (None) Next(current string, _ Bump, _ string) (string, error) { return current, nil }

// Format implements Strategy.
func (None) Format(raw, _ string) string { return raw }
