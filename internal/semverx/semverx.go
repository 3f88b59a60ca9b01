// Package semverx wraps Masterminds/semver/v3 with the exact vocabulary
// the generator registry needs: Parse, Compare, Satisfies,
// Latest.
package semverx

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// Parse validates and parses a MAJOR.MINOR.PATCH[-PRERELEASE][+METADATA]
// string. It fails for malformed strings, including "1.2" and "1.2.3.4".
func Parse(raw string) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("semverx: invalid version %q: %w", raw, err)
	}
	return v, nil
}

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater than
// b, numerically on major/minor/patch, then by prerelease (a version with
// a prerelease is strictly less than the same triple without one;
// prereleases compare lexicographically — both handled by semver.Version.Compare).
func Compare(a, b string) (int, error) {
	va, err := Parse(a)
	if err != nil {
		return 0, err
	}
	vb, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// Satisfies evaluates a version against a constraint expression: "=",
// "==", ">", ">=", "<", "<=", "^", "~", and space-separated conjunctions
// (e.g. ">=1.0.0 <2.0.0").
func Satisfies(version, constraint string) (bool, error) {
	v, err := Parse(version)
	if err != nil {
		return false, err
	}
	c, err := semver.NewConstraint(normalizeConstraint(constraint))
	if err != nil {
		return false, fmt.Errorf("semverx: invalid constraint %q: %w", constraint, err)
	}
	return c.Check(v), nil
}

// normalizeConstraint maps the spec's "==" alias onto the library's "="
// syntax; every other operator passes through unchanged.
func normalizeConstraint(constraint string) string {
	out := make([]byte, 0, len(constraint))
	for i := 0; i < len(constraint); i++ {
		if constraint[i] == '=' && i+1 < len(constraint) && constraint[i+1] == '=' {
			continue
		}
		out = append(out, constraint[i])
	}
	return string(out)
}

// Latest returns the maximum version in versions under Compare. It fails
// if versions is empty or contains an unparseable entry.
func Latest(versions []string) (string, error) {
	if len(versions) == 0 {
		return "", fmt.Errorf("semverx: getLatest called with no versions")
	}

	parsed := make(semver.Collection, 0, len(versions))
	for _, raw := range versions {
		v, err := Parse(raw)
		if err != nil {
			return "", err
		}
		parsed = append(parsed, v)
	}

	sort.Sort(parsed)
	return parsed[len(parsed)-1].Original(), nil
}
