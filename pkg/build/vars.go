package build

import (
	"regexp"
)

var (
	assignmentPattern = regexp.MustCompile(`^([a-zA-Z_][a-zA-Z_0-9]*)=(.*)$`)

	// ${NAME}, ${NAME:-default} or $NAME. $$ stands for a dollar sign.
	varPattern = regexp.MustCompile(`\$\$|\$\{([a-zA-Z_][a-zA-Z_0-9]*)(:-([^}]*))?\}|\$([a-zA-Z_][a-zA-Z_0-9]*)`)
)

// ParseAssignments decodes KEY=VALUE assignments. Later assignments win.
func ParseAssignments(assignments []string) (map[string]string, error) {
	vars := make(map[string]string, len(assignments))
	for _, a := range assignments {
		m := assignmentPattern.FindStringSubmatch(a)
		if m == nil {
			return nil, ErrAssignment.WrapMessage("in assignment %q", a)
		}
		vars[m[1]] = m[2]
	}
	return vars, nil
}

// Expand substitutes variables in s. Unset variables expand to their default, if any, or
// to nothing.
func Expand(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		if match == "$$" {
			return "$"
		}
		m := varPattern.FindStringSubmatch(match)
		name := m[1]
		if name == "" {
			name = m[4]
		}
		if v, ok := vars[name]; ok && v != "" {
			return v
		}
		return m[3]
	})
}
