package jwt

import "strings"

// UnknownDepartment is assigned when no department can be derived.
const UnknownDepartment = "unknown"

// Principal is the authenticated caller derived from a verified token.
type Principal struct {
	Subject    string   `json:"sub"`
	Username   string   `json:"username"`
	Department string   `json:"department"`
	Roles      []string `json:"roles"`
	Email      string   `json:"email,omitempty"`
}

// HasRole reports whether the principal holds role, ignoring case.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// deriveDepartment picks the department claim if present, otherwise the
// first group, otherwise UnknownDepartment.
func deriveDepartment(claimed string, roles []string) string {
	if claimed != "" {
		return claimed
	}
	if len(roles) > 0 && roles[0] != "" {
		return roles[0]
	}
	return UnknownDepartment
}

// stringList converts a decoded JSON claim into an ordered string slice.
// Non-string entries are skipped. A bare string yields a single entry.
func stringList(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	default:
		return nil
	}
}
