package identity

import "strings"

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeRole lower-cases a role and maps unknown values to "".
func NormalizeRole(s string) string {
	r := strings.ToLower(strings.TrimSpace(s))
	switch r {
	case RoleAdmin, RoleSupervisor, RoleOperator, RoleViewer:
		return r
	default:
		return ""
	}
}
