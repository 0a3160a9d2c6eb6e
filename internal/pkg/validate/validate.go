// Package validate provides input validation for path and body parameters.
package validate

// ClusterIDMaxLen is the maximum allowed length for a cluster_id.
const ClusterIDMaxLen = 128

// SessionIDMaxLen bounds session ids received on the wire (UUIDs are 36).
const SessionIDMaxLen = 64

// ClusterID validates a cluster_id: alphanumeric, hyphen, underscore; at
// most ClusterIDMaxLen characters.
func ClusterID(id string) bool {
	if id == "" || len(id) > ClusterIDMaxLen {
		return false
	}
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			continue
		}
		return false
	}
	return true
}

// SessionID validates an opaque session id: same character class as cluster ids.
func SessionID(id string) bool {
	if id == "" || len(id) > SessionIDMaxLen {
		return false
	}
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' {
			continue
		}
		return false
	}
	return true
}

// Args validates a command argument list: non-empty, no empty or
// whitespace-only elements, each under 512 bytes, at most 64 elements.
func Args(args []string) bool {
	if len(args) == 0 || len(args) > 64 {
		return false
	}
	for _, a := range args {
		if a == "" || len(a) > 512 {
			return false
		}
		blank := true
		for _, r := range a {
			if r != ' ' && r != '\t' && r != '\n' {
				blank = false
				break
			}
		}
		if blank {
			return false
		}
	}
	return true
}
