package capproto

// CapNumbers maps the curated capability allowlist devenv-capd will ever
// grant to their Linux capability numbers (include/uapi/linux/capability.h).
// Requests naming anything outside this set are rejected outright — "no
// operation grants a capability not in the allowlist, regardless of request
// contents" (spec.md §4.E).
var CapNumbers = map[string]uintptr{
	"CAP_CHOWN":            0,  // fixing ownership of bind-mounted volumes
	"CAP_DAC_READ_SEARCH":  2,  // bypass directory traversal perms for log-shipping tasks
	"CAP_NET_ADMIN":        12, // interface/route manipulation for network-namespace tasks
	"CAP_NET_BIND_SERVICE": 10, // bind ports < 1024 (dev HTTP on :80/:443)
	"CAP_NET_RAW":          13, // ICMP/raw sockets for network diagnostics tasks
	"CAP_SYS_PTRACE":       19, // debuggers attaching to supervised processes
}

// ParseAndValidate rejects any name not in CapNumbers, returning the
// validated set unchanged on success.
func ParseAndValidate(names []string) ([]string, error) {
	for _, n := range names {
		if _, ok := CapNumbers[n]; !ok {
			return nil, &UnknownCapabilityError{Name: n}
		}
	}
	return names, nil
}

// UnknownCapabilityError reports a capability name outside the allowlist.
type UnknownCapabilityError struct{ Name string }

func (e *UnknownCapabilityError) Error() string {
	return "capability not permitted: " + e.Name
}
