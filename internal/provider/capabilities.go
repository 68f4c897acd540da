package provider

import "strings"

// Backend names used in capability entries and adapter registries.
const (
	BackendSandbox = "sandbox"
	BackendPiston  = "piston"
)

// Capability declares how executions for one language are routed: which
// backend runs it first, which (if any) absorbs a single fallback, and
// whether file attachments are supported.
type Capability struct {
	Primary     string
	Fallback    string
	Attachments bool
}

var defaultCapability = Capability{Primary: BackendPiston}

// Languages with a dedicated routing entry. Everything else runs on the
// generic runtime with no fallback path.
var capabilities = map[string]Capability{
	"python": {Primary: BackendSandbox, Fallback: BackendPiston, Attachments: true},
	"py":     {Primary: BackendSandbox, Fallback: BackendPiston, Attachments: true},
}

// CapabilityFor returns the routing entry for a language. Matching is
// case-insensitive; unknown languages get the generic-runtime default.
func CapabilityFor(language string) Capability {
	if cap, ok := capabilities[strings.ToLower(strings.TrimSpace(language))]; ok {
		return cap
	}
	return defaultCapability
}
