package proxywasm

// accessLevel is the per-hook visibility of a built-in property path.
type accessLevel int

const (
	accessNone accessLevel = iota
	accessReadOnly
	accessWriteOnly
	accessReadWrite
)

// builtinMatrix implements spec §4.5's built-in access table. A path missing
// from this map for a given hook is not a built-in at all -- it falls
// through to the custom-property rules.
var builtinMatrix = map[string]map[HookKind]accessLevel{
	"request.url":   requestHeadersWritableElsewhereReadOnly(),
	"request.host":  requestHeadersWritableElsewhereReadOnly(),
	"request.path":  requestHeadersWritableElsewhereReadOnly(),
	"request.query": requestHeadersWritableElsewhereReadOnly(),

	"request.scheme":    readOnlyEverywhere(),
	"request.method":    readOnlyEverywhere(),
	"request.extension": readOnlyEverywhere(),

	"request.country":      readOnlyEverywhere(),
	"request.city":         readOnlyEverywhere(),
	"request.asn":          readOnlyEverywhere(),
	"request.geo.lat":      readOnlyEverywhere(),
	"request.geo.long":     readOnlyEverywhere(),
	"request.region":       readOnlyEverywhere(),
	"request.continent":    readOnlyEverywhere(),
	"request.country.name": readOnlyEverywhere(),

	"nginx.log_field1": {
		HookRequestHeaders:   accessWriteOnly,
		HookRequestBody:      accessNone,
		HookResponseHeaders:  accessNone,
		HookResponseBody:     accessNone,
	},

	"response.status": {
		HookRequestHeaders:  accessNone,
		HookRequestBody:     accessNone,
		HookResponseHeaders: accessReadOnly,
		HookResponseBody:    accessReadOnly,
	},
}

func requestHeadersWritableElsewhereReadOnly() map[HookKind]accessLevel {
	return map[HookKind]accessLevel{
		HookRequestHeaders:  accessReadWrite,
		HookRequestBody:     accessReadOnly,
		HookResponseHeaders: accessReadOnly,
		HookResponseBody:    accessReadOnly,
	}
}

func readOnlyEverywhere() map[HookKind]accessLevel {
	return map[HookKind]accessLevel{
		HookRequestHeaders:  accessReadOnly,
		HookRequestBody:     accessReadOnly,
		HookResponseHeaders: accessReadOnly,
		HookResponseBody:    accessReadOnly,
	}
}

// IsBuiltin reports whether path is in the built-in whitelist at all (for
// any hook), distinguishing it from a custom property for the purposes of
// CustomPropertyRegistry bookkeeping: built-ins are never purged, while
// custom properties created in onRequestHeaders are purged at the
// request/response boundary.
func IsBuiltin(path string) bool {
	_, ok := builtinMatrix[normalizePath(path)]
	return ok
}

// CustomPropertyRegistry records, for every non-built-in path the guest has
// written, the HookKind in which it was first created -- the provenance
// that drives both the cross-hook visibility rule and the
// request-headers-scoped purge at the request/response boundary (spec §3,
// §4.5).
type CustomPropertyRegistry struct {
	createdIn map[string]HookKind
}

// NewCustomPropertyRegistry returns an empty registry.
func NewCustomPropertyRegistry() *CustomPropertyRegistry {
	return &CustomPropertyRegistry{createdIn: map[string]HookKind{}}
}

// RecordWrite registers path's creation hook the first time it's seen;
// later writes in other hooks do not change provenance.
func (r *CustomPropertyRegistry) RecordWrite(path string, hook HookKind) {
	if _, exists := r.createdIn[path]; !exists {
		r.createdIn[path] = hook
	}
}

// CreatedIn returns the hook path was first created in, and whether it has
// been created at all.
func (r *CustomPropertyRegistry) CreatedIn(path string) (HookKind, bool) {
	h, ok := r.createdIn[path]
	return h, ok
}

// Purge removes every path created in HookRequestHeaders, implementing the
// request->response boundary purge of spec §3/§4.5. It returns the purged
// paths so the caller (PropertyResolver) can delete the backing values too.
func (r *CustomPropertyRegistry) Purge() []string {
	var purged []string
	for path, hook := range r.createdIn {
		if hook == HookRequestHeaders {
			purged = append(purged, path)
			delete(r.createdIn, path)
		}
	}
	return purged
}

// AccessDecision is the outcome of an access-control check: whether the
// access is allowed, and if not, the ABI status code and log message the
// host must produce per spec §4.5/§4.6.
type AccessDecision struct {
	Allowed bool
	Status  int32
	Message string
}

// CheckRead implements the read half of spec §4.5's denial rules.
func CheckRead(path string, hook HookKind, reg *CustomPropertyRegistry) AccessDecision {
	path = normalizePath(path)
	if levels, ok := builtinMatrix[path]; ok {
		level := levels[hook]
		if level == accessNone || level == accessWriteOnly {
			return deny(StatusNotFound, path, "Property access denied: "+path+" is write-only or not accessible in "+hook.String())
		}
		return AccessDecision{Allowed: true}
	}

	createdHook, exists := reg.CreatedIn(path)
	if !exists {
		return deny(StatusNotFound, path, "Property access denied: "+path+" does not exist")
	}
	if createdHook == HookRequestHeaders && hook != HookRequestHeaders {
		return deny(StatusNotFound, path, "Property access denied: "+path+" was created in onRequestHeaders")
	}
	return AccessDecision{Allowed: true}
}

// CheckWrite implements the write half of spec §4.5's denial rules.
func CheckWrite(path string, hook HookKind, reg *CustomPropertyRegistry) AccessDecision {
	path = normalizePath(path)
	if levels, ok := builtinMatrix[path]; ok {
		level := levels[hook]
		if level == accessNone || level == accessReadOnly {
			return deny(StatusBadArgument, path, "Property access denied: "+path+" is read-only or not accessible in "+hook.String())
		}
		return AccessDecision{Allowed: true}
	}

	if createdHook, exists := reg.CreatedIn(path); exists {
		if createdHook == HookRequestHeaders && hook != HookRequestHeaders {
			return deny(StatusBadArgument, path, "Property access denied: "+path+" was created in onRequestHeaders")
		}
	}
	return AccessDecision{Allowed: true}
}

func deny(status int32, path, message string) AccessDecision {
	return AccessDecision{Allowed: false, Status: status, Message: message}
}
