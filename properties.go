package proxywasm

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

// rootIDCandidateKeys is the closed list of user-property keys consulted, in
// order, to derive root_id/plugin_name/plugin_root_id/root_context/
// root_context_id when none of those paths was set directly. The first
// candidate holding a non-empty string wins. This list isn't enumerated by
// spec §4.4 beyond "a closed list of candidate user-property keys"; the
// choice below is recorded as an Open Question decision in DESIGN.md.
var rootIDCandidateKeys = []string{"plugin_name", "plugin.name", "root_id", "name"}

// requestComputedPaths are the request-side standard attributes that are
// read-write in request-headers and backed by dedicated PropertyResolver
// fields rather than the generic user map, per spec §4.5's built-in matrix.
var requestComputedPaths = map[string]bool{
	"request.url":   true,
	"request.host":  true,
	"request.path":  true,
	"request.query": true,
}

// PropertyResolver holds every piece of state a get_property/set_property
// call can observe or mutate for the duration of one full-flow run: user
// properties, request/response metadata, and the parsed URL components.
type PropertyResolver struct {
	user map[string]interface{}

	method    string
	scheme    string
	host      string
	path      string
	query     string
	url       string
	extension string

	reqHeaders  HeaderMap
	respHeaders HeaderMap

	status int
	reason string
}

// NewPropertyResolver returns a resolver with no request/response state set.
func NewPropertyResolver() *PropertyResolver {
	return &PropertyResolver{
		user:       map[string]interface{}{},
		reqHeaders: NewHeaderMap(),
		respHeaders: NewHeaderMap(),
	}
}

// normalizePath maps NUL-joined segments to dot-joined ones; both forms must
// resolve identically per spec §3's PropertyStore invariant.
func normalizePath(path string) string {
	return strings.ReplaceAll(path, "\x00", ".")
}

// ExtractFromURL populates url/host/path/query/scheme/extension from target,
// per spec §4.4's URL extraction rules. On parse failure, url is kept as-is
// and the rest fall back to the documented defaults.
func (p *PropertyResolver) ExtractFromURL(target string) {
	p.url = target
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" && u.Host == "" && u.Path == "" {
		p.host = "localhost"
		p.path = "/"
		p.query = ""
		p.scheme = ""
		p.extension = ""
		return
	}

	p.scheme = strings.TrimSuffix(u.Scheme, ":")

	host := u.Host
	if host == "" {
		host = "localhost"
	} else if u.Port() != "" && isDefaultPort(p.scheme, u.Port()) {
		host = u.Hostname()
	}
	p.host = host

	path := u.Path
	if path == "" {
		path = "/"
	}
	p.path = path

	p.query = strings.TrimPrefix(u.RawQuery, "?")
	p.extension = extractExtension(path)
}

func isDefaultPort(scheme, port string) bool {
	switch scheme {
	case "http":
		return port == "80"
	case "https":
		return port == "443"
	default:
		return false
	}
}

// extractExtension returns the substring after the last "." in the final
// path segment, but only when that "." is neither at the start nor the end
// of the segment -- hidden files (".bashrc") and trailing dots ("foo.")
// yield an empty extension.
func extractExtension(path string) string {
	segments := strings.Split(path, "/")
	last := segments[len(segments)-1]
	idx := strings.LastIndex(last, ".")
	if idx <= 0 || idx == len(last)-1 {
		return ""
	}
	return last[idx+1:]
}

// SetRequestMeta seeds method/scheme/path/query from the caller's initial
// request, preserving a path already extracted from the target URL: an
// explicit "/" never clobbers a non-"/" URL-extracted path, and scheme is
// only overwritten when explicitly provided (non-empty).
func (p *PropertyResolver) SetRequestMeta(method, scheme, path, query string) {
	if method != "" {
		p.method = method
	}
	if scheme != "" {
		p.scheme = scheme
	}
	if path != "" {
		if path == "/" && p.path != "" && p.path != "/" {
			// keep the URL-extracted path
		} else {
			p.path = path
		}
	}
	p.query = query
}

// SetRequestHeaders replaces the request header snapshot used to resolve
// request.headers.* and request.content_type.
func (p *PropertyResolver) SetRequestHeaders(h HeaderMap) { p.reqHeaders = h }

// SetResponseHeaders replaces the response header snapshot used to resolve
// response.headers.* and response.content_type.
func (p *PropertyResolver) SetResponseHeaders(h HeaderMap) { p.respHeaders = h }

// SetResponse records the downstream status/reason for response.code et al.
func (p *PropertyResolver) SetResponse(status int, reason string) {
	p.status = status
	p.reason = reason
}

// Method, Scheme, Host, Path, Query, URL return the current computed request
// metadata, used by the orchestrator to reconstruct the outbound request.
func (p *PropertyResolver) Method() string { return p.method }
func (p *PropertyResolver) Scheme() string { return p.scheme }
func (p *PropertyResolver) Host() string   { return p.host }
func (p *PropertyResolver) Path() string   { return p.path }
func (p *PropertyResolver) Query() string  { return p.query }
func (p *PropertyResolver) URL() string    { return p.url }

// rawGet returns a user-set value at the exact, already-normalized key.
func (p *PropertyResolver) rawGet(key string) (interface{}, bool) {
	v, ok := p.user[key]
	return v, ok
}

// deleteAll removes the given normalized paths from the user property map,
// implementing the value-deletion half of the request->response custom
// property purge (spec §3/§4.5) -- CustomPropertyRegistry.Purge reports
// which paths to remove; PropertyResolver owns where their values live.
func (p *PropertyResolver) deleteAll(paths []string) {
	for _, path := range paths {
		delete(p.user, path)
	}
}

// Set records a user-set property. Built-in request-metadata paths update
// the dedicated resolver fields directly (always overwritten -- the
// "preserve URL-extracted path" rule in SetRequestMeta applies only to
// initial seeding, not to later explicit guest writes); every other path is
// stored in the generic user map under its normalized form.
func (p *PropertyResolver) Set(path string, value interface{}) {
	norm := normalizePath(path)
	switch norm {
	case "request.url":
		p.url, _ = value.(string)
		return
	case "request.host":
		p.host, _ = value.(string)
		return
	case "request.path":
		p.path, _ = value.(string)
		return
	case "request.query":
		p.query, _ = value.(string)
		return
	}
	p.user[norm] = value
}

// Resolve implements the four-step resolution order of spec §4.4.
func (p *PropertyResolver) Resolve(path string) (interface{}, bool) {
	norm := normalizePath(path)

	// Step 1: user property under the normalized path, then the original.
	if v, ok := p.rawGet(norm); ok {
		return v, true
	}
	if path != norm {
		if v, ok := p.rawGet(path); ok {
			return v, true
		}
	}

	// Step 2: standard computed attribute.
	if v, ok := p.resolveComputed(norm); ok {
		return v, true
	}

	// Step 3: derived root identifier.
	switch norm {
	case "root_id", "plugin_name", "plugin_root_id", "root_context", "root_context_id":
		for _, candidate := range rootIDCandidateKeys {
			if v, ok := p.rawGet(candidate); ok {
				if s, ok := v.(string); ok && s != "" {
					return s, true
				}
			}
		}
	}

	// Step 4: nested lookup over the user property tree.
	segments := splitPathSegments(norm)
	if len(segments) > 1 {
		if v, ok := nestedLookup(p.user, segments); ok {
			return v, true
		}
	}

	return nil, false
}

func splitPathSegments(path string) []string {
	raw := strings.Split(path, ".")
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// nestedLookup finds the longest flat key prefix present in store and digs
// the remaining segments into its value. A direct flat key (the full path
// already checked by the caller) always wins because it's tried by its
// caller first; this only runs when that lookup missed.
func nestedLookup(store map[string]interface{}, segments []string) (interface{}, bool) {
	for i := len(segments); i >= 1; i-- {
		candidate := strings.Join(segments[:i], ".")
		if v, ok := store[candidate]; ok {
			if i == len(segments) {
				return v, true
			}
			return digInto(v, segments[i:])
		}
	}
	return nil, false
}

func digInto(value interface{}, segments []string) (interface{}, bool) {
	if len(segments) == 0 {
		return value, true
	}
	switch t := value.(type) {
	case map[string]interface{}:
		next, ok := t[segments[0]]
		if !ok {
			return nil, false
		}
		return digInto(next, segments[1:])
	case []interface{}:
		idx, err := strconv.Atoi(segments[0])
		if err != nil || idx < 0 || idx >= len(t) {
			return nil, false
		}
		return digInto(t[idx], segments[1:])
	default:
		return nil, false
	}
}

func (p *PropertyResolver) resolveComputed(path string) (interface{}, bool) {
	switch path {
	case "request.method":
		return p.method, true
	case "request.path":
		return p.path, true
	case "request.url":
		return p.url, true
	case "request.host":
		return p.host, true
	case "request.scheme", "request.protocol":
		return p.scheme, true
	case "request.query":
		return p.query, true
	case "request.extension":
		return p.extension, true
	case "request.content_type":
		v, _ := p.reqHeaders.Get("content-type")
		return v, true
	case "response.code", "response.status", "response.status_code":
		return p.status, true
	case "response.code_details":
		return p.reason, true
	case "response.content_type":
		v, _ := p.respHeaders.Get("content-type")
		return v, true
	}
	if name, ok := strings.CutPrefix(path, "request.headers."); ok {
		v, ok := p.reqHeaders.Get(name)
		if !ok {
			return "", true
		}
		return v, true
	}
	if name, ok := strings.CutPrefix(path, "response.headers."); ok {
		v, ok := p.respHeaders.Get(name)
		if !ok {
			return "", true
		}
		return v, true
	}
	return nil, false
}

// Stringify renders a resolved property value the way proxy_get_property
// must: strings pass through untouched, everything else is JSON-encoded
// per spec §4.6.
func Stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// Snapshot renders every user property plus a fixed set of standard request
// and response attributes (those listed below that currently resolve) into
// a flat map suitable for HookResult/FullFlowResult output, per spec §3.
func (p *PropertyResolver) Snapshot() map[string]interface{} {
	out := make(map[string]interface{}, len(p.user)+12)
	for k, v := range p.user {
		out[k] = v
	}
	for _, path := range []string{
		"request.method", "request.path", "request.url", "request.host",
		"request.scheme", "request.query", "request.extension", "request.content_type",
		"response.code", "response.code_details", "response.content_type",
	} {
		if v, ok := p.resolveComputed(path); ok {
			out[path] = v
		}
	}
	return out
}
