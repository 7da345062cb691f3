package proxywasm

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
)

// HeaderMap is an ordered mapping from lowercase header name to a single
// string value. Per spec §3, repeated additions to the same name concatenate
// with a comma; normalization always lowercases keys.
type HeaderMap struct {
	keys   []string
	values map[string]string
}

// NewHeaderMap returns an empty, normalized HeaderMap.
func NewHeaderMap() HeaderMap {
	return HeaderMap{values: map[string]string{}}
}

// HeaderMapFrom builds a normalized HeaderMap from an ordinary string map,
// e.g. request headers supplied by a caller.
func HeaderMapFrom(m map[string]string) HeaderMap {
	hm := NewHeaderMap()
	for k, v := range m {
		hm.Set(k, v)
	}
	return hm
}

// Clone returns a deep copy so mutation by one hook never bleeds into a
// caller's retained reference.
func (h HeaderMap) Clone() HeaderMap {
	out := NewHeaderMap()
	for _, k := range h.keys {
		out.keys = append(out.keys, k)
		out.values[k] = h.values[k]
	}
	return out
}

func normalizeKey(key string) string {
	return strings.ToLower(key)
}

// Get returns the value for key (case-insensitive) and whether it exists.
func (h HeaderMap) Get(key string) (string, bool) {
	v, ok := h.values[normalizeKey(key)]
	return v, ok
}

// Set unconditionally overwrites the value for key (the "replace" op).
func (h *HeaderMap) Set(key, value string) {
	k := normalizeKey(key)
	if _, exists := h.values[k]; !exists {
		h.keys = append(h.keys, k)
	}
	if h.values == nil {
		h.values = map[string]string{}
	}
	h.values[k] = value
}

// Add appends value to key. An existing value is concatenated as
// "<old>,<new>" per spec §6's header manipulation rules.
func (h *HeaderMap) Add(key, value string) {
	k := normalizeKey(key)
	if old, exists := h.values[k]; exists {
		h.values[k] = old + "," + value
		return
	}
	h.keys = append(h.keys, k)
	if h.values == nil {
		h.values = map[string]string{}
	}
	h.values[k] = value
}

// Remove deletes key if present; it is a no-op otherwise.
func (h *HeaderMap) Remove(key string) {
	k := normalizeKey(key)
	if _, exists := h.values[k]; !exists {
		return
	}
	delete(h.values, k)
	for i, existing := range h.keys {
		if existing == k {
			h.keys = append(h.keys[:i], h.keys[i+1:]...)
			break
		}
	}
}

// Len returns the pair count.
func (h HeaderMap) Len() int { return len(h.keys) }

// MarshalJSON encodes the map as an ordered array of [key, value] pairs so
// insertion order survives round-tripping through the runner's JSON API.
func (h HeaderMap) MarshalJSON() ([]byte, error) {
	pairs := make([][2]string, 0, len(h.keys))
	for _, k := range h.keys {
		pairs = append(pairs, [2]string{k, h.values[k]})
	}
	return json.Marshal(pairs)
}

// UnmarshalJSON decodes the [key, value] pair array produced by
// MarshalJSON, restoring insertion order via Set.
func (h *HeaderMap) UnmarshalJSON(data []byte) error {
	var pairs [][2]string
	if err := json.Unmarshal(data, &pairs); err != nil {
		return err
	}
	*h = NewHeaderMap()
	for _, p := range pairs {
		h.Set(p[0], p[1])
	}
	return nil
}

// Range calls fn for every pair in insertion order.
func (h HeaderMap) Range(fn func(key, value string)) {
	for _, k := range h.keys {
		fn(k, h.values[k])
	}
}

// ToMap materializes the HeaderMap as a plain map for snapshots/JSON output.
func (h HeaderMap) ToMap() map[string]string {
	out := make(map[string]string, len(h.keys))
	h.Range(func(k, v string) { out[k] = v })
	return out
}

// Serialize encodes the map in the proxy-wasm binary wire format described
// in spec §6:
//
//	u32 pair count
//	[u32 keyLen, u32 valLen] * count
//	[keyBytes, 0x00, valBytes, 0x00] * count
func (h HeaderMap) Serialize() []byte {
	size := 4 + h.Len()*8
	h.Range(func(k, v string) {
		size += len(k) + 1 + len(v) + 1
	})
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf, uint32(h.Len()))
	offset := 4
	h.Range(func(k, v string) {
		binary.LittleEndian.PutUint32(buf[offset:], uint32(len(k)))
		binary.LittleEndian.PutUint32(buf[offset+4:], uint32(len(v)))
		offset += 8
	})
	h.Range(func(k, v string) {
		copy(buf[offset:], k)
		offset += len(k)
		buf[offset] = 0
		offset++
		copy(buf[offset:], v)
		offset += len(v)
		buf[offset] = 0
		offset++
	})
	return buf
}

// DeserializeBinary decodes bytes in the wire format above into a normalized
// HeaderMap. It decodes the headers a guest passes to
// proxy_set_header_map_pairs and proxy_http_call.
func DeserializeBinary(data []byte) (HeaderMap, error) {
	hm := NewHeaderMap()
	if len(data) < 4 {
		if len(data) == 0 {
			return hm, nil
		}
		return hm, fmt.Errorf("header buffer too short: %d bytes", len(data))
	}
	count := binary.LittleEndian.Uint32(data)
	lengthsEnd := 4 + int(count)*8
	if lengthsEnd > len(data) {
		return hm, fmt.Errorf("header buffer truncated in length table")
	}
	type kv struct{ keyLen, valLen uint32 }
	pairs := make([]kv, count)
	for i := 0; i < int(count); i++ {
		off := 4 + i*8
		pairs[i] = kv{
			keyLen: binary.LittleEndian.Uint32(data[off:]),
			valLen: binary.LittleEndian.Uint32(data[off+4:]),
		}
	}
	offset := lengthsEnd
	for _, p := range pairs {
		if offset+int(p.keyLen)+1+int(p.valLen)+1 > len(data) {
			return hm, fmt.Errorf("header buffer truncated in payload")
		}
		key := string(data[offset : offset+int(p.keyLen)])
		offset += int(p.keyLen) + 1 // skip NUL
		val := string(data[offset : offset+int(p.valLen)])
		offset += int(p.valLen) + 1 // skip NUL
		hm.Add(key, val)
	}
	return hm, nil
}

// DeserializeText decodes the fallback NUL-separated text payload accepted
// by proxy_set_header_map_pairs (spec §6's "Text header payload"): tokens
// alternate key/value; a trailing lone key gets value ""; empty tokens are
// skipped.
func DeserializeText(payload string) HeaderMap {
	hm := NewHeaderMap()
	tokens := strings.Split(payload, "\x00")
	var filtered []string
	for _, t := range tokens {
		if t != "" {
			filtered = append(filtered, t)
		}
	}
	for i := 0; i < len(filtered); i += 2 {
		key := filtered[i]
		value := ""
		if i+1 < len(filtered) {
			value = filtered[i+1]
		}
		hm.Add(key, value)
	}
	return hm
}
