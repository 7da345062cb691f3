package proxywasm

import (
	"sort"
	"sync"
)

// SecretRecord is one entry in an ordered time-rotated secret: value becomes
// effective at EffectiveAt (Unix seconds).
type SecretRecord struct {
	Value       string `yaml:"value" json:"value"`
	EffectiveAt int64  `yaml:"effectiveAt" json:"effectiveAt"`
}

// secretEntry is either a bare string or an ordered list of SecretRecord,
// per the secret schema in spec §6.
type secretEntry struct {
	plain   string
	isPlain bool
	history []SecretRecord // kept sorted ascending by EffectiveAt
}

// SecretStore is a keyed, optionally time-rotated secret lookup. It is an
// append-/overwrite-only map with a single writer at a time (spec §5);
// Replace builds the new map outside the lock and swaps it in under the
// mutex, so readers wait only for the swap itself.
type SecretStore struct {
	mu   sync.RWMutex
	data map[string]secretEntry
}

// NewSecretStore builds a store from the construction-time schema described
// in spec §6: each key maps to either a string or a list of
// {value, effectiveAt} records.
func NewSecretStore(raw map[string]interface{}) *SecretStore {
	s := &SecretStore{data: map[string]secretEntry{}}
	s.Replace(raw)
	return s
}

// Replace swaps the entire secret set, e.g. on a file-watcher reload. It is
// the only mutator, matching the "single writer" invariant of spec §5.
func (s *SecretStore) Replace(raw map[string]interface{}) {
	next := map[string]secretEntry{}
	for key, v := range raw {
		switch val := v.(type) {
		case string:
			next[key] = secretEntry{plain: val, isPlain: true}
		case []interface{}:
			var history []SecretRecord
			for _, item := range val {
				m, ok := item.(map[string]interface{})
				if !ok {
					continue
				}
				value, _ := m["value"].(string)
				var effectiveAt int64
				switch n := m["effectiveAt"].(type) {
				case int64:
					effectiveAt = n
				case int:
					effectiveAt = int64(n)
				case float64:
					effectiveAt = int64(n)
				}
				history = append(history, SecretRecord{Value: value, EffectiveAt: effectiveAt})
			}
			sort.Slice(history, func(i, j int) bool { return history[i].EffectiveAt < history[j].EffectiveAt })
			next[key] = secretEntry{history: history}
		case []SecretRecord:
			history := append([]SecretRecord(nil), val...)
			sort.Slice(history, func(i, j int) bool { return history[i].EffectiveAt < history[j].EffectiveAt })
			next[key] = secretEntry{history: history}
		}
	}
	s.mu.Lock()
	s.data = next
	s.mu.Unlock()
}

// Get returns the value effective at "now" (Unix seconds), per
// proxy_get_secret's semantics.
func (s *SecretStore) Get(key string, now int64) (string, bool) {
	return s.EffectiveAt(key, now)
}

// EffectiveAt returns the value of the entry with the largest
// EffectiveAt <= at, or the bare string if the key holds a plain value.
// Absence of any record with EffectiveAt <= at is a miss, per spec §6.
func (s *SecretStore) EffectiveAt(key string, at int64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.data[key]
	if !ok {
		return "", false
	}
	if entry.isPlain {
		return entry.plain, true
	}
	var best *SecretRecord
	for i := range entry.history {
		r := &entry.history[i]
		if r.EffectiveAt <= at && (best == nil || r.EffectiveAt > best.EffectiveAt) {
			best = r
		}
	}
	if best == nil {
		return "", false
	}
	return best.Value, true
}

// Dictionary is a plain overwrite-only key-value lookup backing
// proxy_dictionary_get.
type Dictionary struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewDictionary builds a dictionary from an initial key-value set.
func NewDictionary(raw map[string]string) *Dictionary {
	d := &Dictionary{data: map[string]string{}}
	d.Replace(raw)
	return d
}

// Replace swaps the entire dictionary, e.g. on a file-watcher reload.
func (d *Dictionary) Replace(raw map[string]string) {
	next := make(map[string]string, len(raw))
	for k, v := range raw {
		next[k] = v
	}
	d.mu.Lock()
	d.data = next
	d.mu.Unlock()
}

// Get returns the value for key, or a miss.
func (d *Dictionary) Get(key string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.data[key]
	return v, ok
}
