package session

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Area selects one of the two web storage areas.
type Area string

const (
	// AreaLocal is localStorage: mirrored into the shared substrate.
	AreaLocal Area = "local"
	// AreaSession is sessionStorage: private to the namespace and dropped
	// on refresh.
	AreaSession Area = "session"
)

// ParseArea validates an area name.
func ParseArea(s string) (Area, error) {
	switch Area(s) {
	case AreaLocal, AreaSession:
		return Area(s), nil
	}
	return "", fmt.Errorf("unknown storage area %q", s)
}

// NamespacedKey is the key under which an instance entry is stored.
func NamespacedKey(partition, key string) string {
	return partition + "_" + key
}

// Namespace is the isolated storage of one instance.
type Namespace struct {
	partition string
	prefix    string
	substrate Substrate

	mu      sync.RWMutex
	local   map[string]string
	session map[string]string
}

func newNamespace(partition string, substrate Substrate) *Namespace {
	return &Namespace{
		partition: partition,
		prefix:    NamespacedKey(partition, ""),
		substrate: substrate,
		local:     make(map[string]string),
		session:   make(map[string]string),
	}
}

// Partition returns the partition key.
func (n *Namespace) Partition() string { return n.partition }

func (n *Namespace) area(a Area) map[string]string {
	if a == AreaSession {
		return n.session
	}
	return n.local
}

// GetItem reads key. Local reads fall through to the substrate so entries
// outlive a single document.
func (n *Namespace) GetItem(a Area, key string) (string, bool) {
	nk := NamespacedKey(n.partition, key)

	n.mu.RLock()
	v, ok := n.area(a)[nk]
	n.mu.RUnlock()
	if ok || a != AreaLocal {
		return v, ok
	}

	v, ok = n.substrate.Get(nk)
	if ok {
		n.mu.Lock()
		n.local[nk] = v
		n.mu.Unlock()
	}
	return v, ok
}

// SetItem writes key.
func (n *Namespace) SetItem(a Area, key, value string) {
	nk := NamespacedKey(n.partition, key)
	n.mu.Lock()
	n.area(a)[nk] = value
	n.mu.Unlock()
	if a == AreaLocal {
		n.substrate.Set(nk, value)
	}
}

// RemoveItem deletes key.
func (n *Namespace) RemoveItem(a Area, key string) {
	nk := NamespacedKey(n.partition, key)
	n.mu.Lock()
	delete(n.area(a), nk)
	n.mu.Unlock()
	if a == AreaLocal {
		n.substrate.Delete(nk)
	}
}

// Clear removes every entry of this namespace in the area. Entries of
// other partitions in the substrate are left alone.
func (n *Namespace) Clear(a Area) int {
	n.mu.Lock()
	m := n.area(a)
	removed := len(m)
	for k := range m {
		delete(m, k)
	}
	n.mu.Unlock()

	if a == AreaLocal {
		removed = max(removed, n.substrate.DeletePrefix(n.prefix))
	}
	return removed
}

// Entries returns the area contents keyed by unqualified key. The local
// area includes substrate entries not yet read.
func (n *Namespace) Entries(a Area) map[string]string {
	out := make(map[string]string)
	if a == AreaLocal {
		for _, nk := range n.substrate.Keys(n.prefix) {
			if v, ok := n.substrate.Get(nk); ok {
				out[strings.TrimPrefix(nk, n.prefix)] = v
			}
		}
	}
	n.mu.RLock()
	for nk, v := range n.area(a) {
		out[strings.TrimPrefix(nk, n.prefix)] = v
	}
	n.mu.RUnlock()
	return out
}

// Keys lists the unqualified keys of the area in lexical order.
func (n *Namespace) Keys(a Area) []string {
	entries := n.Entries(a)
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len counts the entries of the area.
func (n *Namespace) Len(a Area) int {
	return len(n.Entries(a))
}

// resetDocument drops per-document state: the session area and the local
// read cache. Substrate entries survive.
func (n *Namespace) resetDocument() {
	n.mu.Lock()
	n.session = make(map[string]string)
	n.local = make(map[string]string)
	n.mu.Unlock()
}
