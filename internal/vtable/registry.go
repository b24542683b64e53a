// Package vtable collects per-class slot requests during lowering and packs
// them into dispatch tables once every function has been rewritten.
package vtable

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"fortio.org/safecast"

	"opal/internal/diag"
	"opal/internal/ir"
	"opal/internal/source"
	"opal/internal/types"
)

// RequestID identifies a registered vtable slot request. It is a transient
// process-local handle; patched code carries byte offsets, never ids.
type RequestID int32

const NoRequestID RequestID = -1

func (id RequestID) IsValid() bool { return id >= 0 }

// Entry binds one class to the value its vtable carries for a request.
type Entry struct {
	Class types.ClassID
	Value ir.ConstValue
}

// Request is a canonicalized slot request: entries sorted by class id, one
// per class. Name is diagnostic only and does not affect identity.
type Request struct {
	Name    string
	Entries []Entry
}

type record struct {
	key string
	req Request
}

// Registry is the shared request store. One instance serves all functions of
// a compilation; Submit and NeedClass are safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	records []record
	index   map[string]RequestID
	need    map[types.ClassID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		index: make(map[string]RequestID, 64),
		need:  make(map[types.ClassID]struct{}, 16),
	}
}

// Submit canonicalizes the entry set and returns the id of the matching
// request, registering a new one on first sight. Two submissions with the
// same per-class values yield the same id regardless of entry order; the
// first submitted name wins for diagnostics. An empty set or two different
// values for one class is a compiler fault reported as an internal error.
func (r *Registry) Submit(span source.Span, name string, entries []Entry) (RequestID, error) {
	if len(entries) == 0 {
		return NoRequestID, diag.ICEf(span, "vtable request %q has no entries", name)
	}

	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Class < sorted[j].Class })

	canon := make([]Entry, 0, len(sorted))
	for _, e := range sorted {
		if n := len(canon); n > 0 && canon[n-1].Class == e.Class {
			if canon[n-1].Value != e.Value {
				return NoRequestID, diag.ICEf(span,
					"contradictory vtable entries for class#%d in request %q: %s vs %s",
					e.Class, name, canon[n-1].Value.Key(), e.Value.Key())
			}
			continue
		}
		canon = append(canon, e)
	}

	key := requestKey(canon)

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.index[key]; ok {
		return id, nil
	}
	n, err := safecast.Conv[int32](len(r.records))
	if err != nil {
		return NoRequestID, diag.ICEf(span, "vtable request table overflow: %v", err)
	}
	id := RequestID(n)
	r.records = append(r.records, record{key: key, req: Request{Name: name, Entries: canon}})
	r.index[key] = id
	for _, e := range canon {
		r.need[e.Class] = struct{}{}
	}
	return id, nil
}

// NeedClass marks a class as requiring a vtable even when no request names
// it. Allocation sites and constant-reachable classes go through here.
func (r *Registry) NeedClass(c types.ClassID) {
	if r == nil || !c.IsValid() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.need[c] = struct{}{}
}

// Classes returns every class needing a vtable, sorted by id.
func (r *Registry) Classes() []types.ClassID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.ClassID, 0, len(r.need))
	for c := range r.need {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Request returns the canonical request for id.
func (r *Registry) Request(id RequestID) (Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !id.IsValid() || int(id) >= len(r.records) {
		return Request{}, false
	}
	return r.records[id].req, true
}

// Requests returns a snapshot of all requests indexed by id. Entries are
// shared with the registry and must not be mutated.
func (r *Registry) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Request, len(r.records))
	for i := range r.records {
		out[i] = r.records[i].req
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// snapshot returns records ordered by canonical key, the deterministic order
// Populate assigns offsets in.
func (r *Registry) snapshot() ([]record, []RequestID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	recs := append([]record(nil), r.records...)
	ids := make([]RequestID, len(recs))
	for i := range ids {
		ids[i] = RequestID(i)
	}
	sort.Slice(ids, func(a, b int) bool { return recs[ids[a]].key < recs[ids[b]].key })
	return recs, ids
}

func requestKey(entries []Entry) string {
	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "%d=%s;", e.Class, e.Value.Key())
	}
	return sb.String()
}
