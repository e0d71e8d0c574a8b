package model

import "sort"

// WorkingSet is the run-scoped collection of initiatives keyed by expediente.
// It is owned by the orchestrator; derivation stages only read from it.
// It is not safe for concurrent mutation, but concurrent reads are fine once
// loading has finished.
type WorkingSet struct {
	items map[string]*Initiative
}

// NewWorkingSet creates an empty working set.
func NewWorkingSet() *WorkingSet {
	return &WorkingSet{items: make(map[string]*Initiative)}
}

// Put stores in, replacing any initiative with the same key. It returns the
// replaced initiative, if any.
func (ws *WorkingSet) Put(in Initiative) (Initiative, bool) {
	prev, ok := ws.items[in.Expediente]
	cp := in
	ws.items[in.Expediente] = &cp
	if ok {
		return *prev, true
	}
	return Initiative{}, false
}

// Get returns the initiative stored under key.
func (ws *WorkingSet) Get(key string) (Initiative, bool) {
	in, ok := ws.items[key]
	if !ok {
		return Initiative{}, false
	}
	return *in, true
}

// Has reports whether key is present.
func (ws *WorkingSet) Has(key string) bool {
	_, ok := ws.items[key]
	return ok
}

// Len returns the number of initiatives.
func (ws *WorkingSet) Len() int { return len(ws.items) }

// Keys returns all keys in lexical order. A fresh slice is built on every
// call so concurrent readers never share state.
func (ws *WorkingSet) Keys() []string {
	keys := make([]string, 0, len(ws.items))
	for k := range ws.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Initiatives returns copies of all initiatives in key order.
func (ws *WorkingSet) Initiatives() []Initiative {
	keys := ws.Keys()
	out := make([]Initiative, len(keys))
	for i, k := range keys {
		out[i] = *ws.items[k]
	}
	return out
}

// SetTitle records a generated title for key. It is a no-op for unknown keys.
func (ws *WorkingSet) SetTitle(key, title string) {
	if in, ok := ws.items[key]; ok {
		in.Title = title
	}
}
