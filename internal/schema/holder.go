package schema

import "sync/atomic"

// Holder hands out the current schema and accepts hot-reloaded replacements.
type Holder struct {
	current atomic.Pointer[Schema]
}

// NewHolder wraps an initial schema.
func NewHolder(s *Schema) *Holder {
	h := &Holder{}
	h.current.Store(s)
	return h
}

// Current returns the schema in effect.
func (h *Holder) Current() *Schema {
	if h == nil {
		return nil
	}
	return h.current.Load()
}

// Replace swaps in a reloaded schema. Nil replacements are ignored so a
// failed reload keeps the previous schema serving.
func (h *Holder) Replace(s *Schema) {
	if h == nil || s == nil {
		return
	}
	h.current.Store(s)
}
