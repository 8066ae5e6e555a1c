package dataset

import "strings"

// Status is a set of flags describing what happened to a record since it was
// last synchronized with its backend.
type Status uint8

const (
	StatusNew Status = 1 << iota
	StatusUpdated
	StatusDeleted
)

// DiscriminatorField is the hidden column that stores the concrete class of
// a row in polymorphic mappings.
const DiscriminatorField = "discriminator"

// Record is one row: an ordered list of named values. Names are matched
// case-insensitively.
type Record struct {
	names     []string
	index     map[string]int
	values    []any
	status    Status
	generator string
}

// NewRecord returns an empty record flagged as new.
func NewRecord() *Record {
	return &Record{index: make(map[string]int), status: StatusNew}
}

// RecordFrom builds a record from parallel name and value slices. The
// record is not flagged as new: it mirrors a stored row.
func RecordFrom(names []string, values []any) *Record {
	r := &Record{index: make(map[string]int, len(names))}
	for i, n := range names {
		var v any
		if i < len(values) {
			v = values[i]
		}
		r.put(n, v)
	}
	return r
}

func key(name string) string {
	return strings.ToLower(name)
}

func (r *Record) put(name string, v any) {
	k := key(name)
	if i, ok := r.index[k]; ok {
		r.values[i] = v
		return
	}
	r.index[k] = len(r.names)
	r.names = append(r.names, name)
	r.values = append(r.values, v)
}

// Len returns the number of fields.
func (r *Record) Len() int { return len(r.names) }

// Names returns the field names in order.
func (r *Record) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Values returns the field values in order.
func (r *Record) Values() []any {
	out := make([]any, len(r.values))
	copy(out, r.values)
	return out
}

// Has reports whether the record carries a field.
func (r *Record) Has(name string) bool {
	_, ok := r.index[key(name)]
	return ok
}

// Get returns the value of a field.
func (r *Record) Get(name string) (any, bool) {
	i, ok := r.index[key(name)]
	if !ok {
		return nil, false
	}
	return r.values[i], true
}

// Value returns the value of a field, or nil when absent.
func (r *Record) Value(name string) any {
	v, _ := r.Get(name)
	return v
}

// Set stores a value. On a record that is not new, a changed value flags the
// record as updated.
func (r *Record) Set(name string, v any) {
	if old, ok := r.Get(name); ok && sameValue(old, v) {
		return
	}
	r.put(name, v)
	if r.status&StatusNew == 0 {
		r.status |= StatusUpdated
	}
}

func sameValue(a, b any) bool {
	if (Normalize(a) == nil) != (Normalize(b) == nil) {
		return false
	}
	return Equal(a, b)
}

// Status returns the record's status flags.
func (r *Record) Status() Status { return r.status }

// HasStatus reports whether all flags in s are set.
func (r *Record) HasStatus(s Status) bool { return r.status&s == s }

// SetStatus adds flags.
func (r *Record) SetStatus(s Status) { r.status |= s }

// ClearStatus resets all flags, marking the record as in sync.
func (r *Record) ClearStatus() { r.status = 0 }

// Generator returns the name of the field whose value the backend generates.
func (r *Record) Generator() string { return r.generator }

// SetGenerator names the generator-backed field; an empty name clears it.
func (r *Record) SetGenerator(name string) { r.generator = name }

// Clone returns a deep copy of the field list sharing the values.
func (r *Record) Clone() *Record {
	c := &Record{
		names:     r.Names(),
		values:    r.Values(),
		index:     make(map[string]int, len(r.index)),
		status:    r.status,
		generator: r.generator,
	}
	for k, v := range r.index {
		c.index[k] = v
	}
	return c
}

// Restore overwrites the fields, status and generator of r with those of
// from. Holders of r see the restored values.
func (r *Record) Restore(from *Record) {
	*r = *from.Clone()
}

// Project returns a record restricted to the given fields. Missing fields
// are omitted.
func (r *Record) Project(names []string) *Record {
	p := &Record{index: make(map[string]int, len(names)), status: r.status}
	for _, n := range names {
		if v, ok := r.Get(n); ok {
			p.put(n, v)
		}
	}
	if r.generator != "" && p.Has(r.generator) {
		p.generator = r.generator
	}
	return p
}
