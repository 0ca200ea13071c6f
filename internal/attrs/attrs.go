// Package attrs is a small named attribute collection in the shape of an IPP
// message: every attribute has a name, a group tag and one or more values.
//
// A Set is not safe for concurrent use. Owners guard it with their own lock.
package attrs

import (
	"fmt"
	"strconv"
	"time"
)

type Tag int

const (
	TagZero Tag = iota
	TagOperation
	TagJob
	TagPrinter
	TagDocument
)

func (t Tag) String() string {
	switch t {
	case TagOperation:
		return "operation-attributes-tag"
	case TagJob:
		return "job-attributes-tag"
	case TagPrinter:
		return "printer-attributes-tag"
	case TagDocument:
		return "document-attributes-tag"
	default:
		return "zero"
	}
}

type Attribute struct {
	Name   string `json:"name"`
	Group  Tag    `json:"group"`
	Values []any  `json:"values"`
}

// String returns value i formatted as a string, or "" when out of range.
func (a *Attribute) String(i int) string {
	if a == nil || i < 0 || i >= len(a.Values) {
		return ""
	}
	switch v := a.Values[i].(type) {
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}

// Int returns value i as an integer. Strings are parsed; anything else is 0.
func (a *Attribute) Int(i int) int {
	if a == nil || i < 0 || i >= len(a.Values) {
		return 0
	}
	switch v := a.Values[i].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

func (a *Attribute) clone() *Attribute {
	values := make([]any, len(a.Values))
	copy(values, a.Values)
	return &Attribute{Name: a.Name, Group: a.Group, Values: values}
}

type Set struct {
	list []*Attribute
}

func New() *Set {
	return &Set{}
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.list)
}

// Get returns a copy of the named attribute, or nil.
func (s *Set) Get(name string) *Attribute {
	if s == nil {
		return nil
	}
	for _, a := range s.list {
		if a.Name == name {
			return a.clone()
		}
	}
	return nil
}

// GetString returns the first value of the named attribute as a string.
func (s *Set) GetString(name string) string {
	return s.Get(name).String(0)
}

// Set adds the attribute or replaces an existing one with the same name.
func (s *Set) Set(group Tag, name string, values ...any) {
	a := &Attribute{Name: name, Group: group, Values: values}
	for i, cur := range s.list {
		if cur.Name == name {
			s.list[i] = a
			return
		}
	}
	s.list = append(s.list, a)
}

func (s *Set) Delete(name string) {
	for i, cur := range s.list {
		if cur.Name == name {
			s.list = append(s.list[:i], s.list[i+1:]...)
			return
		}
	}
}

// CopyFrom copies every attribute of src in the given group into s. When
// requested is non-empty only the named attributes are copied. TagZero copies
// all groups.
func (s *Set) CopyFrom(src *Set, group Tag, requested []string) {
	if src == nil {
		return
	}

	var want map[string]bool
	if len(requested) > 0 {
		want = make(map[string]bool, len(requested))
		for _, name := range requested {
			want[name] = true
		}
	}

	for _, a := range src.list {
		if group != TagZero && a.Group != group {
			continue
		}
		if want != nil && !want[a.Name] {
			continue
		}
		c := a.clone()
		s.Set(c.Group, c.Name, c.Values...)
	}
}

// Clone returns a deep copy of the set.
func (s *Set) Clone() *Set {
	c := New()
	if s == nil {
		return c
	}
	c.list = make([]*Attribute, 0, len(s.list))
	for _, a := range s.list {
		c.list = append(c.list, a.clone())
	}
	return c
}

// All returns copies of every attribute in insertion order.
func (s *Set) All() []*Attribute {
	if s == nil {
		return nil
	}
	out := make([]*Attribute, 0, len(s.list))
	for _, a := range s.list {
		out = append(out, a.clone())
	}
	return out
}

// Map flattens the set into name → value, using a slice for multi-valued
// attributes. Used for JSON rendering.
func (s *Set) Map() map[string]any {
	out := make(map[string]any, s.Len())
	if s == nil {
		return out
	}
	for _, a := range s.list {
		switch len(a.Values) {
		case 0:
			out[a.Name] = nil
		case 1:
			out[a.Name] = a.Values[0]
		default:
			values := make([]any, len(a.Values))
			copy(values, a.Values)
			out[a.Name] = values
		}
	}
	return out
}
