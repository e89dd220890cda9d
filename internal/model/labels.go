package model

import "strings"

// Label is one name/value dimension of a series.
type Label struct {
	Name  string
	Value string
}

// LabelSet is an ordered tuple of labels identifying one series within a metric family.
// Two sets are equal iff they have the same pairs in the same order.
type LabelSet []Label

// Labels builds a LabelSet from alternating name/value arguments.
// A trailing name without a value is ignored.
func Labels(pairs ...string) LabelSet {
	ls := make(LabelSet, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		ls = append(ls, Label{Name: pairs[i], Value: pairs[i+1]})
	}
	return ls
}

const (
	keyPairSep = "\xff"
	keyKVSep   = "\xfe"
)

// Key returns a string that is unique per LabelSet and usable as a map key.
func (ls LabelSet) Key() string {
	if len(ls) == 0 {
		return ""
	}
	var b strings.Builder
	for i, l := range ls {
		if i > 0 {
			b.WriteString(keyPairSep)
		}
		b.WriteString(l.Name)
		b.WriteString(keyKVSep)
		b.WriteString(l.Value)
	}
	return b.String()
}

// Equal reports whether both sets hold the same pairs in the same order.
func (ls LabelSet) Equal(other LabelSet) bool {
	if len(ls) != len(other) {
		return false
	}
	for i := range ls {
		if ls[i] != other[i] {
			return false
		}
	}
	return true
}

// Get returns the value for name and whether it was present.
func (ls LabelSet) Get(name string) (string, bool) {
	for _, l := range ls {
		if l.Name == name {
			return l.Value, true
		}
	}
	return "", false
}

// With returns a copy of ls with one more label appended.
func (ls LabelSet) With(name, value string) LabelSet {
	out := make(LabelSet, len(ls), len(ls)+1)
	copy(out, ls)
	return append(out, Label{Name: name, Value: value})
}

// Clone returns an independent copy.
func (ls LabelSet) Clone() LabelSet {
	if ls == nil {
		return nil
	}
	out := make(LabelSet, len(ls))
	copy(out, ls)
	return out
}
