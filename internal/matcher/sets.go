package matcher

import "sort"

// Set is a set of person tokens.
type Set map[string]struct{}

func NewSet(members ...string) Set {
	s := make(Set, len(members))
	for _, m := range members {
		s[m] = struct{}{}
	}
	return s
}

func (s Set) Has(member string) bool {
	_, ok := s[member]
	return ok
}

func (s Set) Add(members ...string) {
	for _, m := range members {
		s[m] = struct{}{}
	}
}

// AddAll adds every member of other to s.
func (s Set) AddAll(other Set) {
	for m := range other {
		s[m] = struct{}{}
	}
}

// Union returns a new set with the members of s and every other set.
func (s Set) Union(others ...Set) Set {
	out := make(Set, len(s))
	out.AddAll(s)
	for _, o := range others {
		out.AddAll(o)
	}
	return out
}

// Intersect returns the members of s also in other.
func (s Set) Intersect(other Set) Set {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	out := make(Set, len(small))
	for m := range small {
		if _, ok := large[m]; ok {
			out[m] = struct{}{}
		}
	}
	return out
}

// Subtract returns the members of s not in other.
func (s Set) Subtract(other Set) Set {
	out := make(Set, len(s))
	for m := range s {
		if _, ok := other[m]; !ok {
			out[m] = struct{}{}
		}
	}
	return out
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// unionMembers merges the member lists of keys.
func unionMembers(members map[string][]string, keys []string) Set {
	out := make(Set)
	for _, key := range keys {
		out.Add(members[key]...)
	}
	return out
}
