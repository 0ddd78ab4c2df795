package runtime

import (
	"sort"

	celerity "github.com/unisa-hpc/celerity-on-synergy"
)

// NodeSet is a sorted, duplicate-free set of node ids.
type NodeSet []celerity.NodeID

// NewNodeSet builds a set from the given ids.
func NewNodeSet(ids ...celerity.NodeID) NodeSet {
	set := make(NodeSet, 0, len(ids))
	for _, id := range ids {
		if !set.Contains(id) {
			set = append(set, id)
		}
	}
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	return set
}

// AllNodes is the set {0, ..., n-1}.
func AllNodes(n int) NodeSet {
	set := make(NodeSet, n)
	for i := range set {
		set[i] = celerity.NodeID(i)
	}
	return set
}

func (s NodeSet) Contains(id celerity.NodeID) bool {
	for _, n := range s {
		if n == id {
			return true
		}
	}
	return false
}

func (s NodeSet) Equal(o NodeSet) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Lowest returns the smallest id in the set. The set must be non-empty.
func (s NodeSet) Lowest() celerity.NodeID {
	return s[0]
}
