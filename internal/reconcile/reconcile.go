// Package reconcile computes the minimal edge changes that bring a stored
// many-to-many association in line with a desired set.
package reconcile

import "sort"

// Edge links a subject to a qualification level for one contractor.
type Edge struct {
	SubjectID   int64
	QualLevelID int64
}

// Existing is a stored edge with its row id.
type Existing struct {
	RowID int64
	Edge  Edge
}

// Plan is the outcome of Diff.
type Plan struct {
	// Delete holds row ids of stored edges that are no longer desired,
	// including duplicates of a desired edge.
	Delete []int64
	// Insert holds desired edges not yet stored, without duplicates.
	Insert []Edge
}

// Empty reports whether the plan changes nothing.
func (p Plan) Empty() bool {
	return len(p.Delete) == 0 && len(p.Insert) == 0
}

// Dedupe returns edges in first-seen order with repeats removed.
func Dedupe(edges []Edge) []Edge {
	seen := make(map[Edge]struct{}, len(edges))
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

// Diff plans the deletes and inserts that turn existing into desired.
func Diff(existing []Existing, desired []Edge) Plan {
	want := make(map[Edge]struct{}, len(desired))
	for _, e := range desired {
		want[e] = struct{}{}
	}
	var plan Plan
	kept := make(map[Edge]struct{}, len(existing))
	for _, ex := range existing {
		_, wanted := want[ex.Edge]
		_, dup := kept[ex.Edge]
		if !wanted || dup {
			plan.Delete = append(plan.Delete, ex.RowID)
			continue
		}
		kept[ex.Edge] = struct{}{}
	}
	for _, e := range Dedupe(desired) {
		if _, ok := kept[e]; !ok {
			plan.Insert = append(plan.Insert, e)
		}
	}
	sort.Slice(plan.Delete, func(i, j int) bool { return plan.Delete[i] < plan.Delete[j] })
	return plan
}
