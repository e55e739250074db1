package engine

import (
	"fmt"
	"sort"
	"strings"

	"cutline/internal/domain"
)

// OverlapPolicy selects how far overlap resolution propagates.
type OverlapPolicy string

const (
	// OverlapShallow resolves conflicts against the placed item in a single
	// pass. Items pushed later are not re-checked, so a chain reaction can
	// leave residual overlaps further down the track.
	OverlapShallow OverlapPolicy = "shallow"
	// OverlapCascade also pushes items sharing the placed item's start and
	// then settles everything after it until no intervals intersect.
	OverlapCascade OverlapPolicy = "cascade"
)

func ParseOverlapPolicy(s string) (OverlapPolicy, error) {
	switch OverlapPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", OverlapCascade:
		return OverlapCascade, nil
	case OverlapShallow:
		return OverlapShallow, nil
	default:
		return "", fmt.Errorf("unknown overlap policy %q", s)
	}
}

func intersects(aStart, aEnd, bStart, bEnd int) bool {
	return !(aEnd <= bStart || aStart >= bEnd)
}

// ResolveOverlaps returns a copy of others adjusted around placed, plus the
// before/after span of every item it touched. others must not contain placed;
// the input slice is never modified.
func ResolveOverlaps(others []domain.Item, placed domain.Item, policy OverlapPolicy) ([]domain.Item, []domain.ItemChange) {
	out := make([]domain.Item, len(others))
	for i, it := range others {
		out[i] = it.Clone()
	}
	before := map[string]domain.Span{}
	newStart, newEnd := placed.Start, placed.End()
	for i := range out {
		o := &out[i]
		if o.ID == placed.ID || !intersects(newStart, newEnd, o.Start, o.End()) {
			continue
		}
		remember(before, *o)
		if newStart < o.Start || (policy == OverlapCascade && newStart == o.Start) {
			o.Start = newEnd
		} else {
			o.Duration = max(1, newStart-o.Start)
		}
	}
	if policy == OverlapCascade {
		settle(out, placed, before)
	}
	return out, collectChanges(out, before)
}

// settle pushes every item at or after the placed item's start to the running
// end of the items before it.
func settle(items []domain.Item, placed domain.Item, before map[string]domain.Span) {
	idx := make([]int, 0, len(items))
	for i, it := range items {
		if it.ID != placed.ID && it.Start >= placed.Start {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return items[idx[a]].Start < items[idx[b]].Start })
	frontier := placed.End()
	for _, i := range idx {
		it := &items[i]
		if it.Start < frontier {
			remember(before, *it)
			it.Start = frontier
		}
		if it.End() > frontier {
			frontier = it.End()
		}
	}
}

func remember(before map[string]domain.Span, it domain.Item) {
	if _, ok := before[it.ID]; ok {
		return
	}
	before[it.ID] = domain.Span{Start: it.Start, Duration: it.Duration}
}

func collectChanges(items []domain.Item, before map[string]domain.Span) []domain.ItemChange {
	var changes []domain.ItemChange
	for _, it := range items {
		prev, ok := before[it.ID]
		if !ok {
			continue
		}
		after := domain.Span{Start: it.Start, Duration: it.Duration}
		if prev == after {
			continue
		}
		changes = append(changes, domain.ItemChange{ItemID: it.ID, Before: prev, After: after})
	}
	return changes
}
