// Package availability implements the pure availability matcher: it
// intersects a candidate event's time window with a group's busy intervals
// and classifies the result. No I/O, no clock reads — every planning step
// calls into this for every candidate, so it has to stay trivially testable.
package availability

import (
	"sort"

	"github.com/gatherkit/gather-go/core"
)

// Assessment is the per-event availability result for a group.
type Assessment struct {
	Verdict core.Verdict

	// FreeMembers lists members with no busy interval overlapping the
	// window, sorted. Populated for every verdict; empty for conflicts-all,
	// the whole group for fits-all.
	FreeMembers []string

	// BusyMembers lists the members with a conflict, sorted.
	BusyMembers []string
}

// Merge logically merges overlapping or touching busy intervals into a
// minimal sorted set. Storage never merges; query time does.
func Merge(intervals []core.Interval) []core.Interval {
	if len(intervals) == 0 {
		return nil
	}
	sorted := append([]core.Interval(nil), intervals...)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].Start.Before(sorted[j].Start)
		}
		return sorted[i].End.Before(sorted[j].End)
	})

	merged := []core.Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// MemberFree reports whether a member with the given busy intervals is free
// for the window. The overlap test is half-open: [s1,e1) and [s2,e2)
// conflict iff s1 < e2 && s2 < e1, so back-to-back intervals do not clash.
func MemberFree(window core.Interval, busy []core.Interval) bool {
	for _, iv := range busy {
		if window.Overlaps(iv) {
			return false
		}
	}
	return true
}

// Assess classifies the event window against the group's busy intervals.
// The verdict is deterministic: reordering or duplicating busy intervals
// never changes it, and member lists come back sorted.
func Assess(window core.Interval, group core.Group, busy map[string][]core.Interval) Assessment {
	var free, blocked []string
	for _, member := range group {
		if MemberFree(window, busy[member]) {
			free = append(free, member)
		} else {
			blocked = append(blocked, member)
		}
	}
	sort.Strings(free)
	sort.Strings(blocked)

	a := Assessment{FreeMembers: free, BusyMembers: blocked}
	switch {
	case len(blocked) == 0:
		a.Verdict = core.VerdictFitsAll
	case len(free) == 0:
		a.Verdict = core.VerdictConflictsAll
	default:
		a.Verdict = core.VerdictFitsSubset
	}
	return a
}

// BusyIntervalsByMember regroups raw store records into per-member interval
// lists, dropping records that violate the start < end invariant.
func BusyIntervalsByMember(records []core.BusyInterval) (map[string][]core.Interval, []error) {
	byMember := make(map[string][]core.Interval)
	var invalid []error
	for i := range records {
		rec := records[i]
		if err := rec.Validate(); err != nil {
			invalid = append(invalid, err)
			continue
		}
		byMember[rec.UserID] = append(byMember[rec.UserID], rec.Interval())
	}
	return byMember, invalid
}
