package util

import "sort"

// Diff compares two symbol sets. added holds what is in next but not prev,
// removed what is in prev but not next. Both are sorted and free of
// duplicates.
func Diff(prev, next []string) (added, removed []string) {
	before := toSet(prev)
	after := toSet(next)
	for s := range after {
		if _, ok := before[s]; !ok {
			added = append(added, s)
		}
	}
	for s := range before {
		if _, ok := after[s]; !ok {
			removed = append(removed, s)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		set[s] = struct{}{}
	}
	return set
}
