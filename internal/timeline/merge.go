package timeline

import "sort"

// Merge returns the union of existing and incoming, deduplicated by ID and
// sorted per Less.
//
// existing must already be sorted and duplicate-free. incoming may be in any
// order and may contain duplicates. For a shared ID the entry with the
// higher-precedence Kind wins; ties keep the existing entry (or, within
// incoming, the first one seen).
//
// Only incoming is sorted. The result is produced by a single merge-join
// pass over existing, so folding a page of k entries into n costs
// O(n + k log k).
func Merge(existing Seq, incoming []Entry) Seq {
	if len(incoming) == 0 {
		return Clone(existing)
	}

	pos := make(map[string]int, len(existing))
	for i, e := range existing {
		pos[e.ID] = i
	}

	picked := dedupe(incoming)

	var replaced map[int]bool
	inserts := make([]Entry, 0, len(picked))
	for _, e := range picked {
		i, ok := pos[e.ID]
		if !ok {
			inserts = append(inserts, e)
			continue
		}
		if Supersedes(e, existing[i]) {
			if replaced == nil {
				replaced = make(map[int]bool)
			}
			replaced[i] = true
			inserts = append(inserts, e)
		}
	}
	if len(inserts) == 0 {
		return Clone(existing)
	}

	sort.Slice(inserts, func(a, b int) bool { return Less(inserts[a], inserts[b]) })

	out := make(Seq, 0, len(existing)+len(inserts)-len(replaced))
	i, j := 0, 0
	for i < len(existing) || j < len(inserts) {
		if i < len(existing) && replaced[i] {
			i++
			continue
		}
		switch {
		case i >= len(existing):
			out = append(out, inserts[j])
			j++
		case j >= len(inserts):
			out = append(out, existing[i])
			i++
		case Less(inserts[j], existing[i]):
			out = append(out, inserts[j])
			j++
		default:
			out = append(out, existing[i])
			i++
		}
	}
	return out
}

// dedupe collapses duplicate IDs within one batch, keeping the highest
// precedence kind and, among equals, the first occurrence. Output keeps
// first-seen order.
func dedupe(batch []Entry) []Entry {
	idx := make(map[string]int, len(batch))
	out := make([]Entry, 0, len(batch))
	for _, e := range batch {
		if e.ID == "" {
			continue
		}
		if k, ok := idx[e.ID]; ok {
			if Supersedes(e, out[k]) {
				out[k] = e
			}
			continue
		}
		idx[e.ID] = len(out)
		out = append(out, e)
	}
	return out
}

// Split partitions incoming against a reference sequence: fresh holds
// entries whose ID is absent from ref, upgrades holds entries that would
// replace a ref entry under Merge's precedence rule. Everything else is
// already represented in ref and is dropped.
func Split(ref Seq, incoming []Entry) (fresh, upgrades []Entry) {
	have := make(map[string]Entry, len(ref))
	for _, e := range ref {
		have[e.ID] = e
	}
	for _, e := range dedupe(incoming) {
		cur, ok := have[e.ID]
		switch {
		case !ok:
			fresh = append(fresh, e)
		case Supersedes(e, cur):
			upgrades = append(upgrades, e)
		}
	}
	return fresh, upgrades
}

// Without returns seq minus the given IDs.
func Without(seq Seq, ids ...string) Seq {
	if len(ids) == 0 {
		return Clone(seq)
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	out := make(Seq, 0, len(seq))
	for _, e := range seq {
		if !drop[e.ID] {
			out = append(out, e)
		}
	}
	return out
}

// CountAbove returns how many entries of added sit above id in seq.
// Returns 0 when id is absent.
func CountAbove(seq Seq, id string, added []Entry) int {
	at := IndexOf(seq, id)
	if at <= 0 || len(added) == 0 {
		return 0
	}
	isAdded := make(map[string]bool, len(added))
	for _, e := range added {
		isAdded[e.ID] = true
	}
	n := 0
	for _, e := range seq[:at] {
		if isAdded[e.ID] {
			n++
		}
	}
	return n
}
