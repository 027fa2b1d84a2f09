package decmodel

import "encoding/json"

// Supersedes reports whether entry e should replace existing: later
// datetime wins; on a tied datetime the entry with the lexicographically
// larger serialized value wins.
func (e Entry) Supersedes(existing Entry) bool {
	if e.Datetime != existing.Datetime {
		return e.Datetime > existing.Datetime
	}
	return e.ValueString() > existing.ValueString()
}

// DedupMaxDatetime collapses a batch of entries sharing the same path to at
// most one per distinct key, keeping the Supersedes-maximal entry for each
// key. Input order is not significant; output order is unspecified.
func DedupMaxDatetime(entries []Entry) []Entry {
	best := make(map[string]Entry, len(entries))
	for _, e := range entries {
		k := e.KeyString()
		if cur, ok := best[k]; !ok || e.Supersedes(cur) {
			best[k] = e
		}
	}
	out := make([]Entry, 0, len(best))
	for _, e := range best {
		out = append(out, e)
	}
	return out
}

func entryWithPathIdentity(e EntryWithPath) string {
	pathBytes, _ := json.Marshal(e.Path)
	return string(pathBytes) + "\x00" + e.KeyString()
}

// DedupMaxDatetimeWithPath is DedupMaxDatetime generalized to identity
// (path, key) instead of just key. The v2 engine needs this because a
// single bucket holds entries from many distinct paths, so key alone is
// not a unique identity within the batch.
func DedupMaxDatetimeWithPath(entries []EntryWithPath) []EntryWithPath {
	best := make(map[string]EntryWithPath, len(entries))
	for _, e := range entries {
		id := entryWithPathIdentity(e)
		if cur, ok := best[id]; !ok || e.Supersedes(cur.Entry) {
			best[id] = e
		}
	}
	out := make([]EntryWithPath, 0, len(best))
	for _, e := range best {
		out = append(out, e)
	}
	return out
}
