// Package engine declares the interface both the v1 and v2 on-disk engines
// implement, plus the supersede-rule helpers shared between them. The
// dispatcher (component G) talks only to this interface; it never knows
// whether it is driving v1/engine or v2/engine.
package engine

import (
	"encoding/json"

	"github.com/decsync/go-decsync/internal/decmodel"
)

// Engine is the active on-disk protocol, selected once per instance by the
// dispatcher based on .decsync-info and local state (§4.G version
// selection).
type Engine interface {
	// SetEntriesForPath applies a batch of entries sharing one path against
	// the own stored snapshot and own new-entries log.
	SetEntriesForPath(path []string, entries []decmodel.Entry) error

	// SetEntries applies a batch of entries spanning multiple paths. For v2
	// this groups by hash bucket so the dedup/append/sequence-bump sequence
	// runs once per bucket rather than once per path (used by the v1→v2
	// upgrade so the atomic unit matches the target engine's protocol).
	SetEntries(entries []decmodel.EntryWithPath) error

	// ExecuteAllNewEntries scans every peer's new-entries log, merges
	// survivors into the own stored snapshot, and delivers them via
	// deliver. extra is forwarded to deliver unchanged on every call.
	ExecuteAllNewEntries(extra decmodel.Extra, deliver decmodel.DeliverFunc) error

	// ExecuteStoredEntriesForPathExact replays the own stored snapshot at
	// exactly path. A nil keys means "all keys at this path".
	ExecuteStoredEntriesForPathExact(path []string, keys []json.RawMessage, extra decmodel.Extra, deliver decmodel.DeliverFunc) error

	// ExecuteStoredEntriesForPathPrefix replays every own stored entry whose
	// path has prefix as a prefix. A nil keys means "all keys".
	ExecuteStoredEntriesForPathPrefix(prefix []string, keys []json.RawMessage, extra decmodel.Extra, deliver decmodel.DeliverFunc) error

	// LatestAppID reports the appId with the most recent activity, ties
	// broken in favour of ownAppID.
	LatestAppID() (string, error)
}

// PathKey renders a path as a map key stable across distinct paths that
// happen to share separator-looking bytes in a segment; json.Marshal's
// escaping makes collisions impossible short of two genuinely equal paths.
func PathKey(path []string) string {
	b, err := json.Marshal(path)
	if err != nil {
		// []string always marshals; this is unreachable in practice.
		return ""
	}
	return string(b)
}

// GroupByPath buckets an EntryWithPath batch by exact path, preserving the
// order in which each distinct path was first seen.
func GroupByPath(entries []decmodel.EntryWithPath) (order [][]string, byPath map[string][]decmodel.Entry) {
	byPath = make(map[string][]decmodel.Entry)
	seen := make(map[string]bool)
	for _, e := range entries {
		k := PathKey(e.Path)
		if !seen[k] {
			seen[k] = true
			order = append(order, e.Path)
		}
		byPath[k] = append(byPath[k], e.Entry)
	}
	return order, byPath
}

// MergeSurvivors implements the write-time self-update and read-time
// cross-peer merge rule (§4.E steps 2/5, §9 Supersede rule precision): an
// incoming entry survives only if it Supersedes the stored entry sharing
// its key (or no stored entry exists yet). Supersedes encodes the full
// tiebreak — later datetime wins, and on a tied datetime the
// lexicographically larger serialized value wins — so every peer applying
// this rule against the same set of entries converges on the same stored
// value regardless of which side did the merging. The returned newStored
// is the stored snapshot with every superseded row dropped and every
// survivor appended: rewrite then append. Callers must have already
// deduped incoming to at most one entry per key (see
// decmodel.DedupMaxDatetime).
func MergeSurvivors(stored, incoming []decmodel.Entry) (survivors, newStored []decmodel.Entry) {
	storedByKey := make(map[string]decmodel.Entry, len(stored))
	for _, e := range stored {
		storedByKey[e.KeyString()] = e
	}
	survivorKeys := make(map[string]bool, len(incoming))
	for _, e := range incoming {
		existing, ok := storedByKey[e.KeyString()]
		if ok && !e.Supersedes(existing) {
			continue
		}
		survivors = append(survivors, e)
		survivorKeys[e.KeyString()] = true
	}
	if len(survivors) == 0 {
		return nil, stored
	}
	newStored = make([]decmodel.Entry, 0, len(stored)+len(survivors))
	for _, e := range stored {
		if !survivorKeys[e.KeyString()] {
			newStored = append(newStored, e)
		}
	}
	newStored = append(newStored, survivors...)
	return survivors, newStored
}

// MergeSurvivorsWithPath is MergeSurvivors generalized to EntryWithPath,
// where identity is (path, key) rather than just key. The v2 engine needs
// this because a single bucket's log mixes entries from many distinct
// paths, so two entries sharing a key but not a path must not be treated
// as conflicting.
func MergeSurvivorsWithPath(stored, incoming []decmodel.EntryWithPath) (survivors, newStored []decmodel.EntryWithPath) {
	identity := func(e decmodel.EntryWithPath) string {
		return PathKey(e.Path) + "\x00" + e.KeyString()
	}
	storedByID := make(map[string]decmodel.EntryWithPath, len(stored))
	for _, e := range stored {
		storedByID[identity(e)] = e
	}
	survivorIDs := make(map[string]bool, len(incoming))
	for _, e := range incoming {
		existing, ok := storedByID[identity(e)]
		if ok && !e.Supersedes(existing.Entry) {
			continue
		}
		survivors = append(survivors, e)
		survivorIDs[identity(e)] = true
	}
	if len(survivors) == 0 {
		return nil, stored
	}
	newStored = make([]decmodel.EntryWithPath, 0, len(stored)+len(survivors))
	for _, e := range stored {
		if !survivorIDs[identity(e)] {
			newStored = append(newStored, e)
		}
	}
	newStored = append(newStored, survivors...)
	return survivors, newStored
}

// MaxDatetime returns the lexicographically greatest datetime among
// entries, which for the fixed-width ISO-8601 format is also the
// chronologically latest. It reports false for an empty slice.
func MaxDatetime(entries []decmodel.Entry) (string, bool) {
	if len(entries) == 0 {
		return "", false
	}
	max := entries[0].Datetime
	for _, e := range entries[1:] {
		if e.Datetime > max {
			max = e.Datetime
		}
	}
	return max, true
}

// FilterByKeys reports which entries have a key present in keys (by
// serialized identity). A nil keys means "keep everything", matching the
// nil-means-all convention ExecuteStoredEntriesForPath{Exact,Prefix} use.
func FilterByKeys(entries []decmodel.Entry, keys []json.RawMessage) []decmodel.Entry {
	if keys == nil {
		return entries
	}
	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[string(k)] = true
	}
	out := make([]decmodel.Entry, 0, len(entries))
	for _, e := range entries {
		if wanted[e.KeyString()] {
			out = append(out, e)
		}
	}
	return out
}
