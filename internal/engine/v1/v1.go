// Package v1 implements component E: the path-as-directory on-disk
// protocol.
package v1

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/decsync/go-decsync/internal/decmodel"
	"github.com/decsync/go-decsync/internal/decsyncfile"
	"github.com/decsync/go-decsync/internal/engine"
	"github.com/decsync/go-decsync/internal/urlcodec"
)

// Engine is the v1 protocol: new-entries/read-bytes/stored-entries/info,
// each partitioned by appId, rooted at subdir (decsyncDir/syncType[/collection]).
type Engine struct {
	root     *decsyncfile.DecsyncFile
	ownAppID string
	logger   *slog.Logger
}

// New wraps subdir (already addressed as a DecsyncFile, e.g.
// decsyncfile.New(nativefile root).Child(syncType, collection...)).
func New(subdir *decsyncfile.DecsyncFile, ownAppID string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{root: subdir, ownAppID: ownAppID, logger: logger}
}

func (e *Engine) newEntriesFile(appID string, path []string) *decsyncfile.DecsyncFile {
	return e.root.Child("new-entries", appID).Child(path...)
}

func (e *Engine) newEntriesDir(appID string) *decsyncfile.DecsyncFile {
	return e.root.Child("new-entries", appID)
}

func (e *Engine) readBytesDir(peerAppID string) *decsyncfile.DecsyncFile {
	return e.root.Child("read-bytes", e.ownAppID, peerAppID)
}

func (e *Engine) storedEntriesFile(appID string, path []string) *decsyncfile.DecsyncFile {
	return e.root.Child("stored-entries", appID).Child(path...)
}

func (e *Engine) storedEntriesDir(appID string) *decsyncfile.DecsyncFile {
	return e.root.Child("stored-entries", appID)
}

func (e *Engine) infoDir() *decsyncfile.DecsyncFile {
	return e.root.Child("info")
}

func (e *Engine) latestStoredEntryFile(appID string) *decsyncfile.DecsyncFile {
	return e.infoDir().Child(appID).Child("latest-stored-entry")
}

// SetEntriesForPath implements §4.E's write path.
func (e *Engine) SetEntriesForPath(path []string, entries []decmodel.Entry) error {
	deduped := decmodel.DedupMaxDatetime(entries)
	storedFile := e.storedEntriesFile(e.ownAppID, path)
	stored, err := engine.ReadEntries(e.logger, storedFile)
	if err != nil {
		return err
	}
	survivors, newStored := engine.MergeSurvivors(stored, deduped)
	if len(survivors) == 0 {
		return nil
	}
	if err := engine.WriteEntries(storedFile, newStored); err != nil {
		return err
	}
	if max, ok := engine.MaxDatetime(survivors); ok {
		if err := e.bumpLatestStoredEntry(e.ownAppID, max); err != nil {
			return err
		}
	}
	if err := engine.AppendEntries(e.newEntriesFile(e.ownAppID, path), survivors); err != nil {
		return err
	}
	return e.bumpSequenceAlongPrefixes(path)
}

// SetEntries implements the multi-path write operation by grouping
// entries by path and applying SetEntriesForPath once per group; v1's
// directories are independent of one another so no cross-path atomicity
// is needed (contrast v2, which must group by bucket).
func (e *Engine) SetEntries(entries []decmodel.EntryWithPath) error {
	order, byPath := engine.GroupByPath(entries)
	for _, path := range order {
		if err := e.SetEntriesForPath(path, byPath[engine.PathKey(path)]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) bumpSequenceAlongPrefixes(path []string) error {
	dir := e.newEntriesDir(e.ownAppID)
	if _, err := dir.IncrementSequence(); err != nil {
		return err
	}
	for i := 0; i < len(path)-1; i++ {
		dir = dir.Child(path[i])
		if _, err := dir.IncrementSequence(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) bumpLatestStoredEntry(appID, candidate string) error {
	f := e.latestStoredEntryFile(appID)
	current, err := f.ReadText()
	if err != nil {
		return err
	}
	if current != "" && current >= candidate {
		return nil
	}
	return f.WriteText(candidate, false)
}

// ExecuteAllNewEntries implements §4.E's read path across every peer.
func (e *Engine) ExecuteAllNewEntries(extra decmodel.Extra, deliver decmodel.DeliverFunc) error {
	entriesDir := e.root.Child("new-entries")
	entriesDir.Node().ResetCache()
	children, err := entriesDir.Node().Children()
	if err != nil {
		return err
	}
	for _, child := range children {
		name := child.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		peerAppID, ok := urlcodec.Decode(name)
		if !ok || peerAppID == e.ownAppID {
			continue
		}
		if err := e.scanPeer(peerAppID, extra, deliver); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) scanPeer(peerAppID string, extra decmodel.Extra, deliver decmodel.DeliverFunc) error {
	peerLog := e.newEntriesDir(peerAppID)
	readBytes := e.readBytesDir(peerAppID)
	return peerLog.ListFilesRecursiveRelative(readBytes,
		func(path []string) bool { return true },
		func(path []string) bool {
			return e.consumeLogFile(peerAppID, path, extra, deliver)
		})
}

func (e *Engine) consumeLogFile(peerAppID string, path []string, extra decmodel.Extra, deliver decmodel.DeliverFunc) bool {
	logFile := e.newEntriesFile(peerAppID, path)
	length, err := logFile.Node().Length()
	if err != nil {
		e.logger.Warn("decsync: stat new-entries file", "appId", peerAppID, "path", path, "error", err)
		return false
	}

	cursorFile := e.readBytesDir(peerAppID).Child(path...)
	cursor, err := readCursor(cursorFile)
	if err != nil {
		e.logger.Warn("decsync: read cursor", "appId", peerAppID, "path", path, "error", err)
		return false
	}
	if cursor >= length {
		return true
	}

	data, err := logFile.Node().Read(cursor)
	if err != nil {
		e.logger.Warn("decsync: read new-entries file", "appId", peerAppID, "path", path, "error", err)
		return false
	}
	newCursor := cursor + int64(len(data))

	entries := engine.ParseEntryLines(e.logger, splitNonBlank(string(data)))
	deduped := decmodel.DedupMaxDatetime(entries)
	if len(deduped) == 0 {
		return writeCursor(cursorFile, newCursor) == nil
	}

	storedFile := e.storedEntriesFile(e.ownAppID, path)
	stored, err := engine.ReadEntries(e.logger, storedFile)
	if err != nil {
		e.logger.Warn("decsync: read stored entries", "path", path, "error", err)
		return false
	}
	survivors, newStored := engine.MergeSurvivors(stored, deduped)
	if len(survivors) > 0 {
		if !deliver(path, survivors, extra) {
			return false
		}
		if err := engine.WriteEntries(storedFile, newStored); err != nil {
			e.logger.Warn("decsync: write stored entries", "path", path, "error", err)
			return false
		}
		if max, ok := engine.MaxDatetime(survivors); ok {
			if err := e.bumpLatestStoredEntry(e.ownAppID, max); err != nil {
				e.logger.Warn("decsync: bump latest-stored-entry", "appId", e.ownAppID, "error", err)
				return false
			}
		}
	}
	return writeCursor(cursorFile, newCursor) == nil
}

// ExecuteStoredEntriesForPathExact implements the own-snapshot replay at a
// single exact path.
func (e *Engine) ExecuteStoredEntriesForPathExact(path []string, keys []json.RawMessage, extra decmodel.Extra, deliver decmodel.DeliverFunc) error {
	storedFile := e.storedEntriesFile(e.ownAppID, path)
	entries, err := engine.ReadEntries(e.logger, storedFile)
	if err != nil {
		return err
	}
	filtered := engine.FilterByKeys(decmodel.DedupMaxDatetime(entries), keys)
	if len(filtered) > 0 {
		deliver(path, filtered, extra)
	}
	return nil
}

// ExecuteStoredEntriesForPathPrefix implements the own-snapshot replay
// over every path under prefix. Sequence-skipping is not used here (§4.E).
func (e *Engine) ExecuteStoredEntriesForPathPrefix(prefix []string, keys []json.RawMessage, extra decmodel.Extra, deliver decmodel.DeliverFunc) error {
	base := e.storedEntriesDir(e.ownAppID).Child(prefix...)
	return base.ListFilesRecursiveRelative(nil,
		func(relPath []string) bool { return true },
		func(relPath []string) bool {
			fullPath := append(append([]string(nil), prefix...), relPath...)
			entries, err := engine.ReadEntries(e.logger, base.Child(relPath...))
			if err != nil {
				e.logger.Warn("decsync: read stored entries", "path", fullPath, "error", err)
				return true
			}
			filtered := engine.FilterByKeys(decmodel.DedupMaxDatetime(entries), keys)
			if len(filtered) > 0 {
				deliver(fullPath, filtered, extra)
			}
			return true
		})
}

// LatestAppID implements §4.E's latestAppId: the appId whose
// latest-stored-entry datetime is maximum, ties broken in favour of
// ownAppID.
func (e *Engine) LatestAppID() (string, error) {
	infoDir := e.infoDir()
	children, err := infoDir.Node().Children()
	if err != nil {
		return e.ownAppID, err
	}
	type candidate struct {
		appID, datetime string
	}
	var best candidate
	have := false
	for _, child := range children {
		name := child.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		appID, ok := urlcodec.Decode(name)
		if !ok {
			continue
		}
		dt, err := infoDir.Child(appID).Child("latest-stored-entry").ReadText()
		if err != nil || dt == "" {
			continue
		}
		c := candidate{appID: appID, datetime: dt}
		switch {
		case !have:
			best, have = c, true
		case c.datetime > best.datetime:
			best = c
		case c.datetime == best.datetime && c.appID == e.ownAppID:
			best = c
		}
	}
	if !have {
		return e.ownAppID, nil
	}
	return best.appID, nil
}

func readCursor(f *decsyncfile.DecsyncFile) (int64, error) {
	text, err := f.ReadText()
	if err != nil {
		return 0, err
	}
	if text == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil {
		// An unparseable cursor is tolerated as 0 (§9 Cursor file format).
		return 0, nil
	}
	return n, nil
}

func writeCursor(f *decsyncfile.DecsyncFile, value int64) error {
	return f.WriteText(strconv.FormatInt(value, 10), false)
}

func splitNonBlank(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, "\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
