// Package v2 implements component F: the hash-bucketed on-disk protocol.
package v2

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/decsync/go-decsync/internal/decmodel"
	"github.com/decsync/go-decsync/internal/decsyncfile"
	"github.com/decsync/go-decsync/internal/engine"
	"github.com/decsync/go-decsync/internal/nativefile"
	"github.com/decsync/go-decsync/internal/urlcodec"
)

const sequencesFileName = "sequences"

// Engine is the v2 protocol: v2/<appId>/sequences and v2/<appId>/<bucket>,
// rooted at subdir (decsyncDir/syncType[/collection]).
//
// A bucket file doubles as both the append-only write log for its appId
// partition and, once peer survivors are merged into it on read, the
// local record of everything this instance currently knows; v2 has no
// separate stored-entries artifact the way v1 does (§4.F only names
// sequences and bucket files), so ExecuteStoredEntriesForPath{Exact,Prefix}
// read straight from the own appId's bucket files.
type Engine struct {
	root     *decsyncfile.DecsyncFile
	localDir *decsyncfile.DecsyncFile
	ownAppID string
	logger   *slog.Logger
}

// New wraps subdir and a localDir used for the dispatcher-local record of
// peer sequences observed on past read passes.
func New(subdir *decsyncfile.DecsyncFile, localDir nativefile.Node, ownAppID string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		root:     subdir,
		localDir: decsyncfile.New(localDir),
		ownAppID: ownAppID,
		logger:   logger,
	}
}

func (e *Engine) appDir(appID string) *decsyncfile.DecsyncFile {
	return e.root.Child("v2", appID)
}

func (e *Engine) bucketFile(appID, bucket string) *decsyncfile.DecsyncFile {
	return e.appDir(appID).Child(bucket)
}

func (e *Engine) sequencesFile(appID string) *decsyncfile.DecsyncFile {
	return e.appDir(appID).Child(sequencesFileName)
}

func (e *Engine) localSequencesFile() *decsyncfile.DecsyncFile {
	return e.localDir.Child(sequencesFileName)
}

// SetEntriesForPath wraps entries in EntryWithPath and delegates to
// SetEntries so a single-path write still goes through the bucket-grouped
// write protocol.
func (e *Engine) SetEntriesForPath(path []string, entries []decmodel.Entry) error {
	withPath := make([]decmodel.EntryWithPath, len(entries))
	for i, en := range entries {
		withPath[i] = decmodel.NewEntryWithPath(path, en)
	}
	return e.SetEntries(withPath)
}

// SetEntries groups entries by bucket and applies the write protocol once
// per bucket, so entries from different paths hashing to the same bucket
// share one dedup/append/sequence-bump unit (§4.F write).
func (e *Engine) SetEntries(entries []decmodel.EntryWithPath) error {
	order, byBucket := groupByBucket(entries)
	for _, bucket := range order {
		if err := e.applyBucket(bucket, byBucket[bucket]); err != nil {
			return err
		}
	}
	return nil
}

func groupByBucket(entries []decmodel.EntryWithPath) (order []string, byBucket map[string][]decmodel.EntryWithPath) {
	byBucket = make(map[string][]decmodel.EntryWithPath)
	seen := make(map[string]bool)
	for _, e := range entries {
		b := Bucket(e.Path)
		if !seen[b] {
			seen[b] = true
			order = append(order, b)
		}
		byBucket[b] = append(byBucket[b], e)
	}
	return order, byBucket
}

func (e *Engine) applyBucket(bucket string, incoming []decmodel.EntryWithPath) error {
	deduped := decmodel.DedupMaxDatetimeWithPath(incoming)
	bf := e.bucketFile(e.ownAppID, bucket)
	stored, err := engine.ReadEntriesWithPath(e.logger, bf)
	if err != nil {
		return err
	}
	survivors, newStored := engine.MergeSurvivorsWithPath(stored, deduped)
	if len(survivors) == 0 {
		return nil
	}
	if err := engine.WriteEntriesWithPath(bf, newStored); err != nil {
		return err
	}
	return e.bumpOwnSequence(bucket)
}

func (e *Engine) bumpOwnSequence(bucket string) error {
	seqs, err := readSequences(e.sequencesFile(e.ownAppID))
	if err != nil {
		return err
	}
	seqs[bucket]++
	return writeSequences(e.sequencesFile(e.ownAppID), seqs)
}

// ExecuteAllNewEntries implements §4.F's read path: for every peer whose
// recorded sequences differ from our local record, read and merge the
// changed buckets.
func (e *Engine) ExecuteAllNewEntries(extra decmodel.Extra, deliver decmodel.DeliverFunc) error {
	appsDir := e.root.Child("v2")
	appsDir.Node().ResetCache()
	children, err := appsDir.Node().Children()
	if err != nil {
		return err
	}
	localAll, err := readLocalSequences(e.localSequencesFile())
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
		if err := e.scanPeer(peerAppID, localAll, extra, deliver); err != nil {
			return err
		}
	}
	return writeLocalSequences(e.localSequencesFile(), localAll)
}

func (e *Engine) scanPeer(peerAppID string, localAll map[string]map[string]int, extra decmodel.Extra, deliver decmodel.DeliverFunc) error {
	peerSeqs, err := readSequences(e.sequencesFile(peerAppID))
	if err != nil {
		return err
	}
	localPeer := localAll[peerAppID]
	if localPeer == nil {
		localPeer = map[string]int{}
		localAll[peerAppID] = localPeer
	}
	for bucket, seq := range peerSeqs {
		if localPeer[bucket] == seq {
			continue
		}
		ok, err := e.consumeBucket(peerAppID, bucket, extra, deliver)
		if err != nil {
			return err
		}
		if ok {
			localPeer[bucket] = seq
		}
	}
	return nil
}

// consumeBucket reports whether the bucket's local sequence record may
// advance: true on a clean merge (including "nothing survived"), false on
// a read failure or a listener that reported failure, so the bucket is
// retried on the next pass (mirrors v1's cursor-not-advanced-on-failure
// rule, applied at sequence-number granularity since v2 has no byte
// cursor).
func (e *Engine) consumeBucket(peerAppID, bucket string, extra decmodel.Extra, deliver decmodel.DeliverFunc) (bool, error) {
	peerEntries, err := engine.ReadEntriesWithPath(e.logger, e.bucketFile(peerAppID, bucket))
	if err != nil {
		e.logger.Warn("decsync: read v2 bucket", "appId", peerAppID, "bucket", bucket, "error", err)
		return false, nil
	}
	deduped := decmodel.DedupMaxDatetimeWithPath(peerEntries)

	ownBucketFile := e.bucketFile(e.ownAppID, bucket)
	stored, err := engine.ReadEntriesWithPath(e.logger, ownBucketFile)
	if err != nil {
		e.logger.Warn("decsync: read own v2 bucket", "bucket", bucket, "error", err)
		return false, nil
	}

	survivors, newStored := engine.MergeSurvivorsWithPath(stored, deduped)
	if len(survivors) == 0 {
		return true, nil
	}

	order, byPath := engine.GroupByPath(survivors)
	allOK := true
	for _, path := range order {
		if !deliver(path, byPath[engine.PathKey(path)], extra) {
			allOK = false
		}
	}
	if !allOK {
		return false, nil
	}
	if err := engine.WriteEntriesWithPath(ownBucketFile, newStored); err != nil {
		e.logger.Warn("decsync: write own v2 bucket", "bucket", bucket, "error", err)
		return false, nil
	}
	return true, nil
}

// ExecuteStoredEntriesForPathExact reads the single bucket path hashes to
// and filters its entries to an exact path match.
func (e *Engine) ExecuteStoredEntriesForPathExact(path []string, keys []json.RawMessage, extra decmodel.Extra, deliver decmodel.DeliverFunc) error {
	bucket := Bucket(path)
	entries, err := engine.ReadEntriesWithPath(e.logger, e.bucketFile(e.ownAppID, bucket))
	if err != nil {
		return err
	}
	wantKey := engine.PathKey(path)
	var matching []decmodel.Entry
	for _, en := range entries {
		if engine.PathKey(en.Path) == wantKey {
			matching = append(matching, en.Entry)
		}
	}
	filtered := engine.FilterByKeys(decmodel.DedupMaxDatetime(matching), keys)
	if len(filtered) > 0 {
		deliver(path, filtered, extra)
	}
	return nil
}

// ExecuteStoredEntriesForPathPrefix scans every own bucket, since a
// prefix's children can hash to any of them, and delivers every path
// whose segments extend prefix.
func (e *Engine) ExecuteStoredEntriesForPathPrefix(prefix []string, keys []json.RawMessage, extra decmodel.Extra, deliver decmodel.DeliverFunc) error {
	appDir := e.appDir(e.ownAppID)
	children, err := appDir.Node().Children()
	if err != nil {
		return err
	}
	order, byPath := e.collectOwnEntriesUnderPrefix(appDir, children, prefix)
	for _, path := range order {
		filtered := engine.FilterByKeys(decmodel.DedupMaxDatetime(byPath[engine.PathKey(path)]), keys)
		if len(filtered) > 0 {
			deliver(path, filtered, extra)
		}
	}
	return nil
}

func (e *Engine) collectOwnEntriesUnderPrefix(appDir *decsyncfile.DecsyncFile, children []nativefile.Node, prefix []string) (order [][]string, byPath map[string][]decmodel.Entry) {
	byPath = make(map[string][]decmodel.Entry)
	seen := make(map[string]bool)
	for _, child := range children {
		name := child.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		bucket, ok := urlcodec.Decode(name)
		if !ok || bucket == sequencesFileName {
			continue
		}
		entries, err := engine.ReadEntriesWithPath(e.logger, appDir.Child(bucket))
		if err != nil {
			e.logger.Warn("decsync: read v2 bucket", "bucket", bucket, "error", err)
			continue
		}
		for _, en := range entries {
			if !hasPrefix(en.Path, prefix) {
				continue
			}
			k := engine.PathKey(en.Path)
			if !seen[k] {
				seen[k] = true
				order = append(order, en.Path)
			}
			byPath[k] = append(byPath[k], en.Entry)
		}
	}
	return order, byPath
}

// LatestAppID implements §4.F's latestAppId: the max datetime across every
// entry in every bucket of every appId, ties broken in favour of
// ownAppID.
func (e *Engine) LatestAppID() (string, error) {
	appsDir := e.root.Child("v2")
	children, err := appsDir.Node().Children()
	if err != nil {
		return e.ownAppID, err
	}
	type candidate struct{ appID, datetime string }
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
		appDir := e.appDir(appID)
		bucketNodes, err := appDir.Node().Children()
		if err != nil {
			continue
		}
		for _, bn := range bucketNodes {
			bname := bn.Name()
			if strings.HasPrefix(bname, ".") {
				continue
			}
			bucket, ok := urlcodec.Decode(bname)
			if !ok || bucket == sequencesFileName {
				continue
			}
			entries, err := engine.ReadEntriesWithPath(e.logger, appDir.Child(bucket))
			if err != nil {
				continue
			}
			for _, en := range entries {
				c := candidate{appID: appID, datetime: en.Datetime}
				switch {
				case !have:
					best, have = c, true
				case c.datetime > best.datetime:
					best = c
				case c.datetime == best.datetime && c.appID == e.ownAppID:
					best = c
				}
			}
		}
	}
	if !have {
		return e.ownAppID, nil
	}
	return best.appID, nil
}

func hasPrefix(path, prefix []string) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i, seg := range prefix {
		if path[i] != seg {
			return false
		}
	}
	return true
}

func readSequences(f *decsyncfile.DecsyncFile) (map[string]int, error) {
	text, err := f.ReadText()
	if err != nil {
		return nil, err
	}
	if text == "" {
		return map[string]int{}, nil
	}
	var m map[string]int
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		// Corrupt sequences is treated as empty, forcing a full re-read of
		// every bucket on the next pass (§7).
		return map[string]int{}, nil
	}
	return m, nil
}

func writeSequences(f *decsyncfile.DecsyncFile, m map[string]int) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return f.WriteText(string(data), false)
}

func readLocalSequences(f *decsyncfile.DecsyncFile) (map[string]map[string]int, error) {
	text, err := f.ReadText()
	if err != nil {
		return nil, err
	}
	if text == "" {
		return map[string]map[string]int{}, nil
	}
	var m map[string]map[string]int
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return map[string]map[string]int{}, nil
	}
	return m, nil
}

func writeLocalSequences(f *decsyncfile.DecsyncFile, m map[string]map[string]int) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return f.WriteText(string(data), false)
}
