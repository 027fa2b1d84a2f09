// Package decsync implements component G, the dispatcher that callers use
// directly: it selects the active on-disk engine (v1 or v2), owns listener
// registration and matching, and runs the maintenance and upgrade
// procedures described in §4.G.
package decsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/decsync/go-decsync/internal/config"
	"github.com/decsync/go-decsync/internal/decmodel"
	"github.com/decsync/go-decsync/internal/decsyncfile"
	"github.com/decsync/go-decsync/internal/engine"
	v1engine "github.com/decsync/go-decsync/internal/engine/v1"
	v2engine "github.com/decsync/go-decsync/internal/engine/v2"
	"github.com/decsync/go-decsync/internal/localcache"
	"github.com/decsync/go-decsync/internal/nativefile"
	"github.com/decsync/go-decsync/internal/urlcodec"
)

// dateLayout is the date-only prefix of the ISO-8601 datetime format
// entries use, shared by the last-active heartbeat.
const dateLayout = "2006-01-02"

const datetimeLayout = "2006-01-02T15:04:05"

// Option customizes a Decsync instance at construction.
type Option func(*Decsync)

// WithLogger injects a structured logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Decsync) { d.logger = logger }
}

// WithLocalDir overrides where the per-instance local info and v2 peer
// sequence bookkeeping live. The default is
// decsyncDir/syncType[/collection]/local/ownAppId.
func WithLocalDir(localDir nativefile.Node) Option {
	return func(d *Decsync) { d.localDir = localDir }
}

// WithClock overrides the current-datetime collaborator, formatted as
// "YYYY-MM-DDThh:mm:ss". Tests supply a fixed clock for determinism.
func WithClock(clock func() string) Option {
	return func(d *Decsync) { d.clock = clock }
}

func defaultClock() string {
	return time.Now().Format(datetimeLayout)
}

type registeredListener struct {
	subpath  []string
	callback Listener
}

// Decsync is one synchronization instance: one (decsyncDir, syncType,
// collection, ownAppId) scope. Callers MUST serialize calls against a given
// instance (§5); the type itself does no internal locking.
type Decsync struct {
	decsyncDir nativefile.Node
	subdir     *decsyncfile.DecsyncFile
	localDir   nativefile.Node
	syncType   string
	collection string
	ownAppID   string
	clock      func() string
	logger     *slog.Logger

	version   int
	eng       engine.Engine
	localInfo *config.LocalInfo

	listeners []registeredListener
	isInInit  bool
}

// New constructs a Decsync instance, selecting the active engine per §4.G's
// version-selection procedure. It can fail with *InvalidInfoError,
// *UnsupportedVersionError, or an I/O error; on any error the instance is
// not created.
func New(decsyncDir nativefile.Node, syncType, collection, ownAppID string, opts ...Option) (*Decsync, error) {
	subdir := decsyncfile.New(decsyncDir).Child(subdirSegments(syncType, collection)...)

	d := &Decsync{
		decsyncDir: decsyncDir,
		subdir:     subdir,
		syncType:   syncType,
		collection: collection,
		ownAppID:   ownAppID,
		clock:      defaultClock,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.localDir == nil {
		d.localDir = subdir.Child("local", ownAppID).Node()
	}

	info, found, err := config.ReadLocalInfo(d.localDir)
	if err != nil {
		return nil, err
	}
	if !found {
		version, err := d.detectVersion()
		if err != nil {
			return nil, err
		}
		info = &config.LocalInfo{Version: version}
		if err := config.WriteLocalInfo(d.localDir, info); err != nil {
			return nil, err
		}
	}
	d.localInfo = info
	d.version = info.Version
	d.eng = d.newEngine(d.version)
	return d, nil
}

func subdirSegments(syncType, collection string) []string {
	if collection == "" {
		return []string{syncType}
	}
	return []string{syncType, collection}
}

// detectVersion implements §4.G step 2: on-disk evidence, falling back to
// .decsync-info.
func (d *Decsync) detectVersion() (int, error) {
	kind, err := d.subdir.Child("v2").Node().Kind()
	if err != nil {
		return 0, err
	}
	if kind == nativefile.KindDirectory {
		return 2, nil
	}
	kind, err = d.subdir.Child("stored-entries", d.ownAppID).Node().Kind()
	if err != nil {
		return 0, err
	}
	if kind == nativefile.KindDirectory {
		return 1, nil
	}
	diskInfo, err := config.ReadOrCreateDecsyncInfo(d.decsyncDir)
	if err != nil {
		return 0, err
	}
	return diskInfo.Version, nil
}

func (d *Decsync) newEngine(version int) engine.Engine {
	if version == 2 {
		return v2engine.New(d.subdir, d.localDir, d.ownAppID, d.logger)
	}
	return v1engine.New(d.subdir, d.ownAppID, d.logger)
}

// AddListener registers callback for every path that has subpath as a
// prefix. The first registered matching listener wins (§4.G listener
// matching); subpath is stripped from the delivered path unless the active
// engine is v2, which always delivers the full path.
func (d *Decsync) AddListener(subpath []string, callback Listener) {
	d.listeners = append(d.listeners, registeredListener{
		subpath:  append([]string(nil), subpath...),
		callback: callback,
	})
}

func isPathPrefix(prefix, path []string) bool {
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

func (d *Decsync) matchListener(path []string) (Listener, []string, bool) {
	for _, rl := range d.listeners {
		if !isPathPrefix(rl.subpath, path) {
			continue
		}
		delivered := path
		if d.version != 2 {
			delivered = path[len(rl.subpath):]
		}
		return rl.callback, delivered, true
	}
	return nil, nil, false
}

func isHeartbeatKey(key string) bool {
	return strings.HasPrefix(key, "last-active-") || strings.HasPrefix(key, "supported-version-")
}

func decodeStringKey(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func filterHeartbeatEntries(path []string, entries []decmodel.Entry) []decmodel.Entry {
	if len(path) != 1 || path[0] != "info" {
		return entries
	}
	out := make([]decmodel.Entry, 0, len(entries))
	for _, e := range entries {
		if keyStr, ok := decodeStringKey(e.Key); ok && isHeartbeatKey(keyStr) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// deliver is the decmodel.DeliverFunc every engine call is driven with: it
// filters heartbeat-only info entries, finds the matching listener, and
// reports success (no matching listener is not a failure).
func (d *Decsync) deliver(path []string, entries []decmodel.Entry, extra decmodel.Extra) bool {
	filtered := filterHeartbeatEntries(path, entries)
	if len(filtered) == 0 {
		return true
	}
	if d.isInInit {
		extra = decmodel.NoExtra()
	}
	listener, delivered, ok := d.matchListener(path)
	if !ok {
		return true
	}
	return listener(delivered, filtered, extra)
}

// SetEntry publishes a single entry at path, stamped with the current
// datetime.
func (d *Decsync) SetEntry(path []string, key, value json.RawMessage) error {
	return d.SetEntriesForPath(path, []decmodel.Entry{decmodel.NewEntry(d.clock(), key, value)})
}

// SetEntriesForPath publishes a batch of already-timestamped entries
// sharing path.
func (d *Decsync) SetEntriesForPath(path []string, entries []decmodel.Entry) error {
	return d.eng.SetEntriesForPath(path, entries)
}

// SetEntries publishes a batch of already-timestamped entries spanning
// multiple paths.
func (d *Decsync) SetEntries(entries []decmodel.EntryWithPath) error {
	return d.eng.SetEntries(entries)
}

// ExecuteAllNewEntries scans every peer's new-entries for changes, delivers
// them to matching listeners, and unless disableMaintenance is set, runs
// the maintenance routine afterward (§4.G).
func (d *Decsync) ExecuteAllNewEntries(extra any, disableMaintenance bool) error {
	if err := d.eng.ExecuteAllNewEntries(decmodel.WithExtra(extra), d.deliver); err != nil {
		return err
	}
	if disableMaintenance {
		return nil
	}
	return d.runMaintenance()
}

// ExecuteStoredEntry replays the own stored value for a single (path, key).
func (d *Decsync) ExecuteStoredEntry(path []string, key json.RawMessage, extra any) error {
	return d.ExecuteStoredEntriesForPathExact(path, []json.RawMessage{key}, extra)
}

// ExecuteStoredEntries replays the own stored values for a batch of
// (path, key) identities, grouped internally by path.
func (d *Decsync) ExecuteStoredEntries(storedEntries []decmodel.StoredEntry, extra any) error {
	order, byPath := groupStoredEntriesByPath(storedEntries)
	for _, path := range order {
		if err := d.ExecuteStoredEntriesForPathExact(path, byPath[engine.PathKey(path)], extra); err != nil {
			return err
		}
	}
	return nil
}

func groupStoredEntriesByPath(entries []decmodel.StoredEntry) (order [][]string, byPath map[string][]json.RawMessage) {
	byPath = make(map[string][]json.RawMessage)
	seen := make(map[string]bool)
	for _, e := range entries {
		k := engine.PathKey(e.Path)
		if !seen[k] {
			seen[k] = true
			order = append(order, e.Path)
		}
		byPath[k] = append(byPath[k], e.Key)
	}
	return order, byPath
}

// ExecuteStoredEntriesForPathExact replays the own stored snapshot at
// exactly path. A nil keys means "all keys".
func (d *Decsync) ExecuteStoredEntriesForPathExact(path []string, keys []json.RawMessage, extra any) error {
	return d.eng.ExecuteStoredEntriesForPathExact(path, keys, decmodel.WithExtra(extra), d.deliver)
}

// ExecuteStoredEntriesForPathPrefix replays every own stored entry whose
// path has prefix as a prefix. A nil keys means "all keys".
func (d *Decsync) ExecuteStoredEntriesForPathPrefix(prefix []string, keys []json.RawMessage, extra any) error {
	return d.eng.ExecuteStoredEntriesForPathPrefix(prefix, keys, decmodel.WithExtra(extra), d.deliver)
}

// InitStoredEntries replays the entire own stored snapshot with the replay
// (NoExtra) marker, for a fresh install to materialize current state.
func (d *Decsync) InitStoredEntries() error {
	d.isInInit = true
	defer func() { d.isInInit = false }()
	return d.eng.ExecuteStoredEntriesForPathPrefix(nil, nil, decmodel.NoExtra(), d.deliver)
}

// LatestAppID reports the appId with the most recent activity, ties broken
// in favour of this instance's own appId.
func (d *Decsync) LatestAppID() (string, error) {
	return d.eng.LatestAppID()
}

func (d *Decsync) today() string {
	return d.clock()[:len(dateLayout)]
}

func jsonString(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}

func jsonInt(n int) json.RawMessage {
	data, _ := json.Marshal(n)
	return data
}

// runMaintenance implements §4.G's maintenance routine: upgrade if the
// on-disk version has moved ahead, then publish the liveness and
// supported-version heartbeats if they are stale.
func (d *Decsync) runMaintenance() error {
	diskInfo, err := config.ReadOrCreateDecsyncInfo(d.decsyncDir)
	if err != nil {
		return err
	}
	if diskInfo.Version > d.version {
		if err := d.upgrade(diskInfo.Version); err != nil {
			return err
		}
		if err := d.eng.ExecuteAllNewEntries(decmodel.NoExtra(), d.deliver); err != nil {
			return err
		}
	}

	today := d.today()
	if today > d.localInfo.LastActive {
		d.localInfo.LastActive = today
		if err := config.WriteLocalInfo(d.localDir, d.localInfo); err != nil {
			return err
		}
		if err := d.SetEntry([]string{"info"}, jsonString("last-active-"+d.ownAppID), jsonString(today)); err != nil {
			return err
		}
	}

	if config.SupportedVersion > d.localInfo.SupportedVersion {
		d.localInfo.SupportedVersion = config.SupportedVersion
		if err := config.WriteLocalInfo(d.localDir, d.localInfo); err != nil {
			return err
		}
		if err := d.SetEntry([]string{"info"}, jsonString("supported-version-"+d.ownAppID), jsonInt(config.SupportedVersion)); err != nil {
			return err
		}
	}
	return nil
}

// upgrade implements §4.G's v1→v2 upgrade: replay the full v1 snapshot,
// hand it to a fresh v2 engine in one call, and asynchronously clean up the
// v1 own subdirectories.
func (d *Decsync) upgrade(newVersion int) error {
	if d.version != 1 || newVersion != 2 {
		return fmt.Errorf("decsync: unsupported upgrade from version %d to %d", d.version, newVersion)
	}

	oldEngine := v1engine.New(d.subdir, d.ownAppID, d.logger)
	var collected []decmodel.EntryWithPath
	collect := func(path []string, entries []decmodel.Entry, extra decmodel.Extra) bool {
		for _, e := range entries {
			collected = append(collected, decmodel.NewEntryWithPath(path, e))
		}
		return true
	}
	if err := oldEngine.ExecuteStoredEntriesForPathPrefix(nil, nil, decmodel.NoExtra(), collect); err != nil {
		return err
	}

	newEngine := v2engine.New(d.subdir, d.localDir, d.ownAppID, d.logger)
	if err := newEngine.SetEntries(collected); err != nil {
		return err
	}

	d.eng = newEngine
	d.version = 2
	d.localInfo.Version = 2
	if err := config.WriteLocalInfo(d.localDir, d.localInfo); err != nil {
		return err
	}

	go d.cleanupV1Own()
	return nil
}

func (d *Decsync) cleanupV1Own() {
	for _, segment := range []string{"info", "new-entries", "read-bytes", "stored-entries"} {
		if err := d.subdir.Child(segment, d.ownAppID).Node().DeleteRecursive(); err != nil {
			d.logger.Warn("decsync: v1->v2 upgrade cleanup", "segment", segment, "error", err)
		}
	}
}

// CheckDecsyncInfo validates decsyncDir/.decsync-info, creating it with the
// default {"version":1} if it does not yet exist.
func CheckDecsyncInfo(decsyncDir nativefile.Node) error {
	return config.CheckDecsyncInfo(decsyncDir)
}

// staticConfig holds options shared by the package-level static functions.
type staticConfig struct {
	cache *localcache.Cache
}

// StaticOption customizes GetStaticInfo/ListCollections.
type StaticOption func(*staticConfig)

// WithCache wires a localcache.Cache into GetStaticInfo/ListCollections,
// trading a possibly-stale read for avoiding a full tree scan. The cache is
// never authoritative; a miss always falls back to scanning disk.
func WithCache(cache *localcache.Cache) StaticOption {
	return func(sc *staticConfig) { sc.cache = cache }
}

func subdirFor(decsyncDir nativefile.Node, syncType, collection string) *decsyncfile.DecsyncFile {
	return decsyncfile.New(decsyncDir).Child(subdirSegments(syncType, collection)...)
}

func staticVersion(decsyncDir nativefile.Node, subdir *decsyncfile.DecsyncFile) (int, error) {
	kind, err := subdir.Child("v2").Node().Kind()
	if err != nil {
		return 0, err
	}
	if kind == nativefile.KindDirectory {
		return 2, nil
	}
	info, err := config.ReadOrCreateDecsyncInfo(decsyncDir)
	if err != nil {
		return 0, err
	}
	return info.Version, nil
}

// collectInfoEntriesByApp scans every appId's ["info"] entries directly off
// disk, bypassing any single instance's "own" perspective, since static
// info is the merge of every app's writes.
func collectInfoEntriesByApp(subdir *decsyncfile.DecsyncFile, version int) (map[string][]decmodel.Entry, error) {
	logger := slog.Default()
	out := make(map[string][]decmodel.Entry)

	if version == 2 {
		v2Dir := subdir.Child("v2")
		children, err := v2Dir.Node().Children()
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			name := child.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}
			appID, ok := urlcodec.Decode(name)
			if !ok {
				continue
			}
			entries, err := engine.ReadEntriesWithPath(logger, v2Dir.Child(appID).Child("info"))
			if err != nil {
				continue
			}
			for _, e := range entries {
				if len(e.Path) == 1 && e.Path[0] == "info" {
					out[appID] = append(out[appID], e.Entry)
				}
			}
		}
		return out, nil
	}

	storedDir := subdir.Child("stored-entries")
	children, err := storedDir.Node().Children()
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		name := child.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		appID, ok := urlcodec.Decode(name)
		if !ok {
			continue
		}
		entries, err := engine.ReadEntries(logger, storedDir.Child(appID).Child("info"))
		if err != nil {
			continue
		}
		if len(entries) > 0 {
			out[appID] = entries
		}
	}
	return out, nil
}

// GetStaticInfo returns the merged ["info"] key/value map across every app
// that has written to the collection, with the internal heartbeat keys
// filtered out.
func GetStaticInfo(decsyncDir nativefile.Node, syncType, collection string, opts ...StaticOption) (map[string]json.RawMessage, error) {
	cfg := &staticConfig{}
	for _, o := range opts {
		o(cfg)
	}
	collectionKey := syncType + "/" + collection
	ctx := context.Background()

	if cfg.cache != nil {
		if cached, found, err := cfg.cache.StaticInfo(ctx, collectionKey); err == nil && found {
			result := make(map[string]json.RawMessage, len(cached))
			for k, v := range cached {
				result[k] = json.RawMessage(v)
			}
			return result, nil
		}
	}

	subdir := subdirFor(decsyncDir, syncType, collection)
	version, err := staticVersion(decsyncDir, subdir)
	if err != nil {
		return nil, err
	}
	byApp, err := collectInfoEntriesByApp(subdir, version)
	if err != nil {
		return nil, err
	}
	var all []decmodel.Entry
	for _, entries := range byApp {
		all = append(all, entries...)
	}
	deduped := decmodel.DedupMaxDatetime(all)

	result := make(map[string]json.RawMessage)
	for _, e := range deduped {
		keyStr, ok := decodeStringKey(e.Key)
		if !ok {
			keyStr = e.KeyString()
		} else if isHeartbeatKey(keyStr) {
			continue
		}
		result[keyStr] = e.Value
	}

	if cfg.cache != nil {
		cacheable := make(map[string]string, len(result))
		for k, v := range result {
			cacheable[k] = string(v)
		}
		_ = cfg.cache.PutStaticInfo(ctx, collectionKey, cacheable)
	}
	return result, nil
}

// ListCollections enumerates the collection names that exist under
// decsyncDir/syncType.
func ListCollections(decsyncDir nativefile.Node, syncType string, opts ...StaticOption) ([]string, error) {
	cfg := &staticConfig{}
	for _, o := range opts {
		o(cfg)
	}
	ctx := context.Background()

	if cfg.cache != nil {
		if cached, found, err := cfg.cache.Collections(ctx, syncType); err == nil && found {
			return cached, nil
		}
	}

	base := decsyncfile.New(decsyncDir).Child(syncType)
	children, err := base.Node().Children()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, child := range children {
		name := child.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		decoded, ok := urlcodec.Decode(name)
		if !ok {
			continue
		}
		kind, err := child.Kind()
		if err != nil {
			return nil, err
		}
		if kind == nativefile.KindDirectory {
			names = append(names, decoded)
		}
	}
	sort.Strings(names)

	if cfg.cache != nil {
		_ = cfg.cache.PutCollections(ctx, syncType, names)
	}
	return names, nil
}

// GetActiveApps reports the active on-disk version and one AppData per app
// that has written ["info"] entries under the collection.
func GetActiveApps(decsyncDir nativefile.Node, syncType, collection string) (int, []decmodel.AppData, error) {
	subdir := subdirFor(decsyncDir, syncType, collection)
	version, err := staticVersion(decsyncDir, subdir)
	if err != nil {
		return 0, nil, err
	}
	byApp, err := collectInfoEntriesByApp(subdir, version)
	if err != nil {
		return 0, nil, err
	}

	apps := make([]decmodel.AppData, 0, len(byApp))
	for appID, entries := range byApp {
		deduped := decmodel.DedupMaxDatetime(entries)
		data := decmodel.AppData{AppID: appID, Version: version}
		wantKey := "last-active-" + appID
		for _, e := range deduped {
			keyStr, ok := decodeStringKey(e.Key)
			if !ok || keyStr != wantKey {
				continue
			}
			var lastActive string
			if err := json.Unmarshal(e.Value, &lastActive); err == nil {
				data.LastActive = lastActive
			}
		}
		apps = append(apps, data)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].AppID < apps[j].AppID })
	return version, apps, nil
}
