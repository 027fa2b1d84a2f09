package decsync

import (
	"github.com/decsync/go-decsync/internal/appid"
	"github.com/decsync/go-decsync/internal/decmodel"
)

// Entry is an immutable (datetime, key, value) triple, the unit of data
// DecSync replicates.
type Entry = decmodel.Entry

// EntryWithPath pairs an Entry with the path of the map it belongs to.
type EntryWithPath = decmodel.EntryWithPath

// StoredEntry identifies an entry without its value: (path, key).
type StoredEntry = decmodel.StoredEntry

// AppData summarizes one peer app, as returned by GetActiveApps.
type AppData = decmodel.AppData

// Extra carries caller userdata through to listeners along with the
// replay/live distinction.
type Extra = decmodel.Extra

// NewEntry builds an Entry from already-serialized key/value JSON.
var NewEntry = decmodel.NewEntry

// NewEntryWithPath builds an EntryWithPath.
var NewEntryWithPath = decmodel.NewEntryWithPath

// NoExtra marks a replay call (InitStoredEntries and the
// ExecuteStoredEntries* family).
var NoExtra = decmodel.NoExtra

// WithExtra marks a live delivery call carrying caller userdata.
var WithExtra = decmodel.WithExtra

// Listener is the callback shape AddListener registers: it receives the
// full path, the batch of entries delivered at that path, and the extra
// marker, and reports whether delivery succeeded (false retries the
// underlying file on the next ExecuteAllNewEntries pass).
type Listener func(path []string, entries []Entry, extra Extra) bool

// AppID builds a default appId for appName, suffixed with a random UUID.
var AppID = appid.AppID

// AppIDWithID is AppID with a caller-supplied numeric disambiguator instead
// of a random suffix.
var AppIDWithID = appid.AppIDWithID
