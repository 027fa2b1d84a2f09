package v1

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decsync/go-decsync/internal/decmodel"
	"github.com/decsync/go-decsync/internal/decsyncfile"
	"github.com/decsync/go-decsync/internal/nativefile"
)

func newTestEngine(t *testing.T, ownAppID string) (*Engine, *decsyncfile.DecsyncFile) {
	t.Helper()
	root := decsyncfile.New(nativefile.NewMemRoot())
	return New(root, ownAppID, nil), root
}

func entry(datetime, key, value string) decmodel.Entry {
	return decmodel.NewEntry(datetime, json.RawMessage(key), json.RawMessage(value))
}

type recorded struct {
	path    []string
	entries []decmodel.Entry
	extra   decmodel.Extra
}

func collectingDeliver(out *[]recorded) decmodel.DeliverFunc {
	return func(path []string, entries []decmodel.Entry, extra decmodel.Extra) bool {
		*out = append(*out, recorded{path: path, entries: entries, extra: extra})
		return true
	}
}

func TestSetEntriesForPathWritesLogAndStoredSnapshot(t *testing.T) {
	e, root := newTestEngine(t, "own")

	err := e.SetEntriesForPath([]string{"p"}, []decmodel.Entry{entry("2020-01-01T00:00:00", `"k"`, `"v"`)})
	require.NoError(t, err)

	storedKind, err := root.Child("stored-entries", "own", "p").Node().Kind()
	require.NoError(t, err)
	assert.Equal(t, nativefile.KindFile, storedKind)

	logKind, err := root.Child("new-entries", "own", "p").Node().Kind()
	require.NoError(t, err)
	assert.Equal(t, nativefile.KindFile, logKind)

	latest, err := root.Child("info", "own", "latest-stored-entry").ReadText()
	require.NoError(t, err)
	assert.Equal(t, "2020-01-01T00:00:00", latest)
}

func TestSetEntriesForPathDropsNonNovelWrite(t *testing.T) {
	e, root := newTestEngine(t, "own")
	require.NoError(t, e.SetEntriesForPath([]string{"p"}, []decmodel.Entry{entry("2020-01-01T00:00:00", `"k"`, `"v"`)}))

	seqBefore, _, err := root.Child("new-entries", "own").ReadSequence()
	require.NoError(t, err)

	require.NoError(t, e.SetEntriesForPath([]string{"p"}, []decmodel.Entry{entry("2020-01-01T00:00:00", `"k"`, `"v"`)}))

	seqAfter, _, err := root.Child("new-entries", "own").ReadSequence()
	require.NoError(t, err)
	assert.Equal(t, seqBefore, seqAfter, "a non-novel write must not bump the sequence or append to the log")
}

func TestExecuteAllNewEntriesDeliversPeerWrite(t *testing.T) {
	root := decsyncfile.New(nativefile.NewMemRoot())
	a := New(root, "a", nil)
	b := New(root, "b", nil)

	require.NoError(t, a.SetEntriesForPath([]string{"path", "unicode ☺"}, []decmodel.Entry{entry("2020-08-23T00:00:00", `"k"`, `"v"`)}))

	var delivered []recorded
	require.NoError(t, b.ExecuteAllNewEntries(decmodel.WithExtra("ctx"), collectingDeliver(&delivered)))

	require.Len(t, delivered, 1)
	assert.Equal(t, []string{"path", "unicode ☺"}, delivered[0].path)
	require.Len(t, delivered[0].entries, 1)
	assert.Equal(t, `"v"`, delivered[0].entries[0].ValueString())
}

func TestExecuteAllNewEntriesIsIdempotent(t *testing.T) {
	root := decsyncfile.New(nativefile.NewMemRoot())
	a := New(root, "a", nil)
	b := New(root, "b", nil)
	require.NoError(t, a.SetEntriesForPath([]string{"p"}, []decmodel.Entry{entry("2020-01-01T00:00:00", `"k"`, `"v"`)}))

	var first []recorded
	require.NoError(t, b.ExecuteAllNewEntries(decmodel.NoExtra(), collectingDeliver(&first)))
	require.Len(t, first, 1)

	var second []recorded
	require.NoError(t, b.ExecuteAllNewEntries(decmodel.NoExtra(), collectingDeliver(&second)))
	assert.Empty(t, second, "second pass with no new writes must deliver nothing")
}

func TestExecuteAllNewEntriesConvergesOnLaterDatetime(t *testing.T) {
	root := decsyncfile.New(nativefile.NewMemRoot())
	a := New(root, "a", nil)
	b := New(root, "b", nil)

	require.NoError(t, a.SetEntriesForPath([]string{"p"}, []decmodel.Entry{entry("2020-08-23T00:00:00", `"k"`, `"a-value"`)}))
	require.NoError(t, b.SetEntriesForPath([]string{"p"}, []decmodel.Entry{entry("2020-08-23T00:00:01", `"k"`, `"b-value"`)}))

	require.NoError(t, a.ExecuteAllNewEntries(decmodel.NoExtra(), func(path []string, entries []decmodel.Entry, extra decmodel.Extra) bool { return true }))
	require.NoError(t, b.ExecuteAllNewEntries(decmodel.NoExtra(), func(path []string, entries []decmodel.Entry, extra decmodel.Extra) bool { return true }))

	var aFinal, bFinal []recorded
	require.NoError(t, a.ExecuteStoredEntriesForPathExact([]string{"p"}, nil, decmodel.NoExtra(), collectingDeliver(&aFinal)))
	require.NoError(t, b.ExecuteStoredEntriesForPathExact([]string{"p"}, nil, decmodel.NoExtra(), collectingDeliver(&bFinal)))

	require.Len(t, aFinal, 1)
	require.Len(t, bFinal, 1)
	assert.Equal(t, `"b-value"`, aFinal[0].entries[0].ValueString())
	assert.Equal(t, `"b-value"`, bFinal[0].entries[0].ValueString())
}

func TestExecuteAllNewEntriesCursorNotAdvancedOnListenerFailure(t *testing.T) {
	root := decsyncfile.New(nativefile.NewMemRoot())
	a := New(root, "a", nil)
	b := New(root, "b", nil)
	require.NoError(t, a.SetEntriesForPath([]string{"p"}, []decmodel.Entry{entry("2020-01-01T00:00:00", `"k"`, `"v"`)}))

	failing := func(path []string, entries []decmodel.Entry, extra decmodel.Extra) bool { return false }
	require.NoError(t, b.ExecuteAllNewEntries(decmodel.NoExtra(), failing))

	cursor, err := root.Child("read-bytes", "b", "a", "p").ReadText()
	require.NoError(t, err)
	assert.Equal(t, "", cursor, "a failed delivery must leave the cursor untouched")

	var delivered []recorded
	require.NoError(t, b.ExecuteAllNewEntries(decmodel.NoExtra(), collectingDeliver(&delivered)))
	assert.Len(t, delivered, 1, "the undelivered entry must be retried")
}

func TestExecuteStoredEntriesForPathPrefixWalksSubtree(t *testing.T) {
	e, _ := newTestEngine(t, "own")
	require.NoError(t, e.SetEntriesForPath([]string{"cal", "a"}, []decmodel.Entry{entry("2020-01-01T00:00:00", `"k"`, `"1"`)}))
	require.NoError(t, e.SetEntriesForPath([]string{"cal", "b"}, []decmodel.Entry{entry("2020-01-01T00:00:00", `"k"`, `"2"`)}))

	var delivered []recorded
	require.NoError(t, e.ExecuteStoredEntriesForPathPrefix([]string{"cal"}, nil, decmodel.NoExtra(), collectingDeliver(&delivered)))
	assert.Len(t, delivered, 2)
}

func TestLatestAppIDTieBreaksToOwn(t *testing.T) {
	root := decsyncfile.New(nativefile.NewMemRoot())
	a := New(root, "a", nil)
	b := New(root, "b", nil)

	require.NoError(t, a.SetEntriesForPath([]string{"p"}, []decmodel.Entry{entry("2020-01-01T00:00:00", `"k"`, `"1"`)}))
	require.NoError(t, b.SetEntriesForPath([]string{"p"}, []decmodel.Entry{entry("2020-01-01T00:00:00", `"k2"`, `"2"`)}))

	latest, err := b.LatestAppID()
	require.NoError(t, err)
	assert.Equal(t, "b", latest)
}

func TestLatestAppIDPicksLargerDatetime(t *testing.T) {
	root := decsyncfile.New(nativefile.NewMemRoot())
	a := New(root, "a", nil)
	b := New(root, "b", nil)

	require.NoError(t, a.SetEntriesForPath([]string{"p"}, []decmodel.Entry{entry("2020-01-02T00:00:00", `"k"`, `"1"`)}))
	require.NoError(t, b.SetEntriesForPath([]string{"p"}, []decmodel.Entry{entry("2020-01-01T00:00:00", `"k2"`, `"2"`)}))

	latest, err := a.LatestAppID()
	require.NoError(t, err)
	assert.Equal(t, "a", latest)
}
