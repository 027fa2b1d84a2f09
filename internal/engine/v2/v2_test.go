package v2

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decsync/go-decsync/internal/decmodel"
	"github.com/decsync/go-decsync/internal/decsyncfile"
	"github.com/decsync/go-decsync/internal/nativefile"
)

func entry(datetime, key, value string) decmodel.Entry {
	return decmodel.NewEntry(datetime, json.RawMessage(key), json.RawMessage(value))
}

type recorded struct {
	path    []string
	entries []decmodel.Entry
}

func collectingDeliver(out *[]recorded) decmodel.DeliverFunc {
	return func(path []string, entries []decmodel.Entry, extra decmodel.Extra) bool {
		*out = append(*out, recorded{path: path, entries: entries})
		return true
	}
}

func newEngine(subdir *decsyncfile.DecsyncFile, ownAppID string) *Engine {
	return New(subdir, nativefile.NewMemRoot(), ownAppID, nil)
}

func TestBucketPinsInfoPath(t *testing.T) {
	assert.Equal(t, "info", Bucket([]string{"info"}))
}

func TestBucketIsDeterministicAndTwoHexChars(t *testing.T) {
	b1 := Bucket([]string{"contacts", "abc"})
	b2 := Bucket([]string{"contacts", "abc"})
	assert.Equal(t, b1, b2)
	assert.Len(t, b1, 2)
}

func TestSetEntriesForPathWritesBucketAndSequence(t *testing.T) {
	root := decsyncfile.New(nativefile.NewMemRoot())
	e := newEngine(root, "own")

	require.NoError(t, e.SetEntriesForPath([]string{"p"}, []decmodel.Entry{entry("2020-01-01T00:00:00", `"k"`, `"v"`)}))

	bucket := Bucket([]string{"p"})
	kind, err := root.Child("v2", "own", bucket).Node().Kind()
	require.NoError(t, err)
	assert.Equal(t, nativefile.KindFile, kind)

	seqText, err := root.Child("v2", "own", "sequences").ReadText()
	require.NoError(t, err)
	assert.Equal(t, `{"`+bucket+`":1}`, seqText)
}

func TestSetEntriesForPathDropsNonNovelWrite(t *testing.T) {
	root := decsyncfile.New(nativefile.NewMemRoot())
	e := newEngine(root, "own")
	require.NoError(t, e.SetEntriesForPath([]string{"p"}, []decmodel.Entry{entry("2020-01-01T00:00:00", `"k"`, `"v"`)}))

	seqBefore, err := root.Child("v2", "own", "sequences").ReadText()
	require.NoError(t, err)

	require.NoError(t, e.SetEntriesForPath([]string{"p"}, []decmodel.Entry{entry("2020-01-01T00:00:00", `"k"`, `"v"`)}))

	seqAfter, err := root.Child("v2", "own", "sequences").ReadText()
	require.NoError(t, err)
	assert.Equal(t, seqBefore, seqAfter)
}

func TestExecuteAllNewEntriesDeliversPeerWrite(t *testing.T) {
	root := decsyncfile.New(nativefile.NewMemRoot())
	localA := nativefile.NewMemRoot()
	localB := nativefile.NewMemRoot()
	a := New(root, localA, "a", nil)
	b := New(root, localB, "b", nil)

	require.NoError(t, a.SetEntriesForPath([]string{"path", "unicode ☺"}, []decmodel.Entry{entry("2020-08-23T00:00:00", `"k"`, `"v"`)}))

	var delivered []recorded
	require.NoError(t, b.ExecuteAllNewEntries(decmodel.WithExtra("ctx"), collectingDeliver(&delivered)))
	require.Len(t, delivered, 1)
	assert.Equal(t, []string{"path", "unicode ☺"}, delivered[0].path)
	assert.Equal(t, `"v"`, delivered[0].entries[0].ValueString())
}

func TestExecuteAllNewEntriesIsIdempotent(t *testing.T) {
	root := decsyncfile.New(nativefile.NewMemRoot())
	localB := nativefile.NewMemRoot()
	a := New(root, nativefile.NewMemRoot(), "a", nil)
	b := New(root, localB, "b", nil)
	require.NoError(t, a.SetEntriesForPath([]string{"p"}, []decmodel.Entry{entry("2020-01-01T00:00:00", `"k"`, `"v"`)}))

	var first []recorded
	require.NoError(t, b.ExecuteAllNewEntries(decmodel.NoExtra(), collectingDeliver(&first)))
	require.Len(t, first, 1)

	var second []recorded
	require.NoError(t, b.ExecuteAllNewEntries(decmodel.NoExtra(), collectingDeliver(&second)))
	assert.Empty(t, second)
}

func TestExecuteAllNewEntriesConvergesOnLaterDatetime(t *testing.T) {
	root := decsyncfile.New(nativefile.NewMemRoot())
	a := New(root, nativefile.NewMemRoot(), "a", nil)
	b := New(root, nativefile.NewMemRoot(), "b", nil)

	require.NoError(t, a.SetEntriesForPath([]string{"p"}, []decmodel.Entry{entry("2020-08-23T00:00:00", `"k"`, `"a-value"`)}))
	require.NoError(t, b.SetEntriesForPath([]string{"p"}, []decmodel.Entry{entry("2020-08-23T00:00:01", `"k"`, `"b-value"`)}))

	noop := func(path []string, entries []decmodel.Entry, extra decmodel.Extra) bool { return true }
	require.NoError(t, a.ExecuteAllNewEntries(decmodel.NoExtra(), noop))
	require.NoError(t, b.ExecuteAllNewEntries(decmodel.NoExtra(), noop))

	var aFinal, bFinal []recorded
	require.NoError(t, a.ExecuteStoredEntriesForPathExact([]string{"p"}, nil, decmodel.NoExtra(), collectingDeliver(&aFinal)))
	require.NoError(t, b.ExecuteStoredEntriesForPathExact([]string{"p"}, nil, decmodel.NoExtra(), collectingDeliver(&bFinal)))

	require.Len(t, aFinal, 1)
	require.Len(t, bFinal, 1)
	assert.Equal(t, `"b-value"`, aFinal[0].entries[0].ValueString())
	assert.Equal(t, `"b-value"`, bFinal[0].entries[0].ValueString())
}

func TestExecuteAllNewEntriesRetriesOnListenerFailure(t *testing.T) {
	root := decsyncfile.New(nativefile.NewMemRoot())
	a := New(root, nativefile.NewMemRoot(), "a", nil)
	b := New(root, nativefile.NewMemRoot(), "b", nil)
	require.NoError(t, a.SetEntriesForPath([]string{"p"}, []decmodel.Entry{entry("2020-01-01T00:00:00", `"k"`, `"v"`)}))

	failing := func(path []string, entries []decmodel.Entry, extra decmodel.Extra) bool { return false }
	require.NoError(t, b.ExecuteAllNewEntries(decmodel.NoExtra(), failing))

	var delivered []recorded
	require.NoError(t, b.ExecuteAllNewEntries(decmodel.NoExtra(), collectingDeliver(&delivered)))
	assert.Len(t, delivered, 1, "a failed delivery must be retried on the next pass")
}

func TestExecuteStoredEntriesForPathPrefixScansAllBuckets(t *testing.T) {
	root := decsyncfile.New(nativefile.NewMemRoot())
	e := newEngine(root, "own")
	require.NoError(t, e.SetEntriesForPath([]string{"cal", "a"}, []decmodel.Entry{entry("2020-01-01T00:00:00", `"k"`, `"1"`)}))
	require.NoError(t, e.SetEntriesForPath([]string{"cal", "b"}, []decmodel.Entry{entry("2020-01-01T00:00:00", `"k"`, `"2"`)}))

	var delivered []recorded
	require.NoError(t, e.ExecuteStoredEntriesForPathPrefix([]string{"cal"}, nil, decmodel.NoExtra(), collectingDeliver(&delivered)))
	assert.Len(t, delivered, 2)
}

func TestLatestAppIDPicksLargerDatetime(t *testing.T) {
	root := decsyncfile.New(nativefile.NewMemRoot())
	a := New(root, nativefile.NewMemRoot(), "a", nil)
	b := New(root, nativefile.NewMemRoot(), "b", nil)

	require.NoError(t, a.SetEntriesForPath([]string{"p"}, []decmodel.Entry{entry("2020-01-02T00:00:00", `"k"`, `"1"`)}))
	require.NoError(t, b.SetEntriesForPath([]string{"p"}, []decmodel.Entry{entry("2020-01-01T00:00:00", `"k2"`, `"2"`)}))

	latest, err := a.LatestAppID()
	require.NoError(t, err)
	assert.Equal(t, "a", latest)
}
