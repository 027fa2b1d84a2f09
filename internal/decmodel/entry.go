// Package decmodel holds the wire-level data types shared by the v1 and v2
// engines and the dispatcher. It exists separately from the root package so
// that the engine subpackages can depend on the data model without creating
// an import cycle back through the dispatcher.
package decmodel

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Entry is an immutable (datetime, key, value) triple. Key and Value are
// kept as raw JSON so the engine never needs to know the shape of the data
// it is replicating.
type Entry struct {
	Datetime string          `json:"-"`
	Key      json.RawMessage `json:"-"`
	Value    json.RawMessage `json:"-"`
}

// NewEntry builds an Entry from already-serialized key/value JSON.
func NewEntry(datetime string, key, value json.RawMessage) Entry {
	return Entry{Datetime: datetime, Key: key, Value: value}
}

// MarshalJSON renders an Entry as the three-element array the on-disk
// format requires: [datetime, key, value].
func (e Entry) MarshalJSON() ([]byte, error) {
	key := e.Key
	if key == nil {
		key = json.RawMessage("null")
	}
	value := e.Value
	if value == nil {
		value = json.RawMessage("null")
	}
	dt, err := json.Marshal(e.Datetime)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	buf.Write(dt)
	buf.WriteByte(',')
	buf.Write(key)
	buf.WriteByte(',')
	buf.Write(value)
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON parses the three-element array form. Lines that do not
// decode to exactly three elements are rejected so callers can treat the
// whole line as malformed and skip it.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 3 {
		return fmt.Errorf("decmodel: entry must have 3 elements, got %d", len(raw))
	}
	var datetime string
	if err := json.Unmarshal(raw[0], &datetime); err != nil {
		return fmt.Errorf("decmodel: entry datetime: %w", err)
	}
	e.Datetime = datetime
	e.Key = raw[1]
	e.Value = raw[2]
	return nil
}

// KeyString renders Key as a comparable string, used to group entries by
// identity during dedup passes.
func (e Entry) KeyString() string {
	return string(e.Key)
}

// ValueString renders Value as a comparable string, used as the
// deterministic tiebreak when two entries share a datetime.
func (e Entry) ValueString() string {
	return string(e.Value)
}

// EntryWithPath pairs an Entry with the path of the map it belongs to.
type EntryWithPath struct {
	Path []string
	Entry
}

// NewEntryWithPath builds an EntryWithPath.
func NewEntryWithPath(path []string, entry Entry) EntryWithPath {
	return EntryWithPath{Path: append([]string(nil), path...), Entry: entry}
}

// MarshalJSON renders the four-element array form:
// [[path...], datetime, key, value].
func (e EntryWithPath) MarshalJSON() ([]byte, error) {
	path, err := json.Marshal(e.Path)
	if err != nil {
		return nil, err
	}
	entry, err := e.Entry.MarshalJSON()
	if err != nil {
		return nil, err
	}
	// entry is "[dt,key,value]"; splice path in front as "[path,dt,key,value]".
	inner := entry[1 : len(entry)-1]
	var buf bytes.Buffer
	buf.WriteByte('[')
	buf.Write(path)
	buf.WriteByte(',')
	buf.Write(inner)
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON parses the four-element array form.
func (e *EntryWithPath) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 4 {
		return fmt.Errorf("decmodel: entry-with-path must have 4 elements, got %d", len(raw))
	}
	var path []string
	if err := json.Unmarshal(raw[0], &path); err != nil {
		return fmt.Errorf("decmodel: entry-with-path path: %w", err)
	}
	var datetime string
	if err := json.Unmarshal(raw[1], &datetime); err != nil {
		return fmt.Errorf("decmodel: entry-with-path datetime: %w", err)
	}
	e.Path = path
	e.Datetime = datetime
	e.Key = raw[2]
	e.Value = raw[3]
	return nil
}

// StoredEntry identifies an entry without its value: (path, key).
type StoredEntry struct {
	Path []string
	Key  json.RawMessage
}

// AppData summarizes one peer app for GetActiveApps.
type AppData struct {
	AppID      string `json:"appId"`
	LastActive string `json:"lastActive,omitempty"`
	Version    int    `json:"version"`
}
