package engine

import (
	"encoding/json"
	"log/slog"

	"github.com/decsync/go-decsync/internal/decmodel"
	"github.com/decsync/go-decsync/internal/decsyncfile"
)

// ReadEntries reads and parses every line of f as an Entry. Malformed
// lines are logged at warn and skipped rather than failing the whole
// read, per the per-record recovery policy (§7).
func ReadEntries(logger *slog.Logger, f *decsyncfile.DecsyncFile) ([]decmodel.Entry, error) {
	lines, err := f.ReadLines(0)
	if err != nil {
		return nil, err
	}
	return ParseEntryLines(logger, lines), nil
}

// ParseEntryLines parses a batch of already-split lines as Entries,
// skipping and logging whatever does not parse.
func ParseEntryLines(logger *slog.Logger, lines []string) []decmodel.Entry {
	out := make([]decmodel.Entry, 0, len(lines))
	for _, line := range lines {
		var e decmodel.Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			logger.Warn("decsync: malformed entry line skipped", "error", err)
			continue
		}
		out = append(out, e)
	}
	return out
}

// MarshalEntries renders entries as their one-line-per-entry JSON form.
func MarshalEntries(entries []decmodel.Entry) ([]string, error) {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		lines = append(lines, string(data))
	}
	return lines, nil
}

// WriteEntries overwrites f with one Entry JSON per line.
func WriteEntries(f *decsyncfile.DecsyncFile, entries []decmodel.Entry) error {
	lines, err := MarshalEntries(entries)
	if err != nil {
		return err
	}
	return f.WriteLines(lines, false)
}

// AppendEntries appends entries to f's existing content.
func AppendEntries(f *decsyncfile.DecsyncFile, entries []decmodel.Entry) error {
	lines, err := MarshalEntries(entries)
	if err != nil {
		return err
	}
	return f.WriteLines(lines, true)
}

// ReadEntriesWithPath reads and parses every line of f as an
// EntryWithPath, with the same per-line tolerance as ReadEntries.
func ReadEntriesWithPath(logger *slog.Logger, f *decsyncfile.DecsyncFile) ([]decmodel.EntryWithPath, error) {
	lines, err := f.ReadLines(0)
	if err != nil {
		return nil, err
	}
	out := make([]decmodel.EntryWithPath, 0, len(lines))
	for _, line := range lines {
		var e decmodel.EntryWithPath
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			logger.Warn("decsync: malformed entry-with-path line skipped", "error", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func marshalEntriesWithPath(entries []decmodel.EntryWithPath) ([]string, error) {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		lines = append(lines, string(data))
	}
	return lines, nil
}

// AppendEntriesWithPath appends entries to f's existing content.
func AppendEntriesWithPath(f *decsyncfile.DecsyncFile, entries []decmodel.EntryWithPath) error {
	lines, err := marshalEntriesWithPath(entries)
	if err != nil {
		return err
	}
	return f.WriteLines(lines, true)
}

// WriteEntriesWithPath overwrites f with one EntryWithPath JSON per line.
func WriteEntriesWithPath(f *decsyncfile.DecsyncFile, entries []decmodel.EntryWithPath) error {
	lines, err := marshalEntriesWithPath(entries)
	if err != nil {
		return err
	}
	return f.WriteLines(lines, false)
}
