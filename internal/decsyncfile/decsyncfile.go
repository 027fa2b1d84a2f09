// Package decsyncfile layers the name codec and the line-oriented record
// format on top of the raw nativefile.Node abstraction (component C).
package decsyncfile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/decsync/go-decsync/internal/nativefile"
	"github.com/decsync/go-decsync/internal/urlcodec"
)

// PathPredicate reports whether a decoded relative path should be visited
// by ListFilesRecursiveRelative.
type PathPredicate func(path []string) bool

// LeafAction is invoked for each matching leaf file. Returning false tells
// the caller the leaf was not fully processed, so the sequence covering it
// must not be advanced: the same leaf will be offered again next pass.
type LeafAction func(path []string) bool

// SequenceFileName is the hidden per-directory change counter used to skip
// unchanged subtrees during a recursive scan.
const SequenceFileName = "decsync-sequence"

// DecsyncFile addresses a node by decoded path segments and speaks the
// engine's line-oriented record format.
type DecsyncFile struct {
	node nativefile.Node
}

// New wraps a raw Node as the root of a DecsyncFile tree.
func New(node nativefile.Node) *DecsyncFile {
	return &DecsyncFile{node: node}
}

// Node exposes the underlying raw node, e.g. for callers that need
// Kind()/Length() directly.
func (d *DecsyncFile) Node() nativefile.Node {
	return d.node
}

// Name decodes this node's on-disk name back to the original string. It
// returns false if the name is a hidden engine file or otherwise does not
// decode.
func (d *DecsyncFile) Name() (string, bool) {
	return urlcodec.Decode(d.node.Name())
}

// Child descends through a sequence of logical names, URL-encoding each
// segment.
func (d *DecsyncFile) Child(names ...string) *DecsyncFile {
	node := d.node
	for _, name := range names {
		node = node.Child(urlcodec.Encode(name))
	}
	return &DecsyncFile{node: node}
}

// HiddenChild addresses an engine-internal file: the name is encoded like
// any other child, then prefixed with '.' so it is excluded from
// ListFilesRecursiveRelative and from peers decoding ordinary path
// segments.
func (d *DecsyncFile) HiddenChild(name string) *DecsyncFile {
	return &DecsyncFile{node: d.node.Child("." + urlcodec.Encode(name))}
}

// ReadLines reads the file from offset and splits it into non-blank lines.
func (d *DecsyncFile) ReadLines(offset int64) ([]string, error) {
	data, err := d.node.Read(offset)
	if err != nil {
		return nil, err
	}
	return splitNonBlank(string(data)), nil
}

// WriteLines joins non-blank lines with '\n', terminating every line
// (including the last) per the on-disk format. Writing an all-blank list
// with append=false deletes the file, preserving the no-empty-files
// invariant.
func (d *DecsyncFile) WriteLines(lines []string, appendMode bool) error {
	nonBlank := filterNonBlank(lines)
	if len(nonBlank) == 0 {
		if !appendMode {
			return d.node.Write(nil, false)
		}
		return nil
	}
	var b strings.Builder
	for _, line := range nonBlank {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return d.node.Write([]byte(b.String()), appendMode)
}

// ReadText is single-line shorthand over ReadLines: it fails if the file
// holds more than one non-blank line.
func (d *DecsyncFile) ReadText() (string, error) {
	lines, err := d.ReadLines(0)
	if err != nil {
		return "", err
	}
	switch len(lines) {
	case 0:
		return "", nil
	case 1:
		return lines[0], nil
	default:
		return "", fmt.Errorf("decsyncfile: expected a single line, got %d", len(lines))
	}
}

// WriteText is single-line shorthand over WriteLines.
func (d *DecsyncFile) WriteText(text string, appendMode bool) error {
	if text == "" {
		return d.WriteLines(nil, appendMode)
	}
	return d.WriteLines([]string{text}, appendMode)
}

// ReadSequence reads this directory's hidden decsync-sequence counter,
// tolerating an absent or unparseable file by reporting it as not present
// rather than erroring (§9 design notes: cursor files are never fatal).
func (d *DecsyncFile) ReadSequence() (value int64, present bool, err error) {
	text, err := d.HiddenChild(SequenceFileName).ReadText()
	if err != nil {
		return 0, false, err
	}
	if text == "" {
		return 0, false, nil
	}
	n, convErr := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if convErr != nil {
		return 0, false, nil
	}
	return n, true, nil
}

// WriteSequence overwrites this directory's hidden decsync-sequence
// counter with an explicit value, used to mirror a peer's observed
// sequence into our own read-bytes bookkeeping.
func (d *DecsyncFile) WriteSequence(value int64) error {
	return d.HiddenChild(SequenceFileName).WriteText(strconv.FormatInt(value, 10), false)
}

// IncrementSequence bumps this directory's hidden decsync-sequence counter
// by one and returns the new value, used by the write path to signal that
// a subtree changed.
func (d *DecsyncFile) IncrementSequence() (int64, error) {
	current, _, err := d.ReadSequence()
	if err != nil {
		return 0, err
	}
	next := current + 1
	if err := d.WriteSequence(next); err != nil {
		return 0, err
	}
	return next, nil
}

// ListFilesRecursiveRelative walks the tree rooted at d and invokes action
// for every leaf file whose path (relative to d, decoded) satisfies
// pathPred. Hidden children (name starting with '.') are never visited.
//
// If readBytesSrc is non-nil, each directory's hidden decsync-sequence
// counter is compared against the corresponding directory under
// readBytesSrc; when both are present and equal the whole subtree is
// skipped without opening any leaf. After a subtree is walked and every
// action within it returned true, the observed sequence is copied into
// readBytesSrc so the next call can skip it again.
func (d *DecsyncFile) ListFilesRecursiveRelative(readBytesSrc *DecsyncFile, pathPred PathPredicate, action LeafAction) error {
	_, err := d.walk(readBytesSrc, nil, pathPred, action)
	return err
}

func (d *DecsyncFile) walk(readBytesSrc *DecsyncFile, prefix []string, pathPred PathPredicate, action LeafAction) (ok bool, err error) {
	kind, err := d.node.Kind()
	if err != nil {
		return false, err
	}
	if kind != nativefile.KindDirectory {
		return true, nil
	}

	if readBytesSrc != nil {
		localSeq, localPresent, err := d.ReadSequence()
		if err != nil {
			return false, err
		}
		peerSeq, peerPresent, err := readBytesSrc.ReadSequence()
		if err != nil {
			return false, err
		}
		if localPresent && peerPresent && localSeq == peerSeq {
			return true, nil
		}
	}

	children, err := d.node.Children()
	if err != nil {
		return false, err
	}

	allOK := true
	for _, child := range children {
		name := child.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		decoded, valid := urlcodec.Decode(name)
		if !valid {
			continue
		}
		childKind, err := child.Kind()
		if err != nil {
			return false, err
		}
		childPath := append(append([]string(nil), prefix...), decoded)
		switch childKind {
		case nativefile.KindDirectory:
			var childReadBytesSrc *DecsyncFile
			if readBytesSrc != nil {
				childReadBytesSrc = readBytesSrc.Child(decoded)
			}
			childOK, err := (&DecsyncFile{node: child}).walk(childReadBytesSrc, childPath, pathPred, action)
			if err != nil {
				return false, err
			}
			if !childOK {
				allOK = false
			}
		case nativefile.KindFile:
			if pathPred(childPath) {
				if !action(childPath) {
					allOK = false
				}
			}
		}
	}

	if allOK && readBytesSrc != nil {
		if seq, present, err := d.ReadSequence(); err != nil {
			return false, err
		} else if present {
			if err := readBytesSrc.WriteSequence(seq); err != nil {
				return false, err
			}
		}
	}
	return allOK, nil
}

func splitNonBlank(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, "\n")
	return filterNonBlank(parts)
}

func filterNonBlank(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
