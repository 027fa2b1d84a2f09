// Package config implements component D: the .decsync-info version gate at
// the root of decsyncDir, and the per-instance local info file.
package config

import (
	"encoding/json"
	"fmt"

	"github.com/decsync/go-decsync/internal/decmodel"
	"github.com/decsync/go-decsync/internal/decsyncfile"
	"github.com/decsync/go-decsync/internal/nativefile"
)

// SupportedVersion is the highest on-disk format version this
// implementation speaks.
const SupportedVersion = 2

const decsyncInfoFileName = ".decsync-info"

// DecsyncInfo is the parsed content of decsyncDir/.decsync-info.
type DecsyncInfo struct {
	Version int `json:"version"`
}

func decsyncInfoFile(decsyncDir nativefile.Node) *decsyncfile.DecsyncFile {
	// .decsync-info is a reserved literal filename at decsyncDir's root, not
	// a user path segment, so it is addressed directly on the node rather
	// than through the name codec.
	return decsyncfile.New(decsyncDir.Child(decsyncInfoFileName))
}

// ReadOrCreateDecsyncInfo reads decsyncDir/.decsync-info. If the file is
// absent it is created with the default {"version":1} (§4.D).
func ReadOrCreateDecsyncInfo(decsyncDir nativefile.Node) (*DecsyncInfo, error) {
	f := decsyncInfoFile(decsyncDir)
	text, err := readDecsyncInfoText(f)
	if err != nil {
		return nil, err
	}
	if text == "" {
		info := &DecsyncInfo{Version: 1}
		if err := writeDecsyncInfo(f, info); err != nil {
			return nil, err
		}
		return info, nil
	}
	return parseDecsyncInfo(text)
}

// CheckDecsyncInfo validates decsyncDir/.decsync-info, creating it with the
// default {"version":1} if it does not yet exist.
func CheckDecsyncInfo(decsyncDir nativefile.Node) error {
	_, err := ReadOrCreateDecsyncInfo(decsyncDir)
	return err
}

func readDecsyncInfoText(f *decsyncfile.DecsyncFile) (string, error) {
	text, err := f.ReadText()
	if err != nil {
		return "", &decmodel.InvalidInfoError{Path: decsyncInfoFileName, Err: err}
	}
	return text, nil
}

func parseDecsyncInfo(text string) (*DecsyncInfo, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, &decmodel.InvalidInfoError{Path: decsyncInfoFileName, Err: err}
	}
	versionRaw, ok := raw["version"]
	if !ok {
		return nil, &decmodel.InvalidInfoError{Path: decsyncInfoFileName, Err: fmt.Errorf("missing version field")}
	}
	var version int
	if err := json.Unmarshal(versionRaw, &version); err != nil {
		return nil, &decmodel.InvalidInfoError{Path: decsyncInfoFileName, Err: err}
	}
	if version != 1 && version != 2 {
		return nil, &decmodel.UnsupportedVersionError{Found: version, Supported: SupportedVersion}
	}
	return &DecsyncInfo{Version: version}, nil
}

func writeDecsyncInfo(f *decsyncfile.DecsyncFile, info *DecsyncInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return f.WriteText(string(data), false)
}

// LocalInfo is the per-instance bookkeeping file under localDir: the engine
// version this instance has committed to, the last date it announced
// liveness, and the highest protocol version it has told peers it
// supports.
type LocalInfo struct {
	Version          int    `json:"version"`
	LastActive       string `json:"last-active,omitempty"`
	SupportedVersion int    `json:"supported-version"`
}

const localInfoFileName = "info"

func localInfoFile(localDir nativefile.Node) *decsyncfile.DecsyncFile {
	return decsyncfile.New(localDir.Child(localInfoFileName))
}

// ReadLocalInfo reads localDir/info. A missing or corrupt file is reported
// as simply absent: local info is bookkeeping, never authoritative, and is
// always safe to reconstruct (§9 Cursor file format tolerance extended to
// this file for the same reason).
func ReadLocalInfo(localDir nativefile.Node) (*LocalInfo, bool, error) {
	text, err := localInfoFile(localDir).ReadText()
	if err != nil {
		return nil, false, err
	}
	if text == "" {
		return nil, false, nil
	}
	var info LocalInfo
	if err := json.Unmarshal([]byte(text), &info); err != nil {
		return nil, false, nil
	}
	return &info, true, nil
}

// WriteLocalInfo overwrites localDir/info.
func WriteLocalInfo(localDir nativefile.Node, info *LocalInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return localInfoFile(localDir).WriteText(string(data), false)
}
