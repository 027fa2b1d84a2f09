// Package nativefile provides the abstract file system DecSync is built
// on: a closed sum type over {file, directory, absent} rather than a class
// hierarchy (per the design notes), addressed purely by path segments.
// Child() never touches disk; every other method does.
package nativefile

import "github.com/decsync/go-decsync/internal/decmodel"

// Kind is the tag of the Node sum type.
type Kind int

const (
	KindAbsent Kind = iota
	KindFile
	KindDirectory
)

// Node is the file abstraction component A consumes and produces. All
// operations are blocking; callers are responsible for running them off
// whatever executor they use.
type Node interface {
	// Kind stats the node. It never returns an error for a node that
	// simply does not exist; that case is KindAbsent, nil.
	Kind() (Kind, error)

	// Name is the last path segment, already on-disk (not decoded).
	Name() string

	// Child addresses a child by its on-disk name. Pure: it performs no
	// I/O and succeeds even if nothing exists at that path yet.
	Child(name string) Node

	// Read returns the bytes of a file starting at offset. Reading a
	// Directory fails with an *decmodel.IoError. Reading an Absent node
	// yields an empty slice, nil.
	Read(offset int64) ([]byte, error)

	// Write persists data. An empty data with append=false deletes the
	// node (materializing it as Absent); any other write first
	// materializes missing parent directories. Writing to a Directory
	// fails.
	Write(data []byte, append bool) error

	// Children enumerates child nodes of a Directory in unspecified
	// order. Calling it on a File or Absent node yields an empty slice.
	// Implementations may cache the listing until ResetCache is called.
	Children() ([]Node, error)

	// Length returns the byte length of a File; 0 for Directory/Absent.
	Length() (int64, error)

	// DeleteRecursive removes the node; for a Directory, all descendants
	// are removed first (post-order).
	DeleteRecursive() error

	// ResetCache invalidates any cached directory listing held by this
	// node, required before re-scanning a tree a peer may have appended
	// to since the last call.
	ResetCache()
}

func ioErr(path, op string, err error) error {
	if err == nil {
		return nil
	}
	return &decmodel.IoError{Path: path, Op: op, Err: err}
}
