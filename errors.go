package decsync

import "github.com/decsync/go-decsync/internal/decmodel"

// InvalidInfoError indicates that .decsync-info exists but could not be
// parsed, or parsed to a value with a missing or ill-typed version field.
type InvalidInfoError = decmodel.InvalidInfoError

// UnsupportedVersionError indicates that .decsync-info names a version this
// implementation does not know how to speak.
type UnsupportedVersionError = decmodel.UnsupportedVersionError

// InsufficientAccessError indicates the platform file adapter denied
// read/write access to the DecSync root.
type InsufficientAccessError = decmodel.InsufficientAccessError

// IoError wraps a filesystem failure during an individual file operation.
type IoError = decmodel.IoError
