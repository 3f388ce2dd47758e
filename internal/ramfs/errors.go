package ramfs

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Kind enumerates the error kinds spec.md §7 maps to POSIX errno at the
// VFS bridge boundary.
type Kind int

const (
	// NotFound is returned when a path component is missing.
	NotFound Kind = iota
	// Exists is returned when the target of create/mkdir is already present.
	Exists
	// NotDir is returned for a directory operation attempted on a file.
	NotDir
	// IsDir is returned for a file operation attempted on a directory.
	IsDir
	// NotEmpty is returned by rmdir/rename-over of a non-empty directory.
	NotEmpty
	// OutOfSpace is returned when a Capacity Accountant reservation fails.
	OutOfSpace
)

// Error is the concrete error type every ramfs operation returns on
// failure. It carries enough information for the VFS bridge to translate it
// into the matching kernel errno without ramfs itself depending on any
// FUSE type.
type Error struct {
	Kind Kind
	Path string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Kind)
}

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "no such file or directory"
	case Exists:
		return "file exists"
	case NotDir:
		return "not a directory"
	case IsDir:
		return "is a directory"
	case NotEmpty:
		return "directory not empty"
	case OutOfSpace:
		return "no space left on device"
	default:
		return "unknown error"
	}
}

// Errno returns the POSIX errno golang.org/x/sys/unix defines for k, the
// value the VFS bridge hands back to the kernel.
func (k Kind) Errno() unix.Errno {
	switch k {
	case NotFound:
		return unix.ENOENT
	case Exists:
		return unix.EEXIST
	case NotDir:
		return unix.ENOTDIR
	case IsDir:
		return unix.EISDIR
	case NotEmpty:
		return unix.ENOTEMPTY
	case OutOfSpace:
		return unix.ENOSPC
	default:
		return unix.EIO
	}
}

func newErr(kind Kind, path string) *Error {
	return &Error{Kind: kind, Path: path}
}
