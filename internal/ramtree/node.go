// Package ramtree is the in-memory directory tree at the heart of the
// ramdisk: node storage, path resolution, and the structural mutation
// primitives (insert, detach) that ramfs.FS composes into full operations.
//
// Nothing here touches the Capacity Accountant; callers reserve and release
// bytes around calls into this package, matching the split in spec.md §4.2.
package ramtree

import (
	"os"
	"time"
	"unsafe"
)

// Kind distinguishes a directory node from a regular file node.
type Kind int

const (
	// File is a regular file node.
	File Kind = iota
	// Dir is a directory node.
	Dir
)

// MaxNameLen is the largest name the snapshot format's fixed 512-byte name
// slot can hold, one byte reserved for the NUL terminator (spec.md §3, §9).
const MaxNameLen = 511

// RootMode, DirMode and FileMode mirror the C source's
// hard-coded permission bits (spec.md §3, §4.3).
const (
	RootMode = os.ModeDir | 0755
	DirMode  = os.ModeDir | 0755
	FileMode = 0644
)

// DirSize is the cosmetic size reported for every directory; it is never
// accounted against the Capacity Accountant (spec.md §4.1).
const DirSize = 4096

// HeaderSize is the accounted cost of a single Node, reserved on every
// create/mkdir and released on every unlink/rmdir (spec.md §4.1). It
// stands in for the C source's sizeof(Node): the fixed cost of the struct
// itself, independent of how large its payload or child slice grows.
const HeaderSize = int64(unsafe.Sizeof(Node{}))

// Attr is the POSIX-style stat record carried by every Node.
type Attr struct {
	Size    int64
	Nlink   uint32
	Uid     uint32
	Gid     uint32
	Mode    os.FileMode
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
}

// Node represents either a directory or a regular file in the tree.
//
// Children is kept in most-recent-insert-first order (spec.md §3): new
// children are prepended, and readdir exposes that order verbatim. Parent is
// a non-owning back-reference: a directory owns its Children, and Parent is
// used only to find a node's directory.
type Node struct {
	Name     string
	Kind     Kind
	Attr     Attr
	Payload  []byte
	Children []*Node
	Parent   *Node
}

// IsDir reports whether n is a directory node.
func (n *Node) IsDir() bool {
	return n.Kind == Dir
}

// NewRoot constructs the singleton root directory (spec.md §3: link count 2,
// size 4096, mode DIR|0755, uid/gid 0).
func NewRoot(now time.Time) *Node {
	return &Node{
		Name: "/",
		Kind: Dir,
		Attr: Attr{
			Size:  DirSize,
			Nlink: 2,
			Mode:  RootMode,
			Atime: now,
			Mtime: now,
			Ctime: now,
		},
	}
}

// NewDir constructs a directory node ready to be inserted as a child.
func NewDir(name string, uid, gid uint32, now time.Time) *Node {
	return &Node{
		Name: name,
		Kind: Dir,
		Attr: Attr{
			Size:  DirSize,
			Nlink: 2,
			Uid:   uid,
			Gid:   gid,
			Mode:  DirMode,
			Atime: now,
			Mtime: now,
			Ctime: now,
		},
	}
}

// NewFile constructs a regular file node ready to be inserted as a child.
func NewFile(name string, uid, gid uint32, now time.Time) *Node {
	return &Node{
		Name: name,
		Kind: File,
		Attr: Attr{
			Nlink: 1,
			Uid:   uid,
			Gid:   gid,
			Mode:  FileMode,
			Atime: now,
			Mtime: now,
			Ctime: now,
		},
	}
}

// LookUpChild returns the child of dir named name, if any.
//
// REQUIRES: dir.IsDir()
func (n *Node) LookUpChild(name string) (*Node, bool) {
	for _, c := range n.Children {
		if c.Name == name {
			return c, true
		}
	}

	return nil, false
}
