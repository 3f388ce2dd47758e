// Package snapshot implements the pre-order byte-stream format that
// round-trips a ramtree to and from a single file: the Snapshot Codec of
// spec.md §4.4. The format is a process-local checkpoint, not a portable
// wire format — it embeds this implementation's own fixed-width attribute
// record, not the C original's native struct layout (spec.md §9).
package snapshot

import (
	"encoding/binary"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ramdiskfs/ramdisk/internal/accountant"
	"github.com/ramdiskfs/ramdisk/internal/ramtree"
)

// nameSlotSize is the fixed name slot the attribute record reserves,
// matching the C source's 512-byte MAX_NAME (spec.md §3, §9). Widening it
// would break round-trip compatibility with existing snapshots, so it is
// not tied to ramtree.MaxNameLen beyond the off-by-one for the terminator.
const nameSlotSize = ramtree.MaxNameLen + 1

// record is the fixed-size attribute record emitted for every node: a name
// slot, a directory flag, and the stat fields of ramtree.Attr. All fields
// are fixed width so a single encoding/binary.Write/Read call serializes
// it whole.
type record struct {
	Name  [nameSlotSize]byte
	IsDir uint8
	_     [7]byte // pad to an 8-byte boundary, matching native struct packing
	Size  int64
	Nlink uint32
	Uid   uint32
	Gid   uint32
	Mode  uint32
	Atime int64
	Mtime int64
	Ctime int64
}

var byteOrder = binary.LittleEndian

func toRecord(n *ramtree.Node) (record, error) {
	var rec record

	if len(n.Name) > ramtree.MaxNameLen {
		return rec, errors.Errorf("name %q exceeds %d bytes", n.Name, ramtree.MaxNameLen)
	}
	copy(rec.Name[:], n.Name)

	if n.IsDir() {
		rec.IsDir = 1
	}

	rec.Size = n.Attr.Size
	rec.Nlink = n.Attr.Nlink
	rec.Uid = n.Attr.Uid
	rec.Gid = n.Attr.Gid
	rec.Mode = uint32(n.Attr.Mode)
	rec.Atime = n.Attr.Atime.Unix()
	rec.Mtime = n.Attr.Mtime.Unix()
	rec.Ctime = n.Attr.Ctime.Unix()

	return rec, nil
}

func fromRecord(rec record) *ramtree.Node {
	name := string(rec.Name[:clen(rec.Name[:])])

	kind := ramtree.File
	if rec.IsDir != 0 {
		kind = ramtree.Dir
	}

	return &ramtree.Node{
		Name: name,
		Kind: kind,
		Attr: ramtree.Attr{
			Size:  rec.Size,
			Nlink: rec.Nlink,
			Uid:   rec.Uid,
			Gid:   rec.Gid,
			Mode:  os.FileMode(rec.Mode),
			Atime: time.Unix(rec.Atime, 0).UTC(),
			Mtime: time.Unix(rec.Mtime, 0).UTC(),
			Ctime: time.Unix(rec.Ctime, 0).UTC(),
		},
	}
}

// clen returns the length of the NUL-terminated string in b, or len(b) if
// there is no terminator.
func clen(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return len(b)
}

// Encode writes root and its entire subtree to w in pre-order, reusing the
// directory link-count field as the encoded child count (spec.md §4.4).
func Encode(root *ramtree.Node, w io.Writer) error {
	return encodeNode(root, w)
}

// recordSize is the on-disk size of one fixed-width attribute record.
var recordSize = int64(binary.Size(record{}))

// EncodedSize returns the exact number of bytes Encode will write for root
// and its subtree: one attribute record per node plus every file's payload.
// The caller uses this to preallocate the snapshot file before writing it.
func EncodedSize(root *ramtree.Node) int64 {
	var total int64
	var walk func(n *ramtree.Node)
	walk = func(n *ramtree.Node) {
		total += recordSize
		if n.IsDir() {
			for _, child := range n.Children {
				walk(child)
			}
			return
		}
		total += int64(len(n.Payload))
	}
	walk(root)
	return total
}

func encodeNode(n *ramtree.Node, w io.Writer) error {
	rec, err := toRecord(n)
	if err != nil {
		return errors.Wrapf(err, "encode %q", n.Name)
	}
	if err := binary.Write(w, byteOrder, &rec); err != nil {
		return errors.Wrapf(err, "write attribute record for %q", n.Name)
	}

	if n.IsDir() {
		for _, child := range n.Children {
			if err := encodeNode(child, w); err != nil {
				return err
			}
		}
		return nil
	}

	if len(n.Payload) > 0 {
		if _, err := w.Write(n.Payload); err != nil {
			return errors.Wrapf(err, "write payload for %q", n.Name)
		}
	}
	return nil
}

// Decode reads a tree previously written by Encode, reserving every
// non-root node header and every file payload it allocates against acct
// (the root's header is never charged, matching ramfs.New). If a reservation
// fails partway through, Decode stops, logs via logrus, and returns the
// partially-built tree together with a non-nil error: spec.md §9's open
// question, resolved here as "stop and report partial state", matching the
// decision recorded in SPEC_FULL.md §10.3.
func Decode(r io.Reader, acct *accountant.Accountant) (*ramtree.Node, error) {
	var rec record
	if err := binary.Read(r, byteOrder, &rec); err != nil {
		return nil, errors.Wrap(err, "read root attribute record")
	}

	root := fromRecord(rec)
	if err := decodeChildren(r, root, acct); err != nil {
		return root, err
	}

	return root, nil
}

// errOutOfSpace is returned (wrapped) by decodeChildren when a reservation
// fails mid-stream.
var errOutOfSpace = errors.New("snapshot: out of space while restoring tree")

func decodeChildren(r io.Reader, parent *ramtree.Node, acct *accountant.Accountant) error {
	childCount := int(parent.Attr.Nlink) - 2
	if childCount < 0 {
		return errors.Errorf("directory %q has implausible link count %d", parent.Name, parent.Attr.Nlink)
	}

	children := make([]*ramtree.Node, childCount)
	for i := range children {
		children[i] = &ramtree.Node{Parent: parent}
	}
	parent.Children = children

	for i := 0; i < childCount; i++ {
		var rec record
		if err := binary.Read(r, byteOrder, &rec); err != nil {
			return errors.Wrapf(err, "read attribute record for child %d of %q", i, parent.Name)
		}

		child := fromRecord(rec)
		child.Parent = parent
		children[i] = child

		if !acct.Reserve(ramtree.HeaderSize) {
			logrus.WithField("path", child.Name).Warn("snapshot: out of space allocating node header, tree left partial")
			return errOutOfSpace
		}

		if child.IsDir() {
			if err := decodeChildren(r, child, acct); err != nil {
				return err
			}
			continue
		}

		if child.Attr.Size > 0 {
			if !acct.Reserve(child.Attr.Size) {
				logrus.WithField("path", child.Name).Warn("snapshot: out of space allocating payload, tree left partial")
				return errOutOfSpace
			}

			payload := make([]byte, child.Attr.Size)
			if _, err := io.ReadFull(r, payload); err != nil {
				return errors.Wrapf(err, "read payload for %q", child.Name)
			}
			child.Payload = payload
		}
	}

	return nil
}
