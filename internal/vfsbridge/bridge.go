// Package vfsbridge adapts the path-based ramfs.FS core to jacobsa/fuse's
// op-based fuseutil.FileSystem interface, in the allocate/deallocate
// inode-table style of jacobsa-fuse's memfs sample: every inode the kernel
// has been told about gets a stable ID until the kernel sends a
// ForgetInodeOp, and the table maps both ways so the bridge can always
// recover the path a given ID names by walking ramtree.Node.Parent back to
// the root.
//
// jacobsa/fuse has no RenameOp in this vintage, so rename is reachable only
// through ramfs.FS directly (exercised by its own package tests and by the
// snapshot round trip), not through a mounted file system. See DESIGN.md.
package vfsbridge

import (
	"strings"
	"sync"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/ramdiskfs/ramdisk/internal/ramfs"
	"github.com/ramdiskfs/ramdisk/internal/ramtree"
)

// Bridge implements fuseutil.FileSystem on top of a single ramfs.FS.
type Bridge struct {
	fuseutil.NotImplementedFileSystem

	fs *ramfs.FS

	// GUARDED_BY(mu)
	mu sync.Mutex

	// The inode ID table. IDs below fuseops.RootInodeID are never issued; the
	// root node is always assigned fuseops.RootInodeID.
	//
	// INVARIANT: byID[fuseops.RootInodeID] is the tree's root node
	// INVARIANT: for all k, v := range byID: byNode[v] == k
	byID   map[fuseops.InodeID]*ramtree.Node // GUARDED_BY(mu)
	byNode map[*ramtree.Node]fuseops.InodeID // GUARDED_BY(mu)
	nextID fuseops.InodeID                   // GUARDED_BY(mu)

	// IDs freed by ForgetInodeOp, available for reuse (jacobsa-fuse memfs's
	// freeInodes idiom).
	freeIDs []fuseops.InodeID // GUARDED_BY(mu)
}

var _ fuseutil.FileSystem = (*Bridge)(nil)

// New wraps fs as a fuseutil.FileSystem, ready for fuseutil.NewFileSystemServer.
func New(fs *ramfs.FS) *Bridge {
	b := &Bridge{
		fs:     fs,
		byID:   make(map[fuseops.InodeID]*ramtree.Node),
		byNode: make(map[*ramtree.Node]fuseops.InodeID),
		nextID: fuseops.RootInodeID + 1,
	}

	root := fs.Root()
	b.byID[fuseops.RootInodeID] = root
	b.byNode[root] = fuseops.RootInodeID

	return b
}

////////////////////////////////////////////////////////////////////////
// Inode table
////////////////////////////////////////////////////////////////////////

// idFor returns the stable ID for node, minting or recycling one if this is
// the first time the bridge has had to name it to the kernel.
//
// EXCLUSIVE_LOCKS_REQUIRED(b.mu)
func (b *Bridge) idFor(node *ramtree.Node) fuseops.InodeID {
	if id, ok := b.byNode[node]; ok {
		return id
	}

	var id fuseops.InodeID
	if n := len(b.freeIDs); n != 0 {
		id = b.freeIDs[n-1]
		b.freeIDs = b.freeIDs[:n-1]
	} else {
		id = b.nextID
		b.nextID++
	}

	b.byID[id] = node
	b.byNode[node] = id
	return id
}

// pathFor reconstructs the absolute path of an inode already known to the
// bridge, by walking Node.Parent back to the root.
//
// EXCLUSIVE_LOCKS_REQUIRED(b.mu)
func (b *Bridge) pathFor(id fuseops.InodeID) (string, bool) {
	node, ok := b.byID[id]
	if !ok {
		return "", false
	}
	// A removed node has no Parent but is not the root; it names no path.
	if node.Parent == nil && id != fuseops.RootInodeID {
		return "", false
	}
	return nodePath(node), true
}

func nodePath(node *ramtree.Node) string {
	if node.Parent == nil {
		return "/"
	}

	var parts []string
	for n := node; n.Parent != nil; n = n.Parent {
		parts = append([]string{n.Name}, parts...)
	}
	return "/" + strings.Join(parts, "/")
}

func attrsFromAttr(a ramtree.Attr) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  uint64(a.Size),
		Nlink: uint64(a.Nlink),
		Mode:  a.Mode,
		Atime: a.Atime,
		Mtime: a.Mtime,
		Ctime: a.Ctime,
		Uid:   a.Uid,
		Gid:   a.Gid,
	}
}

func posixErrno(err error) error {
	if err == nil {
		return nil
	}
	if rerr, ok := err.(*ramfs.Error); ok {
		return rerr.Kind.Errno()
	}
	return err
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

////////////////////////////////////////////////////////////////////////
// FileSystem methods
////////////////////////////////////////////////////////////////////////

func (b *Bridge) Init(op *fuseops.InitOp) {
	op.Respond(nil)
}

func (b *Bridge) LookUpInode(op *fuseops.LookUpInodeOp) {
	var err error
	defer func() { op.Respond(err) }()

	b.mu.Lock()
	parentPath, ok := b.pathFor(op.Parent)
	b.mu.Unlock()
	if !ok {
		err = fuse.ENOENT
		return
	}

	path := joinPath(parentPath, op.Name)
	attr, gerr := b.fs.Getattr(path)
	if gerr != nil {
		err = posixErrno(gerr)
		return
	}

	b.mu.Lock()
	node, _ := b.fs.Tree().Resolve(path)
	op.Entry.Child = b.idFor(node)
	b.mu.Unlock()

	op.Entry.Attributes = attrsFromAttr(attr)
}

func (b *Bridge) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) {
	var err error
	defer func() { op.Respond(err) }()

	b.mu.Lock()
	path, ok := b.pathFor(op.Inode)
	b.mu.Unlock()
	if !ok {
		err = fuse.ENOENT
		return
	}

	attr, gerr := b.fs.Getattr(path)
	if gerr != nil {
		err = posixErrno(gerr)
		return
	}
	op.Attributes = attrsFromAttr(attr)
}

// SetInodeAttributes services ftruncate(2) via op.Size; mode and time
// changes are accepted and ignored, matching ramfs.FS.Utime's no-op
// contract (the ram_utime it is grounded on has no observable effect
// either).
func (b *Bridge) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) {
	var err error
	defer func() { op.Respond(err) }()

	b.mu.Lock()
	path, ok := b.pathFor(op.Inode)
	b.mu.Unlock()
	if !ok {
		err = fuse.ENOENT
		return
	}

	if op.Size != nil {
		if terr := b.fs.Truncate(path, int64(*op.Size)); terr != nil {
			err = posixErrno(terr)
			return
		}
	}

	attr, gerr := b.fs.Getattr(path)
	if gerr != nil {
		err = posixErrno(gerr)
		return
	}
	op.Attributes = attrsFromAttr(attr)
}

func (b *Bridge) ForgetInode(op *fuseops.ForgetInodeOp) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if op.Inode != fuseops.RootInodeID {
		if node, ok := b.byID[op.Inode]; ok {
			delete(b.byID, op.Inode)
			delete(b.byNode, node)
			b.freeIDs = append(b.freeIDs, op.Inode)
		}
	}

	op.Respond(nil)
}

func (b *Bridge) MkDir(op *fuseops.MkDirOp) {
	var err error
	defer func() { op.Respond(err) }()

	b.mu.Lock()
	parentPath, ok := b.pathFor(op.Parent)
	b.mu.Unlock()
	if !ok {
		err = fuse.ENOENT
		return
	}

	path := joinPath(parentPath, op.Name)
	attr, merr := b.fs.Mkdir(path, op.Mode, 0, 0)
	if merr != nil {
		err = posixErrno(merr)
		return
	}

	b.mu.Lock()
	node, _ := b.fs.Tree().Resolve(path)
	op.Entry.Child = b.idFor(node)
	b.mu.Unlock()

	op.Entry.Attributes = attrsFromAttr(attr)
}

func (b *Bridge) CreateFile(op *fuseops.CreateFileOp) {
	var err error
	defer func() { op.Respond(err) }()

	b.mu.Lock()
	parentPath, ok := b.pathFor(op.Parent)
	b.mu.Unlock()
	if !ok {
		err = fuse.ENOENT
		return
	}

	path := joinPath(parentPath, op.Name)
	attr, cerr := b.fs.Create(path, 0, 0)
	if cerr != nil {
		err = posixErrno(cerr)
		return
	}

	b.mu.Lock()
	node, _ := b.fs.Tree().Resolve(path)
	op.Entry.Child = b.idFor(node)
	b.mu.Unlock()

	op.Entry.Attributes = attrsFromAttr(attr)
}

// CreateSymlink is unsupported: the ramdisk has no symlink node kind.
func (b *Bridge) CreateSymlink(op *fuseops.CreateSymlinkOp) {
	op.Respond(fuse.ENOSYS)
}

func (b *Bridge) RmDir(op *fuseops.RmDirOp) {
	var err error
	defer func() { op.Respond(err) }()

	b.mu.Lock()
	parentPath, ok := b.pathFor(op.Parent)
	b.mu.Unlock()
	if !ok {
		err = fuse.ENOENT
		return
	}

	if rerr := b.fs.Rmdir(joinPath(parentPath, op.Name)); rerr != nil {
		err = posixErrno(rerr)
	}
}

func (b *Bridge) Unlink(op *fuseops.UnlinkOp) {
	var err error
	defer func() { op.Respond(err) }()

	b.mu.Lock()
	parentPath, ok := b.pathFor(op.Parent)
	b.mu.Unlock()
	if !ok {
		err = fuse.ENOENT
		return
	}

	if uerr := b.fs.Unlink(joinPath(parentPath, op.Name)); uerr != nil {
		err = posixErrno(uerr)
	}
}

func (b *Bridge) OpenDir(op *fuseops.OpenDirOp) {
	var err error
	defer func() { op.Respond(err) }()

	b.mu.Lock()
	path, ok := b.pathFor(op.Inode)
	b.mu.Unlock()
	if !ok {
		err = fuse.ENOENT
		return
	}

	if oerr := b.fs.Opendir(path); oerr != nil {
		err = posixErrno(oerr)
	}
}

func (b *Bridge) ReadDir(op *fuseops.ReadDirOp) {
	var err error
	defer func() { op.Respond(err) }()

	b.mu.Lock()
	path, ok := b.pathFor(op.Inode)
	b.mu.Unlock()
	if !ok {
		err = fuse.ENOENT
		return
	}

	entries, rerr := b.fs.Readdir(path)
	if rerr != nil {
		err = posixErrno(rerr)
		return
	}

	if int(op.Offset) > len(entries) {
		return
	}
	entries = entries[op.Offset:]

	b.mu.Lock()
	parentNode, _ := b.fs.Tree().Resolve(path)
	b.mu.Unlock()

	for i, e := range entries {
		b.mu.Lock()
		var ino fuseops.InodeID
		switch e.Name {
		case ".":
			ino = b.idFor(parentNode)
		case "..":
			if parentNode.Parent != nil {
				ino = b.idFor(parentNode.Parent)
			} else {
				ino = fuseops.RootInodeID
			}
		default:
			child, _ := parentNode.LookUpChild(e.Name)
			ino = b.idFor(child)
		}
		b.mu.Unlock()

		dtype := fuseutil.DT_File
		if e.Dir {
			dtype = fuseutil.DT_Directory
		}

		d := fuseutil.Dirent{
			Offset: op.Offset + fuseops.DirOffset(i) + 1,
			Inode:  ino,
			Name:   e.Name,
			Type:   dtype,
		}

		op.Data = fuseutil.AppendDirent(op.Data, d)
		if len(op.Data) > op.Size {
			op.Data = op.Data[:op.Size]
			break
		}
	}
}

func (b *Bridge) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) {
	op.Respond(nil)
}

func (b *Bridge) OpenFile(op *fuseops.OpenFileOp) {
	var err error
	defer func() { op.Respond(err) }()

	b.mu.Lock()
	path, ok := b.pathFor(op.Inode)
	b.mu.Unlock()
	if !ok {
		err = fuse.ENOENT
		return
	}

	if oerr := b.fs.Open(path); oerr != nil {
		err = posixErrno(oerr)
	}
}

func (b *Bridge) ReadFile(op *fuseops.ReadFileOp) {
	var err error
	defer func() { op.Respond(err) }()

	b.mu.Lock()
	path, ok := b.pathFor(op.Inode)
	b.mu.Unlock()
	if !ok {
		err = fuse.ENOENT
		return
	}

	data, rerr := b.fs.Read(path, op.Size, op.Offset)
	if rerr != nil {
		err = posixErrno(rerr)
		return
	}
	op.Data = data
}

func (b *Bridge) WriteFile(op *fuseops.WriteFileOp) {
	var err error
	defer func() { op.Respond(err) }()

	b.mu.Lock()
	path, ok := b.pathFor(op.Inode)
	b.mu.Unlock()
	if !ok {
		err = fuse.ENOENT
		return
	}

	if _, werr := b.fs.Write(path, op.Data, op.Offset); werr != nil {
		err = posixErrno(werr)
	}
}

func (b *Bridge) SyncFile(op *fuseops.SyncFileOp) {
	op.Respond(nil)
}

func (b *Bridge) FlushFile(op *fuseops.FlushFileOp) {
	op.Respond(nil)
}

func (b *Bridge) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) {
	op.Respond(nil)
}
