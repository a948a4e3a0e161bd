//go:build fuse

package clockfs

import (
	"context"
	"syscall"

	fusefs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// node is the go-fuse InodeEmbedder backing every file and directory exposed
// by Serve. Grounded on the teacher's inode_fuse.go, which bridges the
// read-only SquashFS inode tree to fuse.RawFileSystem; node instead targets
// go-fuse's higher-level fs package, since clockfs additionally needs the
// writable operations (Create, Mkdir, Unlink, Rmdir, Write) the teacher's
// read-only adapter never implements.
type node struct {
	fusefs.Inode

	fsys   *FileSystem
	sector uint32
}

// fuseTask is the single clockfs Task identity every FUSE callback runs under.
// go-fuse does not expose the calling kernel thread in a way clockfs's
// priority-donation scheduler could use productively, so one task speaks for
// the whole mount; the mutual exclusion clockfs's locks provide is unaffected,
// only priority bookkeeping is coarser.
var fuseTask = NewTask("fuse", 0)

var (
	_ fusefs.NodeLookuper  = (*node)(nil)
	_ fusefs.NodeReaddirer = (*node)(nil)
	_ fusefs.NodeGetattrer = (*node)(nil)
	_ fusefs.NodeOpener    = (*node)(nil)
	_ fusefs.NodeCreater   = (*node)(nil)
	_ fusefs.NodeMkdirer   = (*node)(nil)
	_ fusefs.NodeUnlinker  = (*node)(nil)
	_ fusefs.NodeRmdirer   = (*node)(nil)
	_ fusefs.FileReader    = (*node)(nil)
	_ fusefs.FileWriter    = (*node)(nil)
)

func (n *node) openDir(t *Task) (*Directory, error) {
	return n.fsys.OpenDirectory(t, n.sector)
}

func (n *node) childNode(sector uint32) *fusefs.Inode {
	child := &node{fsys: n.fsys, sector: sector}
	stable := fusefs.StableAttr{Ino: uint64(sector)}
	return n.NewInode(context.Background(), child, stable)
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fusefs.Inode, syscall.Errno) {
	dir, err := n.openDir(fuseTask)
	if err != nil {
		return nil, errnoFor(err)
	}
	defer dir.Close(fuseTask)

	sector, ok, err := dir.Lookup(fuseTask, name)
	if err != nil {
		return nil, errnoFor(err)
	}
	if !ok {
		return nil, syscall.ENOENT
	}
	return n.childNode(sector), 0
}

func (n *node) Readdir(ctx context.Context) (fusefs.DirStream, syscall.Errno) {
	dir, err := n.openDir(fuseTask)
	if err != nil {
		return nil, errnoFor(err)
	}
	defer dir.Close(fuseTask)

	names, err := dir.Names(fuseTask)
	if err != nil {
		return nil, errnoFor(err)
	}

	entries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		sector, ok, err := dir.Lookup(fuseTask, name)
		if err != nil || !ok {
			continue
		}
		entries = append(entries, fuse.DirEntry{Name: name, Ino: uint64(sector)})
	}
	return fusefs.NewListDirStream(entries), 0
}

func (n *node) Getattr(ctx context.Context, f fusefs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	ino, err := n.fsys.OpenInode(fuseTask, n.sector)
	if err != nil {
		return errnoFor(err)
	}
	defer n.fsys.CloseInode(fuseTask, ino)

	if ino.IsDirectory() {
		out.Mode = syscall.S_IFDIR | 0755
	} else {
		out.Mode = syscall.S_IFREG | 0644
		out.Size = uint64(ino.Length())
	}
	return 0
}

func (n *node) Open(ctx context.Context, flags uint32) (fusefs.FileHandle, uint32, syscall.Errno) {
	return nil, 0, 0
}

func (n *node) Read(ctx context.Context, f fusefs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	ino, err := n.fsys.OpenInode(fuseTask, n.sector)
	if err != nil {
		return nil, errnoFor(err)
	}
	defer n.fsys.CloseInode(fuseTask, ino)

	nr, err := ino.ReadAt(fuseTask, dest, off)
	if err != nil {
		return nil, errnoFor(err)
	}
	return fuse.ReadResultData(dest[:nr]), 0
}

func (n *node) Write(ctx context.Context, f fusefs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	ino, err := n.fsys.OpenInode(fuseTask, n.sector)
	if err != nil {
		return 0, errnoFor(err)
	}
	defer n.fsys.CloseInode(fuseTask, ino)

	nw, err := ino.WriteAt(fuseTask, data, off)
	if err != nil {
		return 0, errnoFor(err)
	}
	return uint32(nw), 0
}

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fusefs.Inode, fusefs.FileHandle, uint32, syscall.Errno) {
	dir, err := n.openDir(fuseTask)
	if err != nil {
		return nil, nil, 0, errnoFor(err)
	}
	defer dir.Close(fuseTask)

	if err := n.fsys.CreateFile(fuseTask, dir, name); err != nil {
		return nil, nil, 0, errnoFor(err)
	}
	sector, _, err := dir.Lookup(fuseTask, name)
	if err != nil {
		return nil, nil, 0, errnoFor(err)
	}
	return n.childNode(sector), nil, 0, 0
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fusefs.Inode, syscall.Errno) {
	dir, err := n.openDir(fuseTask)
	if err != nil {
		return nil, errnoFor(err)
	}
	defer dir.Close(fuseTask)

	if err := n.fsys.Mkdir(fuseTask, dir, name, 8); err != nil {
		return nil, errnoFor(err)
	}
	sector, _, err := dir.Lookup(fuseTask, name)
	if err != nil {
		return nil, errnoFor(err)
	}
	return n.childNode(sector), 0
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	dir, err := n.openDir(fuseTask)
	if err != nil {
		return errnoFor(err)
	}
	defer dir.Close(fuseTask)
	return errnoFor(n.fsys.Remove(fuseTask, dir, name))
}

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	dir, err := n.openDir(fuseTask)
	if err != nil {
		return errnoFor(err)
	}
	defer dir.Close(fuseTask)
	return errnoFor(n.fsys.Remove(fuseTask, dir, name))
}

func errnoFor(err error) syscall.Errno {
	switch err {
	case nil:
		return 0
	case ErrNotFound:
		return syscall.ENOENT
	case ErrAlreadyExists:
		return syscall.EEXIST
	case ErrNotADirectory:
		return syscall.ENOTDIR
	case ErrIsDirectory:
		return syscall.EISDIR
	case ErrNotEmpty:
		return syscall.ENOTEMPTY
	case ErrBusy:
		return syscall.EBUSY
	case ErrNameTooLong:
		return syscall.ENAMETOOLONG
	case ErrAllocationExhausted:
		return syscall.ENOSPC
	case ErrOutOfRange:
		return syscall.EINVAL
	default:
		return syscall.EIO
	}
}

// Serve mounts fsys at mountpoint and blocks until it is unmounted, adapting it
// to the kernel's FUSE protocol through go-fuse (spec.md domain-stack wiring).
func Serve(fsys *FileSystem, mountpoint string) error {
	root := &node{fsys: fsys, sector: fsys.RootSector()}
	server, err := fusefs.Mount(mountpoint, root, &fusefs.Options{})
	if err != nil {
		return err
	}
	server.Wait()
	return nil
}
