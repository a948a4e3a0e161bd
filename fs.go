package clockfs

import "sync"

// FileSystem ties together the block device, buffer cache, free-map and the
// inode/directory layers into the single aggregate callers interact with -
// mirroring how the teacher's top-level reader wraps a RootReader over a
// TableReader over a ReaderAt (readerat.go/tablereader.go), except here every
// layer is read-write rather than read-only.
type FileSystem struct {
	dev BlockDevice

	cache      *BufferCache
	freeMap    FreeMap
	arena      *inodeArena
	rootSector uint32

	cwdMu sync.Mutex
	cwd   map[*Task]*Directory

	defaultCodec string
}

// Mount opens an already-formatted volume. Unlike the teacher's archives, a
// clockfs volume is never mounted implicitly; Format must be called first on a
// fresh device (spec.md supplemented feature, grounded on filesys.c's explicit
// fsFormat flag to filesys_init rather than an auto-format-on-first-use policy).
func Mount(dev BlockDevice, opts ...Option) (*FileSystem, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		if err := o(cfg); err != nil {
			return nil, err
		}
	}

	total := dev.SectorCount()
	freeMapStart := uint32(1)
	rootSector := freeMapStart + sectorsForBitmap(total)

	cache := NewBufferCache(dev)
	t := NewTask("mount", 0)

	freeMap, err := openBitmapFreeMap(t, cache, freeMapStart, total)
	if err != nil {
		return nil, err
	}

	fsys := &FileSystem{
		dev:        dev,
		cache:      cache,
		freeMap:    freeMap,
		arena:      newInodeArena(),
		rootSector: rootSector,
		cwd:        make(map[*Task]*Directory),

		defaultCodec: cfg.compression,
	}

	if _, err := readDiskInode(t, fsys, rootSector); err != nil {
		return nil, err
	}
	return fsys, nil
}

// Unmount persists the free-map, flushes the cache, and closes the device.
func (fsys *FileSystem) Unmount(t *Task) error {
	if err := fsys.freeMap.Persist(t); err != nil {
		return err
	}
	if err := fsys.cache.Flush(t); err != nil {
		return err
	}
	return fsys.dev.Close()
}

func (fsys *FileSystem) RootSector() uint32 { return fsys.rootSector }

func (fsys *FileSystem) Stats(t *Task) (hits, misses uint64, allocated, total uint32) {
	bm, _ := fsys.freeMap.(*bitmapFreeMap)
	if bm != nil {
		allocated = bm.popcount()
		total = bm.total
	}
	return fsys.cache.HitCount(t), fsys.cache.MissCount(t), allocated, total
}

// WorkingDirectory returns t's current working directory, opening a fresh handle
// on the root if none has been set (spec.md §4.4 "per-task working directory").
// The caller owns the returned handle and must Close it.
func (fsys *FileSystem) WorkingDirectory(t *Task) (*Directory, error) {
	fsys.cwdMu.Lock()
	d, ok := fsys.cwd[t]
	fsys.cwdMu.Unlock()
	if ok {
		return d.Reopen(), nil
	}
	return fsys.OpenRootDirectory(t)
}

// SetWorkingDirectory installs dir as t's working directory, closing whatever was
// previously set. SetWorkingDirectory takes ownership of dir.
func (fsys *FileSystem) SetWorkingDirectory(t *Task, dir *Directory) {
	fsys.cwdMu.Lock()
	old := fsys.cwd[t]
	fsys.cwd[t] = dir
	fsys.cwdMu.Unlock()
	if old != nil {
		old.Close(t)
	}
}

// Chdir resolves path relative to t's current working directory and makes the
// result the new working directory.
func (fsys *FileSystem) Chdir(t *Task, path string) error {
	cur, err := fsys.WorkingDirectory(t)
	if err != nil {
		return err
	}
	defer cur.Close(t)

	sector, err := fsys.ResolveInode(t, cur, path)
	if err != nil {
		return err
	}
	dir, err := fsys.OpenDirectory(t, sector)
	if err != nil {
		return err
	}
	fsys.SetWorkingDirectory(t, dir)
	return nil
}

// CreateFile creates a new, empty regular file named by path (spec.md §4.4,
// adapted from original_source/pintos/src/userprog/syscall.c's sys_create: an
// allocation, an inode format, and a directory entry, same three steps).
func (fsys *FileSystem) CreateFile(t *Task, start *Directory, path string) error {
	dir, name, err := fsys.OpenParentAndLeaf(t, start, path)
	if err != nil {
		return err
	}
	defer dir.Close(t)

	if err := validateEntryName(name); err != nil {
		return err
	}
	if _, found, err := dir.Lookup(t, name); err != nil {
		return err
	} else if found {
		return ErrAlreadyExists
	}

	sector, ok := fsys.freeMap.Allocate(1)
	if !ok {
		return ErrAllocationExhausted
	}
	if err := fsys.CreateInode(t, sector, 0, false); err != nil {
		fsys.freeMap.Release(sector, 1)
		return err
	}

	ino, err := fsys.OpenInode(t, sector)
	if err != nil {
		return err
	}
	setErr := ino.SetParent(t, dir.Sector())
	fsys.CloseInode(t, ino)
	if setErr != nil {
		return setErr
	}

	return dir.Add(t, name, sector)
}

// Mkdir creates a new subdirectory named by path, pre-sized to hold
// initialEntries entries.
func (fsys *FileSystem) Mkdir(t *Task, start *Directory, path string, initialEntries int) error {
	dir, name, err := fsys.OpenParentAndLeaf(t, start, path)
	if err != nil {
		return err
	}
	defer dir.Close(t)

	if err := validateEntryName(name); err != nil {
		return err
	}
	if _, found, err := dir.Lookup(t, name); err != nil {
		return err
	} else if found {
		return ErrAlreadyExists
	}

	sector, ok := fsys.freeMap.Allocate(1)
	if !ok {
		return ErrAllocationExhausted
	}
	if err := fsys.createDirectoryWithParent(t, sector, dir.Sector(), initialEntries); err != nil {
		fsys.freeMap.Release(sector, 1)
		return err
	}

	return dir.Add(t, name, sector)
}

// OpenFile resolves path and opens the inode it names, refusing directories.
func (fsys *FileSystem) OpenFile(t *Task, start *Directory, path string) (*Inode, error) {
	sector, err := fsys.ResolveInode(t, start, path)
	if err != nil {
		return nil, err
	}
	ino, err := fsys.OpenInode(t, sector)
	if err != nil {
		return nil, err
	}
	if ino.IsDirectory() {
		fsys.CloseInode(t, ino)
		return nil, ErrIsDirectory
	}
	return ino, nil
}

// Remove unlinks path: a file is removed outright; a directory is removed only
// if empty (spec.md §4.4 "remove"). The backing inode's sectors are released
// only once its last opener closes it (spec.md §4.3 "remove").
func (fsys *FileSystem) Remove(t *Task, start *Directory, path string) error {
	dir, name, err := fsys.OpenParentAndLeaf(t, start, path)
	if err != nil {
		return err
	}
	defer dir.Close(t)

	sector, ok, err := dir.Lookup(t, name)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}

	ino, err := fsys.OpenInode(t, sector)
	if err != nil {
		return err
	}
	defer fsys.CloseInode(t, ino)

	if ino.IsDirectory() {
		// Our own OpenInode above already counts as one opener; open_count > 1
		// here means some other handle (another task's cwd, a held *Directory)
		// still has it open (spec.md §4.4 "remove": "fails ... unless ...
		// no other opener has it open (open_count == 1)").
		if ino.OpenCount() != 1 {
			return ErrBusy
		}
		sub := &Directory{fsys: fsys, ino: ino}
		empty, err := sub.IsEmpty(t)
		if err != nil {
			return err
		}
		if !empty {
			return ErrNotEmpty
		}
	}

	if err := dir.Remove(t, name); err != nil {
		return err
	}
	ino.Remove()
	return nil
}
