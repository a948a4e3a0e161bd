package clockfs

import (
	"bytes"
	"encoding/binary"
	"sync"
)

// dirEntryNameLen mirrors pintos's NAME_MAX (14) plus one byte for the trailing
// NUL, so a full-length name still round-trips through a C-style fixed buffer.
const dirEntryNameLen = 15

// NameMax is the longest single path component clockfs accepts (spec.md §4.4).
const NameMax = dirEntryNameLen - 1

// dirEntrySize is the fixed on-disk size of one directory entry: a uint32 in-use
// flag, a uint32 inode sector, and a dirEntryNameLen-byte name field.
const dirEntrySize = 4 + 4 + dirEntryNameLen

// dirEntry is one slot of a directory's dense entry array (spec.md §4.4 "Directory
// entries"). Grounded on the teacher's dir.go entry encoding, generalized from a
// read-only archive listing to a mutable in_use/inode_sector/name record.
type dirEntry struct {
	inUse  bool
	sector uint32
	name   string
}

func (e *dirEntry) marshal() []byte {
	buf := make([]byte, dirEntrySize)
	if e.inUse {
		binary.LittleEndian.PutUint32(buf[0:4], 1)
	}
	binary.LittleEndian.PutUint32(buf[4:8], e.sector)
	copy(buf[8:8+dirEntryNameLen-1], e.name)
	return buf
}

func (e *dirEntry) unmarshal(buf []byte) {
	e.inUse = binary.LittleEndian.Uint32(buf[0:4]) != 0
	e.sector = binary.LittleEndian.Uint32(buf[4:8])
	raw := buf[8 : 8+dirEntryNameLen-1]
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	e.name = string(raw)
}

// Directory is a handle onto an inode that holds a dense array of dirEntry records
// (spec.md §4.4). `.` and `..` are never stored as entries; `.` is the directory
// itself and `..` is resolved from the underlying inode's ParentSector, per the
// resolved Open Question in DESIGN.md. Per spec.md §3 "Ownership", a directory
// handle wraps an inode handle with its own internal read-cursor; Reopen hands
// back an independent handle with the cursor reset, the same way a fresh open()
// would, not a cursor shared with the original handle.
type Directory struct {
	fsys *FileSystem
	ino  *Inode

	mu     sync.Mutex
	cursor int
}

// OpenRootDirectory opens the well-known root directory inode.
func (fsys *FileSystem) OpenRootDirectory(t *Task) (*Directory, error) {
	return fsys.OpenDirectory(t, fsys.rootSector)
}

// OpenDirectory opens the directory handle backed by the inode at sector.
func (fsys *FileSystem) OpenDirectory(t *Task, sector uint32) (*Directory, error) {
	ino, err := fsys.OpenInode(t, sector)
	if err != nil {
		return nil, err
	}
	if !ino.IsDirectory() {
		fsys.CloseInode(t, ino)
		return nil, ErrNotADirectory
	}
	return &Directory{fsys: fsys, ino: ino}, nil
}

// Reopen returns a second handle sharing the same underlying inode.
func (d *Directory) Reopen() *Directory {
	d.fsys.ReopenInode(d.ino)
	return &Directory{fsys: d.fsys, ino: d.ino}
}

// Close releases this handle (spec.md §4.4 "close").
func (d *Directory) Close(t *Task) error {
	return d.fsys.CloseInode(t, d.ino)
}

func (d *Directory) Sector() uint32 { return d.ino.Sector() }

// createDirectoryWithParent formats a brand-new directory inode at sector with
// `parent` recorded as its ParentSector, and pre-sizes it to hold at least
// initialEntries entries (spec.md §4.4 "create").
func (fsys *FileSystem) createDirectoryWithParent(t *Task, sector, parent uint32, initialEntries int) error {
	length := int64(initialEntries) * dirEntrySize
	if err := fsys.CreateInode(t, sector, length, true); err != nil {
		return err
	}
	ino, err := fsys.OpenInode(t, sector)
	if err != nil {
		return err
	}
	defer fsys.CloseInode(t, ino)
	return ino.SetParent(t, parent)
}

func (d *Directory) entryCount() int {
	return int(d.ino.Length() / dirEntrySize)
}

func (d *Directory) readEntry(t *Task, idx int) (dirEntry, error) {
	buf := make([]byte, dirEntrySize)
	if _, err := d.ino.ReadAt(t, buf, int64(idx)*dirEntrySize); err != nil {
		return dirEntry{}, err
	}
	var e dirEntry
	e.unmarshal(buf)
	return e, nil
}

func (d *Directory) writeEntry(t *Task, idx int, e dirEntry) error {
	_, err := d.ino.WriteAt(t, e.marshal(), int64(idx)*dirEntrySize)
	return err
}

// Lookup searches the entry array for name, returning the inode sector it points
// to (spec.md §4.4 "lookup"). `.` and `..` are handled without touching the stored
// entries.
func (d *Directory) Lookup(t *Task, name string) (uint32, bool, error) {
	if name == "." {
		return d.Sector(), true, nil
	}
	if name == ".." {
		return d.ino.ParentSector(), true, nil
	}

	n := d.entryCount()
	for i := 0; i < n; i++ {
		e, err := d.readEntry(t, i)
		if err != nil {
			return 0, false, err
		}
		if e.inUse && e.name == name {
			return e.sector, true, nil
		}
	}
	return 0, false, nil
}

// validateEntryName checks name against the constraints every directory entry
// must satisfy, independent of which directory it would be added to (spec.md
// §4.4 "bounding each to NAME_MAX (longer => failure)").
func validateEntryName(name string) error {
	if len(name) == 0 || len(name) > NameMax {
		return ErrNameTooLong
	}
	if name == "." || name == ".." {
		return ErrAlreadyExists
	}
	return nil
}

// Add inserts a new entry mapping name to sector, reusing a free slot if one
// exists and growing the directory by one entry otherwise (spec.md §4.4 "add").
func (d *Directory) Add(t *Task, name string, sector uint32) error {
	if err := validateEntryName(name); err != nil {
		return err
	}

	if _, found, err := d.Lookup(t, name); err != nil {
		return err
	} else if found {
		return ErrAlreadyExists
	}

	n := d.entryCount()
	for i := 0; i < n; i++ {
		e, err := d.readEntry(t, i)
		if err != nil {
			return err
		}
		if !e.inUse {
			return d.writeEntry(t, i, dirEntry{inUse: true, sector: sector, name: name})
		}
	}
	return d.writeEntry(t, n, dirEntry{inUse: true, sector: sector, name: name})
}

// Remove clears the entry for name (spec.md §4.4 "remove"). It does not itself
// decide whether the target may be unlinked (non-empty directory, open file with
// pending deallocation, ...); callers enforce those rules before calling Remove.
func (d *Directory) Remove(t *Task, name string) error {
	if name == "." || name == ".." {
		return ErrNotEmpty
	}

	n := d.entryCount()
	for i := 0; i < n; i++ {
		e, err := d.readEntry(t, i)
		if err != nil {
			return err
		}
		if e.inUse && e.name == name {
			return d.writeEntry(t, i, dirEntry{})
		}
	}
	return ErrNotFound
}

// Readdir advances d's internal read-cursor to the next in-use entry and returns
// its name (spec.md §4.4 "readdir(dir, out_name) -> bool": "advances the
// per-handle cursor over in-use entries, skipping `.` and `..`, returns next name
// or false at end"). `.` and `..` are never stored as entries, so the cursor
// never needs to skip them explicitly.
func (d *Directory) Readdir(t *Task) (name string, ok bool, err error) {
	d.mu.Lock()
	idx := d.cursor
	d.mu.Unlock()

	n := d.entryCount()
	for idx < n {
		e, err := d.readEntry(t, idx)
		idx++
		if err != nil {
			return "", false, err
		}
		if e.inUse {
			d.mu.Lock()
			d.cursor = idx
			d.mu.Unlock()
			return e.name, true, nil
		}
	}

	d.mu.Lock()
	d.cursor = idx
	d.mu.Unlock()
	return "", false, nil
}

// RewindReaddir resets d's read-cursor to the beginning, so a subsequent run of
// Readdir calls walks every in-use entry again.
func (d *Directory) RewindReaddir() {
	d.mu.Lock()
	d.cursor = 0
	d.mu.Unlock()
}

// Names returns every in-use entry's name in on-disk slot order in a single call,
// independent of and without disturbing the stateful Readdir cursor above. This
// is the shape callers that want a full listing at once reach for (the CLI's
// walk subcommand, the FUSE adapter's directory listing).
func (d *Directory) Names(t *Task) ([]string, error) {
	n := d.entryCount()
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		e, err := d.readEntry(t, i)
		if err != nil {
			return nil, err
		}
		if e.inUse {
			names = append(names, e.name)
		}
	}
	return names, nil
}

// IsEmpty reports whether the directory holds no entries besides the implicit
// `.`/`..` (spec.md §4.4 "remove" edge case: a non-empty directory cannot be
// unlinked).
func (d *Directory) IsEmpty(t *Task) (bool, error) {
	n := d.entryCount()
	for i := 0; i < n; i++ {
		e, err := d.readEntry(t, i)
		if err != nil {
			return false, err
		}
		if e.inUse {
			return false, nil
		}
	}
	return true, nil
}

func (d *Directory) Inode() *Inode { return d.ino }
