package clockfs

import (
	"bytes"
	"io"
	"testing"
)

// newTestFileSystem formats and mounts a small in-memory volume for tests that
// want FileSystem-level machinery (free-map, arena, directories) without going
// through a real file on disk.
func newTestFileSystem(t *testing.T, sectors uint32) (*FileSystem, BlockDevice) {
	t.Helper()
	dev := newMockDevice(sectors)
	if err := Format(dev); err != nil {
		t.Fatalf("format: %v", err)
	}
	fsys, err := Mount(dev)
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	return fsys, dev
}

func allocInode(t *testing.T, fsys *FileSystem, length int64, isDirectory bool) uint32 {
	t.Helper()
	sector, ok := fsys.freeMap.Allocate(1)
	if !ok {
		t.Fatalf("allocate: free-map exhausted")
	}
	task := NewTask("test", 0)
	if err := fsys.CreateInode(task, sector, length, isDirectory); err != nil {
		t.Fatalf("create inode: %v", err)
	}
	return sector
}

// TestInodeRoundTrip reproduces spec.md §8's write/read round-trip law.
func TestInodeRoundTrip(t *testing.T) {
	fsys, _ := newTestFileSystem(t, 4096)
	task := NewTask("test", 0)

	sector := allocInode(t, fsys, 0, false)
	ino, err := fsys.OpenInode(task, sector)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer fsys.CloseInode(task, ino)

	payload := []byte("hello, clockfs")
	n, err := ino.WriteAt(task, payload, 100)
	if err != nil {
		t.Fatalf("write_at: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("expected %d bytes written, got %d", len(payload), n)
	}

	dst := make([]byte, len(payload))
	n, err = ino.ReadAt(task, dst, 100)
	if err != nil {
		t.Fatalf("read_at: %v", err)
	}
	if n != len(payload) || !bytes.Equal(dst, payload) {
		t.Fatalf("round trip mismatch: got %q", dst[:n])
	}
}

// TestInodeSparseWriteExtendsWithZeros reproduces spec.md §8 scenario 3.
func TestInodeSparseWriteExtendsWithZeros(t *testing.T) {
	fsys, _ := newTestFileSystem(t, 4096)
	task := NewTask("test", 0)

	sector := allocInode(t, fsys, 0, false)
	ino, err := fsys.OpenInode(task, sector)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer fsys.CloseInode(task, ino)

	if _, err := ino.WriteAt(task, []byte("ABCD"), 10000); err != nil {
		t.Fatalf("write_at: %v", err)
	}

	dst := make([]byte, 10004)
	n, err := ino.ReadAt(task, dst, 0)
	if err != nil {
		t.Fatalf("read_at: %v", err)
	}
	if n != 10004 {
		t.Fatalf("expected 10004 bytes, got %d", n)
	}
	for i := 0; i < 10000; i++ {
		if dst[i] != 0 {
			t.Fatalf("expected zero hole at byte %d, got %d", i, dst[i])
		}
	}
	if string(dst[10000:]) != "ABCD" {
		t.Fatalf("expected trailing ABCD, got %q", dst[10000:])
	}
}

// TestInodeDirectIndirectFrontier covers the 122*512 and 250*512 byte
// boundaries named in spec.md §8 "Boundary cases".
func TestInodeDirectIndirectFrontier(t *testing.T) {
	for _, blocks := range []int64{directPointers, directPointers + indirectPointers} {
		length := blocks * SectorSize
		fsys, _ := newTestFileSystem(t, 40000)
		task := NewTask("test", 0)

		sector := allocInode(t, fsys, 0, false)
		ino, err := fsys.OpenInode(task, sector)
		if err != nil {
			t.Fatalf("open: %v", err)
		}

		payload := bytes.Repeat([]byte{0xAB}, 16)
		if _, err := ino.WriteAt(task, payload, length-int64(len(payload))); err != nil {
			t.Fatalf("write_at at frontier %d: %v", length, err)
		}
		if got := ino.Length(); got != length {
			t.Fatalf("expected length %d, got %d", length, got)
		}

		dst := make([]byte, len(payload))
		if _, err := ino.ReadAt(task, dst, length-int64(len(payload))); err != nil {
			t.Fatalf("read_at at frontier %d: %v", length, err)
		}
		if !bytes.Equal(dst, payload) {
			t.Fatalf("frontier %d: round trip mismatch", length)
		}

		fsys.CloseInode(task, ino)
	}
}

// TestInodeLargeFileDoubleIndirect reproduces spec.md §8 scenario 4, at a scale
// that still runs quickly under `go test`.
func TestInodeLargeFileDoubleIndirect(t *testing.T) {
	const size = 600 * SectorSize // well past the singly-indirect frontier
	fsys, _ := newTestFileSystem(t, 4096)
	task := NewTask("test", 0)

	sector := allocInode(t, fsys, 0, false)
	ino, err := fsys.OpenInode(task, sector)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer fsys.CloseInode(task, ino)

	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	if _, err := ino.WriteAt(task, data, 0); err != nil {
		t.Fatalf("write_at: %v", err)
	}
	if got := ino.Length(); got != int64(size) {
		t.Fatalf("expected length %d, got %d", size, got)
	}

	offsets := []int64{0, SectorSize - 1, 123 * SectorSize, size - 1}
	for _, off := range offsets {
		dst := make([]byte, 1)
		if _, err := ino.ReadAt(task, dst, off); err != nil {
			t.Fatalf("read_at %d: %v", off, err)
		}
		if dst[0] != byte(off) {
			t.Fatalf("at offset %d expected %d, got %d", off, byte(off), dst[0])
		}
	}
}

// TestInodeRemoveOpenRace reproduces spec.md §8 scenario 5.
func TestInodeRemoveOpenRace(t *testing.T) {
	fsys, _ := newTestFileSystem(t, 4096)
	task := NewTask("test", 0)

	root, err := fsys.OpenRootDirectory(task)
	if err != nil {
		t.Fatalf("open root: %v", err)
	}
	defer root.Close(task)

	if err := fsys.CreateFile(task, root, "F"); err != nil {
		t.Fatalf("create: %v", err)
	}

	sector, ok, err := root.Lookup(task, "F")
	if err != nil || !ok {
		t.Fatalf("lookup F: ok=%v err=%v", ok, err)
	}

	h1, err := fsys.OpenInode(task, sector)
	if err != nil {
		t.Fatalf("open h1: %v", err)
	}
	h2, err := fsys.OpenInode(task, sector)
	if err != nil {
		t.Fatalf("open h2: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected open to return the canonical shared handle")
	}

	if _, err := h1.WriteAt(task, []byte("data"), 0); err != nil {
		t.Fatalf("write via h1: %v", err)
	}

	if err := fsys.Remove(task, root, "F"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	dst := make([]byte, 4)
	if _, err := h1.ReadAt(task, dst, 0); err != nil {
		t.Fatalf("read via h1 after remove: %v", err)
	}
	if _, err := h2.ReadAt(task, dst, 0); err != nil {
		t.Fatalf("read via h2 after remove: %v", err)
	}

	if err := fsys.CloseInode(task, h1); err != nil {
		t.Fatalf("close h1: %v", err)
	}
	if err := fsys.CloseInode(task, h2); err != nil {
		t.Fatalf("close h2: %v", err)
	}

	if _, ok, err := root.Lookup(task, "F"); err != nil || ok {
		t.Fatalf("expected F to be gone after both handles closed, ok=%v err=%v", ok, err)
	}
}

func TestCreateNameTooLong(t *testing.T) {
	fsys, _ := newTestFileSystem(t, 4096)
	task := NewTask("test", 0)

	root, err := fsys.OpenRootDirectory(task)
	if err != nil {
		t.Fatalf("open root: %v", err)
	}
	defer root.Close(task)

	ok := strings15()
	if err := fsys.CreateFile(task, root, ok); err != nil {
		t.Fatalf("create with NAME_MAX-length name should succeed: %v", err)
	}

	tooLong := ok + "x"
	if err := fsys.CreateFile(task, root, tooLong); err != ErrNameTooLong {
		t.Fatalf("expected ErrNameTooLong, got %v", err)
	}
}

// TestInodeSeekTellAndCursorReadWrite reproduces spec.md's supplemented
// seek/tell surface: Read/Write advance the cursor, and Seek/Tell observe and
// reposition it independent of any offset-parameterized ReadAt/WriteAt call.
func TestInodeSeekTellAndCursorReadWrite(t *testing.T) {
	fsys, _ := newTestFileSystem(t, 4096)
	task := NewTask("test", 0)

	sector := allocInode(t, fsys, 0, false)
	ino, err := fsys.OpenInode(task, sector)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer fsys.CloseInode(task, ino)

	if got := ino.Tell(); got != 0 {
		t.Fatalf("expected fresh handle to start at 0, got %d", got)
	}

	n, err := ino.Write(task, []byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("cursor write: n=%d err=%v", n, err)
	}
	if got := ino.Tell(); got != 5 {
		t.Fatalf("expected cursor at 5 after writing 5 bytes, got %d", got)
	}

	if _, err := ino.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("seek start: %v", err)
	}
	dst := make([]byte, 5)
	n, err = ino.Read(task, dst)
	if err != nil || n != 5 || string(dst) != "hello" {
		t.Fatalf("cursor read after rewind: n=%d err=%v data=%q", n, err, dst)
	}
	if got := ino.Tell(); got != 5 {
		t.Fatalf("expected cursor at 5 after reading 5 bytes, got %d", got)
	}

	pos, err := ino.Seek(-5, io.SeekCurrent)
	if err != nil || pos != 0 {
		t.Fatalf("seek current -5: pos=%d err=%v", pos, err)
	}

	pos, err = ino.Seek(0, io.SeekEnd)
	if err != nil || pos != 5 {
		t.Fatalf("seek end: pos=%d err=%v", pos, err)
	}

	if _, err := ino.Seek(-1, io.SeekStart); err != ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange seeking negative, got %v", err)
	}

	// Seeking past the current length is allowed; a later write there sparsely
	// extends the file rather than failing.
	if _, err := ino.Seek(100, io.SeekStart); err != nil {
		t.Fatalf("seek past EOF: %v", err)
	}
	if _, err := ino.Write(task, []byte("!")); err != nil {
		t.Fatalf("write past EOF via cursor: %v", err)
	}
	if got := ino.Length(); got != 101 {
		t.Fatalf("expected length 101 after extending write, got %d", got)
	}
}

func strings15() string {
	b := make([]byte, NameMax)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}
