package clockfs

import "testing"

func TestCreateFileDuplicateNameFails(t *testing.T) {
	fsys, _ := newTestFileSystem(t, 4096)
	task := NewTask("test", 0)

	root, err := fsys.OpenRootDirectory(task)
	if err != nil {
		t.Fatalf("open root: %v", err)
	}
	defer root.Close(task)

	if err := fsys.CreateFile(task, root, "dup"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := fsys.CreateFile(task, root, "dup"); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	names, err := root.Names(task)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("expected exactly one surviving entry after the failed duplicate create, got %v", names)
	}
}

func TestOpenFileOnDirectoryFails(t *testing.T) {
	fsys, _ := newTestFileSystem(t, 4096)
	task := NewTask("test", 0)

	root, err := fsys.OpenRootDirectory(task)
	if err != nil {
		t.Fatalf("open root: %v", err)
	}
	defer root.Close(task)

	if err := fsys.Mkdir(task, root, "sub", 8); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := fsys.OpenFile(task, root, "sub"); err != ErrIsDirectory {
		t.Fatalf("expected ErrIsDirectory, got %v", err)
	}
}

func TestResolveMissingComponentFails(t *testing.T) {
	fsys, _ := newTestFileSystem(t, 4096)
	task := NewTask("test", 0)

	root, err := fsys.OpenRootDirectory(task)
	if err != nil {
		t.Fatalf("open root: %v", err)
	}
	defer root.Close(task)

	if _, err := fsys.ResolveInode(task, root, "no/such/path"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// A path component longer than NAME_MAX can never match a stored entry.
	overLong := make([]byte, NameMax+1)
	for i := range overLong {
		overLong[i] = 'z'
	}
	if _, err := fsys.ResolveInode(task, root, string(overLong)); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for an over-long component, got %v", err)
	}
}

func TestResolveOverLongIntermediateComponentFails(t *testing.T) {
	fsys, _ := newTestFileSystem(t, 4096)
	task := NewTask("test", 0)

	root, err := fsys.OpenRootDirectory(task)
	if err != nil {
		t.Fatalf("open root: %v", err)
	}
	defer root.Close(task)

	overLong := make([]byte, NameMax+1)
	for i := range overLong {
		overLong[i] = 'y'
	}
	path := string(overLong) + "/leaf"

	if _, err := fsys.ResolveInode(task, root, path); err != ErrNameTooLong {
		t.Fatalf("expected ErrNameTooLong for an over-long intermediate component, got %v", err)
	}
	if err := fsys.CreateFile(task, root, path); err != ErrNameTooLong {
		t.Fatalf("expected ErrNameTooLong creating through an over-long intermediate component, got %v", err)
	}
}

func TestResolveIdempotent(t *testing.T) {
	fsys, _ := newTestFileSystem(t, 4096)
	task := NewTask("test", 0)

	root, err := fsys.OpenRootDirectory(task)
	if err != nil {
		t.Fatalf("open root: %v", err)
	}
	defer root.Close(task)

	if err := fsys.Mkdir(task, root, "a", 8); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	sectorA, err := fsys.ResolveInode(task, root, "a")
	if err != nil {
		t.Fatalf("resolve a: %v", err)
	}
	sectorAAgain, err := fsys.ResolveInode(task, root, "a")
	if err != nil {
		t.Fatalf("resolve a again: %v", err)
	}
	if sectorA != sectorAAgain {
		t.Fatalf("expected idempotent resolution, got %d vs %d", sectorA, sectorAAgain)
	}
}
