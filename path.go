package clockfs

import "strings"

// splitPath breaks a path into its `/`-separated components, dropping empty
// segments produced by repeated or trailing slashes (spec.md §4.4 "Path
// resolution").
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// resolveDir walks every component but the last of path, starting from start if
// path is relative or the root if it is absolute, and returns a handle on the
// final directory. The caller is responsible for Close-ing the returned handle.
// Every intermediate component is bounded to NAME_MAX (spec.md §4.4 "Path
// resolution" step 2); an over-long final component is left to the caller's own
// lookup/validation, since a too-long name can never match a stored entry and a
// too-long name-to-create is already rejected by validateEntryName.
func (fsys *FileSystem) resolveDir(t *Task, start *Directory, path string) (*Directory, string, error) {
	components := splitPath(path)

	var cur *Directory
	var err error
	if strings.HasPrefix(path, "/") || start == nil {
		cur, err = fsys.OpenRootDirectory(t)
	} else {
		cur = start.Reopen()
	}
	if err != nil {
		return nil, "", err
	}

	if len(components) == 0 {
		return cur, "", nil
	}

	for _, name := range components[:len(components)-1] {
		if len(name) > NameMax {
			cur.Close(t)
			return nil, "", ErrNameTooLong
		}
		sector, ok, err := cur.Lookup(t, name)
		if err != nil {
			cur.Close(t)
			return nil, "", err
		}
		if !ok {
			cur.Close(t)
			return nil, "", ErrNotFound
		}
		next, err := fsys.OpenDirectory(t, sector)
		cur.Close(t)
		if err != nil {
			return nil, "", err
		}
		cur = next
	}

	return cur, components[len(components)-1], nil
}

// ResolveInode looks up the inode sector that path names, relative to start (the
// caller's current working directory) unless path is absolute.
func (fsys *FileSystem) ResolveInode(t *Task, start *Directory, path string) (uint32, error) {
	if path == "" || path == "." {
		if start != nil {
			return start.Sector(), nil
		}
		return fsys.rootSector, nil
	}

	dir, last, err := fsys.resolveDir(t, start, path)
	if err != nil {
		return 0, err
	}
	defer dir.Close(t)

	if last == "" {
		return dir.Sector(), nil
	}

	sector, ok, err := dir.Lookup(t, last)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotFound
	}
	return sector, nil
}

// OpenParentAndLeaf resolves every component of path but the last, returning the
// parent directory handle (caller must Close it) plus the final component name -
// the shape both CreateFile/Mkdir and Remove need to mutate the parent's entry
// array.
func (fsys *FileSystem) OpenParentAndLeaf(t *Task, start *Directory, path string) (*Directory, string, error) {
	dir, last, err := fsys.resolveDir(t, start, path)
	if err != nil {
		return nil, "", err
	}
	if last == "" {
		dir.Close(t)
		return nil, "", ErrAlreadyExists
	}
	return dir, last, nil
}
