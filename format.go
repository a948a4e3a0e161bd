package clockfs

// Format initializes a fresh volume on dev: an all-free bitmap (save for the
// sectors the bitmap and root directory themselves occupy) and an empty root
// directory. Grounded on original_source/pintos/src/filesys/filesys.c's
// do_format, which performs the same two steps (free-map create, root directory
// create) before the free-map is written back and the cache flushed.
func Format(dev BlockDevice, opts ...Option) error {
	cfg := defaultConfig()
	for _, o := range opts {
		if err := o(cfg); err != nil {
			return err
		}
	}

	total := dev.SectorCount()
	freeMapStart := uint32(1)
	bitmapSectors := sectorsForBitmap(total)
	rootSector := freeMapStart + bitmapSectors

	// Sector 0 is never allocated: a pointer value of zero means "unallocated"
	// throughout the inode-indexing scheme (inode.go), so sector 0 must never
	// hold real data. reserved therefore covers [0, rootSector], i.e. the null
	// sentinel, the bitmap image, and the root directory inode.
	reserved := rootSector + 1
	if reserved > total {
		return ErrOutOfRange
	}

	cache := NewBufferCache(dev)
	freeMap := newBitmapFreeMap(cache, freeMapStart, total, reserved)

	fsys := &FileSystem{
		dev:        dev,
		cache:      cache,
		freeMap:    freeMap,
		arena:      newInodeArena(),
		rootSector: rootSector,
		cwd:        make(map[*Task]*Directory),

		defaultCodec: cfg.compression,
	}

	t := NewTask("format", 0)

	if err := fsys.createDirectoryWithParent(t, rootSector, rootSector, cfg.rootEntries); err != nil {
		return err
	}
	if err := freeMap.Persist(t); err != nil {
		return err
	}
	return cache.Flush(t)
}
