package clockfs

// Option configures a FileSystem at Format or Mount time, following the same
// functional-options shape as the teacher's writer.go WriterOption / super.go
// Option: each Option mutates a private config struct and can fail validation.
type Option func(*config) error

type config struct {
	rootEntries int
	compression string
}

func defaultConfig() *config {
	return &config{
		rootEntries: 16,
	}
}

// WithRootEntries sets how many directory-entry slots the root directory is
// pre-sized to hold at Format time (spec.md §4.4). Growth beyond this is handled
// by Directory.Add same as any other directory; this only controls the initial
// allocation.
func WithRootEntries(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return Bug("clockfs: WithRootEntries requires a positive entry count")
		}
		c.rootEntries = n
		return nil
	}
}

// WithCacheBlocks is accepted for symmetry with the rest of the options surface,
// but the buffer cache's 64-entry capacity is mandated by spec.md §4.2 and is not
// actually tunable; any value other than CacheBlocks is rejected rather than
// silently ignored.
func WithCacheBlocks(n int) Option {
	return func(c *config) error {
		if n != CacheBlocks {
			return Bug("clockfs: cache size is fixed at CacheBlocks entries")
		}
		return nil
	}
}

// WithCompression selects the codec Snapshot/Restore use (snapshot.go). Valid
// values are "zstd" and "xz", each gated behind its own build tag; the empty
// string (the default) disables compression and Snapshot writes a raw image.
func WithCompression(name string) Option {
	return func(c *config) error {
		switch name {
		case "", "zstd", "xz":
			c.compression = name
			return nil
		default:
			return Bug("clockfs: unknown compression codec " + name)
		}
	}
}
