// Command clockfsctl formats, inspects, and snapshots clockfs volumes.
// Grounded on the teacher's cmd/sqfs/main.go flag-per-subcommand shape, with
// list_squashfs.go's recursive listing generalized into the walk subcommand.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-clockfs/clockfs"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "format":
		runFormat(os.Args[2:])
	case "stat":
		runStat(os.Args[2:])
	case "walk":
		runWalk(os.Args[2:])
	case "snapshot":
		runSnapshot(os.Args[2:])
	case "restore":
		runRestore(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: clockfsctl <format|stat|walk|snapshot|restore> [flags]")
}

func runFormat(args []string) {
	fs := flag.NewFlagSet("format", flag.ExitOnError)
	path := fs.String("device", "", "path to the backing image file")
	sectors := fs.Uint("sectors", 8192, "sector count for a newly created image")
	rootEntries := fs.Int("root-entries", 16, "initial root directory capacity")
	fs.Parse(args)

	if *path == "" {
		log.Fatal("clockfsctl format: -device is required")
	}

	dev, err := clockfs.OpenFileDevice(*path, uint32(*sectors), false)
	if err != nil {
		log.Fatalf("clockfsctl format: %v", err)
	}
	defer dev.Close()

	if err := clockfs.Format(dev, clockfs.WithRootEntries(*rootEntries)); err != nil {
		log.Fatalf("clockfsctl format: %v", err)
	}
	fmt.Printf("formatted %s: %d sectors\n", *path, *sectors)
}

func runStat(args []string) {
	fs := flag.NewFlagSet("stat", flag.ExitOnError)
	path := fs.String("device", "", "path to the backing image file")
	fs.Parse(args)
	if *path == "" {
		log.Fatal("clockfsctl stat: -device is required")
	}

	dev, err := clockfs.OpenFileDevice(*path, 0, false)
	if err != nil {
		log.Fatalf("clockfsctl stat: %v", err)
	}
	defer dev.Close()

	fsys, err := clockfs.Mount(dev)
	if err != nil {
		log.Fatalf("clockfsctl stat: %v", err)
	}
	t := clockfs.NewTask("clockfsctl", 0)
	defer fsys.Unmount(t)

	hits, misses, allocated, total := fsys.Stats(t)
	fmt.Printf("cache: %d hits, %d misses\n", hits, misses)
	fmt.Printf("free-map: %d/%d sectors allocated\n", allocated, total)
}

func runWalk(args []string) {
	fs := flag.NewFlagSet("walk", flag.ExitOnError)
	path := fs.String("device", "", "path to the backing image file")
	fs.Parse(args)
	if *path == "" {
		log.Fatal("clockfsctl walk: -device is required")
	}

	dev, err := clockfs.OpenFileDevice(*path, 0, false)
	if err != nil {
		log.Fatalf("clockfsctl walk: %v", err)
	}
	defer dev.Close()

	fsys, err := clockfs.Mount(dev)
	if err != nil {
		log.Fatalf("clockfsctl walk: %v", err)
	}
	t := clockfs.NewTask("clockfsctl", 0)
	defer fsys.Unmount(t)

	root, err := fsys.OpenRootDirectory(t)
	if err != nil {
		log.Fatalf("clockfsctl walk: %v", err)
	}
	defer root.Close(t)

	if err := walk(fsys, t, root, "/"); err != nil {
		log.Fatalf("clockfsctl walk: %v", err)
	}
}

func walk(fsys *clockfs.FileSystem, t *clockfs.Task, dir *clockfs.Directory, prefix string) error {
	names, err := dir.Names(t)
	if err != nil {
		return err
	}

	for _, name := range names {
		sector, ok, err := dir.Lookup(t, name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		full := prefix + name

		ino, err := fsys.OpenInode(t, sector)
		if err != nil {
			return err
		}

		if ino.IsDirectory() {
			fmt.Println(full + "/")
			sub, err := fsys.OpenDirectory(t, sector)
			fsys.CloseInode(t, ino)
			if err != nil {
				return err
			}
			err = walk(fsys, t, sub, full+"/")
			sub.Close(t)
			if err != nil {
				return err
			}
			continue
		}

		fmt.Printf("%s\t%d bytes\n", full, ino.Length())
		fsys.CloseInode(t, ino)
	}
	return nil
}

func runSnapshot(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	path := fs.String("device", "", "path to the backing image file")
	out := fs.String("out", "", "output snapshot path")
	codec := fs.String("codec", "", `compression codec: "", "zstd", or "xz"`)
	fs.Parse(args)
	if *path == "" || *out == "" {
		log.Fatal("clockfsctl snapshot: -device and -out are required")
	}

	dev, err := clockfs.OpenFileDevice(*path, 0, false)
	if err != nil {
		log.Fatalf("clockfsctl snapshot: %v", err)
	}
	defer dev.Close()

	fsys, err := clockfs.Mount(dev, clockfs.WithCompression(*codec))
	if err != nil {
		log.Fatalf("clockfsctl snapshot: %v", err)
	}
	t := clockfs.NewTask("clockfsctl", 0)
	defer fsys.Unmount(t)

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("clockfsctl snapshot: %v", err)
	}
	defer f.Close()

	if err := fsys.Snapshot(t, f, *codec); err != nil {
		log.Fatalf("clockfsctl snapshot: %v", err)
	}
}

func runRestore(args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	path := fs.String("device", "", "path to the backing image file to overwrite")
	in := fs.String("in", "", "snapshot path to restore from")
	sectors := fs.Uint("sectors", 8192, "sector count of the destination image")
	codec := fs.String("codec", "", "compression codec the snapshot was written with")
	fs.Parse(args)
	if *path == "" || *in == "" {
		log.Fatal("clockfsctl restore: -device and -in are required")
	}

	dev, err := clockfs.OpenFileDevice(*path, uint32(*sectors), false)
	if err != nil {
		log.Fatalf("clockfsctl restore: %v", err)
	}
	defer dev.Close()

	f, err := os.Open(*in)
	if err != nil {
		log.Fatalf("clockfsctl restore: %v", err)
	}
	defer f.Close()

	if err := clockfs.Restore(dev, f, *codec); err != nil {
		log.Fatalf("clockfsctl restore: %v", err)
	}
}
