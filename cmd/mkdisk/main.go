// Command mkdisk builds a bootable disk image: a kernel-image region
// (copied verbatim from the inputs given on the command line), a fresh
// file system populated from a host skeleton directory, and a
// write-ahead log region. Grounded on biscuit's mkfs command
// (mkfs/mkfs.go): the same addfiles/copydata walk over a skeleton
// directory, driven here through this module's vfs.Fs instead of
// ufs.Ufs_t/fs.Fs_t.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"maverickos/bcache"
	"maverickos/blockdev"
	"maverickos/defs"
	"maverickos/dir"
	"maverickos/fd"
	"maverickos/inode"
	"maverickos/sched"
	"maverickos/upath"
	"maverickos/vfs"
	"maverickos/wal"
)

const (
	defaultNinodeBlocks = 100 * 50
	defaultNdatablocks  = 40000
	defaultNlogblocks   = 1024
)

func main() {
	out := flag.String("out", "", "output disk image path (required)")
	skel := flag.String("skel", "", "host directory tree to copy into the new file system")
	kernel := flag.String("kernel", "", "kernel image to embed in the disk's kernel region (optional)")
	ninodeBlocks := flag.Int("inodeblocks", defaultNinodeBlocks, "inode region size, in blocks")
	ndatablocks := flag.Int("datablocks", defaultNdatablocks, "data region size, in blocks")
	nlogblocks := flag.Int("logblocks", defaultNlogblocks, "write-ahead log region size, in blocks")
	flag.Parse()

	if *out == "" {
		fmt.Fprintln(os.Stderr, "usage: mkdisk -out <image> [-skel <dir>] [-kernel <image>]")
		os.Exit(1)
	}

	kernelSectors := 0
	if *kernel != "" {
		info, err := os.Stat(*kernel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mkdisk: stat kernel image: %v\n", err)
			os.Exit(1)
		}
		kernelSectors = int((info.Size() + blockdev.SectorSize - 1) / blockdev.SectorSize)
	}

	const inodeBase = 1
	dataBase := inodeBase + *ninodeBlocks
	filesysSectors := dataBase + *ndatablocks

	layout := blockdev.NewLayout(kernelSectors, filesysSectors, 0, 0, *nlogblocks, 0)

	fdisk, err := blockdev.OpenFileDisk(*out, layout.TotalSectors())
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkdisk: open %s: %v\n", *out, err)
		os.Exit(1)
	}
	defer fdisk.Close()

	if *kernel != "" {
		if err := copyKernelImage(fdisk, *kernel); err != nil {
			fmt.Fprintf(os.Stderr, "mkdisk: embed kernel image: %v\n", err)
			os.Exit(1)
		}
	}

	_, fsStart, fsCount := layout.RoleRange(blockdev.RoleFilesys)
	_, walStart, walCount := layout.RoleRange(blockdev.RoleWAL)
	fsRegion := blockdev.NewRoleDisk(fdisk, fsStart, fsCount)
	walRegion := blockdev.NewRoleDisk(fdisk, walStart, walCount)

	s := sched.New(sched.ModePriority)
	cache := bcache.New(s, fsRegion, 256, time.Hour, 0)
	log, lerr := wal.Open(walRegion, cache, 0)
	if lerr != 0 {
		fmt.Fprintf(os.Stderr, "mkdisk: open write-ahead log: errno %d\n", lerr)
		os.Exit(1)
	}

	store := inode.NewStore(s, fsRegion, cache, log, *ninodeBlocks*inode.InodesPerBlock, *ndatablocks, inodeBase, dataBase)
	store.MarkInodeUsed(0)

	var mkErr error
	done := make(chan struct{})
	s.Spawn("mkdisk", sched.PriDefault, nil, func(self *sched.Thread) {
		defer close(done)

		txid, terr := log.Begin()
		if terr != 0 {
			mkErr = fmt.Errorf("begin root transaction: errno %d", terr)
			return
		}
		rootInum, rerr := store.AllocInode(txid)
		if rerr != 0 {
			mkErr = fmt.Errorf("allocate root inode: errno %d", rerr)
			return
		}
		rootIno, gerr := store.Get(rootInum)
		if gerr != 0 {
			mkErr = fmt.Errorf("get root inode: errno %d", gerr)
			return
		}
		rootIno.SetMeta(txid, inode.TypeDir, 2)
		rd := &dir.Dir{Ino: rootIno}
		rd.Insert(self, txid, upath.Dot, rootInum)
		rd.Insert(self, txid, upath.DotDot, rootInum)
		rootIno.Put(self)
		if cerr := log.Commit(txid); cerr != 0 {
			mkErr = fmt.Errorf("commit root transaction: errno %d", cerr)
			return
		}

		fs := vfs.New(store, log, rootInum)
		if *skel != "" {
			if err := addfiles(self, fs, *skel); err != nil {
				mkErr = err
				return
			}
		}
	})
	<-done
	if mkErr != nil {
		fmt.Fprintf(os.Stderr, "mkdisk: %v\n", mkErr)
		os.Exit(1)
	}

	if err := fdisk.Flush(); err != 0 {
		fmt.Fprintf(os.Stderr, "mkdisk: flush: errno %d\n", err)
		os.Exit(1)
	}
}

func copyKernelImage(fdisk *blockdev.FileDisk, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, blockdev.SectorSize)
	for sector := 0; ; sector++ {
		n, rerr := io.ReadFull(f, buf)
		if n > 0 {
			if n < len(buf) {
				for i := n; i < len(buf); i++ {
					buf[i] = 0
				}
			}
			if werr := fdisk.WriteSector(sector, buf); werr != 0 {
				return fmt.Errorf("write kernel sector %d: errno %d", sector, werr)
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// addfiles walks skeldir on the host and replicates its contents into
// fs, the same traversal mkfs/mkfs.go's addfiles performs over
// ufs.Ufs_t.
func addfiles(t *sched.Thread, fs *vfs.Fs, skeldir string) error {
	cwd, err := fs.RootCwd(t)
	if err != 0 {
		return fmt.Errorf("open root cwd: errno %d", err)
	}

	return filepath.WalkDir(skeldir, func(path string, d os.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		rel := strings.TrimPrefix(path, skeldir)
		if rel == "" {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, "/") {
			rel = "/" + rel
		}

		if d.IsDir() {
			if ferr := fs.Mkdir(t, cwd, upath.Path(rel)); ferr != 0 {
				return fmt.Errorf("mkdir %s: errno %d", rel, ferr)
			}
			return nil
		}
		return copyFile(t, fs, cwd, path, rel)
	})
}

func copyFile(t *sched.Thread, fs *vfs.Fs, cwd *fd.Cwd_t, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	f, ferr := fs.Open(t, cwd, upath.Path(dst), defs.O_CREAT|defs.O_RDWR)
	if ferr != 0 {
		return fmt.Errorf("create %s: errno %d", dst, ferr)
	}
	defer fs.Close(t, f)

	buf := make([]byte, blockdev.SectorSize)
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := fs.Write(t, f, buf[:n]); werr != 0 {
				return fmt.Errorf("write %s: errno %d", dst, werr)
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
