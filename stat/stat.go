// Package stat is the stat(2)-style metadata struct returned by the
// file-system façade. Grounded on biscuit's stat package (src/stat/*.go):
// a plain value struct with a handful of accessor methods, no behavior.
package stat

import "maverickos/inode"

/// Stat_t mirrors the subset of POSIX struct stat this kernel core
/// tracks.
type Stat_t struct {
	Inum  uint64
	Mode  uint32
	Size  uint64
	Nlink uint16
}

/// FromInode builds a Stat_t from an open inode's metadata.
func FromInode(inum inode.Inum, typ inode.FType, size uint64, nlink uint16) Stat_t {
	mode := uint32(0644)
	switch typ {
	case inode.TypeDir:
		mode |= 0040000
	case inode.TypeSym:
		mode |= 0120000
	case inode.TypeDev:
		mode |= 0020000
	default:
		mode |= 0100000
	}
	return Stat_t{Inum: uint64(inum), Mode: mode, Size: size, Nlink: nlink}
}
