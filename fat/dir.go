package fat

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/dargueta/libresd"
)

// DirEntry is a directory listing descriptor: the decoded metadata plus
// a (sector, byte-offset) back-pointer to the 8.3 slot on disk, used for
// later fixup (close, rename, delete) without holding a live reference
// into the directory (spec.md section 9's "cyclic back-references").
type DirEntry struct {
	Name         string
	Attr         uint8
	Size         uint32
	FirstCluster uint32
	Created      libresd.DateTime
	Modified     libresd.DateTime
	Accessed     libresd.DateTime

	dirSector uint32
	dirOffset int
}

func (e DirEntry) IsDir() bool { return e.Attr&attrDirectory != 0 }

// errDirEOF is an internal sentinel used to stop a directory sector walk
// at the first 0x00 (end-of-directory) entry; it is never returned to a
// caller of readDirEntries.
var errDirEOF = errors.New("end of directory")

// walkDirSectors calls fn with each sector number making up the
// directory starting at startCluster (cluster 0 means the FAT12/16 fixed
// root), stopping early if fn returns stop=true.
func (v *Volume) walkDirSectors(startCluster uint32, fn func(sector uint32) (bool, error)) error {
	if startCluster == 0 && v.bs.Variant != VariantFAT32 {
		for i := uint32(0); i < v.bs.RootDirSectors; i++ {
			stop, err := fn(v.bs.RootStartSector + i)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
		return nil
	}

	cluster := startCluster
	if cluster == 0 {
		cluster = v.bs.RootCluster
	}
	for cluster >= 2 {
		base := v.clusterToSector(cluster)
		for i := uint32(0); i < uint32(v.bs.SectorsPerCluster); i++ {
			stop, err := fn(base + i)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
		next, err := v.readEntry(cluster)
		if err != nil {
			return err
		}
		if next < 2 || isEOC(v.bs.Variant, next) {
			break
		}
		cluster = next
	}
	return nil
}

// readDirEntries reads every live entry of the directory starting at
// startCluster, classifying each 32-byte slot per spec.md section 4.3.
func (v *Volume) readDirEntries(startCluster uint32) ([]DirEntry, error) {
	var entries []DirEntry
	var lfn lfnAccumulator

	err := v.walkDirSectors(startCluster, func(sector uint32) (bool, error) {
		buf := make([]byte, 512)
		if err := v.dev.ReadSector(sector, buf); err != nil {
			return true, libresd.Wrap(libresd.ErrReadError, err)
		}

		for off := 0; off < 512; off += direntSize {
			slot := buf[off : off+direntSize]
			switch slot[0] {
			case 0x00:
				return true, errDirEOF
			case 0xE5:
				lfn.reset()
				continue
			}

			if slot[11] == attrLFN {
				lfn.add(decodeLFNSlot(slot))
				continue
			}
			if slot[11]&attrVolumeID != 0 {
				lfn.reset()
				continue
			}

			raw := decodeRawDirent(slot)
			name := decodeName83(raw.Name)
			if long, ok := lfn.string(); ok {
				name = long
			}
			lfn.reset()

			entries = append(entries, DirEntry{
				Name:         name,
				Attr:         raw.Attr,
				Size:         raw.FileSize,
				FirstCluster: uint32(raw.ClusterHi)<<16 | uint32(raw.ClusterLo),
				Created:      libresd.UnpackDateTime(raw.CreateDate, raw.CreateTime),
				Modified:     libresd.UnpackDateTime(raw.ModifyDate, raw.ModifyTime),
				Accessed:     libresd.UnpackDateTime(raw.AccessDate, 0),
				dirSector:    sector,
				dirOffset:    off,
			})
		}
		return false, nil
	})
	if err != nil && err != errDirEOF {
		return nil, err
	}
	return entries, nil
}

// findFreeSlot locates the first 0xE5/0x00 slot in the directory starting
// at parentCluster, growing the directory (allocating a new cluster) if
// the existing allocation is full. For the fixed FAT12/16 root, growth is
// impossible and a full root reports ErrRootFull.
func (v *Volume) findFreeSlot(parentCluster uint32) (sector uint32, offset int, err error) {
	found := false
	var foundSector uint32
	var foundOffset int

	walkErr := v.walkDirSectors(parentCluster, func(sector uint32) (bool, error) {
		buf := make([]byte, 512)
		if err := v.dev.ReadSector(sector, buf); err != nil {
			return true, libresd.Wrap(libresd.ErrReadError, err)
		}
		for off := 0; off < 512; off += direntSize {
			if buf[off] == 0x00 || buf[off] == 0xE5 {
				found = true
				foundSector = sector
				foundOffset = off
				return true, nil
			}
		}
		return false, nil
	})
	if walkErr != nil {
		return 0, 0, walkErr
	}
	if found {
		return foundSector, foundOffset, nil
	}

	if parentCluster == 0 && v.bs.Variant != VariantFAT32 {
		return 0, 0, libresd.New(libresd.ErrRootFull)
	}

	cluster := parentCluster
	if cluster == 0 {
		cluster = v.bs.RootCluster
	}
	last := v.lastClusterOf(cluster)
	newCluster, err := v.allocCluster(last)
	if err != nil {
		return 0, 0, err
	}
	if err := v.zeroCluster(newCluster); err != nil {
		return 0, 0, err
	}
	return v.clusterToSector(newCluster), 0, nil
}

// createEntry writes a new 8.3 directory entry (zeroed cluster/size) into
// the first free slot of the directory at parentCluster and returns its
// descriptor, back-pointer included.
func (v *Volume) createEntry(parentCluster uint32, name string, attr uint8) (DirEntry, error) {
	encoded, err := encodeName83(name)
	if err != nil {
		return DirEntry{}, err
	}
	sector, offset, err := v.findFreeSlot(parentCluster)
	if err != nil {
		return DirEntry{}, err
	}

	now := libresd.Now(v.hal)
	raw := rawDirent{
		Name:       encoded,
		Attr:       attr | attrArchive,
		CreateDate: libresd.PackDate(now),
		CreateTime: libresd.PackTime(now),
		ModifyDate: libresd.PackDate(now),
		ModifyTime: libresd.PackTime(now),
		AccessDate: libresd.PackDate(now),
	}

	buf := make([]byte, 512)
	if err := v.dev.ReadSector(sector, buf); err != nil {
		return DirEntry{}, libresd.Wrap(libresd.ErrReadError, err)
	}
	raw.encode(buf[offset : offset+direntSize])
	if err := v.dev.WriteSector(sector, buf); err != nil {
		return DirEntry{}, libresd.Wrap(libresd.ErrWriteError, err)
	}

	return DirEntry{
		Name: name, Attr: raw.Attr,
		Created: now, Modified: now, Accessed: now,
		dirSector: sector, dirOffset: offset,
	}, nil
}

// deleteEntry marks e's 8.3 slot free (first byte 0xE5). Preceding LFN
// slots are not rewritten -- a documented gap, see DESIGN.md.
func (v *Volume) deleteEntry(e DirEntry) error {
	buf := make([]byte, 512)
	if err := v.dev.ReadSector(e.dirSector, buf); err != nil {
		return libresd.Wrap(libresd.ErrReadError, err)
	}
	buf[e.dirOffset] = 0xE5
	if err := v.dev.WriteSector(e.dirSector, buf); err != nil {
		return libresd.Wrap(libresd.ErrWriteError, err)
	}
	return nil
}

// setEntryCluster rewrites only the first-cluster fields of e's 8.3 slot,
// used by makeDirectory once the new directory's cluster is known.
func (v *Volume) setEntryCluster(e DirEntry, cluster uint32) error {
	buf := make([]byte, 512)
	if err := v.dev.ReadSector(e.dirSector, buf); err != nil {
		return libresd.Wrap(libresd.ErrReadError, err)
	}
	binary.LittleEndian.PutUint16(buf[e.dirOffset+20:e.dirOffset+22], uint16(cluster>>16))
	binary.LittleEndian.PutUint16(buf[e.dirOffset+26:e.dirOffset+28], uint16(cluster))
	if err := v.dev.WriteSector(e.dirSector, buf); err != nil {
		return libresd.Wrap(libresd.ErrWriteError, err)
	}
	return nil
}

// updateEntryMeta rewrites e's cluster, size, and modify timestamp
// fields, used by File.Close's write-mode fixup.
func (v *Volume) updateEntryMeta(e DirEntry, cluster, size uint32, t libresd.DateTime) error {
	buf := make([]byte, 512)
	if err := v.dev.ReadSector(e.dirSector, buf); err != nil {
		return libresd.Wrap(libresd.ErrReadError, err)
	}
	off := e.dirOffset
	binary.LittleEndian.PutUint16(buf[off+20:off+22], uint16(cluster>>16))
	binary.LittleEndian.PutUint16(buf[off+26:off+28], uint16(cluster))
	binary.LittleEndian.PutUint32(buf[off+28:off+32], size)
	binary.LittleEndian.PutUint16(buf[off+22:off+24], libresd.PackTime(t))
	binary.LittleEndian.PutUint16(buf[off+24:off+26], libresd.PackDate(t))
	if err := v.dev.WriteSector(e.dirSector, buf); err != nil {
		return libresd.Wrap(libresd.ErrWriteError, err)
	}
	return nil
}

// makeDirectory creates the 8.3 entry, allocates one cluster for its
// contents, and writes the "." and ".." slots. ".." always stores a zero
// parent cluster -- a documented shortcut carried over unmodified, not a
// bug this port fixes (see DESIGN.md's Open Questions).
func (v *Volume) makeDirectory(parentCluster uint32, name string) (DirEntry, error) {
	entry, err := v.createEntry(parentCluster, name, attrDirectory)
	if err != nil {
		return DirEntry{}, err
	}

	cluster, err := v.allocCluster(0)
	if err != nil {
		return DirEntry{}, err
	}
	if err := v.zeroCluster(cluster); err != nil {
		return DirEntry{}, err
	}

	now := libresd.Now(v.hal)
	self := rawDirent{
		Name: dotName(), Attr: attrDirectory,
		ClusterHi:  uint16(cluster >> 16),
		ClusterLo:  uint16(cluster),
		CreateDate: libresd.PackDate(now), CreateTime: libresd.PackTime(now),
		ModifyDate: libresd.PackDate(now), ModifyTime: libresd.PackTime(now),
	}
	parent := rawDirent{
		Name: dotDotName(), Attr: attrDirectory,
		CreateDate: libresd.PackDate(now), CreateTime: libresd.PackTime(now),
		ModifyDate: libresd.PackDate(now), ModifyTime: libresd.PackTime(now),
	}

	buf := make([]byte, 512)
	self.encode(buf[0:32])
	parent.encode(buf[32:64])
	if err := v.dev.WriteSector(v.clusterToSector(cluster), buf); err != nil {
		return DirEntry{}, libresd.Wrap(libresd.ErrWriteError, err)
	}

	if err := v.setEntryCluster(entry, cluster); err != nil {
		return DirEntry{}, err
	}
	entry.FirstCluster = cluster
	entry.Attr = attrDirectory | attrArchive
	return entry, nil
}

// removeDirectory requires every entry besides "." and ".." to be
// absent, aggregating each survivor into one ErrDirectoryNotEmpty.
func (v *Volume) removeDirectory(e DirEntry) error {
	entries, err := v.readDirEntries(e.FirstCluster)
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, child := range entries {
		if child.Name == "." || child.Name == ".." {
			continue
		}
		result = multierror.Append(result, fmt.Errorf("%s is present", child.Name))
	}
	if result.ErrorOrNil() != nil {
		return libresd.Newf(libresd.ErrDirectoryNotEmpty, "%s", result.Error())
	}

	if err := v.freeChain(e.FirstCluster); err != nil {
		return err
	}
	return v.deleteEntry(e)
}
