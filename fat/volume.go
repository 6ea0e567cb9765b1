package fat

import (
	"strings"

	"github.com/boljen/go-bitmap"

	"github.com/dargueta/libresd"
	"github.com/dargueta/libresd/carddb"
)

// Volume is a mounted FAT filesystem: the parsed boot sector, the single
// shared FAT sector buffer (fatcache.go), the allocator's hint bitmap
// (alloc.go), and the current working directory for relative paths.
type Volume struct {
	dev BlockDevice
	hal libresd.HAL
	bs  BootSector
	cfg libresd.Config

	fatBuf       [512]byte
	fatBufSector uint32
	fatBufValid  bool
	fatBufDirty  bool

	lastAllocCluster  uint32
	freeClusters      uint32
	freeClustersKnown bool
	hintBitmap        bitmap.Bitmap
	hintPrimed        bool

	cwdCluster uint32
	cwdPath    string
}

// Mount parses dev's boot sector and returns a ready Volume. hal supplies
// timestamps for created/modified/accessed fields via libresd.Now.
func Mount(dev BlockDevice, hal libresd.HAL, cfg libresd.Config) (*Volume, error) {
	cfg = cfg.WithDefaults()

	bs, err := parseBootSector(dev)
	if err != nil {
		return nil, err
	}

	v := &Volume{dev: dev, hal: hal, bs: *bs, cfg: cfg}
	v.cwdCluster = v.rootCluster()
	v.cwdPath = "/"
	return v, nil
}

// Unmount flushes the FAT cache (sync). It does not otherwise reset the
// Volume; the Volume must not be used afterward.
func (v *Volume) Unmount() error {
	return v.Sync()
}

// GetFree returns the number of free clusters, multiplied out to bytes.
// The count is swept once (primeHintBitmap) and maintained incrementally
// by allocCluster/freeChain afterward, per spec.md section 4.5.
func (v *Volume) GetFree() (uint64, error) {
	if !v.freeClustersKnown {
		if err := v.primeHintBitmap(); err != nil {
			return 0, err
		}
	}
	return uint64(v.freeClusters) * uint64(v.clusterSize()), nil
}

// VolumeInfo bundles the volume-level facts spec.md section 4.5's
// GetInfo operation exposes, including a human-readable capacity class
// looked up from carddb when one is known.
type VolumeInfo struct {
	Variant        Variant
	Label          string
	SerialNumber   uint32
	BytesPerSector uint16
	ClusterSize    uint32
	ClusterCount   uint32
	TotalBytes     uint64
	FreeBytes      uint64
	CapacityClass  string
}

// GetInfo reports the volume's static geometry plus its current free
// space. CapacityClass is looked up in carddb from the data region's
// total size and is left empty when no class covers it.
func (v *Volume) GetInfo() (VolumeInfo, error) {
	free, err := v.GetFree()
	if err != nil {
		return VolumeInfo{}, err
	}
	total := uint64(v.bs.ClusterCount) * uint64(v.clusterSize())
	class := ""
	if c, err := carddb.Lookup(total); err == nil {
		class = c.Class
	}

	return VolumeInfo{
		Variant:        v.bs.Variant,
		Label:          v.bs.VolumeLabel,
		SerialNumber:   v.bs.VolumeSerial,
		BytesPerSector: v.bs.BytesPerSector,
		ClusterSize:    v.clusterSize(),
		ClusterCount:   v.bs.ClusterCount,
		TotalBytes:     total,
		FreeBytes:      free,
		CapacityClass:  class,
	}, nil
}

func (v *Volume) GetLabel() string { return v.bs.VolumeLabel }

// Stat resolves path and returns its directory entry descriptor.
func (v *Volume) Stat(path string) (DirEntry, error) {
	return v.resolvePath(path)
}

// Exists reports whether path resolves to an entry, swallowing
// ErrNotFound/ErrNotADirectory as false rather than propagating them.
func (v *Volume) Exists(path string) bool {
	_, err := v.resolvePath(path)
	return err == nil
}

// Unlink removes a file entry (not a directory) and frees its chain.
func (v *Volume) Unlink(path string) error {
	entry, err := v.resolvePath(path)
	if err != nil {
		return err
	}
	if entry.IsDir() {
		return libresd.New(libresd.ErrNotAFile)
	}
	if entry.FirstCluster >= 2 {
		if err := v.freeChain(entry.FirstCluster); err != nil {
			return err
		}
	}
	return v.deleteEntry(entry)
}

// Mkdir creates a new directory at path.
func (v *Volume) Mkdir(path string) (DirEntry, error) {
	parentCluster, name, err := v.parentOf(path)
	if err != nil {
		return DirEntry{}, err
	}
	if v.Exists(path) {
		return DirEntry{}, libresd.New(libresd.ErrAlreadyExists)
	}
	return v.makeDirectory(parentCluster, name)
}

// Rmdir removes an empty directory at path.
func (v *Volume) Rmdir(path string) error {
	entry, err := v.resolvePath(path)
	if err != nil {
		return err
	}
	if !entry.IsDir() {
		return libresd.New(libresd.ErrNotADirectory)
	}
	return v.removeDirectory(entry)
}

// Rename moves the entry at oldPath to newPath, both within the same
// volume. The entry's own 8.3 slot is rewritten in place when the parent
// directory is unchanged; otherwise a new entry is created at newPath and
// the old slot is freed, since the directory engine has no in-place
// cross-directory move primitive.
func (v *Volume) Rename(oldPath, newPath string) error {
	entry, err := v.resolvePath(oldPath)
	if err != nil {
		return err
	}
	if v.Exists(newPath) {
		return libresd.New(libresd.ErrAlreadyExists)
	}

	newParent, newName, err := v.parentOf(newPath)
	if err != nil {
		return err
	}
	oldParent, _, err := v.parentOf(oldPath)
	if err != nil {
		return err
	}

	if newParent == oldParent {
		encoded, err := encodeName83(newName)
		if err != nil {
			return err
		}
		return v.rewriteEntryName(entry, encoded)
	}

	moved, err := v.createEntry(newParent, newName, entry.Attr)
	if err != nil {
		return err
	}
	if err := v.updateEntryMeta(moved, entry.FirstCluster, entry.Size, entry.Modified); err != nil {
		return err
	}
	return v.deleteEntry(entry)
}

func (v *Volume) rewriteEntryName(e DirEntry, name [11]byte) error {
	buf := make([]byte, 512)
	if err := v.dev.ReadSector(e.dirSector, buf); err != nil {
		return libresd.Wrap(libresd.ErrReadError, err)
	}
	copy(buf[e.dirOffset:e.dirOffset+11], name[:])
	if err := v.dev.WriteSector(e.dirSector, buf); err != nil {
		return libresd.Wrap(libresd.ErrWriteError, err)
	}
	return nil
}

// Dir is an open directory listing cursor, returned by Opendir.
type Dir struct {
	entries []DirEntry
	pos     int
}

// Opendir resolves path and snapshots its entries for sequential Readdir
// calls.
func (v *Volume) Opendir(path string) (*Dir, error) {
	entry, err := v.resolvePath(path)
	if err != nil {
		return nil, err
	}
	if !entry.IsDir() {
		return nil, libresd.New(libresd.ErrNotADirectory)
	}
	entries, err := v.readDirEntries(entry.FirstCluster)
	if err != nil {
		return nil, err
	}
	return &Dir{entries: entries}, nil
}

// Readdir returns the next entry, or ErrEOF once the listing is
// exhausted.
func (d *Dir) Readdir() (DirEntry, error) {
	if d.pos >= len(d.entries) {
		return DirEntry{}, libresd.New(libresd.ErrEOF)
	}
	e := d.entries[d.pos]
	d.pos++
	return e, nil
}

// Closedir releases the cursor. Opendir's snapshot holds no disk
// resources, so this simply discards the entries.
func (d *Dir) Closedir() error {
	d.entries = nil
	return nil
}

// Chdir changes the volume's current working directory.
func (v *Volume) Chdir(path string) error {
	entry, err := v.resolvePath(path)
	if err != nil {
		return err
	}
	if !entry.IsDir() {
		return libresd.New(libresd.ErrNotADirectory)
	}
	v.cwdCluster = entry.FirstCluster
	v.cwdPath = v.joinCwdPath(path)
	return nil
}

// joinCwdPath computes the textual path that results from resolving path
// against cwdPath, mirroring resolvePath's cluster walk component by
// component -- including its ".." -> root shortcut -- so cwdPath never
// drifts out of sync with cwdCluster.
func (v *Volume) joinCwdPath(path string) string {
	var segs []string
	if !strings.HasPrefix(path, "/") {
		segs = splitPath(v.cwdPath)
	}

	for _, part := range splitPath(path) {
		switch part {
		case ".":
			continue
		case "..":
			segs = nil
		default:
			segs = append(segs, part)
		}
	}

	return "/" + strings.Join(segs, "/")
}

// Getcwd reports the textual path of the current working directory,
// maintained alongside cwdCluster by Chdir.
func (v *Volume) Getcwd() string {
	return v.cwdPath
}
