package fat

import "github.com/dargueta/libresd"

// Open-mode flags (spec.md section 4.4 / section 6).
const (
	ModeRead     = 0x01
	ModeWrite    = 0x02
	ModeAppend   = 0x04
	ModeCreate   = 0x08
	ModeTruncate = 0x10
	ModeExcl     = 0x20
)

// Seek whence values (spec.md section 6).
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// File is an open file handle: its own 512-byte sector buffer, a cursor
// into the cluster chain, and a non-owning back-pointer to the volume and
// the directory entry that describes it on disk.
type File struct {
	v    *Volume
	mode int

	entry DirEntry

	firstCluster uint32
	fileSize     uint32

	currentCluster uint32
	clusterOffset  uint32
	position       uint32

	buf       [512]byte
	bufSector uint32
	bufValid  bool
	bufDirty  bool

	closed bool
}

// Open resolves path and returns a handle per the mode flags, grounded on
// spec.md section 4.4's "Open modes" paragraph.
func (v *Volume) Open(path string, mode int) (*File, error) {
	entry, err := v.resolvePath(path)
	notFound := err != nil && libresd.Of(err) == libresd.ErrNotFound
	if err != nil && !notFound {
		return nil, err
	}

	if !notFound {
		if entry.IsDir() {
			return nil, libresd.New(libresd.ErrNotAFile)
		}
		if mode&ModeCreate != 0 && mode&ModeExcl != 0 {
			return nil, libresd.New(libresd.ErrAlreadyExists)
		}
		if mode&ModeTruncate != 0 {
			if entry.FirstCluster >= 2 {
				if err := v.freeChain(entry.FirstCluster); err != nil {
					return nil, err
				}
			}
			entry.FirstCluster = 0
			entry.Size = 0
			if err := v.updateEntryMeta(entry, 0, 0, libresd.Now(v.hal)); err != nil {
				return nil, err
			}
		}
	} else {
		if mode&ModeCreate == 0 {
			return nil, libresd.New(libresd.ErrNotFound)
		}
		parentCluster, name, perr := v.parentOf(path)
		if perr != nil {
			return nil, perr
		}
		entry, err = v.createEntry(parentCluster, name, 0)
		if err != nil {
			return nil, err
		}
	}

	f := &File{
		v: v, mode: mode, entry: entry,
		firstCluster:   entry.FirstCluster,
		fileSize:       entry.Size,
		currentCluster: entry.FirstCluster,
	}

	if mode&ModeAppend != 0 {
		if err := f.seekToEnd(); err != nil {
			return nil, err
		}
	}

	return f, nil
}

func (f *File) seekToEnd() error {
	f.position = f.fileSize
	if f.firstCluster < 2 {
		f.currentCluster = 0
		f.clusterOffset = 0
		return nil
	}

	clusterSize := f.v.clusterSize()
	remaining := f.fileSize
	cluster := f.firstCluster
	for remaining >= clusterSize && remaining > 0 {
		next, err := f.v.readEntry(cluster)
		if err != nil {
			return err
		}
		if next < 2 || isEOC(f.v.bs.Variant, next) {
			break
		}
		cluster = next
		remaining -= clusterSize
	}
	f.currentCluster = cluster
	f.clusterOffset = remaining
	return nil
}

func (f *File) ensureSector(sector uint32) error {
	if f.bufValid && f.bufSector == sector {
		return nil
	}
	if err := f.flushBuffer(); err != nil {
		return err
	}
	if err := f.v.dev.ReadSector(sector, f.buf[:]); err != nil {
		return libresd.Wrap(libresd.ErrReadError, err)
	}
	f.bufSector = sector
	f.bufValid = true
	f.bufDirty = false
	return nil
}

func (f *File) flushBuffer() error {
	if !f.bufValid || !f.bufDirty {
		return nil
	}
	if err := f.v.dev.WriteSector(f.bufSector, f.buf[:]); err != nil {
		return libresd.Wrap(libresd.ErrWriteError, err)
	}
	f.bufDirty = false
	return nil
}

// Read copies up to len(p) bytes starting at the current position,
// clamped to the remaining file size. Returns ErrEOF only when zero
// bytes were read from a position at or past fileSize.
func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, libresd.New(libresd.ErrInvalidHandle)
	}
	if f.mode&ModeRead == 0 {
		return 0, libresd.New(libresd.ErrReadOnly)
	}
	if f.position >= f.fileSize {
		return 0, libresd.New(libresd.ErrEOF)
	}

	remaining := f.fileSize - f.position
	want := uint32(len(p))
	if want > remaining {
		want = remaining
	}

	clusterSize := f.v.clusterSize()
	total := uint32(0)

	for total < want {
		if f.currentCluster < 2 {
			break
		}

		sectorInCluster := f.clusterOffset / 512
		byteOff := f.clusterOffset % 512
		sector := f.v.clusterToSector(f.currentCluster) + sectorInCluster

		if err := f.ensureSector(sector); err != nil {
			return int(total), err
		}

		n := 512 - byteOff
		if left := want - total; n > left {
			n = left
		}
		copy(p[total:total+n], f.buf[byteOff:byteOff+n])

		total += n
		f.position += n
		f.clusterOffset += n

		if f.clusterOffset == clusterSize {
			next, err := f.v.readEntry(f.currentCluster)
			if err != nil {
				return int(total), err
			}
			if next < 2 || isEOC(f.v.bs.Variant, next) {
				f.currentCluster = 0
			} else {
				f.currentCluster = next
			}
			f.clusterOffset = 0
		}
	}

	if total == 0 {
		return 0, libresd.New(libresd.ErrEOF)
	}
	return int(total), nil
}

// Write copies p into the file at the current position, allocating new
// clusters as needed and growing fileSize when position advances past it.
func (f *File) Write(p []byte) (int, error) {
	if f.closed {
		return 0, libresd.New(libresd.ErrInvalidHandle)
	}
	if f.mode&ModeWrite == 0 {
		return 0, libresd.New(libresd.ErrReadOnly)
	}

	clusterSize := f.v.clusterSize()
	want := uint32(len(p))
	total := uint32(0)

	for total < want {
		if f.currentCluster < 2 {
			cluster, err := f.v.allocCluster(0)
			if err != nil {
				return int(total), err
			}
			if err := f.v.zeroCluster(cluster); err != nil {
				return int(total), err
			}
			if f.firstCluster == 0 {
				f.firstCluster = cluster
			}
			f.currentCluster = cluster
			f.clusterOffset = 0
		} else if f.clusterOffset == clusterSize {
			next, err := f.v.readEntry(f.currentCluster)
			if err != nil {
				return int(total), err
			}
			if next < 2 || isEOC(f.v.bs.Variant, next) {
				next, err = f.v.allocCluster(f.currentCluster)
				if err != nil {
					return int(total), err
				}
				if err := f.v.zeroCluster(next); err != nil {
					return int(total), err
				}
			}
			f.currentCluster = next
			f.clusterOffset = 0
		}

		sectorInCluster := f.clusterOffset / 512
		byteOff := f.clusterOffset % 512
		sector := f.v.clusterToSector(f.currentCluster) + sectorInCluster

		left := want - total
		n := 512 - byteOff
		if n > left {
			n = left
		}

		if byteOff != 0 || n < 512 {
			if err := f.ensureSector(sector); err != nil {
				return int(total), err
			}
		} else if !f.bufValid || f.bufSector != sector {
			if err := f.flushBuffer(); err != nil {
				return int(total), err
			}
			f.bufSector = sector
			f.bufValid = true
		}

		copy(f.buf[byteOff:byteOff+n], p[total:total+n])
		f.bufDirty = true

		total += n
		f.position += n
		f.clusterOffset += n
		if f.position > f.fileSize {
			f.fileSize = f.position
		}
	}

	return int(total), nil
}

// Seek supports set/cur/end. Seeking backward (or to 0) resets the walk
// to firstCluster and replays forward, since the cluster chain offers no
// backward traversal; linear cost on rewind is accepted per spec.md
// section 4.4.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case SeekSet:
		newPos = offset
	case SeekCur:
		newPos = int64(f.position) + offset
	case SeekEnd:
		newPos = int64(f.fileSize) + offset
	default:
		return 0, libresd.New(libresd.ErrSeekError)
	}
	if newPos < 0 {
		return 0, libresd.New(libresd.ErrSeekError)
	}
	if f.mode&ModeWrite == 0 && newPos > int64(f.fileSize) {
		newPos = int64(f.fileSize)
	}

	target := uint32(newPos)
	if target < f.position {
		f.currentCluster = f.firstCluster
		f.clusterOffset = 0
		f.position = 0
	}

	clusterSize := f.v.clusterSize()
	for f.position < target {
		if f.currentCluster < 2 {
			break
		}
		remaining := target - f.position
		spaceInCluster := clusterSize - f.clusterOffset
		if remaining < spaceInCluster {
			f.clusterOffset += remaining
			f.position += remaining
			break
		}
		f.position += spaceInCluster
		next, err := f.v.readEntry(f.currentCluster)
		if err != nil {
			return 0, err
		}
		if next < 2 || isEOC(f.v.bs.Variant, next) {
			f.clusterOffset = spaceInCluster
			break
		}
		f.currentCluster = next
		f.clusterOffset = 0
	}

	return int64(f.position), nil
}

func (f *File) Tell() int64 { return int64(f.position) }
func (f *File) Size() int64 { return int64(f.fileSize) }
func (f *File) Eof() bool   { return f.position >= f.fileSize }

// Truncate cuts the file at the current position. If position is 0, the
// entire chain is freed and firstCluster resets to 0; otherwise
// everything strictly after the cluster holding the last retained byte
// (position-1) is freed, and that cluster receives the EOC marker.
func (f *File) Truncate() error {
	if f.mode&ModeWrite == 0 {
		return libresd.New(libresd.ErrReadOnly)
	}

	if f.position == 0 {
		if f.firstCluster >= 2 {
			if err := f.v.freeChain(f.firstCluster); err != nil {
				return err
			}
		}
		f.firstCluster = 0
		f.currentCluster = 0
		f.clusterOffset = 0
	} else if f.clusterOffset == 0 {
		prev := f.v.clusterBefore(f.firstCluster, f.currentCluster)
		if err := f.v.freeChain(f.currentCluster); err != nil {
			return err
		}
		if err := f.v.writeEntry(prev, eocValue(f.v.bs.Variant)); err != nil {
			return err
		}
		f.currentCluster = prev
	} else if f.currentCluster >= 2 {
		next, err := f.v.readEntry(f.currentCluster)
		if err != nil {
			return err
		}
		if next >= 2 && !isEOC(f.v.bs.Variant, next) {
			if err := f.v.freeChain(next); err != nil {
				return err
			}
		}
		if err := f.v.writeEntry(f.currentCluster, eocValue(f.v.bs.Variant)); err != nil {
			return err
		}
	}

	f.fileSize = f.position
	return nil
}

// Flush writes back the file's dirty sector buffer without closing it.
func (f *File) Flush() error {
	return f.flushBuffer()
}

// Close flushes the sector buffer and, for a write-mode handle, fixes up
// the directory entry's cluster/size/modify-time fields.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	if err := f.flushBuffer(); err != nil {
		return err
	}
	if f.mode&ModeWrite != 0 {
		now := libresd.Now(f.v.hal)
		if err := f.v.updateEntryMeta(f.entry, f.firstCluster, f.fileSize, now); err != nil {
			return err
		}
	}
	f.closed = true
	return nil
}
