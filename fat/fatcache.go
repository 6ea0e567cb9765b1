package fat

import (
	"encoding/binary"

	"github.com/dargueta/libresd"
)

// fatFree is the FAT entry value for an unallocated cluster.
const fatFree = 0

// eocValue returns the end-of-chain marker this volume's variant writes
// when terminating a cluster chain.
func eocValue(variant Variant) uint32 {
	switch variant {
	case VariantFAT12:
		return 0x0FF8
	case VariantFAT16:
		return 0xFFF8
	default:
		return 0x0FFFFFF8
	}
}

// isEOC reports whether value is an end-of-chain marker for variant.
func isEOC(variant Variant, value uint32) bool {
	switch variant {
	case VariantFAT12:
		return value >= 0x0FF8
	case VariantFAT16:
		return value >= 0xFFF8
	default:
		return value >= 0x0FFFFFF8
	}
}

// isBad reports whether value is the bad-cluster marker for variant.
// The allocator must skip these clusters permanently.
func isBad(variant Variant, value uint32) bool {
	switch variant {
	case VariantFAT12:
		return value == 0x0FF7
	case VariantFAT16:
		return value == 0xFFF7
	default:
		return value == 0x0FFFFFF7
	}
}

// ensureFATSector makes the shared FAT buffer hold sector, evicting
// (write-back to FAT#0 only -- mirroring to the other copies happens at
// sync/unmount, not on every eviction) and reloading if needed.
func (v *Volume) ensureFATSector(sector uint32) error {
	if v.fatBufValid && v.fatBufSector == sector {
		return nil
	}
	if err := v.evictFATBuffer(); err != nil {
		return err
	}
	if err := v.dev.ReadSector(sector, v.fatBuf[:]); err != nil {
		return libresd.Wrap(libresd.ErrReadError, err)
	}
	v.fatBufSector = sector
	v.fatBufValid = true
	v.fatBufDirty = false
	return nil
}

func (v *Volume) evictFATBuffer() error {
	if !v.fatBufValid || !v.fatBufDirty {
		return nil
	}
	if err := v.dev.WriteSector(v.fatBufSector, v.fatBuf[:]); err != nil {
		return libresd.Wrap(libresd.ErrWriteError, err)
	}
	v.fatBufDirty = false
	return nil
}

// mirrorFATBuffer copies the currently cached FAT sector to every FAT
// copy beyond FAT#0, at the same offset within the table.
func (v *Volume) mirrorFATBuffer() error {
	if !v.fatBufValid {
		return nil
	}
	offset := v.fatBufSector - v.bs.FATStartSector
	for i := uint8(1); i < v.bs.NumFATs; i++ {
		mirror := v.bs.FATStartSector + uint32(i)*v.bs.SectorsPerFAT + offset
		if err := v.dev.WriteSector(mirror, v.fatBuf[:]); err != nil {
			return libresd.Wrap(libresd.ErrWriteError, err)
		}
	}
	return nil
}

// Sync flushes the dirty FAT buffer to FAT#0 and mirrors it to every
// other FAT copy.
func (v *Volume) Sync() error {
	if err := v.evictFATBuffer(); err != nil {
		return err
	}
	return v.mirrorFATBuffer()
}

func (v *Volume) readEntry(cluster uint32) (uint32, error) {
	switch v.bs.Variant {
	case VariantFAT12:
		return v.readEntry12(cluster)
	case VariantFAT16:
		return v.readEntry16(cluster)
	default:
		return v.readEntry32(cluster)
	}
}

func (v *Volume) writeEntry(cluster, value uint32) error {
	switch v.bs.Variant {
	case VariantFAT12:
		return v.writeEntry12(cluster, value)
	case VariantFAT16:
		return v.writeEntry16(cluster, value)
	default:
		return v.writeEntry32(cluster, value)
	}
}

// readEntry12/writeEntry12 implement FAT12's 1.5-byte stride, which can
// span two FAT sectors at cluster offset 511/512 and always shares its
// low or high nibble with the neighboring entry.
func (v *Volume) readEntry12(cluster uint32) (uint32, error) {
	fatOffset := cluster + cluster/2
	sector := v.bs.FATStartSector + fatOffset/512
	off := int(fatOffset % 512)

	var b0, b1 byte
	if off == 511 {
		if err := v.ensureFATSector(sector); err != nil {
			return 0, err
		}
		b0 = v.fatBuf[511]
		if err := v.ensureFATSector(sector + 1); err != nil {
			return 0, err
		}
		b1 = v.fatBuf[0]
	} else {
		if err := v.ensureFATSector(sector); err != nil {
			return 0, err
		}
		b0 = v.fatBuf[off]
		b1 = v.fatBuf[off+1]
	}

	val := uint32(b0) | uint32(b1)<<8
	if cluster&1 == 1 {
		val >>= 4
	} else {
		val &= 0x0FFF
	}
	return val, nil
}

func (v *Volume) writeEntry12(cluster, value uint32) error {
	fatOffset := cluster + cluster/2
	sector := v.bs.FATStartSector + fatOffset/512
	off := int(fatOffset % 512)
	value &= 0x0FFF

	readByte := func(sec uint32, o int) (byte, error) {
		if err := v.ensureFATSector(sec); err != nil {
			return 0, err
		}
		return v.fatBuf[o], nil
	}
	setByte := func(sec uint32, o int, b byte) error {
		if err := v.ensureFATSector(sec); err != nil {
			return err
		}
		v.fatBuf[o] = b
		v.fatBufDirty = true
		return nil
	}

	sec0, off0, sec1, off1 := sector, off, sector, off+1
	if off == 511 {
		sec1, off1 = sector+1, 0
	}

	b0cur, err := readByte(sec0, off0)
	if err != nil {
		return err
	}
	b1cur, err := readByte(sec1, off1)
	if err != nil {
		return err
	}

	var b0, b1 byte
	if cluster&1 == 1 {
		b0 = (b0cur & 0x0F) | byte((value&0x0F)<<4)
		b1 = byte(value >> 4)
	} else {
		b0 = byte(value)
		b1 = (b1cur & 0xF0) | byte(value>>8)
	}

	if err := setByte(sec0, off0, b0); err != nil {
		return err
	}
	return setByte(sec1, off1, b1)
}

func (v *Volume) readEntry16(cluster uint32) (uint32, error) {
	fatOffset := cluster * 2
	sector := v.bs.FATStartSector + fatOffset/512
	off := int(fatOffset % 512)
	if err := v.ensureFATSector(sector); err != nil {
		return 0, err
	}
	return uint32(binary.LittleEndian.Uint16(v.fatBuf[off : off+2])), nil
}

func (v *Volume) writeEntry16(cluster, value uint32) error {
	fatOffset := cluster * 2
	sector := v.bs.FATStartSector + fatOffset/512
	off := int(fatOffset % 512)
	if err := v.ensureFATSector(sector); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(v.fatBuf[off:off+2], uint16(value))
	v.fatBufDirty = true
	return nil
}

func (v *Volume) readEntry32(cluster uint32) (uint32, error) {
	fatOffset := cluster * 4
	sector := v.bs.FATStartSector + fatOffset/512
	off := int(fatOffset % 512)
	if err := v.ensureFATSector(sector); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(v.fatBuf[off:off+4]) & 0x0FFFFFFF, nil
}

func (v *Volume) writeEntry32(cluster, value uint32) error {
	fatOffset := cluster * 4
	sector := v.bs.FATStartSector + fatOffset/512
	off := int(fatOffset % 512)
	if err := v.ensureFATSector(sector); err != nil {
		return err
	}
	existing := binary.LittleEndian.Uint32(v.fatBuf[off : off+4])
	newRaw := (existing & 0xF0000000) | (value & 0x0FFFFFFF)
	binary.LittleEndian.PutUint32(v.fatBuf[off:off+4], newRaw)
	v.fatBufDirty = true
	return nil
}
