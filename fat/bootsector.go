// Package fat implements a portable FAT12/16/32 filesystem core on top of
// a raw block device: boot sector parsing, the FAT table cache and
// allocator, the directory and path-resolution engine, and the file
// engine. It is components C3 through C8 of the library.
package fat

import (
	"encoding/binary"

	"github.com/hashicorp/go-multierror"

	"github.com/dargueta/libresd"
)

// BlockDevice is the storage boundary the fat package requires: sector
// read/write in fixed 512-byte units. sd.Card satisfies this.
type BlockDevice interface {
	ReadSector(sector uint32, buf []byte) error
	WriteSector(sector uint32, buf []byte) error
}

// Variant identifies which FAT width a mounted volume uses, determined
// solely by cluster count (never by a label in the BPB).
type Variant int

const (
	VariantFAT12 Variant = iota + 1
	VariantFAT16
	VariantFAT32
)

func (v Variant) String() string {
	switch v {
	case VariantFAT12:
		return "FAT12"
	case VariantFAT16:
		return "FAT16"
	case VariantFAT32:
		return "FAT32"
	default:
		return "unknown"
	}
}

// mbrPartitionTypes are the partition type bytes mount() recognizes as
// "this is a FAT partition" (spec.md section 4.5).
var mbrPartitionTypes = map[byte]bool{
	0x01: true, 0x04: true, 0x06: true, 0x0B: true, 0x0C: true, 0x0E: true,
}

// BootSector holds the parsed BPB plus the derived volume layout.
type BootSector struct {
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors      uint32
	SectorsPerFAT     uint32
	RootCluster       uint32 // FAT32 only; 0 otherwise

	PartitionStart  uint32
	FATStartSector  uint32
	RootStartSector uint32
	DataStartSector uint32
	RootDirSectors  uint32
	ClusterCount    uint32
	Variant         Variant

	VolumeLabel  string
	VolumeSerial uint32
}

// parseBootSector reads the MBR (if present) and the boot sector/BPB,
// validates it, and computes the derived layout, grounded on
// dargueta-disko/drivers/fat/common.go's NewFATBootSectorFromStream and
// libresd_fat.c's libresd_fat_mount.
func parseBootSector(dev BlockDevice) (*BootSector, error) {
	sector0 := make([]byte, 512)
	if err := dev.ReadSector(0, sector0); err != nil {
		return nil, libresd.Wrap(libresd.ErrReadError, err)
	}

	partitionStart := uint32(0)
	bootSectorBuf := sector0
	if sector0[510] == 0x55 && sector0[511] == 0xAA {
		partType := sector0[446+4]
		if mbrPartitionTypes[partType] {
			partitionStart = binary.LittleEndian.Uint32(sector0[446+8 : 446+12])
			bootSectorBuf = make([]byte, 512)
			if err := dev.ReadSector(partitionStart, bootSectorBuf); err != nil {
				return nil, libresd.Wrap(libresd.ErrReadError, err)
			}
		}
	}

	bs := &BootSector{PartitionStart: partitionStart}
	bs.BytesPerSector = binary.LittleEndian.Uint16(bootSectorBuf[11:13])
	bs.SectorsPerCluster = bootSectorBuf[13]
	bs.ReservedSectors = binary.LittleEndian.Uint16(bootSectorBuf[14:16])
	bs.NumFATs = bootSectorBuf[16]
	bs.RootEntryCount = binary.LittleEndian.Uint16(bootSectorBuf[17:19])

	totalSectors16 := binary.LittleEndian.Uint16(bootSectorBuf[19:21])
	if totalSectors16 != 0 {
		bs.TotalSectors = uint32(totalSectors16)
	} else {
		bs.TotalSectors = binary.LittleEndian.Uint32(bootSectorBuf[32:36])
	}

	sectorsPerFAT16 := binary.LittleEndian.Uint16(bootSectorBuf[22:24])
	if sectorsPerFAT16 != 0 {
		bs.SectorsPerFAT = uint32(sectorsPerFAT16)
	} else {
		bs.SectorsPerFAT = binary.LittleEndian.Uint32(bootSectorBuf[36:40])
	}

	var result *multierror.Error
	if bs.BytesPerSector != 512 {
		result = multierror.Append(result, libresd.Newf(libresd.ErrInvalidFilesystem, "bytes per sector must be 512, got %d", bs.BytesPerSector))
	}
	if bs.SectorsPerCluster == 0 {
		result = multierror.Append(result, libresd.New(libresd.ErrInvalidFilesystem))
	}
	if bs.NumFATs == 0 {
		result = multierror.Append(result, libresd.New(libresd.ErrInvalidFilesystem))
	}
	if bs.ReservedSectors == 0 {
		result = multierror.Append(result, libresd.New(libresd.ErrInvalidFilesystem))
	}
	if result.ErrorOrNil() != nil {
		return nil, libresd.Newf(libresd.ErrInvalidFilesystem, "%s", result.Error())
	}

	bs.FATStartSector = partitionStart + uint32(bs.ReservedSectors)
	bs.RootDirSectors = (uint32(bs.RootEntryCount)*32 + 511) / 512
	bs.RootStartSector = bs.FATStartSector + uint32(bs.NumFATs)*bs.SectorsPerFAT
	bs.DataStartSector = bs.RootStartSector + bs.RootDirSectors

	dataSectors := bs.TotalSectors - (bs.DataStartSector - partitionStart)
	bs.ClusterCount = dataSectors / uint32(bs.SectorsPerCluster)

	switch {
	case bs.ClusterCount < 4085:
		bs.Variant = VariantFAT12
	case bs.ClusterCount < 65525:
		bs.Variant = VariantFAT16
	default:
		bs.Variant = VariantFAT32
		bs.RootCluster = binary.LittleEndian.Uint32(bootSectorBuf[44:48])
		bs.DataStartSector = bs.RootStartSector
	}

	labelOffset, serialOffset := 43, 39
	if bs.Variant == VariantFAT32 {
		labelOffset, serialOffset = 71, 67
	}
	bs.VolumeLabel = trimLabel(bootSectorBuf[labelOffset : labelOffset+11])
	bs.VolumeSerial = binary.LittleEndian.Uint32(bootSectorBuf[serialOffset : serialOffset+4])

	return bs, nil
}

func trimLabel(raw []byte) string {
	end := len(raw)
	for end > 0 && raw[end-1] == ' ' {
		end--
	}
	return string(raw[:end])
}

// clusterToSector converts a cluster number to its first sector, or 0 if
// the cluster number is below 2. The upper end of the data range is not
// checked.
func (v *Volume) clusterToSector(cluster uint32) uint32 {
	if cluster < 2 {
		return 0
	}
	return v.bs.DataStartSector + (cluster-2)*uint32(v.bs.SectorsPerCluster)
}

func (v *Volume) clusterSize() uint32 {
	return uint32(v.bs.SectorsPerCluster) * 512
}
