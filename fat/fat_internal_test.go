package fat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memDisk is a minimal in-memory BlockDevice for exercising package-
// internal helpers directly, without going through Mount.
type memDisk struct {
	sectors [][]byte
}

func newMemDisk(sectorCount int) *memDisk {
	d := &memDisk{sectors: make([][]byte, sectorCount)}
	for i := range d.sectors {
		d.sectors[i] = make([]byte, 512)
	}
	return d
}

func (d *memDisk) ReadSector(sector uint32, buf []byte) error {
	copy(buf, d.sectors[sector])
	return nil
}

func (d *memDisk) WriteSector(sector uint32, buf []byte) error {
	copy(d.sectors[sector], buf)
	return nil
}

func putUint16(buf []byte, off int, v uint16) {
	buf[off] = byte(v)
	buf[off+1] = byte(v >> 8)
}

func putUint32(buf []byte, off int, v uint32) {
	buf[off] = byte(v)
	buf[off+1] = byte(v >> 8)
	buf[off+2] = byte(v >> 16)
	buf[off+3] = byte(v >> 24)
}

func buildFAT12BootSector(buf []byte, clusterCount uint32) {
	putUint16(buf, 11, 512)
	buf[13] = 1 // sectors per cluster
	putUint16(buf, 14, 1) // reserved sectors
	buf[16] = 1           // num FATs
	putUint16(buf, 17, 16) // root entry count -> 1 sector
	putUint16(buf, 22, 1)  // sectors per FAT

	dataStart := uint32(1 + 1*1 + 1) // reserved + fats*spf + rootDirSectors
	total := dataStart + clusterCount
	putUint16(buf, 19, uint16(total))

	buf[510] = 0x55
	buf[511] = 0xAA
}

func TestParseBootSectorFAT12(t *testing.T) {
	dev := newMemDisk(30)
	buildFAT12BootSector(dev.sectors[0], 20)

	bs, err := parseBootSector(dev)
	require.NoError(t, err)
	assert.Equal(t, VariantFAT12, bs.Variant)
	assert.EqualValues(t, 512, bs.BytesPerSector)
	assert.EqualValues(t, 1, bs.FATStartSector)
	assert.EqualValues(t, 2, bs.RootStartSector)
	assert.EqualValues(t, 3, bs.DataStartSector)
	assert.EqualValues(t, 20, bs.ClusterCount)
}

func TestParseBootSectorRejectsBadBPB(t *testing.T) {
	dev := newMemDisk(2)
	dev.sectors[0][510] = 0x55
	dev.sectors[0][511] = 0xAA
	// bytes per sector left at 0, sectors per cluster left at 0: invalid.
	_, err := parseBootSector(dev)
	require.Error(t, err)
}

// TestFATEntry12Straddle exercises the cluster-341 boundary, where a
// FAT12 entry's 1.5-byte stride crosses into the next sector and shares
// a nibble with its even-numbered neighbor.
func TestFATEntry12Straddle(t *testing.T) {
	dev := newMemDisk(2)
	v := &Volume{dev: dev, bs: BootSector{Variant: VariantFAT12, FATStartSector: 0}}

	require.NoError(t, v.writeEntry12(340, 0x137))
	require.NoError(t, v.writeEntry12(341, 0x2AB))

	got340, err := v.readEntry12(340)
	require.NoError(t, err)
	assert.EqualValues(t, 0x137, got340)

	got341, err := v.readEntry12(341)
	require.NoError(t, err)
	assert.EqualValues(t, 0x2AB, got341)

	assert.EqualValues(t, 0xB1, dev.sectors[0][511])
	assert.EqualValues(t, 0x2A, dev.sectors[1][0])
}

func TestFATEntry16RoundTrip(t *testing.T) {
	dev := newMemDisk(2)
	v := &Volume{dev: dev, bs: BootSector{Variant: VariantFAT16, FATStartSector: 0}}

	require.NoError(t, v.writeEntry16(5, 0xBEEF&0xFFFF))
	got, err := v.readEntry16(5)
	require.NoError(t, err)
	assert.EqualValues(t, 0xBEEF, got)
}

func TestFATEntry32RoundTrip(t *testing.T) {
	dev := newMemDisk(2)
	v := &Volume{dev: dev, bs: BootSector{Variant: VariantFAT32, FATStartSector: 0}}

	// Top 4 bits are reserved and must survive a write untouched.
	dev.sectors[0][7] = 0xF0
	require.NoError(t, v.writeEntry32(1, 0x0ABCDEF0))
	got, err := v.readEntry32(1)
	require.NoError(t, err)
	assert.EqualValues(t, 0x0ABCDEF0, got)
	assert.EqualValues(t, 0xF0, v.fatBuf[7]&0xF0)
}

func TestEOCAndBadMarkers(t *testing.T) {
	assert.True(t, isEOC(VariantFAT12, 0x0FF8))
	assert.True(t, isEOC(VariantFAT16, 0xFFFF))
	assert.True(t, isEOC(VariantFAT32, 0x0FFFFFF8))
	assert.False(t, isEOC(VariantFAT12, 0x0FF7))

	assert.True(t, isBad(VariantFAT12, 0x0FF7))
	assert.True(t, isBad(VariantFAT16, 0xFFF7))
	assert.False(t, isBad(VariantFAT16, 0xFFF8))
}

func TestEncodeDecodeName83(t *testing.T) {
	enc, err := encodeName83("readme.txt")
	require.NoError(t, err)
	assert.Equal(t, "README  TXT", string(enc[:]))
	assert.Equal(t, "readme.txt", decodeName83(enc))
}

func TestEncodeName83NoExtension(t *testing.T) {
	enc, err := encodeName83("bootcode")
	require.NoError(t, err)
	assert.Equal(t, "bootcode", decodeName83(enc))
}

func TestDecodeName83DeletedAlias(t *testing.T) {
	// On disk, 0x05 in a name's first byte stands in for a literal 0xE5
	// (the Kanji code page's character, which collides with the
	// deleted-entry marker). decodeName83 must reverse the alias.
	var raw [11]byte
	for i := range raw {
		raw[i] = ' '
	}
	raw[0] = 0x05
	raw[1] = 'b'
	raw[2] = 'c'
	got := decodeName83(raw)
	assert.EqualValues(t, 0xe5, got[0])
}

func TestLFNAccumulator(t *testing.T) {
	// "longfilename.txt" is 16 characters, spanning two 13-character LFN
	// slots: slot 1 holds "longfilename." in full, slot 2 (the last slot,
	// written to disk first) holds "txt" followed by a null terminator
	// and 0xFFFF padding.
	var acc lfnAccumulator

	first := lfnSlot{seq: 1}
	for i, r := range "longfilename." {
		first.chars[i] = uint16(r)
	}

	second := lfnSlot{seq: 2, last: true}
	for i, r := range "txt" {
		second.chars[i] = uint16(r)
	}
	second.chars[3] = 0
	for i := 4; i < 13; i++ {
		second.chars[i] = 0xFFFF
	}

	acc.add(second)
	acc.add(first)

	name, ok := acc.string()
	require.True(t, ok)
	assert.Equal(t, "longfilename.txt", name)
}

func TestRawDirentEncodeDecodeRoundTrip(t *testing.T) {
	name, err := encodeName83("a.b")
	require.NoError(t, err)
	want := rawDirent{
		Name: name, Attr: attrArchive, FileSize: 1234,
		ClusterHi: 0x0001, ClusterLo: 0xABCD,
	}
	buf := make([]byte, direntSize)
	want.encode(buf)
	got := decodeRawDirent(buf)
	assert.Equal(t, want, got)
}
