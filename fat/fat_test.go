package fat_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/libresd"
	"github.com/dargueta/libresd/fat"
)

// imageDisk is an in-memory fat.BlockDevice backing a small, hand-built
// FAT12 volume used to exercise the whole engine end to end.
type imageDisk struct {
	data []byte
}

func (d *imageDisk) ReadSector(sector uint32, buf []byte) error {
	copy(buf, d.data[sector*512:sector*512+512])
	return nil
}

func (d *imageDisk) WriteSector(sector uint32, buf []byte) error {
	copy(d.data[sector*512:sector*512+512], buf)
	return nil
}

func putUint16(buf []byte, off int, v uint16) {
	buf[off] = byte(v)
	buf[off+1] = byte(v >> 8)
}

// newTestVolume builds a 24-sector FAT12 image (1 boot sector, two
// 1-sector FAT copies, a 1-sector 16-entry root directory, and 20 data
// clusters of 1 sector each) and mounts it.
func newTestVolume(t *testing.T) *fat.Volume {
	t.Helper()

	const sectorCount = 24
	disk := &imageDisk{data: make([]byte, sectorCount*512)}
	boot := disk.data[0:512]

	putUint16(boot, 11, 512) // bytes per sector
	boot[13] = 1             // sectors per cluster
	putUint16(boot, 14, 1)   // reserved sectors
	boot[16] = 2             // num FATs
	putUint16(boot, 17, 16)  // root entry count
	putUint16(boot, 19, sectorCount)
	putUint16(boot, 22, 1) // sectors per FAT
	boot[510] = 0x55
	boot[511] = 0xAA

	v, err := fat.Mount(disk, nil, libresd.DefaultConfig())
	require.NoError(t, err)
	return v
}

func TestMountEmptyRootListing(t *testing.T) {
	v := newTestVolume(t)

	dir, err := v.Opendir("/")
	require.NoError(t, err)
	defer dir.Closedir()

	_, err = dir.Readdir()
	assert.Equal(t, libresd.ErrEOF, libresd.Of(err))
}

func TestCreateWriteReadBack(t *testing.T) {
	v := newTestVolume(t)

	f, err := v.Open("/hello.txt", fat.ModeWrite|fat.ModeCreate)
	require.NoError(t, err)
	n, err := f.Write([]byte("Hello, FAT!"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	require.NoError(t, f.Close())

	f2, err := v.Open("/hello.txt", fat.ModeRead)
	require.NoError(t, err)
	defer f2.Close()

	buf := make([]byte, 64)
	total := 0
	for {
		n, err := f2.Read(buf[total:])
		total += n
		if err != nil {
			assert.Equal(t, libresd.ErrEOF, libresd.Of(err))
			break
		}
	}
	assert.Equal(t, "Hello, FAT!", string(buf[:total]))
}

func TestWriteSpansMultipleClusters(t *testing.T) {
	v := newTestVolume(t)

	content := strings.Repeat("A", 700) // > one 512-byte cluster
	f, err := v.Open("/big.bin", fat.ModeWrite|fat.ModeCreate)
	require.NoError(t, err)
	_, err = f.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f2, err := v.Open("/big.bin", fat.ModeRead)
	require.NoError(t, err)
	defer f2.Close()

	buf := make([]byte, len(content))
	total := 0
	for total < len(content) {
		n, err := f2.Read(buf[total:])
		total += n
		if err != nil {
			break
		}
	}
	assert.Equal(t, content, string(buf[:total]))
}

func TestAppendAcrossClusterBoundary(t *testing.T) {
	v := newTestVolume(t)

	f, err := v.Open("/log.txt", fat.ModeWrite|fat.ModeCreate)
	require.NoError(t, err)
	_, err = f.Write([]byte(strings.Repeat("X", 510)))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f2, err := v.Open("/log.txt", fat.ModeWrite|fat.ModeAppend)
	require.NoError(t, err)
	_, err = f2.Write([]byte("tail"))
	require.NoError(t, err)
	require.NoError(t, f2.Close())

	f3, err := v.Open("/log.txt", fat.ModeRead)
	require.NoError(t, err)
	defer f3.Close()

	buf := make([]byte, 600)
	total := 0
	for {
		n, err := f3.Read(buf[total:])
		total += n
		if err != nil {
			break
		}
	}
	assert.Equal(t, 514, total)
	assert.Equal(t, "tail", string(buf[510:514]))
}

func TestTruncateOnCreate(t *testing.T) {
	v := newTestVolume(t)

	f, err := v.Open("/t.txt", fat.ModeWrite|fat.ModeCreate)
	require.NoError(t, err)
	_, err = f.Write([]byte("original contents"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f2, err := v.Open("/t.txt", fat.ModeWrite|fat.ModeCreate|fat.ModeTruncate)
	require.NoError(t, err)
	_, err = f2.Write([]byte("new"))
	require.NoError(t, err)
	require.NoError(t, f2.Close())

	f3, err := v.Open("/t.txt", fat.ModeRead)
	require.NoError(t, err)
	defer f3.Close()
	buf := make([]byte, 64)
	n, _ := f3.Read(buf)
	assert.Equal(t, "new", string(buf[:n]))
}

func TestTruncateAtPositionZeroFreesWholeChain(t *testing.T) {
	v := newTestVolume(t)

	freeBefore, err := v.GetFree()
	require.NoError(t, err)

	f, err := v.Open("/spans.bin", fat.ModeWrite|fat.ModeCreate)
	require.NoError(t, err)
	_, err = f.Write([]byte(strings.Repeat("Q", 700))) // spans two clusters
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f2, err := v.Open("/spans.bin", fat.ModeWrite)
	require.NoError(t, err)
	_, err = f2.Seek(0, fat.SeekSet)
	require.NoError(t, err)
	require.NoError(t, f2.Truncate())
	require.NoError(t, f2.Close())

	freeAfter, err := v.GetFree()
	require.NoError(t, err)
	assert.Equal(t, freeBefore, freeAfter)

	entry, err := v.Stat("/spans.bin")
	require.NoError(t, err)
	assert.EqualValues(t, 0, entry.FirstCluster)
	assert.EqualValues(t, 0, entry.Size)
}

func TestUnlinkFreesChain(t *testing.T) {
	v := newTestVolume(t)

	freeBefore, err := v.GetFree()
	require.NoError(t, err)

	f, err := v.Open("/doomed.bin", fat.ModeWrite|fat.ModeCreate)
	require.NoError(t, err)
	_, err = f.Write([]byte(strings.Repeat("Z", 700)))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	freeAfterWrite, err := v.GetFree()
	require.NoError(t, err)
	assert.Less(t, freeAfterWrite, freeBefore)

	require.NoError(t, v.Unlink("/doomed.bin"))

	freeAfterUnlink, err := v.GetFree()
	require.NoError(t, err)
	assert.Equal(t, freeBefore, freeAfterUnlink)

	assert.False(t, v.Exists("/doomed.bin"))
}

func TestMkdirAndRmdir(t *testing.T) {
	v := newTestVolume(t)

	entry, err := v.Mkdir("/sub")
	require.NoError(t, err)
	assert.True(t, entry.IsDir())

	dir, err := v.Opendir("/sub")
	require.NoError(t, err)
	e1, err := dir.Readdir()
	require.NoError(t, err)
	assert.Equal(t, ".", e1.Name)
	e2, err := dir.Readdir()
	require.NoError(t, err)
	assert.Equal(t, "..", e2.Name)
	dir.Closedir()

	require.NoError(t, v.Rmdir("/sub"))
	assert.False(t, v.Exists("/sub"))
}

func TestRmdirRejectsNonEmpty(t *testing.T) {
	v := newTestVolume(t)

	_, err := v.Mkdir("/full")
	require.NoError(t, err)
	f, err := v.Open("/full/child.txt", fat.ModeWrite|fat.ModeCreate)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	err = v.Rmdir("/full")
	require.Error(t, err)
	assert.Equal(t, libresd.ErrDirectoryNotEmpty, libresd.Of(err))
}

func TestGetcwdTracksChdir(t *testing.T) {
	v := newTestVolume(t)
	assert.Equal(t, "/", v.Getcwd())

	_, err := v.Mkdir("/a")
	require.NoError(t, err)
	require.NoError(t, v.Chdir("/a"))
	assert.Equal(t, "/a", v.Getcwd())

	_, err = v.Mkdir("/a/b")
	require.NoError(t, err)
	require.NoError(t, v.Chdir("b"))
	assert.Equal(t, "/a/b", v.Getcwd())

	// ".." jumps to the root, consistent with Chdir's cluster behavior.
	require.NoError(t, v.Chdir(".."))
	assert.Equal(t, "/", v.Getcwd())
}

func TestDotDotAlwaysResolvesToRoot(t *testing.T) {
	// Documented shortcut, preserved rather than corrected: ".." always
	// jumps to the volume root, even from a directory nested two levels
	// deep, rather than walking up one level.
	v := newTestVolume(t)

	_, err := v.Mkdir("/a")
	require.NoError(t, err)
	_, err = v.Mkdir("/a/b")
	require.NoError(t, err)
	require.NoError(t, v.Chdir("/a/b"))

	root, err := v.Stat("/")
	require.NoError(t, err)

	dotdot, err := v.Stat("..")
	require.NoError(t, err)
	assert.Equal(t, root.FirstCluster, dotdot.FirstCluster)
}
