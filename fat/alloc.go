package fat

import (
	"github.com/boljen/go-bitmap"

	"github.com/dargueta/libresd"
)

// primeHintBitmap sweeps every cluster entry once, recording known-free
// clusters in a bitmap hint cache. It is also how GetFree's memoized
// free-cluster count is first computed, per spec.md section 4.5.
//
// The bitmap is an optimization hint, not authoritative: allocCluster
// still re-reads the FAT entry of any cluster the hint marks free before
// trusting it, since the hint can fall behind if something outside this
// Volume ever touches the FAT.
func (v *Volume) primeHintBitmap() error {
	v.hintBitmap = bitmap.New(int(v.bs.ClusterCount))
	free := uint32(0)
	for c := uint32(2); c < v.bs.ClusterCount+2; c++ {
		entry, err := v.readEntry(c)
		if err != nil {
			return err
		}
		isFree := entry == fatFree
		v.hintBitmap.Set(int(c-2), isFree)
		if isFree {
			free++
		}
	}
	v.hintPrimed = true
	v.freeClusters = free
	v.freeClustersKnown = true
	return nil
}

func (v *Volume) markClusterUsed(c uint32) {
	if v.hintPrimed {
		v.hintBitmap.Set(int(c-2), false)
	}
}

func (v *Volume) markClusterFree(c uint32) {
	if v.hintPrimed {
		v.hintBitmap.Set(int(c-2), true)
	}
}

// allocCluster scans for a free cluster starting just after
// lastAllocCluster, wrapping within [2, clusterCount+2). If prev is a
// valid cluster, it is linked to the newly allocated one. Grounded on
// libresd_fat.c's libresd_fat_alloc_cluster.
func (v *Volume) allocCluster(prev uint32) (uint32, error) {
	total := v.bs.ClusterCount
	if total == 0 {
		return 0, libresd.New(libresd.ErrFull)
	}

	start := v.lastAllocCluster
	if start < 2 || start >= total+2 {
		start = 1
	}
	cur := start

	for i := uint32(0); i < total; i++ {
		cur++
		if cur >= total+2 {
			cur = 2
		}

		useHint := v.hintPrimed && !v.cfg.DisableAllocatorHintCache
		if useHint && !v.hintBitmap.Get(int(cur-2)) {
			continue
		}

		entry, err := v.readEntry(cur)
		if err != nil {
			return 0, err
		}
		if entry != fatFree {
			v.markClusterUsed(cur)
			continue
		}

		if err := v.writeEntry(cur, eocValue(v.bs.Variant)); err != nil {
			return 0, err
		}
		if prev >= 2 {
			if err := v.writeEntry(prev, cur); err != nil {
				return 0, err
			}
		}
		v.lastAllocCluster = cur
		v.markClusterUsed(cur)
		if v.freeClustersKnown && v.freeClusters > 0 {
			v.freeClusters--
		}
		return cur, nil
	}

	return 0, libresd.New(libresd.ErrFull)
}

// freeChain walks the cluster chain starting at start, zeroing each FAT
// entry, until it reaches an end-of-chain or bad-cluster marker.
func (v *Volume) freeChain(start uint32) error {
	c := start
	for c >= 2 && !isEOC(v.bs.Variant, c) && !isBad(v.bs.Variant, c) {
		next, err := v.readEntry(c)
		if err != nil {
			return err
		}
		if err := v.writeEntry(c, fatFree); err != nil {
			return err
		}
		v.markClusterFree(c)
		if v.freeClustersKnown {
			v.freeClusters++
		}
		if next < 2 || isEOC(v.bs.Variant, next) || isBad(v.bs.Variant, next) {
			break
		}
		c = next
	}
	return nil
}

// lastClusterOf walks from start to the terminal cluster of its chain.
func (v *Volume) lastClusterOf(start uint32) uint32 {
	c := start
	for {
		next, err := v.readEntry(c)
		if err != nil || next < 2 || isEOC(v.bs.Variant, next) {
			return c
		}
		c = next
	}
}

// clusterBefore walks from start looking for the cluster whose FAT entry
// points at target.
func (v *Volume) clusterBefore(start, target uint32) uint32 {
	c := start
	for {
		next, err := v.readEntry(c)
		if err != nil || next == target {
			return c
		}
		c = next
	}
}

func (v *Volume) zeroCluster(cluster uint32) error {
	zero := make([]byte, 512)
	base := v.clusterToSector(cluster)
	for i := uint32(0); i < uint32(v.bs.SectorsPerCluster); i++ {
		if err := v.dev.WriteSector(base+i, zero); err != nil {
			return libresd.Wrap(libresd.ErrWriteError, err)
		}
	}
	return nil
}
