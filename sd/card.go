// Package sd implements the SD SPI command protocol: command framing and
// CRC7, the card initialization handshake, and single/multi-block sector
// I/O. It is the SD protocol engine described in the specification's
// component C2.
package sd

import (
	"github.com/dargueta/libresd"
)

// CardType tags the class of card detected during Init.
type CardType int

const (
	CardNone CardType = iota
	CardMMC
	CardSDv1
	CardSDv2
	CardSDHC
	CardSDXC
)

func (t CardType) String() string {
	switch t {
	case CardMMC:
		return "MMC"
	case CardSDv1:
		return "SDv1"
	case CardSDv2:
		return "SDv2"
	case CardSDHC:
		return "SDHC"
	case CardSDXC:
		return "SDXC"
	default:
		return "none"
	}
}

// BlockSize is the fixed sector size the protocol engine (and everything
// layered above it) assumes throughout.
const BlockSize = 512

// Card holds the state of one initialized SD/MMC card: its type tag,
// addressing mode, capacity, identification registers, current clock, and
// advisory operation counters.
type Card struct {
	hal    libresd.HAL
	cfg    libresd.Config
	ready  bool
	Type   CardType
	// BlockAddressed is true for SDHC/SDXC cards, where command arguments
	// are sector indices; false for byte-addressed SDSC/MMC cards, where
	// they are byte offsets (sector*512).
	BlockAddressed bool

	SectorCount uint32
	Capacity    uint64 // bytes

	CSD [16]byte
	CID [16]byte

	CurrentHz uint32

	ReadCount  uint64
	WriteCount uint64
	ErrorCount uint64
}

// HAL returns the HAL this card was initialized with.
func (c *Card) HAL() libresd.HAL {
	return c.hal
}

// Config returns the timeout/speed tunables this card is using.
func (c *Card) Config() libresd.Config {
	return c.cfg
}

// Ready reports whether the card completed initialization and (if the HAL
// exposes a card-detect hint) is still physically present.
func (c *Card) Ready() bool {
	return c.ready && libresd.CardPresent(c.hal)
}

// sectorArg converts a sector index into the command argument the card
// expects, honoring SDSC's byte addressing vs. SDHC/SDXC's block
// addressing (spec.md section 4.1, "Addressing").
func (c *Card) sectorArg(sector uint32) uint32 {
	if c.BlockAddressed {
		return sector
	}
	return sector * BlockSize
}
