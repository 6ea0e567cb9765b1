package libresd

// HAL is the hardware-abstraction boundary the core requires from the
// platform integrator. It intentionally exposes only byte-level SPI
// transfer, chip-select control, a millisecond clock, and a handful of
// optional capability hints — everything else (pin muxing, SPI peripheral
// setup, interrupt handling) stays outside the core.
//
// Implementations are passed in explicitly to Init/Mount; the core never
// reaches for a global or weak-symbol HAL.
type HAL interface {
	// SPIInit configures the SPI peripheral for the requested clock speed
	// and returns the speed actually achieved (hardware dividers rarely
	// hit the target exactly).
	SPIInit(speedHz uint32) (actualHz uint32, err error)

	// SPITransferByte shifts one byte out and returns the byte shifted in,
	// full duplex.
	SPITransferByte(tx byte) (rx byte, err error)

	// SPITransferBulk shifts len(tx) (or len(rx), if tx is nil) bytes.
	// A nil tx implies sending 0xFF for every byte. A nil rx discards the
	// received bytes. Exactly one of tx/rx may be nil, never both with a
	// zero length.
	SPITransferBulk(tx, rx []byte) error

	// CSAssert pulls chip-select low (selects the card).
	CSAssert() error

	// CSDeassert pulls chip-select high (deselects the card).
	CSDeassert() error

	// DelayMS blocks the caller for roughly the given number of
	// milliseconds.
	DelayMS(ms uint32)

	// NowMS returns a free-running millisecond counter. Callers compare
	// two readings with modular subtraction to tolerate wraparound.
	NowMS() uint32
}

// CardDetector is an optional HAL capability. A HAL that does not
// implement it is treated as "card always present".
type CardDetector interface {
	CardDetect() bool
}

// WriteProtectSensor is an optional HAL capability. A HAL that does not
// implement it is treated as "never write protected".
type WriteProtectSensor interface {
	WriteProtect() bool
}

// DateTimeSource is an optional HAL capability supplying timestamps for
// directory-entry creation/modification/access fields. A HAL that does not
// implement it causes the core to stamp entries with the FAT epoch
// (1980-01-01 00:00:00).
type DateTimeSource interface {
	DateTime() DateTime
}

// DateTime is a HAL-supplied wall-clock reading with the 2-second
// resolution FAT timestamps actually store.
type DateTime struct {
	Year   int // 1980-2107
	Month  int // 1-12
	Day    int // 1-31
	Hour   int // 0-23
	Minute int // 0-59
	Second int // 0-59, truncated to an even number on encode
}

// CardPresent reports whether hal implements CardDetector and, if so,
// what it says; otherwise it reports true.
func CardPresent(hal HAL) bool {
	if cd, ok := hal.(CardDetector); ok {
		return cd.CardDetect()
	}
	return true
}

// IsWriteProtected reports whether hal implements WriteProtectSensor and,
// if so, what it says; otherwise it reports false.
func IsWriteProtected(hal HAL) bool {
	if wp, ok := hal.(WriteProtectSensor); ok {
		return wp.WriteProtect()
	}
	return false
}

// Now returns hal's DateTime if it implements DateTimeSource, otherwise
// the FAT epoch.
func Now(hal HAL) DateTime {
	if ds, ok := hal.(DateTimeSource); ok {
		return ds.DateTime()
	}
	return DateTime{Year: 1980, Month: 1, Day: 1}
}
