package libresd

// Config carries the tunables the original LibreSD implementation exposes
// as compile-time #defines (libresd_config.h): SPI speeds and the
// per-operation timeout budgets spec.md section 5 requires every blocking
// wait to be bounded by.
type Config struct {
	// SPIInitHz is the clock used during the POWER_UP/IDLE handshake.
	// The SD specification requires <= 400 kHz here.
	SPIInitHz uint32

	// SPIFastHz is the clock requested once initialization completes.
	SPIFastHz uint32

	// SPIMaxHz clamps SPIFastHz (and any caller-supplied fast speed).
	SPIMaxHz uint32

	// InitTimeoutMS bounds the ACMD41/CMD1 ready-polling loop.
	InitTimeoutMS uint32

	// ReadTimeoutMS bounds waiting for a data token during a block read.
	ReadTimeoutMS uint32

	// WriteTimeoutMS bounds waiting for the busy signal to clear after a
	// block write.
	WriteTimeoutMS uint32

	// EraseTimeoutMS bounds waiting for an erase command to complete.
	EraseTimeoutMS uint32

	// DisableAllocatorHintCache disables the go-bitmap-backed "known
	// free cluster" fast path in the allocator (see fat/alloc.go),
	// forcing every allocation through a plain linear FAT scan. Useful
	// for tests that want to exercise the slow path deterministically.
	DisableAllocatorHintCache bool
}

// DefaultConfig returns the tunables libresd_config.h ships with.
func DefaultConfig() Config {
	return Config{
		SPIInitHz:      400_000,
		SPIFastHz:      4_000_000,
		SPIMaxHz:       25_000_000,
		InitTimeoutMS:  1000,
		ReadTimeoutMS:  200,
		WriteTimeoutMS: 500,
		EraseTimeoutMS: 30_000,
	}
}

// WithDefaults fills any zero-valued field of cfg with the library
// default. It returns a new Config; the receiver is left untouched.
func (cfg Config) WithDefaults() Config {
	def := DefaultConfig()
	if cfg.SPIInitHz == 0 {
		cfg.SPIInitHz = def.SPIInitHz
	}
	if cfg.SPIFastHz == 0 {
		cfg.SPIFastHz = def.SPIFastHz
	}
	if cfg.SPIMaxHz == 0 {
		cfg.SPIMaxHz = def.SPIMaxHz
	}
	if cfg.InitTimeoutMS == 0 {
		cfg.InitTimeoutMS = def.InitTimeoutMS
	}
	if cfg.ReadTimeoutMS == 0 {
		cfg.ReadTimeoutMS = def.ReadTimeoutMS
	}
	if cfg.WriteTimeoutMS == 0 {
		cfg.WriteTimeoutMS = def.WriteTimeoutMS
	}
	if cfg.EraseTimeoutMS == 0 {
		cfg.EraseTimeoutMS = def.EraseTimeoutMS
	}
	if cfg.SPIFastHz > cfg.SPIMaxHz {
		cfg.SPIFastHz = cfg.SPIMaxHz
	}
	return cfg
}

// ElapsedMS returns the number of milliseconds that have passed since
// start, using modular (wraparound-safe) subtraction as spec.md section 5
// requires: "implementations should use modular subtraction" to tolerate
// the ~49-day rollover of a free-running uint32 millisecond counter.
func ElapsedMS(now, start uint32) uint32 {
	return now - start
}

// Expired reports whether budgetMS milliseconds have elapsed since start,
// given the current time now. All three are free-running uint32
// millisecond counters.
func Expired(now, start, budgetMS uint32) bool {
	return ElapsedMS(now, start) >= budgetMS
}
