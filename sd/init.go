package sd

import "github.com/dargueta/libresd"

// Init drives the POWER_UP -> IDLE -> CHECK_V2 -> READY -> CAPACITY ->
// BLOCK_SIZE state machine from spec.md section 4.1 and returns an
// initialized Card. fastHz, if zero, falls back to cfg.SPIFastHz.
func Init(hal libresd.HAL, cfg libresd.Config, fastHz uint32) (*Card, error) {
	cfg = cfg.WithDefaults()

	if !libresd.CardPresent(hal) {
		return nil, libresd.New(libresd.ErrNoCard)
	}

	c := &Card{hal: hal, cfg: cfg}

	actualHz, err := hal.SPIInit(cfg.SPIInitHz)
	if err != nil {
		return nil, libresd.Wrap(libresd.ErrSPI, err)
	}
	c.CurrentHz = actualHz

	// POWER_UP -> IDLE: >= 74 clock pulses with CS deasserted, then CMD0.
	hal.DelayMS(10)
	if err := c.sendClocks(80); err != nil {
		return nil, libresd.Wrap(libresd.ErrSPI, err)
	}

	r1, err := c.cmd(0, 0)
	if err != nil {
		return nil, libresd.Wrap(libresd.ErrSPI, err)
	}
	if r1 != r1InIdleState {
		return nil, libresd.Newf(libresd.ErrInitFailed, "CMD0 returned R1=0x%02X", r1)
	}

	// IDLE -> CHECK_V2: CMD8 tentatively tags SDv1 vs SDv2.
	r1, err = c.sendCommand(8, 0x1AA)
	if err != nil {
		c.endCommand()
		return nil, libresd.Wrap(libresd.ErrSPI, err)
	}
	switch {
	case r1 == r1InIdleState:
		echo, err := c.readTrailer(4)
		c.endCommand()
		if err != nil {
			return nil, libresd.Wrap(libresd.ErrSPI, err)
		}
		if echo[2] != 0x01 || echo[3] != 0xAA {
			return nil, libresd.New(libresd.ErrVoltage)
		}
		c.Type = CardSDv2
	case r1&r1IllegalCommand != 0:
		c.endCommand()
		c.Type = CardSDv1
	default:
		c.endCommand()
		return nil, libresd.Newf(libresd.ErrInitFailed, "CMD8 returned R1=0x%02X", r1)
	}

	// CHECK_V2 -> READY: poll ACMD41 (HCS set iff SDv2) until R1==0,
	// falling back to CMD1 for MMC if ACMD41 is illegal.
	start := hal.NowMS()
	acmd41Arg := uint32(0)
	if c.Type == CardSDv2 {
		acmd41Arg = 0x40000000
	}
	for {
		r1, err = c.acmd(41, acmd41Arg)
		if err != nil {
			return nil, libresd.Wrap(libresd.ErrSPI, err)
		}
		if r1 == 0x00 {
			break
		}
		if r1&r1IllegalCommand != 0 {
			r1, err = c.cmd(1, 0)
			if err != nil {
				return nil, libresd.Wrap(libresd.ErrSPI, err)
			}
			if r1 == 0x00 {
				c.Type = CardMMC
				break
			}
		}
		if libresd.Expired(hal.NowMS(), start, cfg.InitTimeoutMS) {
			return nil, libresd.New(libresd.ErrTimeout)
		}
		hal.DelayMS(1)
	}

	// READY -> CAPACITY: CMD58 OCR/CCS check upgrades SDv2 -> SDHC.
	if c.Type == CardSDv2 {
		r1, err = c.sendCommand(58, 0)
		if err != nil {
			c.endCommand()
			return nil, libresd.Wrap(libresd.ErrSPI, err)
		}
		if r1 == 0x00 {
			ocrBytes, err := c.readTrailer(4)
			c.endCommand()
			if err != nil {
				return nil, libresd.Wrap(libresd.ErrSPI, err)
			}
			ocr := uint32(ocrBytes[0])<<24 | uint32(ocrBytes[1])<<16 | uint32(ocrBytes[2])<<8 | uint32(ocrBytes[3])
			if ocr&0x40000000 != 0 { // CCS bit
				c.Type = CardSDHC
				c.BlockAddressed = true
			}
		} else {
			c.endCommand()
		}
	}

	// CAPACITY -> BLOCK_SIZE: byte-addressed cards must fix the block
	// size with CMD16.
	if !c.BlockAddressed {
		if _, err := c.cmd(16, BlockSize); err != nil {
			return nil, libresd.Wrap(libresd.ErrSPI, err)
		}
	}

	if err := c.readCSD(); err != nil {
		return nil, err
	}
	if err := c.readCID(); err != nil {
		return nil, err
	}

	if c.Capacity > 32*1024*1024*1024 {
		c.Type = CardSDXC
	}

	target := fastHz
	if target == 0 {
		target = cfg.SPIFastHz
	}
	if target > cfg.SPIMaxHz {
		target = cfg.SPIMaxHz
	}
	actualHz, err = hal.SPIInit(target)
	if err != nil {
		return nil, libresd.Wrap(libresd.ErrSPI, err)
	}
	c.CurrentHz = actualHz

	c.ready = true
	return c, nil
}

// sendClocks ships count dummy 0xFF bytes with CS deasserted, the wakeup
// clocking required before CMD0.
func (c *Card) sendClocks(count int) error {
	if err := c.hal.CSDeassert(); err != nil {
		return err
	}
	buf := make([]byte, count)
	for i := range buf {
		buf[i] = 0xFF
	}
	return c.hal.SPITransferBulk(buf, nil)
}

// readCSD issues CMD9, waits for the single-block data token, and parses
// capacity from CSD v1 or v2 layout (spec.md section 4.1 step 6).
func (c *Card) readCSD() error {
	r1, err := c.sendCommand(9, 0)
	if err != nil {
		c.endCommand()
		return libresd.Wrap(libresd.ErrSPI, err)
	}
	if r1 != 0x00 {
		c.endCommand()
		return libresd.Newf(libresd.ErrInitFailed, "CMD9 returned R1=0x%02X", r1)
	}
	token, err := c.waitToken(c.cfg.ReadTimeoutMS)
	if err != nil {
		c.endCommand()
		return err
	}
	if token != tokenSingle {
		c.endCommand()
		return libresd.New(libresd.ErrTimeout)
	}
	if err := c.hal.SPITransferBulk(nil, c.CSD[:]); err != nil {
		c.endCommand()
		return libresd.Wrap(libresd.ErrSPI, err)
	}
	c.discardCRC()
	c.endCommand()

	csdVer := (c.CSD[0] >> 6) & 0x03
	if csdVer == 0 {
		cSize := uint32(c.CSD[6]&0x03)<<10 | uint32(c.CSD[7])<<2 | uint32(c.CSD[8]>>6)&0x03
		cMult := uint32(c.CSD[9]&0x03)<<1 | uint32(c.CSD[10]>>7)&0x01
		readBL := uint32(c.CSD[5] & 0x0F)
		c.SectorCount = (cSize + 1) << (cMult + 2 + readBL - 9)
	} else {
		cSize := uint32(c.CSD[7]&0x3F)<<16 | uint32(c.CSD[8])<<8 | uint32(c.CSD[9])
		c.SectorCount = (cSize + 1) * 1024
	}
	c.Capacity = uint64(c.SectorCount) * BlockSize
	return nil
}

// readCID issues CMD10 and reads the 16-byte CID register.
func (c *Card) readCID() error {
	r1, err := c.sendCommand(10, 0)
	if err != nil {
		c.endCommand()
		return libresd.Wrap(libresd.ErrSPI, err)
	}
	if r1 != 0x00 {
		c.endCommand()
		return nil // CID is informational; tolerate a card that refuses it.
	}
	token, err := c.waitToken(c.cfg.ReadTimeoutMS)
	if err != nil || token != tokenSingle {
		c.endCommand()
		return nil
	}
	if err := c.hal.SPITransferBulk(nil, c.CID[:]); err != nil {
		c.endCommand()
		return libresd.Wrap(libresd.ErrSPI, err)
	}
	c.discardCRC()
	c.endCommand()
	return nil
}

func (c *Card) discardCRC() {
	_, _ = c.hal.SPITransferByte(0xFF)
	_, _ = c.hal.SPITransferByte(0xFF)
}
