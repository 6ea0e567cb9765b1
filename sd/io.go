package sd

import "github.com/dargueta/libresd"

// Data tokens (spec.md section 4.1 / section 6).
const (
	tokenSingle  = 0xFE
	tokenMultiW  = 0xFC
	tokenStopW   = 0xFD
)

const dataResponseMask = 0x1F
const dataResponseAccepted = 0x05

// waitToken polls MISO for a non-0xFF byte (a data token, or an error
// token with bits set) within the given timeout budget.
func (c *Card) waitToken(timeoutMS uint32) (byte, error) {
	start := c.hal.NowMS()
	for {
		b, err := c.hal.SPITransferByte(0xFF)
		if err != nil {
			return 0, libresd.Wrap(libresd.ErrSPI, err)
		}
		if b != 0xFF {
			return b, nil
		}
		if libresd.Expired(c.hal.NowMS(), start, timeoutMS) {
			return 0xFF, libresd.New(libresd.ErrTimeout)
		}
	}
}

// waitBusyRelease polls MISO until it reads 0xFF (the card no longer
// holds the line low), within the given timeout budget.
func (c *Card) waitBusyRelease(timeoutMS uint32) error {
	start := c.hal.NowMS()
	for {
		b, err := c.hal.SPITransferByte(0xFF)
		if err != nil {
			return libresd.Wrap(libresd.ErrSPI, err)
		}
		if b == 0xFF {
			return nil
		}
		if libresd.Expired(c.hal.NowMS(), start, timeoutMS) {
			return libresd.New(libresd.ErrTimeout)
		}
	}
}

// ReadSector reads exactly BlockSize bytes from the given sector into buf
// (which must be at least BlockSize long) using CMD17.
func (c *Card) ReadSector(sector uint32, buf []byte) error {
	if !c.ready {
		return libresd.New(libresd.ErrNotMounted)
	}
	if len(buf) < BlockSize {
		return libresd.New(libresd.ErrInvalidParameter)
	}

	r1, err := c.sendCommand(17, c.sectorArg(sector))
	if err != nil {
		c.endCommand()
		c.ErrorCount++
		return libresd.Wrap(libresd.ErrSPI, err)
	}
	if r1 != 0x00 {
		c.endCommand()
		c.ErrorCount++
		return libresd.Newf(libresd.ErrCommandFailed, "CMD17 returned R1=0x%02X", r1)
	}

	token, err := c.waitToken(c.cfg.ReadTimeoutMS)
	if err != nil {
		c.endCommand()
		c.ErrorCount++
		return err
	}
	if token != tokenSingle {
		c.endCommand()
		c.ErrorCount++
		return libresd.New(libresd.ErrReadError)
	}

	if err := c.hal.SPITransferBulk(nil, buf[:BlockSize]); err != nil {
		c.endCommand()
		c.ErrorCount++
		return libresd.Wrap(libresd.ErrSPI, err)
	}
	c.discardCRC()
	c.endCommand()
	c.ReadCount++
	return nil
}

// ReadSectors reads count consecutive sectors into buf (count*BlockSize
// bytes) starting at sector. count==1 delegates to ReadSector; otherwise
// it uses CMD18 multi-block read terminated by CMD12.
func (c *Card) ReadSectors(sector uint32, buf []byte, count uint32) error {
	if count == 0 {
		return libresd.New(libresd.ErrInvalidParameter)
	}
	if count == 1 {
		return c.ReadSector(sector, buf)
	}
	if !c.ready {
		return libresd.New(libresd.ErrNotMounted)
	}
	if uint32(len(buf)) < count*BlockSize {
		return libresd.New(libresd.ErrInvalidParameter)
	}

	r1, err := c.sendCommand(18, c.sectorArg(sector))
	if err != nil {
		c.endCommand()
		return libresd.Wrap(libresd.ErrSPI, err)
	}
	if r1 != 0x00 {
		c.endCommand()
		return libresd.Newf(libresd.ErrCommandFailed, "CMD18 returned R1=0x%02X", r1)
	}

	var opErr error
	for i := uint32(0); i < count; i++ {
		token, err := c.waitToken(c.cfg.ReadTimeoutMS)
		if err != nil {
			opErr = err
			break
		}
		if token != tokenSingle {
			opErr = libresd.New(libresd.ErrReadError)
			break
		}
		chunk := buf[i*BlockSize : (i+1)*BlockSize]
		if err := c.hal.SPITransferBulk(nil, chunk); err != nil {
			opErr = libresd.Wrap(libresd.ErrSPI, err)
			break
		}
		c.discardCRC()
		c.ReadCount++
	}

	// CMD12 stop transmission, then wait for the card to release MISO.
	_, _ = c.cmd(12, 0)
	_ = c.waitBusyRelease(c.cfg.ReadTimeoutMS)

	if opErr != nil {
		c.ErrorCount++
	}
	return opErr
}

// WriteSector writes exactly BlockSize bytes from buf to the given sector
// using CMD24. Enforces write-protect per spec.md section 4.1.
func (c *Card) WriteSector(sector uint32, buf []byte) error {
	if !c.ready {
		return libresd.New(libresd.ErrNotMounted)
	}
	if libresd.IsWriteProtected(c.hal) {
		return libresd.New(libresd.ErrWriteProtected)
	}
	if len(buf) < BlockSize {
		return libresd.New(libresd.ErrInvalidParameter)
	}

	r1, err := c.sendCommand(24, c.sectorArg(sector))
	if err != nil {
		c.endCommand()
		c.ErrorCount++
		return libresd.Wrap(libresd.ErrSPI, err)
	}
	if r1 != 0x00 {
		c.endCommand()
		c.ErrorCount++
		return libresd.Newf(libresd.ErrCommandFailed, "CMD24 returned R1=0x%02X", r1)
	}

	if _, err := c.hal.SPITransferByte(0xFF); err != nil {
		c.endCommand()
		return libresd.Wrap(libresd.ErrSPI, err)
	}
	if _, err := c.hal.SPITransferByte(tokenSingle); err != nil {
		c.endCommand()
		return libresd.Wrap(libresd.ErrSPI, err)
	}
	if err := c.hal.SPITransferBulk(buf[:BlockSize], nil); err != nil {
		c.endCommand()
		c.ErrorCount++
		return libresd.Wrap(libresd.ErrSPI, err)
	}
	// Dummy CRC.
	if _, err := c.hal.SPITransferByte(0xFF); err != nil {
		c.endCommand()
		return libresd.Wrap(libresd.ErrSPI, err)
	}
	if _, err := c.hal.SPITransferByte(0xFF); err != nil {
		c.endCommand()
		return libresd.Wrap(libresd.ErrSPI, err)
	}

	resp, err := c.hal.SPITransferByte(0xFF)
	if err != nil {
		c.endCommand()
		return libresd.Wrap(libresd.ErrSPI, err)
	}
	if resp&dataResponseMask != dataResponseAccepted {
		c.endCommand()
		c.ErrorCount++
		return libresd.New(libresd.ErrWriteError)
	}

	if err := c.waitBusyRelease(c.cfg.WriteTimeoutMS); err != nil {
		c.endCommand()
		c.ErrorCount++
		return err
	}

	c.endCommand()
	c.WriteCount++
	return nil
}

// WriteSectors writes count consecutive sectors from buf starting at
// sector. count==1 delegates to WriteSector; otherwise it uses CMD25
// multi-block write pre-allocated with ACMD23 and terminated by the stop
// token.
func (c *Card) WriteSectors(sector uint32, buf []byte, count uint32) error {
	if count == 0 {
		return libresd.New(libresd.ErrInvalidParameter)
	}
	if count == 1 {
		return c.WriteSector(sector, buf)
	}
	if !c.ready {
		return libresd.New(libresd.ErrNotMounted)
	}
	if libresd.IsWriteProtected(c.hal) {
		return libresd.New(libresd.ErrWriteProtected)
	}
	if uint32(len(buf)) < count*BlockSize {
		return libresd.New(libresd.ErrInvalidParameter)
	}

	// ACMD23 pre-allocates the write so the card can erase ahead of time.
	_, _ = c.acmd(23, count)

	r1, err := c.sendCommand(25, c.sectorArg(sector))
	if err != nil {
		c.endCommand()
		return libresd.Wrap(libresd.ErrSPI, err)
	}
	if r1 != 0x00 {
		c.endCommand()
		return libresd.Newf(libresd.ErrCommandFailed, "CMD25 returned R1=0x%02X", r1)
	}

	var opErr error
	for i := uint32(0); i < count; i++ {
		if _, err := c.hal.SPITransferByte(0xFF); err != nil {
			opErr = libresd.Wrap(libresd.ErrSPI, err)
			break
		}
		if _, err := c.hal.SPITransferByte(tokenMultiW); err != nil {
			opErr = libresd.Wrap(libresd.ErrSPI, err)
			break
		}
		chunk := buf[i*BlockSize : (i+1)*BlockSize]
		if err := c.hal.SPITransferBulk(chunk, nil); err != nil {
			opErr = libresd.Wrap(libresd.ErrSPI, err)
			break
		}
		if _, err := c.hal.SPITransferByte(0xFF); err != nil {
			opErr = libresd.Wrap(libresd.ErrSPI, err)
			break
		}
		if _, err := c.hal.SPITransferByte(0xFF); err != nil {
			opErr = libresd.Wrap(libresd.ErrSPI, err)
			break
		}
		resp, err := c.hal.SPITransferByte(0xFF)
		if err != nil {
			opErr = libresd.Wrap(libresd.ErrSPI, err)
			break
		}
		if resp&dataResponseMask != dataResponseAccepted {
			opErr = libresd.New(libresd.ErrWriteError)
			break
		}
		if err := c.waitBusyRelease(c.cfg.WriteTimeoutMS); err != nil {
			opErr = err
			break
		}
		c.WriteCount++
	}

	// Stop token, then wait for the card to finish.
	_, _ = c.hal.SPITransferByte(tokenStopW)
	_, _ = c.hal.SPITransferByte(0xFF)
	_ = c.waitBusyRelease(c.cfg.WriteTimeoutMS)
	c.endCommand()

	if opErr != nil {
		c.ErrorCount++
	}
	return opErr
}
