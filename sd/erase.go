package sd

import "github.com/dargueta/libresd"

// Erase issues CMD32 (erase start), CMD33 (erase end), and CMD38 (erase
// execute) over [startSector, endSector], then busy-waits with the
// (substantially longer) erase timeout budget.
func (c *Card) Erase(startSector, endSector uint32) error {
	if !c.ready {
		return libresd.New(libresd.ErrNotMounted)
	}
	if libresd.IsWriteProtected(c.hal) {
		return libresd.New(libresd.ErrWriteProtected)
	}

	if r1, err := c.cmd(32, c.sectorArg(startSector)); err != nil {
		return libresd.Wrap(libresd.ErrSPI, err)
	} else if r1 != 0x00 {
		return libresd.Newf(libresd.ErrEraseError, "CMD32 returned R1=0x%02X", r1)
	}

	if r1, err := c.cmd(33, c.sectorArg(endSector)); err != nil {
		return libresd.Wrap(libresd.ErrSPI, err)
	} else if r1 != 0x00 {
		return libresd.Newf(libresd.ErrEraseError, "CMD33 returned R1=0x%02X", r1)
	}

	r1, err := c.sendCommand(38, 0)
	if err != nil {
		c.endCommand()
		return libresd.Wrap(libresd.ErrSPI, err)
	}
	if r1 != 0x00 {
		c.endCommand()
		return libresd.Newf(libresd.ErrEraseError, "CMD38 returned R1=0x%02X", r1)
	}

	if err := c.waitBusyRelease(c.cfg.EraseTimeoutMS); err != nil {
		c.endCommand()
		return libresd.New(libresd.ErrEraseError)
	}
	c.endCommand()
	return nil
}
