package sd

import "github.com/dargueta/libresd"

// R1 status bits (spec.md section 4.1 / section 6 "R1").
const (
	r1InIdleState     = 0x01
	r1IllegalCommand  = 0x04
	r1ParamError      = 0x40
	r1ErrorMask       = 0xFE // everything except the idle bit
)

// crc7 computes the SD command CRC7 over data (the first five bytes of a
// command frame), polynomial x^7+x^3+1, then shifts the result left one
// and ORs in the stop bit -- bit-exact with the original's sd_crc7.
func crc7(data []byte) byte {
	var crc byte
	for _, d := range data {
		for bit := 0; bit < 8; bit++ {
			crc <<= 1
			if ((d ^ crc) & 0x80) != 0 {
				crc ^= 0x09
			}
			d <<= 1
		}
	}
	return (crc << 1) | 1
}

// buildFrame assembles the 6-byte command frame: 0x40|cmd, 4-byte
// big-endian argument, CRC7.
func buildFrame(cmd byte, arg uint32) [6]byte {
	var frame [6]byte
	frame[0] = 0x40 | cmd
	frame[1] = byte(arg >> 24)
	frame[2] = byte(arg >> 16)
	frame[3] = byte(arg >> 8)
	frame[4] = byte(arg)
	frame[5] = crc7(frame[:5])
	return frame
}

// sendCommand asserts CS, shifts out the command frame, and polls up to 8
// bytes for an R1 response (the first byte with bit 7 clear). It does not
// deassert CS -- callers that need to read trailing response bytes (R7,
// R3, CSD/CID data, block data) do so before calling endCommand.
func (c *Card) sendCommand(cmd byte, arg uint32) (r1 byte, err error) {
	if err = c.hal.CSAssert(); err != nil {
		return 0, err
	}
	frame := buildFrame(cmd, arg)
	for _, b := range frame {
		if _, err = c.hal.SPITransferByte(b); err != nil {
			return 0, err
		}
	}
	for i := 0; i < 8; i++ {
		if r1, err = c.hal.SPITransferByte(0xFF); err != nil {
			return 0, err
		}
		if r1&0x80 == 0 {
			return r1, nil
		}
	}
	return r1, nil
}

// endCommand deasserts CS and ships one idle byte, as every command (or
// command-data pair) must per spec.md section 4.1's chip-select
// discipline, including on every failure path.
func (c *Card) endCommand() {
	_ = c.hal.CSDeassert()
	_, _ = c.hal.SPITransferByte(0xFF)
}

// cmd runs a bare command to completion: send, read R1, deassert CS.
func (c *Card) cmd(index byte, arg uint32) (byte, error) {
	r1, err := c.sendCommand(index, arg)
	c.endCommand()
	return r1, err
}

// acmd sends CMD55 (APP_CMD) followed by the requested application
// command. If CMD55's R1 carries any error bit other than the idle bit,
// the ACMD is never attempted, per spec.md section 4.1.
func (c *Card) acmd(index byte, arg uint32) (byte, error) {
	r1, err := c.cmd(55, 0)
	if err != nil {
		return 0, err
	}
	if r1&r1ErrorMask != 0 {
		return r1, nil
	}
	return c.cmd(index, arg)
}

// readTrailer reads the n response bytes that follow a command's R1
// (already read by sendCommand), such as CMD8's R7 echo or CMD58's OCR,
// without deasserting CS.
func (c *Card) readTrailer(n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := c.hal.SPITransferBulk(nil, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func cmdFailed(r1 byte) error {
	return &r1Error{r1: r1}
}

// r1Error retains the raw R1 byte for diagnostic logging, per spec.md
// section 4.1's "Failures" and section 9's "Error channels" note that a
// sum-type payload is acceptable as long as external semantics (a single
// Kind) are preserved.
type r1Error struct {
	r1 byte
}

func (e *r1Error) Error() string {
	return "command failed, R1=0x" + hexByte(e.r1)
}

func hexByte(b byte) string {
	const digits = "0123456789ABCDEF"
	return string([]byte{digits[b>>4], digits[b&0x0F]})
}

// asLibresdError wraps err (if non-nil) as an *libresd.Error of the given
// kind, preserving it (an r1Error's R1 byte included) as the cause.
func asLibresdError(kind libresd.Kind, err error) *libresd.Error {
	if err == nil {
		return libresd.New(kind)
	}
	return libresd.Wrap(kind, err)
}
