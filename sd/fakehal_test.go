package sd_test

import (
	"io"

	"github.com/xaionaro-go/bytesextra"
)

// fakeHAL is an in-memory HAL test double. It backs the simulated card's
// sector storage with a flat byte slice wrapped by bytesextra as an
// io.ReadWriteSeeker (grounded on dargueta-disko/testing/images.go's use
// of the same library for in-memory disk-image fixtures), and answers SD
// SPI commands with scripted responses so the real command-framing,
// init, and single-block I/O code in this package is driven end to end
// without real hardware.
//
// Multi-block transfers (CMD18/CMD25) are intentionally not emulated
// here; this double covers Init, single-sector read/write, and erase,
// which exercise the framing, CRC7, token, and busy-wait logic that
// matters. CMD12 is accepted but not otherwise modeled.
type fakeHAL struct {
	image     io.ReadWriteSeeker
	imageLen  int
	blockAddr bool
	protect   bool
	clockMS   uint32

	frame      []byte
	collecting bool
	post       []byte
	postIdx    int

	writeTarget  uint32
	writeCapture []byte
	writePhase   int // 0=idle 1=leadByte 2=token 3=data 4=crc 5=response 6=busy
	crcLeft      int
}

func newFakeHAL(sectorCount uint32, blockAddr bool) *fakeHAL {
	n := int(sectorCount) * 512
	return &fakeHAL{
		image:     bytesextra.NewReadWriteSeeker(make([]byte, n)),
		imageLen:  n,
		blockAddr: blockAddr,
	}
}

// readSector reads BlockSize bytes at the given sector from the backing
// image, seeking first since the same ReadWriteSeeker also services
// writeSector calls at arbitrary offsets.
func (h *fakeHAL) readSector(sector uint32) []byte {
	buf := make([]byte, 512)
	if _, err := h.image.Seek(int64(sector)*512, io.SeekStart); err != nil {
		return buf
	}
	_, _ = io.ReadFull(h.image, buf)
	return buf
}

func (h *fakeHAL) writeSector(sector uint32, data []byte) {
	if _, err := h.image.Seek(int64(sector)*512, io.SeekStart); err != nil {
		return
	}
	_, _ = h.image.Write(data)
}

func (h *fakeHAL) SPIInit(speedHz uint32) (uint32, error) { return speedHz, nil }
func (h *fakeHAL) DelayMS(ms uint32)                       {}
func (h *fakeHAL) NowMS() uint32                           { h.clockMS++; return h.clockMS }
func (h *fakeHAL) CardDetect() bool                        { return true }
func (h *fakeHAL) WriteProtect() bool                      { return h.protect }

func (h *fakeHAL) CSAssert() error {
	h.frame = h.frame[:0]
	h.collecting = true
	h.post = nil
	h.postIdx = 0
	h.writePhase = 0
	return nil
}

func (h *fakeHAL) CSDeassert() error {
	if len(h.writeCapture) == 512 {
		h.writeSector(h.writeTarget, h.writeCapture)
	}
	h.writeCapture = nil
	return nil
}

func (h *fakeHAL) SPITransferByte(tx byte) (byte, error) {
	return h.step(tx), nil
}

func (h *fakeHAL) SPITransferBulk(tx, rx []byte) error {
	n := len(rx)
	if tx != nil {
		n = len(tx)
	}
	for i := 0; i < n; i++ {
		out := byte(0xFF)
		if tx != nil {
			out = tx[i]
		}
		in := h.step(out)
		if rx != nil {
			rx[i] = in
		}
	}
	return nil
}

func (h *fakeHAL) step(tx byte) byte {
	if h.collecting {
		h.frame = append(h.frame, tx)
		if len(h.frame) == 6 {
			h.collecting = false
			h.decodeFrame()
		}
		return 0xFF
	}

	if h.writePhase != 0 {
		return h.stepWrite(tx)
	}

	if h.postIdx < len(h.post) {
		b := h.post[h.postIdx]
		h.postIdx++
		return b
	}
	return 0xFF
}

func (h *fakeHAL) decodeFrame() {
	cmd := h.frame[0] &^ 0x40
	arg := uint32(h.frame[1])<<24 | uint32(h.frame[2])<<16 | uint32(h.frame[3])<<8 | uint32(h.frame[4])

	switch cmd {
	case 0:
		h.post = []byte{0x01}
	case 8:
		h.post = append([]byte{0x01}, byte(arg>>24), byte(arg>>16), byte(arg>>8), byte(arg))
	case 55:
		h.post = []byte{0x01}
	case 41:
		h.post = []byte{0x00}
	case 58:
		ocr := uint32(0)
		if h.blockAddr {
			ocr = 0x40000000
		}
		h.post = append([]byte{0x00}, byte(ocr>>24), byte(ocr>>16), byte(ocr>>8), byte(ocr))
	case 16:
		h.post = []byte{0x00}
	case 9:
		csd := make([]byte, 16)
		// CSD v2 (SDHC-style): report a capacity matching len(image),
		// rounded down to whole 512KiB units but never below one unit, so
		// tiny test images don't underflow the C_SIZE field.
		units := uint32(h.imageLen / (512 * 1024))
		if units == 0 {
			units = 1
		}
		cSize := units - 1
		csd[0] = 0x40 // CSD_STRUCTURE = 1
		csd[7] = byte(cSize >> 16 & 0x3F)
		csd[8] = byte(cSize >> 8)
		csd[9] = byte(cSize)
		h.post = append(append([]byte{0x00, 0xFE}, csd...), 0xFF, 0xFF)
	case 10:
		cid := make([]byte, 16)
		h.post = append(append([]byte{0x00, 0xFE}, cid...), 0xFF, 0xFF)
	case 17:
		sector := arg
		if !h.blockAddr {
			sector = arg / 512
		}
		data := h.readSector(sector)
		h.post = append(append([]byte{0x00, 0xFE}, data...), 0xFF, 0xFF)
	case 24:
		sector := arg
		if !h.blockAddr {
			sector = arg / 512
		}
		h.writeTarget = sector
		h.writeCapture = make([]byte, 0, 512)
		h.post = []byte{0x00}
		// After R1 is consumed, the next bytes are host-driven (lead byte,
		// token, data, crc); stepWrite takes over once post is drained.
		h.writePhase = 1
	case 12, 32, 33, 38:
		h.post = []byte{0x00}
	default:
		h.post = []byte{0x00}
	}
}

// stepWrite consumes the host-driven byte stream for a CMD24 write:
// one lead 0xFF, the data token, 512 bytes of payload (captured), 2 dummy
// CRC bytes, then it must answer with the accepted data-response and,
// afterwards, an immediate busy-release (0xFF).
func (h *fakeHAL) stepWrite(tx byte) byte {
	// Let the R1 byte (in h.post) drain first.
	if h.postIdx < len(h.post) {
		b := h.post[h.postIdx]
		h.postIdx++
		return b
	}

	switch h.writePhase {
	case 1: // lead 0xFF
		h.writePhase = 2
		return 0xFF
	case 2: // data token
		h.writePhase = 3
		return 0xFF
	case 3: // 512 data bytes
		h.writeCapture = append(h.writeCapture, tx)
		if len(h.writeCapture) == 512 {
			h.writePhase = 4
			h.crcLeft = 2
		}
		return 0xFF
	case 4: // 2 dummy CRC bytes
		h.crcLeft--
		if h.crcLeft == 0 {
			h.writePhase = 5
		}
		return 0xFF
	case 5: // data response
		h.writePhase = 6
		return 0x05
	default: // busy poll: never busy in this fake
		return 0xFF
	}
}
