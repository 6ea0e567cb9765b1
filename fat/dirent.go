package fat

import (
	"encoding/binary"
	"strings"

	"github.com/noxer/bytewriter"

	"github.com/dargueta/libresd"
)

// Directory entry attribute flags (spec.md section 6 / libresd_types.h).
const (
	attrReadOnly  = 0x01
	attrHidden    = 0x02
	attrSystem    = 0x04
	attrVolumeID  = 0x08
	attrDirectory = 0x10
	attrArchive   = 0x20
	attrLFN       = 0x0F
)

const direntSize = 32

// rawDirent is the on-disk layout of one 32-byte short (8.3) directory
// entry, grounded on libresd_fat.h's fat_dirent_t.
type rawDirent struct {
	Name            [11]byte
	Attr            uint8
	NTReserved      uint8
	CreateTimeTenth uint8
	CreateTime      uint16
	CreateDate      uint16
	AccessDate      uint16
	ClusterHi       uint16
	ModifyTime      uint16
	ModifyDate      uint16
	ClusterLo       uint16
	FileSize        uint32
}

func decodeRawDirent(buf []byte) rawDirent {
	var d rawDirent
	copy(d.Name[:], buf[0:11])
	d.Attr = buf[11]
	d.NTReserved = buf[12]
	d.CreateTimeTenth = buf[13]
	d.CreateTime = binary.LittleEndian.Uint16(buf[14:16])
	d.CreateDate = binary.LittleEndian.Uint16(buf[16:18])
	d.AccessDate = binary.LittleEndian.Uint16(buf[18:20])
	d.ClusterHi = binary.LittleEndian.Uint16(buf[20:22])
	d.ModifyTime = binary.LittleEndian.Uint16(buf[22:24])
	d.ModifyDate = binary.LittleEndian.Uint16(buf[24:26])
	d.ClusterLo = binary.LittleEndian.Uint16(buf[26:28])
	d.FileSize = binary.LittleEndian.Uint32(buf[28:32])
	return d
}

// encode serializes d into buf (which must be exactly direntSize long)
// using a bytewriter.Writer, grounded on the unixv1 formatter's use of
// the same library for sequential fixed-buffer field writes.
func (d rawDirent) encode(buf []byte) {
	w := bytewriter.New(buf)
	_, _ = w.Write(d.Name[:])
	_, _ = w.Write([]byte{d.Attr, d.NTReserved, d.CreateTimeTenth})
	_ = binary.Write(w, binary.LittleEndian, d.CreateTime)
	_ = binary.Write(w, binary.LittleEndian, d.CreateDate)
	_ = binary.Write(w, binary.LittleEndian, d.AccessDate)
	_ = binary.Write(w, binary.LittleEndian, d.ClusterHi)
	_ = binary.Write(w, binary.LittleEndian, d.ModifyTime)
	_ = binary.Write(w, binary.LittleEndian, d.ModifyDate)
	_ = binary.Write(w, binary.LittleEndian, d.ClusterLo)
	_ = binary.Write(w, binary.LittleEndian, d.FileSize)
}

// encodeName83 converts name into an 11-byte 8.3 field: uppercased,
// space-padded, partitioned at the last dot. A literal 0xE5 first byte
// (which means "deleted") is aliased to 0x05.
func encodeName83(name string) ([11]byte, error) {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}

	name = strings.TrimLeft(name, ". ")
	if name == "" {
		return out, libresd.New(libresd.ErrInvalidName)
	}

	base := name
	ext := ""
	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		base = name[:dot]
		ext = name[dot+1:]
	}

	bi := 0
	for _, r := range strings.ToUpper(base) {
		if bi >= 8 {
			break
		}
		if r == ' ' || r == '.' {
			continue
		}
		out[bi] = byte(r)
		bi++
	}
	if bi == 0 {
		return out, libresd.New(libresd.ErrInvalidName)
	}

	ei := 0
	for _, r := range strings.ToUpper(ext) {
		if ei >= 3 {
			break
		}
		out[8+ei] = byte(r)
		ei++
	}

	if out[0] == 0xE5 {
		out[0] = 0x05
	}
	return out, nil
}

// lowerASCII lowercases only plain ASCII letters, leaving every other
// byte untouched. A name byte can be the 0xE5 alias or another code-page
// character that strings.ToLower would otherwise reinterpret as part of
// a multi-byte UTF-8 sequence.
func lowerASCII(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}

// decodeName83 renders an 11-byte 8.3 field as a lowercase display name,
// reversing the 0x05/0xE5 alias.
func decodeName83(raw [11]byte) string {
	first := raw[0]
	if first == 0x05 {
		first = 0xE5
	}

	nameBytes := append([]byte{first}, raw[1:8]...)
	base := strings.TrimRight(string(lowerASCII(nameBytes)), " ")
	ext := strings.TrimRight(string(lowerASCII(raw[8:11])), " ")

	if ext == "" {
		return base
	}
	return base + "." + ext
}

func nameMatches83(raw [11]byte, name string) bool {
	enc, err := encodeName83(name)
	if err != nil {
		return false
	}
	return enc == raw
}

func dotName() [11]byte {
	var n [11]byte
	for i := range n {
		n[i] = ' '
	}
	n[0] = '.'
	return n
}

func dotDotName() [11]byte {
	var n [11]byte
	for i := range n {
		n[i] = ' '
	}
	n[0], n[1] = '.', '.'
	return n
}

// LFN slot layout (spec.md section 3): sequence number + "last" flag in
// byte 0, then 13 UCS-2 code units at offsets 1, 14, and 28.
const (
	lfnLastFlag = 0x40
	lfnSeqMask  = 0x1F
)

type lfnSlot struct {
	seq   byte
	last  bool
	chars [13]uint16
}

func decodeLFNSlot(buf []byte) lfnSlot {
	var s lfnSlot
	s.seq = buf[0] & lfnSeqMask
	s.last = buf[0]&lfnLastFlag != 0

	idx := 0
	for i := 0; i < 5; i++ {
		s.chars[idx] = binary.LittleEndian.Uint16(buf[1+i*2 : 3+i*2])
		idx++
	}
	for i := 0; i < 6; i++ {
		s.chars[idx] = binary.LittleEndian.Uint16(buf[14+i*2 : 16+i*2])
		idx++
	}
	for i := 0; i < 2; i++ {
		s.chars[idx] = binary.LittleEndian.Uint16(buf[28+i*2 : 30+i*2])
		idx++
	}
	return s
}

// lfnAccumulator assembles LFN slots (which precede the 8.3 slot they
// describe, highest sequence number first) into a display name. It is
// reset on any deleted entry or volume-ID entry, per spec.md section 4.3.
type lfnAccumulator struct {
	buf   [260]uint16
	valid bool
}

func (a *lfnAccumulator) reset() {
	*a = lfnAccumulator{}
}

func (a *lfnAccumulator) add(slot lfnSlot) {
	if slot.last {
		a.reset()
		a.valid = true
	}
	if !a.valid {
		return
	}
	base := (int(slot.seq) - 1) * 13
	if base < 0 || base+13 > len(a.buf) {
		a.valid = false
		return
	}
	copy(a.buf[base:base+13], slot.chars[:])
}

func (a *lfnAccumulator) string() (string, bool) {
	if !a.valid {
		return "", false
	}
	var runes []rune
	for _, c := range a.buf {
		if c == 0 || c == 0xFFFF {
			break
		}
		runes = append(runes, rune(c))
	}
	return string(runes), len(runes) > 0
}
